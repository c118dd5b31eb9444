package serialmux

import (
	"testing"
	"time"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}
	if got != want {
		t.Errorf("Normalize() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalize_ExplicitValues(t *testing.T) {
	opts := PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "even", ReadTimeout: time.Second}
	got, err := opts.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "E", ReadTimeout: time.Second}
	if got != want {
		t.Errorf("Normalize() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalize_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"data bits too low", PortOptions{DataBits: 4}},
		{"data bits too high", PortOptions{DataBits: 9}},
		{"stop bits", PortOptions{StopBits: 3}},
		{"parity", PortOptions{Parity: "mark"}},
		{"negative timeout", PortOptions{ReadTimeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.opts.Normalize(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
		want serial.Mode
	}{
		{
			name: "defaults",
			opts: PortOptions{},
			want: serial.Mode{BaudRate: 9600, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.NoParity},
		},
		{
			name: "two stop bits odd parity",
			opts: PortOptions{BaudRate: 57600, StopBits: 2, Parity: "O"},
			want: serial.Mode{BaudRate: 57600, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.OddParity},
		},
		{
			name: "even parity",
			opts: PortOptions{Parity: "E"},
			want: serial.Mode{BaudRate: 9600, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.EvenParity},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := tt.opts.SerialMode()
			if err != nil {
				t.Fatalf("SerialMode() error = %v", err)
			}
			if mode.BaudRate != tt.want.BaudRate || mode.DataBits != tt.want.DataBits ||
				mode.StopBits != tt.want.StopBits || mode.Parity != tt.want.Parity {
				t.Errorf("SerialMode() = %+v, want %+v", *mode, tt.want)
			}
		})
	}
}

func TestPortOptions_SerialMode_Invalid(t *testing.T) {
	if _, err := (PortOptions{Parity: "X"}).SerialMode(); err == nil {
		t.Error("expected error for invalid parity")
	}
}
