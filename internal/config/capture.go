package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical capture defaults file.
const DefaultConfigPath = "config/capture.defaults.json"

// Compiled fallbacks used by the Get* accessors when a field is omitted.
const (
	DefaultBaudRate             = 9600
	DefaultMinRRMillis          = 550
	DefaultStabilizeMinHR       = 20
	DefaultStabilizeMaxHR       = 250
	DefaultDemoMinRRMillis      = 800
	DefaultDemoMaxRRMillis      = 900
	DefaultRecentAcquisitions   = 10
	DefaultListen               = ":8080"
	DefaultDataDir              = "acquisitions"
	DefaultDBPath               = "acquisitions.db"
	DefaultParity               = "N"
	DefaultStabilizeMaxAttempts = 0
	DefaultStopGrace            = 3 * time.Second
)

// CaptureConfig holds acquisition settings. Every field is optional; omitted
// fields fall back to the compiled defaults above, so partial files are safe.
type CaptureConfig struct {
	// Transport
	PortPath    *string `json:"port_path,omitempty"`
	BaudRate    *int    `json:"baud_rate,omitempty"`
	DataBits    *int    `json:"data_bits,omitempty"`
	StopBits    *int    `json:"stop_bits,omitempty"`
	Parity      *string `json:"parity,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty"` // duration string, "" or "0" blocks forever

	// Signal plausibility
	MinRRMillis          *int `json:"min_rr_ms,omitempty"`
	StabilizeMinHR       *int `json:"stabilize_min_hr,omitempty"`
	StabilizeMaxHR       *int `json:"stabilize_max_hr,omitempty"`
	StabilizeMaxAttempts *int `json:"stabilize_max_attempts,omitempty"` // 0 retries forever

	// Demo band
	DemoMinRRMillis *int `json:"demo_min_rr_ms,omitempty"`
	DemoMaxRRMillis *int `json:"demo_max_rr_ms,omitempty"`

	// Device families probed by discovery
	BluetoothSupport *bool `json:"bluetooth_support,omitempty"`
	ANTSupport       *bool `json:"ant_support,omitempty"`

	// ANTNetworkKey is the 8-byte network key, hex encoded, the USB stick
	// needs to join the ANT+ network. The key is licensed and not shipped.
	ANTNetworkKey *string `json:"ant_network_key,omitempty"`

	// StopGrace is how long the controller waits for a worker to observe a
	// finish request before closing the transport under it.
	StopGrace *string `json:"stop_grace,omitempty"`

	// Output
	DataDir            *string `json:"data_dir,omitempty"`
	DBPath             *string `json:"db_path,omitempty"`
	RecentAcquisitions *int    `json:"recent_acquisitions,omitempty"`
	Listen             *string `json:"listen,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyCaptureConfig returns a CaptureConfig with all fields set to nil.
func EmptyCaptureConfig() *CaptureConfig {
	return &CaptureConfig{}
}

// DefaultCaptureConfig returns a config with every field populated from the
// compiled defaults.
func DefaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		PortPath:             ptrString(""),
		BaudRate:             ptrInt(DefaultBaudRate),
		DataBits:             ptrInt(8),
		StopBits:             ptrInt(1),
		Parity:               ptrString(DefaultParity),
		ReadTimeout:          ptrString(""),
		MinRRMillis:          ptrInt(DefaultMinRRMillis),
		StabilizeMinHR:       ptrInt(DefaultStabilizeMinHR),
		StabilizeMaxHR:       ptrInt(DefaultStabilizeMaxHR),
		StabilizeMaxAttempts: ptrInt(DefaultStabilizeMaxAttempts),
		DemoMinRRMillis:      ptrInt(DefaultDemoMinRRMillis),
		DemoMaxRRMillis:      ptrInt(DefaultDemoMaxRRMillis),
		BluetoothSupport:     ptrBool(true),
		ANTSupport:           ptrBool(true),
		ANTNetworkKey:        ptrString(""),
		StopGrace:            ptrString(DefaultStopGrace.String()),
		DataDir:              ptrString(DefaultDataDir),
		DBPath:               ptrString(DefaultDBPath),
		RecentAcquisitions:   ptrInt(DefaultRecentAcquisitions),
		Listen:               ptrString(DefaultListen),
	}
}

// LoadCaptureConfig loads a CaptureConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCaptureConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up towards the repository root. Panics if the file cannot be
// loaded; intended for test setup.
func MustLoadDefaultConfig() *CaptureConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadCaptureConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *CaptureConfig) Validate() error {
	if c.ReadTimeout != nil && *c.ReadTimeout != "" {
		d, err := time.ParseDuration(*c.ReadTimeout)
		if err != nil {
			return fmt.Errorf("invalid read_timeout '%s': %w", *c.ReadTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("read_timeout must be non-negative, got %s", d)
		}
	}

	if c.StopGrace != nil && *c.StopGrace != "" {
		d, err := time.ParseDuration(*c.StopGrace)
		if err != nil {
			return fmt.Errorf("invalid stop_grace '%s': %w", *c.StopGrace, err)
		}
		if d <= 0 {
			return fmt.Errorf("stop_grace must be positive, got %s", d)
		}
	}

	if k := c.GetANTNetworkKey(); k != "" {
		b, err := hex.DecodeString(k)
		if err != nil || len(b) != 8 {
			return fmt.Errorf("ant_network_key must be 16 hex digits")
		}
	}

	if c.BaudRate != nil && *c.BaudRate < 0 {
		return fmt.Errorf("baud_rate must be non-negative, got %d", *c.BaudRate)
	}

	if c.MinRRMillis != nil && *c.MinRRMillis < 0 {
		return fmt.Errorf("min_rr_ms must be non-negative, got %d", *c.MinRRMillis)
	}

	minHR, maxHR := c.GetStabilizeMinHR(), c.GetStabilizeMaxHR()
	if minHR < 0 || maxHR > 255 || minHR > maxHR {
		return fmt.Errorf("stabilize band [%d, %d] must satisfy 0 <= min <= max <= 255", minHR, maxHR)
	}

	if c.StabilizeMaxAttempts != nil && *c.StabilizeMaxAttempts < 0 {
		return fmt.Errorf("stabilize_max_attempts must be non-negative, got %d", *c.StabilizeMaxAttempts)
	}

	demoMin, demoMax := c.GetDemoMinRRMillis(), c.GetDemoMaxRRMillis()
	if demoMin <= 0 || demoMin > demoMax {
		return fmt.Errorf("demo RR range [%d, %d] must satisfy 0 < min <= max", demoMin, demoMax)
	}

	if c.RecentAcquisitions != nil && *c.RecentAcquisitions < 1 {
		return fmt.Errorf("recent_acquisitions must be at least 1, got %d", *c.RecentAcquisitions)
	}

	return nil
}

// GetPortPath returns the port_path value or "".
func (c *CaptureConfig) GetPortPath() string {
	if c.PortPath == nil {
		return ""
	}
	return *c.PortPath
}

// GetBaudRate returns the baud_rate value or the default.
func (c *CaptureConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return DefaultBaudRate
	}
	return *c.BaudRate
}

// GetDataBits returns the data_bits value or 0, letting the serial layer
// apply its own default.
func (c *CaptureConfig) GetDataBits() int {
	if c.DataBits == nil {
		return 0
	}
	return *c.DataBits
}

// GetStopBits returns the stop_bits value or 0.
func (c *CaptureConfig) GetStopBits() int {
	if c.StopBits == nil {
		return 0
	}
	return *c.StopBits
}

// GetParity returns the parity value or the default.
func (c *CaptureConfig) GetParity() string {
	if c.Parity == nil || *c.Parity == "" {
		return DefaultParity
	}
	return *c.Parity
}

// GetReadTimeout parses and returns the ReadTimeout. Zero means reads block
// until data arrives.
func (c *CaptureConfig) GetReadTimeout() time.Duration {
	if c.ReadTimeout == nil || *c.ReadTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.ReadTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetMinRRMillis returns the min_rr_ms value or the default.
func (c *CaptureConfig) GetMinRRMillis() int {
	if c.MinRRMillis == nil {
		return DefaultMinRRMillis
	}
	return *c.MinRRMillis
}

// GetStabilizeMinHR returns the stabilize_min_hr value or the default.
func (c *CaptureConfig) GetStabilizeMinHR() int {
	if c.StabilizeMinHR == nil {
		return DefaultStabilizeMinHR
	}
	return *c.StabilizeMinHR
}

// GetStabilizeMaxHR returns the stabilize_max_hr value or the default.
func (c *CaptureConfig) GetStabilizeMaxHR() int {
	if c.StabilizeMaxHR == nil {
		return DefaultStabilizeMaxHR
	}
	return *c.StabilizeMaxHR
}

// GetStabilizeMaxAttempts returns the stabilize_max_attempts value or the
// default (0, unbounded).
func (c *CaptureConfig) GetStabilizeMaxAttempts() int {
	if c.StabilizeMaxAttempts == nil {
		return DefaultStabilizeMaxAttempts
	}
	return *c.StabilizeMaxAttempts
}

// GetDemoMinRRMillis returns the demo_min_rr_ms value or the default.
func (c *CaptureConfig) GetDemoMinRRMillis() int {
	if c.DemoMinRRMillis == nil {
		return DefaultDemoMinRRMillis
	}
	return *c.DemoMinRRMillis
}

// GetDemoMaxRRMillis returns the demo_max_rr_ms value or the default.
func (c *CaptureConfig) GetDemoMaxRRMillis() int {
	if c.DemoMaxRRMillis == nil {
		return DefaultDemoMaxRRMillis
	}
	return *c.DemoMaxRRMillis
}

// GetBluetoothSupport returns the bluetooth_support value or true.
func (c *CaptureConfig) GetBluetoothSupport() bool {
	if c.BluetoothSupport == nil {
		return true
	}
	return *c.BluetoothSupport
}

// GetANTSupport returns the ant_support value or true.
func (c *CaptureConfig) GetANTSupport() bool {
	if c.ANTSupport == nil {
		return true
	}
	return *c.ANTSupport
}

// GetANTNetworkKey returns the ant_network_key value or "".
func (c *CaptureConfig) GetANTNetworkKey() string {
	if c.ANTNetworkKey == nil {
		return ""
	}
	return *c.ANTNetworkKey
}

// GetStopGrace returns the stop_grace value or the default.
func (c *CaptureConfig) GetStopGrace() time.Duration {
	if c.StopGrace == nil || *c.StopGrace == "" {
		return DefaultStopGrace
	}
	d, err := time.ParseDuration(*c.StopGrace)
	if err != nil || d <= 0 {
		return DefaultStopGrace
	}
	return d
}

// GetDataDir returns the data_dir value or the default.
func (c *CaptureConfig) GetDataDir() string {
	if c.DataDir == nil || *c.DataDir == "" {
		return DefaultDataDir
	}
	return *c.DataDir
}

// GetDBPath returns the db_path value or the default.
func (c *CaptureConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

// GetRecentAcquisitions returns the recent_acquisitions value or the default.
func (c *CaptureConfig) GetRecentAcquisitions() int {
	if c.RecentAcquisitions == nil {
		return DefaultRecentAcquisitions
	}
	return *c.RecentAcquisitions
}

// GetListen returns the listen value or the default.
func (c *CaptureConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}
