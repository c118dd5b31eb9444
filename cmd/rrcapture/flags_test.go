package main

import (
	"context"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/heartrate.report/internal/config"
	"github.com/banshee-data/heartrate.report/internal/controller"
	"github.com/banshee-data/heartrate.report/internal/db"
	"github.com/banshee-data/heartrate.report/internal/device"
	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/timeutil"
)

// TestFlagDefaults verifies the defaults main relies on when a flag is absent.
func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "", *configPath)
	assert.Equal(t, "", *port)
	assert.Equal(t, string(device.KindBelt), *deviceKind)
	assert.False(t, *discover)
	assert.False(t, *testMode)
	assert.Equal(t, "", *acquire)
	assert.Zero(t, *duration)
	assert.False(t, *serve)
	assert.Equal(t, "", *listen, "empty listen falls back to the config file")
	assert.False(t, *debugMode)
	assert.False(t, *showVersion)
}

func TestSelectMode(t *testing.T) {
	tests := []struct {
		name     string
		discover bool
		test     bool
		acquire  string
		serve    bool
		want     mode
		wantErr  bool
	}{
		{name: "none", wantErr: true},
		{name: "discover", discover: true, want: modeDiscover},
		{name: "test", test: true, want: modeTest},
		{name: "acquire", acquire: "run1", want: modeAcquire},
		{name: "serve", serve: true, want: modeServe},
		{name: "test and acquire", test: true, acquire: "run1", wantErr: true},
		{name: "serve and discover", discover: true, serve: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectMode(tt.discover, tt.test, tt.acquire, tt.serve)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescriptorFor(t *testing.T) {
	d, err := descriptorFor("demo", "")
	require.NoError(t, err)
	assert.Equal(t, device.Descriptor{Address: "demo", Kind: device.KindDemo}, d)

	d, err = descriptorFor("belt", "/dev/rfcomm0")
	require.NoError(t, err)
	assert.Equal(t, device.Descriptor{Address: "/dev/rfcomm0", Kind: device.KindBelt}, d)

	_, err = descriptorFor("dongle", "")
	assert.ErrorContains(t, err, "port is required")

	_, err = descriptorFor("treadmill", "/dev/ttyUSB0")
	assert.Error(t, err)
}

func TestSplitBase(t *testing.T) {
	dir, name := splitBase("run1", "acquisitions")
	assert.Equal(t, "acquisitions", dir)
	assert.Equal(t, "run1", name)

	dir, name = splitBase(filepath.Join("out", "2026", "walk"), "acquisitions")
	assert.Equal(t, filepath.Join("out", "2026"), dir)
	assert.Equal(t, "walk", name)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultListen, cfg.GetListen())

	_, err = loadConfig("capture.yaml")
	assert.Error(t, err)

	cfg, err = loadConfig(filepath.Join("..", "..", config.DefaultConfigPath))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultMinRRMillis, cfg.GetMinRRMillis())
}

func TestWaitFor(t *testing.T) {
	start := time.Now()
	waitFor(context.Background(), 20*time.Millisecond, nil)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	done := make(chan struct{})
	close(done)
	waitFor(context.Background(), 0, done)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	waitFor(ctx, 0, nil)
}

type fastClock struct{ timeutil.RealClock }

func (fastClock) Sleep(time.Duration) { time.Sleep(time.Millisecond) }

func TestRunAcquisition_Demo(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	database, err := db.NewDB(filepath.Join(t.TempDir(), "acq.db"))
	require.NoError(t, err)
	defer database.Close()

	dataDir := t.TempDir()
	ctl, err := controller.New(controller.Config{
		DataDir: dataDir,
		DB:      database,
		Device:  device.Options{Clock: fastClock{}},
	})
	require.NoError(t, err)

	desc, err := descriptorFor("demo", "")
	require.NoError(t, err)
	require.NoError(t, runAcquisition(context.Background(), ctl, database, desc, "demo-run", 100*time.Millisecond))

	recent, err := database.RecentAcquisitions(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, filepath.Join(dataDir, "demo-run"), recent[0].BasePath)
	assert.Positive(t, recent[0].RRCount)
	assert.FileExists(t, filepath.Join(dataDir, "demo-run.rr.txt"))
	assert.FileExists(t, filepath.Join(dataDir, "demo-run.tag.txt"))
}

func TestRunTest_Demo(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	ctl, err := controller.New(controller.Config{
		DataDir: t.TempDir(),
		Device:  device.Options{Clock: fastClock{}},
	})
	require.NoError(t, err)

	desc, err := descriptorFor("demo", "")
	require.NoError(t, err)
	require.NoError(t, runTest(context.Background(), ctl, desc, 20*time.Millisecond))
	_, running := ctl.Test()
	assert.False(t, running)
}
