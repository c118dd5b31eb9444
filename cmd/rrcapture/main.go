// Command rrcapture records RR intervals from a heart-rate band.
//
// It runs in one of four modes: -discover lists reachable devices, -test
// streams live heart rate to the terminal, -acquire records an acquisition
// to <base>.rr.txt and <base>.tag.txt, and -serve exposes the same operations
// over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/heartrate.report/internal/analysis"
	"github.com/banshee-data/heartrate.report/internal/api"
	"github.com/banshee-data/heartrate.report/internal/config"
	"github.com/banshee-data/heartrate.report/internal/controller"
	"github.com/banshee-data/heartrate.report/internal/db"
	"github.com/banshee-data/heartrate.report/internal/device"
	"github.com/banshee-data/heartrate.report/internal/monitor"
	"github.com/banshee-data/heartrate.report/internal/monitoring"
	"github.com/banshee-data/heartrate.report/internal/sink"
	"github.com/banshee-data/heartrate.report/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a capture config JSON file (defaults are compiled in)")
	port        = flag.String("port", "", "Device address: serial port or rfcomm device (overrides port_path)")
	deviceKind  = flag.String("device", string(device.KindBelt), "Device kind: belt, dongle or demo")
	discover    = flag.Bool("discover", false, "List reachable devices and exit")
	testMode    = flag.Bool("test", false, "Stream live heart rate to the terminal; nothing is saved")
	acquire     = flag.String("acquire", "", "Record an acquisition to this base path")
	activity    = flag.String("activity", "", "Activity label stored with the acquisition")
	duration    = flag.Duration("duration", 0, "Stop -test or -acquire after this long (0 runs until interrupted)")
	savePlot    = flag.Bool("plot", false, "Write <base>.png after -acquire")
	serve       = flag.Bool("serve", false, "Serve the HTTP API")
	listen      = flag.String("listen", "", "Listen address for -serve (overrides listen)")
	debugMode   = flag.Bool("debug", false, "Log every frame")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

type mode int

const (
	modeDiscover mode = iota
	modeTest
	modeAcquire
	modeServe
)

// selectMode requires exactly one of the mode flags.
func selectMode(discover, test bool, acquire string, serve bool) (mode, error) {
	var modes []mode
	if discover {
		modes = append(modes, modeDiscover)
	}
	if test {
		modes = append(modes, modeTest)
	}
	if acquire != "" {
		modes = append(modes, modeAcquire)
	}
	if serve {
		modes = append(modes, modeServe)
	}
	switch len(modes) {
	case 0:
		return 0, errors.New("one of -discover, -test, -acquire or -serve is required")
	case 1:
		return modes[0], nil
	default:
		return 0, errors.New("-discover, -test, -acquire and -serve are mutually exclusive")
	}
}

// descriptorFor builds the descriptor for -device/-port. The demo band has no
// address.
func descriptorFor(kind, address string) (device.Descriptor, error) {
	k, err := device.ParseKind(kind)
	if err != nil {
		return device.Descriptor{}, err
	}
	if k == device.KindDemo {
		return device.Descriptor{Address: "demo", Kind: k}, nil
	}
	if address == "" {
		return device.Descriptor{}, fmt.Errorf("a port is required for %s devices (-port or port_path)", k)
	}
	return device.Descriptor{Address: address, Kind: k}, nil
}

// splitBase turns the -acquire argument into a data dir and a file name.
func splitBase(base, dataDir string) (string, string) {
	dir, name := filepath.Split(base)
	if dir == "" {
		return dataDir, name
	}
	return filepath.Clean(dir), name
}

func loadConfig(path string) (*config.CaptureConfig, error) {
	if path == "" {
		return config.DefaultCaptureConfig(), nil
	}
	return config.LoadCaptureConfig(path)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("rrcapture", version.String())
		return
	}
	monitoring.SetDebug(*debugMode)

	m, err := selectMode(*discover, *testMode, *acquire, *serve)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ccfg, err := controller.ConfigFromCapture(cfg)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if m == modeDiscover {
		ctl, err := controller.New(ccfg)
		if err != nil {
			log.Fatal(err)
		}
		devices, err := ctl.Devices()
		if err != nil {
			log.Fatalf("discovery failed: %v", err)
		}
		for _, d := range devices {
			fmt.Printf("%-8s %-24s %s\n", d.Kind, d.Name, d.Address)
		}
		return
	}

	address := *port
	if address == "" {
		address = cfg.GetPortPath()
	}

	var name string
	if m == modeAcquire {
		ccfg.DataDir, name = splitBase(*acquire, ccfg.DataDir)
	}

	if m == modeAcquire || m == modeServe {
		database, err := db.NewDB(cfg.GetDBPath())
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer database.Close()
		ccfg.DB = database
	}

	ctl, err := controller.New(ccfg)
	if err != nil {
		log.Fatal(err)
	}

	switch m {
	case modeTest:
		desc, err := descriptorFor(*deviceKind, address)
		if err != nil {
			log.Fatal(err)
		}
		if err := runTest(ctx, ctl, desc, *duration); err != nil {
			log.Fatal(err)
		}
	case modeAcquire:
		desc, err := descriptorFor(*deviceKind, address)
		if err != nil {
			log.Fatal(err)
		}
		if err := runAcquisition(ctx, ctl, ccfg.DB, desc, name, *duration); err != nil {
			log.Fatal(err)
		}
	case modeServe:
		addr := *listen
		if addr == "" {
			addr = cfg.GetListen()
		}
		runServer(ctx, ctl, ccfg.DB, addr)
	}
}

// waitFor blocks until ctx is cancelled, d elapses (when positive), or done
// is closed.
func waitFor(ctx context.Context, d time.Duration, done <-chan struct{}) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	select {
	case <-ctx.Done():
	case <-done:
	}
}

// endContext bounds how long ending a session may take once the user has
// asked to stop.
func endContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func runTest(ctx context.Context, ctl *controller.Controller, desc device.Descriptor, d time.Duration) error {
	show := sink.NotifierFunc(func(s sink.LiveSample) {
		fmt.Printf("HR %3d bpm  RR %4d ms\n", s.HeartRate, s.RR)
	})
	if err := ctl.StartTest(desc, show); err != nil {
		return err
	}
	log.Printf("live test running on %s, press Ctrl-C to stop", desc.Address)
	waitFor(ctx, d, nil)

	ectx, cancel := endContext()
	defer cancel()
	return ctl.EndTest(ectx)
}

func runAcquisition(ctx context.Context, ctl *controller.Controller, database *db.DB, desc device.Descriptor, name string, d time.Duration) error {
	st, err := ctl.BeginAcquisition(controller.AcquisitionRequest{Device: desc, Name: name, Activity: *activity})
	if err != nil {
		return err
	}
	log.Printf("acquisition %s: stabilizing, press Ctrl-C to stop", st.ID)
	waitFor(ctx, d, ctl.AcquisitionDone())

	ectx, cancel := endContext()
	defer cancel()
	res, err := ctl.EndAcquisition(ectx)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return fmt.Errorf("acquisition %s failed: %s", res.ID, res.Error)
	}

	rr, err := database.AcquisitionRR(res.ID)
	if err != nil {
		return err
	}
	sum, err := analysis.Summarize(rr)
	if errors.Is(err, analysis.ErrNoData) {
		log.Printf("acquisition %s recorded no RR values", res.ID)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d beats over %.0fs, mean HR %.1f bpm, SDNN %.1f ms, RMSSD %.1f ms, pNN50 %.1f%%\n",
		res.BasePath, sum.Count, sum.DurationSeconds, sum.MeanHR, sum.SDNN, sum.RMSSD, sum.PNN50)

	if *savePlot {
		tags, err := database.AcquisitionTags(res.ID)
		if err != nil {
			return err
		}
		path := res.BasePath + ".png"
		if err := analysis.SavePlot(path, filepath.Base(res.BasePath), rr, tags); err != nil {
			return err
		}
		log.Printf("plot written to %s", path)
	}
	return nil
}

func runServer(ctx context.Context, ctl *controller.Controller, database *db.DB, addr string) {
	hub := monitor.NewHub()
	defer hub.Close()

	var wg sync.WaitGroup

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(ctl, database, hub).ServeMux()
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach db admin routes: %v", err)
		}
		hub.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// Close out whatever a client left running so result files are complete.
	ectx, cancel := endContext()
	defer cancel()
	if err := ctl.EndTest(ectx); err != nil && !errors.Is(err, controller.ErrNoTest) {
		log.Printf("ending test: %v", err)
	}
	if _, err := ctl.EndAcquisition(ectx); err != nil && !errors.Is(err, controller.ErrNoAcquisition) {
		log.Printf("ending acquisition: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
