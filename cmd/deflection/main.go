// Command deflection reads displacement frames from an optoNCDT sensor behind
// an IF1032/ETH interface module, converts the configured channel to
// millimetres and writes each sample to InfluxDB.
//
// Exit codes: 0 on a clean shutdown, 1 for configuration or calibration
// errors, 2 when the sensor or the store client cannot be set up, and 3 when
// the sensor connection is lost while running.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/deflection/internal/acquire"
	"github.com/banshee-data/deflection/internal/api"
	"github.com/banshee-data/deflection/internal/calibration"
	"github.com/banshee-data/deflection/internal/config"
	"github.com/banshee-data/deflection/internal/journal"
	"github.com/banshee-data/deflection/internal/monitor"
	"github.com/banshee-data/deflection/internal/monitoring"
	"github.com/banshee-data/deflection/internal/network"
	"github.com/banshee-data/deflection/internal/publish"
	"github.com/banshee-data/deflection/internal/sensor"
	"github.com/banshee-data/deflection/internal/timeutil"
	"github.com/banshee-data/deflection/internal/version"
)

const (
	exitOK         = 0
	exitConfig     = 1
	exitConnection = 2
	exitRuntime    = 3
)

// defaultConfigPath is read when -config is not given and the file exists.
var defaultConfigPath = config.DefaultLegacyPath

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("deflection", flag.ContinueOnError)
	var overrides config.Overrides
	overrides.RegisterFlags(fs)
	verbose := fs.Bool("v", false, "Log every sample")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}
	overrides.Capture(fs)

	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return exitOK
	}

	cfg, err := loadConfig(overrides.ConfigPath, overrides.Any())
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return exitConfig
	}
	if err := overrides.Apply(cfg); err != nil {
		log.Printf("%v", err)
		return exitConfig
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("%v", err)
		return exitConfig
	}

	logFile, err := monitoring.Setup(cfg.GetLogFile())
	if err != nil {
		log.Printf("%v", err)
		return exitConfig
	}
	defer logFile.Close()
	monitoring.SetVerbose(*verbose)

	model, err := calibration.NewModel(cfg.CalibrationConfig())
	if err != nil {
		log.Printf("invalid calibration: %v", err)
		return exitConfig
	}
	dialer, err := sensor.NewDialer(cfg.SensorEndpoint())
	if err != nil {
		log.Printf("invalid sensor endpoint: %v", err)
		return exitConfig
	}

	target := cfg.PublishTarget()
	publisher, err := publish.New(target)
	if err != nil {
		log.Printf("failed to create %s publisher for %s: %v", target.Transport, target.Address(), err)
		return publisherExitCode(err)
	}

	log.Printf("Starting %s", version.String())
	log.Printf("Sensor %v channel %d, store %s://%s", dialer, cfg.GetChannel(), publisher.Transport(), target.Address())

	return runAcquisition(ctx, cfg, dialer, model, publisher)
}

// runAcquisition owns publisher from here on: the loop closes it, and every
// early return before the loop starts closes it too.
func runAcquisition(ctx context.Context, cfg *config.Config, dialer sensor.Dialer, model *calibration.Model, publisher publish.Publisher) int {
	clock := timeutil.RealClock{}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	abort := func(code int) int {
		if err := publisher.Close(); err != nil {
			log.Printf("failed to close publisher: %v", err)
		}
		return code
	}

	stats := monitor.NewStats(clock, monitor.DefaultWindow)
	loopCfg := acquire.Config{
		Dialer:    dialer,
		Channel:   cfg.GetChannel(),
		Model:     model,
		Publisher: publisher,
		Stats:     stats,
		Clock:     clock,
	}

	var jdb *journal.DB
	var session *journal.Session
	if path := cfg.GetJournalPath(); path != "" {
		var err error
		jdb, err = journal.Open(path, clock)
		if err != nil {
			log.Printf("failed to open journal: %v", err)
			return abort(exitConfig)
		}
		defer jdb.Close()

		session, err = jdb.StartSession(runCtx, journal.SessionInfo{
			Sensor:    fmt.Sprint(dialer),
			Channel:   cfg.GetChannel(),
			Transport: publisher.Transport(),
			Version:   version.Version,
		})
		if err != nil {
			log.Printf("%v", err)
			return abort(exitConfig)
		}
		loopCfg.Faults = session
		log.Printf("Journaling faults to %s (session %s)", path, session.ID)
	}

	var wg sync.WaitGroup

	if host, port, ok := cfg.MirrorAddress(); ok {
		mirror, err := network.NewFrameMirror(host, port, 0)
		if err != nil {
			log.Printf("failed to create frame mirror: %v", err)
			return abort(exitConfig)
		}
		defer mirror.Close()
		mirror.Start(runCtx)
		loopCfg.Mirror = mirror
	}

	var hub *api.SampleHub
	if cfg.GetDebugListen() != "" {
		hub = api.NewSampleHub()
		loopCfg.Tap = hub
	}

	loop, err := acquire.New(loopCfg)
	if err != nil {
		log.Printf("%v", err)
		return abort(exitConfig)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		stats.Run(runCtx, cfg.GetStatsInterval())
	}()

	if addr := cfg.GetDebugListen(); addr != "" {
		info := api.Info{
			Sensor:    fmt.Sprint(dialer),
			Channel:   cfg.GetChannel(),
			Transport: publisher.Transport(),
		}
		apiCfg := api.Config{Info: info, Stats: stats, Loop: loop, Hub: hub}
		if jdb != nil {
			apiCfg.Faults = jdb
			apiCfg.Info.Session = session.ID
		}
		server := api.NewServer(apiCfg)
		mux := server.ServeMux()
		server.AttachDebugRoutes(mux)
		if jdb != nil {
			if err := jdb.AttachAdminRoutes(mux); err != nil {
				log.Printf("journal admin routes disabled: %v", err)
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.Serve(runCtx, addr, api.LoggingMiddleware(mux)); err != nil {
				log.Printf("%v", err)
			}
		}()
	}

	runErr := loop.Run(runCtx)
	if hub != nil {
		// Ends open tail streams so the debug server can shut down promptly.
		hub.Close()
	}
	cancel()
	wg.Wait()
	stats.LogStats()

	code := exitCode(runErr)
	if session != nil {
		if err := session.End(endReason(runErr)); err != nil {
			log.Printf("%v", err)
		}
	}
	switch code {
	case exitOK:
		log.Printf("Graceful shutdown complete")
	default:
		log.Printf("Acquisition stopped: %v", runErr)
	}
	return code
}

// loadConfig reads path, else the default file when it exists. Without
// either, the command line must carry the configuration.
func loadConfig(path string, haveFlags bool) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		log.Printf("Loading configuration from %s", defaultConfigPath)
		return config.Load(defaultConfigPath)
	}
	if !haveFlags {
		return nil, fmt.Errorf("no configuration: %s not found and no flags given (see -help)", defaultConfigPath)
	}
	return &config.Config{}, nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, acquire.ErrConnection):
		return exitConnection
	default:
		return exitRuntime
	}
}

// publisherExitCode separates incomplete store parameters, which are
// configuration errors, from client construction failures.
func publisherExitCode(err error) int {
	if errors.Is(err, publish.ErrMissingParameter) || errors.Is(err, publish.ErrUnknownTransport) {
		return exitConfig
	}
	return exitConnection
}

func endReason(err error) string {
	switch {
	case err == nil:
		return "shutdown"
	case errors.Is(err, acquire.ErrConnection):
		return acquire.FaultConnection
	case errors.Is(err, acquire.ErrConnectionLost):
		return acquire.FaultConnectionLost
	default:
		return "error"
	}
}
