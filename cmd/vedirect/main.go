package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/vedirect/config"
	"github.com/timzifer/vedirect/internal/logging"
	"github.com/timzifer/vedirect/internal/reload"
	"github.com/timzifer/vedirect/service"
	"github.com/timzifer/vedirect/telemetry"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file or directory")
	healthcheck := flag.Bool("healthcheck", false, "Run a health check and exit")
	configCheck := flag.Bool("config-check", false, "Validate configuration, print the device overview and exit")
	liveViewListen := flag.String("live-view", "", "Serve the live view on this address, for example :18080")
	flag.Parse()

	if *healthcheck {
		if err := executeHealthCheck(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		os.Exit(executeConfigCheck(cfg))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
		collector = telemetry.Noop()
	}
	if err := startMetricsServer(ctx, cfg.Telemetry); err != nil {
		log.Fatal().Err(err).Msg("failed to start metrics endpoint")
	}

	if cfg.HotReload {
		if err := runWithHotReload(ctx, *cfgPath, cfg, collector, *liveViewListen); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Fatal().Err(err).Msg("service stopped")
		}
		return
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	srv, err := service.New(cfg, logger, service.WithTelemetry(collector))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create service")
	}
	defer srv.Close()
	if *liveViewListen != "" {
		if err := srv.EnableLiveView(*liveViewListen); err != nil {
			logger.Fatal().Err(err).Msg("failed to start live view")
		}
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
}

func executeHealthCheck(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return service.Validate(cfg, zerolog.Nop())
}

func executeConfigCheck(cfg *config.Config) int {
	if err := service.Validate(cfg, zerolog.Nop()); err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return 1
	}
	devices := cfg.ActiveDevices()
	if len(devices) == 0 {
		fmt.Println("No devices configured.")
		return 0
	}
	for _, dev := range devices {
		fmt.Printf("Device %q\n", dev.ID)
		if module := describeModule(dev.Source); module != "" {
			fmt.Printf("  Module: %s\n", module)
		}
		fmt.Printf("  Transport: %s %s", dev.Transport.ResolvedKind(), dev.Transport.Endpoint())
		if dev.Transport.ResolvedKind() == config.TransportSerial {
			fmt.Printf(" @ %d baud", dev.Transport.BaudRate())
		}
		fmt.Println()
		if len(dev.Channels) == 0 {
			fmt.Println("  Channels: all")
		} else {
			fmt.Printf("  Channels: %s\n", strings.Join(dev.Channels, ", "))
		}
		if dev.Republish.Duration > 0 {
			fmt.Printf("  Republish: every %s\n", dev.Republish.Duration)
		}
		for _, derived := range dev.Derived {
			fmt.Printf("  Derived %s = %s\n", derived.ID, strings.TrimSpace(derived.Expression))
		}
		fmt.Println()
	}
	fmt.Println("Configuration check completed successfully.")
	return 0
}

func runWithHotReload(ctx context.Context, cfgPath string, initialCfg *config.Config, collector telemetry.Collector, liveViewListen string) error {
	if collector == nil {
		collector = telemetry.Noop()
	}
	watcher, err := reload.NewWatcher(cfgPath, initialCfg)
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	ticker := time.NewTicker(initialCfg.ReloadIntervalOrDefault())
	defer ticker.Stop()

	cfg := initialCfg
	for {
		logger, cleanup, err := logging.Setup(cfg.Logging)
		if err != nil {
			return err
		}
		log.Logger = logger

		srv, err := service.New(cfg, logger, service.WithTelemetry(collector))
		if err != nil {
			cleanup()
			return err
		}
		if liveViewListen != "" {
			if err := srv.EnableLiveView(liveViewListen); err != nil {
				srv.Close()
				cleanup()
				return err
			}
		}

		runCtx, cancelRun := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Run(runCtx)
		}()

		var changed []string
	loop:
		for {
			select {
			case <-ctx.Done():
				cancelRun()
				err := stopService(srv, errCh, cleanup)
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return ctx.Err()
			case err := <-errCh:
				if err != nil {
					cancelRun()
					srv.Close()
					cleanup()
					return err
				}
				// Every device replayed its capture; keep watching for changes.
				errCh = nil
			case <-ticker.C:
				changes, err := watcher.Check()
				if err != nil {
					logger.Error().Err(err).Msg("failed to check configuration changes")
					continue
				}
				if len(changes) == 0 {
					continue
				}
				newCfg, err := config.Load(cfgPath)
				if err != nil {
					logger.Error().Err(err).Msg("failed to reload configuration")
					continue
				}
				if err := service.Validate(newCfg, logger); err != nil {
					logger.Error().Err(err).Msg("reloaded configuration invalid")
					continue
				}
				cancelRun()
				if err := stopService(srv, errCh, cleanup); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("service stopped during reload")
				}
				if err := watcher.Update(cfgPath, newCfg); err != nil {
					logger.Error().Err(err).Msg("failed to update watcher state")
				}
				logger.Info().Strs("files", changes).Msg("configuration reloaded")
				changed = changes
				cfg = newCfg
				break loop
			}
		}

		for _, file := range changed {
			collector.IncHotReload(file)
		}
	}
}

// stopService waits for a cancelled run to return, then releases the
// service and the logger. A nil errCh means the run already returned.
func stopService(srv *service.Service, errCh <-chan error, cleanup func()) error {
	var err error
	if errCh != nil {
		err = <-errCh
	}
	srv.Close()
	cleanup()
	return err
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}

func startMetricsServer(ctx context.Context, cfg config.TelemetryConfig) error {
	if !cfg.Enabled || strings.TrimSpace(cfg.Listen) == "" {
		return nil
	}
	server, err := telemetry.Listen(cfg.Listen, nil, log.Logger)
	if err != nil {
		return err
	}
	go func() {
		if err := server.Serve(ctx); err != nil {
			log.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()
	return nil
}

func describeModule(ref config.ModuleReference) string {
	name := strings.TrimSpace(ref.Name)
	file := strings.TrimSpace(ref.File)
	desc := strings.TrimSpace(ref.Description)

	label := ""
	if name != "" && file != "" {
		label = fmt.Sprintf("%s (%s)", name, file)
	} else if name != "" {
		label = name
	} else if file != "" {
		label = file
	}
	if desc != "" {
		if label != "" {
			label = fmt.Sprintf("%s: %s", label, desc)
		} else {
			label = desc
		}
	}
	return label
}
