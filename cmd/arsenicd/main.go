package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ttm56p/arsenic/pkg/config"
	apperrors "github.com/ttm56p/arsenic/pkg/errors"
	"github.com/ttm56p/arsenic/pkg/logging"
	"github.com/ttm56p/arsenic/pkg/observability"
	"github.com/ttm56p/arsenic/pkg/service"
	"github.com/ttm56p/arsenic/pkg/telemetry"
	"github.com/ttm56p/arsenic/pkg/webdriver"
)

// Version information - set via ldflags during build
var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "arsenicd: %v\n", err)
		os.Exit(exitCodeForError(err))
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("arsenicd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML config (defaults: geckodriver on a free port)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}
	if *showVersion {
		fmt.Fprintf(stdout, "arsenicd %s (%s)\n", version, commit)
		return nil
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromPath(*configPath)
		if err != nil {
			return withExitCode(err, 2)
		}
		cfg = loaded
	}

	log := cfg.Logger(stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hub := telemetry.NewHub()
	defer hub.Close()

	ctx = logging.NewContext(ctx, log)
	ctx = telemetry.NewContext(ctx, hub)

	if cfg.Tracing.Enabled {
		tp, err := observability.NewTracerProvider(cfg.Tracing.ServiceName, stderr)
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
				log.Warn("tracer shutdown failed", "error", err.Error())
			}
		}()
	}

	svc := cfg.Service()
	log.Info("starting driver", "service", string(svc.Kind()), "version", version)

	return service.With(ctx, svc, cfg.Engine(), func(ctx context.Context, d *webdriver.Driver) error {
		return serve(ctx, cfg.Metrics.Listen, d, hub)
	})
}

func exitCodeForStart(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeConfigLoad, apperrors.ErrCodeConfigParse, apperrors.ErrCodeConfigInvalid:
		return 2
	case apperrors.ErrCodeProcessSpawn, apperrors.ErrCodeSession, apperrors.ErrCodeServiceStart:
		return 3
	default:
		return 1
	}
}
