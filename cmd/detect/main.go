// detect: samples frames at a fixed rate, runs them through the local,
// remote or synthetic detection backend and serves the results to
// renderers over HTTP and websocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-detect/internal/config"
	"github.com/teslashibe/go-detect/internal/log"
	"github.com/teslashibe/go-detect/internal/native"
	"github.com/teslashibe/go-detect/internal/pipeline"
	"github.com/teslashibe/go-detect/pkg/metrics"
	"github.com/teslashibe/go-detect/pkg/orchestrator"
	"github.com/teslashibe/go-detect/pkg/web"
)

var version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", os.Getenv("DETECT_CONFIG"), "YAML config file")
	mode := flag.String("mode", "", "Detection mode: local, remote, synthetic (overrides config)")
	endpoint := flag.String("endpoint", "", "Remote detection service URL (overrides config)")
	sourceKind := flag.String("source", "", "Frame source: pattern, directory, camera (overrides config)")
	sourceDir := flag.String("dir", "", "Image directory for the directory source")
	addr := flag.String("addr", "", "Dashboard listen address (overrides config)")
	autostart := flag.Bool("autostart", true, "Start a session immediately")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *endpoint != "" {
		cfg.Remote.Endpoint = *endpoint
	}
	if *sourceKind != "" {
		cfg.Source.Kind = *sourceKind
	}
	if *sourceDir != "" {
		cfg.Source.Dir = *sourceDir
	}
	if *addr != "" {
		cfg.Web.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := log.Init(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting detect", "version", version, "mode", cfg.Mode, "source", cfg.Source.Kind)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	go m.RunProcessMonitor(ctx, cfg.Web.MonitorInterval)

	store := orchestrator.NewStore(orchestrator.WithDropStale(cfg.DropStale))
	builder := &pipeline.Builder{
		Config:     cfg,
		Store:      store,
		Metrics:    m,
		Logger:     logger,
		OpenEngine: native.OpenEngine,
		OpenCamera: native.OpenCamera,
	}

	srv := web.NewServer(web.Config{
		Addr:       cfg.Web.Addr,
		Store:      store,
		NewSession: builder.NewSession,
		StaticDir:  cfg.Web.StaticDir,
		Metrics:    m,
		Logger:     logger,
	})
	srv.Start(ctx)

	if *autostart {
		if _, err := srv.StartSession(ctx); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
	}

	return srv.Run(ctx)
}
