// detectd: remote detection service. Runs the on-device model for clients
// that stream frames over websocket or post them one at a time.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-detect/internal/config"
	"github.com/teslashibe/go-detect/internal/log"
	"github.com/teslashibe/go-detect/internal/native"
	"github.com/teslashibe/go-detect/internal/pipeline"
	"github.com/teslashibe/go-detect/pkg/detectserver"
	"github.com/teslashibe/go-detect/pkg/metrics"
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
	addr := flag.String("addr", "", "Listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	// The service always runs the local engine.
	cfg.Mode = "local"
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := log.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	builder := &pipeline.Builder{Config: cfg, Logger: logger, OpenEngine: native.OpenEngine}
	det, err := builder.LocalFactory()(ctx)
	if err != nil {
		return err
	}
	defer det.Close()

	m := metrics.New()
	go m.RunProcessMonitor(ctx, cfg.Web.MonitorInterval)

	srv := detectserver.New(det,
		detectserver.WithTimeout(cfg.Server.Timeout),
		detectserver.WithLogger(logger),
	)
	app := fiber.New(fiber.Config{
		AppName:               "detectd",
		DisableStartupMessage: true,
		BodyLimit:             detectserver.MaxFrameSize,
	})
	app.Use(recover.New())
	srv.RegisterRoutes(app)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	errc := make(chan error, 1)
	go func() {
		logger.Info("detectd listening", "version", version, "addr", cfg.Server.Addr, "model", cfg.Engine.Model)
		errc <- app.Listen(cfg.Server.Addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return app.ShutdownWithContext(shutdownCtx)
}
