// Package main provides the client gateway binary: it terminates client
// TCP connections and bridges them onto the internal message bus.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/openotp/gateway/internal/bus"
	"github.com/openotp/gateway/internal/config"
	"github.com/openotp/gateway/internal/gateway"
	"github.com/openotp/gateway/internal/observability"
	"github.com/openotp/gateway/internal/schema"
	"github.com/openotp/gateway/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting gateway",
		zap.String("listen_addr", cfg.Gateway.Addr()),
		zap.String("bus_addr", cfg.Bus.Addr()),
		zap.String("version", cfg.Gateway.ServerVersion),
	)

	schemaStart := time.Now()
	file, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		logger.Fatal("loading schema", zap.Error(err))
	}
	logger.Info("schema loaded",
		zap.String("path", cfg.Schema.Path),
		zap.Int("classes", len(file.Classes())),
		zap.Duration("elapsed", time.Since(schemaStart)),
	)

	router := bus.NewRouter(logger)
	director := bus.NewDirector(cfg.Bus.Addr(), router, logger)

	svc, err := gateway.NewService(cfg.Gateway, cfg.Schema, cfg.Channels, file, router, logger)
	if err != nil {
		logger.Fatal("building gateway service", zap.Error(err))
	}

	acceptor := gateway.NewAcceptor(cfg.Gateway, svc, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("director", director)
	lifecycle.Add("acceptor", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn: func() {
			svc.Shutdown()
			acceptor.Stop()
		},
	})

	logger.Info("gateway initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("gateway exited", zap.Error(err))
	}
}
