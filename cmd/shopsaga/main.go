package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/app"
	"github.com/vladislavdragonenkov/shopsaga/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := app.ConfigureLogging(cfg.Log); err != nil {
		log.WithError(err).Fatal("invalid logging configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTP.Addr,
		"metrics_addr": cfg.Ops.MetricsAddr,
		"grpc_addr":    cfg.Ops.GRPCAddr,
		"storage":      cfg.Storage.Driver,
		"redis":        cfg.Redis.Enabled(),
		"kafka":        cfg.Kafka.Enabled(),
	}).Info("starting shopsaga")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("shopsaga exited with error")
	}
}
