package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"care-dispatch/internal/app"
	"care-dispatch/internal/config"
	"care-dispatch/internal/intake"
	"care-dispatch/internal/logger"
	"care-dispatch/internal/tracing"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "listener:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	entry := log.WithService("listener")

	shutdownTracing, err := tracing.Init(cfg.Tracing, nil)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	consumer, err := intake.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.WorkItemTopic, cfg.Kafka.GroupID,
		a.Store, a.Engine, log.WithComponent("intake"))
	if err != nil {
		return err
	}
	defer consumer.Close()

	entry.WithFields(logrus.Fields{
		"topic": cfg.Kafka.WorkItemTopic,
		"group": cfg.Kafka.GroupID,
	}).Info("Work item listener started")
	err = consumer.Run(ctx)
	entry.Info("Work item listener stopped")
	return err
}
