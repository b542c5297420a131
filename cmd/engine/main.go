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
	"care-dispatch/internal/escalation"
	"care-dispatch/internal/logger"
	"care-dispatch/internal/tracing"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "engine:", err)
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
	entry := log.WithService("engine")

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

	// A scan that outlives its interval is cut off; the next tick starts fresh.
	tasks := escalation.NewTaskRegistry(log.WithComponent("scheduler"), cfg.Escalation.Interval)
	if err := tasks.RegisterPeriodicTask(escalation.ScanAssignment, cfg.Escalation.Interval, a.Timer.Task()); err != nil {
		return err
	}
	if err := tasks.RegisterPeriodicTask(escalation.ScanLab, cfg.Escalation.LabInterval, a.LabMonitor.Task()); err != nil {
		return err
	}

	entry.WithField("interval", cfg.Escalation.Interval).Info("Escalation engine started")
	err = tasks.Run(ctx)
	entry.Info("Escalation engine stopped")
	return err
}
