package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/reminder-engine/internal/config"
	"github.com/segyhp/reminder-engine/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	logrus.Info("Starting reminder scheduler...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Logging.Format == "json" {
		logrus.SetFormatter(new(logrus.JSONFormatter))
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(level)
	}

	daemon := scheduler.NewDaemon(cfg)

	// Run once right away so a fresh deploy does not wait a full day
	// for its first scan.
	go func() {
		if _, err := daemon.RunOnce(context.Background()); err != nil {
			logrus.WithError(err).Warn("startup scan failed")
		}
	}()

	// Initialize cron scheduler in the configured timezone
	c := cron.New(cron.WithSeconds(), cron.WithLocation(cfg.Scheduler.GetTimezone()))

	spec := scheduler.CronSpec(cfg.Scheduler.RunHour)
	_, err = c.AddFunc(spec, func() {
		if _, err := daemon.RunOnce(context.Background()); err != nil {
			logrus.WithError(err).Warn("scheduled scan failed")
		}
	})
	if err != nil {
		logrus.Fatalf("Error scheduling daily reminder scan: %v", err)
	}

	// Start the scheduler
	c.Start()
	logrus.WithField("cron", spec).Info("Scheduler started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down scheduler...")
	<-c.Stop().Done()
	logrus.Info("Scheduler stopped")
}
