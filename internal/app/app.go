// Package app wires the components behind each command of the campaign mailer.
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/database"
	"campaign-mailer-go/internal/metrics"
	"campaign-mailer-go/internal/repository"
)

// SetupLogging configures the JSON logger. debug overrides the configured
// level.
func SetupLogging(level string, debug bool) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	if debug {
		lvl = logrus.DebugLevel
	}
	logrus.SetLevel(lvl)
}

// LoadConfig loads and validates the configuration shared by all commands
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// runtime holds what every command needs: the store and metrics
type runtime struct {
	repo     *repository.Repository
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	close    func()
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &runtime{
		repo:     repository.New(db),
		metrics:  metrics.NewMetrics(reg),
		registry: reg,
		close: func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		},
	}, nil
}
