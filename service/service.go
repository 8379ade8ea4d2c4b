package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-bundletest/metrics"
)

// Config selects the servers to run. Empty or disabled servers are skipped.
type Config struct {
	HealthzAddr string
	Metrics     opmetrics.CLIConfig
}

// Service runs the optional healthz and metrics servers of watch mode
type Service struct {
	log     log.Logger
	cfg     Config
	Healthz *HealthzServer
	metrics *httputil.HTTPServer
}

func New(logger log.Logger, cfg Config) *Service {
	return &Service{
		log:     logger,
		cfg:     cfg,
		Healthz: NewHealthzServer(logger),
	}
}

func (s *Service) Start() error {
	s.log.Info("service starting")

	if s.cfg.HealthzAddr != "" {
		if err := s.Healthz.Start(s.cfg.HealthzAddr); err != nil {
			metrics.RecordErrorDetails("healthz_start", err)
			return fmt.Errorf("failed to start healthz server: %w", err)
		}
	}

	if s.cfg.Metrics.Enabled {
		registry := opmetrics.NewRegistry()
		registry.MustRegister(metrics.Collectors()...)
		s.log.Info("Starting metrics server", "addr", s.cfg.Metrics.ListenAddr, "port", s.cfg.Metrics.ListenPort)
		server, err := opmetrics.StartServer(registry, s.cfg.Metrics.ListenAddr, s.cfg.Metrics.ListenPort)
		if err != nil {
			metrics.RecordErrorDetails("metrics_start", err)
			return errors.Join(fmt.Errorf("failed to start metrics server: %w", err), s.Healthz.Shutdown(context.Background()))
		}
		s.log.Info("Started metrics server", "endpoint", server.Addr())
		s.metrics = server
	}

	s.log.Info("service started")
	return nil
}

func (s *Service) Shutdown(ctx context.Context) error {
	s.log.Info("service shutting down")

	var result error
	if err := s.Healthz.Shutdown(ctx); err != nil {
		result = errors.Join(result, fmt.Errorf("failed to stop healthz server: %w", err))
	}
	s.log.Info("healthz stopped")

	if s.metrics != nil {
		if err := s.metrics.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
		s.log.Info("metrics stopped")
	}

	s.log.Info("service stopped")
	return result
}
