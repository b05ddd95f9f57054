// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/bastion"
	"github.com/blinklabs-io/bastion/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func buildEngineConfig(
	cfg *config.Config,
	logger *slog.Logger,
) (bastion.Config, time.Duration, error) {
	// Parse shutdown timeout
	shutdownTimeout := 30 * time.Second // Default timeout
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return bastion.Config{}, 0, fmt.Errorf(
				"invalid shutdown timeout: %w",
				err,
			)
		}
	}
	minDelay, err := time.ParseDuration(cfg.MinDelay)
	if err != nil {
		return bastion.Config{}, 0, fmt.Errorf("invalid min delay: %w", err)
	}
	rateWindow, err := time.ParseDuration(cfg.RateWindow)
	if err != nil {
		return bastion.Config{}, 0, fmt.Errorf("invalid rate window: %w", err)
	}
	emergencyMaxPause, err := time.ParseDuration(cfg.EmergencyMaxPause)
	if err != nil {
		return bastion.Config{}, 0, fmt.Errorf(
			"invalid emergency max pause: %w",
			err,
		)
	}
	approvalTimeout, err := time.ParseDuration(cfg.ApprovalTimeout)
	if err != nil {
		return bastion.Config{}, 0, fmt.Errorf(
			"invalid approval timeout: %w",
			err,
		)
	}
	engineCfg := bastion.NewConfig(
		bastion.WithLogger(logger),
		bastion.WithDatabasePath(cfg.DataDir),
		bastion.WithRootPrincipal(cfg.RootPrincipal),
		bastion.WithGcsBucket(cfg.GcsBucket),
		bastion.WithApiListenAddress(cfg.ApiListenAddress),
		bastion.WithQuorum(cfg.QuorumNumerator, cfg.QuorumDenominator),
		bastion.WithProposalThreshold(cfg.ProposalThreshold),
		bastion.WithVotingWindow(
			cfg.VotingDelay,
			cfg.VotingPeriod,
			cfg.QueueWindow,
		),
		bastion.WithMaxActions(cfg.MaxActions),
		bastion.WithMinDelay(minDelay),
		bastion.WithOpenExecutor(cfg.OpenExecutor),
		bastion.WithGlobalRateLimit(cfg.GlobalRateCap, rateWindow),
		bastion.WithMaxBatchSize(cfg.MaxBatchSize),
		bastion.WithEmergencyMaxPause(emergencyMaxPause),
		bastion.WithApprovalTimeout(approvalTimeout),
		// Enable metrics with default prometheus registry
		bastion.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		bastion.WithTracing(cfg.Tracing),
		bastion.WithTracingStdout(cfg.TracingStdout),
		bastion.WithShutdownTimeout(shutdownTimeout),
	)
	return engineCfg, shutdownTimeout, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")

	engineCfg, shutdownTimeout, err := buildEngineConfig(cfg, logger)
	if err != nil {
		return err
	}
	e, err := bastion.New(engineCfg)
	if err != nil {
		return err
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			":%d",
			cfg.MetricsPort,
		),
		"component",
		"node",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			":%d",
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run engine in goroutine
	errChan := make(chan error, 1)
	go func() {
		//nolint:contextcheck
		err := e.Run(signalCtx)
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")

		// Shutdown metrics server
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}

		// Shutdown engine
		if err := e.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil

	case err := <-errChan:
		if err == nil {
			logger.Info("engine stopped")
			// Graceful cleanup
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				shutdownTimeout,
			)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}
			if err := e.Stop(); err != nil {
				logger.Error("shutdown errors occurred", "error", err)
				return err
			}
			return nil
		}
		logger.Error("engine error", "error", err)
		signalCtxStop()

		// Shutdown engine resources
		if stopErr := e.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error",
				stopErr,
			)
		}

		// Cleanup on error
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("metrics server shutdown error", "error", shutdownErr)
		}

		return err
	}
}
