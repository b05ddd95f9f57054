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

package bastion

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/bastion/clock"
	"github.com/blinklabs-io/bastion/governance"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry prometheus.Registerer
	logger       *slog.Logger
	clock        clock.Clock
	dataDir      string
	// rootPrincipal is granted the root role at startup and seeds all
	// other role grants
	rootPrincipal string
	// gcsBucket mirrors the audit log to Google Cloud Storage when
	// non-empty
	gcsBucket string
	// apiListenAddress enables the REST API server when non-empty
	apiListenAddress  string
	quorum            governance.FractionQuorum
	proposalThreshold uint64
	votingDelay       uint64
	votingPeriod      uint64
	queueWindow       uint64
	maxActions        int
	minDelay          time.Duration
	openExecutor      bool
	globalRateCap     uint64
	rateWindow        time.Duration
	maxBatchSize      int
	emergencyMaxPause time.Duration
	approvalTimeout   time.Duration
	tracing           bool
	tracingStdout     bool
	shutdownTimeout   time.Duration
}

func (c *Config) validate() error {
	if c.rootPrincipal == "" {
		return errors.New("no root principal defined")
	}
	if c.quorum.Denominator > 0 &&
		c.quorum.Numerator > c.quorum.Denominator {
		return fmt.Errorf(
			"quorum fraction %d/%d exceeds one",
			c.quorum.Numerator,
			c.quorum.Denominator,
		)
	}
	if c.globalRateCap > 0 && c.rateWindow <= 0 {
		return errors.New(
			"global rate cap requires a window duration",
		)
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the engine config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new engine config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		quorum: governance.FractionQuorum{
			Numerator:   4,
			Denominator: 100,
		},
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithClock specifies the clock to use. The default is the system
// clock; tests inject a manual clock to step through voting windows
// and delays deterministically
func WithClock(clk clock.Clock) ConfigOptionFunc {
	return func(c *Config) {
		c.clock = clk
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithRootPrincipal specifies the principal granted the root role at
// startup. Required
func WithRootPrincipal(principal string) ConfigOptionFunc {
	return func(c *Config) {
		c.rootPrincipal = principal
	}
}

// WithGcsBucket specifies a Google Cloud Storage bucket to mirror the
// audit log into. Empty disables mirroring
func WithGcsBucket(bucket string) ConfigOptionFunc {
	return func(c *Config) {
		c.gcsBucket = bucket
	}
}

// WithApiListenAddress specifies the listen address for the REST API
// server. An empty string disables the server. The default is empty
// (disabled)
func WithApiListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = addr
	}
}

// WithQuorum specifies the quorum fraction applied to the total supply
// at each proposal's snapshot. The default is 4/100
func WithQuorum(numerator, denominator uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.quorum = governance.FractionQuorum{
			Numerator:   numerator,
			Denominator: denominator,
		}
	}
}

// WithProposalThreshold specifies the minimum snapshot weight required
// to create a proposal. Holders of the proposal-admin role bypass it
func WithProposalThreshold(threshold uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.proposalThreshold = threshold
	}
}

// WithVotingWindow specifies the voting window geometry in clock
// positions. Zero values select the package defaults
func WithVotingWindow(
	delay, period, queueWindow uint64,
) ConfigOptionFunc {
	return func(c *Config) {
		c.votingDelay = delay
		c.votingPeriod = period
		c.queueWindow = queueWindow
	}
}

// WithMaxActions specifies the maximum action count per proposal
func WithMaxActions(maxActions int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxActions = maxActions
	}
}

// WithMinDelay specifies the mandatory timelock delay between
// scheduling and execution
func WithMinDelay(delay time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.minDelay = delay
	}
}

// WithOpenExecutor allows any caller to execute ready timelock
// operations instead of requiring the executor role. Off by default
func WithOpenExecutor(open bool) ConfigOptionFunc {
	return func(c *Config) {
		c.openExecutor = open
	}
}

// WithGlobalRateLimit specifies the treasury-wide outflow cap per
// rolling window. A zero cap disables the global limit
func WithGlobalRateLimit(
	cap uint64,
	window time.Duration,
) ConfigOptionFunc {
	return func(c *Config) {
		c.globalRateCap = cap
		c.rateWindow = window
	}
}

// WithMaxBatchSize specifies the maximum entry count per batch
// transfer
func WithMaxBatchSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxBatchSize = size
	}
}

// WithEmergencyMaxPause specifies how long an emergency pause can hold
// before expiring on its own
func WithEmergencyMaxPause(d time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.emergencyMaxPause = d
	}
}

// WithApprovalTimeout specifies how long a submitted milestone stays
// approvable
func WithApprovalTimeout(d time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.approvalTimeout = d
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
