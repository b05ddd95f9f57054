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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/bastion/api"
	"github.com/blinklabs-io/bastion/auth"
	"github.com/blinklabs-io/bastion/clock"
	"github.com/blinklabs-io/bastion/database"
	"github.com/blinklabs-io/bastion/database/audit"
	"github.com/blinklabs-io/bastion/escrow"
	"github.com/blinklabs-io/bastion/event"
	"github.com/blinklabs-io/bastion/governance"
	"github.com/blinklabs-io/bastion/pause"
	"github.com/blinklabs-io/bastion/params"
	"github.com/blinklabs-io/bastion/ratelimit"
	"github.com/blinklabs-io/bastion/timelock"
	"github.com/blinklabs-io/bastion/treasury"
)

// Internal principals the engine presents to its own components. The
// governance principal schedules and cancels timelock operations; the
// timelock principal is the identity handler applications run under.
const (
	GovernancePrincipal = "bastion:governance"
	TimelockPrincipal   = "bastion:timelock"
)

// Engine wires the governance components together: proposals feed the
// timelock, executed timelock operations mutate the treasury, escrow,
// parameter store, pause controller and role registry, and every
// mutation is mirrored into the database through the event bus.
type Engine struct {
	config        Config
	eventBus      *event.EventBus
	clock         clock.Clock
	authorizer    *auth.Authorizer
	pause         *pause.Controller
	params        *params.Store
	oracle        *governance.CheckpointOracle
	governance    *governance.Manager
	timelock      *timelock.Queue
	treasury      *treasury.Ledger
	escrow        *escrow.Escrow
	db            *database.Database
	recorder      *database.Recorder
	apiServer     *api.Api
	shutdownFuncs []func(context.Context) error
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	clk := cfg.clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	e := &Engine{
		config:   cfg,
		eventBus: eventBus,
		clock:    clk,
		done:     make(chan struct{}),
	}
	e.authorizer = auth.NewAuthorizer(auth.AuthorizerConfig{
		PromRegistry:  cfg.promRegistry,
		Logger:        cfg.logger,
		EventBus:      eventBus,
		RootPrincipal: cfg.rootPrincipal,
	})
	e.pause = pause.NewController(pause.ControllerConfig{
		PromRegistry:         cfg.promRegistry,
		Logger:               cfg.logger,
		EventBus:             eventBus,
		Authorizer:           e.authorizer,
		Clock:                clk,
		EmergencyMaxDuration: cfg.emergencyMaxPause,
	})
	e.params = params.NewStore(params.StoreConfig{
		PromRegistry: cfg.promRegistry,
		Logger:       cfg.logger,
		EventBus:     eventBus,
		Authorizer:   e.authorizer,
	})
	var globalLimit *ratelimit.Window
	if cfg.globalRateCap > 0 {
		globalLimit = ratelimit.NewWindow(ratelimit.WindowConfig{
			PromRegistry:   cfg.promRegistry,
			Logger:         cfg.logger,
			Name:           "global",
			Cap:            cfg.globalRateCap,
			WindowDuration: cfg.rateWindow,
		})
	}
	e.treasury = treasury.NewLedger(treasury.LedgerConfig{
		PromRegistry: cfg.promRegistry,
		Logger:       cfg.logger,
		EventBus:     eventBus,
		Authorizer:   e.authorizer,
		Pause:        e.pause,
		Clock:        clk,
		GlobalLimit:  globalLimit,
		MaxBatchSize: cfg.maxBatchSize,
	})
	e.escrow = escrow.NewEscrow(escrow.EscrowConfig{
		PromRegistry:    cfg.promRegistry,
		Logger:          cfg.logger,
		EventBus:        eventBus,
		Authorizer:      e.authorizer,
		Pause:           e.pause,
		Clock:           clk,
		ApprovalTimeout: cfg.approvalTimeout,
	})
	e.timelock = timelock.NewQueue(timelock.QueueConfig{
		PromRegistry: cfg.promRegistry,
		Logger:       cfg.logger,
		EventBus:     eventBus,
		Authorizer:   e.authorizer,
		Clock:        clk,
		MinDelay:     cfg.minDelay,
		OpenExecutor: cfg.openExecutor,
	})
	e.oracle = governance.NewCheckpointOracle()
	e.governance = governance.NewManager(governance.ManagerConfig{
		PromRegistry:      cfg.promRegistry,
		Logger:            cfg.logger,
		EventBus:          eventBus,
		Authorizer:        e.authorizer,
		Clock:             clk,
		Oracle:            e.oracle,
		Quorum:            cfg.quorum,
		Scheduler:         e.timelock,
		Principal:         GovernancePrincipal,
		ProposalThreshold: cfg.proposalThreshold,
		VotingDelay:       cfg.votingDelay,
		VotingPeriod:      cfg.votingPeriod,
		QueueWindow:       cfg.queueWindow,
		MaxActions:        cfg.maxActions,
	})
	e.timelock.OnExecuted(e.governance.HandleExecuted)
	e.timelock.OnCancelled(e.governance.HandleCancelled)
	e.registerHandlers()
	if err := e.bootstrapRoles(); err != nil {
		return nil, fmt.Errorf("role bootstrap: %w", err)
	}
	return e, nil
}

// bootstrapRoles grants the internal principals the roles they need to
// drive the component graph. The root principal holds the root role
// from authorizer construction and seeds everything else.
func (e *Engine) bootstrapRoles() error {
	root := e.config.rootPrincipal
	grants := []struct {
		role      auth.Role
		principal string
	}{
		{auth.RoleGovernor, GovernancePrincipal},
		{auth.RoleCanceller, GovernancePrincipal},
		{auth.RoleExecutor, TimelockPrincipal},
		{auth.RoleProjectAdmin, TimelockPrincipal},
		{auth.RoleRateLimitAdmin, TimelockPrincipal},
		// Role administration itself is a governance action, so the
		// timelock principal needs the root role
		{auth.RoleRoot, TimelockPrincipal},
	}
	for _, g := range grants {
		if err := e.authorizer.Grant(root, g.role, g.principal); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) Run(ctx context.Context) error {
	// Configure tracing
	if e.config.tracing {
		if err := e.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	var mirror audit.Mirror
	if e.config.gcsBucket != "" {
		gcsMirror, err := audit.NewGCSMirror(ctx, e.config.gcsBucket)
		if err != nil {
			return fmt.Errorf("failed to open audit mirror: %w", err)
		}
		mirror = gcsMirror
	}
	db, err := database.New(e.config.logger, e.config.dataDir, mirror)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	e.db = db
	// Start the event recorder so every component event lands in the
	// metadata store and audit log
	e.recorder = database.NewRecorder(e.config.logger, db, e.eventBus)
	e.recorder.Start()
	// Start API server
	if e.config.apiListenAddress != "" {
		e.apiServer = api.New(
			api.ApiConfig{
				ListenAddress: e.config.apiListenAddress,
			},
			&nodeBridge{engine: e},
			e.config.logger,
		)
		if err := e.apiServer.Start(ctx); err != nil {
			return err
		}
	}
	// Shut down on context cancellation
	go func() {
		<-ctx.Done()
		_ = e.Stop()
	}()

	// Wait for shutdown signal
	<-e.done
	return nil
}

func (e *Engine) Stop() error {
	var err error
	e.shutdownOnce.Do(func() {
		err = e.shutdown()
	})
	return err
}

func (e *Engine) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if e.config.shutdownTimeout > 0 {
		shutdownTimeout = e.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	e.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	e.config.logger.Debug("shutdown phase 1: stopping new work")

	if e.apiServer != nil {
		if stopErr := e.apiServer.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}

	// Phase 2: Flush state and close database
	e.config.logger.Debug("shutdown phase 2: flushing state")

	if e.db != nil {
		if closeErr := e.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 3: Cleanup resources
	e.config.logger.Debug("shutdown phase 3: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range e.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	e.shutdownFuncs = nil

	if e.eventBus != nil {
		e.eventBus.Stop()
	}

	e.config.logger.Debug("graceful shutdown complete")
	close(e.done)
	return err
}

// Authorizer returns the role registry.
func (e *Engine) Authorizer() *auth.Authorizer {
	return e.authorizer
}

// Pause returns the pause controller.
func (e *Engine) Pause() *pause.Controller {
	return e.pause
}

// Params returns the typed parameter store.
func (e *Engine) Params() *params.Store {
	return e.params
}

// Oracle returns the checkpoint voting-weight oracle.
func (e *Engine) Oracle() *governance.CheckpointOracle {
	return e.oracle
}

// Governance returns the proposal manager.
func (e *Engine) Governance() *governance.Manager {
	return e.governance
}

// Timelock returns the delayed-execution queue.
func (e *Engine) Timelock() *timelock.Queue {
	return e.timelock
}

// Treasury returns the asset ledger.
func (e *Engine) Treasury() *treasury.Ledger {
	return e.treasury
}

// Escrow returns the milestone escrow.
func (e *Engine) Escrow() *escrow.Escrow {
	return e.escrow
}

// Database returns the persistence layer. Nil until Run has opened it.
func (e *Engine) Database() *database.Database {
	return e.db
}

// EventBus returns the engine's event bus.
func (e *Engine) EventBus() *event.EventBus {
	return e.eventBus
}
