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

package pause

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/bastion/auth"
	"github.com/blinklabs-io/bastion/clock"
	"github.com/blinklabs-io/bastion/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	PausedEventType         event.EventType = "pause.paused"
	UnpausedEventType       event.EventType = "pause.unpaused"
	EmergencyPauseEventType event.EventType = "pause.emergency"
)

type PausedEvent struct {
	By string
}

type UnpausedEvent struct {
	By string
}

type EmergencyPauseEvent struct {
	By        string
	ExpiresAt time.Time
}

// DefaultEmergencyMaxDuration bounds an emergency pause that nobody
// releases. The paused predicate self-heals after this duration.
const DefaultEmergencyMaxDuration = 72 * time.Hour

// PausedError indicates a state-changing operation was refused because
// the controller is in a halted state.
type PausedError struct {
	Emergency bool
}

func (e *PausedError) Error() string {
	if e.Emergency {
		return "operation refused: emergency pause active"
	}
	return "operation refused: paused"
}

type ControllerConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Authorizer   *auth.Authorizer
	Clock        clock.Clock
	// EmergencyMaxDuration caps how long an emergency pause can hold
	// without an explicit release. Zero selects the default.
	EmergencyMaxDuration time.Duration
}

// Controller is the cross-cutting halt switch. The regular pause is
// reversible and gated on the executor role (normally the timelock);
// the emergency pause is gated on the narrow emergency role and expires
// on its own: Paused computes the expiry instead of depending on any
// background job calling unpause.
type Controller struct {
	config   ControllerConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	clock    clock.Clock
	metrics  struct {
		paused prometheus.Gauge
	}
	paused          bool
	emergencyActive bool
	emergencyAt     time.Time
	mu              sync.RWMutex
}

func NewController(config ControllerConfig) *Controller {
	c := &Controller{
		config:   config,
		eventBus: config.EventBus,
		clock:    config.Clock,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		c.logger = config.Logger
	}
	if c.clock == nil {
		c.clock = clock.NewSystemClock()
	}
	if c.config.EmergencyMaxDuration <= 0 {
		c.config.EmergencyMaxDuration = DefaultEmergencyMaxDuration
	}
	promautoFactory := promauto.With(config.PromRegistry)
	c.metrics.paused = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "bastion_paused",
		Help: "1 when any halt mechanism is active, 0 otherwise",
	})
	return c
}

// Paused reports whether any halt mechanism is currently active. Safe to
// call from anywhere with no side effects.
func (c *Controller) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pausedLocked()
}

// EmergencyActive reports whether an unexpired emergency pause is in
// effect.
func (c *Controller) EmergencyActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.emergencyActive {
		return false
	}
	expiresAt := c.emergencyAt.Add(c.config.EmergencyMaxDuration)
	return !c.clock.Now().After(expiresAt)
}

func (c *Controller) pausedLocked() bool {
	if c.paused {
		return true
	}
	if c.emergencyActive {
		expiresAt := c.emergencyAt.Add(c.config.EmergencyMaxDuration)
		return !c.clock.Now().After(expiresAt)
	}
	return false
}

// Check returns a PausedError when halted, nil otherwise. Components
// call this at the top of every state-changing operation.
func (c *Controller) Check() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.paused {
		return &PausedError{}
	}
	if c.emergencyActive {
		expiresAt := c.emergencyAt.Add(c.config.EmergencyMaxDuration)
		if !c.clock.Now().After(expiresAt) {
			return &PausedError{Emergency: true}
		}
	}
	return nil
}

// Pause engages the reversible halt. Gated on the executor role since
// the intended caller is the timelock.
func (c *Controller) Pause(caller string) error {
	if !c.config.Authorizer.HasRole(auth.RoleExecutor, caller) {
		return &auth.PermissionError{Role: auth.RoleExecutor, Principal: caller}
	}
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	c.logger.Warn(
		"paused",
		"component", "pause",
		"by", caller,
	)
	c.metrics.paused.Set(1)
	if c.eventBus != nil {
		c.eventBus.Publish(
			PausedEventType,
			event.NewEvent(PausedEventType, PausedEvent{By: caller}),
		)
	}
	return nil
}

// Unpause releases both halt mechanisms. Either the executor or the
// emergency role may release.
func (c *Controller) Unpause(caller string) error {
	if !c.config.Authorizer.HasRole(auth.RoleExecutor, caller) &&
		!c.config.Authorizer.HasRole(auth.RoleEmergency, caller) {
		return &auth.PermissionError{Role: auth.RoleExecutor, Principal: caller}
	}
	c.mu.Lock()
	c.paused = false
	c.emergencyActive = false
	c.mu.Unlock()
	c.logger.Info(
		"unpaused",
		"component", "pause",
		"by", caller,
	)
	c.metrics.paused.Set(0)
	if c.eventBus != nil {
		c.eventBus.Publish(
			UnpausedEventType,
			event.NewEvent(UnpausedEventType, UnpausedEvent{By: caller}),
		)
	}
	return nil
}

// EmergencyPause engages the time-bounded halt. It holds for at most
// EmergencyMaxDuration and then self-expires.
func (c *Controller) EmergencyPause(caller string) error {
	if !c.config.Authorizer.HasRole(auth.RoleEmergency, caller) {
		return &auth.PermissionError{Role: auth.RoleEmergency, Principal: caller}
	}
	now := c.clock.Now()
	c.mu.Lock()
	c.emergencyActive = true
	c.emergencyAt = now
	c.mu.Unlock()
	expiresAt := now.Add(c.config.EmergencyMaxDuration)
	c.logger.Warn(
		fmt.Sprintf("emergency pause active until %s", expiresAt),
		"component", "pause",
		"by", caller,
	)
	c.metrics.paused.Set(1)
	if c.eventBus != nil {
		c.eventBus.Publish(
			EmergencyPauseEventType,
			event.NewEvent(
				EmergencyPauseEventType,
				EmergencyPauseEvent{By: caller, ExpiresAt: expiresAt},
			),
		)
	}
	return nil
}

type controllerSnapshot struct {
	paused          bool
	emergencyActive bool
	emergencyAt     time.Time
}

// Snapshot captures the halt state for later Restore. The returned
// value is opaque to callers.
func (c *Controller) Snapshot() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return controllerSnapshot{
		paused:          c.paused,
		emergencyActive: c.emergencyActive,
		emergencyAt:     c.emergencyAt,
	}
}

// Restore rewinds the controller to a state previously captured by
// Snapshot and resyncs the paused gauge.
func (c *Controller) Restore(snapshot any) {
	s, ok := snapshot.(controllerSnapshot)
	if !ok {
		return
	}
	c.mu.Lock()
	c.paused = s.paused
	c.emergencyActive = s.emergencyActive
	c.emergencyAt = s.emergencyAt
	halted := c.pausedLocked()
	c.mu.Unlock()
	if halted {
		c.metrics.paused.Set(1)
	} else {
		c.metrics.paused.Set(0)
	}
}
