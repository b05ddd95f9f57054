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

package timelock

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
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
	ScheduledEventType event.EventType = "timelock.scheduled"
	ExecutedEventType  event.EventType = "timelock.executed"
	CancelledEventType event.EventType = "timelock.cancelled"
)

type ScheduledEvent struct {
	OperationID string
	Actions     int
	ScheduledAt time.Time
	ReadyAt     time.Time
	By          string
}

type ExecutedEvent struct {
	OperationID string
	Actions     int
	By          string
}

type CancelledEvent struct {
	OperationID string
	By          string
}

// DefaultMinDelay is the mandatory gap between scheduling an operation
// and its earliest execution.
const DefaultMinDelay = 48 * time.Hour

// Action is one target invocation inside a scheduled operation.
// Target selects a registered handler, Method and Payload are opaque
// to the queue and interpreted by the handler.
type Action struct {
	Target  string
	Method  string
	Payload []byte
}

// OperationID identifies a scheduled operation. It is derived from the
// operation's content, so scheduling the same action list with the
// same description digest yields the same id.
type OperationID [32]byte

func (id OperationID) String() string {
	return hex.EncodeToString(id[:])
}

// ComputeOperationID hashes the action list and the proposal's
// description digest into an operation id.
func ComputeOperationID(actions []Action, digest [32]byte) OperationID {
	h := sha256.New()
	var lenBuf [8]byte
	writeChunk := func(data []byte) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
		h.Write(lenBuf[:])
		h.Write(data)
	}
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(actions)))
	h.Write(lenBuf[:])
	for _, action := range actions {
		writeChunk([]byte(action.Target))
		writeChunk([]byte(action.Method))
		writeChunk(action.Payload)
	}
	h.Write(digest[:])
	var id OperationID
	copy(id[:], h.Sum(nil))
	return id
}

// Handler executes actions for one target. Validate performs the
// stateless checks; Apply may still fail on checks that need live
// component state. Execute snapshots every touched handler before the
// first Apply and restores all of them when any Apply fails, so a
// handler's Snapshot must capture everything its Apply can mutate and
// Restore must rewind to exactly that capture. Snapshot values are
// opaque to the queue.
type Handler interface {
	Validate(action Action) error
	Snapshot() any
	Restore(snapshot any)
	Apply(action Action) error
}

// HandlerFunc assembles a Handler from closures. Nil closures are
// no-ops.
type HandlerFunc struct {
	ValidateFunc func(action Action) error
	SnapshotFunc func() any
	RestoreFunc  func(snapshot any)
	ApplyFunc    func(action Action) error
}

func (h HandlerFunc) Validate(action Action) error {
	if h.ValidateFunc == nil {
		return nil
	}
	return h.ValidateFunc(action)
}

func (h HandlerFunc) Snapshot() any {
	if h.SnapshotFunc == nil {
		return nil
	}
	return h.SnapshotFunc()
}

func (h HandlerFunc) Restore(snapshot any) {
	if h.RestoreFunc == nil {
		return
	}
	h.RestoreFunc(snapshot)
}

func (h HandlerFunc) Apply(action Action) error {
	if h.ApplyFunc == nil {
		return nil
	}
	return h.ApplyFunc(action)
}

type OperationStatus uint8

const (
	OperationScheduled OperationStatus = iota
	OperationExecuted
	OperationCancelled
)

func (s OperationStatus) String() string {
	switch s {
	case OperationScheduled:
		return "scheduled"
	case OperationExecuted:
		return "executed"
	case OperationCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

type Operation struct {
	ID          OperationID
	Actions     []Action
	ScheduledAt time.Time
	ReadyAt     time.Time
	Status      OperationStatus
}

// TooEarlyError indicates an execution attempt before the operation's
// delay elapsed. Retryable after ReadyAt.
type TooEarlyError struct {
	ReadyAt time.Time
	Now     time.Time
}

func (e *TooEarlyError) Error() string {
	return fmt.Sprintf(
		"too early: ready at %s, now %s",
		e.ReadyAt.Format(time.RFC3339),
		e.Now.Format(time.RFC3339),
	)
}

type NotFoundError struct {
	ID OperationID
}

func (e *NotFoundError) Error() string {
	return "operation not found: " + e.ID.String()
}

type AlreadyScheduledError struct {
	ID OperationID
}

func (e *AlreadyScheduledError) Error() string {
	return "operation already scheduled: " + e.ID.String()
}

type InvalidStateError struct {
	Expected string
	Actual   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf(
		"invalid state: expected %s, found %s",
		e.Expected,
		e.Actual,
	)
}

type UnknownTargetError struct {
	Target string
}

func (e *UnknownTargetError) Error() string {
	return "no handler registered for target: " + e.Target
}

// ExecutionError wraps a handler failure during execution. A validate
// failure leaves the operation scheduled and retryable.
type ExecutionError struct {
	Target string
	Method string
	Index  int
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf(
		"action %d (%s.%s) failed: %s",
		e.Index,
		e.Target,
		e.Method,
		e.Err,
	)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type QueueConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Authorizer   *auth.Authorizer
	Clock        clock.Clock
	// MinDelay is the mandatory scheduling delay. Zero selects the
	// default.
	MinDelay time.Duration
	// OpenExecutor allows any caller to execute ready operations.
	// This is a deliberate policy choice, off by default.
	OpenExecutor bool
}

// Queue holds scheduled operations and releases them for execution
// once their delay has elapsed. There is no background scheduler;
// readiness is re-evaluated on each Execute call.
type Queue struct {
	config   QueueConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	clock    clock.Clock
	metrics  struct {
		scheduled prometheus.Counter
		executed  prometheus.Counter
		cancelled prometheus.Counter
		pending   prometheus.Gauge
	}
	operations  map[OperationID]*Operation
	handlers    map[string]Handler
	onExecuted  []func(OperationID)
	onCancelled []func(OperationID)
	mu          sync.Mutex
}

func NewQueue(config QueueConfig) *Queue {
	q := &Queue{
		config:     config,
		eventBus:   config.EventBus,
		clock:      config.Clock,
		operations: make(map[OperationID]*Operation),
		handlers:   make(map[string]Handler),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		q.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		q.logger = config.Logger
	}
	if q.clock == nil {
		q.clock = clock.NewSystemClock()
	}
	if q.config.MinDelay <= 0 {
		q.config.MinDelay = DefaultMinDelay
	}
	promautoFactory := promauto.With(config.PromRegistry)
	q.metrics.scheduled = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_timelock_scheduled_total",
			Help: "total operations scheduled",
		},
	)
	q.metrics.executed = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_timelock_executed_total",
			Help: "total operations executed",
		},
	)
	q.metrics.cancelled = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_timelock_cancelled_total",
			Help: "total operations cancelled",
		},
	)
	q.metrics.pending = promautoFactory.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_timelock_pending",
			Help: "operations scheduled but not yet executed or cancelled",
		},
	)
	return q
}

// RegisterHandler binds a target name to its handler. Later
// registrations for the same target replace earlier ones.
func (q *Queue) RegisterHandler(target string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[target] = handler
}

// OnExecuted registers a callback invoked after an operation executes.
func (q *Queue) OnExecuted(fn func(OperationID)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onExecuted = append(q.onExecuted, fn)
}

// OnCancelled registers a callback invoked after an operation is
// cancelled.
func (q *Queue) OnCancelled(fn func(OperationID)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onCancelled = append(q.onCancelled, fn)
}

// MinDelay returns the configured scheduling delay.
func (q *Queue) MinDelay() time.Duration {
	return q.config.MinDelay
}

// Operation returns a copy of the operation, or a NotFoundError.
// Public read.
func (q *Queue) Operation(id OperationID) (Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.operations[id]
	if !ok {
		return Operation{}, &NotFoundError{ID: id}
	}
	out := *op
	out.Actions = make([]Action, len(op.Actions))
	copy(out.Actions, op.Actions)
	return out, nil
}

// Schedule enqueues an operation derived from the action list and
// description digest, ready after the minimum delay. Every action
// target must have a registered handler up front so a succeeded
// proposal can't schedule an unexecutable operation.
func (q *Queue) Schedule(
	caller string,
	actions []Action,
	digest [32]byte,
) (OperationID, time.Time, error) {
	if !q.config.Authorizer.HasRole(auth.RoleGovernor, caller) {
		return OperationID{}, time.Time{}, &auth.PermissionError{
			Role:      auth.RoleGovernor,
			Principal: caller,
		}
	}
	id := ComputeOperationID(actions, digest)
	now := q.clock.Now()
	readyAt := now.Add(q.config.MinDelay)
	q.mu.Lock()
	if _, ok := q.operations[id]; ok {
		q.mu.Unlock()
		return OperationID{}, time.Time{}, &AlreadyScheduledError{ID: id}
	}
	for _, action := range actions {
		if _, ok := q.handlers[action.Target]; !ok {
			target := action.Target
			q.mu.Unlock()
			return OperationID{}, time.Time{}, &UnknownTargetError{
				Target: target,
			}
		}
	}
	op := &Operation{
		ID:          id,
		Actions:     make([]Action, len(actions)),
		ScheduledAt: now,
		ReadyAt:     readyAt,
		Status:      OperationScheduled,
	}
	copy(op.Actions, actions)
	q.operations[id] = op
	q.mu.Unlock()
	q.logger.Info(
		"scheduled operation",
		"component", "timelock",
		"operation_id", id.String(),
		"actions", len(actions),
		"ready_at", readyAt,
		"by", caller,
	)
	q.metrics.scheduled.Inc()
	q.metrics.pending.Inc()
	if q.eventBus != nil {
		q.eventBus.Publish(
			ScheduledEventType,
			event.NewEvent(
				ScheduledEventType,
				ScheduledEvent{
					OperationID: id.String(),
					Actions:     len(actions),
					ScheduledAt: now,
					ReadyAt:     readyAt,
					By:          caller,
				},
			),
		)
	}
	return id, readyAt, nil
}

// Execute dispatches a ready operation's actions to their handlers.
// Every action is validated before any is applied, and every touched
// handler is snapshotted before the first apply. When any apply fails
// the snapshots are restored in reverse order, so a failed execution
// leaves all state untouched and the operation scheduled for a later
// retry.
func (q *Queue) Execute(caller string, id OperationID) error {
	if !q.config.OpenExecutor &&
		!q.config.Authorizer.HasRole(auth.RoleExecutor, caller) {
		return &auth.PermissionError{
			Role:      auth.RoleExecutor,
			Principal: caller,
		}
	}
	now := q.clock.Now()
	q.mu.Lock()
	op, ok := q.operations[id]
	if !ok {
		q.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	if op.Status != OperationScheduled {
		status := op.Status.String()
		q.mu.Unlock()
		return &InvalidStateError{Expected: "scheduled", Actual: status}
	}
	if now.Before(op.ReadyAt) {
		readyAt := op.ReadyAt
		q.mu.Unlock()
		return &TooEarlyError{ReadyAt: readyAt, Now: now}
	}
	for i, action := range op.Actions {
		handler, ok := q.handlers[action.Target]
		if !ok {
			target := action.Target
			q.mu.Unlock()
			return &UnknownTargetError{Target: target}
		}
		if err := handler.Validate(action); err != nil {
			q.mu.Unlock()
			return &ExecutionError{
				Target: action.Target,
				Method: action.Method,
				Index:  i,
				Err:    err,
			}
		}
	}
	type takenSnapshot struct {
		handler Handler
		state   any
	}
	snapshots := make([]takenSnapshot, 0, len(op.Actions))
	snapshotted := make(map[string]bool, len(op.Actions))
	for _, action := range op.Actions {
		if snapshotted[action.Target] {
			continue
		}
		snapshotted[action.Target] = true
		handler := q.handlers[action.Target]
		snapshots = append(snapshots, takenSnapshot{
			handler: handler,
			state:   handler.Snapshot(),
		})
	}
	for i, action := range op.Actions {
		if err := q.handlers[action.Target].Apply(action); err != nil {
			// Rewind every touched handler so a partial apply never
			// leaks, then leave the operation scheduled for retry
			for j := len(snapshots) - 1; j >= 0; j-- {
				snapshots[j].handler.Restore(snapshots[j].state)
			}
			q.mu.Unlock()
			q.logger.Error(
				"handler apply failed, rolled back",
				"component", "timelock",
				"operation_id", id.String(),
				"target", action.Target,
				"error", err,
			)
			return &ExecutionError{
				Target: action.Target,
				Method: action.Method,
				Index:  i,
				Err:    err,
			}
		}
	}
	op.Status = OperationExecuted
	actionCount := len(op.Actions)
	callbacks := make([]func(OperationID), len(q.onExecuted))
	copy(callbacks, q.onExecuted)
	q.mu.Unlock()
	q.logger.Info(
		"executed operation",
		"component", "timelock",
		"operation_id", id.String(),
		"actions", actionCount,
		"by", caller,
	)
	q.metrics.executed.Inc()
	q.metrics.pending.Dec()
	if q.eventBus != nil {
		q.eventBus.Publish(
			ExecutedEventType,
			event.NewEvent(
				ExecutedEventType,
				ExecutedEvent{
					OperationID: id.String(),
					Actions:     actionCount,
					By:          caller,
				},
			),
		)
	}
	for _, fn := range callbacks {
		fn(id)
	}
	return nil
}

// Cancel drops a scheduled operation before execution.
func (q *Queue) Cancel(caller string, id OperationID) error {
	if !q.config.Authorizer.HasRole(auth.RoleCanceller, caller) {
		return &auth.PermissionError{
			Role:      auth.RoleCanceller,
			Principal: caller,
		}
	}
	q.mu.Lock()
	op, ok := q.operations[id]
	if !ok {
		q.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	if op.Status != OperationScheduled {
		status := op.Status.String()
		q.mu.Unlock()
		return &InvalidStateError{Expected: "scheduled", Actual: status}
	}
	op.Status = OperationCancelled
	callbacks := make([]func(OperationID), len(q.onCancelled))
	copy(callbacks, q.onCancelled)
	q.mu.Unlock()
	q.logger.Info(
		"cancelled operation",
		"component", "timelock",
		"operation_id", id.String(),
		"by", caller,
	)
	q.metrics.cancelled.Inc()
	q.metrics.pending.Dec()
	if q.eventBus != nil {
		q.eventBus.Publish(
			CancelledEventType,
			event.NewEvent(
				CancelledEventType,
				CancelledEvent{OperationID: id.String(), By: caller},
			),
		)
	}
	for _, fn := range callbacks {
		fn(id)
	}
	return nil
}
