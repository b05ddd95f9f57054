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

package params

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/blinklabs-io/bastion/auth"
	"github.com/blinklabs-io/bastion/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const ParameterSetEventType event.EventType = "params.set"

// Kind identifies the typed slot namespace a parameter lives in. An
// integer parameter and a string parameter with the same name are
// independent slots.
type Kind string

const (
	KindInt    Kind = "int"
	KindString Kind = "string"
	KindAddr   Kind = "addr"
	KindBool   Kind = "bool"
)

type ParameterSetEvent struct {
	Kind      Kind
	Name      string
	Old       any
	New       any
	Existed   bool
	By        string
	Emergency bool
}

// NotFoundError indicates a lookup for a parameter that was never set.
type NotFoundError struct {
	Kind Kind
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("parameter not found: %s/%s", e.Kind, e.Name)
}

type StoreConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Authorizer   *auth.Authorizer
}

type register[T comparable] struct {
	values map[string]T
	// names is append-only so enumeration order is stable across the
	// life of the store
	names []string
}

func newRegister[T comparable]() register[T] {
	return register[T]{values: make(map[string]T)}
}

func (r *register[T]) set(name string, value T) (old T, existed bool) {
	old, existed = r.values[name]
	if !existed {
		r.names = append(r.names, name)
	}
	r.values[name] = value
	return old, existed
}

func (r *register[T]) get(name string) (T, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Store is the typed key/value configuration register. Writes are gated
// on the executor role (normally held by the timelock) or, for the
// emergency variants, the emergency role. Reads are public.
type Store struct {
	config   StoreConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	metrics  struct {
		writesTotal *prometheus.CounterVec
	}
	ints  register[int64]
	strs  register[string]
	addrs register[string]
	bools register[bool]
	mu    sync.RWMutex
}

func NewStore(config StoreConfig) *Store {
	s := &Store{
		config:   config,
		eventBus: config.EventBus,
		ints:     newRegister[int64](),
		strs:     newRegister[string](),
		addrs:    newRegister[string](),
		bools:    newRegister[bool](),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		s.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	s.metrics.writesTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_parameter_writes_total",
			Help: "total parameter writes by kind",
		},
		[]string{"kind", "emergency"},
	)
	return s
}

func (s *Store) authorize(caller string, emergency bool) error {
	if emergency {
		if !s.config.Authorizer.HasRole(auth.RoleEmergency, caller) {
			return &auth.PermissionError{
				Role:      auth.RoleEmergency,
				Principal: caller,
			}
		}
		return nil
	}
	if s.config.Authorizer.HasRole(auth.RoleExecutor, caller) ||
		s.config.Authorizer.HasRole(auth.RoleParameterAdmin, caller) {
		return nil
	}
	return &auth.PermissionError{Role: auth.RoleExecutor, Principal: caller}
}

func (s *Store) recordWrite(
	kind Kind,
	name string,
	old, newValue any,
	existed bool,
	caller string,
	emergency bool,
) {
	s.logger.Info(
		"parameter written",
		"component", "params",
		"kind", kind,
		"name", name,
		"old", old,
		"new", newValue,
		"existed", existed,
		"by", caller,
		"emergency", emergency,
	)
	s.metrics.writesTotal.WithLabelValues(
		string(kind),
		fmt.Sprintf("%t", emergency),
	).Inc()
	if s.eventBus != nil {
		s.eventBus.Publish(
			ParameterSetEventType,
			event.NewEvent(
				ParameterSetEventType,
				ParameterSetEvent{
					Kind:      kind,
					Name:      name,
					Old:       old,
					New:       newValue,
					Existed:   existed,
					By:        caller,
					Emergency: emergency,
				},
			),
		)
	}
}

func setParam[T comparable](
	s *Store,
	r *register[T],
	kind Kind,
	caller, name string,
	value T,
	emergency bool,
) error {
	if name == "" {
		return fmt.Errorf("invalid parameters: empty parameter name")
	}
	if err := s.authorize(caller, emergency); err != nil {
		return err
	}
	s.mu.Lock()
	old, existed := r.set(name, value)
	s.mu.Unlock()
	var oldValue any
	if existed {
		oldValue = old
	}
	s.recordWrite(kind, name, oldValue, value, existed, caller, emergency)
	return nil
}

func getParam[T comparable](
	s *Store,
	r *register[T],
	kind Kind,
	name string,
) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := r.get(name)
	if !ok {
		var zero T
		return zero, &NotFoundError{Kind: kind, Name: name}
	}
	return v, nil
}

func (s *Store) SetInt(caller, name string, value int64) error {
	return setParam(s, &s.ints, KindInt, caller, name, value, false)
}

func (s *Store) EmergencySetInt(caller, name string, value int64) error {
	return setParam(s, &s.ints, KindInt, caller, name, value, true)
}

func (s *Store) GetInt(name string) (int64, error) {
	return getParam(s, &s.ints, KindInt, name)
}

func (s *Store) SetString(caller, name, value string) error {
	return setParam(s, &s.strs, KindString, caller, name, value, false)
}

func (s *Store) EmergencySetString(caller, name, value string) error {
	return setParam(s, &s.strs, KindString, caller, name, value, true)
}

func (s *Store) GetString(name string) (string, error) {
	return getParam(s, &s.strs, KindString, name)
}

func (s *Store) SetAddr(caller, name, value string) error {
	return setParam(s, &s.addrs, KindAddr, caller, name, value, false)
}

func (s *Store) EmergencySetAddr(caller, name, value string) error {
	return setParam(s, &s.addrs, KindAddr, caller, name, value, true)
}

func (s *Store) GetAddr(name string) (string, error) {
	return getParam(s, &s.addrs, KindAddr, name)
}

func (s *Store) SetBool(caller, name string, value bool) error {
	return setParam(s, &s.bools, KindBool, caller, name, value, false)
}

func (s *Store) EmergencySetBool(caller, name string, value bool) error {
	return setParam(s, &s.bools, KindBool, caller, name, value, true)
}

func (s *Store) GetBool(name string) (bool, error) {
	return getParam(s, &s.bools, KindBool, name)
}

// Names enumerates the registered names for a kind in registration
// order. The registry is append-only, so positions are stable.
func (s *Store) Names(kind Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	switch kind {
	case KindInt:
		names = s.ints.names
	case KindString:
		names = s.strs.names
	case KindAddr:
		names = s.addrs.names
	case KindBool:
		names = s.bools.names
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}

func (r *register[T]) clone() register[T] {
	return register[T]{
		values: maps.Clone(r.values),
		names:  slices.Clone(r.names),
	}
}

type storeSnapshot struct {
	ints  register[int64]
	strs  register[string]
	addrs register[string]
	bools register[bool]
}

// Snapshot captures all four typed registers for later Restore. The
// returned value is opaque to callers.
func (s *Store) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return storeSnapshot{
		ints:  s.ints.clone(),
		strs:  s.strs.clone(),
		addrs: s.addrs.clone(),
		bools: s.bools.clone(),
	}
}

// Restore rewinds the store to a state previously captured by
// Snapshot.
func (s *Store) Restore(snapshot any) {
	snap, ok := snapshot.(storeSnapshot)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ints = snap.ints.clone()
	s.strs = snap.strs.clone()
	s.addrs = snap.addrs.clone()
	s.bools = snap.bools.clone()
}
