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

package ratelimit

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultRingSize = 64

// ExceededError indicates a spend would push the rolling window past
// its cap. Retryable once time advances or the amount shrinks.
type ExceededError struct {
	Requested   uint64
	WindowSpend uint64
	Cap         uint64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf(
		"rate limit exceeded: requested=%d, window spend=%d, cap=%d",
		e.Requested,
		e.WindowSpend,
		e.Cap,
	)
}

type WindowConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	// Name labels log lines and metrics when several windows coexist
	// (global plus per-asset instances)
	Name           string
	Cap            uint64
	WindowDuration time.Duration
	// RingSize fixes the entry ring length at construction. Zero
	// selects the default.
	RingSize int
}

type windowEntry struct {
	timestamp time.Time
	amount    uint64
}

// Window tracks spend events inside a rolling time window using a
// fixed-length ring. Memory stays bounded at RingSize regardless of
// event volume. When more than RingSize events land inside a single
// window the oldest ones are overwritten before they age out, so the
// window sum under-counts and admits more than a true sliding window
// would. This is a known, intentional approximation; size the ring for
// the expected event rate rather than "fixing" the accounting.
type Window struct {
	config  WindowConfig
	logger  *slog.Logger
	metrics struct {
		commits    prometheus.Counter
		rejections prometheus.Counter
	}
	entries []windowEntry
	cursor  int
	cap     uint64
	dur     time.Duration
	mu      sync.RWMutex
}

func NewWindow(config WindowConfig) *Window {
	w := &Window{
		config: config,
		cap:    config.Cap,
		dur:    config.WindowDuration,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		w.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		w.logger = config.Logger
	}
	ringSize := config.RingSize
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	w.entries = make([]windowEntry, ringSize)
	promautoFactory := promauto.With(config.PromRegistry)
	w.metrics.commits = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_ratelimit_commits_total",
			Help: "total committed spend events",
			ConstLabels: prometheus.Labels{
				"window": config.Name,
			},
		},
	)
	w.metrics.rejections = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_ratelimit_rejections_total",
			Help: "total spend events rejected by the window cap",
			ConstLabels: prometheus.Labels{
				"window": config.Name,
			},
		},
	)
	return w
}

func (w *Window) spend(now time.Time) uint64 {
	var total uint64
	horizon := now.Add(-w.dur)
	for _, entry := range w.entries {
		if entry.amount == 0 {
			continue
		}
		if entry.timestamp.Before(horizon) || entry.timestamp.After(now) {
			continue
		}
		total += entry.amount
	}
	return total
}

// WindowSpend returns the sum of committed amounts inside the window
// ending at now. Public read with no side effects.
func (w *Window) WindowSpend(now time.Time) uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.spend(now)
}

// Cap returns the current window cap.
func (w *Window) Cap() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cap
}

// Duration returns the current window duration.
func (w *Window) Duration() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dur
}

// TryReserve reports whether a spend of amount at now would stay within
// the cap. It does not record anything; callers commit separately once
// the spend is final.
func (w *Window) TryReserve(amount uint64, now time.Time) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	current := w.spend(now)
	if current+amount > w.cap {
		w.metrics.rejections.Inc()
		w.logger.Debug(
			"rejected spend",
			"component", "ratelimit",
			"window", w.config.Name,
			"requested", amount,
			"window_spend", current,
			"cap", w.cap,
		)
		return &ExceededError{
			Requested:   amount,
			WindowSpend: current,
			Cap:         w.cap,
		}
	}
	return nil
}

// Commit records a spend of amount at now, overwriting the oldest ring
// slot. Zero amounts are ignored so an empty slot always means unused.
func (w *Window) Commit(amount uint64, now time.Time) {
	if amount == 0 {
		return
	}
	w.mu.Lock()
	w.entries[w.cursor] = windowEntry{
		amount:    amount,
		timestamp: now,
	}
	w.cursor = (w.cursor + 1) % len(w.entries)
	w.mu.Unlock()
	w.metrics.commits.Inc()
}

// SetCap adjusts the window cap. Authorization is the embedding
// component's concern; the window itself is pure accounting state.
func (w *Window) SetCap(cap uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cap = cap
}

// SetDuration adjusts the window duration.
func (w *Window) SetDuration(dur time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dur = dur
}

type windowSnapshot struct {
	entries []windowEntry
	cursor  int
	cap     uint64
	dur     time.Duration
}

// Snapshot captures the full accounting state for later Restore. The
// returned value is opaque to callers.
func (w *Window) Snapshot() any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return windowSnapshot{
		entries: slices.Clone(w.entries),
		cursor:  w.cursor,
		cap:     w.cap,
		dur:     w.dur,
	}
}

// Restore rewinds the window to a state previously captured by
// Snapshot. Values produced elsewhere are ignored.
func (w *Window) Restore(snapshot any) {
	s, ok := snapshot.(windowSnapshot)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = slices.Clone(s.entries)
	w.cursor = s.cursor
	w.cap = s.cap
	w.dur = s.dur
}
