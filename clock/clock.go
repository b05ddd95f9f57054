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

package clock

import (
	"sync"
	"time"
)

// Clock provides the two time domains used by the engine: a wall-clock
// timestamp for delay and window math, and a monotonically increasing
// logical position for voting snapshots.
type Clock interface {
	Now() time.Time
	Position() uint64
}

// SystemClock derives both domains from the host clock. The logical
// position advances once per second, which is sufficient granularity
// for voting windows measured in minutes or longer.
type SystemClock struct{}

func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) Now() time.Time {
	return time.Now()
}

func (c *SystemClock) Position() uint64 {
	now := time.Now().Unix()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

// ManualClock is a settable clock for tests and deterministic replay.
type ManualClock struct {
	mu       sync.RWMutex
	now      time.Time
	position uint64
}

func NewManualClock(now time.Time, position uint64) *ManualClock {
	return &ManualClock{
		now:      now,
		position: position,
	}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *ManualClock) Position() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position
}

// Advance moves the wall clock forward and bumps the logical position.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.position++
}

// AdvancePosition bumps the logical position without moving the wall clock.
func (c *ManualClock) AdvancePosition(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position += n
}

// SetNow moves the wall clock to an absolute time. The logical position
// is bumped so callers never observe time moving without the position.
func (c *ManualClock) SetNow(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	c.position++
}
