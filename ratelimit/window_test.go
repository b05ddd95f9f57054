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

package ratelimit_test

import (
	"testing"
	"time"

	"github.com/blinklabs-io/bastion/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestWindow(cap uint64, dur time.Duration, ring int) *ratelimit.Window {
	return ratelimit.NewWindow(ratelimit.WindowConfig{
		Name:           "test",
		Cap:            cap,
		WindowDuration: dur,
		RingSize:       ring,
	})
}

func TestWindowAdmitsWithinCap(t *testing.T) {
	w := newTestWindow(1000, 60*time.Second, 0)
	require.NoError(t, w.TryReserve(600, testStart))
	w.Commit(600, testStart)
	assert.Equal(t, uint64(600), w.WindowSpend(testStart))
}

func TestWindowRejectsOverCap(t *testing.T) {
	w := newTestWindow(1000, 60*time.Second, 0)
	require.NoError(t, w.TryReserve(600, testStart))
	w.Commit(600, testStart)

	// 600 + 500 > 1000 inside the same window
	at30 := testStart.Add(30 * time.Second)
	err := w.TryReserve(500, at30)
	var exceededErr *ratelimit.ExceededError
	require.ErrorAs(t, err, &exceededErr)
	assert.Equal(t, uint64(500), exceededErr.Requested)
	assert.Equal(t, uint64(600), exceededErr.WindowSpend)
	assert.Equal(t, uint64(1000), exceededErr.Cap)

	// The rejected attempt did not change the window
	assert.Equal(t, uint64(600), w.WindowSpend(at30))

	// At t=61 the first entry has aged out
	at61 := testStart.Add(61 * time.Second)
	require.NoError(t, w.TryReserve(300, at61))
	w.Commit(300, at61)
	assert.Equal(t, uint64(300), w.WindowSpend(at61))
}

func TestWindowSoundness(t *testing.T) {
	// Any sequence of admitted commits keeps the window sum at or
	// below the cap at every step
	w := newTestWindow(500, 10*time.Second, 8)
	now := testStart
	for i := range 100 {
		now = now.Add(time.Duration(i%3) * time.Second)
		amount := uint64(50 + i%7*25)
		if err := w.TryReserve(amount, now); err == nil {
			w.Commit(amount, now)
		}
		assert.LessOrEqual(t, w.WindowSpend(now), uint64(500))
	}
}

func TestWindowRingWrapUndercounts(t *testing.T) {
	// With a 2-slot ring, a third commit inside the window overwrites
	// the first entry, so the window sum drops it. This documents the
	// fixed-ring approximation.
	w := newTestWindow(1000, 60*time.Second, 2)
	w.Commit(100, testStart)
	w.Commit(200, testStart.Add(time.Second))
	w.Commit(300, testStart.Add(2*time.Second))
	assert.Equal(
		t,
		uint64(500),
		w.WindowSpend(testStart.Add(3*time.Second)),
	)
}

func TestWindowSetCap(t *testing.T) {
	w := newTestWindow(1000, 60*time.Second, 0)
	w.SetCap(100)
	assert.Equal(t, uint64(100), w.Cap())
	err := w.TryReserve(200, testStart)
	require.Error(t, err)
}

func TestWindowZeroCommitIgnored(t *testing.T) {
	w := newTestWindow(1000, 60*time.Second, 0)
	w.Commit(0, testStart)
	assert.Equal(t, uint64(0), w.WindowSpend(testStart))
}
