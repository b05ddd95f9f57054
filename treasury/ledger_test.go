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

package treasury_test

import (
	"testing"
	"time"

	"github.com/blinklabs-io/bastion/auth"
	"github.com/blinklabs-io/bastion/clock"
	"github.com/blinklabs-io/bastion/event"
	"github.com/blinklabs-io/bastion/pause"
	"github.com/blinklabs-io/bastion/ratelimit"
	"github.com/blinklabs-io/bastion/treasury"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLedger struct {
	ledger     *treasury.Ledger
	authorizer *auth.Authorizer
	pauser     *pause.Controller
	clk        *clock.ManualClock
	eventBus   *event.EventBus
}

func newTestLedger(t *testing.T, globalCap uint64) *testLedger {
	t.Helper()
	authorizer := auth.NewAuthorizer(auth.AuthorizerConfig{
		RootPrincipal: "root",
	})
	require.NoError(t, authorizer.Grant("root", auth.RoleExecutor, "timelock"))
	require.NoError(t, authorizer.Grant("root", auth.RoleEmergency, "guardian"))
	require.NoError(
		t,
		authorizer.Grant("root", auth.RoleRateLimitAdmin, "limits"),
	)
	clk := clock.NewManualClock(
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		100,
	)
	eb := event.NewEventBus(nil, nil)
	t.Cleanup(eb.Stop)
	pauser := pause.NewController(pause.ControllerConfig{
		Authorizer: authorizer,
		Clock:      clk,
	})
	var globalLimit *ratelimit.Window
	if globalCap > 0 {
		globalLimit = ratelimit.NewWindow(ratelimit.WindowConfig{
			Name:           "global",
			Cap:            globalCap,
			WindowDuration: 60 * time.Second,
		})
	}
	ledger := treasury.NewLedger(treasury.LedgerConfig{
		Authorizer:  authorizer,
		Pause:       pauser,
		Clock:       clk,
		EventBus:    eb,
		GlobalLimit: globalLimit,
	})
	return &testLedger{
		ledger:     ledger,
		authorizer: authorizer,
		pauser:     pauser,
		clk:        clk,
		eventBus:   eb,
	}
}

func TestTransfer(t *testing.T) {
	tl := newTestLedger(t, 0)
	require.NoError(t, tl.ledger.Deposit("gold", 1000))
	require.NoError(t, tl.ledger.Transfer("timelock", "gold", "bob", 400))
	assert.Equal(t, uint64(600), tl.ledger.Balance("gold"))
}

func TestTransferUnauthorized(t *testing.T) {
	tl := newTestLedger(t, 0)
	require.NoError(t, tl.ledger.Deposit("gold", 1000))
	var permErr *auth.PermissionError
	require.ErrorAs(
		t,
		tl.ledger.Transfer("mallory", "gold", "mallory", 400),
		&permErr,
	)
	assert.Equal(t, uint64(1000), tl.ledger.Balance("gold"))
}

func TestTransferInsufficientBalance(t *testing.T) {
	tl := newTestLedger(t, 0)
	require.NoError(t, tl.ledger.Deposit("gold", 100))
	var balErr *treasury.InsufficientBalanceError
	require.ErrorAs(
		t,
		tl.ledger.Transfer("timelock", "gold", "bob", 400),
		&balErr,
	)
	assert.Equal(t, uint64(100), balErr.Available)
}

func TestTransferWhilePaused(t *testing.T) {
	tl := newTestLedger(t, 0)
	require.NoError(t, tl.ledger.Deposit("gold", 1000))
	require.NoError(t, tl.pauser.EmergencyPause("guardian"))
	var pausedErr *pause.PausedError
	require.ErrorAs(
		t,
		tl.ledger.Transfer("timelock", "gold", "bob", 400),
		&pausedErr,
	)
	assert.Equal(t, uint64(1000), tl.ledger.Balance("gold"))
}

func TestTransferRateLimited(t *testing.T) {
	tl := newTestLedger(t, 1000)
	require.NoError(t, tl.ledger.Deposit("gold", 10000))
	require.NoError(t, tl.ledger.Transfer("timelock", "gold", "bob", 600))

	tl.clk.Advance(30 * time.Second)
	var exceededErr *ratelimit.ExceededError
	require.ErrorAs(
		t,
		tl.ledger.Transfer("timelock", "gold", "bob", 500),
		&exceededErr,
	)
	// The rejected spend did not touch the balance
	assert.Equal(t, uint64(9400), tl.ledger.Balance("gold"))

	tl.clk.Advance(31 * time.Second)
	require.NoError(t, tl.ledger.Transfer("timelock", "gold", "bob", 300))
}

func TestPerAssetLimitIndependentOfGlobal(t *testing.T) {
	tl := newTestLedger(t, 1000)
	require.NoError(t, tl.ledger.Deposit("gold", 10000))
	require.NoError(t, tl.ledger.Deposit("silver", 10000))
	assetLimit := ratelimit.NewWindow(ratelimit.WindowConfig{
		Name:           "gold",
		Cap:            100,
		WindowDuration: 60 * time.Second,
	})
	require.NoError(t, tl.ledger.SetAssetLimit("limits", "gold", assetLimit))

	// Per-asset cap rejects even though the global cap has room
	var exceededErr *ratelimit.ExceededError
	require.ErrorAs(
		t,
		tl.ledger.Transfer("timelock", "gold", "bob", 500),
		&exceededErr,
	)
	// Other assets only see the global cap
	require.NoError(t, tl.ledger.Transfer("timelock", "silver", "bob", 500))
}

func TestReserveRelease(t *testing.T) {
	tl := newTestLedger(t, 0)
	require.NoError(t, tl.ledger.Deposit("gold", 1000))
	require.NoError(t, tl.ledger.Reserve("timelock", "gold", 700))
	assert.Equal(t, uint64(300), tl.ledger.Available("gold"))

	// Reserved funds are not spendable
	var balErr *treasury.InsufficientBalanceError
	require.ErrorAs(
		t,
		tl.ledger.Transfer("timelock", "gold", "bob", 500),
		&balErr,
	)

	require.NoError(t, tl.ledger.Release("timelock", "gold", 700))
	require.NoError(t, tl.ledger.Transfer("timelock", "gold", "bob", 500))
}

func TestReleaseMoreThanReserved(t *testing.T) {
	tl := newTestLedger(t, 0)
	require.NoError(t, tl.ledger.Deposit("gold", 1000))
	require.NoError(t, tl.ledger.Reserve("timelock", "gold", 100))
	var invalidErr *treasury.InvalidParametersError
	require.ErrorAs(
		t,
		tl.ledger.Release("timelock", "gold", 200),
		&invalidErr,
	)
}

func TestBatchTransferSkipsDegenerateEntries(t *testing.T) {
	tl := newTestLedger(t, 0)
	require.NoError(t, tl.ledger.Deposit("gold", 1000))
	_, skipCh := tl.eventBus.Subscribe(treasury.BatchSkipEventType)

	err := tl.ledger.BatchTransfer(
		"timelock",
		[]string{"gold", "gold", "gold"},
		[]string{"bob", "", "carol"},
		[]uint64{100, 200, 300},
	)
	require.NoError(t, err)
	// The degenerate middle entry was skipped, not transferred
	assert.Equal(t, uint64(600), tl.ledger.Balance("gold"))

	evt := <-skipCh
	skipEvt := evt.Data.(treasury.BatchSkipEvent)
	assert.Equal(t, 1, skipEvt.Index)
	assert.Equal(t, uint64(200), skipEvt.Amount)
}

func TestBatchTransferLengthMismatch(t *testing.T) {
	tl := newTestLedger(t, 0)
	var invalidErr *treasury.InvalidParametersError
	err := tl.ledger.BatchTransfer(
		"timelock",
		[]string{"gold"},
		[]string{"bob", "carol"},
		[]uint64{1, 2},
	)
	require.ErrorAs(t, err, &invalidErr)
}

func TestBatchTransferInsufficientBalanceAborts(t *testing.T) {
	tl := newTestLedger(t, 0)
	require.NoError(t, tl.ledger.Deposit("gold", 100))
	var balErr *treasury.InsufficientBalanceError
	err := tl.ledger.BatchTransfer(
		"timelock",
		[]string{"gold", "gold"},
		[]string{"bob", "carol"},
		[]uint64{80, 80},
	)
	require.ErrorAs(t, err, &balErr)
	// Nothing committed
	assert.Equal(t, uint64(100), tl.ledger.Balance("gold"))
}

func TestDistributeEmissions(t *testing.T) {
	tl := newTestLedger(t, 0)
	require.NoError(t, tl.ledger.Deposit("gold", 10000))
	require.NoError(t, tl.ledger.SetEmissionRate("timelock", "gold", 10))

	tl.clk.Advance(60 * time.Second)
	require.NoError(
		t,
		tl.ledger.DistributeEmissions("timelock", "gold", "pool"),
	)
	// 60s * 10/s = 600
	assert.Equal(t, uint64(9400), tl.ledger.Balance("gold"))
}

func TestDistributeEmissionsInsufficientBalanceNoop(t *testing.T) {
	tl := newTestLedger(t, 0)
	require.NoError(t, tl.ledger.Deposit("gold", 100))
	require.NoError(t, tl.ledger.SetEmissionRate("timelock", "gold", 10))

	tl.clk.Advance(60 * time.Second)
	// 600 accrued > 100 available: silent no-op
	require.NoError(
		t,
		tl.ledger.DistributeEmissions("timelock", "gold", "pool"),
	)
	assert.Equal(t, uint64(100), tl.ledger.Balance("gold"))

	// Accrual is preserved: after topping up, the full amount pays out
	require.NoError(t, tl.ledger.Deposit("gold", 10000))
	require.NoError(
		t,
		tl.ledger.DistributeEmissions("timelock", "gold", "pool"),
	)
	assert.Equal(t, uint64(10100-600), tl.ledger.Balance("gold"))
}

func TestDistributeEmissionsNoRateNoop(t *testing.T) {
	tl := newTestLedger(t, 0)
	require.NoError(t, tl.ledger.Deposit("gold", 100))
	require.NoError(
		t,
		tl.ledger.DistributeEmissions("timelock", "gold", "pool"),
	)
	assert.Equal(t, uint64(100), tl.ledger.Balance("gold"))
}
