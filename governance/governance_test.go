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

package governance_test

import (
	"math"
	"testing"
	"time"

	"github.com/blinklabs-io/bastion/auth"
	"github.com/blinklabs-io/bastion/clock"
	"github.com/blinklabs-io/bastion/governance"
	"github.com/blinklabs-io/bastion/timelock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoot      = "root"
	testPrincipal = "governance-manager"
	testExecutor  = "executor"
	testEmergency = "guardian"
	testProposer  = "alice"
)

type testHarness struct {
	manager    *governance.Manager
	queue      *timelock.Queue
	oracle     *governance.CheckpointOracle
	clock      *clock.ManualClock
	authorizer *auth.Authorizer
	registry   *prometheus.Registry
	scheduler  *schedulerHook
}

// schedulerHook wraps the timelock queue so tests can interleave work
// between the schedule call and the manager's state write.
type schedulerHook struct {
	inner         governance.Scheduler
	afterSchedule func()
	lastID        timelock.OperationID
}

func (s *schedulerHook) Schedule(
	caller string,
	actions []timelock.Action,
	digest [32]byte,
) (timelock.OperationID, time.Time, error) {
	id, readyAt, err := s.inner.Schedule(caller, actions, digest)
	s.lastID = id
	if err == nil && s.afterSchedule != nil {
		s.afterSchedule()
	}
	return id, readyAt, err
}

func (s *schedulerHook) Cancel(
	caller string,
	id timelock.OperationID,
) error {
	return s.inner.Cancel(caller, id)
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	clk := clock.NewManualClock(
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		1000,
	)
	authorizer := auth.NewAuthorizer(auth.AuthorizerConfig{
		PromRegistry:  prometheus.NewRegistry(),
		RootPrincipal: testRoot,
	})
	for _, grant := range []struct {
		role      auth.Role
		principal string
	}{
		{auth.RoleGovernor, testPrincipal},
		{auth.RoleCanceller, testPrincipal},
		{auth.RoleExecutor, testExecutor},
		{auth.RoleEmergency, testEmergency},
	} {
		require.NoError(
			t,
			authorizer.Grant(testRoot, grant.role, grant.principal),
		)
	}
	queue := timelock.NewQueue(timelock.QueueConfig{
		PromRegistry: prometheus.NewRegistry(),
		Authorizer:   authorizer,
		Clock:        clk,
		MinDelay:     time.Hour,
	})
	queue.RegisterHandler("params", timelock.HandlerFunc{})
	oracle := governance.NewCheckpointOracle()
	oracle.SetTotalSupply(0, 1_000_000)
	oracle.SetWeight(testProposer, 0, 50_000)
	registry := prometheus.NewRegistry()
	scheduler := &schedulerHook{inner: queue}
	manager := governance.NewManager(governance.ManagerConfig{
		PromRegistry:      registry,
		Authorizer:        authorizer,
		Clock:             clk,
		Oracle:            oracle,
		Quorum:            governance.FractionQuorum{Numerator: 4, Denominator: 100},
		Scheduler:         scheduler,
		Principal:         testPrincipal,
		ProposalThreshold: 10_000,
		VotingDelay:       10,
		VotingPeriod:      100,
		QueueWindow:       50,
	})
	queue.OnExecuted(manager.HandleExecuted)
	queue.OnCancelled(manager.HandleCancelled)
	return &testHarness{
		manager:    manager,
		queue:      queue,
		oracle:     oracle,
		clock:      clk,
		authorizer: authorizer,
		registry:   registry,
		scheduler:  scheduler,
	}
}

func testActions() []timelock.Action {
	return []timelock.Action{
		{Target: "params", Method: "set-int", Payload: []byte("cap=2000")},
	}
}

func requireState(
	t *testing.T,
	h *testHarness,
	proposalID uint64,
	want governance.ProposalState,
) {
	t.Helper()
	state, err := h.manager.State(proposalID)
	require.NoError(t, err)
	require.Equal(t, want, state)
}

func TestProposalLifecycle(t *testing.T) {
	h := newHarness(t)
	h.oracle.SetWeight("bob", 0, 30_000)
	h.oracle.SetWeight("carol", 0, 20_000)
	proposalID, err := h.manager.Propose(
		testProposer,
		testActions(),
		"raise treasury cap",
	)
	require.NoError(t, err)
	requireState(t, h, proposalID, governance.ProposalPending)
	// Voting not yet open
	_, err = h.manager.CastVote(
		testProposer,
		proposalID,
		governance.SupportFor,
		"",
	)
	var closedErr *governance.VotingClosedError
	require.ErrorAs(t, err, &closedErr)
	assert.Equal(t, governance.ProposalPending, closedErr.State)
	h.clock.AdvancePosition(10)
	requireState(t, h, proposalID, governance.ProposalActive)
	weight, err := h.manager.CastVote(
		testProposer,
		proposalID,
		governance.SupportFor,
		"needed",
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), weight)
	_, err = h.manager.CastVote("bob", proposalID, governance.SupportAgainst, "")
	require.NoError(t, err)
	_, err = h.manager.CastVote("carol", proposalID, governance.SupportAbstain, "")
	require.NoError(t, err)
	tally, err := h.manager.Tally(proposalID)
	require.NoError(t, err)
	assert.Equal(
		t,
		governance.TallyResult{For: 50_000, Against: 30_000, Abstain: 20_000},
		tally,
	)
	h.clock.AdvancePosition(100)
	requireState(t, h, proposalID, governance.ProposalSucceeded)
	require.NoError(t, h.manager.Queue("anyone", proposalID))
	requireState(t, h, proposalID, governance.ProposalQueued)
	proposal, err := h.manager.Proposal(proposalID)
	require.NoError(t, err)
	h.clock.Advance(2 * time.Hour)
	require.NoError(t, h.queue.Execute(testExecutor, proposal.OperationID))
	requireState(t, h, proposalID, governance.ProposalExecuted)
}

func TestQuorumBoundary(t *testing.T) {
	// 4% of 1,000,000 supply: 39,999 participation defeats, 40,000
	// succeeds
	h := newHarness(t)
	h.oracle.SetWeight("small", 0, 39_999)
	h.oracle.SetWeight("exact", 0, 40_000)
	below, err := h.manager.Propose(testProposer, testActions(), "below")
	require.NoError(t, err)
	at, err := h.manager.Propose(testProposer, testActions(), "at")
	require.NoError(t, err)
	h.clock.AdvancePosition(10)
	_, err = h.manager.CastVote("small", below, governance.SupportFor, "")
	require.NoError(t, err)
	_, err = h.manager.CastVote("exact", at, governance.SupportFor, "")
	require.NoError(t, err)
	h.clock.AdvancePosition(100)
	requireState(t, h, below, governance.ProposalDefeated)
	requireState(t, h, at, governance.ProposalSucceeded)
}

func TestForMustExceedAgainst(t *testing.T) {
	h := newHarness(t)
	h.oracle.SetWeight("bob", 0, 50_000)
	proposalID, err := h.manager.Propose(testProposer, testActions(), "tie")
	require.NoError(t, err)
	h.clock.AdvancePosition(10)
	_, err = h.manager.CastVote(
		testProposer,
		proposalID,
		governance.SupportFor,
		"",
	)
	require.NoError(t, err)
	_, err = h.manager.CastVote("bob", proposalID, governance.SupportAgainst, "")
	require.NoError(t, err)
	h.clock.AdvancePosition(100)
	// Quorum met but for == against
	requireState(t, h, proposalID, governance.ProposalDefeated)
}

func TestQuorumSnapshotImmutable(t *testing.T) {
	h := newHarness(t)
	h.oracle.SetWeight("whale", 0, 45_000)
	proposalID, err := h.manager.Propose(testProposer, testActions(), "x")
	require.NoError(t, err)
	// Supply triples after creation; quorum stays at the creation
	// snapshot value
	h.clock.AdvancePosition(5)
	h.oracle.SetTotalSupply(h.clock.Position(), 3_000_000)
	h.clock.AdvancePosition(5)
	_, err = h.manager.CastVote("whale", proposalID, governance.SupportFor, "")
	require.NoError(t, err)
	h.clock.AdvancePosition(100)
	requireState(t, h, proposalID, governance.ProposalSucceeded)
	proposal, err := h.manager.Proposal(proposalID)
	require.NoError(t, err)
	assert.Equal(t, uint64(40_000), proposal.Quorum)
}

func TestVoteWeightSnapshotted(t *testing.T) {
	h := newHarness(t)
	proposalID, err := h.manager.Propose(testProposer, testActions(), "x")
	require.NoError(t, err)
	// Power acquired after creation counts for nothing
	h.clock.AdvancePosition(5)
	h.oracle.SetWeight("latecomer", h.clock.Position(), 100_000)
	h.clock.AdvancePosition(5)
	weight, err := h.manager.CastVote(
		"latecomer",
		proposalID,
		governance.SupportFor,
		"",
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), weight)
	tally, err := h.manager.Tally(proposalID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tally.For)
}

func TestDoubleVoteRejected(t *testing.T) {
	h := newHarness(t)
	proposalID, err := h.manager.Propose(testProposer, testActions(), "x")
	require.NoError(t, err)
	h.clock.AdvancePosition(10)
	_, err = h.manager.CastVote(
		testProposer,
		proposalID,
		governance.SupportFor,
		"",
	)
	require.NoError(t, err)
	_, err = h.manager.CastVote(
		testProposer,
		proposalID,
		governance.SupportAgainst,
		"changed my mind",
	)
	var votedErr *governance.AlreadyVotedError
	require.ErrorAs(t, err, &votedErr)
	// Tally unchanged by the rejected cast
	tally, err := h.manager.Tally(proposalID)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), tally.For)
	assert.Equal(t, uint64(0), tally.Against)
}

func TestVotingClosedAfterEnd(t *testing.T) {
	h := newHarness(t)
	proposalID, err := h.manager.Propose(testProposer, testActions(), "x")
	require.NoError(t, err)
	h.clock.AdvancePosition(110)
	_, err = h.manager.CastVote(
		testProposer,
		proposalID,
		governance.SupportFor,
		"",
	)
	var closedErr *governance.VotingClosedError
	require.ErrorAs(t, err, &closedErr)
}

func TestProposeThreshold(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.Propose("pauper", testActions(), "x")
	var powerErr *governance.InsufficientVotingPowerError
	require.ErrorAs(t, err, &powerErr)
	assert.Equal(t, uint64(10_000), powerErr.Threshold)
	// Proposal-admin role bypasses the threshold
	require.NoError(
		t,
		h.authorizer.Grant(testRoot, auth.RoleProposalAdmin, "pauper"),
	)
	_, err = h.manager.Propose("pauper", testActions(), "x")
	require.NoError(t, err)
}

func TestTooManyActions(t *testing.T) {
	h := newHarness(t)
	actions := make([]timelock.Action, 11)
	for i := range actions {
		actions[i] = timelock.Action{Target: "params"}
	}
	_, err := h.manager.Propose(testProposer, actions, "x")
	var tooMany *governance.TooManyActionsError
	require.ErrorAs(t, err, &tooMany)
}

func TestFractionQuorumExact(t *testing.T) {
	q := governance.FractionQuorum{Numerator: 4, Denominator: 100}
	// Supplies that are not denominator multiples must not lose the
	// remainder to early truncation
	assert.Equal(t, uint64(40_002), q.Quorum(1_000_050))
	assert.Equal(t, uint64(40_000), q.Quorum(1_000_000))
	assert.Equal(t, uint64(0), q.Quorum(24))
	// The full-width product keeps supplies near the uint64 ceiling
	half := governance.FractionQuorum{Numerator: 1, Denominator: 2}
	assert.Equal(
		t,
		uint64(math.MaxUint64/2),
		half.Quorum(math.MaxUint64),
	)
	assert.Equal(t, uint64(0), governance.FractionQuorum{}.Quorum(100))
}

func TestProposeEmptyActions(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.Propose(testProposer, nil, "x")
	var invalid *governance.InvalidParametersError
	require.ErrorAs(t, err, &invalid)
	_, err = h.manager.Propose(testProposer, []timelock.Action{}, "x")
	require.ErrorAs(t, err, &invalid)
}

func TestProposalNotExists(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.State(42)
	var notExists *governance.ProposalNotExistsError
	require.ErrorAs(t, err, &notExists)
	_, err = h.manager.CastVote("x", 42, governance.SupportFor, "")
	require.ErrorAs(t, err, &notExists)
	err = h.manager.Queue("x", 42)
	require.ErrorAs(t, err, &notExists)
}

func TestQueueWindowExpiry(t *testing.T) {
	h := newHarness(t)
	proposalID, err := h.manager.Propose(testProposer, testActions(), "x")
	require.NoError(t, err)
	h.clock.AdvancePosition(10)
	_, err = h.manager.CastVote(
		testProposer,
		proposalID,
		governance.SupportFor,
		"",
	)
	require.NoError(t, err)
	h.clock.AdvancePosition(100)
	requireState(t, h, proposalID, governance.ProposalSucceeded)
	// Nobody queues it within the window
	h.clock.AdvancePosition(50)
	requireState(t, h, proposalID, governance.ProposalExpired)
	err = h.manager.Queue("anyone", proposalID)
	var stateErr *governance.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestQueueRequiresSucceeded(t *testing.T) {
	h := newHarness(t)
	proposalID, err := h.manager.Propose(testProposer, testActions(), "x")
	require.NoError(t, err)
	err = h.manager.Queue("anyone", proposalID)
	var stateErr *governance.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "pending", stateErr.Actual)
}

func TestCancelQueuedProposal(t *testing.T) {
	h := newHarness(t)
	proposalID, err := h.manager.Propose(testProposer, testActions(), "x")
	require.NoError(t, err)
	h.clock.AdvancePosition(10)
	_, err = h.manager.CastVote(
		testProposer,
		proposalID,
		governance.SupportFor,
		"",
	)
	require.NoError(t, err)
	h.clock.AdvancePosition(100)
	require.NoError(t, h.manager.Queue("anyone", proposalID))
	// Emergency role required
	err = h.manager.Cancel("mallory", proposalID)
	var permErr *auth.PermissionError
	require.ErrorAs(t, err, &permErr)
	require.NoError(t, h.manager.Cancel(testEmergency, proposalID))
	requireState(t, h, proposalID, governance.ProposalCancelled)
	// Timelock operation cancelled alongside
	proposal, err := h.manager.Proposal(proposalID)
	require.NoError(t, err)
	op, err := h.queue.Operation(proposal.OperationID)
	require.NoError(t, err)
	assert.Equal(t, timelock.OperationCancelled, op.Status)
	// Terminal states reject further cancels
	err = h.manager.Cancel(testEmergency, proposalID)
	var stateErr *governance.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestCancelDuringQueueWins(t *testing.T) {
	h := newHarness(t)
	proposalID, err := h.manager.Propose(testProposer, testActions(), "x")
	require.NoError(t, err)
	h.clock.AdvancePosition(10)
	_, err = h.manager.CastVote(
		testProposer,
		proposalID,
		governance.SupportFor,
		"",
	)
	require.NoError(t, err)
	h.clock.AdvancePosition(100)
	requireState(t, h, proposalID, governance.ProposalSucceeded)
	// An emergency cancel lands after the timelock schedule but before
	// the manager records the queued state
	h.scheduler.afterSchedule = func() {
		require.NoError(t, h.manager.Cancel(testEmergency, proposalID))
	}
	err = h.manager.Queue("anyone", proposalID)
	var stateErr *governance.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	// The cancel sticks and the orphaned operation was cancelled too
	requireState(t, h, proposalID, governance.ProposalCancelled)
	op, err := h.queue.Operation(h.scheduler.lastID)
	require.NoError(t, err)
	assert.Equal(t, timelock.OperationCancelled, op.Status)
}

func TestProposalsOpenGauge(t *testing.T) {
	h := newHarness(t)
	value := func() float64 {
		t.Helper()
		families, err := h.registry.Gather()
		require.NoError(t, err)
		for _, family := range families {
			if family.GetName() == "bastion_governance_proposals_open" {
				return family.GetMetric()[0].GetGauge().GetValue()
			}
		}
		t.Fatal("gauge not registered")
		return 0
	}
	require.Equal(t, float64(0), value())
	proposalID, err := h.manager.Propose(testProposer, testActions(), "x")
	require.NoError(t, err)
	assert.Equal(t, float64(1), value())
	// Nobody votes, so passing the voting end defeats the proposal.
	// The gauge has to follow even though no transition ever fires.
	h.clock.AdvancePosition(200)
	requireState(t, h, proposalID, governance.ProposalDefeated)
	assert.Equal(t, float64(0), value())
}

func TestTimelockCancelFlowsBack(t *testing.T) {
	h := newHarness(t)
	proposalID, err := h.manager.Propose(testProposer, testActions(), "x")
	require.NoError(t, err)
	h.clock.AdvancePosition(10)
	_, err = h.manager.CastVote(
		testProposer,
		proposalID,
		governance.SupportFor,
		"",
	)
	require.NoError(t, err)
	h.clock.AdvancePosition(100)
	require.NoError(t, h.manager.Queue("anyone", proposalID))
	proposal, err := h.manager.Proposal(proposalID)
	require.NoError(t, err)
	// Direct timelock cancel lands back on the proposal
	require.NoError(
		t,
		h.queue.Cancel(testPrincipal, proposal.OperationID),
	)
	requireState(t, h, proposalID, governance.ProposalCancelled)
}

func TestCheckpointOracleHistory(t *testing.T) {
	oracle := governance.NewCheckpointOracle()
	oracle.SetWeight("alice", 10, 100)
	oracle.SetWeight("alice", 20, 250)
	assert.Equal(t, uint64(0), oracle.WeightAt("alice", 9))
	assert.Equal(t, uint64(100), oracle.WeightAt("alice", 10))
	assert.Equal(t, uint64(100), oracle.WeightAt("alice", 19))
	assert.Equal(t, uint64(250), oracle.WeightAt("alice", 20))
	assert.Equal(t, uint64(250), oracle.WeightAt("alice", 1000))
	assert.Equal(t, uint64(0), oracle.WeightAt("nobody", 1000))
	oracle.SetTotalSupply(0, 1_000_000)
	oracle.SetTotalSupply(50, 2_000_000)
	assert.Equal(t, uint64(1_000_000), oracle.TotalSupplyAt(49))
	assert.Equal(t, uint64(2_000_000), oracle.TotalSupplyAt(50))
}
