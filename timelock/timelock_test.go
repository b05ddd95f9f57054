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

package timelock_test

import (
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/blinklabs-io/bastion/auth"
	"github.com/blinklabs-io/bastion/clock"
	"github.com/blinklabs-io/bastion/timelock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoot      = "root"
	testGovernor  = "governor"
	testExecutor  = "alice"
	testCanceller = "bob"
)

func testQueue(
	t *testing.T,
	openExecutor bool,
) (*timelock.Queue, *clock.ManualClock) {
	t.Helper()
	clk := clock.NewManualClock(
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		1000,
	)
	authorizer := auth.NewAuthorizer(auth.AuthorizerConfig{
		PromRegistry:  prometheus.NewRegistry(),
		RootPrincipal: testRoot,
	})
	require.NoError(
		t,
		authorizer.Grant(testRoot, auth.RoleGovernor, testGovernor),
	)
	require.NoError(
		t,
		authorizer.Grant(testRoot, auth.RoleExecutor, testExecutor),
	)
	require.NoError(
		t,
		authorizer.Grant(testRoot, auth.RoleCanceller, testCanceller),
	)
	q := timelock.NewQueue(timelock.QueueConfig{
		PromRegistry: prometheus.NewRegistry(),
		Authorizer:   authorizer,
		Clock:        clk,
		MinDelay:     time.Hour,
		OpenExecutor: openExecutor,
	})
	return q, clk
}

type recordingHandler struct {
	validateErr error
	applyErr    error
	applied     []timelock.Action
	restores    int
}

func (h *recordingHandler) Validate(action timelock.Action) error {
	return h.validateErr
}

func (h *recordingHandler) Snapshot() any {
	return len(h.applied)
}

func (h *recordingHandler) Restore(snapshot any) {
	if n, ok := snapshot.(int); ok {
		h.applied = h.applied[:n]
		h.restores++
	}
}

func (h *recordingHandler) Apply(action timelock.Action) error {
	if h.applyErr != nil {
		return h.applyErr
	}
	h.applied = append(h.applied, action)
	return nil
}

func TestScheduleExecute(t *testing.T) {
	q, clk := testQueue(t, false)
	handler := &recordingHandler{}
	q.RegisterHandler("params", handler)
	actions := []timelock.Action{
		{Target: "params", Method: "set-int", Payload: []byte("x=1")},
		{Target: "params", Method: "set-int", Payload: []byte("y=2")},
	}
	digest := sha256.Sum256([]byte("raise limits"))
	id, readyAt, err := q.Schedule(testGovernor, actions, digest)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Hour), readyAt)
	assert.Equal(t, timelock.ComputeOperationID(actions, digest), id)
	// Too early
	err = q.Execute(testExecutor, id)
	var tooEarly *timelock.TooEarlyError
	require.ErrorAs(t, err, &tooEarly)
	assert.Empty(t, handler.applied)
	clk.Advance(time.Hour)
	require.NoError(t, q.Execute(testExecutor, id))
	require.Len(t, handler.applied, 2)
	assert.Equal(t, "set-int", handler.applied[0].Method)
	op, err := q.Operation(id)
	require.NoError(t, err)
	assert.Equal(t, timelock.OperationExecuted, op.Status)
	// Delay invariant held
	assert.False(
		t,
		clk.Now().Before(op.ScheduledAt.Add(q.MinDelay())),
	)
	// Re-execution fails
	err = q.Execute(testExecutor, id)
	var stateErr *timelock.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestScheduleUnauthorized(t *testing.T) {
	q, _ := testQueue(t, false)
	q.RegisterHandler("params", &recordingHandler{})
	_, _, err := q.Schedule(
		"mallory",
		[]timelock.Action{{Target: "params"}},
		[32]byte{},
	)
	var permErr *auth.PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, auth.RoleGovernor, permErr.Role)
}

func TestScheduleUnknownTarget(t *testing.T) {
	q, _ := testQueue(t, false)
	_, _, err := q.Schedule(
		testGovernor,
		[]timelock.Action{{Target: "nowhere"}},
		[32]byte{},
	)
	var targetErr *timelock.UnknownTargetError
	require.ErrorAs(t, err, &targetErr)
	assert.Equal(t, "nowhere", targetErr.Target)
}

func TestScheduleDuplicate(t *testing.T) {
	q, _ := testQueue(t, false)
	q.RegisterHandler("params", &recordingHandler{})
	actions := []timelock.Action{{Target: "params"}}
	digest := sha256.Sum256([]byte("desc"))
	_, _, err := q.Schedule(testGovernor, actions, digest)
	require.NoError(t, err)
	_, _, err = q.Schedule(testGovernor, actions, digest)
	var dupErr *timelock.AlreadyScheduledError
	require.ErrorAs(t, err, &dupErr)
}

func TestExecuteRoleGate(t *testing.T) {
	q, clk := testQueue(t, false)
	q.RegisterHandler("params", &recordingHandler{})
	id, _, err := q.Schedule(
		testGovernor,
		[]timelock.Action{{Target: "params"}},
		[32]byte{},
	)
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	err = q.Execute("mallory", id)
	var permErr *auth.PermissionError
	require.ErrorAs(t, err, &permErr)
}

func TestOpenExecutorPolicy(t *testing.T) {
	q, clk := testQueue(t, true)
	handler := &recordingHandler{}
	q.RegisterHandler("params", handler)
	id, _, err := q.Schedule(
		testGovernor,
		[]timelock.Action{{Target: "params"}},
		[32]byte{},
	)
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	require.NoError(t, q.Execute("anyone", id))
	assert.Len(t, handler.applied, 1)
}

func TestValidateFailureAbortsWholeOperation(t *testing.T) {
	q, clk := testQueue(t, false)
	good := &recordingHandler{}
	bad := &recordingHandler{validateErr: errors.New("limit exceeded")}
	q.RegisterHandler("treasury", good)
	q.RegisterHandler("escrow", bad)
	id, _, err := q.Schedule(
		testGovernor,
		[]timelock.Action{
			{Target: "treasury", Method: "transfer"},
			{Target: "escrow", Method: "create-project"},
		},
		[32]byte{},
	)
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	err = q.Execute(testExecutor, id)
	var execErr *timelock.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "escrow", execErr.Target)
	assert.Equal(t, 1, execErr.Index)
	// Nothing applied, operation still scheduled and retryable
	assert.Empty(t, good.applied)
	op, err := q.Operation(id)
	require.NoError(t, err)
	assert.Equal(t, timelock.OperationScheduled, op.Status)
	// Clears the validation failure, then succeeds
	bad.validateErr = nil
	require.NoError(t, q.Execute(testExecutor, id))
	assert.Len(t, good.applied, 1)
	assert.Len(t, bad.applied, 1)
}

func TestApplyFailureRollsBackAllHandlers(t *testing.T) {
	q, clk := testQueue(t, false)
	good := &recordingHandler{}
	bad := &recordingHandler{applyErr: errors.New("insufficient balance")}
	q.RegisterHandler("treasury", good)
	q.RegisterHandler("escrow", bad)
	id, _, err := q.Schedule(
		testGovernor,
		[]timelock.Action{
			{Target: "treasury", Method: "transfer"},
			{Target: "escrow", Method: "fund"},
		},
		[32]byte{},
	)
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	err = q.Execute(testExecutor, id)
	var execErr *timelock.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "escrow", execErr.Target)
	assert.Equal(t, 1, execErr.Index)
	// The first action's mutation was rewound along with everything
	// else, and the operation stays scheduled
	assert.Empty(t, good.applied)
	assert.Equal(t, 1, good.restores)
	assert.Equal(t, 1, bad.restores)
	op, err := q.Operation(id)
	require.NoError(t, err)
	assert.Equal(t, timelock.OperationScheduled, op.Status)
	// A retry starts from the restored state, so nothing applies twice
	err = q.Execute(testExecutor, id)
	require.ErrorAs(t, err, &execErr)
	assert.Empty(t, good.applied)
	// Once the component-level failure clears, the retry lands whole
	bad.applyErr = nil
	require.NoError(t, q.Execute(testExecutor, id))
	assert.Len(t, good.applied, 1)
	assert.Len(t, bad.applied, 1)
}

func TestCancel(t *testing.T) {
	q, clk := testQueue(t, false)
	q.RegisterHandler("params", &recordingHandler{})
	var cancelled []timelock.OperationID
	q.OnCancelled(func(id timelock.OperationID) {
		cancelled = append(cancelled, id)
	})
	id, _, err := q.Schedule(
		testGovernor,
		[]timelock.Action{{Target: "params"}},
		[32]byte{},
	)
	require.NoError(t, err)
	err = q.Cancel("mallory", id)
	var permErr *auth.PermissionError
	require.ErrorAs(t, err, &permErr)
	require.NoError(t, q.Cancel(testCanceller, id))
	require.Len(t, cancelled, 1)
	assert.Equal(t, id, cancelled[0])
	clk.Advance(2 * time.Hour)
	err = q.Execute(testExecutor, id)
	var stateErr *timelock.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestExecutedCallback(t *testing.T) {
	q, clk := testQueue(t, false)
	q.RegisterHandler("params", &recordingHandler{})
	var executed []timelock.OperationID
	q.OnExecuted(func(id timelock.OperationID) {
		executed = append(executed, id)
	})
	id, _, err := q.Schedule(
		testGovernor,
		[]timelock.Action{{Target: "params"}},
		[32]byte{},
	)
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	require.NoError(t, q.Execute(testExecutor, id))
	require.Len(t, executed, 1)
	assert.Equal(t, id, executed[0])
}

func TestOperationIDDeterminism(t *testing.T) {
	actions := []timelock.Action{
		{Target: "a", Method: "m", Payload: []byte{1, 2}},
	}
	digest := sha256.Sum256([]byte("d"))
	id1 := timelock.ComputeOperationID(actions, digest)
	id2 := timelock.ComputeOperationID(actions, digest)
	assert.Equal(t, id1, id2)
	// Any content change moves the id
	otherDigest := sha256.Sum256([]byte("e"))
	assert.NotEqual(t, id1, timelock.ComputeOperationID(actions, otherDigest))
	otherActions := []timelock.Action{
		{Target: "a", Method: "m", Payload: []byte{1, 3}},
	}
	assert.NotEqual(
		t,
		id1,
		timelock.ComputeOperationID(otherActions, digest),
	)
}
