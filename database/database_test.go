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

package database_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/blinklabs-io/bastion/database"
	"github.com/blinklabs-io/bastion/database/models"
	"github.com/blinklabs-io/bastion/event"
	"github.com/blinklabs-io/bastion/governance"
	"github.com/blinklabs-io/bastion/treasury"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabase(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(nil, "", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestProposalRoundTrip(t *testing.T) {
	db := testDatabase(t)
	proposal := &models.Proposal{
		ProposalID:  1,
		Proposer:    "alice",
		Description: "raise cap",
		Digest:      make([]byte, 32),
		Snapshot:    1000,
		VotingStart: 1010,
		VotingEnd:   1110,
		Quorum:      40_000,
		ActionCount: 1,
		State:       "pending",
	}
	require.NoError(t, db.Metadata().SetProposal(proposal, nil))
	got, err := db.Metadata().GetProposal(1, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Proposer)
	assert.Equal(t, uint64(40_000), got.Quorum)
	// Upsert on the same proposal id updates in place
	got.State = "queued"
	require.NoError(t, db.Metadata().SetProposal(got, nil))
	rows, err := db.Metadata().GetProposals(nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "queued", rows[0].State)
	_, err = db.Metadata().GetProposal(99, nil)
	require.ErrorIs(t, err, models.ErrProposalNotFound)
}

func TestVotes(t *testing.T) {
	db := testDatabase(t)
	for i, voter := range []string{"alice", "bob"} {
		require.NoError(t, db.Metadata().AddVote(
			&models.Vote{
				ProposalID: 1,
				Voter:      voter,
				Support:    uint8(i),
				Weight:     100,
				Position:   1010,
			},
			nil,
		))
	}
	votes, err := db.Metadata().GetVotes(1, nil)
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, "alice", votes[0].Voter)
}

func TestMilestones(t *testing.T) {
	db := testDatabase(t)
	deadline := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, amount := range []uint64{100, 150, 50} {
		require.NoError(t, db.Metadata().SetMilestone(
			&models.Milestone{
				ProjectID:      1,
				MilestoneIndex: i,
				Amount:         amount,
				Deadline:       deadline,
				Status:         "pending",
			},
			nil,
		))
	}
	milestones, err := db.Metadata().GetMilestones(1, nil)
	require.NoError(t, err)
	require.Len(t, milestones, 3)
	assert.Equal(t, uint64(150), milestones[1].Amount)
	// Upsert by (project, index)
	milestones[1].Status = "approved"
	require.NoError(t, db.Metadata().SetMilestone(&milestones[1], nil))
	milestones, err = db.Metadata().GetMilestones(1, nil)
	require.NoError(t, err)
	require.Len(t, milestones, 3)
	assert.Equal(t, "approved", milestones[1].Status)
}

func TestAuditAppendOrder(t *testing.T) {
	db := testDatabase(t)
	for i := range 5 {
		seq, err := db.Audit().Append(
			"test.entry",
			map[string]int{"index": i},
		)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	entries, err := db.Audit().Entries(0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, entry := range entries {
		assert.Equal(t, uint64(i), entry.Sequence)
		assert.Equal(t, "test.entry", entry.Kind)
	}
	// Partial range
	entries, err = db.Audit().Entries(3, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(3), entries[0].Sequence)
	entries, err = db.Audit().Entries(0, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRecorderMirrorsEvents(t *testing.T) {
	db := testDatabase(t)
	eventBus := event.NewEventBus(prometheus.NewRegistry(), nil)
	defer eventBus.Stop()
	recorder := database.NewRecorder(nil, db, eventBus)
	recorder.Start()
	eventBus.Publish(
		treasury.TransferEventType,
		event.NewEvent(
			treasury.TransferEventType,
			treasury.TransferEvent{
				Asset:  "usd",
				To:     "carol",
				Amount: 250,
				By:     "timelock",
			},
		),
	)
	require.Eventually(t, func() bool {
		transfers, err := db.Metadata().GetTransfers("usd", 0, nil)
		return err == nil && len(transfers) == 1
	}, 5*time.Second, 10*time.Millisecond)
	transfers, err := db.Metadata().GetTransfers("usd", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "carol", transfers[0].Recipient)
	assert.Equal(t, uint64(250), transfers[0].Amount)
	// Audit entry recorded alongside the row
	require.Eventually(t, func() bool {
		return db.Audit().Len() == 1
	}, 5*time.Second, 10*time.Millisecond)
	entries, err := db.Audit().Entries(0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(treasury.TransferEventType), entries[0].Kind)
}

func TestRecorderProposalLifecycle(t *testing.T) {
	db := testDatabase(t)
	eventBus := event.NewEventBus(prometheus.NewRegistry(), nil)
	defer eventBus.Stop()
	recorder := database.NewRecorder(nil, db, eventBus)
	recorder.Start()
	eventBus.Publish(
		governance.ProposalCreatedEventType,
		event.NewEvent(
			governance.ProposalCreatedEventType,
			governance.ProposalCreatedEvent{
				ProposalID:  7,
				Proposer:    "alice",
				Actions:     1,
				Description: "x",
				Snapshot:    1000,
				Quorum:      40_000,
				VotingStart: 1010,
				VotingEnd:   1110,
			},
		),
	)
	require.Eventually(t, func() bool {
		_, err := db.Metadata().GetProposal(7, nil)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	eventBus.Publish(
		governance.ProposalExecutedEventType,
		event.NewEvent(
			governance.ProposalExecutedEventType,
			governance.ProposalExecutedEvent{ProposalID: 7},
		),
	)
	require.Eventually(t, func() bool {
		row, err := db.Metadata().GetProposal(7, nil)
		return err == nil && row.State == "executed"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExportPlain(t *testing.T) {
	db := testDatabase(t)
	require.NoError(t, db.Metadata().SetProposal(
		&models.Proposal{
			ProposalID: 1,
			Proposer:   "alice",
			Digest:     make([]byte, 32),
			State:      "pending",
		},
		nil,
	))
	_, err := db.Audit().Append("test.entry", map[string]string{"k": "v"})
	require.NoError(t, err)
	data, err := db.Export(false)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotEmpty(t, decoded["proposals"])
	assert.NotEmpty(t, decoded["audit_entries"])
}
