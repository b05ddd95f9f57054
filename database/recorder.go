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

package database

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/bastion/auth"
	"github.com/blinklabs-io/bastion/database/models"
	"github.com/blinklabs-io/bastion/escrow"
	"github.com/blinklabs-io/bastion/event"
	"github.com/blinklabs-io/bastion/governance"
	"github.com/blinklabs-io/bastion/params"
	"github.com/blinklabs-io/bastion/pause"
	"github.com/blinklabs-io/bastion/timelock"
	"github.com/blinklabs-io/bastion/treasury"
)

// Recorder subscribes to engine events and mirrors them into the
// database: rows in the metadata store for queryable state, and one
// audit entry per event. Components never touch storage directly; the
// event stream is the only write path, so a component commit and its
// persistence cannot disagree about ordering.
type Recorder struct {
	logger   *slog.Logger
	db       *Database
	eventBus *event.EventBus
}

func NewRecorder(
	logger *slog.Logger,
	db *Database,
	eventBus *event.EventBus,
) *Recorder {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Recorder{
		logger:   logger,
		db:       db,
		eventBus: eventBus,
	}
}

// Start subscribes the recorder to every recorded event type.
func (r *Recorder) Start() {
	handlers := map[event.EventType]func(event.Event) error{
		governance.ProposalCreatedEventType:   r.handleProposalCreated,
		governance.VoteCastEventType:          r.handleVoteCast,
		governance.ProposalQueuedEventType:    r.handleProposalQueued,
		governance.ProposalExecutedEventType:  r.handleProposalExecuted,
		governance.ProposalCancelledEventType: r.handleProposalCancelled,
		timelock.ScheduledEventType:           r.handleOperationScheduled,
		timelock.ExecutedEventType:            r.handleOperationExecuted,
		timelock.CancelledEventType:           r.handleOperationCancelled,
		escrow.ProjectCreatedEventType:        r.handleProjectCreated,
		escrow.ProjectCancelledEventType:      r.handleProjectCancelled,
		escrow.MilestoneSubmittedEventType:    r.handleMilestoneSubmitted,
		escrow.MilestoneApprovedEventType:     r.handleMilestoneApproved,
		escrow.MilestoneRejectedEventType:     r.handleMilestoneRejected,
		treasury.DepositEventType:             r.handleDeposit,
		treasury.TransferEventType:            r.handleTransfer,
		treasury.EmissionEventType:            r.handleEmission,
		params.ParameterSetEventType:          r.handleParameterSet,
		auth.RoleGrantedEventType:             r.handleRoleGranted,
		auth.RoleRevokedEventType:             r.handleRoleRevoked,
	}
	// Audit-only event types
	auditOnly := []event.EventType{
		treasury.BatchSkipEventType,
		treasury.ReserveEventType,
		treasury.ReleaseEventType,
		pause.PausedEventType,
		pause.UnpausedEventType,
		pause.EmergencyPauseEventType,
	}
	for eventType, handler := range handlers {
		r.eventBus.SubscribeFunc(eventType, r.wrap(handler))
	}
	for _, eventType := range auditOnly {
		r.eventBus.SubscribeFunc(eventType, r.wrap(nil))
	}
}

// wrap appends the event to the audit log and runs the row handler.
// Persistence failures are logged, not propagated; the in-memory state
// already committed and the audit gap is the operator's signal.
func (r *Recorder) wrap(
	handler func(event.Event) error,
) event.EventHandlerFunc {
	return func(evt event.Event) {
		if _, err := r.db.Audit().Append(string(evt.Type), evt.Data); err != nil {
			r.logger.Error(
				"audit append failed",
				"component", "recorder",
				"type", string(evt.Type),
				"error", err,
			)
		}
		if handler == nil {
			return
		}
		if err := handler(evt); err != nil {
			r.logger.Error(
				"record failed",
				"component", "recorder",
				"type", string(evt.Type),
				"error", err,
			)
		}
	}
}

func (r *Recorder) handleProposalCreated(evt event.Event) error {
	data, ok := evt.Data.(governance.ProposalCreatedEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.db.Metadata().SetProposal(
		&models.Proposal{
			ProposalID:  data.ProposalID,
			Proposer:    data.Proposer,
			Description: data.Description,
			Digest:      data.Digest[:],
			Snapshot:    data.Snapshot,
			VotingStart: data.VotingStart,
			VotingEnd:   data.VotingEnd,
			Quorum:      data.Quorum,
			ActionCount: data.Actions,
			State:       governance.ProposalPending.String(),
		},
		nil,
	)
}

func (r *Recorder) handleVoteCast(evt event.Event) error {
	data, ok := evt.Data.(governance.VoteCastEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.db.Metadata().AddVote(
		&models.Vote{
			ProposalID: data.ProposalID,
			Voter:      data.Voter,
			Support:    uint8(data.Support),
			Weight:     data.Weight,
			Reason:     data.Reason,
		},
		nil,
	)
}

func (r *Recorder) setProposalState(
	proposalID uint64,
	state governance.ProposalState,
	operationID string,
) error {
	row, err := r.db.Metadata().GetProposal(proposalID, nil)
	if err != nil {
		return err
	}
	row.State = state.String()
	if operationID != "" {
		opID, err := hex.DecodeString(operationID)
		if err != nil {
			return err
		}
		row.OperationID = opID
	}
	return r.db.Metadata().SetProposal(row, nil)
}

func (r *Recorder) handleProposalQueued(evt event.Event) error {
	data, ok := evt.Data.(governance.ProposalQueuedEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.setProposalState(
		data.ProposalID,
		governance.ProposalQueued,
		data.OperationID,
	)
}

func (r *Recorder) handleProposalExecuted(evt event.Event) error {
	data, ok := evt.Data.(governance.ProposalExecutedEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.setProposalState(
		data.ProposalID,
		governance.ProposalExecuted,
		"",
	)
}

func (r *Recorder) handleProposalCancelled(evt event.Event) error {
	data, ok := evt.Data.(governance.ProposalCancelledEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.setProposalState(
		data.ProposalID,
		governance.ProposalCancelled,
		"",
	)
}

func (r *Recorder) handleOperationScheduled(evt event.Event) error {
	data, ok := evt.Data.(timelock.ScheduledEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	opID, err := hex.DecodeString(data.OperationID)
	if err != nil {
		return err
	}
	return r.db.Metadata().SetOperation(
		&models.TimelockOperation{
			OperationID: opID,
			ActionCount: data.Actions,
			ScheduledAt: data.ScheduledAt,
			ReadyAt:     data.ReadyAt,
			Status:      timelock.OperationScheduled.String(),
			ScheduledBy: data.By,
		},
		nil,
	)
}

func (r *Recorder) setOperationStatus(
	operationID string,
	status timelock.OperationStatus,
) error {
	opID, err := hex.DecodeString(operationID)
	if err != nil {
		return err
	}
	row, err := r.db.Metadata().GetOperation(opID, nil)
	if err != nil {
		return err
	}
	row.Status = status.String()
	return r.db.Metadata().SetOperation(row, nil)
}

func (r *Recorder) handleOperationExecuted(evt event.Event) error {
	data, ok := evt.Data.(timelock.ExecutedEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.setOperationStatus(data.OperationID, timelock.OperationExecuted)
}

func (r *Recorder) handleOperationCancelled(evt event.Event) error {
	data, ok := evt.Data.(timelock.CancelledEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.setOperationStatus(data.OperationID, timelock.OperationCancelled)
}

func (r *Recorder) handleProjectCreated(evt event.Event) error {
	data, ok := evt.Data.(escrow.ProjectCreatedEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	err := r.db.Metadata().SetProject(
		&models.Project{
			ProjectID:   data.ProjectID,
			Beneficiary: data.Beneficiary,
			Asset:       data.Asset,
			TotalAmount: data.TotalAmount,
			Active:      true,
		},
		nil,
	)
	if err != nil {
		return err
	}
	for i, spec := range data.Milestones {
		err := r.db.Metadata().SetMilestone(
			&models.Milestone{
				ProjectID:      data.ProjectID,
				MilestoneIndex: i,
				Amount:         spec.Amount,
				Deadline:       spec.Deadline,
				Status:         escrow.MilestonePending.String(),
			},
			nil,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) handleProjectCancelled(evt event.Event) error {
	data, ok := evt.Data.(escrow.ProjectCancelledEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	row, err := r.db.Metadata().GetProject(data.ProjectID, nil)
	if err != nil {
		return err
	}
	row.Active = false
	return r.db.Metadata().SetProject(row, nil)
}

func (r *Recorder) setMilestone(
	projectID uint64,
	milestoneIndex int,
	mutate func(*models.Milestone),
) error {
	milestones, err := r.db.Metadata().GetMilestones(projectID, nil)
	if err != nil {
		return err
	}
	for i := range milestones {
		if milestones[i].MilestoneIndex == milestoneIndex {
			mutate(&milestones[i])
			return r.db.Metadata().SetMilestone(&milestones[i], nil)
		}
	}
	return models.ErrProjectNotFound
}

func (r *Recorder) handleMilestoneSubmitted(evt event.Event) error {
	data, ok := evt.Data.(escrow.MilestoneSubmittedEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.setMilestone(
		data.ProjectID,
		data.MilestoneIndex,
		func(row *models.Milestone) {
			row.Status = escrow.MilestoneSubmitted.String()
			row.DeliverableRef = data.DeliverableRef
		},
	)
}

func (r *Recorder) handleMilestoneApproved(evt event.Event) error {
	data, ok := evt.Data.(escrow.MilestoneApprovedEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	err := r.setMilestone(
		data.ProjectID,
		data.MilestoneIndex,
		func(row *models.Milestone) {
			row.Status = escrow.MilestoneApproved.String()
			row.Approver = data.By
		},
	)
	if err != nil {
		return err
	}
	row, err := r.db.Metadata().GetProject(data.ProjectID, nil)
	if err != nil {
		return err
	}
	row.ReleasedAmount += data.Amount
	return r.db.Metadata().SetProject(row, nil)
}

func (r *Recorder) handleMilestoneRejected(evt event.Event) error {
	data, ok := evt.Data.(escrow.MilestoneRejectedEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.setMilestone(
		data.ProjectID,
		data.MilestoneIndex,
		func(row *models.Milestone) {
			row.Status = escrow.MilestoneRejected.String()
		},
	)
}

func (r *Recorder) handleDeposit(evt event.Event) error {
	data, ok := evt.Data.(treasury.DepositEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.db.Metadata().AddTransfer(
		&models.Transfer{
			Kind:   "deposit",
			Asset:  data.Asset,
			Amount: data.Amount,
		},
		nil,
	)
}

func (r *Recorder) handleTransfer(evt event.Event) error {
	data, ok := evt.Data.(treasury.TransferEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.db.Metadata().AddTransfer(
		&models.Transfer{
			Kind:      "transfer",
			Asset:     data.Asset,
			Recipient: data.To,
			Amount:    data.Amount,
			Caller:    data.By,
		},
		nil,
	)
}

func (r *Recorder) handleEmission(evt event.Event) error {
	data, ok := evt.Data.(treasury.EmissionEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.db.Metadata().AddTransfer(
		&models.Transfer{
			Kind:      "emission",
			Asset:     data.Asset,
			Recipient: data.Recipient,
			Amount:    data.Amount,
			Caller:    data.By,
		},
		nil,
	)
}

func (r *Recorder) handleParameterSet(evt event.Event) error {
	data, ok := evt.Data.(params.ParameterSetEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	oldValue := ""
	if data.Existed {
		oldValue = fmt.Sprintf("%v", data.Old)
	}
	return r.db.Metadata().AddParameterWrite(
		&models.ParameterWrite{
			Slot:      string(data.Kind),
			Name:      data.Name,
			OldValue:  oldValue,
			NewValue:  fmt.Sprintf("%v", data.New),
			Existed:   data.Existed,
			Emergency: data.Emergency,
			Caller:    data.By,
		},
		nil,
	)
}

func (r *Recorder) handleRoleGranted(evt event.Event) error {
	data, ok := evt.Data.(auth.RoleGrantedEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.db.Metadata().AddRoleGrant(
		&models.RoleGrant{
			Role:      string(data.Role),
			Principal: data.Principal,
			GrantedBy: data.GrantedBy,
		},
		nil,
	)
}

func (r *Recorder) handleRoleRevoked(evt event.Event) error {
	data, ok := evt.Data.(auth.RoleRevokedEvent)
	if !ok {
		return fmt.Errorf("unexpected event data type %T", evt.Data)
	}
	return r.db.Metadata().AddRoleGrant(
		&models.RoleGrant{
			Role:      string(data.Role),
			Principal: data.Principal,
			Revoked:   true,
			GrantedBy: data.RevokedBy,
		},
		nil,
	)
}
