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

package bastion

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/blinklabs-io/bastion/api"
	"github.com/blinklabs-io/bastion/auth"
	"github.com/blinklabs-io/bastion/escrow"
	"github.com/blinklabs-io/bastion/governance"
	"github.com/blinklabs-io/bastion/params"
	"github.com/blinklabs-io/bastion/timelock"
)

// nodeBridge adapts the engine's components to the read-only Node
// interface the API server consumes.
type nodeBridge struct {
	engine *Engine
}

func (b *nodeBridge) Status() (api.StatusInfo, error) {
	e := b.engine
	return api.StatusInfo{
		Paused:         e.pause.Paused(),
		EmergencyPause: e.pause.EmergencyActive(),
		ClockPosition:  e.clock.Position(),
		ProposalCount:  len(e.governance.ProposalIDs()),
		ProjectCount:   len(e.escrow.ProjectIDs()),
	}, nil
}

func (b *nodeBridge) Proposals() ([]uint64, error) {
	return b.engine.governance.ProposalIDs(), nil
}

func (b *nodeBridge) Proposal(id uint64) (api.ProposalInfo, error) {
	proposal, err := b.engine.governance.Proposal(id)
	if err != nil {
		var notExists *governance.ProposalNotExistsError
		if errors.As(err, &notExists) {
			return api.ProposalInfo{}, api.ErrNotFound
		}
		return api.ProposalInfo{}, err
	}
	state, err := b.engine.governance.State(id)
	if err != nil {
		return api.ProposalInfo{}, err
	}
	info := api.ProposalInfo{
		ID:          proposal.ID,
		Proposer:    proposal.Proposer,
		Description: proposal.Description,
		State:       state.String(),
		Snapshot:    proposal.Snapshot,
		VotingStart: proposal.VotingStart,
		VotingEnd:   proposal.VotingEnd,
		Quorum:      proposal.Quorum,
		For:         proposal.Tally.For,
		Against:     proposal.Tally.Against,
		Abstain:     proposal.Tally.Abstain,
		ActionCount: len(proposal.Actions),
	}
	if proposal.OperationID != (timelock.OperationID{}) {
		info.OperationID = proposal.OperationID.String()
	}
	return info, nil
}

func (b *nodeBridge) ProposalVotes(id uint64) ([]api.VoteInfo, error) {
	votes, err := b.engine.governance.Votes(id)
	if err != nil {
		var notExists *governance.ProposalNotExistsError
		if errors.As(err, &notExists) {
			return nil, api.ErrNotFound
		}
		return nil, err
	}
	ret := make([]api.VoteInfo, 0, len(votes))
	for _, v := range votes {
		ret = append(ret, api.VoteInfo{
			Voter:   v.Voter,
			Support: v.Support.String(),
			Weight:  v.Weight,
			Reason:  v.Reason,
		})
	}
	return ret, nil
}

func (b *nodeBridge) Operation(id string) (api.OperationInfo, error) {
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != len(timelock.OperationID{}) {
		return api.OperationInfo{}, api.ErrNotFound
	}
	var opID timelock.OperationID
	copy(opID[:], raw)
	op, err := b.engine.timelock.Operation(opID)
	if err != nil {
		var notFound *timelock.NotFoundError
		if errors.As(err, &notFound) {
			return api.OperationInfo{}, api.ErrNotFound
		}
		return api.OperationInfo{}, err
	}
	return api.OperationInfo{
		ID:          op.ID.String(),
		Status:      op.Status.String(),
		ActionCount: len(op.Actions),
		ScheduledAt: op.ScheduledAt,
		ReadyAt:     op.ReadyAt,
	}, nil
}

func (b *nodeBridge) TreasuryBalance(asset string) (api.BalanceInfo, error) {
	ledger := b.engine.treasury
	info := api.BalanceInfo{
		Asset:     asset,
		Balance:   ledger.Balance(asset),
		Reserved:  ledger.Reserved(asset),
		Available: ledger.Available(asset),
	}
	if limit := ledger.AssetLimit(asset); limit != nil {
		info.WindowSpend = limit.WindowSpend(b.engine.clock.Now())
	}
	return info, nil
}

func (b *nodeBridge) TreasuryAssets() ([]string, error) {
	return b.engine.treasury.Assets(), nil
}

func (b *nodeBridge) Projects() ([]uint64, error) {
	return b.engine.escrow.ProjectIDs(), nil
}

func (b *nodeBridge) Project(id uint64) (api.ProjectInfo, error) {
	project, err := b.engine.escrow.Project(id)
	if err != nil {
		var notFound *escrow.NotFoundError
		if errors.As(err, &notFound) {
			return api.ProjectInfo{}, api.ErrNotFound
		}
		return api.ProjectInfo{}, err
	}
	milestones := make([]api.MilestoneInfo, 0, len(project.Milestones))
	for i, m := range project.Milestones {
		milestones = append(milestones, api.MilestoneInfo{
			Index:          i,
			Amount:         m.Amount,
			Deadline:       m.Deadline,
			Status:         m.Status.String(),
			DeliverableRef: m.DeliverableRef,
		})
	}
	return api.ProjectInfo{
		ID:             project.ID,
		Beneficiary:    project.Beneficiary,
		Asset:          project.Asset,
		TotalAmount:    project.TotalAmount,
		ReleasedAmount: project.ReleasedAmount,
		Active:         project.Active,
		Milestones:     milestones,
	}, nil
}

func (b *nodeBridge) Parameter(
	kind string,
	name string,
) (api.ParameterInfo, error) {
	store := b.engine.params
	var value string
	var err error
	switch params.Kind(kind) {
	case params.KindInt:
		var v int64
		if v, err = store.GetInt(name); err == nil {
			value = strconv.FormatInt(v, 10)
		}
	case params.KindString:
		value, err = store.GetString(name)
	case params.KindAddr:
		value, err = store.GetAddr(name)
	case params.KindBool:
		var v bool
		if v, err = store.GetBool(name); err == nil {
			value = strconv.FormatBool(v)
		}
	default:
		return api.ParameterInfo{}, api.ErrNotFound
	}
	if err != nil {
		var notFound *params.NotFoundError
		if errors.As(err, &notFound) {
			return api.ParameterInfo{}, api.ErrNotFound
		}
		return api.ParameterInfo{}, err
	}
	return api.ParameterInfo{
		Kind:  kind,
		Name:  name,
		Value: value,
	}, nil
}

func (b *nodeBridge) ParameterNames(kind string) ([]string, error) {
	switch params.Kind(kind) {
	case params.KindInt, params.KindString, params.KindAddr,
		params.KindBool:
		return b.engine.params.Names(params.Kind(kind)), nil
	default:
		return nil, api.ErrNotFound
	}
}

func (b *nodeBridge) RoleMembers(role string) ([]string, error) {
	return b.engine.authorizer.Members(auth.Role(role)), nil
}

func (b *nodeBridge) AuditEntries(
	from uint64,
	count int,
) ([]api.AuditEntryInfo, error) {
	if b.engine.db == nil {
		return nil, errors.New("database not open")
	}
	entries, err := b.engine.db.Audit().Entries(from, count)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	ret := make([]api.AuditEntryInfo, 0, len(entries))
	for _, e := range entries {
		ret = append(ret, api.AuditEntryInfo{
			Sequence:  e.Sequence,
			Kind:      e.Kind,
			Timestamp: e.Timestamp,
			Detail:    string(e.Detail),
		})
	}
	return ret, nil
}
