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
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package api

import "time"

// Node is the interface the API server uses to query engine state.
// This decouples the HTTP server from the concrete Engine struct and
// enables testing with mock implementations. All methods are reads;
// mutations only happen through governance.
type Node interface {
	// Status returns engine-wide status info.
	Status() (StatusInfo, error)

	// Proposals returns every proposal id in ascending order.
	Proposals() ([]uint64, error)

	// Proposal returns one proposal by id.
	Proposal(id uint64) (ProposalInfo, error)

	// ProposalVotes returns the votes recorded for a proposal.
	ProposalVotes(id uint64) ([]VoteInfo, error)

	// Operation returns one timelock operation by hex id.
	Operation(id string) (OperationInfo, error)

	// TreasuryBalance returns balances for one asset.
	TreasuryBalance(asset string) (BalanceInfo, error)

	// TreasuryAssets returns every asset with a balance.
	TreasuryAssets() ([]string, error)

	// Projects returns every escrow project id in ascending order.
	Projects() ([]uint64, error)

	// Project returns one escrow project by id.
	Project(id uint64) (ProjectInfo, error)

	// Parameter returns one typed parameter by slot kind and name.
	Parameter(kind string, name string) (ParameterInfo, error)

	// ParameterNames returns the registered names for a slot kind.
	ParameterNames(kind string) ([]string, error)

	// RoleMembers returns the principals holding a role.
	RoleMembers(role string) ([]string, error)

	// AuditEntries returns audit log entries starting at a sequence.
	AuditEntries(from uint64, count int) ([]AuditEntryInfo, error)
}

// StatusInfo holds engine status data needed by the API.
type StatusInfo struct {
	Paused         bool
	EmergencyPause bool
	ClockPosition  uint64
	ProposalCount  int
	ProjectCount   int
}

// ProposalInfo holds proposal data needed by the API.
type ProposalInfo struct {
	ID          uint64
	Proposer    string
	Description string
	State       string
	Snapshot    uint64
	VotingStart uint64
	VotingEnd   uint64
	Quorum      uint64
	For         uint64
	Against     uint64
	Abstain     uint64
	ActionCount int
	OperationID string
}

// VoteInfo holds vote data needed by the API.
type VoteInfo struct {
	Voter   string
	Support string
	Weight  uint64
	Reason  string
}

// OperationInfo holds timelock operation data needed by the API.
type OperationInfo struct {
	ID          string
	Status      string
	ActionCount int
	ScheduledAt time.Time
	ReadyAt     time.Time
}

// BalanceInfo holds treasury balance data needed by the API.
type BalanceInfo struct {
	Asset     string
	Balance   uint64
	Reserved  uint64
	Available uint64
	// WindowSpend is the current rolling-window outflow for the asset.
	// Zero when the asset has no rate limit.
	WindowSpend uint64
}

// ProjectInfo holds escrow project data needed by the API.
type ProjectInfo struct {
	ID             uint64
	Beneficiary    string
	Asset          string
	TotalAmount    uint64
	ReleasedAmount uint64
	Active         bool
	Milestones     []MilestoneInfo
}

// MilestoneInfo holds milestone data needed by the API.
type MilestoneInfo struct {
	Index          int
	Amount         uint64
	Deadline       time.Time
	Status         string
	DeliverableRef string
}

// ParameterInfo holds one typed parameter value.
type ParameterInfo struct {
	Kind  string
	Name  string
	Value string
}

// AuditEntryInfo holds one audit log entry.
type AuditEntryInfo struct {
	Sequence  uint64
	Kind      string
	Timestamp time.Time
	Detail    string
}
