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

import "errors"

// ErrNotFound is returned by Node implementations when a
// requested entity does not exist. Handlers translate it to
// an HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrorResponse is the error response body.
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// RootResponse is the response for GET /.
type RootResponse struct {
	URL     string `json:"url"`
	Version string `json:"version"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}

// StatusResponse is the response for GET /api/v1/status.
type StatusResponse struct {
	Paused         bool   `json:"paused"`
	EmergencyPause bool   `json:"emergency_pause"`
	ClockPosition  uint64 `json:"clock_position"`
	ProposalCount  int    `json:"proposal_count"`
	ProjectCount   int    `json:"project_count"`
}

// ProposalResponse is the response for a single proposal.
type ProposalResponse struct {
	ID          uint64 `json:"id"`
	Proposer    string `json:"proposer"`
	Description string `json:"description"`
	State       string `json:"state"`
	Snapshot    uint64 `json:"snapshot"`
	VotingStart uint64 `json:"voting_start"`
	VotingEnd   uint64 `json:"voting_end"`
	Quorum      uint64 `json:"quorum"`
	For         uint64 `json:"for"`
	Against     uint64 `json:"against"`
	Abstain     uint64 `json:"abstain"`
	ActionCount int    `json:"action_count"`
	OperationID string `json:"operation_id,omitempty"`
}

// VoteResponse is one vote in a proposal vote listing.
type VoteResponse struct {
	Voter   string `json:"voter"`
	Support string `json:"support"`
	Weight  uint64 `json:"weight"`
	Reason  string `json:"reason,omitempty"`
}

// OperationResponse is the response for a timelock
// operation.
type OperationResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ActionCount int    `json:"action_count"`
	ScheduledAt string `json:"scheduled_at"`
	ReadyAt     string `json:"ready_at"`
}

// BalanceResponse is the response for a treasury asset
// balance.
type BalanceResponse struct {
	Asset       string `json:"asset"`
	Balance     uint64 `json:"balance"`
	Reserved    uint64 `json:"reserved"`
	Available   uint64 `json:"available"`
	WindowSpend uint64 `json:"window_spend"`
}

// ProjectResponse is the response for a single escrow
// project.
type ProjectResponse struct {
	ID             uint64              `json:"id"`
	Beneficiary    string              `json:"beneficiary"`
	Asset          string              `json:"asset"`
	TotalAmount    uint64              `json:"total_amount"`
	ReleasedAmount uint64              `json:"released_amount"`
	Active         bool                `json:"active"`
	Milestones     []MilestoneResponse `json:"milestones"`
}

// MilestoneResponse is one milestone in a project response.
type MilestoneResponse struct {
	Index          int    `json:"index"`
	Amount         uint64 `json:"amount"`
	Deadline       string `json:"deadline"`
	Status         string `json:"status"`
	DeliverableRef string `json:"deliverable_ref,omitempty"`
}

// ParameterResponse is the response for a typed parameter.
type ParameterResponse struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RoleResponse is the response for a role membership
// listing.
type RoleResponse struct {
	Role    string   `json:"role"`
	Members []string `json:"members"`
}

// AuditEntryResponse is one entry in an audit listing.
type AuditEntryResponse struct {
	Sequence  uint64 `json:"sequence"`
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`
	Detail    string `json:"detail"`
}
