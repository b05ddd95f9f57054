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

package models

import "errors"

var ErrProposalNotFound = errors.New("proposal not found")

// Proposal is the persisted record of a governance proposal. The
// in-memory manager stays authoritative; rows mirror its lifecycle for
// queries and restarts.
type Proposal struct {
	ID          uint   `gorm:"primarykey"`
	ProposalID  uint64 `gorm:"uniqueIndex;not null"`
	Proposer    string `gorm:"index;size:128;not null"`
	Description string `gorm:"size:4096"`
	Digest      []byte `gorm:"size:32;not null"`
	Snapshot    uint64 `gorm:"not null"`
	VotingStart uint64 `gorm:"not null"`
	VotingEnd   uint64 `gorm:"index;not null"`
	Quorum      uint64 `gorm:"not null"`
	ActionCount int    `gorm:"not null"`
	State       string `gorm:"index;size:16;not null"`
	OperationID []byte `gorm:"size:32"`
}

// TableName returns the table name
func (Proposal) TableName() string {
	return "proposal"
}

// Vote is one weighted vote on a proposal. One row per
// (proposal, voter); the engine rejects duplicates before they reach
// storage.
type Vote struct {
	ID         uint   `gorm:"primarykey"`
	ProposalID uint64 `gorm:"uniqueIndex:idx_vote_unique,priority:1;not null"`
	Voter      string `gorm:"uniqueIndex:idx_vote_unique,priority:2;size:128;not null"`
	Support    uint8  `gorm:"not null"` // 0=against, 1=for, 2=abstain
	Weight     uint64 `gorm:"not null"`
	Reason     string `gorm:"size:1024"`
	Position   uint64 `gorm:"index;not null"`
}

// TableName returns the table name
func (Vote) TableName() string {
	return "vote"
}
