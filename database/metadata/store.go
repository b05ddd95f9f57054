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

package metadata

import (
	"github.com/blinklabs-io/bastion/database/models"
	"gorm.io/gorm"
)

type MetadataStore interface {
	// Database
	Close() error
	DB() *gorm.DB
	Transaction() *gorm.DB

	// Governance
	SetProposal(*models.Proposal, *gorm.DB) error
	GetProposal(uint64, *gorm.DB) (*models.Proposal, error)
	GetProposals(*gorm.DB) ([]models.Proposal, error)
	AddVote(*models.Vote, *gorm.DB) error
	GetVotes(
		uint64, // proposalId
		*gorm.DB,
	) ([]models.Vote, error)

	// Timelock
	SetOperation(*models.TimelockOperation, *gorm.DB) error
	GetOperation([]byte, *gorm.DB) (*models.TimelockOperation, error)

	// Escrow
	SetProject(*models.Project, *gorm.DB) error
	GetProject(uint64, *gorm.DB) (*models.Project, error)
	GetProjects(*gorm.DB) ([]models.Project, error)
	SetMilestone(*models.Milestone, *gorm.DB) error
	GetMilestones(
		uint64, // projectId
		*gorm.DB,
	) ([]models.Milestone, error)

	// Treasury
	AddTransfer(*models.Transfer, *gorm.DB) error
	GetTransfers(
		string, // asset, empty for all
		int, // limit
		*gorm.DB,
	) ([]models.Transfer, error)

	// Parameters
	AddParameterWrite(*models.ParameterWrite, *gorm.DB) error
	GetParameterWrites(
		string, // name, empty for all
		*gorm.DB,
	) ([]models.ParameterWrite, error)

	// Roles
	AddRoleGrant(*models.RoleGrant, *gorm.DB) error
	GetRoleGrants(
		string, // role, empty for all
		*gorm.DB,
	) ([]models.RoleGrant, error)
}
