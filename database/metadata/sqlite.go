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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blinklabs-io/bastion/database/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// MetadataStoreSqlite stores engine metadata in SQLite. All component
// state lives in memory; these rows mirror it for queries, restarts
// and audit.
type MetadataStoreSqlite struct {
	db      *gorm.DB
	logger  *slog.Logger
	dataDir string
}

// NewSqlite creates a SQLite metadata store. Uses in-memory database if dataDir is empty.
func NewSqlite(
	dataDir string,
	logger *slog.Logger,
) (*MetadataStoreSqlite, error) {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var metadataDb *gorm.DB
	var err error
	if dataDir == "" {
		// Use in-memory database when no data directory is specified, useful for testing
		// cache=shared allows multiple connections to share the same in-memory database
		metadataDb, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		metadataDbPath := filepath.Join(dataDir, "metadata.sqlite")
		// WAL journal mode, disable sync on write
		metadataConnOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)"
		metadataDb, err = gorm.Open(
			sqlite.Open(
				fmt.Sprintf("file:%s?%s", metadataDbPath, metadataConnOpts),
			),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	store := &MetadataStoreSqlite{
		db:      metadataDb,
		dataDir: dataDir,
		logger:  logger,
	}
	// Configure tracing for GORM
	if err := store.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	// Create table schemas
	for _, model := range models.MigrateModels {
		store.logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := store.db.AutoMigrate(model); err != nil {
			return store, err
		}
	}
	return store, nil
}

func (d *MetadataStoreSqlite) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *MetadataStoreSqlite) DB() *gorm.DB {
	return d.db
}

func (d *MetadataStoreSqlite) Transaction() *gorm.DB {
	return d.db.Begin()
}

// txnOrDb returns the provided transaction, falling back to the bare
// connection
func (d *MetadataStoreSqlite) txnOrDb(txn *gorm.DB) *gorm.DB {
	if txn != nil {
		return txn
	}
	return d.db
}

func (d *MetadataStoreSqlite) SetProposal(
	proposal *models.Proposal,
	txn *gorm.DB,
) error {
	result := d.txnOrDb(txn).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proposal_id"}},
			UpdateAll: true,
		}).
		Create(proposal)
	return result.Error
}

func (d *MetadataStoreSqlite) GetProposal(
	proposalID uint64,
	txn *gorm.DB,
) (*models.Proposal, error) {
	var proposal models.Proposal
	result := d.txnOrDb(txn).
		First(&proposal, "proposal_id = ?", proposalID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrProposalNotFound
		}
		return nil, result.Error
	}
	return &proposal, nil
}

func (d *MetadataStoreSqlite) GetProposals(
	txn *gorm.DB,
) ([]models.Proposal, error) {
	var proposals []models.Proposal
	result := d.txnOrDb(txn).
		Order("proposal_id").
		Find(&proposals)
	return proposals, result.Error
}

func (d *MetadataStoreSqlite) AddVote(
	vote *models.Vote,
	txn *gorm.DB,
) error {
	result := d.txnOrDb(txn).Create(vote)
	return result.Error
}

func (d *MetadataStoreSqlite) GetVotes(
	proposalID uint64,
	txn *gorm.DB,
) ([]models.Vote, error) {
	var votes []models.Vote
	result := d.txnOrDb(txn).
		Where("proposal_id = ?", proposalID).
		Order("id").
		Find(&votes)
	return votes, result.Error
}

func (d *MetadataStoreSqlite) SetOperation(
	operation *models.TimelockOperation,
	txn *gorm.DB,
) error {
	result := d.txnOrDb(txn).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "operation_id"}},
			UpdateAll: true,
		}).
		Create(operation)
	return result.Error
}

func (d *MetadataStoreSqlite) GetOperation(
	operationID []byte,
	txn *gorm.DB,
) (*models.TimelockOperation, error) {
	var operation models.TimelockOperation
	result := d.txnOrDb(txn).
		First(&operation, "operation_id = ?", operationID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrOperationNotFound
		}
		return nil, result.Error
	}
	return &operation, nil
}

func (d *MetadataStoreSqlite) SetProject(
	project *models.Project,
	txn *gorm.DB,
) error {
	result := d.txnOrDb(txn).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}},
			UpdateAll: true,
		}).
		Create(project)
	return result.Error
}

func (d *MetadataStoreSqlite) GetProject(
	projectID uint64,
	txn *gorm.DB,
) (*models.Project, error) {
	var project models.Project
	result := d.txnOrDb(txn).
		First(&project, "project_id = ?", projectID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrProjectNotFound
		}
		return nil, result.Error
	}
	return &project, nil
}

func (d *MetadataStoreSqlite) GetProjects(
	txn *gorm.DB,
) ([]models.Project, error) {
	var projects []models.Project
	result := d.txnOrDb(txn).
		Order("project_id").
		Find(&projects)
	return projects, result.Error
}

func (d *MetadataStoreSqlite) SetMilestone(
	milestone *models.Milestone,
	txn *gorm.DB,
) error {
	result := d.txnOrDb(txn).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "project_id"},
				{Name: "milestone_index"},
			},
			UpdateAll: true,
		}).
		Create(milestone)
	return result.Error
}

func (d *MetadataStoreSqlite) GetMilestones(
	projectID uint64,
	txn *gorm.DB,
) ([]models.Milestone, error) {
	var milestones []models.Milestone
	result := d.txnOrDb(txn).
		Where("project_id = ?", projectID).
		Order("milestone_index").
		Find(&milestones)
	return milestones, result.Error
}

func (d *MetadataStoreSqlite) AddTransfer(
	transfer *models.Transfer,
	txn *gorm.DB,
) error {
	result := d.txnOrDb(txn).Create(transfer)
	return result.Error
}

func (d *MetadataStoreSqlite) GetTransfers(
	asset string,
	limit int,
	txn *gorm.DB,
) ([]models.Transfer, error) {
	var transfers []models.Transfer
	query := d.txnOrDb(txn).Order("id desc")
	if asset != "" {
		query = query.Where("asset = ?", asset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Find(&transfers)
	return transfers, result.Error
}

func (d *MetadataStoreSqlite) AddParameterWrite(
	write *models.ParameterWrite,
	txn *gorm.DB,
) error {
	result := d.txnOrDb(txn).Create(write)
	return result.Error
}

func (d *MetadataStoreSqlite) GetParameterWrites(
	name string,
	txn *gorm.DB,
) ([]models.ParameterWrite, error) {
	var writes []models.ParameterWrite
	query := d.txnOrDb(txn).Order("id")
	if name != "" {
		query = query.Where("name = ?", name)
	}
	result := query.Find(&writes)
	return writes, result.Error
}

func (d *MetadataStoreSqlite) AddRoleGrant(
	grant *models.RoleGrant,
	txn *gorm.DB,
) error {
	result := d.txnOrDb(txn).Create(grant)
	return result.Error
}

func (d *MetadataStoreSqlite) GetRoleGrants(
	role string,
	txn *gorm.DB,
) ([]models.RoleGrant, error) {
	var grants []models.RoleGrant
	query := d.txnOrDb(txn).Order("id")
	if role != "" {
		query = query.Where("role = ?", role)
	}
	result := query.Find(&grants)
	return grants, result.Error
}
