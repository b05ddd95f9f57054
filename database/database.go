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
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/blinklabs-io/bastion/database/audit"
	"github.com/blinklabs-io/bastion/database/metadata"
	"github.com/blinklabs-io/bastion/database/sops"
)

// Database bundles the metadata store and the audit log. Component
// state stays in memory; the database mirrors it for queries, restart
// recovery and the audit trail.
type Database struct {
	logger   *slog.Logger
	metadata metadata.MetadataStore
	audit    *audit.Store
	dataDir  string
}

// Audit returns the underlying audit store instance
func (d *Database) Audit() *audit.Store {
	return d.audit
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() metadata.MetadataStore {
	return d.metadata
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	err = errors.Join(err, d.metadata.Close())
	err = errors.Join(err, d.audit.Close())
	return err
}

// New creates a new database instance with optional persistence using
// the provided data directory. An empty dataDir keeps everything in
// memory. The mirror, when non-nil, receives a copy of every audit
// entry.
func New(
	logger *slog.Logger,
	dataDir string,
	mirror audit.Mirror,
) (*Database, error) {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	metadataDb, err := metadata.NewSqlite(dataDir, logger)
	if err != nil {
		return nil, err
	}
	auditDb, err := audit.New(dataDir, logger, mirror)
	if err != nil {
		_ = metadataDb.Close()
		return nil, err
	}
	return &Database{
		logger:   logger,
		metadata: metadataDb,
		audit:    auditDb,
		dataDir:  dataDir,
	}, nil
}

// exportState is the document produced by Export.
type exportState struct {
	Proposals       []any `json:"proposals"`
	Projects        []any `json:"projects"`
	ParameterWrites []any `json:"parameter_writes"`
	RoleGrants      []any `json:"role_grants"`
	AuditEntries    []any `json:"audit_entries"`
}

// Export serializes the persisted engine state into a single JSON
// document, encrypted with SOPS when encrypt is set. Used by the
// export CLI command for offline review and backup.
func (d *Database) Export(encrypt bool) ([]byte, error) {
	var state exportState
	proposals, err := d.metadata.GetProposals(nil)
	if err != nil {
		return nil, err
	}
	for _, row := range proposals {
		state.Proposals = append(state.Proposals, row)
	}
	projects, err := d.metadata.GetProjects(nil)
	if err != nil {
		return nil, err
	}
	for _, row := range projects {
		state.Projects = append(state.Projects, row)
	}
	writes, err := d.metadata.GetParameterWrites("", nil)
	if err != nil {
		return nil, err
	}
	for _, row := range writes {
		state.ParameterWrites = append(state.ParameterWrites, row)
	}
	grants, err := d.metadata.GetRoleGrants("", nil)
	if err != nil {
		return nil, err
	}
	for _, row := range grants {
		state.RoleGrants = append(state.RoleGrants, row)
	}
	entries, err := d.audit.Entries(0, 0)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		state.AuditEntries = append(state.AuditEntries, entry)
	}
	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return nil, err
	}
	if !encrypt {
		return data, nil
	}
	return sops.Encrypt(data)
}
