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

package auth

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/blinklabs-io/bastion/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	RoleGrantedEventType event.EventType = "auth.role_granted"
	RoleRevokedEventType event.EventType = "auth.role_revoked"
)

type RoleGrantedEvent struct {
	Role      Role
	Principal string
	GrantedBy string
}

type RoleRevokedEvent struct {
	Role      Role
	Principal string
	RevokedBy string
}

type Role string

// Capability roles checked by the engine components. Role values are
// stable identifiers and end up in the audit log, so they must not be
// renamed once deployed.
const (
	// RoleRoot administers every role that has no explicit admin role
	RoleRoot Role = "root"
	// RoleProposalAdmin may submit proposals bypassing the creation
	// threshold and cancel any non-terminal proposal
	RoleProposalAdmin Role = "proposal-admin"
	// RoleGovernor is held by the proposal lifecycle manager and is the
	// only role allowed to schedule timelock operations
	RoleGovernor Role = "governor"
	// RoleExecutor may execute matured timelock operations and is the
	// identity timelocked operations run under
	RoleExecutor Role = "vote-executor"
	// RoleCanceller may cancel scheduled timelock operations
	RoleCanceller Role = "timelock-canceller"
	// RoleEmergency may emergency-pause, emergency-set parameters and
	// emergency-cancel proposals
	RoleEmergency Role = "emergency"
	// RoleParameterAdmin may write parameters without a timelock
	RoleParameterAdmin Role = "parameter-admin"
	// RoleMilestoneApprover may approve or reject submitted milestones
	RoleMilestoneApprover Role = "milestone-approver"
	// RoleProjectAdmin may create and cancel escrow projects
	RoleProjectAdmin Role = "project-admin"
	// RoleRateLimitAdmin may adjust spend caps and window durations
	RoleRateLimitAdmin Role = "rate-limit-admin"
)

// PermissionError indicates the caller does not hold the required role
type PermissionError struct {
	Role      Role
	Principal string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf(
		"unauthorized: principal %q does not hold role %q",
		e.Principal,
		e.Role,
	)
}

type AuthorizerConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	// RootPrincipal is granted the root role at construction so the
	// role graph can be bootstrapped. Empty disables the bootstrap
	// grant, leaving an authorizer that can never grant anything.
	RootPrincipal string
}

// Authorizer is the standalone role registry. Every component checks
// roles explicitly at the top of its mutating operations instead of
// relying on any ambient caller identity.
type Authorizer struct {
	config   AuthorizerConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	metrics  struct {
		grantsTotal  prometheus.Counter
		revokesTotal prometheus.Counter
		activeGrants prometheus.Gauge
	}
	grants map[Role]map[string]bool
	admins map[Role]Role
	sync.RWMutex
}

func NewAuthorizer(config AuthorizerConfig) *Authorizer {
	a := &Authorizer{
		config:   config,
		eventBus: config.EventBus,
		grants:   make(map[Role]map[string]bool),
		admins:   make(map[Role]Role),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		a.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		a.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	a.metrics.grantsTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_auth_grants_total",
			Help: "total role grants",
		},
	)
	a.metrics.revokesTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_auth_revokes_total",
			Help: "total role revocations",
		},
	)
	a.metrics.activeGrants = promautoFactory.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_auth_active_grants",
			Help: "current count of active role grants",
		},
	)
	if config.RootPrincipal != "" {
		a.grants[RoleRoot] = map[string]bool{config.RootPrincipal: true}
		a.metrics.activeGrants.Inc()
	}
	return a
}

// HasRole reports whether the principal holds the role. This is a public
// read with no side effects.
func (a *Authorizer) HasRole(role Role, principal string) bool {
	a.RLock()
	defer a.RUnlock()
	return a.grants[role][principal]
}

// RoleAdmin returns the role that administers the given role. Roles
// without an explicit admin are administered by the root role.
func (a *Authorizer) RoleAdmin(role Role) Role {
	a.RLock()
	defer a.RUnlock()
	return a.roleAdmin(role)
}

func (a *Authorizer) roleAdmin(role Role) Role {
	if admin, ok := a.admins[role]; ok {
		return admin
	}
	return RoleRoot
}

// Members returns the principals currently holding the role, sorted for
// stable enumeration.
func (a *Authorizer) Members(role Role) []string {
	a.RLock()
	defer a.RUnlock()
	members := make([]string, 0, len(a.grants[role]))
	for principal := range a.grants[role] {
		members = append(members, principal)
	}
	slices.Sort(members)
	return members
}

// Grant gives the principal the role. The caller must hold the role's
// admin role.
func (a *Authorizer) Grant(caller string, role Role, principal string) error {
	if principal == "" {
		return fmt.Errorf("invalid parameters: empty principal")
	}
	a.Lock()
	adminRole := a.roleAdmin(role)
	if !a.grants[adminRole][caller] {
		a.Unlock()
		return &PermissionError{Role: adminRole, Principal: caller}
	}
	if a.grants[role] == nil {
		a.grants[role] = make(map[string]bool)
	}
	alreadyGranted := a.grants[role][principal]
	a.grants[role][principal] = true
	a.Unlock()
	if alreadyGranted {
		return nil
	}
	a.logger.Info(
		"granted role",
		"component", "auth",
		"role", role,
		"principal", principal,
		"granted_by", caller,
	)
	a.metrics.grantsTotal.Inc()
	a.metrics.activeGrants.Inc()
	if a.eventBus != nil {
		a.eventBus.Publish(
			RoleGrantedEventType,
			event.NewEvent(
				RoleGrantedEventType,
				RoleGrantedEvent{
					Role:      role,
					Principal: principal,
					GrantedBy: caller,
				},
			),
		)
	}
	return nil
}

// Revoke removes the role from the principal. The caller must hold the
// role's admin role.
func (a *Authorizer) Revoke(caller string, role Role, principal string) error {
	a.Lock()
	adminRole := a.roleAdmin(role)
	if !a.grants[adminRole][caller] {
		a.Unlock()
		return &PermissionError{Role: adminRole, Principal: caller}
	}
	hadGrant := a.grants[role][principal]
	delete(a.grants[role], principal)
	if len(a.grants[role]) == 0 {
		delete(a.grants, role)
	}
	a.Unlock()
	if !hadGrant {
		return nil
	}
	a.logger.Info(
		"revoked role",
		"component", "auth",
		"role", role,
		"principal", principal,
		"revoked_by", caller,
	)
	a.metrics.revokesTotal.Inc()
	a.metrics.activeGrants.Dec()
	if a.eventBus != nil {
		a.eventBus.Publish(
			RoleRevokedEventType,
			event.NewEvent(
				RoleRevokedEventType,
				RoleRevokedEvent{
					Role:      role,
					Principal: principal,
					RevokedBy: caller,
				},
			),
		)
	}
	return nil
}

// SetRoleAdmin changes which role administers the given role. Only the
// current admin of the role may reassign it.
func (a *Authorizer) SetRoleAdmin(caller string, role, adminRole Role) error {
	a.Lock()
	defer a.Unlock()
	currentAdmin := a.roleAdmin(role)
	if !a.grants[currentAdmin][caller] {
		return &PermissionError{Role: currentAdmin, Principal: caller}
	}
	a.admins[role] = adminRole
	a.logger.Info(
		"changed role admin",
		"component", "auth",
		"role", role,
		"admin_role", adminRole,
		"changed_by", caller,
	)
	return nil
}

type authorizerSnapshot struct {
	grants map[Role]map[string]bool
	admins map[Role]Role
}

func cloneGrants(grants map[Role]map[string]bool) map[Role]map[string]bool {
	cloned := make(map[Role]map[string]bool, len(grants))
	for role, members := range grants {
		cloned[role] = maps.Clone(members)
	}
	return cloned
}

func countGrants(grants map[Role]map[string]bool) int {
	total := 0
	for _, members := range grants {
		total += len(members)
	}
	return total
}

// Snapshot captures all grants and admin bindings for later Restore.
// The returned value is opaque to callers.
func (a *Authorizer) Snapshot() any {
	a.RLock()
	defer a.RUnlock()
	return authorizerSnapshot{
		grants: cloneGrants(a.grants),
		admins: maps.Clone(a.admins),
	}
}

// Restore rewinds the authorizer to a state previously captured by
// Snapshot and resyncs the active grants gauge.
func (a *Authorizer) Restore(snapshot any) {
	s, ok := snapshot.(authorizerSnapshot)
	if !ok {
		return
	}
	a.Lock()
	defer a.Unlock()
	delta := countGrants(s.grants) - countGrants(a.grants)
	a.grants = cloneGrants(s.grants)
	a.admins = maps.Clone(s.admins)
	if delta != 0 {
		a.metrics.activeGrants.Add(float64(delta))
	}
}
