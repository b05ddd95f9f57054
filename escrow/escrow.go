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

package escrow

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/blinklabs-io/bastion/auth"
	"github.com/blinklabs-io/bastion/clock"
	"github.com/blinklabs-io/bastion/event"
	"github.com/blinklabs-io/bastion/pause"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ProjectCreatedEventType     event.EventType = "escrow.project_created"
	ProjectCancelledEventType   event.EventType = "escrow.project_cancelled"
	MilestoneSubmittedEventType event.EventType = "escrow.milestone_submitted"
	MilestoneApprovedEventType  event.EventType = "escrow.milestone_approved"
	MilestoneRejectedEventType  event.EventType = "escrow.milestone_rejected"
	FundedEventType             event.EventType = "escrow.funded"
)

type ProjectCreatedEvent struct {
	ProjectID   uint64
	Beneficiary string
	Asset       string
	TotalAmount uint64
	Milestones  []MilestoneSpec
	By          string
}

type ProjectCancelledEvent struct {
	ProjectID uint64
	ReturnTo  string
	Refund    uint64
	By        string
}

type MilestoneSubmittedEvent struct {
	ProjectID      uint64
	MilestoneIndex int
	DeliverableRef string
	By             string
}

type MilestoneApprovedEvent struct {
	ProjectID      uint64
	MilestoneIndex int
	Amount         uint64
	Beneficiary    string
	By             string
}

type MilestoneRejectedEvent struct {
	ProjectID      uint64
	MilestoneIndex int
	// AgedOut is true when the rejection was the automatic result of
	// an approval attempt past the approval timeout
	AgedOut bool
	By      string
}

type FundedEvent struct {
	Asset  string
	Amount uint64
}

// DefaultApprovalTimeout bounds how long a submitted milestone stays
// approvable. Approvals attempted after this window reject instead.
const DefaultApprovalTimeout = 14 * 24 * time.Hour

type MilestoneStatus uint8

const (
	MilestonePending MilestoneStatus = iota
	MilestoneSubmitted
	MilestoneApproved
	MilestoneRejected
	MilestoneCancelled
)

func (s MilestoneStatus) String() string {
	switch s {
	case MilestonePending:
		return "pending"
	case MilestoneSubmitted:
		return "submitted"
	case MilestoneApproved:
		return "approved"
	case MilestoneRejected:
		return "rejected"
	case MilestoneCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s MilestoneStatus) terminal() bool {
	switch s {
	case MilestoneApproved, MilestoneRejected, MilestoneCancelled:
		return true
	default:
		return false
	}
}

// MilestoneSpec describes one milestone at project creation.
type MilestoneSpec struct {
	Description string
	Amount      uint64
	Deadline    time.Time
}

type Milestone struct {
	Description    string
	Amount         uint64
	Deadline       time.Time
	Status         MilestoneStatus
	SubmittedAt    time.Time
	ApprovedAt     time.Time
	Approver       string
	DeliverableRef string
}

type Project struct {
	ID             uint64
	Beneficiary    string
	Asset          string
	TotalAmount    uint64
	ReleasedAmount uint64
	Milestones     []Milestone
	Active         bool
}

// NotFoundError indicates a lookup for a project or milestone that
// does not exist.
type NotFoundError struct {
	ProjectID      uint64
	MilestoneIndex int
	Milestone      bool
}

func (e *NotFoundError) Error() string {
	if e.Milestone {
		return fmt.Sprintf(
			"milestone %d not found in project %d",
			e.MilestoneIndex,
			e.ProjectID,
		)
	}
	return fmt.Sprintf("project %d not found", e.ProjectID)
}

// InvalidStateError indicates an operation against a milestone or
// project in the wrong lifecycle state. The caller holds a stale view
// and should re-read.
type InvalidStateError struct {
	Expected string
	Actual   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf(
		"invalid state: expected %s, found %s",
		e.Expected,
		e.Actual,
	)
}

// DeadlinePassedError indicates a time boundary was crossed. Not
// retryable.
type DeadlinePassedError struct {
	Deadline time.Time
	Now      time.Time
}

func (e *DeadlinePassedError) Error() string {
	return fmt.Sprintf(
		"deadline passed: deadline=%s, now=%s",
		e.Deadline.Format(time.RFC3339),
		e.Now.Format(time.RFC3339),
	)
}

// InvalidParametersError indicates malformed project or milestone
// input.
type InvalidParametersError struct {
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return "invalid parameters: " + e.Reason
}

// InsufficientBalanceError indicates the escrow's segregated balance
// cannot cover a new project's allocation.
type InsufficientBalanceError struct {
	Asset       string
	Unallocated uint64
	Requested   uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf(
		"insufficient escrow balance: asset=%s, unallocated=%d, requested=%d",
		e.Asset,
		e.Unallocated,
		e.Requested,
	)
}

type EscrowConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Authorizer   *auth.Authorizer
	Pause        *pause.Controller
	Clock        clock.Clock
	// ApprovalTimeout is how long a submitted milestone stays
	// approvable. Zero selects the default.
	ApprovalTimeout time.Duration
}

// Escrow holds project funds in a balance segregated from the main
// treasury and releases them milestone by milestone. Funds committed
// to a project stay allocated until a milestone approval releases them
// or a project cancellation returns them.
type Escrow struct {
	config   EscrowConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	clock    clock.Clock
	metrics  struct {
		projectsActive prometheus.Gauge
		releasesTotal  prometheus.Counter
		releasedUnits  prometheus.Counter
	}
	balances  map[string]uint64
	allocated map[string]uint64
	projects  map[uint64]*Project
	nextID    uint64
	mu        sync.RWMutex
}

func NewEscrow(config EscrowConfig) *Escrow {
	e := &Escrow{
		config:    config,
		eventBus:  config.EventBus,
		clock:     config.Clock,
		balances:  make(map[string]uint64),
		allocated: make(map[string]uint64),
		projects:  make(map[uint64]*Project),
		nextID:    1,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		e.logger = config.Logger
	}
	if e.clock == nil {
		e.clock = clock.NewSystemClock()
	}
	if e.config.ApprovalTimeout <= 0 {
		e.config.ApprovalTimeout = DefaultApprovalTimeout
	}
	promautoFactory := promauto.With(config.PromRegistry)
	e.metrics.projectsActive = promautoFactory.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_escrow_projects_active",
			Help: "current count of active escrow projects",
		},
	)
	e.metrics.releasesTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_escrow_releases_total",
			Help: "total milestone releases",
		},
	)
	e.metrics.releasedUnits = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_escrow_released_units_total",
			Help: "total units released across all projects",
		},
	)
	return e
}

// Fund credits the escrow's segregated balance. Crediting needs no
// authorization.
func (e *Escrow) Fund(asset string, amount uint64) error {
	if asset == "" || amount == 0 {
		return &InvalidParametersError{Reason: "empty asset or zero amount"}
	}
	e.mu.Lock()
	e.balances[asset] += amount
	e.mu.Unlock()
	if e.eventBus != nil {
		e.eventBus.Publish(
			FundedEventType,
			event.NewEvent(
				FundedEventType,
				FundedEvent{Asset: asset, Amount: amount},
			),
		)
	}
	return nil
}

// Balance returns the segregated balance for an asset. Public read.
func (e *Escrow) Balance(asset string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances[asset]
}

// Allocated returns the outstanding allocation for an asset. Public
// read.
func (e *Escrow) Allocated(asset string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.allocated[asset]
}

// Project returns a copy of the project, or a NotFoundError. Public
// read.
func (e *Escrow) Project(projectID uint64) (Project, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	project, ok := e.projects[projectID]
	if !ok {
		return Project{}, &NotFoundError{ProjectID: projectID}
	}
	out := *project
	out.Milestones = make([]Milestone, len(project.Milestones))
	copy(out.Milestones, project.Milestones)
	return out, nil
}

// ProjectIDs returns every project id in ascending order. Public
// read.
func (e *Escrow) ProjectIDs() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]uint64, 0, len(e.projects))
	for id := uint64(1); id < e.nextID; id++ {
		if _, ok := e.projects[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// CreateProject allocates escrow funds to a new project. Milestone
// amounts must sum exactly to the project total, and the segregated
// balance must cover the new allocation on top of every existing one.
func (e *Escrow) CreateProject(
	caller, beneficiary, asset string,
	totalAmount uint64,
	milestones []MilestoneSpec,
) (uint64, error) {
	if err := e.config.Pause.Check(); err != nil {
		return 0, err
	}
	if !e.config.Authorizer.HasRole(auth.RoleProjectAdmin, caller) {
		return 0, &auth.PermissionError{
			Role:      auth.RoleProjectAdmin,
			Principal: caller,
		}
	}
	if beneficiary == "" || asset == "" || totalAmount == 0 {
		return 0, &InvalidParametersError{
			Reason: "empty beneficiary, asset or zero total",
		}
	}
	if len(milestones) == 0 {
		return 0, &InvalidParametersError{Reason: "no milestones"}
	}
	var milestoneSum uint64
	for i, spec := range milestones {
		if spec.Amount == 0 {
			return 0, &InvalidParametersError{
				Reason: fmt.Sprintf("milestone %d has zero amount", i),
			}
		}
		milestoneSum += spec.Amount
	}
	if milestoneSum != totalAmount {
		return 0, &InvalidParametersError{
			Reason: fmt.Sprintf(
				"milestone amounts sum to %d, project total is %d",
				milestoneSum,
				totalAmount,
			),
		}
	}
	e.mu.Lock()
	unallocated := e.balances[asset] - min(e.allocated[asset], e.balances[asset])
	if unallocated < totalAmount {
		e.mu.Unlock()
		return 0, &InsufficientBalanceError{
			Asset:       asset,
			Unallocated: unallocated,
			Requested:   totalAmount,
		}
	}
	projectID := e.nextID
	e.nextID++
	project := &Project{
		ID:          projectID,
		Beneficiary: beneficiary,
		Asset:       asset,
		TotalAmount: totalAmount,
		Milestones:  make([]Milestone, len(milestones)),
		Active:      true,
	}
	for i, spec := range milestones {
		project.Milestones[i] = Milestone{
			Description: spec.Description,
			Amount:      spec.Amount,
			Deadline:    spec.Deadline,
			Status:      MilestonePending,
		}
	}
	e.projects[projectID] = project
	e.allocated[asset] += totalAmount
	e.mu.Unlock()
	e.logger.Info(
		"created project",
		"component", "escrow",
		"project_id", projectID,
		"beneficiary", beneficiary,
		"asset", asset,
		"total", totalAmount,
		"milestones", len(milestones),
		"by", caller,
	)
	e.metrics.projectsActive.Inc()
	if e.eventBus != nil {
		e.eventBus.Publish(
			ProjectCreatedEventType,
			event.NewEvent(
				ProjectCreatedEventType,
				ProjectCreatedEvent{
					ProjectID:   projectID,
					Beneficiary: beneficiary,
					Asset:       asset,
					TotalAmount: totalAmount,
					Milestones:  append([]MilestoneSpec{}, milestones...),
					By:          caller,
				},
			),
		)
	}
	return projectID, nil
}

// SubmitMilestone moves a pending milestone to submitted. Only the
// project beneficiary may submit, and only before the milestone
// deadline.
func (e *Escrow) SubmitMilestone(
	caller string,
	projectID uint64,
	milestoneIndex int,
	deliverableRef string,
) error {
	if err := e.config.Pause.Check(); err != nil {
		return err
	}
	now := e.clock.Now()
	e.mu.Lock()
	project, milestone, err := e.lookup(projectID, milestoneIndex)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if !project.Active {
		e.mu.Unlock()
		return &InvalidStateError{Expected: "active project", Actual: "cancelled"}
	}
	if caller != project.Beneficiary {
		e.mu.Unlock()
		return &auth.PermissionError{Role: "beneficiary", Principal: caller}
	}
	if milestone.Status != MilestonePending {
		status := milestone.Status.String()
		e.mu.Unlock()
		return &InvalidStateError{Expected: "pending", Actual: status}
	}
	if now.After(milestone.Deadline) {
		deadline := milestone.Deadline
		e.mu.Unlock()
		return &DeadlinePassedError{Deadline: deadline, Now: now}
	}
	milestone.Status = MilestoneSubmitted
	milestone.SubmittedAt = now
	milestone.DeliverableRef = deliverableRef
	e.mu.Unlock()
	e.logger.Info(
		"milestone submitted",
		"component", "escrow",
		"project_id", projectID,
		"milestone", milestoneIndex,
		"deliverable", deliverableRef,
	)
	if e.eventBus != nil {
		e.eventBus.Publish(
			MilestoneSubmittedEventType,
			event.NewEvent(
				MilestoneSubmittedEventType,
				MilestoneSubmittedEvent{
					ProjectID:      projectID,
					MilestoneIndex: milestoneIndex,
					DeliverableRef: deliverableRef,
					By:             caller,
				},
			),
		)
	}
	return nil
}

// ApproveMilestone releases the milestone amount to the beneficiary.
// An approval attempted after the approval timeout transitions the
// milestone to rejected instead, so a submission cannot sit approvable
// forever; the caller gets a DeadlinePassedError to distinguish the
// outcome from a successful approval.
func (e *Escrow) ApproveMilestone(
	caller string,
	projectID uint64,
	milestoneIndex int,
) error {
	if err := e.config.Pause.Check(); err != nil {
		return err
	}
	if !e.config.Authorizer.HasRole(auth.RoleMilestoneApprover, caller) {
		return &auth.PermissionError{
			Role:      auth.RoleMilestoneApprover,
			Principal: caller,
		}
	}
	now := e.clock.Now()
	e.mu.Lock()
	project, milestone, err := e.lookup(projectID, milestoneIndex)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if !project.Active {
		e.mu.Unlock()
		return &InvalidStateError{Expected: "active project", Actual: "cancelled"}
	}
	if milestone.Status != MilestoneSubmitted {
		status := milestone.Status.String()
		e.mu.Unlock()
		return &InvalidStateError{Expected: "submitted", Actual: status}
	}
	approvalDeadline := milestone.SubmittedAt.Add(e.config.ApprovalTimeout)
	if now.After(approvalDeadline) {
		milestone.Status = MilestoneRejected
		e.mu.Unlock()
		e.logger.Warn(
			"milestone aged out, rejecting",
			"component", "escrow",
			"project_id", projectID,
			"milestone", milestoneIndex,
		)
		if e.eventBus != nil {
			e.eventBus.Publish(
				MilestoneRejectedEventType,
				event.NewEvent(
					MilestoneRejectedEventType,
					MilestoneRejectedEvent{
						ProjectID:      projectID,
						MilestoneIndex: milestoneIndex,
						AgedOut:        true,
						By:             caller,
					},
				),
			)
		}
		return &DeadlinePassedError{Deadline: approvalDeadline, Now: now}
	}
	milestone.Status = MilestoneApproved
	milestone.ApprovedAt = now
	milestone.Approver = caller
	project.ReleasedAmount += milestone.Amount
	e.balances[project.Asset] -= milestone.Amount
	e.allocated[project.Asset] -= milestone.Amount
	amount := milestone.Amount
	beneficiary := project.Beneficiary
	e.mu.Unlock()
	e.logger.Info(
		"milestone approved",
		"component", "escrow",
		"project_id", projectID,
		"milestone", milestoneIndex,
		"amount", amount,
		"beneficiary", beneficiary,
		"by", caller,
	)
	e.metrics.releasesTotal.Inc()
	e.metrics.releasedUnits.Add(float64(amount))
	if e.eventBus != nil {
		e.eventBus.Publish(
			MilestoneApprovedEventType,
			event.NewEvent(
				MilestoneApprovedEventType,
				MilestoneApprovedEvent{
					ProjectID:      projectID,
					MilestoneIndex: milestoneIndex,
					Amount:         amount,
					Beneficiary:    beneficiary,
					By:             caller,
				},
			),
		)
	}
	return nil
}

// RejectMilestone moves a submitted milestone to rejected. The funds
// stay allocated to the project until cancellation returns them.
func (e *Escrow) RejectMilestone(
	caller string,
	projectID uint64,
	milestoneIndex int,
) error {
	if err := e.config.Pause.Check(); err != nil {
		return err
	}
	if !e.config.Authorizer.HasRole(auth.RoleMilestoneApprover, caller) {
		return &auth.PermissionError{
			Role:      auth.RoleMilestoneApprover,
			Principal: caller,
		}
	}
	e.mu.Lock()
	project, milestone, err := e.lookup(projectID, milestoneIndex)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if !project.Active {
		e.mu.Unlock()
		return &InvalidStateError{Expected: "active project", Actual: "cancelled"}
	}
	if milestone.Status != MilestoneSubmitted {
		status := milestone.Status.String()
		e.mu.Unlock()
		return &InvalidStateError{Expected: "submitted", Actual: status}
	}
	milestone.Status = MilestoneRejected
	e.mu.Unlock()
	e.logger.Info(
		"milestone rejected",
		"component", "escrow",
		"project_id", projectID,
		"milestone", milestoneIndex,
		"by", caller,
	)
	if e.eventBus != nil {
		e.eventBus.Publish(
			MilestoneRejectedEventType,
			event.NewEvent(
				MilestoneRejectedEventType,
				MilestoneRejectedEvent{
					ProjectID:      projectID,
					MilestoneIndex: milestoneIndex,
					By:             caller,
				},
			),
		)
	}
	return nil
}

// CancelProject deactivates the project, cancels every non-terminal
// milestone and returns the unreleased remainder to returnTo.
func (e *Escrow) CancelProject(
	caller string,
	projectID uint64,
	returnTo string,
) error {
	if err := e.config.Pause.Check(); err != nil {
		return err
	}
	if !e.config.Authorizer.HasRole(auth.RoleProjectAdmin, caller) {
		return &auth.PermissionError{
			Role:      auth.RoleProjectAdmin,
			Principal: caller,
		}
	}
	if returnTo == "" {
		return &InvalidParametersError{Reason: "empty return address"}
	}
	e.mu.Lock()
	project, ok := e.projects[projectID]
	if !ok {
		e.mu.Unlock()
		return &NotFoundError{ProjectID: projectID}
	}
	if !project.Active {
		e.mu.Unlock()
		return &InvalidStateError{Expected: "active project", Actual: "cancelled"}
	}
	for i := range project.Milestones {
		if !project.Milestones[i].Status.terminal() {
			project.Milestones[i].Status = MilestoneCancelled
		}
	}
	refund := project.TotalAmount - project.ReleasedAmount
	project.Active = false
	e.balances[project.Asset] -= refund
	e.allocated[project.Asset] -= refund
	e.mu.Unlock()
	e.logger.Info(
		"cancelled project",
		"component", "escrow",
		"project_id", projectID,
		"refund", refund,
		"return_to", returnTo,
		"by", caller,
	)
	e.metrics.projectsActive.Dec()
	if e.eventBus != nil {
		e.eventBus.Publish(
			ProjectCancelledEventType,
			event.NewEvent(
				ProjectCancelledEventType,
				ProjectCancelledEvent{
					ProjectID: projectID,
					ReturnTo:  returnTo,
					Refund:    refund,
					By:        caller,
				},
			),
		)
	}
	return nil
}

func (e *Escrow) lookup(
	projectID uint64,
	milestoneIndex int,
) (*Project, *Milestone, error) {
	project, ok := e.projects[projectID]
	if !ok {
		return nil, nil, &NotFoundError{ProjectID: projectID}
	}
	if milestoneIndex < 0 || milestoneIndex >= len(project.Milestones) {
		return nil, nil, &NotFoundError{
			ProjectID:      projectID,
			MilestoneIndex: milestoneIndex,
			Milestone:      true,
		}
	}
	return project, &project.Milestones[milestoneIndex], nil
}

type escrowSnapshot struct {
	balances  map[string]uint64
	allocated map[string]uint64
	projects  map[uint64]*Project
	nextID    uint64
}

// Snapshot captures balances, allocations and every project for later
// Restore. The returned value is opaque to callers.
func (e *Escrow) Snapshot() any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := escrowSnapshot{
		balances:  maps.Clone(e.balances),
		allocated: maps.Clone(e.allocated),
		projects:  make(map[uint64]*Project, len(e.projects)),
		nextID:    e.nextID,
	}
	for id, project := range e.projects {
		copied := *project
		copied.Milestones = slices.Clone(project.Milestones)
		s.projects[id] = &copied
	}
	return s
}

// Restore rewinds the escrow to a state previously captured by
// Snapshot. Projects created after the snapshot was taken are dropped.
func (e *Escrow) Restore(snapshot any) {
	s, ok := snapshot.(escrowSnapshot)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances = maps.Clone(s.balances)
	e.allocated = maps.Clone(s.allocated)
	e.projects = make(map[uint64]*Project, len(s.projects))
	for id, project := range s.projects {
		copied := *project
		copied.Milestones = slices.Clone(project.Milestones)
		e.projects[id] = &copied
	}
	e.nextID = s.nextID
}
