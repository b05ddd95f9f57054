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

package governance

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"sort"
	"sync"
	"time"

	"github.com/blinklabs-io/bastion/auth"
	"github.com/blinklabs-io/bastion/clock"
	"github.com/blinklabs-io/bastion/event"
	"github.com/blinklabs-io/bastion/timelock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ProposalCreatedEventType   event.EventType = "governance.proposal_created"
	VoteCastEventType          event.EventType = "governance.vote_cast"
	ProposalQueuedEventType    event.EventType = "governance.proposal_queued"
	ProposalExecutedEventType  event.EventType = "governance.proposal_executed"
	ProposalCancelledEventType event.EventType = "governance.proposal_cancelled"
)

type ProposalCreatedEvent struct {
	ProposalID  uint64
	Proposer    string
	Actions     int
	Description string
	Digest      [32]byte
	Snapshot    uint64
	Quorum      uint64
	VotingStart uint64
	VotingEnd   uint64
}

type VoteCastEvent struct {
	ProposalID uint64
	Voter      string
	Support    Support
	Weight     uint64
	Reason     string
}

type ProposalQueuedEvent struct {
	ProposalID  uint64
	OperationID string
	ReadyAt     time.Time
	By          string
}

type ProposalExecutedEvent struct {
	ProposalID uint64
}

type ProposalCancelledEvent struct {
	ProposalID uint64
	By         string
}

const (
	DefaultMaxActions   = 10
	DefaultVotingDelay  = uint64(1)
	DefaultVotingPeriod = uint64(7 * 24 * 60 * 60)
	DefaultQueueWindow  = uint64(14 * 24 * 60 * 60)
)

// Support is a vote direction.
type Support uint8

const (
	SupportAgainst Support = 0
	SupportFor     Support = 1
	SupportAbstain Support = 2
)

func (s Support) String() string {
	switch s {
	case SupportAgainst:
		return "against"
	case SupportFor:
		return "for"
	case SupportAbstain:
		return "abstain"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Oracle provides voting power snapshots at historical clock
// positions. The engine consumes it read-only; power bookkeeping lives
// outside.
type Oracle interface {
	WeightAt(account string, position uint64) uint64
	TotalSupplyAt(position uint64) uint64
}

// QuorumPolicy decides the minimum weighted participation for a
// proposal, given the total supply at its creation snapshot.
type QuorumPolicy interface {
	Quorum(totalSupply uint64) uint64
}

// FractionQuorum requires a fixed fraction of total supply, rounded
// down.
type FractionQuorum struct {
	Numerator   uint64
	Denominator uint64
}

func (q FractionQuorum) Quorum(totalSupply uint64) uint64 {
	if q.Denominator == 0 || q.Numerator > q.Denominator {
		return 0
	}
	// Full 128-bit product keeps supplies near the uint64 ceiling
	// exact. Numerator <= Denominator bounds the quotient by
	// totalSupply.
	hi, lo := bits.Mul64(totalSupply, q.Numerator)
	quorum, _ := bits.Div64(hi, lo, q.Denominator)
	return quorum
}

// Scheduler is the timelock binding consumed by the manager.
type Scheduler interface {
	Schedule(
		caller string,
		actions []timelock.Action,
		digest [32]byte,
	) (timelock.OperationID, time.Time, error)
	Cancel(caller string, id timelock.OperationID) error
}

type ProposalState uint8

const (
	ProposalPending ProposalState = iota
	ProposalActive
	ProposalSucceeded
	ProposalDefeated
	ProposalQueued
	ProposalExpired
	ProposalExecuted
	ProposalCancelled
)

func (s ProposalState) String() string {
	switch s {
	case ProposalPending:
		return "pending"
	case ProposalActive:
		return "active"
	case ProposalSucceeded:
		return "succeeded"
	case ProposalDefeated:
		return "defeated"
	case ProposalQueued:
		return "queued"
	case ProposalExpired:
		return "expired"
	case ProposalExecuted:
		return "executed"
	case ProposalCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether the state admits no further transitions.
func (s ProposalState) Terminal() bool {
	switch s {
	case ProposalDefeated, ProposalExpired, ProposalExecuted,
		ProposalCancelled:
		return true
	default:
		return false
	}
}

type TallyResult struct {
	For     uint64
	Against uint64
	Abstain uint64
}

// Participation is the total weight cast, all directions counted.
func (t TallyResult) Participation() uint64 {
	return t.For + t.Against + t.Abstain
}

type VoteRecord struct {
	Voter    string
	Support  Support
	Weight   uint64
	Reason   string
	Position uint64
}

type Proposal struct {
	ID          uint64
	Proposer    string
	Actions     []timelock.Action
	Description string
	Digest      [32]byte
	// Snapshot is the clock position at creation. Weights, supply and
	// quorum for this proposal are all read at this position.
	Snapshot    uint64
	VotingStart uint64
	VotingEnd   uint64
	Quorum      uint64
	Tally       TallyResult
	State       ProposalState
	OperationID timelock.OperationID
}

type ProposalNotExistsError struct {
	ProposalID uint64
}

func (e *ProposalNotExistsError) Error() string {
	return fmt.Sprintf("proposal %d does not exist", e.ProposalID)
}

// VotingClosedError indicates a vote cast outside the proposal's
// voting window.
type VotingClosedError struct {
	ProposalID uint64
	State      ProposalState
}

func (e *VotingClosedError) Error() string {
	return fmt.Sprintf(
		"voting closed for proposal %d: state %s",
		e.ProposalID,
		e.State,
	)
}

type AlreadyVotedError struct {
	ProposalID uint64
	Voter      string
}

func (e *AlreadyVotedError) Error() string {
	return fmt.Sprintf(
		"%s already voted on proposal %d",
		e.Voter,
		e.ProposalID,
	)
}

// InvalidParametersError indicates malformed or empty proposal input.
type InvalidParametersError struct {
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid parameters: %s", e.Reason)
}

type TooManyActionsError struct {
	Count int
	Max   int
}

func (e *TooManyActionsError) Error() string {
	return fmt.Sprintf("too many actions: %d, max %d", e.Count, e.Max)
}

type InsufficientVotingPowerError struct {
	Weight    uint64
	Threshold uint64
}

func (e *InsufficientVotingPowerError) Error() string {
	return fmt.Sprintf(
		"insufficient voting power: weight %d, threshold %d",
		e.Weight,
		e.Threshold,
	)
}

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

type ManagerConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Authorizer   *auth.Authorizer
	Clock        clock.Clock
	Oracle       Oracle
	Quorum       QuorumPolicy
	Scheduler    Scheduler
	// Principal is the identity the manager presents to the scheduler.
	Principal string
	// ProposalThreshold is the minimum snapshot weight to propose.
	// Holders of the proposal-admin role bypass it.
	ProposalThreshold uint64
	// Voting window geometry in clock positions. Zero values select
	// the defaults.
	VotingDelay  uint64
	VotingPeriod uint64
	// QueueWindow is how long after voting ends a succeeded proposal
	// stays queueable before expiring.
	QueueWindow uint64
	MaxActions  int
}

// Manager runs the proposal state machine. Weights and quorum are
// frozen at each proposal's creation snapshot, so neither supply
// changes nor power acquired after creation can swing an in-flight
// vote. There is no background scheduler; window boundaries take
// effect the next time any party reads or mutates the proposal.
type Manager struct {
	config   ManagerConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	clock    clock.Clock
	metrics  struct {
		proposals prometheus.Counter
		votes     prometheus.Counter
		open      prometheus.GaugeFunc
	}
	proposals map[uint64]*Proposal
	votes     map[uint64]map[string]VoteRecord
	byOpID    map[timelock.OperationID]uint64
	nextID    uint64
	mu        sync.RWMutex
}

func NewManager(config ManagerConfig) *Manager {
	m := &Manager{
		config:    config,
		eventBus:  config.EventBus,
		clock:     config.Clock,
		proposals: make(map[uint64]*Proposal),
		votes:     make(map[uint64]map[string]VoteRecord),
		byOpID:    make(map[timelock.OperationID]uint64),
		nextID:    1,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		m.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		m.logger = config.Logger
	}
	if m.clock == nil {
		m.clock = clock.NewSystemClock()
	}
	if m.config.MaxActions <= 0 {
		m.config.MaxActions = DefaultMaxActions
	}
	if m.config.VotingDelay == 0 {
		m.config.VotingDelay = DefaultVotingDelay
	}
	if m.config.VotingPeriod == 0 {
		m.config.VotingPeriod = DefaultVotingPeriod
	}
	if m.config.QueueWindow == 0 {
		m.config.QueueWindow = DefaultQueueWindow
	}
	promautoFactory := promauto.With(config.PromRegistry)
	m.metrics.proposals = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_governance_proposals_total",
			Help: "total proposals created",
		},
	)
	m.metrics.votes = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_governance_votes_total",
			Help: "total votes cast",
		},
	)
	// Defeated and expired are derived states with no transition hook,
	// so the gauge is computed at scrape time instead of counted
	m.metrics.open = promautoFactory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "bastion_governance_proposals_open",
			Help: "proposals in a non-terminal state",
		},
		m.openProposals,
	)
	return m
}

// Propose creates a proposal from an ordered action list. The voting
// window opens VotingDelay positions after the creation snapshot.
func (m *Manager) Propose(
	proposer string,
	actions []timelock.Action,
	description string,
) (uint64, error) {
	if len(actions) == 0 {
		return 0, &InvalidParametersError{Reason: "proposal has no actions"}
	}
	if len(actions) > m.config.MaxActions {
		return 0, &TooManyActionsError{
			Count: len(actions),
			Max:   m.config.MaxActions,
		}
	}
	position := m.clock.Position()
	if !m.config.Authorizer.HasRole(auth.RoleProposalAdmin, proposer) {
		weight := m.config.Oracle.WeightAt(proposer, position)
		if weight < m.config.ProposalThreshold {
			return 0, &InsufficientVotingPowerError{
				Weight:    weight,
				Threshold: m.config.ProposalThreshold,
			}
		}
	}
	quorum := m.config.Quorum.Quorum(
		m.config.Oracle.TotalSupplyAt(position),
	)
	m.mu.Lock()
	proposalID := m.nextID
	m.nextID++
	proposal := &Proposal{
		ID:          proposalID,
		Proposer:    proposer,
		Actions:     make([]timelock.Action, len(actions)),
		Description: description,
		Digest:      sha256.Sum256([]byte(description)),
		Snapshot:    position,
		VotingStart: position + m.config.VotingDelay,
		VotingEnd:   position + m.config.VotingDelay + m.config.VotingPeriod,
		Quorum:      quorum,
	}
	copy(proposal.Actions, actions)
	m.proposals[proposalID] = proposal
	m.votes[proposalID] = make(map[string]VoteRecord)
	digest := proposal.Digest
	votingStart := proposal.VotingStart
	votingEnd := proposal.VotingEnd
	m.mu.Unlock()
	m.logger.Info(
		"created proposal",
		"component", "governance",
		"proposal_id", proposalID,
		"proposer", proposer,
		"actions", len(actions),
		"snapshot", position,
		"quorum", quorum,
	)
	m.metrics.proposals.Inc()
	if m.eventBus != nil {
		m.eventBus.Publish(
			ProposalCreatedEventType,
			event.NewEvent(
				ProposalCreatedEventType,
				ProposalCreatedEvent{
					ProposalID:  proposalID,
					Proposer:    proposer,
					Actions:     len(actions),
					Description: description,
					Digest:      digest,
					Snapshot:    position,
					Quorum:      quorum,
					VotingStart: votingStart,
					VotingEnd:   votingEnd,
				},
			),
		)
	}
	return proposalID, nil
}

// CastVote records a weighted vote and returns the weight applied.
// Weight is the voter's snapshot value at proposal creation, not at
// cast time. A second cast by the same voter is rejected, never
// overwritten.
func (m *Manager) CastVote(
	voter string,
	proposalID uint64,
	support Support,
	reason string,
) (uint64, error) {
	if support > SupportAbstain {
		return 0, &InvalidStateError{
			Expected: "support in {against, for, abstain}",
			Actual:   support.String(),
		}
	}
	position := m.clock.Position()
	m.mu.Lock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		m.mu.Unlock()
		return 0, &ProposalNotExistsError{ProposalID: proposalID}
	}
	state := m.stateLocked(proposal, position)
	if state != ProposalActive {
		m.mu.Unlock()
		return 0, &VotingClosedError{ProposalID: proposalID, State: state}
	}
	if _, voted := m.votes[proposalID][voter]; voted {
		m.mu.Unlock()
		return 0, &AlreadyVotedError{ProposalID: proposalID, Voter: voter}
	}
	weight := m.config.Oracle.WeightAt(voter, proposal.Snapshot)
	m.votes[proposalID][voter] = VoteRecord{
		Voter:    voter,
		Support:  support,
		Weight:   weight,
		Reason:   reason,
		Position: position,
	}
	switch support {
	case SupportFor:
		proposal.Tally.For += weight
	case SupportAgainst:
		proposal.Tally.Against += weight
	case SupportAbstain:
		proposal.Tally.Abstain += weight
	}
	m.mu.Unlock()
	m.logger.Info(
		"vote cast",
		"component", "governance",
		"proposal_id", proposalID,
		"voter", voter,
		"support", support.String(),
		"weight", weight,
	)
	m.metrics.votes.Inc()
	if m.eventBus != nil {
		m.eventBus.Publish(
			VoteCastEventType,
			event.NewEvent(
				VoteCastEventType,
				VoteCastEvent{
					ProposalID: proposalID,
					Voter:      voter,
					Support:    support,
					Weight:     weight,
					Reason:     reason,
				},
			),
		)
	}
	return weight, nil
}

// State returns the proposal's current state at the present clock
// position. Public read.
func (m *Manager) State(proposalID uint64) (ProposalState, error) {
	position := m.clock.Position()
	m.mu.RLock()
	defer m.mu.RUnlock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		return 0, &ProposalNotExistsError{ProposalID: proposalID}
	}
	return m.stateLocked(proposal, position), nil
}

// Tally returns the running tally. Public read.
func (m *Manager) Tally(proposalID uint64) (TallyResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		return TallyResult{}, &ProposalNotExistsError{ProposalID: proposalID}
	}
	return proposal.Tally, nil
}

// Proposal returns a copy of the proposal with its state resolved at
// the present clock position. Public read.
func (m *Manager) Proposal(proposalID uint64) (Proposal, error) {
	position := m.clock.Position()
	m.mu.RLock()
	defer m.mu.RUnlock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		return Proposal{}, &ProposalNotExistsError{ProposalID: proposalID}
	}
	out := *proposal
	out.Actions = make([]timelock.Action, len(proposal.Actions))
	copy(out.Actions, proposal.Actions)
	out.State = m.stateLocked(proposal, position)
	return out, nil
}

// Vote returns the recorded vote for a (proposal, voter) pair. Public
// read.
func (m *Manager) Vote(
	proposalID uint64,
	voter string,
) (VoteRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records, ok := m.votes[proposalID]
	if !ok {
		return VoteRecord{}, false, &ProposalNotExistsError{
			ProposalID: proposalID,
		}
	}
	record, voted := records[voter]
	return record, voted, nil
}

// Votes returns every recorded vote for a proposal, ordered by the
// position each vote landed at. Public read.
func (m *Manager) Votes(proposalID uint64) ([]VoteRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records, ok := m.votes[proposalID]
	if !ok {
		return nil, &ProposalNotExistsError{ProposalID: proposalID}
	}
	ret := make([]VoteRecord, 0, len(records))
	for _, record := range records {
		ret = append(ret, record)
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Position != ret[j].Position {
			return ret[i].Position < ret[j].Position
		}
		return ret[i].Voter < ret[j].Voter
	})
	return ret, nil
}

// ProposalIDs returns every proposal id in ascending order. Public
// read.
func (m *Manager) ProposalIDs() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint64, 0, len(m.proposals))
	for id := uint64(1); id < m.nextID; id++ {
		if _, ok := m.proposals[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Queue hands a succeeded proposal to the timelock scheduler. The
// scheduler enforces its own delay; the manager records the resulting
// operation id so execution and cancellation flow back into the
// proposal state.
func (m *Manager) Queue(caller string, proposalID uint64) error {
	position := m.clock.Position()
	m.mu.Lock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		m.mu.Unlock()
		return &ProposalNotExistsError{ProposalID: proposalID}
	}
	state := m.stateLocked(proposal, position)
	if state != ProposalSucceeded {
		m.mu.Unlock()
		return &InvalidStateError{
			Expected: "succeeded",
			Actual:   state.String(),
		}
	}
	actions := make([]timelock.Action, len(proposal.Actions))
	copy(actions, proposal.Actions)
	digest := proposal.Digest
	m.mu.Unlock()
	opID, readyAt, err := m.config.Scheduler.Schedule(
		m.config.Principal,
		actions,
		digest,
	)
	if err != nil {
		return err
	}
	m.mu.Lock()
	// A cancel may have landed while the lock was released around
	// Schedule; the fresh operation must not outlive it
	if proposal.State == ProposalCancelled {
		m.mu.Unlock()
		if cancelErr := m.config.Scheduler.Cancel(
			m.config.Principal,
			opID,
		); cancelErr != nil {
			m.logger.Warn(
				"timelock cancel failed",
				"component", "governance",
				"proposal_id", proposalID,
				"operation_id", opID.String(),
				"error", cancelErr,
			)
		}
		return &InvalidStateError{
			Expected: "succeeded",
			Actual:   ProposalCancelled.String(),
		}
	}
	proposal.State = ProposalQueued
	proposal.OperationID = opID
	m.byOpID[opID] = proposalID
	m.mu.Unlock()
	m.logger.Info(
		"queued proposal",
		"component", "governance",
		"proposal_id", proposalID,
		"operation_id", opID.String(),
		"ready_at", readyAt,
		"by", caller,
	)
	if m.eventBus != nil {
		m.eventBus.Publish(
			ProposalQueuedEventType,
			event.NewEvent(
				ProposalQueuedEventType,
				ProposalQueuedEvent{
					ProposalID:  proposalID,
					OperationID: opID.String(),
					ReadyAt:     readyAt,
					By:          caller,
				},
			),
		)
	}
	return nil
}

// Cancel aborts a proposal in any non-terminal state. Queued proposals
// also have their timelock operation cancelled.
func (m *Manager) Cancel(caller string, proposalID uint64) error {
	if !m.config.Authorizer.HasRole(auth.RoleEmergency, caller) {
		return &auth.PermissionError{
			Role:      auth.RoleEmergency,
			Principal: caller,
		}
	}
	position := m.clock.Position()
	m.mu.Lock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		m.mu.Unlock()
		return &ProposalNotExistsError{ProposalID: proposalID}
	}
	state := m.stateLocked(proposal, position)
	if state.Terminal() {
		m.mu.Unlock()
		return &InvalidStateError{
			Expected: "non-terminal",
			Actual:   state.String(),
		}
	}
	wasQueued := state == ProposalQueued
	opID := proposal.OperationID
	proposal.State = ProposalCancelled
	m.mu.Unlock()
	if wasQueued {
		if err := m.config.Scheduler.Cancel(m.config.Principal, opID); err != nil {
			m.logger.Warn(
				"timelock cancel failed",
				"component", "governance",
				"proposal_id", proposalID,
				"operation_id", opID.String(),
				"error", err,
			)
		}
	}
	m.logger.Info(
		"cancelled proposal",
		"component", "governance",
		"proposal_id", proposalID,
		"by", caller,
	)
	if m.eventBus != nil {
		m.eventBus.Publish(
			ProposalCancelledEventType,
			event.NewEvent(
				ProposalCancelledEventType,
				ProposalCancelledEvent{ProposalID: proposalID, By: caller},
			),
		)
	}
	return nil
}

// HandleExecuted transitions a queued proposal to executed. Wired to
// the timelock's executed callback.
func (m *Manager) HandleExecuted(opID timelock.OperationID) {
	m.mu.Lock()
	proposalID, ok := m.byOpID[opID]
	if !ok {
		m.mu.Unlock()
		return
	}
	proposal := m.proposals[proposalID]
	if proposal.State != ProposalQueued {
		m.mu.Unlock()
		return
	}
	proposal.State = ProposalExecuted
	m.mu.Unlock()
	m.logger.Info(
		"proposal executed",
		"component", "governance",
		"proposal_id", proposalID,
	)
	if m.eventBus != nil {
		m.eventBus.Publish(
			ProposalExecutedEventType,
			event.NewEvent(
				ProposalExecutedEventType,
				ProposalExecutedEvent{ProposalID: proposalID},
			),
		)
	}
}

// HandleCancelled transitions a queued proposal to cancelled when its
// timelock operation was cancelled out from under it. Wired to the
// timelock's cancelled callback.
func (m *Manager) HandleCancelled(opID timelock.OperationID) {
	m.mu.Lock()
	proposalID, ok := m.byOpID[opID]
	if !ok {
		m.mu.Unlock()
		return
	}
	proposal := m.proposals[proposalID]
	if proposal.State != ProposalQueued {
		m.mu.Unlock()
		return
	}
	proposal.State = ProposalCancelled
	m.mu.Unlock()
	m.logger.Info(
		"proposal cancelled via timelock",
		"component", "governance",
		"proposal_id", proposalID,
	)
	if m.eventBus != nil {
		m.eventBus.Publish(
			ProposalCancelledEventType,
			event.NewEvent(
				ProposalCancelledEventType,
				ProposalCancelledEvent{ProposalID: proposalID},
			),
		)
	}
}

// stateLocked resolves the proposal state at a clock position. Queued,
// executed and cancelled are sticky overrides; everything else derives
// from the voting window and tally.
func (m *Manager) stateLocked(
	proposal *Proposal,
	position uint64,
) ProposalState {
	switch proposal.State {
	case ProposalQueued, ProposalExecuted, ProposalCancelled:
		return proposal.State
	}
	if position < proposal.VotingStart {
		return ProposalPending
	}
	if position < proposal.VotingEnd {
		return ProposalActive
	}
	if proposal.Tally.Participation() < proposal.Quorum ||
		proposal.Tally.For <= proposal.Tally.Against {
		return ProposalDefeated
	}
	if position >= proposal.VotingEnd+m.config.QueueWindow {
		return ProposalExpired
	}
	return ProposalSucceeded
}

// openProposals counts proposals whose state at the current clock
// position is non-terminal. Backs the proposals_open gauge.
func (m *Manager) openProposals() float64 {
	position := m.clock.Position()
	m.mu.RLock()
	defer m.mu.RUnlock()
	open := 0
	for _, proposal := range m.proposals {
		if !m.stateLocked(proposal, position).Terminal() {
			open++
		}
	}
	return float64(open)
}
