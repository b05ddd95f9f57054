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
	"encoding/json"
	"fmt"
	"time"

	"github.com/blinklabs-io/bastion/auth"
	"github.com/blinklabs-io/bastion/escrow"
	"github.com/blinklabs-io/bastion/ratelimit"
	"github.com/blinklabs-io/bastion/timelock"
)

// Timelock action targets. Proposal actions name one of these targets
// plus a method and JSON payload; Validate runs for every action in an
// operation before any Apply so a malformed action aborts the whole
// operation untouched.
const (
	TargetParams   = "params"
	TargetTreasury = "treasury"
	TargetEscrow   = "escrow"
	TargetPause    = "pause"
	TargetAuth     = "auth"
)

// InvalidActionError indicates a timelock action with an unknown
// method or a malformed payload.
type InvalidActionError struct {
	Target string
	Method string
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf(
		"invalid action %s.%s: %s",
		e.Target,
		e.Method,
		e.Reason,
	)
}

func decodePayload(action timelock.Action, v any) error {
	if err := json.Unmarshal(action.Payload, v); err != nil {
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: err.Error(),
		}
	}
	return nil
}

func (e *Engine) registerHandlers() {
	e.timelock.RegisterHandler(TargetParams, &paramsHandler{engine: e})
	e.timelock.RegisterHandler(TargetTreasury, &treasuryHandler{engine: e})
	e.timelock.RegisterHandler(TargetEscrow, &escrowHandler{engine: e})
	e.timelock.RegisterHandler(TargetPause, &pauseHandler{engine: e})
	e.timelock.RegisterHandler(TargetAuth, &authHandler{engine: e})
}

type paramsPayload struct {
	Name        string `json:"name"`
	IntValue    int64  `json:"int_value,omitempty"`
	StringValue string `json:"string_value,omitempty"`
	AddrValue   string `json:"addr_value,omitempty"`
	BoolValue   bool   `json:"bool_value,omitempty"`
}

type paramsHandler struct {
	engine *Engine
}

func (h *paramsHandler) Validate(action timelock.Action) error {
	var payload paramsPayload
	if err := decodePayload(action, &payload); err != nil {
		return err
	}
	if payload.Name == "" {
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: "empty parameter name",
		}
	}
	switch action.Method {
	case "set_int", "set_string", "set_addr", "set_bool":
		return nil
	default:
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: "unknown method",
		}
	}
}

func (h *paramsHandler) Snapshot() any {
	return h.engine.params.Snapshot()
}

func (h *paramsHandler) Restore(snapshot any) {
	h.engine.params.Restore(snapshot)
}

func (h *paramsHandler) Apply(action timelock.Action) error {
	var payload paramsPayload
	if err := decodePayload(action, &payload); err != nil {
		return err
	}
	store := h.engine.params
	switch action.Method {
	case "set_int":
		return store.SetInt(TimelockPrincipal, payload.Name, payload.IntValue)
	case "set_string":
		return store.SetString(
			TimelockPrincipal,
			payload.Name,
			payload.StringValue,
		)
	case "set_addr":
		return store.SetAddr(TimelockPrincipal, payload.Name, payload.AddrValue)
	case "set_bool":
		return store.SetBool(TimelockPrincipal, payload.Name, payload.BoolValue)
	default:
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: "unknown method",
		}
	}
}

type treasuryTransferPayload struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type treasuryBatchPayload struct {
	Transfers []treasuryTransferPayload `json:"transfers"`
}

type treasuryAmountPayload struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type treasuryEmissionPayload struct {
	Asset     string `json:"asset"`
	Rate      uint64 `json:"rate"`
	Recipient string `json:"recipient"`
}

type treasuryLimitPayload struct {
	Asset         string `json:"asset,omitempty"`
	Cap           uint64 `json:"cap"`
	WindowSeconds uint64 `json:"window_seconds,omitempty"`
}

type treasuryHandler struct {
	engine *Engine
}

func (h *treasuryHandler) Validate(action timelock.Action) error {
	invalid := func(reason string) error {
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: reason,
		}
	}
	switch action.Method {
	case "transfer":
		var payload treasuryTransferPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		if payload.Asset == "" || payload.To == "" {
			return invalid("empty asset or recipient")
		}
		if payload.Amount == 0 {
			return invalid("zero amount")
		}
	case "batch_transfer":
		var payload treasuryBatchPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		if len(payload.Transfers) == 0 {
			return invalid("empty batch")
		}
	case "reserve", "release":
		var payload treasuryAmountPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		if payload.Asset == "" {
			return invalid("empty asset")
		}
		if payload.Amount == 0 {
			return invalid("zero amount")
		}
	case "set_emission_rate":
		var payload treasuryEmissionPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		if payload.Asset == "" {
			return invalid("empty asset")
		}
	case "distribute_emissions":
		var payload treasuryEmissionPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		if payload.Asset == "" || payload.Recipient == "" {
			return invalid("empty asset or recipient")
		}
	case "set_global_cap":
		var payload treasuryLimitPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
	case "set_asset_limit":
		var payload treasuryLimitPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		if payload.Asset == "" {
			return invalid("empty asset")
		}
		if payload.Cap > 0 && payload.WindowSeconds == 0 {
			return invalid("cap requires a window duration")
		}
	default:
		return invalid("unknown method")
	}
	return nil
}

func (h *treasuryHandler) Snapshot() any {
	return h.engine.treasury.Snapshot()
}

func (h *treasuryHandler) Restore(snapshot any) {
	h.engine.treasury.Restore(snapshot)
}

func (h *treasuryHandler) Apply(action timelock.Action) error {
	ledger := h.engine.treasury
	switch action.Method {
	case "transfer":
		var payload treasuryTransferPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		return ledger.Transfer(
			TimelockPrincipal,
			payload.Asset,
			payload.To,
			payload.Amount,
		)
	case "batch_transfer":
		var payload treasuryBatchPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		assets := make([]string, 0, len(payload.Transfers))
		tos := make([]string, 0, len(payload.Transfers))
		amounts := make([]uint64, 0, len(payload.Transfers))
		for _, t := range payload.Transfers {
			assets = append(assets, t.Asset)
			tos = append(tos, t.To)
			amounts = append(amounts, t.Amount)
		}
		return ledger.BatchTransfer(TimelockPrincipal, assets, tos, amounts)
	case "reserve":
		var payload treasuryAmountPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		return ledger.Reserve(TimelockPrincipal, payload.Asset, payload.Amount)
	case "release":
		var payload treasuryAmountPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		return ledger.Release(TimelockPrincipal, payload.Asset, payload.Amount)
	case "set_emission_rate":
		var payload treasuryEmissionPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		return ledger.SetEmissionRate(
			TimelockPrincipal,
			payload.Asset,
			payload.Rate,
		)
	case "distribute_emissions":
		var payload treasuryEmissionPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		return ledger.DistributeEmissions(
			TimelockPrincipal,
			payload.Asset,
			payload.Recipient,
		)
	case "set_global_cap":
		var payload treasuryLimitPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		return ledger.SetGlobalCap(TimelockPrincipal, payload.Cap)
	case "set_asset_limit":
		var payload treasuryLimitPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		if payload.Cap == 0 {
			return ledger.SetAssetLimit(TimelockPrincipal, payload.Asset, nil)
		}
		// Dynamically created windows skip metrics registration so a
		// later limit update for the same asset cannot collide with
		// the earlier window's collectors
		window := ratelimit.NewWindow(ratelimit.WindowConfig{
			Logger:         h.engine.config.logger,
			Name:           payload.Asset,
			Cap:            payload.Cap,
			WindowDuration: time.Duration(payload.WindowSeconds) * time.Second,
		})
		return ledger.SetAssetLimit(TimelockPrincipal, payload.Asset, window)
	default:
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: "unknown method",
		}
	}
}

type escrowMilestonePayload struct {
	Description string `json:"description"`
	Amount      uint64 `json:"amount"`
	Deadline    string `json:"deadline"`
}

type escrowCreatePayload struct {
	Beneficiary string                   `json:"beneficiary"`
	Asset       string                   `json:"asset"`
	TotalAmount uint64                   `json:"total_amount"`
	Milestones  []escrowMilestonePayload `json:"milestones"`
}

type escrowCancelPayload struct {
	ProjectID uint64 `json:"project_id"`
	ReturnTo  string `json:"return_to"`
}

type escrowFundPayload struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type escrowHandler struct {
	engine *Engine
}

func (h *escrowHandler) milestoneSpecs(
	payload escrowCreatePayload,
) ([]escrow.MilestoneSpec, error) {
	specs := make([]escrow.MilestoneSpec, 0, len(payload.Milestones))
	for _, m := range payload.Milestones {
		deadline, err := time.Parse(time.RFC3339, m.Deadline)
		if err != nil {
			return nil, fmt.Errorf("invalid milestone deadline: %w", err)
		}
		specs = append(specs, escrow.MilestoneSpec{
			Description: m.Description,
			Amount:      m.Amount,
			Deadline:    deadline,
		})
	}
	return specs, nil
}

func (h *escrowHandler) Validate(action timelock.Action) error {
	invalid := func(reason string) error {
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: reason,
		}
	}
	switch action.Method {
	case "create_project":
		var payload escrowCreatePayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		if payload.Beneficiary == "" || payload.Asset == "" {
			return invalid("empty beneficiary or asset")
		}
		if len(payload.Milestones) == 0 {
			return invalid("no milestones")
		}
		if _, err := h.milestoneSpecs(payload); err != nil {
			return invalid(err.Error())
		}
	case "cancel_project":
		var payload escrowCancelPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		if payload.ProjectID == 0 {
			return invalid("zero project id")
		}
		if payload.ReturnTo == "" {
			return invalid("empty return recipient")
		}
	case "fund":
		var payload escrowFundPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		if payload.Asset == "" {
			return invalid("empty asset")
		}
		if payload.Amount == 0 {
			return invalid("zero amount")
		}
	default:
		return invalid("unknown method")
	}
	return nil
}

func (h *escrowHandler) Snapshot() any {
	return h.engine.escrow.Snapshot()
}

func (h *escrowHandler) Restore(snapshot any) {
	h.engine.escrow.Restore(snapshot)
}

func (h *escrowHandler) Apply(action timelock.Action) error {
	switch action.Method {
	case "create_project":
		var payload escrowCreatePayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		specs, err := h.milestoneSpecs(payload)
		if err != nil {
			return err
		}
		_, err = h.engine.escrow.CreateProject(
			TimelockPrincipal,
			payload.Beneficiary,
			payload.Asset,
			payload.TotalAmount,
			specs,
		)
		return err
	case "cancel_project":
		var payload escrowCancelPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		return h.engine.escrow.CancelProject(
			TimelockPrincipal,
			payload.ProjectID,
			payload.ReturnTo,
		)
	case "fund":
		var payload escrowFundPayload
		if err := decodePayload(action, &payload); err != nil {
			return err
		}
		return h.engine.escrow.Fund(payload.Asset, payload.Amount)
	default:
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: "unknown method",
		}
	}
}

type pauseHandler struct {
	engine *Engine
}

func (h *pauseHandler) Validate(action timelock.Action) error {
	switch action.Method {
	case "pause", "unpause":
		return nil
	default:
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: "unknown method",
		}
	}
}

func (h *pauseHandler) Snapshot() any {
	return h.engine.pause.Snapshot()
}

func (h *pauseHandler) Restore(snapshot any) {
	h.engine.pause.Restore(snapshot)
}

func (h *pauseHandler) Apply(action timelock.Action) error {
	switch action.Method {
	case "pause":
		return h.engine.pause.Pause(TimelockPrincipal)
	case "unpause":
		return h.engine.pause.Unpause(TimelockPrincipal)
	default:
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: "unknown method",
		}
	}
}

type authPayload struct {
	Role      string `json:"role"`
	Principal string `json:"principal,omitempty"`
	AdminRole string `json:"admin_role,omitempty"`
}

type authHandler struct {
	engine *Engine
}

func (h *authHandler) Validate(action timelock.Action) error {
	var payload authPayload
	if err := decodePayload(action, &payload); err != nil {
		return err
	}
	invalid := func(reason string) error {
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: reason,
		}
	}
	if payload.Role == "" {
		return invalid("empty role")
	}
	switch action.Method {
	case "grant", "revoke":
		if payload.Principal == "" {
			return invalid("empty principal")
		}
	case "set_role_admin":
		if payload.AdminRole == "" {
			return invalid("empty admin role")
		}
	default:
		return invalid("unknown method")
	}
	return nil
}

func (h *authHandler) Snapshot() any {
	return h.engine.authorizer.Snapshot()
}

func (h *authHandler) Restore(snapshot any) {
	h.engine.authorizer.Restore(snapshot)
}

func (h *authHandler) Apply(action timelock.Action) error {
	var payload authPayload
	if err := decodePayload(action, &payload); err != nil {
		return err
	}
	authorizer := h.engine.authorizer
	switch action.Method {
	case "grant":
		return authorizer.Grant(
			TimelockPrincipal,
			auth.Role(payload.Role),
			payload.Principal,
		)
	case "revoke":
		return authorizer.Revoke(
			TimelockPrincipal,
			auth.Role(payload.Role),
			payload.Principal,
		)
	case "set_role_admin":
		return authorizer.SetRoleAdmin(
			TimelockPrincipal,
			auth.Role(payload.Role),
			auth.Role(payload.AdminRole),
		)
	default:
		return &InvalidActionError{
			Target: action.Target,
			Method: action.Method,
			Reason: "unknown method",
		}
	}
}
