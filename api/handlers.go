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

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

const apiVersion = "0.1.0"

// writeJSON writes a JSON response with the given status
// code.
func writeJSON(
	w http.ResponseWriter,
	status int,
	v any,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(
	w http.ResponseWriter,
	status int,
	errStr string,
	message string,
) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      errStr,
		Message:    message,
	})
}

// writeNotFound writes a 404 response.
func writeNotFound(
	w http.ResponseWriter,
	message string,
) {
	writeError(
		w,
		http.StatusNotFound,
		"Not Found",
		message,
	)
}

// writeBadRequest writes a 400 response.
func writeBadRequest(
	w http.ResponseWriter,
	message string,
) {
	writeError(
		w,
		http.StatusBadRequest,
		"Bad Request",
		message,
	)
}

// writeInternalError logs the error and writes a 500
// response.
func (a *Api) writeInternalError(
	w http.ResponseWriter,
	message string,
	err error,
) {
	a.logger.Error(
		message,
		"error", err,
	)
	writeError(
		w,
		http.StatusInternalServerError,
		"Internal Server Error",
		message,
	)
}

// pathID parses a numeric {id} path value.
func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.PathValue("id"), 10, 64)
}

func proposalResponse(info ProposalInfo) ProposalResponse {
	return ProposalResponse{
		ID:          info.ID,
		Proposer:    info.Proposer,
		Description: info.Description,
		State:       info.State,
		Snapshot:    info.Snapshot,
		VotingStart: info.VotingStart,
		VotingEnd:   info.VotingEnd,
		Quorum:      info.Quorum,
		For:         info.For,
		Against:     info.Against,
		Abstain:     info.Abstain,
		ActionCount: info.ActionCount,
		OperationID: info.OperationID,
	}
}

func projectResponse(info ProjectInfo) ProjectResponse {
	milestones := make(
		[]MilestoneResponse,
		0,
		len(info.Milestones),
	)
	for _, m := range info.Milestones {
		milestones = append(milestones, MilestoneResponse{
			Index:          m.Index,
			Amount:         m.Amount,
			Deadline:       m.Deadline.Format(time.RFC3339),
			Status:         m.Status,
			DeliverableRef: m.DeliverableRef,
		})
	}
	return ProjectResponse{
		ID:             info.ID,
		Beneficiary:    info.Beneficiary,
		Asset:          info.Asset,
		TotalAmount:    info.TotalAmount,
		ReleasedAmount: info.ReleasedAmount,
		Active:         info.Active,
		Milestones:     milestones,
	}
}

// handleRoot handles GET / and returns API metadata.
func (a *Api) handleRoot(
	w http.ResponseWriter,
	_ *http.Request,
) {
	writeJSON(w, http.StatusOK, RootResponse{
		URL:     "https://blinklabs.io/",
		Version: apiVersion,
	})
}

// handleHealth handles GET /health.
func (a *Api) handleHealth(
	w http.ResponseWriter,
	_ *http.Request,
) {
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy: true,
	})
}

// handleStatus handles GET /api/v1/status.
func (a *Api) handleStatus(
	w http.ResponseWriter,
	_ *http.Request,
) {
	info, err := a.node.Status()
	if err != nil {
		a.writeInternalError(
			w,
			"failed to retrieve status",
			err,
		)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Paused:         info.Paused,
		EmergencyPause: info.EmergencyPause,
		ClockPosition:  info.ClockPosition,
		ProposalCount:  info.ProposalCount,
		ProjectCount:   info.ProjectCount,
	})
}

// handleProposals handles GET /api/v1/proposals.
func (a *Api) handleProposals(
	w http.ResponseWriter,
	r *http.Request,
) {
	params, err := ParsePagination(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	ids, err := a.node.Proposals()
	if err != nil {
		a.writeInternalError(
			w,
			"failed to retrieve proposals",
			err,
		)
		return
	}
	SetPaginationHeaders(w, len(ids), params)
	resp := []ProposalResponse{}
	for _, id := range paginate(ids, params) {
		info, err := a.node.Proposal(id)
		if err != nil {
			a.writeInternalError(
				w,
				"failed to retrieve proposals",
				err,
			)
			return
		}
		resp = append(resp, proposalResponse(info))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProposal handles GET /api/v1/proposals/{id}.
func (a *Api) handleProposal(
	w http.ResponseWriter,
	r *http.Request,
) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, "invalid proposal id")
		return
	}
	info, err := a.node.Proposal(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeNotFound(w, "proposal not found")
			return
		}
		a.writeInternalError(
			w,
			"failed to retrieve proposal",
			err,
		)
		return
	}
	writeJSON(w, http.StatusOK, proposalResponse(info))
}

// handleProposalVotes handles
// GET /api/v1/proposals/{id}/votes.
func (a *Api) handleProposalVotes(
	w http.ResponseWriter,
	r *http.Request,
) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, "invalid proposal id")
		return
	}
	votes, err := a.node.ProposalVotes(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeNotFound(w, "proposal not found")
			return
		}
		a.writeInternalError(
			w,
			"failed to retrieve votes",
			err,
		)
		return
	}
	resp := []VoteResponse{}
	for _, v := range votes {
		resp = append(resp, VoteResponse{
			Voter:   v.Voter,
			Support: v.Support,
			Weight:  v.Weight,
			Reason:  v.Reason,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleOperation handles GET /api/v1/operations/{id}.
func (a *Api) handleOperation(
	w http.ResponseWriter,
	r *http.Request,
) {
	info, err := a.node.Operation(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeNotFound(w, "operation not found")
			return
		}
		a.writeInternalError(
			w,
			"failed to retrieve operation",
			err,
		)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{
		ID:          info.ID,
		Status:      info.Status,
		ActionCount: info.ActionCount,
		ScheduledAt: info.ScheduledAt.Format(time.RFC3339),
		ReadyAt:     info.ReadyAt.Format(time.RFC3339),
	})
}

// handleTreasuryAssets handles GET /api/v1/treasury.
func (a *Api) handleTreasuryAssets(
	w http.ResponseWriter,
	_ *http.Request,
) {
	assets, err := a.node.TreasuryAssets()
	if err != nil {
		a.writeInternalError(
			w,
			"failed to retrieve treasury assets",
			err,
		)
		return
	}
	if assets == nil {
		assets = []string{}
	}
	writeJSON(w, http.StatusOK, assets)
}

// handleTreasuryBalance handles
// GET /api/v1/treasury/{asset}.
func (a *Api) handleTreasuryBalance(
	w http.ResponseWriter,
	r *http.Request,
) {
	info, err := a.node.TreasuryBalance(
		r.PathValue("asset"),
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeNotFound(w, "asset not found")
			return
		}
		a.writeInternalError(
			w,
			"failed to retrieve balance",
			err,
		)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Asset:       info.Asset,
		Balance:     info.Balance,
		Reserved:    info.Reserved,
		Available:   info.Available,
		WindowSpend: info.WindowSpend,
	})
}

// handleProjects handles GET /api/v1/projects.
func (a *Api) handleProjects(
	w http.ResponseWriter,
	r *http.Request,
) {
	params, err := ParsePagination(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	ids, err := a.node.Projects()
	if err != nil {
		a.writeInternalError(
			w,
			"failed to retrieve projects",
			err,
		)
		return
	}
	SetPaginationHeaders(w, len(ids), params)
	resp := []ProjectResponse{}
	for _, id := range paginate(ids, params) {
		info, err := a.node.Project(id)
		if err != nil {
			a.writeInternalError(
				w,
				"failed to retrieve projects",
				err,
			)
			return
		}
		resp = append(resp, projectResponse(info))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProject handles GET /api/v1/projects/{id}.
func (a *Api) handleProject(
	w http.ResponseWriter,
	r *http.Request,
) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, "invalid project id")
		return
	}
	info, err := a.node.Project(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeNotFound(w, "project not found")
			return
		}
		a.writeInternalError(
			w,
			"failed to retrieve project",
			err,
		)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse(info))
}

// handleParameterNames handles GET /api/v1/params/{kind}.
func (a *Api) handleParameterNames(
	w http.ResponseWriter,
	r *http.Request,
) {
	names, err := a.node.ParameterNames(
		r.PathValue("kind"),
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeNotFound(w, "unknown parameter kind")
			return
		}
		a.writeInternalError(
			w,
			"failed to retrieve parameter names",
			err,
		)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// handleParameter handles
// GET /api/v1/params/{kind}/{name}.
func (a *Api) handleParameter(
	w http.ResponseWriter,
	r *http.Request,
) {
	info, err := a.node.Parameter(
		r.PathValue("kind"),
		r.PathValue("name"),
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeNotFound(w, "parameter not found")
			return
		}
		a.writeInternalError(
			w,
			"failed to retrieve parameter",
			err,
		)
		return
	}
	writeJSON(w, http.StatusOK, ParameterResponse{
		Kind:  info.Kind,
		Name:  info.Name,
		Value: info.Value,
	})
}

// handleRoleMembers handles GET /api/v1/roles/{role}.
func (a *Api) handleRoleMembers(
	w http.ResponseWriter,
	r *http.Request,
) {
	role := r.PathValue("role")
	members, err := a.node.RoleMembers(role)
	if err != nil {
		a.writeInternalError(
			w,
			"failed to retrieve role members",
			err,
		)
		return
	}
	if members == nil {
		members = []string{}
	}
	writeJSON(w, http.StatusOK, RoleResponse{
		Role:    role,
		Members: members,
	})
}

// handleAudit handles GET /api/v1/audit.
func (a *Api) handleAudit(
	w http.ResponseWriter,
	r *http.Request,
) {
	var from uint64
	count := DefaultPaginationCount
	query := r.URL.Query()
	if fromParam := query.Get("from"); fromParam != "" {
		parsed, err := strconv.ParseUint(fromParam, 10, 64)
		if err != nil {
			writeBadRequest(w, "invalid from parameter")
			return
		}
		from = parsed
	}
	if countParam := query.Get("count"); countParam != "" {
		parsed, err := strconv.Atoi(countParam)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "invalid count parameter")
			return
		}
		count = min(parsed, MaxPaginationCount)
	}
	entries, err := a.node.AuditEntries(from, count)
	if err != nil {
		a.writeInternalError(
			w,
			"failed to retrieve audit entries",
			err,
		)
		return
	}
	resp := []AuditEntryResponse{}
	for _, e := range entries {
		resp = append(resp, AuditEntryResponse{
			Sequence: e.Sequence,
			Kind:     e.Kind,
			Timestamp: e.Timestamp.Format(
				time.RFC3339,
			),
			Detail: e.Detail,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
