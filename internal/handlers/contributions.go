package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/middleware"
	"github.com/fundverse/backend/internal/models"
	"github.com/fundverse/backend/internal/rails"
)

// RailGateway is the reconciler surface the handlers drive.
type RailGateway interface {
	Submit(ctx context.Context, id uint64, params json.RawMessage) (string, error)
	PollOnce(ctx context.Context, id uint64) (rails.Confirmation, error)
}

// SettlementQueue enqueues asynchronous settlement runs.
type SettlementQueue interface {
	EnqueueSettlement(ctx context.Context, campaignID uint64) (int64, error)
}

// PollQueue enqueues background confirmation polling for a submitted
// contribution.
type PollQueue interface {
	EnqueuePoll(ctx context.Context, contributionID uint64) (int64, error)
}

// CampaignStore is the campaign read model the engine consults.
type CampaignStore interface {
	escrow.CampaignService
	PutCampaign(ctx context.Context, c models.Campaign) error
}

// ContributionHandler serves the escrow write endpoints.
type ContributionHandler struct {
	Ledger    escrow.Service
	Rails     RailGateway
	Campaigns CampaignStore
	Queue     SettlementQueue
	Polls     PollQueue
	Logger    *slog.Logger
}

const maxParamsBytes = 64 << 10

// --- POST /api/v1/campaigns/{id}/contributions ---

type recordContributionRequest struct {
	Amount      uint64        `json:"amount"`
	Method      models.Method `json:"method"`
	MethodLabel string        `json:"method_label"`
	// Backer lets an operator record an offline contribution on a backer's
	// behalf. Ignored for backers, who always contribute as themselves.
	Backer *uuid.UUID `json:"backer,omitempty"`
}

type recordContributionResponse struct {
	ID     uint64              `json:"id"`
	Status models.EscrowStatus `json:"status"`
}

func (h *ContributionHandler) RecordContribution(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	campaignID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req recordContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	backer := p.UserID
	if p.Role == models.RoleOperator {
		backer = uuid.Nil
		if req.Backer != nil {
			backer = *req.Backer
		}
	}

	id, err := h.Ledger.RecordContribution(r.Context(), escrow.NewContribution{
		CampaignID:  campaignID,
		Backer:      backer,
		Amount:      req.Amount,
		Method:      req.Method,
		MethodLabel: req.MethodLabel,
	})
	if err != nil {
		WriteError(w, h.Logger, "record contribution", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/contributions/%d", id))
	writeJSON(w, http.StatusCreated, recordContributionResponse{ID: id, Status: models.StatusPending})
}

// --- POST /api/v1/contributions/{id}/submit ---

type submitResponse struct {
	ID            uint64 `json:"id"`
	RailReference string `json:"rail_reference"`
}

// Submit starts the rail-side flow. The request body is the rail's params object.
func (h *ContributionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedContribution(w, r)
	if !ok {
		return
	}
	params, err := io.ReadAll(io.LimitReader(r.Body, maxParamsBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	ref, err := h.Rails.Submit(r.Context(), c.ID, params)
	if err != nil {
		WriteError(w, h.Logger, "submit contribution", err)
		return
	}
	if h.Polls != nil {
		if _, err := h.Polls.EnqueuePoll(r.Context(), c.ID); err != nil {
			// The scheduler's confirmation sweep still picks it up.
			h.Logger.Warn("enqueue poll failed", "contribution_id", c.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusAccepted, submitResponse{ID: c.ID, RailReference: ref})
}

// --- POST /api/v1/contributions/{id}/poll ---

func (h *ContributionHandler) Poll(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	conf, err := h.Rails.PollOnce(r.Context(), id)
	if err != nil {
		status := StatusFor(err)
		if status == http.StatusInternalServerError {
			// Unclassified poll errors come from the rail transport.
			h.Logger.Warn("rail poll failed", "contribution_id", id, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

// --- POST /api/v1/contributions/{id}/confirm ---

type confirmRequest struct {
	Amount uint64 `json:"amount"`
}

func (h *ContributionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.Ledger.Confirm(r.Context(), id, req.Amount); err != nil {
		WriteError(w, h.Logger, "confirm contribution", err)
		return
	}
	h.writeContribution(w, r, id)
}

// --- POST /api/v1/contributions/{id}/release ---

func (h *ContributionHandler) Release(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Ledger.Release(r.Context(), id); err != nil {
		WriteError(w, h.Logger, "release contribution", err)
		return
	}
	h.writeContribution(w, r, id)
}

// --- POST /api/v1/contributions/{id}/refund ---

// Refund is open to operators at any time and to the owning backer while the
// campaign is still undecided.
func (h *ContributionHandler) Refund(w http.ResponseWriter, r *http.Request) {
	c, ok := h.ownedContribution(w, r)
	if !ok {
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	if p.Role != models.RoleOperator {
		camp, err := h.Campaigns.Campaign(r.Context(), c.CampaignID)
		if err != nil {
			WriteError(w, h.Logger, "refund contribution", err)
			return
		}
		if camp.Resolved() {
			http.Error(w, `{"error":"campaign already resolved; refunds are decided by settlement"}`, http.StatusForbidden)
			return
		}
	}
	if err := h.Ledger.Refund(r.Context(), c.ID); err != nil {
		WriteError(w, h.Logger, "refund contribution", err)
		return
	}
	h.writeContribution(w, r, c.ID)
}

// --- POST /api/v1/campaigns/{id}/settle ---

type enqueueResponse struct {
	CampaignID uint64 `json:"campaign_id"`
	JobID      int64  `json:"job_id"`
}

type settleResponse struct {
	Report models.SettlementReport `json:"report"`
	Error  string                  `json:"error,omitempty"`
}

func (h *ContributionHandler) Settle(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(w, r)
	if !ok {
		return
	}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.Queue == nil {
			http.Error(w, `{"error":"job queue not configured"}`, http.StatusServiceUnavailable)
			return
		}
		jobID, err := h.Queue.EnqueueSettlement(r.Context(), campaignID)
		if err != nil {
			WriteError(w, h.Logger, "enqueue settlement", err)
			return
		}
		writeJSON(w, http.StatusAccepted, enqueueResponse{CampaignID: campaignID, JobID: jobID})
		return
	}

	report, err := h.Ledger.SettleCampaign(r.Context(), campaignID)
	var partial *escrow.SettlementPartialFailure
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, settleResponse{Report: report})
	case errors.As(err, &partial):
		writeJSON(w, http.StatusMultiStatus, settleResponse{Report: report, Error: err.Error()})
	default:
		WriteError(w, h.Logger, "settle campaign", err)
	}
}

// --- POST /api/v1/campaigns/{id}/reconcile ---

type reconcileResponse struct {
	Summary models.EscrowSummary `json:"summary"`
	Drift   bool                 `json:"drift"`
}

func (h *ContributionHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(w, r)
	if !ok {
		return
	}
	sum, drift, err := h.Ledger.ReconcileSummary(r.Context(), campaignID)
	if err != nil {
		WriteError(w, h.Logger, "reconcile summary", err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Summary: sum, Drift: drift})
}

// --- PUT /api/v1/campaigns/{id} ---

// PutCampaign syncs the lifecycle service's view of a campaign.
func (h *ContributionHandler) PutCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(w, r)
	if !ok {
		return
	}
	var c models.Campaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	c.ID = campaignID
	switch c.Resolution {
	case "", models.ResolutionOpen, models.ResolutionSucceeded, models.ResolutionFailed:
	default:
		http.Error(w, `{"error":"invalid resolution"}`, http.StatusBadRequest)
		return
	}
	if c.Resolution == "" {
		c.Resolution = models.ResolutionOpen
	}
	if err := h.Campaigns.PutCampaign(r.Context(), c); err != nil {
		WriteError(w, h.Logger, "put campaign", err)
		return
	}
	h.Logger.Info("campaign synced", "campaign_id", c.ID, "resolution", c.Resolution)
	writeJSON(w, http.StatusOK, c)
}

// ownedContribution loads the path contribution and checks that a backer
// caller owns it. Operators pass.
func (h *ContributionHandler) ownedContribution(w http.ResponseWriter, r *http.Request) (models.Contribution, bool) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return models.Contribution{}, false
	}
	id, ok := pathID(w, r)
	if !ok {
		return models.Contribution{}, false
	}
	c, err := h.Ledger.Contribution(r.Context(), id)
	if err != nil {
		WriteError(w, h.Logger, "get contribution", err)
		return models.Contribution{}, false
	}
	if p.Role != models.RoleOperator && c.Backer != p.UserID {
		http.Error(w, `{"error":"not your contribution"}`, http.StatusForbidden)
		return models.Contribution{}, false
	}
	return c, true
}

func (h *ContributionHandler) writeContribution(w http.ResponseWriter, r *http.Request, id uint64) {
	c, err := h.Ledger.Contribution(r.Context(), id)
	if err != nil {
		WriteError(w, h.Logger, "get contribution", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid id"}`, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
