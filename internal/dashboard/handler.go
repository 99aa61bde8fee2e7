package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/fundverse/backend/internal/handlers"
	"github.com/fundverse/backend/internal/middleware"
	"github.com/fundverse/backend/internal/models"
	"github.com/fundverse/backend/internal/rails/equity"
)

// Ledger is the read side of the escrow engine.
type Ledger interface {
	Contribution(ctx context.Context, id uint64) (models.Contribution, error)
	ContributionsByCampaign(ctx context.Context, campaignID uint64) ([]models.Contribution, error)
	ContributionsByBacker(ctx context.Context, backer uuid.UUID) ([]models.Contribution, error)
	EscrowSummary(ctx context.Context, campaignID uint64) (models.EscrowSummary, error)
	UnifiedFunding(ctx context.Context, campaignID uint64) (models.UnifiedFunding, error)
}

// TransferLookup reads native-ledger transfer records.
type TransferLookup interface {
	Transfer(ctx context.Context, id uint64) (models.RailTransferRecord, error)
	TransfersByAccount(ctx context.Context, account string) ([]models.RailTransferRecord, error)
}

// PositionLookup reads equity fraction balances.
type PositionLookup interface {
	Positions(backer uuid.UUID) []equity.Position
}

type Handler struct {
	ledger    Ledger
	transfers TransferLookup
	positions PositionLookup
	log       *slog.Logger
}

// NewHandler builds the read handler. transfers and positions may be nil when
// the native or equity rail is not configured.
func NewHandler(ledger Ledger, transfers TransferLookup, positions PositionLookup, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: ledger, transfers: transfers, positions: positions, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid id"}`, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// GET /api/v1/contributions/{id}
func (h *Handler) GetContribution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.ledger.Contribution(r.Context(), id)
	if err != nil {
		handlers.WriteError(w, h.log, "get contribution", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GET /api/v1/campaigns/{id}/contributions
func (h *Handler) ListCampaignContributions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cs, err := h.ledger.ContributionsByCampaign(r.Context(), id)
	if err != nil {
		handlers.WriteError(w, h.log, "list campaign contributions", err)
		return
	}
	if cs == nil {
		cs = []models.Contribution{}
	}
	writeJSON(w, http.StatusOK, cs)
}

// GET /api/v1/users/me/contributions
func (h *Handler) ListMyContributions(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	cs, err := h.ledger.ContributionsByBacker(r.Context(), p.UserID)
	if err != nil {
		handlers.WriteError(w, h.log, "list backer contributions", err)
		return
	}
	if cs == nil {
		cs = []models.Contribution{}
	}
	writeJSON(w, http.StatusOK, cs)
}

// GET /api/v1/campaigns/{id}/escrow-summary
func (h *Handler) EscrowSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sum, err := h.ledger.EscrowSummary(r.Context(), id)
	if err != nil {
		handlers.WriteError(w, h.log, "escrow summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GET /api/v1/campaigns/{id}/funding
func (h *Handler) UnifiedFunding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := h.ledger.UnifiedFunding(r.Context(), id)
	if err != nil {
		handlers.WriteError(w, h.log, "unified funding", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// GET /api/v1/transfers/{id}
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	if h.transfers == nil {
		http.Error(w, `{"error":"native rail not configured"}`, http.StatusServiceUnavailable)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.transfers.Transfer(r.Context(), id)
	if err != nil {
		handlers.WriteError(w, h.log, "get transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GET /api/v1/transfers?account=...
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	if h.transfers == nil {
		http.Error(w, `{"error":"native rail not configured"}`, http.StatusServiceUnavailable)
		return
	}
	account := r.URL.Query().Get("account")
	if account == "" {
		http.Error(w, `{"error":"account is required"}`, http.StatusBadRequest)
		return
	}
	recs, err := h.transfers.TransfersByAccount(r.Context(), account)
	if err != nil {
		handlers.WriteError(w, h.log, "list transfers", err)
		return
	}
	if recs == nil {
		recs = []models.RailTransferRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GET /api/v1/users/me/holdings
func (h *Handler) MyHoldings(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	out := []equity.Position{}
	if h.positions != nil {
		if ps := h.positions.Positions(p.UserID); ps != nil {
			out = ps
		}
	}
	writeJSON(w, http.StatusOK, out)
}
