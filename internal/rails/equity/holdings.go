package equity

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/models"
)

// DealSource resolves deal terms; *Adapter implements it.
type DealSource interface {
	Deal(ctx context.Context, dealID string) (Deal, error)
}

// Position is a backer's fraction balance in one deal.
type Position struct {
	DealID    string    `json:"deal_id"`
	Backer    uuid.UUID `json:"backer"`
	Fractions uint64    `json:"fractions"`
	Invested  uint64    `json:"invested"`
}

type positionKey struct {
	deal   string
	backer uuid.UUID
}

// Holdings keeps fraction balances in step with escrow: a contribution that
// becomes Held credits its fractions, one refunded after being Held debits
// them. Released contributions keep theirs.
type Holdings struct {
	deals  DealSource
	logger *slog.Logger

	mu        sync.Mutex
	positions map[positionKey]*Position
}

func NewHoldings(deals DealSource, logger *slog.Logger) *Holdings {
	if logger == nil {
		logger = slog.Default()
	}
	return &Holdings{deals: deals, logger: logger, positions: make(map[positionKey]*Position)}
}

var _ escrow.Notifier = (*Holdings)(nil)

func (h *Holdings) ContributionTransitioned(ctx context.Context, c models.Contribution, from models.EscrowStatus) {
	if c.Rail() != models.RailEquity {
		return
	}
	credit := c.Status == models.StatusHeld
	debit := c.Status == models.StatusRefunded && from == models.StatusHeld
	if !credit && !debit {
		return
	}
	if c.RailReference == "" {
		h.logger.Warn("equity contribution without deal reference", "contribution_id", c.ID)
		return
	}
	dealID, _, err := SplitReference(c.RailReference)
	if err != nil {
		h.logger.Error("equity holdings", "contribution_id", c.ID, "error", err)
		return
	}
	deal, err := h.deals.Deal(ctx, dealID)
	if err != nil {
		h.logger.Error("equity holdings: deal lookup", "contribution_id", c.ID, "deal_id", dealID, "error", err)
		return
	}
	fractions, err := Fractions(c.Amount, deal.FractionPrice)
	if err != nil {
		h.logger.Error("equity holdings: fractions", "contribution_id", c.ID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	key := positionKey{deal: dealID, backer: c.Backer}
	p, ok := h.positions[key]
	if !ok {
		p = &Position{DealID: dealID, Backer: c.Backer}
		h.positions[key] = p
	}
	if credit {
		p.Fractions += fractions
		p.Invested += c.Amount
		return
	}
	p.Fractions -= min(p.Fractions, fractions)
	p.Invested -= min(p.Invested, c.Amount)
}

// Balance returns the backer's fractions in a deal.
func (h *Holdings) Balance(dealID string, backer uuid.UUID) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.positions[positionKey{deal: dealID, backer: backer}]; ok {
		return p.Fractions
	}
	return 0
}

// Positions lists the backer's non-empty positions ordered by deal id.
func (h *Holdings) Positions(backer uuid.UUID) []Position {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Position
	for k, p := range h.positions {
		if k.backer == backer && p.Fractions > 0 {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DealID < out[j].DealID })
	return out
}

// Rebuild replays contributions into an empty holdings book, for startup.
func (h *Holdings) Rebuild(ctx context.Context, cs []models.Contribution) {
	for _, c := range cs {
		if c.Status == models.StatusHeld || c.Status == models.StatusReleased {
			held := c
			held.Status = models.StatusHeld
			h.ContributionTransitioned(ctx, held, models.StatusPending)
		}
	}
}
