package equity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fundverse/backend/internal/models"
	"github.com/fundverse/backend/internal/rails"
)

var (
	// ErrInvestmentTooSmall is returned when an amount buys less than one fraction.
	ErrInvestmentTooSmall = errors.New("investment amount too small")
	ErrDealMismatch       = errors.New("deal does not belong to campaign")
)

// Investment states reported by the SPV service.
const (
	InvestmentPending   = "pending"
	InvestmentCompleted = "completed"
	InvestmentFailed    = "failed"
)

// InvestmentService is the external equity/SPV service.
type InvestmentService interface {
	Deal(ctx context.Context, dealID string) (Deal, error)
	Invest(ctx context.Context, req InvestmentRequest) (string, error)
	Status(ctx context.Context, investmentID string) (InvestmentStatus, error)
}

// Deal is an SPV deal linked to a campaign. FractionPrice is in the equity
// rail's smallest unit.
type Deal struct {
	ID            string `json:"id"`
	CampaignID    uint64 `json:"campaign_id"`
	FractionPrice uint64 `json:"fraction_price"`
	TotalRaise    uint64 `json:"total_raise"`
	EquityPercent string `json:"equity_percent,omitempty"`
}

type InvestmentRequest struct {
	ContributionID uint64    `json:"contribution_id"`
	DealID         string    `json:"deal_id"`
	Investor       uuid.UUID `json:"investor"`
	Amount         uint64    `json:"amount"`
	Fractions      uint64    `json:"fractions"`
}

type InvestmentStatus struct {
	Status string `json:"status"`
	Amount uint64 `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type submitParams struct {
	DealID string `json:"deal_id"`
}

// Adapter is the equity rail. Its rail reference is "<deal id>/<investment id>"
// so the deal of a contribution can always be recovered from the ledger.
type Adapter struct {
	svc    InvestmentService
	logger *slog.Logger

	mu    sync.Mutex
	deals map[string]Deal
}

func NewAdapter(svc InvestmentService, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{svc: svc, logger: logger, deals: make(map[string]Deal)}
}

var _ rails.Adapter = (*Adapter)(nil)

func (a *Adapter) Rail() models.Rail { return models.RailEquity }

func (a *Adapter) Submit(ctx context.Context, c models.Contribution, params json.RawMessage) (string, error) {
	var p submitParams
	if err := json.Unmarshal(params, &p); err != nil || p.DealID == "" {
		return "", fmt.Errorf("%w: deal_id required", rails.ErrInvalidParams)
	}
	deal, err := a.Deal(ctx, p.DealID)
	if err != nil {
		return "", err
	}
	if deal.CampaignID != c.CampaignID {
		return "", fmt.Errorf("%w: deal %s, campaign %d", ErrDealMismatch, deal.ID, c.CampaignID)
	}
	fractions, err := Fractions(c.Amount, deal.FractionPrice)
	if err != nil {
		return "", err
	}
	investmentID, err := a.svc.Invest(ctx, InvestmentRequest{
		ContributionID: c.ID,
		DealID:         deal.ID,
		Investor:       c.Backer,
		Amount:         c.Amount,
		Fractions:      fractions,
	})
	if err != nil {
		return "", err
	}
	return deal.ID + "/" + investmentID, nil
}

func (a *Adapter) Poll(ctx context.Context, c models.Contribution) (rails.Confirmation, error) {
	_, investmentID, err := SplitReference(c.RailReference)
	if err != nil {
		return rails.Confirmation{}, err
	}
	st, err := a.svc.Status(ctx, investmentID)
	if err != nil {
		return rails.Confirmation{}, err
	}
	switch st.Status {
	case InvestmentCompleted:
		return rails.Confirmation{State: rails.Confirmed, Amount: st.Amount}, nil
	case InvestmentFailed:
		return rails.Confirmation{State: rails.Failed, Reason: st.Reason}, nil
	default:
		return rails.Confirmation{State: rails.StillPending}, nil
	}
}

// Deal returns deal terms, caching them for the process lifetime.
func (a *Adapter) Deal(ctx context.Context, dealID string) (Deal, error) {
	a.mu.Lock()
	d, ok := a.deals[dealID]
	a.mu.Unlock()
	if ok {
		return d, nil
	}
	d, err := a.svc.Deal(ctx, dealID)
	if err != nil {
		return Deal{}, fmt.Errorf("load deal %s: %w", dealID, err)
	}
	a.mu.Lock()
	a.deals[dealID] = d
	a.mu.Unlock()
	return d, nil
}

// Fractions is the number of whole fractions amount buys at price.
func Fractions(amount, price uint64) (uint64, error) {
	if price == 0 {
		return 0, fmt.Errorf("deal has no fraction price")
	}
	n := amount / price
	if n == 0 {
		return 0, ErrInvestmentTooSmall
	}
	return n, nil
}

// SplitReference splits an equity rail reference into deal and investment ids.
func SplitReference(ref string) (dealID, investmentID string, err error) {
	dealID, investmentID, ok := strings.Cut(ref, "/")
	if !ok || dealID == "" || investmentID == "" {
		return "", "", fmt.Errorf("malformed equity reference %q", ref)
	}
	return dealID, investmentID, nil
}
