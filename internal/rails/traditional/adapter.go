package traditional

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fundverse/backend/internal/models"
	"github.com/fundverse/backend/internal/rails"
)

// Verification states reported by the payment verifier.
const (
	PaymentPending  = "pending"
	PaymentVerified = "verified"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// Verifier is the external traditional-payment verifier.
type Verifier interface {
	Initiate(ctx context.Context, req PaymentRequest) (string, error)
	Verify(ctx context.Context, paymentID string) (Verification, error)
}

type PaymentRequest struct {
	ContributionID  uint64        `json:"contribution_id"`
	Backer          uuid.UUID     `json:"backer"`
	Amount          uint64        `json:"amount"`
	Method          models.Method `json:"method"`
	MethodLabel     string        `json:"method_label,omitempty"`
	PaymentMethodID string        `json:"payment_method_id"`
	AccountHint     string        `json:"account_hint,omitempty"`
}

type Verification struct {
	Status string `json:"status"`
	Amount uint64 `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type submitParams struct {
	PaymentMethodID   string `json:"payment_method_id"`
	AccountIdentifier string `json:"account_identifier"`
	Label             string `json:"label"`
}

// Adapter is the traditional-payment rail (bank transfer, card, wallet and
// manually labelled methods). The verifier's payment id is the rail reference.
type Adapter struct {
	verifier Verifier
	logger   *slog.Logger
}

func NewAdapter(v Verifier, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{verifier: v, logger: logger}
}

var _ rails.Adapter = (*Adapter)(nil)

func (a *Adapter) Rail() models.Rail { return models.RailTraditional }

// Submit asks the verifier to start a payment. A raw account identifier is
// validated for the method and only its masked form leaves the process.
func (a *Adapter) Submit(ctx context.Context, c models.Contribution, params json.RawMessage) (string, error) {
	var p submitParams
	if err := json.Unmarshal(params, &p); err != nil || p.PaymentMethodID == "" {
		return "", fmt.Errorf("%w: payment_method_id required", rails.ErrInvalidParams)
	}
	req := PaymentRequest{
		ContributionID:  c.ID,
		Backer:          c.Backer,
		Amount:          c.Amount,
		Method:          c.Method,
		MethodLabel:     c.MethodLabel,
		PaymentMethodID: p.PaymentMethodID,
	}
	if p.Label != "" && req.MethodLabel == "" {
		req.MethodLabel = p.Label
	}
	if p.AccountIdentifier != "" {
		if err := ValidateAccountIdentifier(c.Method, p.AccountIdentifier); err != nil {
			return "", fmt.Errorf("%w: %v", rails.ErrInvalidParams, err)
		}
		req.AccountHint = MaskAccountIdentifier(p.AccountIdentifier)
	}
	paymentID, err := a.verifier.Initiate(ctx, req)
	if err != nil {
		return "", err
	}
	if paymentID == "" {
		return "", fmt.Errorf("verifier returned an empty payment id")
	}
	return paymentID, nil
}

// Poll maps the verifier's attestation onto a confirmation.
func (a *Adapter) Poll(ctx context.Context, c models.Contribution) (rails.Confirmation, error) {
	v, err := a.verifier.Verify(ctx, c.RailReference)
	if err != nil {
		return rails.Confirmation{}, err
	}
	switch v.Status {
	case PaymentVerified:
		return rails.Confirmation{State: rails.Confirmed, Amount: v.Amount}, nil
	case PaymentFailed:
		reason := v.Reason
		if reason == "" {
			reason = "payment verification failed"
		}
		return rails.Confirmation{State: rails.Failed, Reason: reason}, nil
	case PaymentRefunded:
		return rails.Confirmation{State: rails.Failed, Reason: "payment refunded by verifier"}, nil
	case PaymentPending, "":
		return rails.Confirmation{State: rails.StillPending}, nil
	default:
		a.logger.Warn("unknown verification status", "contribution_id", c.ID, "status", v.Status)
		return rails.Confirmation{State: rails.StillPending}, nil
	}
}
