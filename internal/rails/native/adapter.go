package native

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/models"
	"github.com/fundverse/backend/internal/rails"
)

// Transfer states reported by the native ledger service.
const (
	LedgerPending   = "pending"
	LedgerConfirmed = "confirmed"
	LedgerFailed    = "failed"
)

// LedgerClient is the native-ledger transfer service.
type LedgerClient interface {
	InitiateTransfer(ctx context.Context, req TransferRequest) (string, error)
	TransferStatus(ctx context.Context, externalRef string) (TransferStatus, error)
}

type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	Memo   uint64 `json:"memo"`
}

type TransferStatus struct {
	State       string `json:"status"`
	Amount      uint64 `json:"amount"`
	BlockHeight uint64 `json:"block_height"`
	Reason      string `json:"reason,omitempty"`
}

type submitParams struct {
	FromAccount string `json:"from_account"`
}

// Adapter is the native-ledger rail. It owns the RailTransferRecords: one
// inbound record per submitted contribution, plus a reverse record when a
// confirmed contribution is refunded.
type Adapter struct {
	client        LedgerClient
	store         TransferStore
	escrowAccount string
	logger        *slog.Logger
	now           func() time.Time
}

func NewAdapter(client LedgerClient, store TransferStore, escrowAccount string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, store: store, escrowAccount: escrowAccount, logger: logger, now: time.Now}
}

var (
	_ rails.Adapter   = (*Adapter)(nil)
	_ escrow.Reverser = (*Adapter)(nil)
)

func (a *Adapter) Rail() models.Rail { return models.RailNative }

// Submit records a Pending inbound transfer into the escrow account and asks
// the ledger to execute it. The record id is the rail reference. A
// contribution has at most one live inbound transfer: submitting again while
// one exists returns its reference instead of moving money twice.
func (a *Adapter) Submit(ctx context.Context, c models.Contribution, params json.RawMessage) (string, error) {
	var p submitParams
	if err := json.Unmarshal(params, &p); err != nil || p.FromAccount == "" {
		return "", fmt.Errorf("%w: from_account required", rails.ErrInvalidParams)
	}
	rec := &models.RailTransferRecord{
		From:      p.FromAccount,
		To:        a.escrowAccount,
		Amount:    c.Amount,
		Status:    models.TransferPending,
		Direction: models.TransferInbound,
		Memo:      c.ID,
		CreatedAt: a.now(),
	}
	err := a.initiate(ctx, rec)
	if errors.Is(err, ErrTransferExists) {
		return a.liveInbound(ctx, c.ID)
	}
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(rec.ID, 10), nil
}

// liveInbound returns the reference of the contribution's non-failed inbound
// transfer. One still being initiated elsewhere is reported as in progress.
func (a *Adapter) liveInbound(ctx context.Context, contributionID uint64) (string, error) {
	recs, err := a.store.ListByMemo(ctx, contributionID)
	if err != nil {
		return "", err
	}
	for _, r := range recs {
		if r.Direction != models.TransferInbound || r.Status == models.TransferFailed {
			continue
		}
		if r.ExternalRef == "" {
			return "", fmt.Errorf("%w: transfer %d", rails.ErrSubmitInProgress, r.ID)
		}
		a.logger.Info("inbound transfer reused", "contribution_id", contributionID, "transfer_id", r.ID)
		return strconv.FormatUint(r.ID, 10), nil
	}
	return "", fmt.Errorf("%w: contribution %d", rails.ErrSubmitInProgress, contributionID)
}

// Poll reads the inbound transfer behind the contribution's reference and,
// while it is still pending, asks the ledger for its status.
func (a *Adapter) Poll(ctx context.Context, c models.Contribution) (rails.Confirmation, error) {
	rec, err := a.recordFor(ctx, c)
	if err != nil {
		return rails.Confirmation{}, err
	}
	if rec.Memo != c.ID {
		return rails.Confirmation{State: rails.Failed, Reason: fmt.Sprintf("transfer %d memo %d does not match contribution", rec.ID, rec.Memo)}, nil
	}

	if !rec.Final() {
		if rec, err = a.refresh(ctx, rec); err != nil {
			return rails.Confirmation{}, err
		}
	}
	switch rec.Status {
	case models.TransferConfirmed:
		return rails.Confirmation{State: rails.Confirmed, Amount: rec.Amount}, nil
	case models.TransferFailed:
		return rails.Confirmation{State: rails.Failed, Reason: rec.FailReason}, nil
	default:
		return rails.Confirmation{State: rails.StillPending}, nil
	}
}

// Reverse undoes the contribution's inbound transfer. A locally pending
// transfer is first checked against the ledger: one the ledger never saw is
// cancelled, one still pending there is a RailError so the refund is retried,
// and a confirmed one gets a reverse transfer back to the sender. Reversing
// twice does not move money twice.
func (a *Adapter) Reverse(ctx context.Context, c models.Contribution) error {
	if c.RailReference == "" {
		return nil
	}
	rec, err := a.recordFor(ctx, c)
	if err != nil {
		return err
	}
	if rec.Status == models.TransferPending {
		if rec.ExternalRef == "" {
			err := a.store.Finalize(ctx, rec.ID, models.TransferFailed, nil, "cancelled by refund", a.now())
			if errors.Is(err, ErrTransferFinal) {
				return a.Reverse(ctx, c)
			}
			return err
		}
		if rec, err = a.refresh(ctx, rec); err != nil {
			return escrow.NewRailError("transfer %d status: %v", rec.ID, err)
		}
		if rec.Status == models.TransferPending {
			return escrow.NewRailError("transfer %d still pending on the ledger", rec.ID)
		}
	}
	if rec.Status == models.TransferFailed {
		return nil
	}

	existing, err := a.store.ListByMemo(ctx, c.ID)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if r.Direction == models.TransferReverse && r.Status != models.TransferFailed {
			return nil
		}
	}
	rev := &models.RailTransferRecord{
		From:      a.escrowAccount,
		To:        rec.From,
		Amount:    rec.Amount,
		Status:    models.TransferPending,
		Direction: models.TransferReverse,
		Memo:      c.ID,
		CreatedAt: a.now(),
	}
	if err := a.initiate(ctx, rev); err != nil {
		if errors.Is(err, ErrTransferExists) {
			return nil
		}
		return err
	}
	a.logger.Info("reverse transfer initiated", "contribution_id", c.ID, "transfer_id", rev.ID, "to", rev.To, "amount", rev.Amount)
	return nil
}

// SweepReverse refreshes pending reverse transfers and returns how many reached a final state.
func (a *Adapter) SweepReverse(ctx context.Context, limit int) (int, error) {
	pending, err := a.store.ListPending(ctx, models.TransferReverse, limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for i := range pending {
		rec, err := a.refresh(ctx, &pending[i])
		if err != nil {
			a.logger.Warn("reverse transfer status", "transfer_id", pending[i].ID, "error", err)
			continue
		}
		if rec.Final() {
			done++
			if rec.Status == models.TransferFailed {
				a.logger.Error("reverse transfer failed", "transfer_id", rec.ID, "memo", rec.Memo, "reason", rec.FailReason)
			}
		}
	}
	return done, nil
}

// Transfer returns a transfer record by id.
func (a *Adapter) Transfer(ctx context.Context, id uint64) (models.RailTransferRecord, error) {
	rec, err := a.store.Get(ctx, id)
	if err != nil {
		return models.RailTransferRecord{}, err
	}
	return *rec, nil
}

// TransfersByAccount returns every transfer from or to account.
func (a *Adapter) TransfersByAccount(ctx context.Context, account string) ([]models.RailTransferRecord, error) {
	return a.store.ListByAccount(ctx, account)
}

// initiate stores rec as Pending and then starts it on the ledger. A ledger
// rejection marks the record Failed.
func (a *Adapter) initiate(ctx context.Context, rec *models.RailTransferRecord) error {
	if err := a.store.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrTransferExists) {
			return err
		}
		return fmt.Errorf("create transfer record: %w", err)
	}
	ref, err := a.client.InitiateTransfer(ctx, TransferRequest{From: rec.From, To: rec.To, Amount: rec.Amount, Memo: rec.Memo})
	if err != nil {
		if ferr := a.store.Finalize(ctx, rec.ID, models.TransferFailed, nil, err.Error(), a.now()); ferr != nil {
			a.logger.Error("mark transfer failed", "transfer_id", rec.ID, "error", ferr)
		}
		return escrow.NewRailError("initiate transfer %d: %v", rec.ID, err)
	}
	if err := a.store.SetExternalRef(ctx, rec.ID, ref); err != nil {
		return fmt.Errorf("store external ref: %w", err)
	}
	rec.ExternalRef = ref
	return nil
}

// refresh asks the ledger about a pending record and freezes it once final.
// A record not yet known to the ledger is returned unchanged.
// A transfer the ledger settled for a different amount is frozen as Failed so
// it can never confirm the contribution.
func (a *Adapter) refresh(ctx context.Context, rec *models.RailTransferRecord) (*models.RailTransferRecord, error) {
	if rec.ExternalRef == "" {
		return rec, nil
	}
	st, err := a.client.TransferStatus(ctx, rec.ExternalRef)
	if err != nil {
		return nil, err
	}
	status, reason := "", st.Reason
	var height *uint64
	switch st.State {
	case LedgerConfirmed:
		status = models.TransferConfirmed
		h := st.BlockHeight
		height = &h
		if st.Amount != 0 && st.Amount != rec.Amount {
			status = models.TransferFailed
			reason = fmt.Sprintf("ledger moved %d, expected %d", st.Amount, rec.Amount)
			a.logger.Error("ledger amount differs from transfer record",
				"transfer_id", rec.ID, "memo", rec.Memo, "recorded", rec.Amount, "ledger", st.Amount)
		}
	case LedgerFailed:
		status = models.TransferFailed
	default:
		return rec, nil
	}
	if err := a.store.Finalize(ctx, rec.ID, status, height, reason, a.now()); err != nil && !errors.Is(err, ErrTransferFinal) {
		return nil, err
	}
	return a.store.Get(ctx, rec.ID)
}

func (a *Adapter) recordFor(ctx context.Context, c models.Contribution) (*models.RailTransferRecord, error) {
	id, err := strconv.ParseUint(c.RailReference, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("contribution %d: malformed transfer reference %q", c.ID, c.RailReference)
	}
	return a.store.Get(ctx, id)
}
