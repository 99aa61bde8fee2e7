package rails

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/models"
)

// ErrNothingToPoll is returned when a contribution has no rail-side state to poll.
var ErrNothingToPoll = errors.New("nothing to poll")

// Ledger is the part of the escrow engine the reconciler drives.
type Ledger interface {
	Contribution(ctx context.Context, id uint64) (models.Contribution, error)
	AttachRailReference(ctx context.Context, id uint64, ref string) error
	Confirm(ctx context.Context, id uint64, amount uint64) error
	RecordRailFailure(ctx context.Context, id uint64, reason string) error
	AwaitingConfirmation(ctx context.Context, limit int) ([]models.Contribution, error)
}

// Reconciler is the adapters' submit and polling loop. Rail I/O happens
// without any escrow lock held; results are applied through explicit
// Confirm and RecordRailFailure calls.
type Reconciler struct {
	ledger    Ledger
	registry  *Registry
	validator *ParamsValidator
	metrics   *Metrics
	logger    *slog.Logger

	submits singleflight.Group
}

func NewReconciler(ledger Ledger, registry *Registry, validator *ParamsValidator, metrics *Metrics, logger *slog.Logger) *Reconciler {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{ledger: ledger, registry: registry, validator: validator, metrics: metrics, logger: logger}
}

// Submit starts the rail-side flow for a Pending contribution and attaches
// the returned reference. Submitting an already referenced contribution
// returns the existing reference. Concurrent submits of one contribution in
// this process share a single rail call; across processes the adapters
// dedupe by contribution id.
func (r *Reconciler) Submit(ctx context.Context, id uint64, params json.RawMessage) (string, error) {
	ref, err, _ := r.submits.Do(strconv.FormatUint(id, 10), func() (any, error) {
		return r.submit(ctx, id, params)
	})
	if err != nil {
		return "", err
	}
	return ref.(string), nil
}

func (r *Reconciler) submit(ctx context.Context, id uint64, params json.RawMessage) (string, error) {
	c, err := r.ledger.Contribution(ctx, id)
	if err != nil {
		return "", err
	}
	if c.RailReference != "" {
		return c.RailReference, nil
	}
	if c.Status != models.StatusPending {
		return "", fmt.Errorf("%w: contribution %d is %s", escrow.ErrInvalidStateTransition, id, c.Status)
	}
	adapter, err := r.registry.For(c.Method)
	if err != nil {
		return "", err
	}
	if r.validator != nil {
		if err := r.validator.Validate(adapter.Rail(), params); err != nil {
			return "", err
		}
	}

	ref, err := adapter.Submit(ctx, c, params)
	if errors.Is(err, ErrInvalidParams) || errors.Is(err, ErrSubmitInProgress) {
		return "", err
	}
	if err != nil {
		r.metrics.Submissions.With("rail", string(adapter.Rail()), "result", "error").Add(1)
		reason := err.Error()
		if recErr := r.ledger.RecordRailFailure(ctx, id, reason); recErr != nil {
			r.logger.Error("record rail failure", "contribution_id", id, "error", recErr)
		}
		if errors.Is(err, escrow.ErrRailConfirmationFailed) {
			return "", err
		}
		return "", escrow.NewRailError("submit: %v", err)
	}
	if err := r.ledger.AttachRailReference(ctx, id, ref); err != nil {
		return "", err
	}
	r.metrics.Submissions.With("rail", string(adapter.Rail()), "result", "ok").Add(1)
	r.logger.Info("rail submission started", "contribution_id", id, "rail", adapter.Rail(), "reference", ref)
	return ref, nil
}

// PollOnce polls the rail for one contribution and applies the result.
// Transport errors are returned unchanged so the caller can retry; a rail
// reported failure is recorded on the contribution and returned in the
// Confirmation.
func (r *Reconciler) PollOnce(ctx context.Context, id uint64) (Confirmation, error) {
	c, err := r.ledger.Contribution(ctx, id)
	if err != nil {
		return Confirmation{}, err
	}
	if c.Status != models.StatusPending {
		return Confirmation{}, fmt.Errorf("%w: contribution %d is %s", ErrNothingToPoll, id, c.Status)
	}
	if c.RailReference == "" {
		return Confirmation{}, fmt.Errorf("%w: contribution %d has no rail reference", ErrNothingToPoll, id)
	}
	adapter, err := r.registry.For(c.Method)
	if err != nil {
		return Confirmation{}, err
	}

	conf, err := adapter.Poll(ctx, c)
	if err != nil {
		r.metrics.Polls.With("rail", string(adapter.Rail()), "state", "error").Add(1)
		return Confirmation{}, fmt.Errorf("poll %s rail for contribution %d: %w", adapter.Rail(), id, err)
	}
	r.metrics.Polls.With("rail", string(adapter.Rail()), "state", conf.State.String()).Add(1)

	switch conf.State {
	case Confirmed:
		if err := r.ledger.Confirm(ctx, id, conf.Amount); err != nil {
			return conf, err
		}
	case Failed:
		if err := r.ledger.RecordRailFailure(ctx, id, conf.Reason); err != nil {
			return conf, err
		}
	}
	return conf, nil
}

// SweepResult counts what a sweep did.
type SweepResult struct {
	Polled    int
	Confirmed int
	Failed    int
	Pending   int
	Errors    int
}

// Sweep polls up to limit contributions awaiting confirmation. A failure on
// one contribution does not stop the others.
func (r *Reconciler) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	var res SweepResult
	awaiting, err := r.ledger.AwaitingConfirmation(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("list awaiting confirmation: %w", err)
	}
	for _, c := range awaiting {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Polled++
		conf, err := r.PollOnce(ctx, c.ID)
		if err != nil {
			res.Errors++
			r.logger.Warn("confirmation poll failed", "contribution_id", c.ID, "error", err)
			continue
		}
		switch conf.State {
		case Confirmed:
			res.Confirmed++
		case Failed:
			res.Failed++
		default:
			res.Pending++
		}
	}
	return res, nil
}
