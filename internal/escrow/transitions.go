package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/fundverse/backend/internal/models"
)

// legal lists every permitted escrow edge.
var legal = map[models.EscrowStatus][]models.EscrowStatus{
	models.StatusPending: {models.StatusHeld, models.StatusRefunded},
	models.StatusHeld:    {models.StatusReleased, models.StatusRefunded},
}

// CanTransition reports whether from -> to is an edge of the escrow state machine.
func CanTransition(from, to models.EscrowStatus) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Confirm moves a Pending contribution to Held once its rail has confirmed
// amount. A repeated confirmation with the same amount is a no-op.
func (e *Engine) Confirm(ctx context.Context, id uint64, amount uint64) error {
	return e.withContribution(ctx, id, func(st *campaignState, c *models.Contribution) error {
		if c.Amount != amount {
			return e.reject(c, "confirm", fmt.Errorf("%w: contribution %d recorded %d, confirmed %d",
				ErrAmountMismatch, c.ID, c.Amount, amount))
		}
		switch c.Status {
		case models.StatusHeld:
			e.metrics.DuplicateConfirmations.With("rail", string(c.Rail())).Add(1)
			e.logger.Debug("duplicate confirmation ignored", "contribution_id", c.ID)
			return nil
		case models.StatusPending:
			if c.Method.RequiresReference() && c.RailReference == "" {
				return e.reject(c, "confirm", fmt.Errorf("%w: contribution %d", ErrMissingRailReference, c.ID))
			}
			return e.apply(ctx, st, c, models.StatusHeld)
		default:
			return e.reject(c, "confirm", transitionError(c.ID, c.Status, models.StatusHeld))
		}
	})
}

// Release moves a Held contribution to Released.
func (e *Engine) Release(ctx context.Context, id uint64) error {
	return e.withContribution(ctx, id, func(st *campaignState, c *models.Contribution) error {
		return e.release(ctx, st, c)
	})
}

// Refund moves a Pending or Held contribution to Refunded, reversing the
// rail's money movement first where the rail supports it.
func (e *Engine) Refund(ctx context.Context, id uint64) error {
	return e.withContribution(ctx, id, func(st *campaignState, c *models.Contribution) error {
		return e.refund(ctx, st, c)
	})
}

// AttachRailReference stores the rail's reference on a Pending contribution.
// The reference is set once; attaching the same value again is a no-op.
func (e *Engine) AttachRailReference(ctx context.Context, id uint64, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: empty rail reference", ErrInvalidStateTransition)
	}
	return e.withContribution(ctx, id, func(_ *campaignState, c *models.Contribution) error {
		if c.RailReference == ref {
			return nil
		}
		if c.Status != models.StatusPending || c.RailReference != "" {
			return e.reject(c, "attach reference",
				fmt.Errorf("%w: contribution %d already referenced or not pending", ErrInvalidStateTransition, c.ID))
		}
		if err := e.store.SetRailReference(ctx, c.ID, ref); err != nil {
			return e.storeError(c, err)
		}
		e.logger.Info("rail reference attached", "contribution_id", c.ID, "rail", c.Rail(), "reference", ref)
		return nil
	})
}

// RecordRailFailure notes a retryable rail failure. The contribution stays
// Pending and loses its rail reference; the failed rail record itself keeps
// the contribution id for audit.
func (e *Engine) RecordRailFailure(ctx context.Context, id uint64, reason string) error {
	return e.withContribution(ctx, id, func(_ *campaignState, c *models.Contribution) error {
		if c.Status != models.StatusPending {
			return e.reject(c, "record rail failure", transitionError(c.ID, c.Status, models.StatusPending))
		}
		if err := e.store.RecordRailFailure(ctx, c.ID, reason); err != nil {
			return e.storeError(c, err)
		}
		e.metrics.RailFailures.With("rail", string(c.Rail())).Add(1)
		e.logger.Warn("rail confirmation failed", "contribution_id", c.ID, "rail", c.Rail(), "reason", reason)
		return nil
	})
}

func (e *Engine) release(ctx context.Context, st *campaignState, c *models.Contribution) error {
	if c.Status != models.StatusHeld {
		return e.reject(c, "release", transitionError(c.ID, c.Status, models.StatusReleased))
	}
	return e.apply(ctx, st, c, models.StatusReleased)
}

func (e *Engine) refund(ctx context.Context, st *campaignState, c *models.Contribution) error {
	if !CanTransition(c.Status, models.StatusRefunded) {
		return e.reject(c, "refund", transitionError(c.ID, c.Status, models.StatusRefunded))
	}
	if r, ok := e.reversers[c.Rail()]; ok {
		if err := r.Reverse(ctx, *c); err != nil {
			e.metrics.RailFailures.With("rail", string(c.Rail())).Add(1)
			e.logger.Error("reverse transfer failed", "contribution_id", c.ID, "rail", c.Rail(), "error", err)
			if errors.Is(err, ErrRailConfirmationFailed) {
				return err
			}
			return NewRailError("reverse transfer for contribution %d: %v", c.ID, err)
		}
	}
	return e.apply(ctx, st, c, models.StatusRefunded)
}

// withContribution runs fn on a fresh read of id inside the campaign's shared
// section and the contribution's own lock.
func (e *Engine) withContribution(ctx context.Context, id uint64, fn func(*campaignState, *models.Contribution) error) error {
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	st, unlock, err := e.shared(ctx, c.CampaignID)
	if err != nil {
		return err
	}
	err = e.locked(ctx, st, id, fn)
	unlock()
	e.deliver(ctx)
	return err
}

// locked runs fn under the contribution lock. The caller holds the campaign
// section, shared or exclusive.
func (e *Engine) locked(ctx context.Context, st *campaignState, id uint64, fn func(*campaignState, *models.Contribution) error) error {
	unlock := st.lockContribution(id)
	defer unlock()
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(st, c)
}

// apply stores the transition and then updates the cache and metrics. The
// notifiers hear about it from deliver, once the caller has unlocked.
func (e *Engine) apply(ctx context.Context, st *campaignState, c *models.Contribution, to models.EscrowStatus) error {
	from := c.Status
	if !CanTransition(from, to) {
		return e.reject(c, "apply", transitionError(c.ID, from, to))
	}
	at := e.now()
	if err := e.store.CompareAndSetStatus(ctx, c.ID, from, to, at); err != nil {
		return e.storeError(c, err)
	}
	c.Status = to
	if c.ConfirmedAt == nil {
		t := at
		c.ConfirmedAt = &t
	}
	if to.Terminal() {
		t := at
		c.SettledAt = &t
	}
	st.move(from, to, c.Amount)

	e.metrics.Transitions.With("from", string(from), "to", string(to), "rail", string(c.Rail())).Add(1)
	e.logger.Info("escrow transition",
		"contribution_id", c.ID, "campaign_id", c.CampaignID, "from", from, "to", to, "amount", c.Amount)
	e.outMu.Lock()
	e.outbox = append(e.outbox, transition{c: *c, from: from})
	e.outMu.Unlock()
	return nil
}

type transition struct {
	c    models.Contribution
	from models.EscrowStatus
}

// deliver hands queued transitions to the notifiers in the order they were
// applied. Callers run it with no campaign or contribution lock held.
func (e *Engine) deliver(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()
	for {
		e.outMu.Lock()
		batch := e.outbox
		e.outbox = nil
		e.outMu.Unlock()
		if len(batch) == 0 {
			return
		}
		e.mu.Lock()
		notifiers := append([]Notifier(nil), e.notifiers...)
		e.mu.Unlock()
		for _, t := range batch {
			for _, n := range notifiers {
				n.ContributionTransitioned(ctx, t.c, t.from)
			}
		}
	}
}

// reject logs a state-machine violation and returns err unchanged.
func (e *Engine) reject(c *models.Contribution, op string, err error) error {
	e.metrics.RejectedTransitions.With("op", op).Add(1)
	e.logger.Warn("escrow operation rejected",
		"op", op, "contribution_id", c.ID, "campaign_id", c.CampaignID, "status", c.Status, "error", err)
	return err
}

// storeError maps a lost compare-and-set to InvalidStateTransition.
func (e *Engine) storeError(c *models.Contribution, err error) error {
	if errors.Is(err, ErrStaleState) {
		return e.reject(c, "store", fmt.Errorf("%w: contribution %d changed concurrently", ErrInvalidStateTransition, c.ID))
	}
	return err
}
