package rails

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/models"
)

// ErrNoAdapter is returned when no adapter serves a contribution's rail.
var ErrNoAdapter = errors.New("no adapter for rail")

// ErrSubmitInProgress is returned when another submission for the same
// contribution has not finished yet.
var ErrSubmitInProgress = errors.New("submission already in progress")

// State is the outcome of a single confirmation poll.
type State int

const (
	StillPending State = iota
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Confirmation is what a rail reports about one contribution. Amount is set
// for Confirmed, Reason for Failed.
type Confirmation struct {
	State  State  `json:"state"`
	Amount uint64 `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Adapter is a confirmation source for one rail. Adapters never change
// contribution state; they report and the reconciler applies.
type Adapter interface {
	Rail() models.Rail
	// Submit starts the rail-side transfer or verification and returns the
	// reference under which it can be polled.
	Submit(ctx context.Context, c models.Contribution, params json.RawMessage) (string, error)
	// Poll asks the rail about the contribution's reference. It may block on
	// network I/O.
	Poll(ctx context.Context, c models.Contribution) (Confirmation, error)
}

// Registry resolves adapters by rail.
type Registry struct {
	adapters map[models.Rail]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Rail]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Rail()] = a
	}
	return r
}

// For returns the adapter serving the method's rail.
func (r *Registry) For(m models.Method) (Adapter, error) {
	a, ok := r.adapters[m.Rail()]
	if !ok {
		return nil, fmt.Errorf("%w: method %q", ErrNoAdapter, m)
	}
	return a, nil
}

// Reversers returns the adapters that can undo money movement, keyed by rail.
func (r *Registry) Reversers() map[models.Rail]escrow.Reverser {
	out := make(map[models.Rail]escrow.Reverser)
	for rail, a := range r.adapters {
		if rev, ok := a.(escrow.Reverser); ok {
			out[rail] = rev
		}
	}
	return out
}
