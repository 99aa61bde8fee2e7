package escrow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fundverse/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Test helpers shared by the escrow tests.
// ---------------------------------------------------------------------------

const testCampaign uint64 = 1

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fakeDirectory struct {
	registered map[uuid.UUID]bool
}

func (d *fakeDirectory) IsRegistered(_ context.Context, id uuid.UUID) (bool, error) {
	return d.registered[id], nil
}

type fakeReverser struct {
	mu    sync.Mutex
	fail  map[uint64]bool
	calls []uint64
}

func (r *fakeReverser) Reverse(_ context.Context, c models.Contribution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c.ID)
	if r.fail[c.ID] {
		return fmt.Errorf("ledger unavailable")
	}
	return nil
}

func (r *fakeReverser) setFail(id uint64, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = make(map[uint64]bool)
	}
	r.fail[id] = fail
}

func (r *fakeReverser) called() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.calls...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) ContributionTransitioned(_ context.Context, c models.Contribution, from models.EscrowStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("%d:%s->%s", c.ID, from, c.Status))
}

type fixture struct {
	store     *MemoryStore
	campaigns *StaticCampaigns
	engine    *Engine
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	store := NewMemoryStore()
	campaigns := NewStaticCampaigns(models.Campaign{
		ID:         testCampaign,
		Goal:       120,
		Resolution: models.ResolutionOpen,
	})
	base := []Option{
		WithClock(newStepClock().Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return &fixture{
		store:     store,
		campaigns: campaigns,
		engine:    NewEngine(store, campaigns, cfg, append(base, opts...)...),
	}
}

func (f *fixture) record(t *testing.T, amount uint64, method models.Method) uint64 {
	t.Helper()
	id, err := f.engine.RecordContribution(context.Background(), NewContribution{
		CampaignID: testCampaign,
		Backer:     uuid.New(),
		Amount:     amount,
		Method:     method,
	})
	if err != nil {
		t.Fatalf("RecordContribution(%d, %s): %v", amount, method, err)
	}
	return id
}

// hold records a contribution and confirms it, attaching a reference first
// when the method needs one.
func (f *fixture) hold(t *testing.T, amount uint64, method models.Method) uint64 {
	t.Helper()
	ctx := context.Background()
	id := f.record(t, amount, method)
	if method.RequiresReference() {
		if err := f.engine.AttachRailReference(ctx, id, fmt.Sprintf("ref-%d", id)); err != nil {
			t.Fatalf("AttachRailReference(%d): %v", id, err)
		}
	}
	if err := f.engine.Confirm(ctx, id, amount); err != nil {
		t.Fatalf("Confirm(%d): %v", id, err)
	}
	return id
}

func (f *fixture) resolve(t *testing.T, resolution string) {
	t.Helper()
	c, err := f.campaigns.Campaign(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("Campaign: %v", err)
	}
	c.Resolution = resolution
	if err := f.campaigns.PutCampaign(context.Background(), c); err != nil {
		t.Fatalf("PutCampaign: %v", err)
	}
}

func (f *fixture) status(t *testing.T, id uint64) models.EscrowStatus {
	t.Helper()
	c, err := f.engine.Contribution(context.Background(), id)
	if err != nil {
		t.Fatalf("Contribution(%d): %v", id, err)
	}
	return c.Status
}

func (f *fixture) summary(t *testing.T) models.EscrowSummary {
	t.Helper()
	s, err := f.engine.EscrowSummary(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("EscrowSummary: %v", err)
	}
	return s
}
