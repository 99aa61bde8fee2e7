package escrow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fundverse/backend/internal/models"
)

// MemoryStore is an in-process Store. It backs tests and DATABASE_URL-less runs.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     uint64
	rows       map[uint64]*models.Contribution
	byCampaign map[uint64][]uint64
	byBacker   map[uuid.UUID][]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:       make(map[uint64]*models.Contribution),
		byCampaign: make(map[uint64][]uint64),
		byBacker:   make(map[uuid.UUID][]uint64),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(_ context.Context, c *models.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = s.nextID
	row := *c
	s.rows[c.ID] = &row
	s.byCampaign[c.CampaignID] = append(s.byCampaign[c.CampaignID], c.ID)
	s.byBacker[c.Backer] = append(s.byBacker[c.Backer], c.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uint64) (*models.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, ErrContributionNotFound
	}
	c := cloneContribution(row)
	return &c, nil
}

func (s *MemoryStore) ListByCampaign(_ context.Context, campaignID uint64) ([]models.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(s.byCampaign[campaignID]), nil
}

func (s *MemoryStore) ListByBacker(_ context.Context, backer uuid.UUID) ([]models.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(s.byBacker[backer]), nil
}

func (s *MemoryStore) ListByMethod(_ context.Context, method models.Method) ([]models.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint64
	for id, c := range s.rows {
		if c.Method == method {
			ids = append(ids, id)
		}
	}
	return s.collect(ids), nil
}

func (s *MemoryStore) CompareAndSetStatus(_ context.Context, id uint64, from, to models.EscrowStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return ErrContributionNotFound
	}
	if row.Status != from {
		return ErrStaleState
	}
	row.Status = to
	if row.ConfirmedAt == nil {
		t := at
		row.ConfirmedAt = &t
	}
	if to.Terminal() {
		t := at
		row.SettledAt = &t
	}
	return nil
}

func (s *MemoryStore) SetRailReference(_ context.Context, id uint64, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return ErrContributionNotFound
	}
	if row.Status != models.StatusPending || row.RailReference != "" {
		return ErrStaleState
	}
	row.RailReference = ref
	return nil
}

func (s *MemoryStore) RecordRailFailure(_ context.Context, id uint64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return ErrContributionNotFound
	}
	if row.Status != models.StatusPending {
		return ErrStaleState
	}
	row.LastRailError = reason
	row.RailFailures++
	row.RailReference = ""
	return nil
}

func (s *MemoryStore) ListAwaitingConfirmation(_ context.Context, limit int) ([]models.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint64
	for id, row := range s.rows {
		if row.Status == models.StatusPending && row.RailReference != "" {
			ids = append(ids, id)
		}
	}
	out := s.collect(ids)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) OpenCampaigns(_ context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for campaignID, ids := range s.byCampaign {
		for _, id := range ids {
			if !s.rows[id].Status.Terminal() {
				out = append(out, campaignID)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// collect copies rows in created_at order. Caller holds s.mu.
func (s *MemoryStore) collect(ids []uint64) []models.Contribution {
	out := make([]models.Contribution, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneContribution(s.rows[id]))
	}
	sortByCreation(out)
	return out
}

func sortByCreation(cs []models.Contribution) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

func cloneContribution(c *models.Contribution) models.Contribution {
	out := *c
	if c.ConfirmedAt != nil {
		t := *c.ConfirmedAt
		out.ConfirmedAt = &t
	}
	if c.SettledAt != nil {
		t := *c.SettledAt
		out.SettledAt = &t
	}
	return out
}
