package native

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fundverse/backend/internal/models"
)

var (
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrTransferFinal is returned when changing a Confirmed or Failed record.
	ErrTransferFinal = errors.New("transfer already final")
	// ErrTransferExists is returned by Create when the memo already has a
	// non-failed transfer in the same direction.
	ErrTransferExists = errors.New("live transfer already exists")
)

// TransferStore persists RailTransferRecords. Records are immutable once
// Confirmed or Failed, and each memo has at most one non-failed record per
// direction.
type TransferStore interface {
	Create(ctx context.Context, r *models.RailTransferRecord) error
	Get(ctx context.Context, id uint64) (*models.RailTransferRecord, error)
	SetExternalRef(ctx context.Context, id uint64, ref string) error
	Finalize(ctx context.Context, id uint64, status string, blockHeight *uint64, reason string, at time.Time) error
	ListByMemo(ctx context.Context, memo uint64) ([]models.RailTransferRecord, error)
	ListByAccount(ctx context.Context, account string) ([]models.RailTransferRecord, error)
	ListPending(ctx context.Context, direction string, limit int) ([]models.RailTransferRecord, error)
}

// MemoryStore is an in-process TransferStore.
type MemoryStore struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]*models.RailTransferRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[uint64]*models.RailTransferRecord)}
}

var _ TransferStore = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, r *models.RailTransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.rows {
		if x.Memo == r.Memo && x.Direction == r.Direction && x.Status != models.TransferFailed {
			return ErrTransferExists
		}
	}
	s.nextID++
	r.ID = s.nextID
	cp := *r
	s.rows[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uint64) (*models.RailTransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	cp := clone(r)
	return &cp, nil
}

func (s *MemoryStore) SetExternalRef(_ context.Context, id uint64, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return ErrTransferNotFound
	}
	if r.Final() {
		return ErrTransferFinal
	}
	r.ExternalRef = ref
	return nil
}

func (s *MemoryStore) Finalize(_ context.Context, id uint64, status string, blockHeight *uint64, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return ErrTransferNotFound
	}
	if r.Final() {
		return ErrTransferFinal
	}
	r.Status = status
	r.FailReason = reason
	if blockHeight != nil {
		h := *blockHeight
		r.BlockHeight = &h
	}
	t := at
	r.SettledAt = &t
	return nil
}

func (s *MemoryStore) ListByMemo(_ context.Context, memo uint64) ([]models.RailTransferRecord, error) {
	return s.filter(func(r *models.RailTransferRecord) bool { return r.Memo == memo }, 0), nil
}

func (s *MemoryStore) ListByAccount(_ context.Context, account string) ([]models.RailTransferRecord, error) {
	return s.filter(func(r *models.RailTransferRecord) bool { return r.From == account || r.To == account }, 0), nil
}

func (s *MemoryStore) ListPending(_ context.Context, direction string, limit int) ([]models.RailTransferRecord, error) {
	return s.filter(func(r *models.RailTransferRecord) bool {
		return r.Status == models.TransferPending && r.Direction == direction
	}, limit), nil
}

func (s *MemoryStore) filter(keep func(*models.RailTransferRecord) bool, limit int) []models.RailTransferRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RailTransferRecord
	for _, r := range s.rows {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func clone(r *models.RailTransferRecord) models.RailTransferRecord {
	out := *r
	if r.BlockHeight != nil {
		h := *r.BlockHeight
		out.BlockHeight = &h
	}
	if r.SettledAt != nil {
		t := *r.SettledAt
		out.SettledAt = &t
	}
	return out
}
