package escrow

import (
	"math/bits"
	"sync"

	"github.com/fundverse/backend/internal/models"
)

// campaignState is the per-campaign unit of serialization. rw is held shared
// by record/confirm/release/refund and exclusively by settlement and by the
// first fold that loads the summary cache.
type campaignState struct {
	rw sync.RWMutex

	mu        sync.Mutex
	loaded    bool
	summary   models.EscrowSummary
	committed uint64 // sum of every recorded amount, in any state
	settled   bool   // a settlement run has started; no more contributions
	entries   map[uint64]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func newCampaignState(campaignID uint64) *campaignState {
	return &campaignState{
		summary: models.EscrowSummary{CampaignID: campaignID},
		entries: make(map[uint64]*entryLock),
	}
}

// lockContribution serializes calls on a single contribution. The entry is
// dropped once nobody holds or waits for it.
func (s *campaignState) lockContribution(id uint64) func() {
	s.mu.Lock()
	l, ok := s.entries[id]
	if !ok {
		l = &entryLock{}
		s.entries[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.entries, id)
		}
		s.mu.Unlock()
	}
}

func (s *campaignState) isLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// load replaces the cache with a fresh fold. Caller holds rw exclusively.
func (s *campaignState) load(sum models.EscrowSummary, committed uint64) {
	s.mu.Lock()
	s.summary = sum
	s.committed = committed
	s.loaded = true
	s.mu.Unlock()
}

func (s *campaignState) markSettled() {
	s.mu.Lock()
	s.settled = true
	s.mu.Unlock()
}

func (s *campaignState) snapshot() models.EscrowSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// move shifts amount between status buckets. The campaign's grand total is
// bounded at record time so no bucket can overflow here.
func (s *campaignState) move(from, to models.EscrowStatus, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*bucket(&s.summary, from) -= amount
	*counter(&s.summary, from)--
	*bucket(&s.summary, to) += amount
	*counter(&s.summary, to)++
}

func bucket(sum *models.EscrowSummary, st models.EscrowStatus) *uint64 {
	switch st {
	case models.StatusHeld:
		return &sum.TotalHeld
	case models.StatusReleased:
		return &sum.TotalReleased
	case models.StatusRefunded:
		return &sum.TotalRefunded
	default:
		return &sum.TotalPending
	}
}

func counter(sum *models.EscrowSummary, st models.EscrowStatus) *int {
	switch st {
	case models.StatusHeld:
		return &sum.CountHeld
	case models.StatusReleased:
		return &sum.CountReleased
	case models.StatusRefunded:
		return &sum.CountRefunded
	default:
		return &sum.CountPending
	}
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}

// foldSummary folds contributions into an EscrowSummary and returns the grand
// total of all amounts alongside it.
func foldSummary(campaignID uint64, cs []models.Contribution) (models.EscrowSummary, uint64, error) {
	sum := models.EscrowSummary{CampaignID: campaignID}
	var committed uint64
	for i := range cs {
		c := &cs[i]
		var err error
		if committed, err = checkedAdd(committed, c.Amount); err != nil {
			return models.EscrowSummary{}, 0, err
		}
		b := bucket(&sum, c.Status)
		if *b, err = checkedAdd(*b, c.Amount); err != nil {
			return models.EscrowSummary{}, 0, err
		}
		*counter(&sum, c.Status)++
	}
	return sum, committed, nil
}
