package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/fundverse/backend/internal/models"
)

// StaticCampaigns is an in-memory campaign read model, fed by PutCampaign.
type StaticCampaigns struct {
	mu        sync.RWMutex
	campaigns map[uint64]models.Campaign
}

func NewStaticCampaigns(cs ...models.Campaign) *StaticCampaigns {
	s := &StaticCampaigns{campaigns: make(map[uint64]models.Campaign, len(cs))}
	for _, c := range cs {
		s.campaigns[c.ID] = c
	}
	return s
}

func (s *StaticCampaigns) Campaign(_ context.Context, id uint64) (models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return models.Campaign{}, ErrCampaignNotFound
	}
	return c, nil
}

// PutCampaign inserts or replaces c. Once a campaign is succeeded or failed
// its resolution cannot change; ErrResolutionFinal is returned instead.
func (s *StaticCampaigns) PutCampaign(_ context.Context, c models.Campaign) error {
	if c.Resolution == "" {
		c.Resolution = models.ResolutionOpen
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.campaigns[c.ID]; ok && old.Resolved() && old.Resolution != c.Resolution {
		return fmt.Errorf("%w: campaign %d is %s", ErrResolutionFinal, c.ID, old.Resolution)
	}
	s.campaigns[c.ID] = c
	return nil
}
