package models

import (
	"time"

	"github.com/google/uuid"
)

// Campaign resolution states as reported by the campaign lifecycle service.
const (
	ResolutionOpen      = "open"
	ResolutionSucceeded = "succeeded"
	ResolutionFailed    = "failed"
)

// Campaign is the subset of campaign metadata the escrow engine reads.
type Campaign struct {
	ID         uint64    `json:"id"`
	Creator    uuid.UUID `json:"creator"`
	Goal       uint64    `json:"goal"`
	Deadline   time.Time `json:"deadline"`
	Resolution string    `json:"resolution"`
}

// Resolved reports whether the lifecycle service has decided the campaign.
func (c *Campaign) Resolved() bool {
	return c.Resolution == ResolutionSucceeded || c.Resolution == ResolutionFailed
}

// AcceptsContributions reports whether new contributions may be recorded at now.
func (c *Campaign) AcceptsContributions(now time.Time) bool {
	if c.Resolved() {
		return false
	}
	return c.Deadline.IsZero() || now.Before(c.Deadline)
}
