package escrow

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrUnknownBacker          = errors.New("unknown backer")
	ErrCampaignClosed         = errors.New("campaign closed")
	ErrCampaignNotFound       = errors.New("campaign not found")
	ErrCampaignNotResolved    = errors.New("campaign not resolved")
	// ErrResolutionFinal is returned when a decided campaign resolution
	// would be changed.
	ErrResolutionFinal = errors.New("campaign resolution already decided")
	ErrUnsupportedMethod      = errors.New("unsupported payment method")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAmountMismatch         = errors.New("amount mismatch")
	ErrAmountOverflow         = errors.New("amount overflow")
	ErrContributionNotFound   = errors.New("contribution not found")
	ErrRailConfirmationFailed = errors.New("rail confirmation failed")

	// ErrMissingRailReference is an InvalidStateTransition: the method needs a
	// rail reference before the contribution can be confirmed.
	ErrMissingRailReference = fmt.Errorf("%w: rail reference required", ErrInvalidStateTransition)

	// ErrStaleState is returned by a Store when a compare-and-set finds a
	// status other than the expected one.
	ErrStaleState = errors.New("stale contribution state")
)

// RailError reports a rail-side failure with the reason given by the rail.
type RailError struct {
	Reason string
}

func (e *RailError) Error() string {
	return "rail confirmation failed: " + e.Reason
}

func (e *RailError) Is(target error) bool {
	return target == ErrRailConfirmationFailed
}

// NewRailError wraps a reason as a RailError.
func NewRailError(format string, args ...any) error {
	return &RailError{Reason: fmt.Sprintf(format, args...)}
}

// SettlementPartialFailure lists the contributions a settlement run could not
// drive to a terminal state.
type SettlementPartialFailure struct {
	CampaignID uint64
	FailedIDs  []uint64
}

func (e *SettlementPartialFailure) Error() string {
	ids := append([]uint64(nil), e.FailedIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return fmt.Sprintf("settlement of campaign %d partially failed: [%s]", e.CampaignID, strings.Join(parts, ","))
}

func transitionError(id uint64, from, to any) error {
	return fmt.Errorf("%w: contribution %d %v -> %v", ErrInvalidStateTransition, id, from, to)
}
