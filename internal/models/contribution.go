package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowStatus is the escrow state of a single contribution.
type EscrowStatus string

const (
	StatusPending  EscrowStatus = "pending"
	StatusHeld     EscrowStatus = "held"
	StatusReleased EscrowStatus = "released"
	StatusRefunded EscrowStatus = "refunded"
)

// Terminal reports whether no further transition is possible from s.
func (s EscrowStatus) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Valid reports whether s is one of the known escrow states.
func (s EscrowStatus) Valid() bool {
	switch s {
	case StatusPending, StatusHeld, StatusReleased, StatusRefunded:
		return true
	}
	return false
}

// Method is how a backer pays for a contribution.
type Method string

const (
	MethodNativeLedger Method = "native-ledger"
	MethodBankTransfer Method = "bank-transfer"
	MethodCardRail     Method = "card-rail"
	MethodWalletRail   Method = "wallet-rail"
	MethodOtherLabeled Method = "other-labeled"
	MethodEquitySPV    Method = "equity-spv"
)

// Rail is one of the independent settlement pathways.
type Rail string

const (
	RailNative      Rail = "native"
	RailTraditional Rail = "traditional"
	RailEquity      Rail = "equity"
)

// Rails lists every rail in reporting order.
var Rails = []Rail{RailNative, RailTraditional, RailEquity}

// Rail returns the settlement rail a method belongs to, or "" for unknown methods.
func (m Method) Rail() Rail {
	switch m {
	case MethodNativeLedger:
		return RailNative
	case MethodBankTransfer, MethodCardRail, MethodWalletRail, MethodOtherLabeled:
		return RailTraditional
	case MethodEquitySPV:
		return RailEquity
	}
	return ""
}

// RequiresReference reports whether a contribution paid with m must carry a
// rail reference before it can be confirmed. Manually attested (other-labeled)
// and equity contributions may confirm without one.
func (m Method) RequiresReference() bool {
	switch m {
	case MethodNativeLedger, MethodBankTransfer, MethodCardRail, MethodWalletRail:
		return true
	}
	return false
}

type Contribution struct {
	ID            uint64       `json:"id"`
	CampaignID    uint64       `json:"campaign_id"`
	Backer        uuid.UUID    `json:"backer"`
	Amount        uint64       `json:"amount"`
	Method        Method       `json:"method"`
	MethodLabel   string       `json:"method_label,omitempty"`
	Status        EscrowStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	ConfirmedAt   *time.Time   `json:"confirmed_at,omitempty"`
	SettledAt     *time.Time   `json:"settled_at,omitempty"`
	RailReference string       `json:"rail_reference,omitempty"`
	LastRailError string       `json:"last_rail_error,omitempty"`
	RailFailures  int          `json:"rail_failures"`
}

// Rail is shorthand for c.Method.Rail().
func (c *Contribution) Rail() Rail {
	return c.Method.Rail()
}
