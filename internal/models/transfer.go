package models

import "time"

// Native-ledger transfer states.
const (
	TransferPending   = "pending"
	TransferConfirmed = "confirmed"
	TransferFailed    = "failed"
)

// Transfer directions: inbound moves funds backer -> escrow, reverse moves them back.
const (
	TransferInbound = "inbound"
	TransferReverse = "reverse"
)

// RailTransferRecord is a native-ledger transfer owned by the native rail
// adapter. Memo correlates it to the contribution it funds or refunds.
type RailTransferRecord struct {
	ID          uint64     `json:"id"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Amount      uint64     `json:"amount"`
	Status      string     `json:"status"`
	Direction   string     `json:"direction"`
	Memo        uint64     `json:"memo"`
	ExternalRef string     `json:"external_ref,omitempty"`
	BlockHeight *uint64    `json:"block_height,omitempty"`
	FailReason  string     `json:"fail_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

// Final reports whether the record can no longer change.
func (r *RailTransferRecord) Final() bool {
	return r.Status == TransferConfirmed || r.Status == TransferFailed
}
