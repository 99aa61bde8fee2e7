package models

// EscrowSummary is the per-campaign fold of contribution amounts by escrow state.
type EscrowSummary struct {
	CampaignID    uint64 `json:"campaign_id"`
	TotalPending  uint64 `json:"total_pending"`
	TotalHeld     uint64 `json:"total_held"`
	TotalReleased uint64 `json:"total_released"`
	TotalRefunded uint64 `json:"total_refunded"`
	CountPending  int    `json:"count_pending"`
	CountHeld     int    `json:"count_held"`
	CountReleased int    `json:"count_released"`
	CountRefunded int    `json:"count_refunded"`
}

// UnifiedFunding is the cross-rail view of committed (held or released) money.
// Raw amounts stay in each rail's smallest unit; Normalized carries display
// values scaled by the configured rail exponents.
type UnifiedFunding struct {
	CampaignID        uint64            `json:"campaign_id"`
	NativeRaised      uint64            `json:"native_raised"`
	TraditionalRaised uint64            `json:"traditional_raised"`
	EquityRaised      uint64            `json:"equity_raised"`
	TotalRaised       uint64            `json:"total_raised"`
	TotalGoal         uint64            `json:"total_goal"`
	Normalized        *NormalizedAmount `json:"normalized,omitempty"`
}

// NormalizedAmount holds decimal strings, one per rail.
type NormalizedAmount struct {
	Native      string `json:"native"`
	Traditional string `json:"traditional"`
	Equity      string `json:"equity"`
}

// Settlement outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// SettlementReport lists the contributions a settlement run moved, and those
// it could not move. Errors is keyed by contribution id.
type SettlementReport struct {
	CampaignID uint64            `json:"campaign_id"`
	Outcome    string            `json:"outcome"`
	Released   []uint64          `json:"released"`
	Refunded   []uint64          `json:"refunded"`
	Failed     []uint64          `json:"failed"`
	Errors     map[uint64]string `json:"errors,omitempty"`
}

// Empty reports whether the run touched nothing and nothing failed.
func (r *SettlementReport) Empty() bool {
	return len(r.Released) == 0 && len(r.Refunded) == 0 && len(r.Failed) == 0
}
