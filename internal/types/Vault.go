/*

Vault snapshot type. Every mutating operation in the engine takes a snapshot
and returns a new one; nothing mutates shared state in place, so a snapshot a
reader holds is never partially applied.

*/

package types

import (
	"time"

	"cosmossdk.io/math"
)

// Policy references a coverage policy owned by the issuance collaborator. The
// engine stores the reference for capacity accounting only.
type Policy struct {
	PolicyID       string   `json:"policy_id"`
	CoverageAmount math.Int `json:"coverage_amount"`
	PremiumPaid    math.Int `json:"premium_paid"`
	Status         string   `json:"status"`
}

// Vault is an immutable snapshot of one capital pool. Total capital is always
// derived from the tranche slices, never stored, so the aggregate cannot
// drift from its parts.
type Vault struct {
	Tranches          map[TrancheID]TrancheState `json:"tranches"`
	TotalCoverageSold math.Int                   `json:"total_coverage_sold"`
	AccumulatedLosses math.Int                   `json:"accumulated_losses"`
	ActivePolicies    []Policy                   `json:"active_policies"`
}

// NewVault creates an empty vault with all six tranches at zero capital.
func NewVault() Vault {
	tranches := make(map[TrancheID]TrancheState, TrancheCount)
	for _, id := range SeniorFirst() {
		tranches[id] = ZeroTrancheState()
	}
	return Vault{
		Tranches:          tranches,
		TotalCoverageSold: math.ZeroInt(),
		AccumulatedLosses: math.ZeroInt(),
		ActivePolicies:    nil,
	}
}

// Clone deep-copies the snapshot. Cascade operations clone before touching
// any tranche so the input snapshot stays valid for replay.
func (v Vault) Clone() Vault {
	tranches := make(map[TrancheID]TrancheState, len(v.Tranches))
	for id, st := range v.Tranches {
		tranches[id] = st
	}
	policies := make([]Policy, len(v.ActivePolicies))
	copy(policies, v.ActivePolicies)
	return Vault{
		Tranches:          tranches,
		TotalCoverageSold: v.TotalCoverageSold,
		AccumulatedLosses: v.AccumulatedLosses,
		ActivePolicies:    policies,
	}
}

// TotalCapital sums capital across all tranches.
func (v Vault) TotalCapital() math.Int {
	total := math.ZeroInt()
	for _, st := range v.Tranches {
		total = total.Add(st.Capital)
	}
	return total
}

// Tranche returns the state for one tranche, zero-valued if the snapshot has
// never seen it.
func (v Vault) Tranche(id TrancheID) TrancheState {
	if st, ok := v.Tranches[id]; ok {
		return st
	}
	return ZeroTrancheState()
}

// Insolvent reports the terminal state: no capital left while losses remain
// unresolved. A vault is never deleted, only driven here.
func (v Vault) Insolvent() bool {
	return v.TotalCapital().IsZero() && v.AccumulatedLosses.IsPositive()
}

// SolvencySnapshot is one persisted reconciliation-cycle record of pool
// health, the durable audit trail behind the dashboard.
type SolvencySnapshot struct {
	SnapshotID       int64     `json:"snapshot_id,omitempty"`
	CycleNumber      int       `json:"cycle_number"`
	Timestamp        time.Time `json:"timestamp"`
	TotalCapital     math.Int  `json:"total_capital"`
	EffectiveCapital math.Int  `json:"effective_capital"`
	CoverageSold     math.Int  `json:"coverage_sold"`
	AccumulatedLoss  math.Int  `json:"accumulated_losses"`
	VaultUtilization float64   `json:"vault_utilization"`
	Solvent          bool      `json:"solvent"`
	ActivePolicies   int       `json:"active_policies"`
	Tranches         Vault     `json:"tranches"`
}

// CascadeKind distinguishes persisted cascade receipts.
type CascadeKind string

const (
	CascadePremium CascadeKind = "premium"
	CascadeLoss    CascadeKind = "loss"
)

// CascadeReceipt is the persisted outcome of one waterfall execution:
// per-tranche deltas plus the undistributed remainder.
type CascadeReceipt struct {
	ReceiptID string      `json:"receipt_id"`
	Kind      CascadeKind `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Amount    math.Int    `json:"amount"`
	Remaining math.Int    `json:"remaining"`

	// TrancheDeltas maps tranche to yield paid (premium) or capital absorbed
	// (loss), in cascade order.
	TrancheDeltas map[TrancheID]math.Int `json:"tranche_deltas"`
	WipedTranches []TrancheID            `json:"wiped_tranches,omitempty"`
	Insolvency    bool                   `json:"insolvency"`
}
