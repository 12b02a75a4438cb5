/*

Collateral manager: the aggregate solvency view. Computes risk-weighted
effective capital and decides whether proposed coverage may be underwritten.
Checks never mutate; allocation never checks. Callers own the reject path.

*/

package collateral

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/tonsurance/solvency-engine/internal/logger"
	"github.com/tonsurance/solvency-engine/internal/types"
)

// RejectReason is the closed set of underwriting rejection codes. Callers
// branch on the code; Detail is free text for operators.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonZeroCapital
	ReasonGlobalCeiling
	ReasonTrancheCeiling
	ReasonInvalidAmount
)

func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonZeroCapital:
		return "zero_capital_pool"
	case ReasonGlobalCeiling:
		return "effective_capital_exceeded"
	case ReasonTrancheCeiling:
		return "tranche_capacity_exceeded"
	case ReasonInvalidAmount:
		return "invalid_amount"
	default:
		return "unknown"
	}
}

// Rejection explains a failed underwriting check.
type Rejection struct {
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// TrancheUtilizationReport is one row of the per-tranche utilization view.
type TrancheUtilizationReport struct {
	Tranche     types.TrancheID `json:"tranche"`
	Capital     math.Int        `json:"capital"`
	Capacity    math.Int        `json:"capacity"`
	Allocated   math.Int        `json:"allocated"`
	Utilization float64         `json:"utilization"`
}

// Manager owns the underwriting-capacity math for one pool's snapshots.
type Manager struct {
	configs               map[types.TrancheID]types.TrancheConfig
	maxPoolUtilization    float64
	maxTrancheUtilization float64
	logger                zerolog.Logger
}

// NewManager builds a collateral manager over a static tranche table.
func NewManager(configs map[types.TrancheID]types.TrancheConfig, maxPoolUtilization, maxTrancheUtilization float64) *Manager {
	return &Manager{
		configs:               configs,
		maxPoolUtilization:    maxPoolUtilization,
		maxTrancheUtilization: maxTrancheUtilization,
		logger:                logger.GetForComponent("collateral_manager"),
	}
}

// EffectiveCapital computes the risk-weighted sum of tranche capital: the
// pool's true underwriting capacity. Recomputed fresh for every decision,
// never cached across a capital-changing operation.
func (m *Manager) EffectiveCapital(vault types.Vault) math.Int {
	effective := math.ZeroInt()
	for id, cfg := range m.configs {
		effective = effective.Add(types.RiskWeightedCapacity(vault.Tranche(id).Capital, cfg.RiskWeight))
	}
	return effective
}

// CanUnderwrite decides whether the pool may sell proposedCoverage more
// coverage. It rejects when the global ceiling on coverage over effective
// capital would be crossed, or when any single tranche would exceed its own
// risk-weighted capacity ceiling under a pro-rata split of the proposed
// coverage. The per-tranche check matters because global utilization can be
// low while one thin tranche is already saturated.
//
// Deterministic and read-only: identical inputs give identical results.
func (m *Manager) CanUnderwrite(vault types.Vault, proposedCoverage math.Int) (bool, Rejection) {
	effective := m.EffectiveCapital(vault)
	if !effective.IsPositive() {
		return false, Rejection{
			Reason: ReasonZeroCapital,
			Detail: "pool has no effective capital",
		}
	}

	effectiveDec := math.LegacyNewDecFromInt(effective)
	proposedTotal := math.LegacyNewDecFromInt(vault.TotalCoverageSold.Add(proposedCoverage))
	globalRatio := mustFloat(proposedTotal.Quo(effectiveDec))
	if globalRatio > m.maxPoolUtilization {
		return false, Rejection{
			Reason: ReasonGlobalCeiling,
			Detail: fmt.Sprintf("coverage would reach %.4f of effective capital (ceiling %.2f)", globalRatio, m.maxPoolUtilization),
		}
	}

	// Pro-rata assumption: proposed coverage splits across tranches in
	// proportion to their risk-weighted capacity. No per-policy tranche
	// attribution exists in this engine.
	for _, id := range types.SeniorFirst() {
		cfg := m.configs[id]
		state := vault.Tranche(id)
		capacity := types.RiskWeightedCapacity(state.Capital, cfg.RiskWeight)
		if !capacity.IsPositive() {
			continue
		}
		capacityDec := math.LegacyNewDecFromInt(capacity)
		share := math.LegacyNewDecFromInt(proposedCoverage).Mul(capacityDec).Quo(effectiveDec)
		projected := mustFloat(math.LegacyNewDecFromInt(state.AllocatedCoverage).Add(share).Quo(capacityDec))
		if projected > m.maxTrancheUtilization {
			return false, Rejection{
				Reason: ReasonTrancheCeiling,
				Detail: fmt.Sprintf("tranche %s would reach %.4f of risk-weighted capacity (ceiling %.2f)", id, projected, m.maxTrancheUtilization),
			}
		}
	}

	return true, Rejection{Reason: ReasonNone}
}

// TrancheUtilization reports allocated coverage over risk-weighted capacity
// for one tranche. Reported as-is, never capped; callers enforce the ceiling.
func (m *Manager) TrancheUtilization(vault types.Vault, id types.TrancheID) float64 {
	cfg, ok := m.configs[id]
	if !ok {
		panic(types.ErrUnknownTranche.Wrapf("tranche id %d", id))
	}
	return vault.Tranche(id).Utilization(cfg)
}

// AllTrancheUtilizations returns the per-tranche utilization view in
// seniority order, for reporting and dashboards.
func (m *Manager) AllTrancheUtilizations(vault types.Vault) []TrancheUtilizationReport {
	reports := make([]TrancheUtilizationReport, 0, types.TrancheCount)
	for _, id := range types.SeniorFirst() {
		cfg := m.configs[id]
		state := vault.Tranche(id)
		reports = append(reports, TrancheUtilizationReport{
			Tranche:     id,
			Capital:     state.Capital,
			Capacity:    types.RiskWeightedCapacity(state.Capital, cfg.RiskWeight),
			Allocated:   state.AllocatedCoverage,
			Utilization: state.Utilization(cfg),
		})
	}
	return reports
}

// AllocateCoverage appends the policy and books its coverage into a new
// snapshot. It deliberately does not enforce the underwriting limits: check
// and mutation are separate so callers control the reject path (for example a
// partial fill after a failed check). The coverage is split pro-rata across
// tranches by risk-weighted capacity, with integer dust booked to the most
// junior tranche holding capital.
func (m *Manager) AllocateCoverage(vault types.Vault, policy types.Policy) types.Vault {
	next := vault.Clone()
	next.ActivePolicies = append(next.ActivePolicies, policy)
	next.TotalCoverageSold = next.TotalCoverageSold.Add(policy.CoverageAmount)

	effective := m.EffectiveCapital(vault)
	if !effective.IsPositive() {
		m.logger.Warn().
			Str("policy_id", policy.PolicyID).
			Str("coverage", policy.CoverageAmount.String()).
			Msg("Coverage allocated against a pool with no effective capital")
		return next
	}

	effectiveDec := math.LegacyNewDecFromInt(effective)
	coverageDec := math.LegacyNewDecFromInt(policy.CoverageAmount)

	assigned := math.ZeroInt()
	var lastWithCapacity types.TrancheID
	hasCapacity := false
	for _, id := range types.SeniorFirst() {
		cfg := m.configs[id]
		state := next.Tranche(id)
		capacity := types.RiskWeightedCapacity(state.Capital, cfg.RiskWeight)
		if !capacity.IsPositive() {
			continue
		}
		lastWithCapacity = id
		hasCapacity = true
		share := coverageDec.Mul(math.LegacyNewDecFromInt(capacity)).Quo(effectiveDec).TruncateInt()
		state.AllocatedCoverage = state.AllocatedCoverage.Add(share)
		next.Tranches[id] = state
		assigned = assigned.Add(share)
	}

	// Truncation dust lands on the most junior funded tranche so the split
	// sums exactly to the policy's coverage.
	if hasCapacity {
		dust := policy.CoverageAmount.Sub(assigned)
		if dust.IsPositive() {
			state := next.Tranches[lastWithCapacity]
			state.AllocatedCoverage = state.AllocatedCoverage.Add(dust)
			next.Tranches[lastWithCapacity] = state
		}
	}

	m.logger.Debug().
		Str("policy_id", policy.PolicyID).
		Str("coverage", policy.CoverageAmount.String()).
		Str("total_coverage_sold", next.TotalCoverageSold.String()).
		Msg("Coverage allocated")

	return next
}

// mustFloat converts a LegacyDec ratio to float64. Ratios in this engine stay
// far inside float range; a failed conversion means corrupted state.
func mustFloat(d math.LegacyDec) float64 {
	f, err := d.Float64()
	if err != nil {
		panic(fmt.Sprintf("ratio conversion failed: %v", err))
	}
	return f
}
