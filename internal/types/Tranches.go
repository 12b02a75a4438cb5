/*

Core tranche types for the solvency engine. The tranche set is closed and
intrinsically ordered from most senior to most junior; that order is the
waterfall priority for every cascading operation.

*/

package types

import (
	"fmt"
	"strings"

	"cosmossdk.io/math"
)

// TrancheID identifies one of the six capital tranches. The zero value is the
// most senior tranche (BTC); ordering follows seniority.
type TrancheID int

const (
	TrancheBTC TrancheID = iota
	TrancheSNR
	TrancheMEZZ
	TrancheJNR
	TrancheJNRPlus
	TrancheEQT

	TrancheCount = 6
)

// SeniorFirst returns the tranche IDs ordered senior to junior. Premium
// distribution walks this order.
func SeniorFirst() []TrancheID {
	return []TrancheID{TrancheBTC, TrancheSNR, TrancheMEZZ, TrancheJNR, TrancheJNRPlus, TrancheEQT}
}

// JuniorFirst returns the tranche IDs ordered junior to senior. Loss
// absorption walks this order: equity is first-loss capital.
func JuniorFirst() []TrancheID {
	return []TrancheID{TrancheEQT, TrancheJNRPlus, TrancheJNR, TrancheMEZZ, TrancheSNR, TrancheBTC}
}

func (t TrancheID) String() string {
	switch t {
	case TrancheBTC:
		return "BTC"
	case TrancheSNR:
		return "SNR"
	case TrancheMEZZ:
		return "MEZZ"
	case TrancheJNR:
		return "JNR"
	case TrancheJNRPlus:
		return "JNR+"
	case TrancheEQT:
		return "EQT"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether t is a member of the closed tranche set.
func (t TrancheID) Valid() bool {
	return t >= TrancheBTC && t <= TrancheEQT
}

// TrancheIDFromString parses a tranche symbol as it appears on the ledger
// feed. Case-insensitive; returns ErrUnknownTranche for anything outside the
// closed set.
func TrancheIDFromString(s string) (TrancheID, error) {
	switch strings.ToUpper(s) {
	case "BTC":
		return TrancheBTC, nil
	case "SNR":
		return TrancheSNR, nil
	case "MEZZ":
		return TrancheMEZZ, nil
	case "JNR":
		return TrancheJNR, nil
	case "JNR+", "JNRP":
		return TrancheJNRPlus, nil
	case "EQT":
		return TrancheEQT, nil
	default:
		return 0, ErrUnknownTranche.Wrapf("symbol %q", s)
	}
}

// MarshalText renders the tranche symbol, so TrancheID-keyed maps serialize
// with readable keys.
func (t TrancheID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tranche symbol.
func (t *TrancheID) UnmarshalText(text []byte) error {
	id, err := TrancheIDFromString(string(text))
	if err != nil {
		return err
	}
	*t = id
	return nil
}

// CurveShape selects the yield curve formula for a tranche. Resolved once at
// configuration time, never branched on per request outside the curve model.
type CurveShape string

const (
	CurveFlat        CurveShape = "flat"
	CurveLogarithmic CurveShape = "logarithmic"
	CurveLinear      CurveShape = "linear"
	CurveSigmoidal   CurveShape = "sigmoidal"
	CurveQuadratic   CurveShape = "quadratic"
	CurveExponential CurveShape = "exponential"
)

// TrancheConfig holds the static per-tranche risk parameters.
type TrancheConfig struct {
	ID         TrancheID  `json:"id"`
	RiskWeight float64    `json:"risk_weight"` // (0,1]: fraction of capital that counts toward underwriting capacity
	APYMin     float64    `json:"apy_min"`     // Percent, curve floor
	APYMax     float64    `json:"apy_max"`     // Percent, curve ceiling
	Curve      CurveShape `json:"curve_shape"`

	// AllocationPercent is the target share of pool capital for this tranche.
	// Informational only; the engine never enforces it.
	AllocationPercent float64 `json:"allocation_percent"`
}

// TrancheState is the mutable per-tranche slice of a vault snapshot. Amounts
// are integers in the smallest currency unit.
type TrancheState struct {
	Capital           math.Int `json:"capital"`
	AllocatedCoverage math.Int `json:"allocated_coverage"`
	AccumulatedYield  math.Int `json:"accumulated_yield"`
}

// ZeroTrancheState returns an empty tranche slice.
func ZeroTrancheState() TrancheState {
	return TrancheState{
		Capital:           math.ZeroInt(),
		AllocatedCoverage: math.ZeroInt(),
		AccumulatedYield:  math.ZeroInt(),
	}
}

// TrancheUtilization computes allocated coverage over risk-weighted capacity.
// Values above 1.0 are reported as-is; ceiling enforcement belongs to the
// caller. A tranche with no capacity reports zero.
func (s TrancheState) Utilization(cfg TrancheConfig) float64 {
	capacity := RiskWeightedCapacity(s.Capital, cfg.RiskWeight)
	if !capacity.IsPositive() {
		return 0
	}
	allocated := math.LegacyNewDecFromInt(s.AllocatedCoverage)
	ratio, err := allocated.Quo(math.LegacyNewDecFromInt(capacity)).Float64()
	if err != nil {
		return 0
	}
	return ratio
}

// RiskWeightedCapacity returns capital x riskWeight truncated to an integer
// amount.
func RiskWeightedCapacity(capital math.Int, riskWeight float64) math.Int {
	if !capital.IsPositive() {
		return math.ZeroInt()
	}
	weight := math.LegacyMustNewDecFromStr(formatRatio(riskWeight))
	return math.LegacyNewDecFromInt(capital).Mul(weight).TruncateInt()
}

// formatRatio renders a ratio with fixed precision so LegacyDec parsing never
// sees float artifacts. Ratios in this engine are configuration values with
// at most a few decimal places.
func formatRatio(r float64) string {
	return fmt.Sprintf("%.8f", r)
}
