/*

Static risk parameters for the six capital tranches. These mirror the
protocol's tranche design: senior capital is over-collateralized (low risk
weight, low yield, flatter curve) and equity counts fully as first-loss
capital with the steepest curve.

*/

package config

import (
	"github.com/tonsurance/solvency-engine/internal/types"
)

// DefaultTrancheConfigs is the canonical tranche parameter table, keyed by
// tranche and ordered senior to junior through types.SeniorFirst.
var DefaultTrancheConfigs = map[types.TrancheID]types.TrancheConfig{
	types.TrancheBTC: {
		ID:                types.TrancheBTC,
		RiskWeight:        0.50,
		APYMin:            3.0,
		APYMax:            5.0,
		Curve:             types.CurveFlat,
		AllocationPercent: 25.0,
	},
	types.TrancheSNR: {
		ID:                types.TrancheSNR,
		RiskWeight:        0.60,
		APYMin:            5.0,
		APYMax:            9.0,
		Curve:             types.CurveLogarithmic,
		AllocationPercent: 20.0,
	},
	types.TrancheMEZZ: {
		ID:                types.TrancheMEZZ,
		RiskWeight:        0.70,
		APYMin:            9.0,
		APYMax:            15.0,
		Curve:             types.CurveLinear,
		AllocationPercent: 18.0,
	},
	types.TrancheJNR: {
		ID:                types.TrancheJNR,
		RiskWeight:        0.80,
		APYMin:            12.0,
		APYMax:            22.0,
		Curve:             types.CurveSigmoidal,
		AllocationPercent: 15.0,
	},
	types.TrancheJNRPlus: {
		ID:                types.TrancheJNRPlus,
		RiskWeight:        0.90,
		APYMin:            15.0,
		APYMax:            30.0,
		Curve:             types.CurveQuadratic,
		AllocationPercent: 12.0,
	},
	types.TrancheEQT: {
		ID:                types.TrancheEQT,
		RiskWeight:        1.00,
		APYMin:            20.0,
		APYMax:            45.0,
		Curve:             types.CurveExponential,
		AllocationPercent: 10.0,
	},
}

// TrancheConfigFor returns the static config for a tranche. An unknown id is
// a programming error on every call path, so this panics rather than
// returning an error.
func TrancheConfigFor(id types.TrancheID) types.TrancheConfig {
	cfg, ok := DefaultTrancheConfigs[id]
	if !ok {
		panic(types.ErrUnknownTranche.Wrapf("tranche id %d", id))
	}
	return cfg
}
