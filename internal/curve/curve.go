/*

Yield curve model: maps (tranche, utilization) to an annualized percentage
rate. Pure computation; the curve shape for each tranche is resolved once when
the model is built, not branched on per call site.

*/

package curve

import (
	"fmt"
	"math"

	"github.com/tonsurance/solvency-engine/internal/types"
)

// Model evaluates the configured yield curve for each tranche.
type Model struct {
	configs map[types.TrancheID]types.TrancheConfig
}

// NewModel builds a curve model from a tranche parameter table.
func NewModel(configs map[types.TrancheID]types.TrancheConfig) *Model {
	resolved := make(map[types.TrancheID]types.TrancheConfig, len(configs))
	for id, cfg := range configs {
		resolved[id] = cfg
	}
	return &Model{configs: resolved}
}

// APY returns the annualized yield rate in percent for a tranche at the given
// utilization. Out-of-range utilization saturates to [0,1]; the endpoints
// return APYMin and APYMax exactly for every shape. An unknown tranche is a
// programming error and panics.
func (m *Model) APY(id types.TrancheID, utilization float64) float64 {
	cfg, ok := m.configs[id]
	if !ok {
		panic(types.ErrUnknownTranche.Wrapf("tranche id %d", id))
	}

	u := clamp01(utilization)
	if cfg.Curve == types.CurveFlat {
		return cfg.APYMin
	}
	// Exact endpoints: the sigmoid never reaches 0 or 1 on its own, and
	// float rounding must not push any shape past the configured bounds.
	if u == 0 {
		return cfg.APYMin
	}
	if u == 1 {
		return cfg.APYMax
	}

	span := cfg.APYMax - cfg.APYMin
	var factor float64
	switch cfg.Curve {
	case types.CurveLogarithmic:
		factor = math.Log1p(u) / math.Ln2
	case types.CurveLinear:
		factor = u
	case types.CurveSigmoidal:
		factor = 1.0 / (1.0 + math.Exp(-10.0*(u-0.5)))
	case types.CurveQuadratic:
		factor = u * u
	case types.CurveExponential:
		factor = math.Expm1(2.0*u) / math.Expm1(2.0)
	default:
		panic(fmt.Sprintf("unsupported curve shape %q for tranche %s", cfg.Curve, id))
	}

	return cfg.APYMin + span*factor
}

// Config returns the parameter set the model resolved for a tranche.
func (m *Model) Config(id types.TrancheID) (types.TrancheConfig, bool) {
	cfg, ok := m.configs[id]
	return cfg, ok
}

func clamp01(u float64) float64 {
	if math.IsNaN(u) || u < 0 {
		return 0
	}
	if u > 1 {
		return 1
	}
	return u
}
