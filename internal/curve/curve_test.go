package curve

import (
	"math"
	"testing"

	"github.com/tonsurance/solvency-engine/internal/config"
	"github.com/tonsurance/solvency-engine/internal/types"
)

const tolerance = 1e-9

func newTestModel() *Model {
	return NewModel(config.DefaultTrancheConfigs)
}

// TestCurveEndpoints verifies every shape returns its configured bounds
// exactly at zero and full utilization, including the sigmoid which never
// reaches them analytically.
func TestCurveEndpoints(t *testing.T) {
	model := newTestModel()

	for _, id := range types.SeniorFirst() {
		cfg := config.TrancheConfigFor(id)

		atZero := model.APY(id, 0.0)
		if atZero != cfg.APYMin {
			t.Errorf("%s: APY(0) = %v, expected exactly %v", id, atZero, cfg.APYMin)
		}

		atOne := model.APY(id, 1.0)
		if cfg.Curve == types.CurveFlat {
			if atOne != cfg.APYMin {
				t.Errorf("%s: flat APY(1) = %v, expected %v", id, atOne, cfg.APYMin)
			}
			continue
		}
		if atOne != cfg.APYMax {
			t.Errorf("%s: APY(1) = %v, expected exactly %v", id, atOne, cfg.APYMax)
		}
	}
}

// TestCurveShapes checks mid-curve values against the closed-form shapes.
func TestCurveShapes(t *testing.T) {
	model := newTestModel()

	tests := []struct {
		name        string
		tranche     types.TrancheID
		utilization float64
		expected    float64
	}{
		{
			name:        "flat ignores utilization",
			tranche:     types.TrancheBTC,
			utilization: 0.7,
			expected:    3.0,
		},
		{
			name:        "logarithmic midpoint",
			tranche:     types.TrancheSNR,
			utilization: 0.5,
			expected:    5.0 + 4.0*(math.Log1p(0.5)/math.Ln2),
		},
		{
			name:        "linear midpoint",
			tranche:     types.TrancheMEZZ,
			utilization: 0.5,
			expected:    12.0,
		},
		{
			name:        "linear quarter",
			tranche:     types.TrancheMEZZ,
			utilization: 0.25,
			expected:    10.5,
		},
		{
			name:        "sigmoidal midpoint is half span",
			tranche:     types.TrancheJNR,
			utilization: 0.5,
			expected:    17.0,
		},
		{
			name:        "quadratic midpoint",
			tranche:     types.TrancheJNRPlus,
			utilization: 0.5,
			expected:    15.0 + 15.0*0.25,
		},
		{
			name:        "exponential midpoint",
			tranche:     types.TrancheEQT,
			utilization: 0.5,
			expected:    20.0 + 25.0*(math.Expm1(1.0)/math.Expm1(2.0)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := model.APY(tt.tranche, tt.utilization)
			if math.Abs(got-tt.expected) > tolerance {
				t.Errorf("APY(%s, %v) = %v, expected %v", tt.tranche, tt.utilization, got, tt.expected)
			}
		})
	}
}

// TestCurveClamping verifies out-of-range utilization saturates instead of
// extrapolating.
func TestCurveClamping(t *testing.T) {
	model := newTestModel()

	tests := []struct {
		name        string
		utilization float64
		expected    float64
	}{
		{name: "negative clamps to min", utilization: -0.5, expected: 9.0},
		{name: "above one clamps to max", utilization: 1.5, expected: 15.0},
		{name: "NaN clamps to min", utilization: math.NaN(), expected: 9.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := model.APY(types.TrancheMEZZ, tt.utilization)
			if got != tt.expected {
				t.Errorf("APY(MEZZ, %v) = %v, expected %v", tt.utilization, got, tt.expected)
			}
		})
	}
}

// TestCurveMonotonic checks each non-flat shape is non-decreasing across the
// domain.
func TestCurveMonotonic(t *testing.T) {
	model := newTestModel()

	for _, id := range types.SeniorFirst() {
		prev := model.APY(id, 0.0)
		for u := 0.01; u <= 1.0; u += 0.01 {
			got := model.APY(id, u)
			if got < prev-tolerance {
				t.Fatalf("%s: APY decreased from %v to %v at utilization %v", id, prev, got, u)
			}
			prev = got
		}
	}
}

// TestCurveBounds checks no shape ever leaves [APYMin, APYMax].
func TestCurveBounds(t *testing.T) {
	model := newTestModel()

	for _, id := range types.SeniorFirst() {
		cfg := config.TrancheConfigFor(id)
		for u := 0.0; u <= 1.0; u += 0.001 {
			got := model.APY(id, u)
			if got < cfg.APYMin || got > cfg.APYMax {
				t.Fatalf("%s: APY(%v) = %v outside [%v, %v]", id, u, got, cfg.APYMin, cfg.APYMax)
			}
		}
	}
}

func TestCurveUnknownTranchePanics(t *testing.T) {
	model := newTestModel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown tranche")
		}
	}()
	model.APY(types.TrancheID(99), 0.5)
}
