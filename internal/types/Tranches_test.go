package types

import (
	"testing"

	"cosmossdk.io/math"
)

func TestSeniorityOrdering(t *testing.T) {
	senior := SeniorFirst()
	junior := JuniorFirst()

	if len(senior) != TrancheCount || len(junior) != TrancheCount {
		t.Fatalf("ordering slices have %d/%d entries, expected %d", len(senior), len(junior), TrancheCount)
	}
	if senior[0] != TrancheBTC || senior[TrancheCount-1] != TrancheEQT {
		t.Error("SeniorFirst must run BTC to EQT")
	}
	for i := range senior {
		if senior[i] != junior[TrancheCount-1-i] {
			t.Fatalf("JuniorFirst is not the exact reverse of SeniorFirst at index %d", i)
		}
	}
}

func TestTrancheIDFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected TrancheID
		wantErr  bool
	}{
		{input: "BTC", expected: TrancheBTC},
		{input: "SNR", expected: TrancheSNR},
		{input: "MEZZ", expected: TrancheMEZZ},
		{input: "JNR", expected: TrancheJNR},
		{input: "JNR+", expected: TrancheJNRPlus},
		{input: "JNRP", expected: TrancheJNRPlus},
		{input: "EQT", expected: TrancheEQT},
		{input: "eqt", expected: TrancheEQT},
		{input: "XYZ", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := TrancheIDFromString(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("TrancheIDFromString(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("TrancheIDFromString(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("TrancheIDFromString(%q) = %s, expected %s", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTrancheIDTextRoundTrip(t *testing.T) {
	for _, id := range SeniorFirst() {
		text, err := id.MarshalText()
		if err != nil {
			t.Fatalf("%s: marshal error: %v", id, err)
		}
		var back TrancheID
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("%s: unmarshal error: %v", id, err)
		}
		if back != id {
			t.Errorf("round trip %s -> %s", id, back)
		}
	}
}

func TestRiskWeightedCapacity(t *testing.T) {
	tests := []struct {
		name       string
		capital    int64
		riskWeight float64
		expected   int64
	}{
		{name: "half weight", capital: 25_000_000, riskWeight: 0.50, expected: 12_500_000},
		{name: "full weight", capital: 10_000_000, riskWeight: 1.00, expected: 10_000_000},
		{name: "truncates down", capital: 3, riskWeight: 0.50, expected: 1},
		{name: "zero capital", capital: 0, riskWeight: 0.90, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RiskWeightedCapacity(math.NewInt(tt.capital), tt.riskWeight)
			if !got.Equal(math.NewInt(tt.expected)) {
				t.Errorf("RiskWeightedCapacity(%d, %v) = %s, expected %d", tt.capital, tt.riskWeight, got, tt.expected)
			}
		})
	}
}

func TestTrancheStateUtilization(t *testing.T) {
	cfg := TrancheConfig{ID: TrancheMEZZ, RiskWeight: 0.70}

	state := TrancheState{
		Capital:           math.NewInt(10_000_000),
		AllocatedCoverage: math.NewInt(3_500_000),
		AccumulatedYield:  math.ZeroInt(),
	}
	if got := state.Utilization(cfg); got != 0.5 {
		t.Errorf("utilization = %v, expected 0.5", got)
	}

	empty := ZeroTrancheState()
	if got := empty.Utilization(cfg); got != 0 {
		t.Errorf("utilization of empty tranche = %v, expected 0", got)
	}
}

func TestVaultCloneIndependence(t *testing.T) {
	vault := NewVault()
	state := vault.Tranche(TrancheEQT)
	state.Capital = math.NewInt(1_000)
	vault.Tranches[TrancheEQT] = state
	vault.ActivePolicies = append(vault.ActivePolicies, Policy{PolicyID: "p1", CoverageAmount: math.NewInt(10)})

	clone := vault.Clone()
	cloneState := clone.Tranche(TrancheEQT)
	cloneState.Capital = math.NewInt(9_999)
	clone.Tranches[TrancheEQT] = cloneState
	clone.ActivePolicies[0].PolicyID = "changed"

	if !vault.Tranche(TrancheEQT).Capital.Equal(math.NewInt(1_000)) {
		t.Error("mutating the clone changed the original tranche state")
	}
	if vault.ActivePolicies[0].PolicyID != "p1" {
		t.Error("mutating the clone changed the original policy list")
	}
}

func TestVaultInsolvent(t *testing.T) {
	vault := NewVault()
	if vault.Insolvent() {
		t.Error("empty vault with no losses is not insolvent")
	}

	vault.AccumulatedLosses = math.NewInt(100)
	if !vault.Insolvent() {
		t.Error("zero capital with unresolved losses is the insolvent state")
	}

	state := vault.Tranche(TrancheBTC)
	state.Capital = math.NewInt(1)
	vault.Tranches[TrancheBTC] = state
	if vault.Insolvent() {
		t.Error("any remaining capital means not insolvent")
	}
}
