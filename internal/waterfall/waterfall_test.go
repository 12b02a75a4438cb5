package waterfall

import (
	"testing"
	"time"

	"cosmossdk.io/math"

	"github.com/tonsurance/solvency-engine/internal/config"
	"github.com/tonsurance/solvency-engine/internal/curve"
	"github.com/tonsurance/solvency-engine/internal/types"
)

// A full year keeps target yields exact: capital x APY / 100.
const testPeriod = 365 * 24 * time.Hour

func newTestSimulator() *Simulator {
	model := curve.NewModel(config.DefaultTrancheConfigs)
	return NewSimulator(model, config.DefaultTrancheConfigs)
}

// vaultWithCapital builds a snapshot with the given per-tranche capital in
// seniority order: BTC, SNR, MEZZ, JNR, JNR+, EQT.
func vaultWithCapital(amounts ...int64) types.Vault {
	vault := types.NewVault()
	for i, id := range types.SeniorFirst() {
		if i >= len(amounts) {
			break
		}
		state := vault.Tranche(id)
		state.Capital = math.NewInt(amounts[i])
		vault.Tranches[id] = state
	}
	return vault
}

// At zero utilization every tranche earns APYMin, so annual targets over the
// standard test pool are: BTC 750k, SNR 1M, MEZZ 1.62M, JNR 1.8M, JNR+ 1.8M,
// EQT 2M, totalling 8.97M.
func TestPremiumDistributionFull(t *testing.T) {
	sim := newTestSimulator()
	vault := vaultWithCapital(25_000_000, 20_000_000, 18_000_000, 15_000_000, 12_000_000, 10_000_000)
	premium := math.NewInt(10_000_000)

	report, next, err := sim.SimulatePremiumDistribution(vault, premium, testPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedTargets := map[types.TrancheID]int64{
		types.TrancheBTC:     750_000,
		types.TrancheSNR:     1_000_000,
		types.TrancheMEZZ:    1_620_000,
		types.TrancheJNR:     1_800_000,
		types.TrancheJNRPlus: 1_800_000,
		types.TrancheEQT:     2_000_000,
	}

	if len(report.Payouts) != types.TrancheCount {
		t.Fatalf("got %d payouts, expected %d", len(report.Payouts), types.TrancheCount)
	}
	for i, id := range types.SeniorFirst() {
		payout := report.Payouts[i]
		if payout.Tranche != id {
			t.Fatalf("payout %d is %s, expected seniority order", i, payout.Tranche)
		}
		expected := math.NewInt(expectedTargets[id])
		if !payout.TargetYield.Equal(expected) {
			t.Errorf("%s target yield = %s, expected %s", id, payout.TargetYield, expected)
		}
		if !payout.Paid.Equal(expected) {
			t.Errorf("%s paid = %s, expected full target %s", id, payout.Paid, expected)
		}
		if !next.Tranche(id).AccumulatedYield.Equal(expected) {
			t.Errorf("%s accumulated yield = %s, expected %s", id, next.Tranche(id).AccumulatedYield, expected)
		}
	}

	if !report.Remaining.Equal(math.NewInt(1_030_000)) {
		t.Errorf("surplus = %s, expected 1030000", report.Remaining)
	}
}

// TestPremiumDistributionPartial starves the cascade: seniors are made whole
// before juniors see anything.
func TestPremiumDistributionPartial(t *testing.T) {
	sim := newTestSimulator()
	vault := vaultWithCapital(25_000_000, 20_000_000, 18_000_000, 15_000_000, 12_000_000, 10_000_000)

	report, next, err := sim.SimulatePremiumDistribution(vault, math.NewInt(1_500_000), testPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !report.Payouts[0].Paid.Equal(math.NewInt(750_000)) {
		t.Errorf("BTC paid = %s, expected full 750000", report.Payouts[0].Paid)
	}
	if !report.Payouts[1].Paid.Equal(math.NewInt(750_000)) {
		t.Errorf("SNR paid = %s, expected partial 750000", report.Payouts[1].Paid)
	}
	for i := 2; i < types.TrancheCount; i++ {
		if !report.Payouts[i].Paid.IsZero() {
			t.Errorf("%s paid = %s, expected nothing after premium exhausted", report.Payouts[i].Tranche, report.Payouts[i].Paid)
		}
	}
	if !report.Remaining.IsZero() {
		t.Errorf("remaining = %s, expected zero", report.Remaining)
	}
	if !next.Tranche(types.TrancheEQT).AccumulatedYield.IsZero() {
		t.Error("junior tranche accrued yield from an exhausted premium")
	}
}

// TestPremiumConservation: paid amounts plus remaining always equal the input.
func TestPremiumConservation(t *testing.T) {
	sim := newTestSimulator()
	vault := vaultWithCapital(25_000_000, 20_000_000, 18_000_000, 15_000_000, 12_000_000, 10_000_000)

	for _, premium := range []int64{1, 999_999, 8_970_000, 50_000_000} {
		report, _, err := sim.SimulatePremiumDistribution(vault, math.NewInt(premium), testPeriod)
		if err != nil {
			t.Fatalf("premium %d: unexpected error: %v", premium, err)
		}
		paid := math.ZeroInt()
		for _, payout := range report.Payouts {
			paid = paid.Add(payout.Paid)
		}
		if !paid.Add(report.Remaining).Equal(math.NewInt(premium)) {
			t.Errorf("premium %d: paid %s + remaining %s does not conserve input", premium, paid, report.Remaining)
		}
	}
}

func TestPremiumRejectsNonPositive(t *testing.T) {
	sim := newTestSimulator()
	vault := vaultWithCapital(25_000_000)

	for _, amount := range []int64{0, -1} {
		if _, _, err := sim.SimulatePremiumDistribution(vault, math.NewInt(amount), testPeriod); err == nil {
			t.Errorf("premium %d: expected error", amount)
		}
	}
}

// TestLossAbsorptionPartial drives a 15B loss into a pool holding 10B equity:
// EQT is wiped exactly, JNR+ absorbs the 5B overflow, seniors untouched.
func TestLossAbsorptionPartial(t *testing.T) {
	sim := newTestSimulator()
	vault := vaultWithCapital(25_000_000_000, 20_000_000_000, 18_000_000_000, 15_000_000_000, 12_000_000_000, 10_000_000_000)

	report, next, err := sim.SimulateLossAbsorption(vault, math.NewInt(15_000_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Insolvency {
		t.Fatal("partial loss reported insolvency")
	}
	if !report.Remaining.IsZero() {
		t.Errorf("remaining = %s, expected zero", report.Remaining)
	}

	if report.Absorptions[0].Tranche != types.TrancheEQT {
		t.Fatalf("first absorption hit %s, expected EQT", report.Absorptions[0].Tranche)
	}
	if !report.Absorptions[0].Absorbed.Equal(math.NewInt(10_000_000_000)) || !report.Absorptions[0].Wiped {
		t.Error("EQT should be wiped for its full 10B capital")
	}
	if !report.Absorptions[1].Absorbed.Equal(math.NewInt(5_000_000_000)) || report.Absorptions[1].Wiped {
		t.Error("JNR+ should absorb 5B without being wiped")
	}

	if !next.Tranche(types.TrancheEQT).Capital.IsZero() {
		t.Error("EQT capital should be exactly zero")
	}
	if !next.Tranche(types.TrancheJNRPlus).Capital.Equal(math.NewInt(7_000_000_000)) {
		t.Errorf("JNR+ capital = %s, expected 7B", next.Tranche(types.TrancheJNRPlus).Capital)
	}
	if !next.Tranche(types.TrancheBTC).Capital.Equal(math.NewInt(25_000_000_000)) {
		t.Error("senior capital touched by a junior-absorbed loss")
	}

	if len(report.WipedTranches) != 1 || report.WipedTranches[0] != types.TrancheEQT {
		t.Errorf("wiped tranches = %v, expected [EQT]", report.WipedTranches)
	}
}

// TestLossAbsorptionInsolvency pushes a loss past all capital: every tranche
// is wiped and the unabsorbable remainder is reported, not silently dropped.
func TestLossAbsorptionInsolvency(t *testing.T) {
	sim := newTestSimulator()
	vault := vaultWithCapital(25_000_000, 20_000_000, 18_000_000, 15_000_000, 12_000_000, 10_000_000)
	loss := math.NewInt(140_000_000) // pool holds 100M total

	report, next, err := sim.SimulateLossAbsorption(vault, loss)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !report.Insolvency {
		t.Fatal("expected insolvency")
	}
	if !report.Remaining.Equal(math.NewInt(40_000_000)) {
		t.Errorf("remaining = %s, expected 40000000", report.Remaining)
	}
	if len(report.WipedTranches) != types.TrancheCount {
		t.Errorf("wiped %d tranches, expected all %d", len(report.WipedTranches), types.TrancheCount)
	}
	if !next.TotalCapital().IsZero() {
		t.Errorf("total capital = %s, expected zero", next.TotalCapital())
	}
	if !next.AccumulatedLosses.Equal(loss) {
		t.Errorf("accumulated losses = %s, expected the full loss %s", next.AccumulatedLosses, loss)
	}
	if !next.Insolvent() {
		t.Error("snapshot should report the insolvent terminal state")
	}
}

// TestLossLeavesInputUntouched: cascades clone before mutating.
func TestLossLeavesInputUntouched(t *testing.T) {
	sim := newTestSimulator()
	vault := vaultWithCapital(1_000_000, 0, 0, 0, 0, 500_000)
	before := vault.TotalCapital()

	_, _, err := sim.SimulateLossAbsorption(vault, math.NewInt(700_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !vault.TotalCapital().Equal(before) {
		t.Error("loss cascade mutated the input snapshot")
	}
	if !vault.AccumulatedLosses.IsZero() {
		t.Error("loss cascade touched input accumulated losses")
	}
}

func TestLossRejectsNonPositive(t *testing.T) {
	sim := newTestSimulator()
	vault := vaultWithCapital(1_000_000)

	for _, amount := range []int64{0, -5} {
		if _, _, err := sim.SimulateLossAbsorption(vault, math.NewInt(amount)); err == nil {
			t.Errorf("loss %d: expected error", amount)
		}
	}
}

// TestScenarioFold runs a premium then a wiping loss and checks the log
// carries both steps in order.
func TestScenarioFold(t *testing.T) {
	sim := newTestSimulator()
	vault := vaultWithCapital(25_000_000, 20_000_000, 18_000_000, 15_000_000, 12_000_000, 10_000_000)

	events := []ScenarioEvent{
		{Type: EventPremium, Amount: math.NewInt(2_000_000)},
		{Type: EventLoss, Amount: math.NewInt(30_000_000)},
	}

	final, log, err := sim.SimulateScenario(vault, events, testPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("got %d log entries, expected 2", len(log))
	}
	if log[0].Type != EventPremium || log[1].Type != EventLoss {
		t.Error("log entries out of order")
	}
	if !final.Tranche(types.TrancheEQT).Capital.IsZero() {
		t.Error("EQT should be wiped by the 30M loss")
	}
	if !final.TotalCapital().Equal(math.NewInt(70_000_000)) {
		t.Errorf("final capital = %s, expected 70000000", final.TotalCapital())
	}

	// The fold never touches the starting snapshot.
	if !vault.TotalCapital().Equal(math.NewInt(100_000_000)) {
		t.Error("scenario fold mutated the starting snapshot")
	}
}

func TestScenarioEmptyIsNoOp(t *testing.T) {
	sim := newTestSimulator()
	vault := vaultWithCapital(1_000_000)

	final, log, err := sim.SimulateScenario(vault, nil, testPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(log) != 0 {
		t.Errorf("got %d log entries, expected none", len(log))
	}
	if !final.TotalCapital().Equal(vault.TotalCapital()) {
		t.Error("empty scenario changed the snapshot")
	}
}

// TestScenarioStopsOnInvalidEvent keeps everything applied before the bad
// event and reports the error.
func TestScenarioStopsOnInvalidEvent(t *testing.T) {
	sim := newTestSimulator()
	vault := vaultWithCapital(0, 0, 0, 0, 0, 10_000_000)

	events := []ScenarioEvent{
		{Type: EventLoss, Amount: math.NewInt(4_000_000)},
		{Type: EventLoss, Amount: math.ZeroInt()},
		{Type: EventLoss, Amount: math.NewInt(1_000_000)},
	}

	final, log, err := sim.SimulateScenario(vault, events, testPeriod)
	if err == nil {
		t.Fatal("expected error from zero-amount event")
	}
	if len(log) != 1 {
		t.Errorf("got %d log entries, expected 1 applied step", len(log))
	}
	if !final.Tranche(types.TrancheEQT).Capital.Equal(math.NewInt(6_000_000)) {
		t.Errorf("EQT capital = %s, expected the first loss applied only", final.Tranche(types.TrancheEQT).Capital)
	}
}

func TestVaultUtilizationAndSolvency(t *testing.T) {
	sim := newTestSimulator()

	empty := types.NewVault()
	if sim.VaultUtilization(empty) != 0 {
		t.Error("empty pool utilization should be zero")
	}
	if !sim.IsSolvent(empty) {
		t.Error("empty pool with no commitments is solvent")
	}

	vault := vaultWithCapital(10_000_000)
	vault.TotalCoverageSold = math.NewInt(5_000_000)
	if got := sim.VaultUtilization(vault); got != 0.5 {
		t.Errorf("utilization = %v, expected 0.5", got)
	}

	vault.TotalCoverageSold = math.NewInt(15_000_000)
	if sim.IsSolvent(vault) {
		t.Error("coverage above capital should report undercollateralized")
	}
}
