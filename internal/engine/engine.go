/*

Engine: the single logical owner of one pool's vault snapshot. Every mutating
operation takes the current snapshot, runs a pure computation from the
collateral or waterfall package, and swaps in the returned snapshot under the
write lock. Reads serve a cloned snapshot and may run concurrently. Nothing
here performs I/O on the decision path; persistence failures are logged, not
propagated into the financial state.

*/

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tonsurance/solvency-engine/internal/collateral"
	"github.com/tonsurance/solvency-engine/internal/logger"
	"github.com/tonsurance/solvency-engine/internal/metrics"
	"github.com/tonsurance/solvency-engine/internal/types"
	"github.com/tonsurance/solvency-engine/internal/utilization"
	"github.com/tonsurance/solvency-engine/internal/waterfall"
)

// Store persists engine outcomes. Implementations must be safe for use from
// the engine goroutine plus the reconciliation loop.
type Store interface {
	SaveSolvencySnapshot(snapshot types.SolvencySnapshot) (int64, error)
	SaveCascadeReceipt(receipt types.CascadeReceipt) (int64, error)
	NextReconciliationCycle() (int, error)
}

// Config holds the dependencies for a new Engine instance.
type Config struct {
	Collateral    *collateral.Manager
	Waterfall     *waterfall.Simulator
	Tracker       *utilization.Tracker
	Store         Store
	PremiumPeriod time.Duration
}

// Engine coordinates the solvency core for one pool.
type Engine struct {
	mu    sync.RWMutex
	vault types.Vault

	collateral    *collateral.Manager
	waterfall     *waterfall.Simulator
	tracker       *utilization.Tracker
	store         Store
	premiumPeriod time.Duration

	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewEngine creates an engine with an empty vault and validated dependencies.
func NewEngine(cfg Config) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, types.ErrEngineConfig.Wrap(err.Error())
	}

	e := &Engine{
		vault:         types.NewVault(),
		collateral:    cfg.Collateral,
		waterfall:     cfg.Waterfall,
		tracker:       cfg.Tracker,
		store:         cfg.Store,
		premiumPeriod: cfg.PremiumPeriod,
		metrics:       metrics.GetCollector(),
		logger:        logger.GetForComponent("solvency_engine"),
	}

	e.logger.Info().
		Dur("premium_period", cfg.PremiumPeriod).
		Msg("Solvency engine created")
	return e, nil
}

func validateConfig(cfg Config) error {
	if cfg.Collateral == nil {
		return fmt.Errorf("collateral manager cannot be nil")
	}
	if cfg.Waterfall == nil {
		return fmt.Errorf("waterfall simulator cannot be nil")
	}
	if cfg.Tracker == nil {
		return fmt.Errorf("utilization tracker cannot be nil")
	}
	if cfg.Store == nil {
		return fmt.Errorf("store cannot be nil")
	}
	if cfg.PremiumPeriod <= 0 {
		return fmt.Errorf("premium period must be positive")
	}
	return nil
}

// Snapshot returns a clone of the current vault. Safe for concurrent use;
// the clone never changes under the caller.
func (e *Engine) Snapshot() types.Vault {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vault.Clone()
}

// ApplyDeposit books confirmed deposited capital into a tranche.
func (e *Engine) ApplyDeposit(id types.TrancheID, amount math.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return types.ErrInvalidAmount.Wrap("deposit must be positive")
	}
	if !id.Valid() {
		return types.ErrUnknownTranche.Wrapf("tranche id %d", id)
	}

	e.mu.Lock()
	next := e.vault.Clone()
	state := next.Tranche(id)
	state.Capital = state.Capital.Add(amount)
	next.Tranches[id] = state
	e.vault = next
	e.mu.Unlock()

	e.tracker.UpdateCapital(id, amount)
	e.refreshMetrics(next)
	e.logger.Info().
		Str("tranche", id.String()).
		Str("amount", amount.String()).
		Msg("Deposit applied")
	return nil
}

// ApplyWithdrawal books a confirmed withdrawal out of a tranche. The ledger
// settles withdrawals, so one exceeding tranche capital means the cache and
// ledger have diverged; it is rejected rather than clamped.
func (e *Engine) ApplyWithdrawal(id types.TrancheID, amount math.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return types.ErrInvalidAmount.Wrap("withdrawal must be positive")
	}
	if !id.Valid() {
		return types.ErrUnknownTranche.Wrapf("tranche id %d", id)
	}

	e.mu.Lock()
	state := e.vault.Tranche(id)
	if amount.GT(state.Capital) {
		e.mu.Unlock()
		return types.ErrInvalidAmount.Wrapf("withdrawal %s exceeds tranche %s capital %s",
			amount.String(), id.String(), state.Capital.String())
	}
	next := e.vault.Clone()
	state = next.Tranche(id)
	state.Capital = state.Capital.Sub(amount)
	next.Tranches[id] = state
	e.vault = next
	e.mu.Unlock()

	e.tracker.UpdateCapital(id, amount.Neg())
	e.refreshMetrics(next)
	e.logger.Info().
		Str("tranche", id.String()).
		Str("amount", amount.String()).
		Msg("Withdrawal applied")
	return nil
}

// SyncTranche reconciles one tranche from a confirmed ledger snapshot,
// overwriting capital and allocated coverage. Accumulated yield is engine
// state and survives reconciliation.
func (e *Engine) SyncTranche(id types.TrancheID, totalCapital, coverageSold math.Int) error {
	if !id.Valid() {
		return types.ErrUnknownTranche.Wrapf("tranche id %d", id)
	}
	if totalCapital.IsNil() || totalCapital.IsNegative() || coverageSold.IsNil() || coverageSold.IsNegative() {
		return types.ErrInvalidAmount.Wrap("ledger snapshot amounts must be non-negative")
	}

	e.mu.Lock()
	next := e.vault.Clone()
	state := next.Tranche(id)
	oldAllocated := state.AllocatedCoverage
	state.Capital = totalCapital
	state.AllocatedCoverage = coverageSold
	next.Tranches[id] = state
	// Keep the pool aggregate consistent with the per-tranche overwrite.
	next.TotalCoverageSold = next.TotalCoverageSold.Sub(oldAllocated).Add(coverageSold)
	if next.TotalCoverageSold.IsNegative() {
		next.TotalCoverageSold = math.ZeroInt()
	}
	e.vault = next
	e.mu.Unlock()

	e.tracker.SyncFromChain(id, totalCapital, coverageSold)
	e.refreshMetrics(next)
	return nil
}

// CheckUnderwrite runs the underwriting decision against a fresh snapshot.
// Effective capital is recomputed on every call; the result is never cached
// across capital-changing operations.
func (e *Engine) CheckUnderwrite(proposedCoverage math.Int) (bool, collateral.Rejection) {
	snapshot := e.Snapshot()
	ok, rejection := e.collateral.CanUnderwrite(snapshot, proposedCoverage)

	result := "accepted"
	if !ok {
		result = "rejected"
	}
	e.metrics.UnderwriteChecks.WithLabelValues(result, rejection.Reason.String()).Inc()
	if !ok {
		e.logger.Info().
			Str("coverage", proposedCoverage.String()).
			Str("reason", rejection.Reason.String()).
			Str("detail", rejection.Detail).
			Msg("Underwriting rejected")
	}
	return ok, rejection
}

// AllocatePolicy checks the proposed coverage and, if accepted, books the
// policy into the vault. The check and the mutation run under one write lock
// so no capital change can slip between them.
func (e *Engine) AllocatePolicy(policy types.Policy) (bool, collateral.Rejection) {
	if policy.CoverageAmount.IsNil() || !policy.CoverageAmount.IsPositive() {
		return false, collateral.Rejection{
			Reason: collateral.ReasonInvalidAmount,
			Detail: "policy coverage must be positive",
		}
	}

	e.mu.Lock()
	ok, rejection := e.collateral.CanUnderwrite(e.vault, policy.CoverageAmount)
	if !ok {
		e.mu.Unlock()
		e.metrics.UnderwriteChecks.WithLabelValues("rejected", rejection.Reason.String()).Inc()
		return false, rejection
	}
	prev := e.vault
	next := e.collateral.AllocateCoverage(prev, policy)
	e.vault = next
	e.mu.Unlock()

	e.metrics.UnderwriteChecks.WithLabelValues("accepted", collateral.ReasonNone.String()).Inc()
	for _, id := range types.SeniorFirst() {
		delta := next.Tranche(id).AllocatedCoverage.Sub(prev.Tranche(id).AllocatedCoverage)
		if !delta.IsZero() {
			e.tracker.UpdateCoverage(id, delta)
		}
	}
	e.refreshMetrics(next)
	e.logger.Info().
		Str("policy_id", policy.PolicyID).
		Str("coverage", policy.CoverageAmount.String()).
		Msg("Policy allocated")
	return true, collateral.Rejection{Reason: collateral.ReasonNone}
}

// DistributePremium runs the senior-first premium cascade and commits the
// resulting snapshot.
func (e *Engine) DistributePremium(premium math.Int) (waterfall.PremiumReport, error) {
	e.mu.Lock()
	report, next, err := e.waterfall.SimulatePremiumDistribution(e.vault, premium, e.premiumPeriod)
	if err != nil {
		e.mu.Unlock()
		return waterfall.PremiumReport{}, err
	}
	e.vault = next
	e.mu.Unlock()

	distributed := premium.Sub(report.Remaining)
	e.metrics.PremiumsDistributed.Add(intToFloat(distributed))
	e.metrics.PremiumSurplus.Add(intToFloat(report.Remaining))
	e.persistPremiumReceipt(report)
	e.refreshMetrics(next)
	return report, nil
}

// AbsorbLoss runs the junior-first loss cascade for a confirmed claim payout
// and commits the resulting snapshot.
func (e *Engine) AbsorbLoss(loss math.Int) (waterfall.LossReport, error) {
	e.mu.Lock()
	report, next, err := e.waterfall.SimulateLossAbsorption(e.vault, loss)
	if err != nil {
		e.mu.Unlock()
		return waterfall.LossReport{}, err
	}
	e.vault = next
	e.mu.Unlock()

	for _, absorption := range report.Absorptions {
		if absorption.Absorbed.IsPositive() {
			e.tracker.UpdateCapital(absorption.Tranche, absorption.Absorbed.Neg())
		}
	}
	for _, id := range report.WipedTranches {
		e.metrics.TranchesWiped.WithLabelValues(id.String()).Inc()
	}
	e.metrics.LossesAbsorbed.Add(intToFloat(loss.Sub(report.Remaining)))
	e.metrics.LossesUnabsorbed.Add(intToFloat(report.Remaining))
	e.persistLossReceipt(report)
	e.refreshMetrics(next)
	return report, nil
}

// ReplayScenario folds events over a clone of the current snapshot without
// committing anything. Deterministic: replaying the same events against the
// same snapshot always yields the same log.
func (e *Engine) ReplayScenario(events []waterfall.ScenarioEvent) (types.Vault, []waterfall.ScenarioLogEntry, error) {
	return e.waterfall.SimulateScenario(e.Snapshot(), events, e.premiumPeriod)
}

// TrancheUtilizations returns the per-tranche utilization view for the
// current snapshot.
func (e *Engine) TrancheUtilizations() []collateral.TrancheUtilizationReport {
	return e.collateral.AllTrancheUtilizations(e.Snapshot())
}

// GenerateReport renders the operational solvency summary.
func (e *Engine) GenerateReport() string {
	return e.waterfall.GenerateReport(e.Snapshot())
}

// EffectiveCapital recomputes risk-weighted capacity for the current
// snapshot.
func (e *Engine) EffectiveCapital() math.Int {
	return e.collateral.EffectiveCapital(e.Snapshot())
}

// IsSolvent reports pool solvency for the current snapshot.
func (e *Engine) IsSolvent() bool {
	return e.waterfall.IsSolvent(e.Snapshot())
}

// RunLoop persists a solvency snapshot every interval until the context is
// cancelled. The first cycle runs immediately.
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().Dur("interval", interval).Msg("Starting solvency reconciliation loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.runCycle()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Solvency loop stopped due to context cancellation")
			return
		case <-ticker.C:
			e.runCycle()
		}
	}
}

// runCycle persists one solvency snapshot and refreshes the dashboard state.
func (e *Engine) runCycle() {
	cycle, err := e.store.NextReconciliationCycle()
	if err != nil {
		e.logger.Error().Err(err).Msg("Cycle aborted: failed to advance reconciliation counter")
		return
	}
	cycleLogger := e.logger.With().Int("cycle", cycle).Logger()

	snapshot := e.Snapshot()
	record := types.SolvencySnapshot{
		CycleNumber:      cycle,
		Timestamp:        time.Now().UTC(),
		TotalCapital:     snapshot.TotalCapital(),
		EffectiveCapital: e.collateral.EffectiveCapital(snapshot),
		CoverageSold:     snapshot.TotalCoverageSold,
		AccumulatedLoss:  snapshot.AccumulatedLosses,
		VaultUtilization: e.waterfall.VaultUtilization(snapshot),
		Solvent:          e.waterfall.IsSolvent(snapshot),
		ActivePolicies:   len(snapshot.ActivePolicies),
		Tranches:         snapshot,
	}
	if _, err := e.store.SaveSolvencySnapshot(record); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to persist solvency snapshot")
		return
	}
	e.refreshMetrics(snapshot)

	cycleLogger.Info().
		Str("total_capital", record.TotalCapital.String()).
		Str("effective_capital", record.EffectiveCapital.String()).
		Str("coverage_sold", record.CoverageSold.String()).
		Bool("solvent", record.Solvent).
		Msg("Solvency snapshot persisted")
}

func (e *Engine) persistPremiumReceipt(report waterfall.PremiumReport) {
	deltas := make(map[types.TrancheID]math.Int, len(report.Payouts))
	for _, payout := range report.Payouts {
		deltas[payout.Tranche] = payout.Paid
	}
	receipt := types.CascadeReceipt{
		ReceiptID:     uuid.New().String(),
		Kind:          types.CascadePremium,
		Timestamp:     time.Now().UTC(),
		Amount:        report.Premium,
		Remaining:     report.Remaining,
		TrancheDeltas: deltas,
	}
	if _, err := e.store.SaveCascadeReceipt(receipt); err != nil {
		e.logger.Error().Err(err).Str("receipt_id", receipt.ReceiptID).Msg("Failed to persist premium receipt")
	}
}

func (e *Engine) persistLossReceipt(report waterfall.LossReport) {
	deltas := make(map[types.TrancheID]math.Int, len(report.Absorptions))
	for _, absorption := range report.Absorptions {
		deltas[absorption.Tranche] = absorption.Absorbed
	}
	receipt := types.CascadeReceipt{
		ReceiptID:     uuid.New().String(),
		Kind:          types.CascadeLoss,
		Timestamp:     time.Now().UTC(),
		Amount:        report.Loss,
		Remaining:     report.Remaining,
		TrancheDeltas: deltas,
		WipedTranches: report.WipedTranches,
		Insolvency:    report.Insolvency,
	}
	if _, err := e.store.SaveCascadeReceipt(receipt); err != nil {
		e.logger.Error().Err(err).Str("receipt_id", receipt.ReceiptID).Msg("Failed to persist loss receipt")
	}
}

// refreshMetrics publishes pool and tranche gauges from a snapshot.
func (e *Engine) refreshMetrics(snapshot types.Vault) {
	e.metrics.TotalCapital.Set(intToFloat(snapshot.TotalCapital()))
	e.metrics.EffectiveCapital.Set(intToFloat(e.collateral.EffectiveCapital(snapshot)))
	e.metrics.CoverageSold.Set(intToFloat(snapshot.TotalCoverageSold))
	e.metrics.VaultUtilization.Set(e.waterfall.VaultUtilization(snapshot))
	if snapshot.Insolvent() {
		e.metrics.Insolvent.Set(1)
	} else {
		e.metrics.Insolvent.Set(0)
	}
	for _, report := range e.collateral.AllTrancheUtilizations(snapshot) {
		label := report.Tranche.String()
		e.metrics.TrancheCapital.WithLabelValues(label).Set(intToFloat(report.Capital))
		e.metrics.TrancheUtilization.WithLabelValues(label).Set(report.Utilization)
	}
}

// intToFloat converts an amount for gauge export. Precision loss above 2^53
// is acceptable for monitoring.
func intToFloat(amount math.Int) float64 {
	if amount.IsNil() {
		return 0
	}
	f, err := math.LegacyNewDecFromInt(amount).Float64()
	if err != nil {
		return 0
	}
	return f
}
