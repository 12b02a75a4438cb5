/*

Cached per-tranche utilization view, synchronized from the external ledger.
Reads are served from the cache and never block on the ledger; staleness is
bounded by the caller's reconciliation cadence, not by this component.

*/

package utilization

import (
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/tonsurance/solvency-engine/internal/curve"
	"github.com/tonsurance/solvency-engine/internal/logger"
	"github.com/tonsurance/solvency-engine/internal/metrics"
	"github.com/tonsurance/solvency-engine/internal/types"
)

// Record is the cached view of one tranche.
type Record struct {
	Tranche          types.TrancheID `json:"tranche"`
	TotalCapital     math.Int        `json:"total_capital"`
	CoverageSold     math.Int        `json:"coverage_sold"`
	UtilizationRatio float64         `json:"utilization_ratio"`
	CurrentAPY       float64         `json:"current_apy"`
	LastUpdated      time.Time       `json:"last_updated"`
}

// Tracker maintains one cached record per tranche.
type Tracker struct {
	mu      sync.RWMutex
	records map[types.TrancheID]Record

	curve                 *curve.Model
	configs               map[types.TrancheID]types.TrancheConfig
	maxTrancheUtilization float64
	logger                zerolog.Logger
}

// NewTracker builds an empty tracker. Records appear on first sync or delta.
func NewTracker(model *curve.Model, configs map[types.TrancheID]types.TrancheConfig, maxTrancheUtilization float64) *Tracker {
	return &Tracker{
		records:               make(map[types.TrancheID]Record, types.TrancheCount),
		curve:                 model,
		configs:               configs,
		maxTrancheUtilization: maxTrancheUtilization,
		logger:                logger.GetForComponent("utilization_tracker"),
	}
}

// SyncFromChain unconditionally overwrites the cached record from a confirmed
// ledger snapshot and recomputes ratio and APY. This is the authoritative
// reconciliation path.
func (t *Tracker) SyncFromChain(id types.TrancheID, totalCapital, coverageSold math.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[id] = t.buildRecord(id, totalCapital, coverageSold)
	t.logger.Debug().
		Str("tranche", id.String()).
		Str("capital", totalCapital.String()).
		Str("coverage", coverageSold.String()).
		Msg("Tranche record synced from ledger")
}

// UpdateCapital applies a signed capital delta to the cached record: the
// optimistic local update between reconciliations, avoiding a ledger
// round-trip per operation. Capital floors at zero.
func (t *Tracker) UpdateCapital(id types.TrancheID, delta math.Int) {
	t.applyDelta(id, delta, math.ZeroInt())
}

// UpdateCoverage applies a signed coverage delta to the cached record.
// Coverage floors at zero.
func (t *Tracker) UpdateCoverage(id types.TrancheID, delta math.Int) {
	t.applyDelta(id, math.ZeroInt(), delta)
}

func (t *Tracker) applyDelta(id types.TrancheID, capitalDelta, coverageDelta math.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		rec = t.buildRecord(id, math.ZeroInt(), math.ZeroInt())
	}
	capital := rec.TotalCapital.Add(capitalDelta)
	if capital.IsNegative() {
		capital = math.ZeroInt()
	}
	coverage := rec.CoverageSold.Add(coverageDelta)
	if coverage.IsNegative() {
		coverage = math.ZeroInt()
	}
	t.records[id] = t.buildRecord(id, capital, coverage)
}

// Get returns the cached record for a tranche. The boolean reports a cache
// hit; a miss means the tranche has not been synced since the last
// invalidation.
func (t *Tracker) Get(id types.TrancheID) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	return rec, ok
}

// Records returns all cached records in seniority order.
func (t *Tracker) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.records))
	for _, id := range types.SeniorFirst() {
		if rec, ok := t.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// CanAcceptCoverage reports whether the tranche can take amount more coverage
// without crossing the per-tranche utilization ceiling on its risk-weighted
// capacity. A tranche with no cached capital accepts nothing.
func (t *Tracker) CanAcceptCoverage(id types.TrancheID, amount math.Int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]
	if !ok {
		return false
	}
	cfg := t.config(id)
	capacity := types.RiskWeightedCapacity(rec.TotalCapital, cfg.RiskWeight)
	if !capacity.IsPositive() {
		return false
	}
	projected := math.LegacyNewDecFromInt(rec.CoverageSold.Add(amount)).
		Quo(math.LegacyNewDecFromInt(capacity))
	ceiling := math.LegacyMustNewDecFromStr(formatRatio(t.maxTrancheUtilization))
	return projected.LTE(ceiling)
}

// AvailableCapacity returns how much additional coverage the tranche can
// accept: max(0, capital x ceiling - coverage sold).
func (t *Tracker) AvailableCapacity(id types.TrancheID) math.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]
	if !ok {
		return math.ZeroInt()
	}
	ceiling := math.LegacyMustNewDecFromStr(formatRatio(t.maxTrancheUtilization))
	headroom := math.LegacyNewDecFromInt(rec.TotalCapital).Mul(ceiling).TruncateInt().Sub(rec.CoverageSold)
	if headroom.IsNegative() {
		return math.ZeroInt()
	}
	return headroom
}

// Invalidate discards the cached record for one tranche.
func (t *Tracker) Invalidate(id types.TrancheID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
	t.logger.Debug().Str("tranche", id.String()).Msg("Tranche cache invalidated")
}

// Clear discards all cached records.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[types.TrancheID]Record, types.TrancheCount)
	t.logger.Debug().Msg("All tranche caches cleared")
}

// buildRecord recomputes the derived fields. Caller holds the lock.
func (t *Tracker) buildRecord(id types.TrancheID, capital, coverage math.Int) Record {
	cfg := t.config(id)
	state := types.TrancheState{
		Capital:           capital,
		AllocatedCoverage: coverage,
		AccumulatedYield:  math.ZeroInt(),
	}
	ratio := state.Utilization(cfg)
	apy := t.curve.APY(id, ratio)
	metrics.GetCollector().TrancheAPY.WithLabelValues(id.String()).Set(apy)
	return Record{
		Tranche:          id,
		TotalCapital:     capital,
		CoverageSold:     coverage,
		UtilizationRatio: ratio,
		CurrentAPY:       apy,
		LastUpdated:      time.Now().UTC(),
	}
}

func (t *Tracker) config(id types.TrancheID) types.TrancheConfig {
	cfg, ok := t.configs[id]
	if !ok {
		panic(types.ErrUnknownTranche.Wrapf("tranche id %d", id))
	}
	return cfg
}

func formatRatio(r float64) string {
	return fmt.Sprintf("%.8f", r)
}
