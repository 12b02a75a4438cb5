/*

Waterfall simulator: the two opposite cascades over the tranche stack.
Premiums pay the most protected (senior) capital first, matching its
low-risk/low-return profile. Losses hit equity first: the junior tranches
earn the highest yield precisely because they absorb first losses. Every
operation takes an immutable snapshot and returns a new one, so scenario
replay is deterministic.

*/

package waterfall

import (
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/tonsurance/solvency-engine/internal/curve"
	"github.com/tonsurance/solvency-engine/internal/logger"
	"github.com/tonsurance/solvency-engine/internal/types"
)

const secondsPerYear = 365 * 24 * 3600

// PremiumPayout is one tranche's slice of a premium distribution.
type PremiumPayout struct {
	Tranche     types.TrancheID `json:"tranche"`
	Utilization float64         `json:"utilization"`
	APY         float64         `json:"apy"`
	TargetYield math.Int        `json:"target_yield"`
	Paid        math.Int        `json:"paid"`
}

// PremiumReport is the outcome of one premium distribution. Paid amounts plus
// Remaining always sum to the premium input.
type PremiumReport struct {
	Premium   math.Int        `json:"premium"`
	Payouts   []PremiumPayout `json:"payouts"`
	Remaining math.Int        `json:"remaining"` // Surplus after all six tranches hit target yield; not an error
}

// LossAbsorption is one tranche's share of an absorbed loss.
type LossAbsorption struct {
	Tranche         types.TrancheID `json:"tranche"`
	Absorbed        math.Int        `json:"absorbed"`
	CapitalBefore   math.Int        `json:"capital_before"`
	CapitalAfter    math.Int        `json:"capital_after"`
	Wiped           bool            `json:"wiped"`
}

// LossReport is the outcome of one loss cascade. Absorbed amounts plus
// Remaining always sum to the loss input; Remaining > 0 is the insolvency
// signal.
type LossReport struct {
	Loss          math.Int          `json:"loss"`
	Absorptions   []LossAbsorption  `json:"absorptions"`
	WipedTranches []types.TrancheID `json:"wiped_tranches"`
	Remaining     math.Int          `json:"remaining"`
	Insolvency    bool              `json:"insolvency"`
}

// EventType tags a scenario event.
type EventType string

const (
	EventPremium EventType = "premium"
	EventLoss    EventType = "loss"
)

// ScenarioEvent is one step of a replayable scenario.
type ScenarioEvent struct {
	Type   EventType `json:"type"`
	Amount math.Int  `json:"amount"`
}

// ScenarioLogEntry records the outcome of one folded scenario event.
type ScenarioLogEntry struct {
	Step          int       `json:"step"`
	Type          EventType `json:"type"`
	Amount        math.Int  `json:"amount"`
	Remaining     math.Int  `json:"remaining"`
	TotalCapital  math.Int  `json:"total_capital"`
	Insolvency    bool      `json:"insolvency"`
}

// Simulator executes cascades against vault snapshots.
type Simulator struct {
	curve   *curve.Model
	configs map[types.TrancheID]types.TrancheConfig
	logger  zerolog.Logger
}

// NewSimulator builds a waterfall simulator over a curve model and its
// tranche table.
func NewSimulator(model *curve.Model, configs map[types.TrancheID]types.TrancheConfig) *Simulator {
	return &Simulator{
		curve:   model,
		configs: configs,
		logger:  logger.GetForComponent("waterfall_simulator"),
	}
}

// SimulatePremiumDistribution walks the tranches senior-first and pays each
// its target yield, capital x APY(utilization) x period/year, until the
// premium runs out. The input snapshot is untouched; the returned snapshot
// carries the accrued yield. Premium must be positive.
func (s *Simulator) SimulatePremiumDistribution(vault types.Vault, premium math.Int, period time.Duration) (PremiumReport, types.Vault, error) {
	if premium.IsNil() || !premium.IsPositive() {
		return PremiumReport{}, vault, types.ErrInvalidAmount.Wrap("premium must be positive")
	}

	next := vault.Clone()
	yearFraction := math.LegacyNewDec(int64(period / time.Second)).QuoInt64(secondsPerYear)

	remaining := premium
	payouts := make([]PremiumPayout, 0, types.TrancheCount)
	for _, id := range types.SeniorFirst() {
		cfg := s.configs[id]
		state := next.Tranche(id)

		utilization := state.Utilization(cfg)
		apy := s.curve.APY(id, utilization)
		targetYield := targetYieldAmount(state.Capital, apy, yearFraction)

		paid := math.MinInt(remaining, targetYield)
		if paid.IsNegative() {
			paid = math.ZeroInt()
		}
		state.AccumulatedYield = state.AccumulatedYield.Add(paid)
		next.Tranches[id] = state
		remaining = remaining.Sub(paid)

		payouts = append(payouts, PremiumPayout{
			Tranche:     id,
			Utilization: utilization,
			APY:         apy,
			TargetYield: targetYield,
			Paid:        paid,
		})
	}

	report := PremiumReport{
		Premium:   premium,
		Payouts:   payouts,
		Remaining: remaining,
	}

	s.logger.Debug().
		Str("premium", premium.String()).
		Str("remaining", remaining.String()).
		Msg("Premium distribution simulated")

	return report, next, nil
}

// SimulateLossAbsorption walks the tranches junior-first, each absorbing up
// to its full capital, clamped at zero, and forwards the rest up the stack.
// A tranche reduced to exactly zero is recorded as wiped. Whatever survives
// all six tranches is the insolvency remainder. Loss must be positive.
func (s *Simulator) SimulateLossAbsorption(vault types.Vault, loss math.Int) (LossReport, types.Vault, error) {
	if loss.IsNil() || !loss.IsPositive() {
		return LossReport{}, vault, types.ErrInvalidAmount.Wrap("loss must be positive")
	}

	next := vault.Clone()
	next.AccumulatedLosses = next.AccumulatedLosses.Add(loss)

	remaining := loss
	absorptions := make([]LossAbsorption, 0, types.TrancheCount)
	wiped := make([]types.TrancheID, 0)
	for _, id := range types.JuniorFirst() {
		state := next.Tranche(id)
		before := state.Capital

		absorbed := math.MinInt(remaining, before)
		if absorbed.IsNegative() {
			absorbed = math.ZeroInt()
		}
		state.Capital = before.Sub(absorbed)
		next.Tranches[id] = state
		remaining = remaining.Sub(absorbed)

		isWiped := absorbed.IsPositive() && state.Capital.IsZero()
		if isWiped {
			wiped = append(wiped, id)
		}
		absorptions = append(absorptions, LossAbsorption{
			Tranche:       id,
			Absorbed:      absorbed,
			CapitalBefore: before,
			CapitalAfter:  state.Capital,
			Wiped:         isWiped,
		})

		if remaining.IsZero() {
			break
		}
	}

	report := LossReport{
		Loss:          loss,
		Absorptions:   absorptions,
		WipedTranches: wiped,
		Remaining:     remaining,
		Insolvency:    remaining.IsPositive(),
	}

	if report.Insolvency {
		s.logger.Error().
			Str("loss", loss.String()).
			Str("unabsorbed", remaining.String()).
			Msg("Loss cascade exhausted all tranche capital: pool is insolvent")
	} else {
		s.logger.Debug().
			Str("loss", loss.String()).
			Int("wiped_tranches", len(wiped)).
			Msg("Loss absorption simulated")
	}

	return report, next, nil
}

// SimulateScenario folds a sequence of premium and loss events through the
// two cascades in order. An empty sequence is a no-op. The fold stops on the
// first invalid event; everything applied up to that point is returned.
func (s *Simulator) SimulateScenario(vault types.Vault, events []ScenarioEvent, period time.Duration) (types.Vault, []ScenarioLogEntry, error) {
	current := vault
	log := make([]ScenarioLogEntry, 0, len(events))
	for i, ev := range events {
		var (
			remaining  math.Int
			insolvency bool
			err        error
		)
		switch ev.Type {
		case EventPremium:
			var report PremiumReport
			report, current, err = s.SimulatePremiumDistribution(current, ev.Amount, period)
			if err == nil {
				remaining = report.Remaining
			}
		case EventLoss:
			var report LossReport
			report, current, err = s.SimulateLossAbsorption(current, ev.Amount)
			if err == nil {
				remaining = report.Remaining
				insolvency = report.Insolvency
			}
		default:
			err = types.ErrInvalidAmount.Wrapf("unknown scenario event type %q", ev.Type)
		}
		if err != nil {
			return current, log, err
		}
		log = append(log, ScenarioLogEntry{
			Step:         i,
			Type:         ev.Type,
			Amount:       ev.Amount,
			Remaining:    remaining,
			TotalCapital: current.TotalCapital(),
			Insolvency:   insolvency,
		})
	}
	return current, log, nil
}

// VaultUtilization reports total coverage sold over total capital, zero for
// an empty pool.
func (s *Simulator) VaultUtilization(vault types.Vault) float64 {
	total := vault.TotalCapital()
	if !total.IsPositive() {
		return 0
	}
	ratio, err := math.LegacyNewDecFromInt(vault.TotalCoverageSold).
		Quo(math.LegacyNewDecFromInt(total)).Float64()
	if err != nil {
		return 0
	}
	return ratio
}

// IsSolvent reports whether total capital still covers all outstanding
// coverage commitments.
func (s *Simulator) IsSolvent(vault types.Vault) bool {
	return vault.TotalCapital().GTE(vault.TotalCoverageSold)
}

// targetYieldAmount computes capital x (apy/100) x yearFraction, truncated to
// an integer amount.
func targetYieldAmount(capital math.Int, apyPercent float64, yearFraction math.LegacyDec) math.Int {
	if !capital.IsPositive() {
		return math.ZeroInt()
	}
	// APY arrives as a curve evaluation; round to 8 decimals before entering
	// exact decimal math.
	apy := math.LegacyMustNewDecFromStr(formatPercent(apyPercent))
	return math.LegacyNewDecFromInt(capital).
		Mul(apy).
		QuoInt64(100).
		Mul(yearFraction).
		TruncateInt()
}

// formatPercent renders a rate with fixed precision for exact decimal
// parsing.
func formatPercent(p float64) string {
	return fmt.Sprintf("%.8f", p)
}
