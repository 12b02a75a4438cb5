/*

Ledger feed: NATS subscriber for the confirmed settlement stream. The engine
never initiates money movement; deposits, withdrawals, premiums and claim
payouts arrive here as already-settled facts and are applied to the in-memory
snapshot. A malformed message is logged and dropped, never retried into the
vault.

*/

package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tonsurance/solvency-engine/internal/engine"
	"github.com/tonsurance/solvency-engine/internal/logger"
	"github.com/tonsurance/solvency-engine/internal/types"
)

// Subjects on the confirmed ledger stream.
const (
	SubjectTrancheSync      = "ledger.tranche.sync"
	SubjectDepositConfirmed = "ledger.capital.deposit"
	SubjectWithdrawSettled  = "ledger.capital.withdraw"
	SubjectPremiumConfirmed = "ledger.premium.confirmed"
	SubjectClaimPayout      = "ledger.claim.payout"
	SubjectPolicyBound      = "ledger.policy.bound"
)

// TrancheSyncEvent carries an authoritative per-tranche ledger snapshot.
type TrancheSyncEvent struct {
	Tranche      types.TrancheID `json:"tranche"`
	TotalCapital math.Int        `json:"total_capital"`
	CoverageSold math.Int        `json:"coverage_sold"`
}

// CapitalEvent is one settled deposit or withdrawal.
type CapitalEvent struct {
	Tranche types.TrancheID `json:"tranche"`
	Amount  math.Int        `json:"amount"`
}

// PremiumEvent is one confirmed premium payment ready for distribution.
type PremiumEvent struct {
	PolicyID string   `json:"policy_id"`
	Amount   math.Int `json:"amount"`
}

// ClaimEvent is one settled claim payout to absorb as a loss.
type ClaimEvent struct {
	PolicyID string   `json:"policy_id"`
	Amount   math.Int `json:"amount"`
}

// PolicyEvent is one policy bound by the issuance side, to be booked against
// pool capacity.
type PolicyEvent struct {
	PolicyID       string   `json:"policy_id"`
	CoverageAmount math.Int `json:"coverage_amount"`
	PremiumPaid    math.Int `json:"premium_paid"`
}

// Feed subscribes to the ledger stream and dispatches events into the engine.
type Feed struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	engine *engine.Engine
	logger zerolog.Logger
}

// NewFeed connects to NATS. Reconnects forever; the cached vault serves reads
// while the feed is down.
func NewFeed(url string, eng *engine.Engine) (*Feed, error) {
	conn, err := nats.Connect(url,
		nats.Name("solvency-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Feed{
		conn:   conn,
		engine: eng,
		logger: logger.GetForComponent("ledger_feed"),
	}, nil
}

// Subscribe attaches handlers for all ledger subjects.
func (f *Feed) Subscribe() error {
	handlers := map[string]nats.MsgHandler{
		SubjectTrancheSync:      f.wrap(f.handleTrancheSync),
		SubjectDepositConfirmed: f.wrap(f.handleDeposit),
		SubjectWithdrawSettled:  f.wrap(f.handleWithdrawal),
		SubjectPremiumConfirmed: f.wrap(f.handlePremium),
		SubjectClaimPayout:      f.wrap(f.handleClaim),
		SubjectPolicyBound:      f.wrap(f.handlePolicy),
	}
	for subject, handler := range handlers {
		sub, err := f.conn.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		f.subs = append(f.subs, sub)
	}
	f.logger.Info().Int("subjects", len(handlers)).Msg("Ledger feed subscribed")
	return nil
}

// Close unsubscribes and drops the connection.
func (f *Feed) Close() {
	for _, sub := range f.subs {
		if err := sub.Unsubscribe(); err != nil {
			f.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("Failed to unsubscribe")
		}
	}
	f.conn.Close()
	f.logger.Info().Msg("Ledger feed closed")
}

func (f *Feed) wrap(handler func(data []byte) error) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if err := handler(msg.Data); err != nil {
			f.logger.Error().
				Err(err).
				Str("subject", msg.Subject).
				Msg("Failed to handle ledger event")
		}
	}
}

func (f *Feed) handleTrancheSync(data []byte) error {
	ev, err := decode[TrancheSyncEvent](data)
	if err != nil {
		return err
	}
	return f.engine.SyncTranche(ev.Tranche, ev.TotalCapital, ev.CoverageSold)
}

func (f *Feed) handleDeposit(data []byte) error {
	ev, err := decode[CapitalEvent](data)
	if err != nil {
		return err
	}
	return f.engine.ApplyDeposit(ev.Tranche, ev.Amount)
}

func (f *Feed) handleWithdrawal(data []byte) error {
	ev, err := decode[CapitalEvent](data)
	if err != nil {
		return err
	}
	return f.engine.ApplyWithdrawal(ev.Tranche, ev.Amount)
}

func (f *Feed) handlePremium(data []byte) error {
	ev, err := decode[PremiumEvent](data)
	if err != nil {
		return err
	}
	report, err := f.engine.DistributePremium(ev.Amount)
	if err != nil {
		return err
	}
	f.logger.Info().
		Str("policy_id", ev.PolicyID).
		Str("premium", ev.Amount.String()).
		Str("surplus", report.Remaining.String()).
		Msg("Premium distributed")
	return nil
}

func (f *Feed) handleClaim(data []byte) error {
	ev, err := decode[ClaimEvent](data)
	if err != nil {
		return err
	}
	report, err := f.engine.AbsorbLoss(ev.Amount)
	if err != nil {
		return err
	}
	if report.Insolvency {
		f.logger.Error().
			Str("policy_id", ev.PolicyID).
			Str("unabsorbed", report.Remaining.String()).
			Msg("Claim payout exceeded all tranche capital")
	} else {
		f.logger.Info().
			Str("policy_id", ev.PolicyID).
			Str("loss", ev.Amount.String()).
			Int("wiped_tranches", len(report.WipedTranches)).
			Msg("Claim payout absorbed")
	}
	return nil
}

func (f *Feed) handlePolicy(data []byte) error {
	ev, err := decode[PolicyEvent](data)
	if err != nil {
		return err
	}
	ok, rejection := f.engine.AllocatePolicy(types.Policy{
		PolicyID:       ev.PolicyID,
		CoverageAmount: ev.CoverageAmount,
		PremiumPaid:    ev.PremiumPaid,
		Status:         "active",
	})
	if !ok {
		// The issuance side bound a policy the pool cannot carry. Surface it
		// loudly; the businesses upstream must reconcile.
		f.logger.Error().
			Str("policy_id", ev.PolicyID).
			Str("coverage", ev.CoverageAmount.String()).
			Str("reason", rejection.Reason.String()).
			Str("detail", rejection.Detail).
			Msg("Bound policy rejected by capacity check")
	}
	return nil
}

func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, types.ErrFeedDecode.Wrap(err.Error())
	}
	return v, nil
}
