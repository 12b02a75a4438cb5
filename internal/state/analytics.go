package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tonsurance/solvency-engine/internal/types"
)

// PoolSummary represents high-level pool statistics from the latest persisted
// snapshot.
type PoolSummary struct {
	TotalCapital     string  `json:"total_capital"`
	EffectiveCapital string  `json:"effective_capital"`
	CoverageSold     string  `json:"coverage_sold"`
	VaultUtilization float64 `json:"vault_utilization"`
	Solvent          bool    `json:"solvent"`
	TotalCycles      int     `json:"total_cycles"`
	LastUpdated      string  `json:"last_updated"`
}

// CascadeMetrics represents aggregated cascade outcomes across all receipts.
type CascadeMetrics struct {
	PremiumCascades   int    `json:"premium_cascades"`
	LossCascades      int    `json:"loss_cascades"`
	InsolvencyEvents  int    `json:"insolvency_events"`
	TotalPremiumIn    string `json:"total_premium_in"`
	TotalPremiumOver  string `json:"total_premium_surplus"`
	TotalLossIn       string `json:"total_loss_in"`
	TotalLossOverflow string `json:"total_loss_unabsorbed"`
}

// GetPoolSummary retrieves high-level pool statistics.
func GetPoolSummary() (*PoolSummary, error) {
	if DB == nil {
		return nil, types.ErrStoreNotReady.Wrap("database not initialized")
	}

	summary := &PoolSummary{}

	query := `
		SELECT
			total_capital, effective_capital, coverage_sold,
			vault_utilization, solvent, snapshot_timestamp
		FROM solvency_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT 1
	`

	var lastUpdated sql.NullString
	err := DB.QueryRow(query).Scan(
		&summary.TotalCapital, &summary.EffectiveCapital, &summary.CoverageSold,
		&summary.VaultUtilization, &summary.Solvent, &lastUpdated,
	)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get latest solvency snapshot: %w", err)
	}

	if lastUpdated.Valid {
		summary.LastUpdated = lastUpdated.String
	}

	err = DB.QueryRow("SELECT COUNT(*) FROM solvency_snapshots").Scan(&summary.TotalCycles)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get total cycle count")
	}

	log.Info().Str("totalCapital", summary.TotalCapital).Int("totalCycles", summary.TotalCycles).Msg("Retrieved pool summary")
	return summary, nil
}

// GetCascadeMetrics retrieves aggregated cascade outcomes.
func GetCascadeMetrics() (*CascadeMetrics, error) {
	if DB == nil {
		return nil, types.ErrStoreNotReady.Wrap("database not initialized")
	}

	metrics := &CascadeMetrics{}

	query := `
		SELECT
			COUNT(CASE WHEN kind = 'premium' THEN 1 END) as premium_cascades,
			COUNT(CASE WHEN kind = 'loss' THEN 1 END) as loss_cascades,
			COUNT(CASE WHEN insolvency THEN 1 END) as insolvency_events,
			COALESCE(SUM(CASE WHEN kind = 'premium' THEN amount END), 0)::TEXT as total_premium_in,
			COALESCE(SUM(CASE WHEN kind = 'premium' THEN remaining END), 0)::TEXT as total_premium_surplus,
			COALESCE(SUM(CASE WHEN kind = 'loss' THEN amount END), 0)::TEXT as total_loss_in,
			COALESCE(SUM(CASE WHEN kind = 'loss' THEN remaining END), 0)::TEXT as total_loss_unabsorbed
		FROM cascade_receipts
	`

	err := DB.QueryRow(query).Scan(
		&metrics.PremiumCascades,
		&metrics.LossCascades,
		&metrics.InsolvencyEvents,
		&metrics.TotalPremiumIn,
		&metrics.TotalPremiumOver,
		&metrics.TotalLossIn,
		&metrics.TotalLossOverflow,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get cascade metrics: %w", err)
	}

	log.Info().
		Int("premiumCascades", metrics.PremiumCascades).
		Int("lossCascades", metrics.LossCascades).
		Int("insolvencyEvents", metrics.InsolvencyEvents).
		Msg("Retrieved cascade metrics")

	return metrics, nil
}
