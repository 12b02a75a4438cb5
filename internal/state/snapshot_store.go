// ./internal/state/snapshot_store.go
package state

import (
	"encoding/json"
	"fmt"

	"cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/tonsurance/solvency-engine/internal/types"
)

// SaveSolvencySnapshot saves one reconciliation-cycle solvency record.
func SaveSolvencySnapshot(snapshot types.SolvencySnapshot) (int64, error) {
	if DB == nil {
		return 0, types.ErrStoreNotReady.Wrap("database not initialized")
	}

	tranchesJSON, err := json.Marshal(snapshot.Tranches)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tranches: %w", err)
	}

	query := `
		INSERT INTO solvency_snapshots (
			cycle_number, snapshot_timestamp,
			total_capital, effective_capital, coverage_sold, accumulated_losses,
			vault_utilization, solvent, active_policies, tranches
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.CycleNumber, snapshot.Timestamp,
		snapshot.TotalCapital.String(), snapshot.EffectiveCapital.String(),
		snapshot.CoverageSold.String(), snapshot.AccumulatedLoss.String(),
		snapshot.VaultUtilization, snapshot.Solvent, snapshot.ActivePolicies,
		tranchesJSON,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save solvency snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("total_capital", snapshot.TotalCapital.String()).
		Bool("solvent", snapshot.Solvent).
		Msg("Solvency snapshot saved to database")

	return snapshotID, nil
}

// GetRecentSnapshots returns the most recent solvency snapshots, newest first.
func GetRecentSnapshots(limit int) ([]types.SolvencySnapshot, error) {
	if DB == nil {
		return nil, types.ErrStoreNotReady.Wrap("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT snapshot_id, cycle_number, snapshot_timestamp,
		       total_capital, effective_capital, coverage_sold, accumulated_losses,
		       vault_utilization, solvent, active_policies, tranches
		FROM solvency_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query solvency snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.SolvencySnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate solvency snapshots: %w", err)
	}
	return snapshots, nil
}

// GetSnapshotByID retrieves one solvency snapshot.
func GetSnapshotByID(snapshotID int64) (types.SolvencySnapshot, error) {
	if DB == nil {
		return types.SolvencySnapshot{}, types.ErrStoreNotReady.Wrap("database not initialized")
	}

	query := `
		SELECT snapshot_id, cycle_number, snapshot_timestamp,
		       total_capital, effective_capital, coverage_sold, accumulated_losses,
		       vault_utilization, solvent, active_policies, tranches
		FROM solvency_snapshots
		WHERE snapshot_id = $1;
	`
	return scanSnapshot(DB.QueryRow(query, snapshotID).Scan)
}

func scanSnapshot(scan func(dest ...any) error) (types.SolvencySnapshot, error) {
	var (
		snapshot     types.SolvencySnapshot
		totalCapital string
		effective    string
		coverageSold string
		losses       string
		tranchesJSON []byte
	)
	err := scan(
		&snapshot.SnapshotID, &snapshot.CycleNumber, &snapshot.Timestamp,
		&totalCapital, &effective, &coverageSold, &losses,
		&snapshot.VaultUtilization, &snapshot.Solvent, &snapshot.ActivePolicies,
		&tranchesJSON,
	)
	if err != nil {
		return types.SolvencySnapshot{}, fmt.Errorf("failed to scan solvency snapshot: %w", err)
	}

	if snapshot.TotalCapital, err = parseAmount(totalCapital); err != nil {
		return types.SolvencySnapshot{}, err
	}
	if snapshot.EffectiveCapital, err = parseAmount(effective); err != nil {
		return types.SolvencySnapshot{}, err
	}
	if snapshot.CoverageSold, err = parseAmount(coverageSold); err != nil {
		return types.SolvencySnapshot{}, err
	}
	if snapshot.AccumulatedLoss, err = parseAmount(losses); err != nil {
		return types.SolvencySnapshot{}, err
	}
	if err := json.Unmarshal(tranchesJSON, &snapshot.Tranches); err != nil {
		return types.SolvencySnapshot{}, fmt.Errorf("failed to unmarshal tranches: %w", err)
	}
	return snapshot, nil
}

// parseAmount converts a NUMERIC column back into an integer amount.
func parseAmount(raw string) (math.Int, error) {
	amount, ok := math.NewIntFromString(raw)
	if !ok {
		return math.Int{}, fmt.Errorf("failed to parse amount %q from database", raw)
	}
	return amount, nil
}
