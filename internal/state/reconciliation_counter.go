/*

This file manages the persistent global reconciliation counter. The counter is
stored in the database to ensure cycle numbering continuity across restarts.

*/

package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tonsurance/solvency-engine/internal/types"
)

// ensureReconciliationCounterTable creates the reconciliation_counter table if it doesn't exist
func ensureReconciliationCounterTable() error {
	if DB == nil {
		return types.ErrStoreNotReady.Wrap("database not initialized")
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS reconciliation_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO reconciliation_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`

	_, err := DB.Exec(createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation_counter table: %w", err)
	}

	log.Debug().Msg("Ensured reconciliation_counter table exists")
	return nil
}

// GetCurrentCycleNumber retrieves the current reconciliation cycle number
func GetCurrentCycleNumber() (int, error) {
	if DB == nil {
		return 0, types.ErrStoreNotReady.Wrap("database not initialized")
	}

	if err := ensureReconciliationCounterTable(); err != nil {
		return 0, err
	}

	query := `SELECT current_cycle FROM reconciliation_counter WHERE id = 1;`

	var currentCycle int
	row := DB.QueryRow(query)
	err := row.Scan(&currentCycle)

	if err != nil {
		if err == sql.ErrNoRows {
			// Should not happen due to the INSERT in ensureReconciliationCounterTable
			log.Warn().Msg("No reconciliation counter row found, initializing to 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current cycle number: %w", err)
	}

	log.Debug().Int("currentCycle", currentCycle).Msg("Retrieved current reconciliation cycle")
	return currentCycle, nil
}

// IncrementCycleNumber increments the reconciliation counter and returns the new value
func IncrementCycleNumber() (int, error) {
	if DB == nil {
		return 0, types.ErrStoreNotReady.Wrap("database not initialized")
	}

	if err := ensureReconciliationCounterTable(); err != nil {
		return 0, err
	}

	updateQuery := `
		UPDATE reconciliation_counter
		SET current_cycle = current_cycle + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_cycle;`

	var newCycle int
	row := DB.QueryRow(updateQuery)
	err := row.Scan(&newCycle)

	if err != nil {
		return 0, fmt.Errorf("failed to increment cycle number: %w", err)
	}

	log.Info().Int("newCycle", newCycle).Msg("Incremented reconciliation counter")
	return newCycle, nil
}

// ResetCycleNumber resets the reconciliation counter to a specific value (for testing/maintenance)
func ResetCycleNumber(cycleNumber int) error {
	if DB == nil {
		return types.ErrStoreNotReady.Wrap("database not initialized")
	}

	if err := ensureReconciliationCounterTable(); err != nil {
		return err
	}

	if cycleNumber < 0 {
		return fmt.Errorf("cycle number cannot be negative: %d", cycleNumber)
	}

	updateQuery := `
		UPDATE reconciliation_counter
		SET current_cycle = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1;`

	result, err := DB.Exec(updateQuery, cycleNumber)
	if err != nil {
		return fmt.Errorf("failed to reset cycle number to %d: %w", cycleNumber, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("no rows updated when resetting cycle number")
	}

	log.Warn().Int("cycleNumber", cycleNumber).Msg("Reset reconciliation counter")
	return nil
}
