// ./internal/state/receipt_store.go
package state

import (
	"encoding/json"
	"fmt"

	"cosmossdk.io/math"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/tonsurance/solvency-engine/internal/types"
)

// SaveCascadeReceipt persists the outcome of one waterfall execution.
func SaveCascadeReceipt(receipt types.CascadeReceipt) (int64, error) {
	if DB == nil {
		return 0, types.ErrStoreNotReady.Wrap("database not initialized")
	}

	deltasJSON, err := json.Marshal(trancheDeltasByName(receipt.TrancheDeltas))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tranche_deltas: %w", err)
	}

	wiped := make([]string, 0, len(receipt.WipedTranches))
	for _, id := range receipt.WipedTranches {
		wiped = append(wiped, id.String())
	}

	query := `
		INSERT INTO cascade_receipts (
			receipt_id, kind, receipt_timestamp,
			amount, remaining, tranche_deltas, wiped_tranches, insolvency
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id;
	`

	var rowID int64
	err = DB.QueryRow(
		query,
		receipt.ReceiptID, string(receipt.Kind), receipt.Timestamp,
		receipt.Amount.String(), receipt.Remaining.String(),
		deltasJSON, pq.Array(wiped), receipt.Insolvency,
	).Scan(&rowID)

	if err != nil {
		return 0, fmt.Errorf("failed to save cascade receipt: %w", err)
	}

	log.Info().
		Int64("id", rowID).
		Str("receipt_id", receipt.ReceiptID).
		Str("kind", string(receipt.Kind)).
		Str("amount", receipt.Amount.String()).
		Msg("Cascade receipt saved to database")

	return rowID, nil
}

// GetRecentReceipts returns the most recent cascade receipts, newest first.
// kind filters by cascade kind; pass an empty string for both kinds.
func GetRecentReceipts(kind types.CascadeKind, limit int) ([]types.CascadeReceipt, error) {
	if DB == nil {
		return nil, types.ErrStoreNotReady.Wrap("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT receipt_id, kind, receipt_timestamp,
		       amount, remaining, tranche_deltas, wiped_tranches, insolvency
		FROM cascade_receipts
		WHERE ($1 = '' OR kind = $1)
		ORDER BY receipt_timestamp DESC
		LIMIT $2;
	`

	rows, err := DB.Query(query, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cascade receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.CascadeReceipt
	for rows.Next() {
		var (
			receipt    types.CascadeReceipt
			kindRaw    string
			amount     string
			remaining  string
			deltasJSON []byte
			wiped      pq.StringArray
		)
		err := rows.Scan(
			&receipt.ReceiptID, &kindRaw, &receipt.Timestamp,
			&amount, &remaining, &deltasJSON, &wiped, &receipt.Insolvency,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cascade receipt: %w", err)
		}
		receipt.Kind = types.CascadeKind(kindRaw)
		if receipt.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if receipt.Remaining, err = parseAmount(remaining); err != nil {
			return nil, err
		}
		if receipt.TrancheDeltas, err = trancheDeltasFromNames(deltasJSON); err != nil {
			return nil, err
		}
		for _, name := range wiped {
			id, err := types.TrancheIDFromString(name)
			if err != nil {
				return nil, fmt.Errorf("failed to parse wiped tranche %q: %w", name, err)
			}
			receipt.WipedTranches = append(receipt.WipedTranches, id)
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cascade receipts: %w", err)
	}
	return receipts, nil
}

// trancheDeltasByName keys deltas by tranche name for readable JSONB rows.
func trancheDeltasByName(deltas map[types.TrancheID]math.Int) map[string]string {
	out := make(map[string]string, len(deltas))
	for id, delta := range deltas {
		out[id.String()] = delta.String()
	}
	return out
}

func trancheDeltasFromNames(raw []byte) (map[types.TrancheID]math.Int, error) {
	var byName map[string]string
	if err := json.Unmarshal(raw, &byName); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tranche_deltas: %w", err)
	}
	deltas := make(map[types.TrancheID]math.Int, len(byName))
	for name, amount := range byName {
		id, err := types.TrancheIDFromString(name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tranche %q in deltas: %w", name, err)
		}
		parsed, err := parseAmount(amount)
		if err != nil {
			return nil, err
		}
		deltas[id] = parsed
	}
	return deltas, nil
}
