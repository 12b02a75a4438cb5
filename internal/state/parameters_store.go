// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tonsurance/solvency-engine/internal/types"
)

// SaveTrancheParameters saves a new version of the tranche parameter table.
// Only one version per config name is active at a time.
func SaveTrancheParameters(configs map[types.TrancheID]types.TrancheConfig, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, types.ErrStoreNotReady.Wrap("database not initialized")
	}

	parametersJSON, err := json.Marshal(trancheConfigsByName(configs))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tranche parameters: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE tranche_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
		INSERT INTO tranche_parameters (
			version, config_name, is_active, activated_at, created_at, parameters
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime, parametersJSON,
	).Scan(&paramsID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert tranche parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved tranche parameters")
	return paramsID, nil
}

// LoadActiveTrancheParameters loads the currently active tranche parameter
// table for a config name. sql.ErrNoRows surfaces when nothing is active.
func LoadActiveTrancheParameters(configName string) (map[types.TrancheID]types.TrancheConfig, error) {
	if DB == nil {
		return nil, types.ErrStoreNotReady.Wrap("database not initialized")
	}

	query := `
		SELECT parameters FROM tranche_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`

	var parametersJSON []byte
	err := DB.QueryRow(query, configName).Scan(&parametersJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active tranche parameters for config %s: %w", configName, err)
		}
		return nil, fmt.Errorf("failed to load active tranche parameters: %w", err)
	}

	configs, err := trancheConfigsFromNames(parametersJSON)
	if err != nil {
		return nil, err
	}

	// A partial table would silently skip tranches in every cascade.
	if len(configs) != types.TrancheCount {
		return nil, fmt.Errorf("active tranche parameters for %s cover %d of %d tranches", configName, len(configs), types.TrancheCount)
	}

	log.Info().Str("config", configName).Msg("Loaded active tranche parameters")
	return configs, nil
}

func trancheConfigsByName(configs map[types.TrancheID]types.TrancheConfig) map[string]types.TrancheConfig {
	out := make(map[string]types.TrancheConfig, len(configs))
	for id, cfg := range configs {
		out[id.String()] = cfg
	}
	return out
}

func trancheConfigsFromNames(raw []byte) (map[types.TrancheID]types.TrancheConfig, error) {
	var byName map[string]types.TrancheConfig
	if err := json.Unmarshal(raw, &byName); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tranche parameters: %w", err)
	}
	configs := make(map[types.TrancheID]types.TrancheConfig, len(byName))
	for name, cfg := range byName {
		id, err := types.TrancheIDFromString(name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tranche %q in parameters: %w", name, err)
		}
		cfg.ID = id
		configs[id] = cfg
	}
	return configs, nil
}
