package types

import (
	"cosmossdk.io/errors"
)

// Engine error codes. Underwriting rejections and insolvency are not errors;
// they are first-class return values on the collateral and waterfall paths.
var (
	ErrInvalidAmount  = errors.Register("solvency", 2, "amount must be positive")
	ErrUnknownTranche = errors.Register("solvency", 3, "unknown tranche")
	ErrStoreNotReady  = errors.Register("solvency", 4, "state store not initialized")
	ErrFeedDecode     = errors.Register("solvency", 5, "ledger event decode failed")
	ErrEngineConfig   = errors.Register("solvency", 6, "engine configuration invalid")
)
