package state

import "github.com/tonsurance/solvency-engine/internal/types"

// PostgresStore adapts the package-level persistence functions to the
// engine's Store interface.
type PostgresStore struct{}

func NewPostgresStore() PostgresStore {
	return PostgresStore{}
}

func (PostgresStore) SaveSolvencySnapshot(snapshot types.SolvencySnapshot) (int64, error) {
	return SaveSolvencySnapshot(snapshot)
}

func (PostgresStore) SaveCascadeReceipt(receipt types.CascadeReceipt) (int64, error) {
	return SaveCascadeReceipt(receipt)
}

func (PostgresStore) NextReconciliationCycle() (int, error) {
	return IncrementCycleNumber()
}
