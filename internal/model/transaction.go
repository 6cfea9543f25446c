package model

import (
	"fmt"

	"github.com/google/uuid"
)

// GlobalTransactionID identifies a transaction cluster-wide
type GlobalTransactionID string

// NewGlobalTransactionID creates an id for a transaction originating at node
func NewGlobalTransactionID(origin string) GlobalTransactionID {
	return GlobalTransactionID(fmt.Sprintf("%s-%s", origin, uuid.NewString()))
}

func (id GlobalTransactionID) String() string {
	return string(id)
}

// TransactionStatus is the lifecycle state of a queued transaction
type TransactionStatus int

const (
	StatusPreparing TransactionStatus = iota
	StatusPrepared
	StatusCommitted
	StatusRolledBack
)

func (s TransactionStatus) String() string {
	switch s {
	case StatusPreparing:
		return "PREPARING"
	case StatusPrepared:
		return "PREPARED"
	case StatusCommitted:
		return "COMMITTED"
	case StatusRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// WriteOperation is a single modification of a transaction's write set
type WriteOperation struct {
	Key    string
	Value  []byte
	Delete bool
}

// Transaction is the part of a transaction the commit path needs: its id,
// write set and the version currently associated with it.
type Transaction struct {
	ID      GlobalTransactionID
	Writes  []WriteOperation
	Version *Version
}

// NewTransaction creates a transaction with a write set
func NewTransaction(id GlobalTransactionID, writes []WriteOperation) *Transaction {
	return &Transaction{ID: id, Writes: writes}
}

// IsReadOnly reports whether the transaction has no writes
func (t *Transaction) IsReadOnly() bool {
	return len(t.Writes) == 0
}
