package device

import (
	"sync"
	"time"
)

// TxContext is the ephemeral, adapter-local state of one open signing
// transaction. It lives only in the adapter's memory: a process restart
// orphans the transaction and the caller resolves it through
// SelfTest/reconciliation, never through automatic resume.
type TxContext struct {
	TransactionNumber uint64
	ProcessType       string
	ProcessData       []byte
	ClientID          string
	StartTime         time.Time
}

// TxRegistry tracks the open transactions of a single adapter instance.
// Calls into one adapter are serialized per site by the router's owner lock,
// but the scheduled scan may probe concurrently, so the map guards itself.
type TxRegistry struct {
	mu     sync.Mutex
	active map[uint64]*TxContext
}

// NewTxRegistry creates an empty transaction registry.
func NewTxRegistry() *TxRegistry {
	return &TxRegistry{active: make(map[uint64]*TxContext)}
}

// Put stores the context of a newly started transaction.
func (r *TxRegistry) Put(tx *TxContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[tx.TransactionNumber] = tx
}

// Update replaces the process data of an open transaction. It reports false
// when the transaction is unknown (finished, failed, or orphaned).
func (r *TxRegistry) Update(transactionNumber uint64, processData []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.active[transactionNumber]
	if !ok {
		return false
	}
	tx.ProcessData = processData
	return true
}

// Get returns the context of an open transaction.
func (r *TxRegistry) Get(transactionNumber uint64) (*TxContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.active[transactionNumber]
	return tx, ok
}

// Remove drops a transaction on finish or failure.
func (r *TxRegistry) Remove(transactionNumber uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, transactionNumber)
}

// Len reports how many transactions are currently open.
func (r *TxRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
