package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fiscalhub/pkg/fiscalerrors"
)

// InMemoryRegistry backs tests and local development. Production deployments
// point Registry at the real audit service client.
type InMemoryRegistry struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
}

// NewInMemoryRegistry constructs an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{txs: make(map[string]*Transaction)}
}

// Record stores a transaction; used by tests and the local wiring.
func (r *InMemoryRegistry) Record(tx *Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.ID] = tx
}

func (r *InMemoryRegistry) TransactionIDs(_ context.Context, start, end time.Time, filter string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, tx := range r.txs {
		if tx.RecordedAt.Before(start) || !tx.RecordedAt.Before(end) {
			continue
		}
		if filter != "" && filter != tx.Site {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *InMemoryRegistry) Transaction(_ context.Context, id string) (*Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, fiscalerrors.Newf(fiscalerrors.CodeNotFound, "transaction %s", id)
	}
	cp := *tx
	return &cp, nil
}

var _ Registry = (*InMemoryRegistry)(nil)

// String implements fmt.Stringer for debug logging.
func (r *InMemoryRegistry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("in-memory audit registry (%d transactions)", len(r.txs))
}
