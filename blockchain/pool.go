// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

package blockchain

import (
	"sync"

	"github.com/ground-x/ledgernode/metrics"
)

var poolSizeGauge = metrics.NewRegisteredGauge("blockchain/pool_size", "number of confirmed transactions awaiting the next block")

// Pool is the per-node ordered sequence of transactions awaiting inclusion
// in the next block. The confirmed
// portion (items) is what the next commitBlock/getProofOfWork drains;
// temporary transactions are held in a side map, keyed by transactionId,
// until a matching commitTransaction promotes them into items.
type Pool struct {
	mu       sync.Mutex
	items    []*Transaction
	temp     map[string]*Transaction
	tempSeq  []string // insertion order of temp, for deterministic promotion order
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{
		temp: make(map[string]*Transaction),
	}
}

// containsLocked reports whether t is already present by pointer identity.
// Must be called with mu held.
func (p *Pool) containsLocked(t *Transaction) bool {
	for _, existing := range p.items {
		if existing == t {
			return true
		}
	}
	return false
}

// Add pushes t into the confirmed portion of the pool unless it is
// identity-equal to an element already present.
func (p *Pool) Add(t *Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.containsLocked(t) {
		return
	}
	p.items = append(p.items, t)
	poolSizeGauge.Set(float64(len(p.items)))
}

// AddTemporary accepts t into the temporary side-pool, stamping it with
// @temp. It requires a transactionId: a transaction without one is not
// added (nothing could ever commit it) and ErrMissingTransactionID is
// returned. A second transaction with an id already held is ignored.
func (p *Pool) AddTemporary(t *Transaction, acceptedAtMillis int64) error {
	id, ok := t.TransactionID()
	if !ok {
		return ErrMissingTransactionID
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.temp[id]; exists {
		return nil
	}
	t.MarkTemporary(acceptedAtMillis)
	p.temp[id] = t
	p.tempSeq = append(p.tempSeq, id)
	return nil
}

// Commit promotes the temporary transaction with the given id into the
// confirmed portion, clearing its @temp annotation. A commit for an
// unknown id is a no-op: the transaction may already have been committed
// and sealed, or may never arrive.
func (p *Pool) Commit(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.temp[id]
	if !ok {
		return
	}
	delete(p.temp, id)
	for i, seqID := range p.tempSeq {
		if seqID == id {
			p.tempSeq = append(p.tempSeq[:i], p.tempSeq[i+1:]...)
			break
		}
	}
	t.ClearTemporary()
	if !p.containsLocked(t) {
		p.items = append(p.items, t)
		poolSizeGauge.Set(float64(len(p.items)))
	}
}

// Confirmed returns a snapshot of the confirmed portion, in pool order,
// without mutating the pool.
func (p *Pool) Confirmed() []*Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Transaction, len(p.items))
	copy(out, p.items)
	return out
}

// Len reports the number of confirmed, sealable transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Drain removes and returns the confirmed portion, leaving the pool empty
// of confirmed transactions (temporary transactions are untouched).
func (p *Pool) Drain() []*Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.items
	p.items = nil
	poolSizeGauge.Set(0)
	return out
}

// Restore prepends txs back into the confirmed portion. Used to recover the
// pool's contents when a seal attempt drained it but failed to persist.
func (p *Pool) Restore(txs []*Transaction) {
	if len(txs) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(append([]*Transaction{}, txs...), p.items...)
	poolSizeGauge.Set(float64(len(p.items)))
}
