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
	"github.com/pkg/errors"

	"github.com/ground-x/ledgernode/log"
	"github.com/ground-x/ledgernode/metrics"
)

var (
	// ErrEmptyPool is returned by CommitBlock/GetProofOfWork when there is
	// nothing pending to seal.
	ErrEmptyPool = errors.New("transaction pool is empty")
	// ErrRootMismatch is returned by CommitProofOfWork when the supplied
	// rootHash no longer matches the pool's current content.
	ErrRootMismatch = errors.New("supplied root hash does not match current pool")
	// ErrInvalidProofOfWork is returned by CommitProofOfWork when the
	// resulting hash does not satisfy the PoW prefix requirement.
	ErrInvalidProofOfWork = errors.New("nonce does not satisfy proof-of-work requirement")
	// ErrOutOfOrder is returned when a PoW candidate targets an index that
	// is neither the next one nor already sealed.
	ErrOutOfOrder = errors.New("proof-of-work candidate index is out of order")
)

var logger = log.NewModuleLogger("blockchain")

var sealedBlocksCounter = metrics.NewRegisteredCounter("blockchain/blocks_sealed", "number of blocks sealed by this node")

// Chain is the blockchain engine: it owns the transaction pool and drives
// block sealing (commitBlock / getProofOfWork / commitProofOfWork /
// setBlocks) against a Store.
type Chain struct {
	version string
	pool    *Pool
	store   Store
}

// NewChain constructs a blockchain engine over an already-initialized
// store (i.e. one that has at least the genesis block written).
func NewChain(version string, store Store) *Chain {
	return &Chain{version: version, pool: NewPool(), store: store}
}

// Pool exposes the transaction pool for the consensus engine's commit
// sweep to drain provisional entries into (addTransaction /
// addTemporaryTransaction / commitTransaction).
func (c *Chain) Pool() *Pool { return c.pool }

// AddTransaction pushes a confirmed transaction into the pool.
func (c *Chain) AddTransaction(t *Transaction) {
	c.pool.Add(t)
}

// AddTemporaryTransaction accepts t into the pool's temporary side-store.
func (c *Chain) AddTemporaryTransaction(t *Transaction, acceptedAtMillis int64) error {
	return c.pool.AddTemporary(t, acceptedAtMillis)
}

// CommitTransaction finalizes a previously-temporary transaction by id,
// moving it into the confirmed portion of the pool.
func (c *Chain) CommitTransaction(transactionID string) {
	c.pool.Commit(transactionID)
}

// CommitBlock seals whatever is currently in the confirmed pool into a
// new block (Raft mode: nonce 0, no proof-of-work search).
//
// If persisting the sealed block fails, the drained transactions are
// restored to the pool so the next commit sweep can retry rather than
// silently losing them.
func (c *Chain) CommitBlock() (*Block, error) {
	txs := c.pool.Drain()
	if len(txs) == 0 {
		return nil, ErrEmptyPool
	}
	block, err := c.store.SealAndAppend(func(last *Block) (*Block, error) {
		root := MerkleRoot(txs)
		const nonce = uint64(0)
		hash := computeHash(last.Hash, nonce, root)
		return &Block{
			Version:      c.version,
			Index:        last.Index + 1,
			Timestamp:    nowMillis(),
			Nonce:        nonce,
			PrevHash:     last.Hash,
			Hash:         hash,
			Transactions: txs,
		}, nil
	})
	if err != nil {
		logger.Error("failed to seal block, restoring pool", "err", err)
		c.pool.Restore(txs)
		return nil, err
	}
	sealedBlocksCounter.Inc()
	return block, nil
}

// ProofOfWorkCandidate is the {index, rootHash, nonce} tuple returned by
// getProofOfWork(), computed without mutating any state.
type ProofOfWorkCandidate struct {
	Index    uint64
	RootHash string
	Nonce    uint64
}

// GetProofOfWork computes a sealable candidate for the current pool
// contents without draining it or writing anything.
func (c *Chain) GetProofOfWork() (*ProofOfWorkCandidate, error) {
	txs := c.pool.Confirmed()
	if len(txs) == 0 {
		return nil, ErrEmptyPool
	}
	last, err := c.store.Last()
	if err != nil {
		return nil, err
	}
	root := MerkleRoot(txs)
	nonce := FindProofOfWorkNonce(last.Hash, root)
	return &ProofOfWorkCandidate{Index: uint64(last.Index) + 1, RootHash: root, Nonce: nonce}, nil
}

// CommitProofOfWork verifies and persists a previously computed
// candidate. A candidate for an already-sealed index is a silent no-op.
func (c *Chain) CommitProofOfWork(index uint64, rootHash string, nonce uint64) (*Block, error) {
	txs := c.pool.Confirmed()
	block, err := c.store.SealAndAppend(func(last *Block) (*Block, error) {
		target := BlockIndex(index)
		if target <= last.Index {
			return nil, ErrAlreadySealed
		}
		if target != last.Index+1 {
			return nil, ErrOutOfOrder
		}
		if MerkleRoot(txs) != rootHash {
			return nil, ErrRootMismatch
		}
		hash := computeHash(last.Hash, nonce, rootHash)
		if !HasProofOfWork(hash) {
			return nil, ErrInvalidProofOfWork
		}
		return &Block{
			Version:      c.version,
			Index:        BlockIndex(index),
			Timestamp:    nowMillis(),
			Nonce:        nonce,
			PrevHash:     last.Hash,
			Hash:         hash,
			Transactions: txs,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if block != nil {
		c.pool.Drain()
		sealedBlocksCounter.Inc()
	}
	return block, nil
}

// SetBlocks replaces the chain tail with incoming blocks: blocks whose
// index is at or below the current last index are dropped; the remainder
// is validated and written all-or-nothing.
func (c *Chain) SetBlocks(blocks []*Block) error {
	return c.store.BulkAppend(blocks)
}

// ValidateSuccessor checks the single invariant relating two consecutive
// blocks: index monotonicity, hash chaining, and Merkle-root/hash
// recomputation. It is exported so storage/blockstore can apply it inside
// BulkAppend without this package depending on that one.
func ValidateSuccessor(prev, b *Block) error {
	if b.Version == "" {
		return errors.New("block missing version")
	}
	if b.Hash == "" || b.PrevHash == "" && !b.IsGenesis() {
		return errors.New("block missing hash fields")
	}
	if b.Index != prev.Index+1 {
		return errors.Errorf("block index %d is not successor of %d", b.Index, prev.Index)
	}
	if b.PrevHash != prev.Hash {
		return errors.Errorf("block %d prevHash does not match predecessor hash", b.Index)
	}
	root := MerkleRoot(b.Transactions)
	expected := computeHash(b.PrevHash, b.Nonce, root)
	if expected != b.Hash {
		return errors.Errorf("block %d hash does not match recomputed hash", b.Index)
	}
	return nil
}
