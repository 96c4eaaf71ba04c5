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

import "github.com/pkg/errors"

// ErrAlreadySealed is returned by a SealAndAppend callback to signal that
// the requested index has already been written by someone else; the store
// treats this as a silent no-op rather than an error.
var ErrAlreadySealed = errors.New("block index already sealed")

// Store is the persistence contract the blockchain engine needs from the
// block store (storage/blockstore.Store satisfies it). It is declared here,
// rather than in storage/blockstore, so that package can depend on
// blockchain's types without blockchain depending back on it.
type Store interface {
	// Last returns the highest-indexed block written so far. A freshly
	// constructed store must already contain the genesis block before any
	// other Chain method is used.
	Last() (*Block, error)

	// Get returns the block at index, or (nil, nil) if no such block has
	// been written yet.
	Get(index uint64) (*Block, error)

	// SealAndAppend runs fn, holding the store's single write lock, with
	// the current last block. If fn returns ErrAlreadySealed,
	// SealAndAppend returns (nil, nil) without writing anything. Otherwise
	// the returned block (if fn succeeds) is appended and returned.
	SealAndAppend(fn func(last *Block) (*Block, error)) (*Block, error)

	// BulkAppend validates and writes blocks as a single all-or-nothing
	// operation under the store's write lock. Blocks whose index is at or
	// below the current last index are silently dropped before
	// validation; the remainder must be contiguous starting at last+1.
	BulkAppend(blocks []*Block) error
}
