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

// Package blockstore implements the indexed block store: an ordered
// primary keyspace by block index plus one secondary-index keyspace per
// configured attribute, built on storage/database.
package blockstore

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/ground-x/ledgernode/blockchain"
	"github.com/ground-x/ledgernode/log"
	"github.com/ground-x/ledgernode/storage/database"
)

var logger = log.NewModuleLogger("blockstore")

// Store persists blocks in a fixed-width big-endian primary keyspace and
// maintains one secondary index per configured indexKey. mu is the
// "storage" critical section: it guards every read-modify-write of the
// primary keyspace and its secondary indexes.
type Store struct {
	mu sync.Mutex

	main      database.Database
	indexKeys []string
	indexes   map[string]database.Database
}

// Open opens (or creates) a store rooted at storagePath: storagePath/main
// holds the primary keyspace, and each configured secondary index lives
// under storagePath/<indexKey>. If the store is empty, a genesis block is
// written at index 0.
func Open(backend database.Backend, storagePath string, indexKeys []string, genesisVersion string, genesisTimestampMillis int64) (*Store, error) {
	main, err := database.Open(backend, filepath.Join(storagePath, "main"), 64, 64)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open primary keyspace")
	}

	indexes := make(map[string]database.Database, len(indexKeys))
	for _, key := range indexKeys {
		db, err := database.Open(backend, filepath.Join(storagePath, key), 16, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open index keyspace %q", key)
		}
		indexes[key] = db
	}

	s := &Store{main: main, indexKeys: indexKeys, indexes: indexes}

	last, err := s.Last()
	if err != nil {
		return nil, err
	}
	if last == nil {
		genesis := blockchain.NewGenesisBlock(genesisVersion, genesisTimestampMillis)
		if err := s.putBlockLocked(genesis); err != nil {
			return nil, errors.Wrap(err, "failed to write genesis block")
		}
		logger.Info("initialized empty store with genesis block", "hash", genesis.Hash)
	}
	return s, nil
}

func blockKey(index uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, index)
	return buf
}

func decodeBlock(raw []byte) (*blockchain.Block, error) {
	var b blockchain.Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, errors.Wrap(err, "failed to decode stored block")
	}
	return &b, nil
}

// Last returns the highest-index block, or (nil, nil) if the store is
// empty; "not found" is not an error.
func (s *Store) Last() (*blockchain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLocked()
}

func (s *Store) lastLocked() (*blockchain.Block, error) {
	it := s.main.NewIterator()
	defer it.Close()
	if !it.Last() {
		return nil, nil
	}
	return decodeBlock(it.Value())
}

// Get returns the block at index, or (nil, nil) if no such block exists.
func (s *Store) Get(index uint64) (*blockchain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.main.Get(blockKey(index))
	if err == database.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeBlock(raw)
}

// SealAndAppend implements blockchain.Store: it runs fn against the
// current last block under the "storage" lock and, unless fn reports the
// candidate as already sealed, persists the returned block to the primary
// keyspace and every applicable secondary index.
func (s *Store) SealAndAppend(fn func(last *blockchain.Block) (*blockchain.Block, error)) (*blockchain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.lastLocked()
	if err != nil {
		return nil, err
	}
	block, err := fn(last)
	if err == blockchain.ErrAlreadySealed {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.putBlockLocked(block); err != nil {
		return nil, err
	}
	return block, nil
}

// BulkAppend implements blockchain.Store: blocks whose index is at or
// below the current last index are dropped; the remainder must be
// contiguous and hash-chained from the current tail, and is written
// all-or-nothing.
func (s *Store) BulkAppend(blocks []*blockchain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.lastLocked()
	if err != nil {
		return err
	}

	var toWrite []*blockchain.Block
	for _, b := range blocks {
		if last != nil && b.Index <= last.Index {
			continue
		}
		if last != nil {
			if err := blockchain.ValidateSuccessor(last, b); err != nil {
				return err
			}
		}
		toWrite = append(toWrite, b)
		last = b
	}

	for _, b := range toWrite {
		if err := s.putBlockLocked(b); err != nil {
			return errors.Wrapf(err, "failed to persist block %d during bulk append", b.Index)
		}
	}
	return nil
}

// putBlockLocked writes block to the primary keyspace and appends its
// index to every secondary index entry its transactions touch. Caller
// must hold mu.
func (s *Store) putBlockLocked(block *blockchain.Block) error {
	raw, err := json.Marshal(block)
	if err != nil {
		return errors.Wrap(err, "failed to encode block")
	}
	if err := s.main.Put(blockKey(uint64(block.Index)), raw); err != nil {
		return errors.Wrap(err, "failed to write block to primary keyspace")
	}
	for _, key := range s.indexKeys {
		db := s.indexes[key]
		seen := make(map[string]bool)
		for _, tx := range block.Transactions {
			v, ok := tx.Get(key)
			if !ok {
				continue
			}
			sv := stringifyValue(v)
			if seen[sv] {
				continue
			}
			seen[sv] = true
			if err := appendToIndex(db, sv, uint64(block.Index)); err != nil {
				return errors.Wrapf(err, "failed to update index %q", key)
			}
		}
	}
	return nil
}

// Close releases the primary keyspace and every secondary index.
func (s *Store) Close() {
	s.main.Close()
	for _, db := range s.indexes {
		db.Close()
	}
}
