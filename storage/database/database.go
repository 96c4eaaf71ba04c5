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

// Package database provides the minimal ordered keyed-storage contract
// the block store is built on, with goleveldb, badger and in-memory
// implementations behind one Database/Batch/Iterator surface.
package database

// Backend identifies which concrete Database implementation a path was
// opened with.
type Backend string

const (
	LevelDB Backend = "LevelDB"
	Badger  Backend = "Badger"
	Memory  Backend = "Memory"
)

// Iterator walks an ordered keyspace. Ascending iteration is via repeated
// Next(); descending via Last() followed by repeated Prev(). It is
// deliberately narrower than goleveldb's native iterator so that every
// backend (including badger and the in-memory test double) can implement it
// without depending on goleveldb's types.
type Iterator interface {
	// First positions the iterator at the smallest key. Reports whether
	// any key exists.
	First() bool
	// Last positions the iterator at the largest key. Reports whether any
	// key exists.
	Last() bool
	// Seek positions the iterator at the smallest key >= target.
	Seek(target []byte) bool
	Next() bool
	Prev() bool
	Key() []byte
	Value() []byte
	Close()
}

// Database is the minimal ordered key/value contract the block store and
// its secondary indexes are built on.
type Database interface {
	Type() Backend
	Path() string

	Put(key, value []byte) error
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error

	// NewIterator returns an iterator over the entire keyspace.
	NewIterator() Iterator
	// NewIteratorWithPrefix returns an iterator over the subset of the
	// keyspace starting with prefix.
	NewIteratorWithPrefix(prefix []byte) Iterator

	NewBatch() Batch
	Close()
}

// Batch accumulates writes for an atomic, ordered commit.
type Batch interface {
	Put(key, value []byte) error
	Write() error
	ValueSize() int
	Reset()
}
