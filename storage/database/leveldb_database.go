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

package database

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ground-x/ledgernode/log"
)

// OpenFileLimit is the default number of open file handles leveldb is
// allowed.
var OpenFileLimit = 64

type levelDB struct {
	fn string
	db *leveldb.DB

	log log.Logger
}

func getLDBOptions(cacheSizeMB, numHandles int) *opt.Options {
	return &opt.Options{
		OpenFilesCacheCapacity: numHandles,
		BlockCacheCapacity:     cacheSizeMB / 2 * opt.MiB,
		WriteBuffer:            cacheSizeMB / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
		DisableBufferPool:      true,
	}
}

// NewLevelDB opens (or creates) a leveldb database at file, falling back
// to RecoverFile when the manifest is corrupted.
func NewLevelDB(file string, cacheSizeMB, numHandles int) (Database, error) {
	if cacheSizeMB < 16 {
		cacheSizeMB = 16
	}
	if numHandles < 16 {
		numHandles = 16
	}
	logger := log.New("database", file)
	logger.Info("allocating leveldb", "writeBufferSizeMB", cacheSizeMB, "numHandles", numHandles)

	db, err := leveldb.OpenFile(file, getLDBOptions(cacheSizeMB, numHandles))
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(file, nil)
	}
	if err != nil {
		return nil, err
	}
	return &levelDB{fn: file, db: db, log: logger}, nil
}

func (db *levelDB) Type() Backend { return LevelDB }
func (db *levelDB) Path() string  { return db.fn }

func (db *levelDB) Put(key []byte, value []byte) error {
	return db.db.Put(key, value, nil)
}

func (db *levelDB) Has(key []byte) (bool, error) {
	return db.db.Has(key, nil)
}

func (db *levelDB) Get(key []byte) ([]byte, error) {
	dat, err := db.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dat, nil
}

func (db *levelDB) Delete(key []byte) error {
	return db.db.Delete(key, nil)
}

func (db *levelDB) NewIterator() Iterator {
	return &ldbIterator{it: db.db.NewIterator(nil, nil)}
}

func (db *levelDB) NewIteratorWithPrefix(prefix []byte) Iterator {
	return &ldbIterator{it: db.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

func (db *levelDB) Close() {
	if err := db.db.Close(); err != nil {
		db.log.Error("failed to close database", "err", err)
		return
	}
	db.log.Info("database closed")
}

func (db *levelDB) NewBatch() Batch {
	return &ldbBatch{db: db.db, b: new(leveldb.Batch)}
}

// ldbIterator adapts goleveldb's iterator to the package's narrower
// Iterator contract.
type ldbIterator struct {
	it iterator.Iterator
}

func (i *ldbIterator) First() bool        { return i.it.First() }
func (i *ldbIterator) Last() bool         { return i.it.Last() }
func (i *ldbIterator) Seek(k []byte) bool { return i.it.Seek(k) }
func (i *ldbIterator) Next() bool         { return i.it.Next() }
func (i *ldbIterator) Prev() bool         { return i.it.Prev() }
func (i *ldbIterator) Key() []byte        { return i.it.Key() }
func (i *ldbIterator) Value() []byte      { return i.it.Value() }
func (i *ldbIterator) Close()             { i.it.Release() }

type ldbBatch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

func (b *ldbBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(value)
	return nil
}

func (b *ldbBatch) Write() error {
	return b.db.Write(b.b, nil)
}

func (b *ldbBatch) ValueSize() int {
	return b.size
}

func (b *ldbBatch) Reset() {
	b.b.Reset()
	b.size = 0
}
