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
	"bytes"
	"sort"
	"sync"
)

// memoryDB is a Database backed by a sorted in-process map, used by tests
// that want block store semantics without a real on-disk engine.
type memoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryDB returns an empty in-memory Database.
func NewMemoryDB() Database {
	return &memoryDB{data: make(map[string][]byte)}
}

func (db *memoryDB) Type() Backend { return Memory }
func (db *memoryDB) Path() string  { return "" }

func (db *memoryDB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	db.data[string(key)] = cp
	return nil
}

func (db *memoryDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *memoryDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (db *memoryDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *memoryDB) sortedKeys(prefix []byte) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		if prefix == nil || bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (db *memoryDB) NewIterator() Iterator {
	return &memoryIterator{db: db, keys: db.sortedKeys(nil), pos: -1}
}

func (db *memoryDB) NewIteratorWithPrefix(prefix []byte) Iterator {
	return &memoryIterator{db: db, keys: db.sortedKeys(prefix), pos: -1}
}

func (db *memoryDB) Close() {}

func (db *memoryDB) NewBatch() Batch {
	return &memoryBatch{db: db}
}

type memoryIterator struct {
	db   *memoryDB
	keys []string
	pos  int
}

func (i *memoryIterator) First() bool {
	if len(i.keys) == 0 {
		i.pos = -1
		return false
	}
	i.pos = 0
	return true
}

func (i *memoryIterator) Last() bool {
	if len(i.keys) == 0 {
		i.pos = -1
		return false
	}
	i.pos = len(i.keys) - 1
	return true
}

func (i *memoryIterator) Seek(target []byte) bool {
	idx := sort.SearchStrings(i.keys, string(target))
	if idx >= len(i.keys) {
		i.pos = len(i.keys)
		return false
	}
	i.pos = idx
	return true
}

func (i *memoryIterator) Next() bool {
	if i.pos+1 >= len(i.keys) {
		i.pos = len(i.keys)
		return false
	}
	i.pos++
	return true
}

func (i *memoryIterator) Prev() bool {
	if i.pos <= 0 {
		i.pos = -1
		return false
	}
	i.pos--
	return true
}

func (i *memoryIterator) Key() []byte {
	if i.pos < 0 || i.pos >= len(i.keys) {
		return nil
	}
	return []byte(i.keys[i.pos])
}

func (i *memoryIterator) Value() []byte {
	if i.pos < 0 || i.pos >= len(i.keys) {
		return nil
	}
	v, _ := i.db.Get([]byte(i.keys[i.pos]))
	return v
}

func (i *memoryIterator) Close() {}

type memoryBatch struct {
	db   *memoryDB
	ops  []kv
	size int
}

type kv struct {
	key, value []byte
}

func (b *memoryBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, kv{key: key, value: value})
	b.size += len(value)
	return nil
}

func (b *memoryBatch) Write() error {
	for _, op := range b.ops {
		if err := b.db.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}

func (b *memoryBatch) ValueSize() int {
	return b.size
}

func (b *memoryBatch) Reset() {
	b.ops = nil
	b.size = 0
}
