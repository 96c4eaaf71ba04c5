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
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger"

	"github.com/ground-x/ledgernode/log"
)

const gcThreshold = int64(1 << 30) // 1GB
const sizeGCTickerTime = 1 * time.Minute

type badgerDB struct {
	fn string
	db *badger.DB

	gcTicker *time.Ticker

	log log.Logger
}

func getBadgerDBDefaultOption(dbDir string) badger.Options {
	return badger.DefaultOptions(dbDir)
}

// NewBadgerDB opens (or creates) a badger database at dbDir and starts
// its background value-log GC.
func NewBadgerDB(dbDir string) (Database, error) {
	logger := log.New("database", dbDir)

	if fi, err := os.Stat(dbDir); err == nil {
		if !fi.IsDir() {
			return nil, fmt.Errorf("badger path %q is not a directory", dbDir)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create badger dir %q: %v", dbDir, err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat badger dir %q: %v", dbDir, err)
	}

	db, err := badger.Open(getBadgerDBDefaultOption(dbDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db %q: %v", dbDir, err)
	}

	bg := &badgerDB{
		fn:       dbDir,
		db:       db,
		log:      logger,
		gcTicker: time.NewTicker(sizeGCTickerTime),
	}
	go bg.runValueLogGC()
	return bg, nil
}

// runValueLogGC periodically reclaims badger's value log once it grows past
// gcThreshold since the last pass.
func (bg *badgerDB) runValueLogGC() {
	_, lastValueLogSize := bg.db.Size()
	for range bg.gcTicker.C {
		_, currValueLogSize := bg.db.Size()
		if currValueLogSize-lastValueLogSize < gcThreshold {
			continue
		}
		if err := bg.db.RunValueLogGC(0.5); err != nil {
			bg.log.Error("value log gc failed", "err", err)
			continue
		}
		_, lastValueLogSize = bg.db.Size()
	}
}

func (bg *badgerDB) Type() Backend { return Badger }
func (bg *badgerDB) Path() string  { return bg.fn }

func (bg *badgerDB) Put(key []byte, value []byte) error {
	txn := bg.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(key, value); err != nil {
		return err
	}
	return txn.Commit()
}

func (bg *badgerDB) Has(key []byte) (bool, error) {
	txn := bg.db.NewTransaction(false)
	defer txn.Discard()
	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (bg *badgerDB) Get(key []byte) ([]byte, error) {
	txn := bg.db.NewTransaction(false)
	defer txn.Discard()
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (bg *badgerDB) Delete(key []byte) error {
	txn := bg.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Delete(key); err != nil {
		return err
	}
	return txn.Commit()
}

func (bg *badgerDB) NewIterator() Iterator {
	return newBadgerIterator(bg.db, nil)
}

func (bg *badgerDB) NewIteratorWithPrefix(prefix []byte) Iterator {
	return newBadgerIterator(bg.db, prefix)
}

func (bg *badgerDB) Close() {
	bg.gcTicker.Stop()
	if err := bg.db.Close(); err != nil {
		bg.log.Error("failed to close database", "err", err)
		return
	}
	bg.log.Info("database closed")
}

func (bg *badgerDB) NewBatch() Batch {
	return &badgerBatch{db: bg.db, txn: bg.db.NewTransaction(true)}
}

type badgerBatch struct {
	db   *badger.DB
	txn  *badger.Txn
	size int
}

func (b *badgerBatch) Put(key, value []byte) error {
	if err := b.txn.Set(key, value); err != nil {
		return err
	}
	b.size += len(value)
	return nil
}

func (b *badgerBatch) Write() error {
	return b.txn.Commit()
}

func (b *badgerBatch) ValueSize() int {
	return b.size
}

func (b *badgerBatch) Reset() {
	b.txn.Discard()
	b.txn = b.db.NewTransaction(true)
	b.size = 0
}

// badgerIterator bridges badger's forward-only, cursor-style iterator to
// the package's bidirectional Iterator contract. Direction is fixed the
// first time First/Last/Seek picks it, since badger iterators can't change
// direction once opened; switching direction reopens the underlying
// iterator.
type badgerIterator struct {
	db     *badger.DB
	prefix []byte

	txn *badger.Txn
	it  *badger.Iterator
	rev bool
}

func newBadgerIterator(db *badger.DB, prefix []byte) *badgerIterator {
	return &badgerIterator{db: db, prefix: prefix}
}

func (i *badgerIterator) open(reverse bool) {
	if i.it != nil {
		i.it.Close()
	}
	if i.txn != nil {
		i.txn.Discard()
	}
	i.txn = i.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = reverse
	i.it = i.txn.NewIterator(opts)
	i.rev = reverse
}

func (i *badgerIterator) valid() bool {
	if len(i.prefix) == 0 {
		return i.it.Valid()
	}
	return i.it.ValidForPrefix(i.prefix)
}

func (i *badgerIterator) First() bool {
	i.open(false)
	if len(i.prefix) > 0 {
		i.it.Seek(i.prefix)
	} else {
		i.it.Rewind()
	}
	return i.valid()
}

func (i *badgerIterator) Last() bool {
	i.open(true)
	if len(i.prefix) > 0 {
		// Reverse iteration over a prefix starts just past the prefix's
		// upper bound: seek to the prefix followed by an 0xff byte.
		upper := append(append([]byte{}, i.prefix...), 0xff)
		i.it.Seek(upper)
	} else {
		i.it.Rewind()
	}
	return i.valid()
}

func (i *badgerIterator) Seek(target []byte) bool {
	i.open(false)
	i.it.Seek(target)
	return i.valid()
}

func (i *badgerIterator) Next() bool {
	if i.it == nil {
		return i.First()
	}
	i.it.Next()
	return i.valid()
}

func (i *badgerIterator) Prev() bool {
	if i.it == nil || !i.rev {
		cur := i.Key()
		i.open(true)
		if cur != nil {
			i.it.Seek(append(append([]byte{}, cur...), 0x00))
		} else {
			i.Last()
		}
	}
	i.it.Next()
	return i.valid()
}

func (i *badgerIterator) Key() []byte {
	if i.it == nil || !i.it.Valid() {
		return nil
	}
	return i.it.Item().KeyCopy(nil)
}

func (i *badgerIterator) Value() []byte {
	if i.it == nil || !i.it.Valid() {
		return nil
	}
	v, err := i.it.Item().ValueCopy(nil)
	if err != nil {
		return nil
	}
	return v
}

func (i *badgerIterator) Close() {
	if i.it != nil {
		i.it.Close()
	}
	if i.txn != nil {
		i.txn.Discard()
	}
}
