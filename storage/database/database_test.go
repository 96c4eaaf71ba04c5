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
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	leveldb, err := NewLevelDB(t.TempDir(), 16, 16)
	require.NoError(t, err)
	t.Cleanup(leveldb.Close)

	badgerDB, err := NewBadgerDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(badgerDB.Close)

	return map[string]Database{
		"memory":  NewMemoryDB(),
		"leveldb": leveldb,
		"badger":  badgerDB,
	}
}

func TestDatabasePutGetHasDelete(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			ok, err := db.Has([]byte("k"))
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, db.Put([]byte("k"), []byte("v1")))
			ok, err = db.Has([]byte("k"))
			require.NoError(t, err)
			require.True(t, ok)

			got, err := db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), got)

			require.NoError(t, db.Delete([]byte("k")))
			_, err = db.Get([]byte("k"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDatabaseBatch(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			b := db.NewBatch()
			for i := 0; i < 5; i++ {
				require.NoError(t, b.Put([]byte(fmt.Sprintf("batch-%02d", i)), []byte("x")))
			}
			require.Greater(t, b.ValueSize(), 0)
			require.NoError(t, b.Write())

			for i := 0; i < 5; i++ {
				ok, err := db.Has([]byte(fmt.Sprintf("batch-%02d", i)))
				require.NoError(t, err)
				require.True(t, ok)
			}
		})
	}
}

func TestDatabaseIteratorOrderingAndPrefix(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			keys := []string{"a/1", "a/2", "a/3", "b/1"}
			for _, k := range keys {
				require.NoError(t, db.Put([]byte(k), []byte(k)))
			}

			it := db.NewIteratorWithPrefix([]byte("a/"))
			defer it.Close()

			var got []string
			for ok := it.First(); ok; ok = it.Next() {
				got = append(got, string(it.Key()))
			}
			require.Equal(t, []string{"a/1", "a/2", "a/3"}, got)
		})
	}
}

func TestDatabaseIteratorReverse(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"r/1", "r/2", "r/3"} {
				require.NoError(t, db.Put([]byte(k), []byte(k)))
			}

			it := db.NewIteratorWithPrefix([]byte("r/"))
			defer it.Close()

			var got []string
			for ok := it.Last(); ok; ok = it.Prev() {
				got = append(got, string(it.Key()))
			}
			require.Equal(t, []string{"r/3", "r/2", "r/1"}, got)
		})
	}
}
