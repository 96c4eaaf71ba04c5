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

package blockstore

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/ground-x/ledgernode/storage/database"
)

// stringifyValue renders a decoded transaction attribute value as the
// secondary index keyspace's key text. json.Number keeps its original
// decimal text; everything else uses its natural Go formatting.
func stringifyValue(v interface{}) string {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// appendToIndex appends blockIndex to the sorted, deduplicated list of
// block indexes stored under key in db.
func appendToIndex(db database.Database, key string, blockIndex uint64) error {
	indexes, err := lookupIndex(db, key)
	if err != nil {
		return err
	}
	pos := sort.Search(len(indexes), func(i int) bool { return indexes[i] >= blockIndex })
	if pos < len(indexes) && indexes[pos] == blockIndex {
		return nil
	}
	indexes = append(indexes, 0)
	copy(indexes[pos+1:], indexes[pos:])
	indexes[pos] = blockIndex

	raw, err := json.Marshal(indexes)
	if err != nil {
		return errors.Wrap(err, "failed to encode index entry")
	}
	return db.Put([]byte(key), raw)
}

// lookupIndex returns the sorted list of block indexes recorded for key,
// or an empty slice if key has never been indexed.
func lookupIndex(db database.Database, key string) ([]uint64, error) {
	raw, err := db.Get([]byte(key))
	if err == database.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var indexes []uint64
	if err := json.Unmarshal(raw, &indexes); err != nil {
		return nil, errors.Wrap(err, "failed to decode index entry")
	}
	return indexes, nil
}
