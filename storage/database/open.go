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

import "github.com/pkg/errors"

// ErrNotFound is returned by Get when the key does not exist, matching
// goleveldb's and badger's own not-found semantics so callers can check
// with a single sentinel regardless of backend.
var ErrNotFound = errors.New("database: key not found")

// Open opens a Database of the given backend at path. Memory ignores path
// and cache/handle sizing entirely.
func Open(backend Backend, path string, cacheSizeMB, numHandles int) (Database, error) {
	switch backend {
	case LevelDB:
		return NewLevelDB(path, cacheSizeMB, numHandles)
	case Badger:
		return NewBadgerDB(path)
	case Memory:
		return NewMemoryDB(), nil
	default:
		return nil, errors.Errorf("database: unknown backend %q", backend)
	}
}
