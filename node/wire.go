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

package node

import (
	"bytes"
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"
)

// decodeBlockIndex extracts the block index from a getBlock request. The
// wire value may arrive bare or wrapped in {index: ...}, and as either a
// JSON number or a decimal string (the BigInt-safe form every other numeric
// field uses); it is converted to the uint64 the block store indexes by.
func decodeBlockIndex(raw json.RawMessage) (uint64, error) {
	target := bytes.TrimSpace(raw)
	if len(target) > 0 && target[0] == '{' {
		var payload struct {
			Index json.RawMessage `json:"index"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return 0, errors.Wrap(err, "failed to decode getBlock payload")
		}
		target = payload.Index
	}
	s := string(bytes.Trim(bytes.TrimSpace(target), `"`))
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0, errors.Errorf("invalid block index %q", s)
	}
	if !n.IsUint64() {
		return 0, errors.Errorf("block index %q out of range", s)
	}
	return n.Uint64(), nil
}
