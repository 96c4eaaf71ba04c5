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

import (
	"crypto/sha256"
	"encoding/hex"
)

// H0 is the fixed Merkle root constant used by the genesis block, which has
// no transactions of its own.
const H0 = "1183f7f0cb6243e92d5e4ba2fb626b02bca27ffe89c77dcbd7003167405da253"

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MerkleRoot computes the recursive pairwise SHA-256 root over txs: hash
// each transaction's canonical JSON, then repeatedly hash consecutive
// pairs, carrying an odd tail through unchanged, until one hash remains.
// An empty slice yields H0, the genesis root constant.
func MerkleRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return H0
	}
	level := make([]string, len(txs))
	for i, t := range txs {
		level[i] = sha256Hex(t.CanonicalJSON())
	}
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, sha256Hex([]byte(level[i]+level[i+1])))
			} else {
				// odd tail: carried through unchanged
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}
