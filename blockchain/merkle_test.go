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
	"testing"

	"github.com/stretchr/testify/require"
)

func tx(id string) *Transaction {
	return NewTransaction(map[string]interface{}{"transactionId": id})
}

func TestMerkleRootSingleElement(t *testing.T) {
	txs := []*Transaction{tx("1")}
	root := MerkleRoot(txs)
	require.Equal(t, sha256Hex(txs[0].CanonicalJSON()), root)
}

func TestMerkleRootOddTailCarriesThrough(t *testing.T) {
	txs := []*Transaction{tx("1"), tx("2"), tx("3")}
	h1 := sha256Hex(txs[0].CanonicalJSON())
	h2 := sha256Hex(txs[1].CanonicalJSON())
	h3 := sha256Hex(txs[2].CanonicalJSON())
	pair := sha256Hex([]byte(h1 + h2))
	want := sha256Hex([]byte(pair + h3))
	require.Equal(t, want, MerkleRoot(txs))
}

func TestMerkleRootIsOrderSensitive(t *testing.T) {
	a := MerkleRoot([]*Transaction{tx("1"), tx("2")})
	b := MerkleRoot([]*Transaction{tx("2"), tx("1")})
	require.NotEqual(t, a, b)
}
