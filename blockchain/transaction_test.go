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
	"encoding/json"
	"testing"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/require"
)

func TestTransactionRoundTrip(t *testing.T) {
	id := uuid.NewV4().String()
	raw := []byte(`{"transactionId":"` + id + `","articleCode":"4900000000001","tradingDate":1639065600000,"nested":{"b":2,"a":1}}`)

	tx, err := DecodeTransaction(raw)
	require.NoError(t, err)

	gotID, ok := tx.TransactionID()
	require.True(t, ok)
	require.Equal(t, id, gotID)

	encoded, err := json.Marshal(tx)
	require.NoError(t, err)

	tx2, err := DecodeTransaction(encoded)
	require.NoError(t, err)
	require.Equal(t, tx.CanonicalJSON(), tx2.CanonicalJSON())
}

func TestTransactionTemporaryLifecycle(t *testing.T) {
	tx := NewTransaction(map[string]interface{}{"transactionId": "abc"})
	require.False(t, tx.IsTemporary())

	tx.MarkTemporary(1234)
	require.True(t, tx.IsTemporary())

	v, ok := tx.Get("@temp")
	require.True(t, ok)
	require.EqualValues(t, 1234, v)

	tx.ClearTemporary()
	require.False(t, tx.IsTemporary())
}

func TestCanonicalJSONSortsKeysAtEveryLevel(t *testing.T) {
	tx, err := DecodeTransaction([]byte(`{"z":1,"a":{"y":2,"x":3}}`))
	require.NoError(t, err)

	require.Equal(t, `{"a":{"x":3,"y":2},"z":1}`, string(tx.CanonicalJSON()))
}

func TestCanonicalJSONPreservesBigIntegerText(t *testing.T) {
	tx, err := DecodeTransaction([]byte(`{"amount":123456789012345678901234567890}`))
	require.NoError(t, err)

	require.Contains(t, string(tx.CanonicalJSON()), "123456789012345678901234567890")
}

func TestDecodeTransactionBatchAcceptsBareObjectOrArray(t *testing.T) {
	single, err := DecodeTransactionBatch([]byte(`{"transactionId":"1"}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	id, ok := single[0].TransactionID()
	require.True(t, ok)
	require.Equal(t, "1", id)

	batch, err := DecodeTransactionBatch([]byte(`[{"transactionId":"1"},{"transactionId":"2"}]`))
	require.NoError(t, err)
	require.Len(t, batch, 2)
	id1, _ := batch[0].TransactionID()
	id2, _ := batch[1].TransactionID()
	require.Equal(t, "1", id1)
	require.Equal(t, "2", id2)
}
