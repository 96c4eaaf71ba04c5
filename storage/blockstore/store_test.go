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
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ground-x/ledgernode/blockchain"
	"github.com/ground-x/ledgernode/storage/database"
)

func newTestStore(t *testing.T, indexKeys []string) *Store {
	t.Helper()
	s, err := Open(database.Memory, t.TempDir(), indexKeys, "1.0", 0)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func tx(fields map[string]interface{}) *blockchain.Transaction {
	return blockchain.NewTransaction(fields)
}

func seal(t *testing.T, store *Store, version string, txs []*blockchain.Transaction, timestamp int64) *blockchain.Block {
	t.Helper()
	block, err := store.SealAndAppend(func(last *blockchain.Block) (*blockchain.Block, error) {
		root := blockchain.MerkleRoot(txs)
		const nonce = uint64(0)
		return &blockchain.Block{
			Version:      version,
			Index:        last.Index + 1,
			Timestamp:    timestamp,
			Nonce:        nonce,
			PrevHash:     last.Hash,
			Hash:         mustComputeHash(last.Hash, nonce, root),
			Transactions: txs,
		}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, block)
	return block
}

// mustComputeHash re-derives the block hash formula
// (SHA256(prevHash || dec(nonce) || rootHash)) for test fixtures, since
// blockchain.computeHash is unexported.
func mustComputeHash(prevHash string, nonce uint64, root string) string {
	data := prevHash + strconv.FormatUint(nonce, 10) + root
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestOpenBootstrapsGenesis(t *testing.T) {
	store := newTestStore(t, nil)
	last, err := store.Last()
	require.NoError(t, err)
	require.True(t, last.IsGenesis())
}

func TestGetAndLastAfterSeal(t *testing.T) {
	store := newTestStore(t, nil)
	block := seal(t, store, "1.0", []*blockchain.Transaction{tx(map[string]interface{}{"transactionId": "1"})}, 1000)

	got, err := store.Get(uint64(block.Index))
	require.NoError(t, err)
	require.Equal(t, block.Hash, got.Hash)

	last, err := store.Last()
	require.NoError(t, err)
	require.Equal(t, block.Index, last.Index)

	missing, err := store.Get(999)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestEqualityQuery(t *testing.T) {
	store := newTestStore(t, []string{"articleCode"})

	seal(t, store, "1.0", []*blockchain.Transaction{tx(map[string]interface{}{"transactionId": "1", "articleCode": "4900000000004"})}, 1)
	seal(t, store, "1.0", []*blockchain.Transaction{tx(map[string]interface{}{"transactionId": "2", "articleCode": "4900000000005"})}, 2)

	cond := []byte(`{"conditions":{"articleCode":"4900000000004"}}`)
	results, err := store.Query(Query{Direction: Backward, Limit: 10, TransactionCondition: cond})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Block.Transactions, 1)
	id, _ := results[0].Block.Transactions[0].TransactionID()
	require.Equal(t, "1", id)
}

func TestRangeAndDisjunctionQuery(t *testing.T) {
	store := newTestStore(t, []string{"recipientCompanyId", "inspectionCompanyId"})

	mk := func(id string, recipient, inspection int, tradingDate int64) *blockchain.Transaction {
		return tx(map[string]interface{}{
			"transactionId":        id,
			"recipientCompanyId":   recipient,
			"inspectionCompanyId":  inspection,
			"tradingDate":          tradingDate,
		})
	}

	seal(t, store, "1.0", []*blockchain.Transaction{mk("1", 1, 1, 20211110)}, 1)
	seal(t, store, "1.0", []*blockchain.Transaction{mk("2", 3, 9, 20211125)}, 2)
	seal(t, store, "1.0", []*blockchain.Transaction{mk("3", 9, 4, 20211203)}, 3)
	seal(t, store, "1.0", []*blockchain.Transaction{mk("4", 9, 9, 20211220)}, 4)

	cond := []byte(`[
		{"operation":"or","conditions":{"recipientCompanyId":3,"inspectionCompanyId":4}},
		{"operation":"between","conditions":{"tradingDate":{"begin":20211115,"end":20211215}}}
	]`)
	results, err := store.Query(Query{Direction: Forward, Limit: 10, TransactionCondition: cond})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, blockchain.BlockIndex(2), results[0].Index)
	require.Equal(t, blockchain.BlockIndex(3), results[1].Index)
}

func TestSubstringQuery(t *testing.T) {
	store := newTestStore(t, []string{"cocCertificateCode"})

	for i := 1; i <= 4; i++ {
		seal(t, store, "1.0", []*blockchain.Transaction{tx(map[string]interface{}{
			"transactionId":       string(rune('0' + i)),
			"cocCertificateCode": "JP-000" + string(rune('0'+i)),
		})}, int64(i))
	}

	cond := []byte(`{"ambiguous":true,"conditions":{"cocCertificateCode":"JP-000"}}`)
	results, err := store.Query(Query{Direction: Backward, Limit: 10, TransactionCondition: cond})
	require.NoError(t, err)

	total := 0
	for _, r := range results {
		total += len(r.Block.Transactions)
	}
	require.Equal(t, 4, total)
}

func TestQueryWithoutLimitReturnsWholeChain(t *testing.T) {
	store := newTestStore(t, nil)
	for i := 1; i <= 3; i++ {
		seal(t, store, "1.0", []*blockchain.Transaction{tx(map[string]interface{}{"transactionId": strconv.Itoa(i)})}, int64(i))
	}

	// No limit set: a bootstrapping node's getBlocks(direction: forward)
	// must receive every block, not a default page.
	results, err := store.Query(Query{Direction: Forward})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, blockchain.BlockIndex(1), results[0].Index)
	require.Equal(t, blockchain.BlockIndex(3), results[2].Index)
}

func TestQuerySkipsGenesisAndAppliesHeaderOnly(t *testing.T) {
	store := newTestStore(t, nil)
	seal(t, store, "1.0", []*blockchain.Transaction{tx(map[string]interface{}{"transactionId": "1"})}, 500)

	results, err := store.Query(Query{Direction: Backward, Limit: 10, HeaderOnly: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Nil(t, results[0].Block)
	require.Equal(t, 1, results[0].TransactionCount)
}

func TestBulkAppendValidatesContiguityAllOrNothing(t *testing.T) {
	store := newTestStore(t, nil)
	genesis, _ := store.Last()

	root := blockchain.MerkleRoot([]*blockchain.Transaction{tx(map[string]interface{}{"transactionId": "1"})})
	b1 := &blockchain.Block{
		Version: "1.0", Index: 1, PrevHash: genesis.Hash, Nonce: 0,
		Hash:         mustComputeHash(genesis.Hash, 0, root),
		Transactions: []*blockchain.Transaction{tx(map[string]interface{}{"transactionId": "1"})},
	}
	bBroken := &blockchain.Block{Version: "1.0", Index: 2, PrevHash: "wrong", Hash: "wrong"}

	err := store.BulkAppend([]*blockchain.Block{b1, bBroken})
	require.Error(t, err)

	last, _ := store.Last()
	require.True(t, last.IsGenesis(), "no block should be written when any block in the batch fails validation")
}
