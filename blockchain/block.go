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
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// powPrefix is the required hash prefix for a sealed block in
// Proof-of-Work mode.
const powPrefix = "0000"

// BlockIndex is a block's position in the chain. On the wire it marshals
// as a decimal string (the BigInt-safe form) and unmarshals from either
// that string or a bare JSON number.
type BlockIndex uint64

func (i BlockIndex) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(i), 10) + `"`), nil
}

func (i *BlockIndex) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return errors.Errorf("invalid block index %q", s)
	}
	if !n.IsUint64() {
		return errors.Errorf("block index %q out of range", s)
	}
	*i = BlockIndex(n.Uint64())
	return nil
}

// Block is an immutable, hash-chained batch of transactions. For any
// non-genesis block, Hash covers PrevHash, the decimal nonce, and the
// Merkle root of Transactions.
type Block struct {
	Version      string         `json:"version"`
	Index        BlockIndex     `json:"index"`
	Timestamp    int64          `json:"timestamp"`
	Nonce        uint64         `json:"nonce"`
	PrevHash     string         `json:"prevHash"`
	Hash         string         `json:"hash"`
	Transactions []*Transaction `json:"transactions"`
}

// IsGenesis reports whether b is block 0.
func (b *Block) IsGenesis() bool {
	return b.Index == 0
}

// computeHash implements hash == SHA256(prevHash || dec(nonce) || rootHash).
func computeHash(prevHash string, nonce uint64, rootHash string) string {
	data := prevHash + strconv.FormatUint(nonce, 10) + rootHash
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// HasProofOfWork reports whether hash begins with the PoW prefix.
func HasProofOfWork(hash string) bool {
	return strings.HasPrefix(hash, powPrefix)
}

// NewGenesisBlock synthesizes block 0: empty transactions, prevHash "",
// rootHash the H0 constant, nonce 0.
func NewGenesisBlock(version string, timestampMillis int64) *Block {
	b := &Block{
		Version:      version,
		Index:        0,
		Timestamp:    timestampMillis,
		Nonce:        0,
		PrevHash:     "",
		Transactions: []*Transaction{},
	}
	b.Hash = computeHash("", 0, H0)
	return b
}

// FindProofOfWorkNonce searches upward from nonce 0 for the first nonce
// producing a hash with the PoW prefix, given a fixed prevHash/rootHash.
func FindProofOfWorkNonce(prevHash, rootHash string) uint64 {
	for nonce := uint64(0); ; nonce++ {
		if HasProofOfWork(computeHash(prevHash, nonce, rootHash)) {
			return nonce
		}
	}
}
