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

// Package blockchain implements the transaction pool, Merkle hashing, block
// sealing and chain validation logic of the ledger node.
package blockchain

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// idAttr is the only attribute a Transaction interprets itself: a stable
// client-supplied primary key used for commit/revocation of temporary
// transactions.
const idAttr = "transactionId"

// tempAttr marks a transaction accepted in temporary mode. Its value is the
// wall-clock timestamp (ms) at acceptance; its presence means the
// transaction is pending finalization via commitTransaction.
const tempAttr = "@temp"

// ErrMissingTransactionID is returned where an operation requires a
// transactionId that the transaction does not carry.
var ErrMissingTransactionID = errors.New("transaction has no transactionId")

// Transaction is an opaque, client-supplied JSON object. The node only ever
// looks at transactionId and the internal @temp annotation; every other
// attribute passes through untouched.
//
// Two Transactions are only ever "the same" by Go pointer identity, never
// by content: the pool's deduplication-on-insert rule depends on that, and
// identical-content transactions with distinct references coexist.
type Transaction struct {
	fields map[string]interface{}
}

// NewTransaction wraps a decoded JSON object as a Transaction. The caller
// must not mutate fields afterwards; use Set/Delete instead.
func NewTransaction(fields map[string]interface{}) *Transaction {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return &Transaction{fields: fields}
}

// DecodeTransaction decodes a single JSON transaction object, preserving
// numeric literals (including values too large for float64) via
// json.Number so the Merkle hash and canonical re-encoding stay stable.
func DecodeTransaction(data []byte) (*Transaction, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "decode transaction")
	}
	return NewTransaction(m), nil
}

// MarshalJSON re-encodes the transaction. encoding/json sorts map[string]any
// keys, so this is also the canonical form used for Merkle hashing.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.fields)
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	tx, err := DecodeTransaction(data)
	if err != nil {
		return err
	}
	t.fields = tx.fields
	return nil
}

// Get returns the raw decoded value for an attribute.
func (t *Transaction) Get(key string) (interface{}, bool) {
	v, ok := t.fields[key]
	return v, ok
}

// Set assigns an attribute, overwriting any existing value.
func (t *Transaction) Set(key string, value interface{}) {
	t.fields[key] = value
}

// Delete removes an attribute if present.
func (t *Transaction) Delete(key string) {
	delete(t.fields, key)
}

// TransactionID returns the transactionId attribute, if present and a
// string.
func (t *Transaction) TransactionID() (string, bool) {
	v, ok := t.fields[idAttr]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IsTemporary reports whether the transaction still carries the @temp
// annotation, i.e. it is pending finalization.
func (t *Transaction) IsTemporary() bool {
	_, ok := t.fields[tempAttr]
	return ok
}

// MarkTemporary stamps the transaction with the @temp annotation.
func (t *Transaction) MarkTemporary(acceptedAtMillis int64) {
	t.fields[tempAttr] = acceptedAtMillis
}

// ClearTemporary removes the @temp annotation, finalizing the transaction.
func (t *Transaction) ClearTemporary() {
	delete(t.fields, tempAttr)
}

// CanonicalJSON returns the deterministic JSON encoding used as Merkle leaf
// input: map keys sorted at every level, numbers kept in their original
// decimal text.
func (t *Transaction) CanonicalJSON() []byte {
	b, _ := json.Marshal(t.fields)
	return b
}

// DecodeTransactionBatch decodes a command payload that is either a single
// JSON transaction object or a JSON array of them, submitted together as
// one client command.
func DecodeTransactionBatch(data []byte) ([]*Transaction, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, errors.Wrap(err, "decode transaction batch")
		}
		out := make([]*Transaction, 0, len(raw))
		for _, item := range raw {
			tx, err := DecodeTransaction(item)
			if err != nil {
				return nil, err
			}
			out = append(out, tx)
		}
		return out, nil
	}
	tx, err := DecodeTransaction(trimmed)
	if err != nil {
		return nil, err
	}
	return []*Transaction{tx}, nil
}
