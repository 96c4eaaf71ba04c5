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
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ground-x/ledgernode/blockchain"
	"github.com/ground-x/ledgernode/storage/database"
)

// Direction controls iteration order for restoreBlocks queries.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// ConditionKind tags which variant a parsed Condition is.
type ConditionKind int

const (
	Equality ConditionKind = iota
	Substring
	Between
)

// ValueRange is a parsed {begin, end} pair for a "between" condition key.
type ValueRange struct {
	Begin interface{}
	End   interface{}
}

// Condition is the parsed, validated form of a wire TransactionCondition.
// Equality and Substring conditions carry per-key scalar values combined
// by Operation ("or" default, disjunction; "and", conjunction). Between
// conditions carry per-key ranges, all of which must pass (keys with a
// missing or inverted {begin,end} are dropped during parsing).
type Condition struct {
	Kind      ConditionKind
	Operation string
	Values    map[string]interface{}
	Ranges    map[string]ValueRange
}

type wireCondition struct {
	Operation  string                     `json:"operation"`
	Ambiguous  bool                       `json:"ambiguous"`
	Conditions map[string]json.RawMessage `json:"conditions"`
}

type wireRange struct {
	Begin json.RawMessage `json:"begin"`
	End   json.RawMessage `json:"end"`
}

func decodeJSONValue(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func parseCondition(raw json.RawMessage) (Condition, error) {
	var w wireCondition
	if err := json.Unmarshal(raw, &w); err != nil {
		return Condition{}, errors.Wrap(err, "failed to parse transactionCondition")
	}
	op := w.Operation
	if op == "" {
		op = "or"
	}

	if op == "between" {
		ranges := make(map[string]ValueRange)
		for key, rawRange := range w.Conditions {
			var wr wireRange
			if err := json.Unmarshal(rawRange, &wr); err != nil {
				continue
			}
			begin, err1 := decodeJSONValue(wr.Begin)
			end, err2 := decodeJSONValue(wr.End)
			if err1 != nil || err2 != nil || begin == nil || end == nil {
				continue // silently drop keys with missing begin/end
			}
			cmp, ok := compareValues(begin, end)
			if !ok || cmp > 0 {
				continue // silently drop inverted ranges
			}
			ranges[key] = ValueRange{Begin: begin, End: end}
		}
		return Condition{Kind: Between, Operation: op, Ranges: ranges}, nil
	}

	values := make(map[string]interface{}, len(w.Conditions))
	for key, rawVal := range w.Conditions {
		v, err := decodeJSONValue(rawVal)
		if err != nil {
			continue
		}
		values[key] = v
	}
	kind := Equality
	if w.Ambiguous {
		kind = Substring
	}
	return Condition{Kind: kind, Operation: op, Values: values}, nil
}

// ParseConditions normalizes the wire transactionCondition shape (a
// single object or an ordered array of objects) into the Condition slice
// applied as successive AND filters.
func ParseConditions(raw json.RawMessage) ([]Condition, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rawConditions []json.RawMessage
		if err := json.Unmarshal(trimmed, &rawConditions); err != nil {
			return nil, errors.Wrap(err, "failed to parse transactionCondition array")
		}
		conditions := make([]Condition, 0, len(rawConditions))
		for _, rc := range rawConditions {
			c, err := parseCondition(rc)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, c)
		}
		return conditions, nil
	}
	c, err := parseCondition(trimmed)
	if err != nil {
		return nil, err
	}
	return []Condition{c}, nil
}

// compareValues compares two decoded values, preferring numeric
// comparison (both sides as json.Number or float64) and falling back to
// lexical string comparison for dates and other sortable text. ok is
// always true, since the string fallback applies to any pair of values.
func compareValues(a, b interface{}) (int, bool) {
	an, aok := toFloat(a)
	bn, bok := toFloat(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	as, bs := stringifyValue(a), stringifyValue(b)
	return strings.Compare(as, bs), true
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		return f, err == nil
	case float64:
		return t, true
	}
	return 0, false
}

func matchOne(kind ConditionKind, v, want interface{}) bool {
	if kind == Substring {
		return strings.Contains(stringifyValue(v), stringifyValue(want))
	}
	return stringifyValue(v) == stringifyValue(want)
}

// matches reports whether tx satisfies c.
func (c Condition) matches(tx *blockchain.Transaction) bool {
	if c.Kind == Between {
		if len(c.Ranges) == 0 {
			return false
		}
		for key, r := range c.Ranges {
			v, ok := tx.Get(key)
			if !ok {
				return false
			}
			lo, ok1 := compareValues(v, r.Begin)
			hi, ok2 := compareValues(v, r.End)
			if !ok1 || !ok2 || lo < 0 || hi > 0 {
				return false
			}
		}
		return true
	}
	if len(c.Values) == 0 {
		return false
	}
	if c.Operation == "and" {
		for key, want := range c.Values {
			v, ok := tx.Get(key)
			if !ok || !matchOne(c.Kind, v, want) {
				return false
			}
		}
		return true
	}
	for key, want := range c.Values {
		v, ok := tx.Get(key)
		if ok && matchOne(c.Kind, v, want) {
			return true
		}
	}
	return false
}

// keys returns the attribute names a condition mentions.
func (c Condition) keys() []string {
	if c.Kind == Between {
		keys := make([]string, 0, len(c.Ranges))
		for k := range c.Ranges {
			keys = append(keys, k)
		}
		return keys
	}
	keys := make([]string, 0, len(c.Values))
	for k := range c.Values {
		keys = append(keys, k)
	}
	return keys
}

// Query is a parsed block query: direction/offset/limit, timestamp
// bounds, transaction-condition filtering, and header-only projection.
type Query struct {
	Direction            Direction
	Offset               int
	Limit                int
	TimestampStart       *int64
	TimestampEnd         *int64
	HeaderOnly           bool
	TransactionCondition json.RawMessage
}

type wireQuery struct {
	Direction            Direction       `json:"direction"`
	Offset               int             `json:"offset"`
	Limit                int             `json:"limit"`
	TimestampStart       *int64          `json:"timestampStart"`
	TimestampEnd         *int64          `json:"timestampEnd"`
	HeaderOnly           bool            `json:"headerOnly"`
	TransactionCondition json.RawMessage `json:"transactionCondition"`
}

// ParseQuery decodes a restoreBlocks(query) request body into a Query.
func ParseQuery(raw []byte) (Query, error) {
	var w wireQuery
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &w); err != nil {
			return Query{}, errors.Wrap(err, "failed to parse query")
		}
	}
	return Query{
		Direction:            w.Direction,
		Offset:               w.Offset,
		Limit:                w.Limit,
		TimestampStart:       w.TimestampStart,
		TimestampEnd:         w.TimestampEnd,
		HeaderOnly:           w.HeaderOnly,
		TransactionCondition: w.TransactionCondition,
	}, nil
}

// Result is one emitted query entry: either a full (possibly
// transaction-filtered) block, or, when HeaderOnly is set, just its header
// summary. On the wire a Result is the block itself (so a getBlocks reply
// is a plain [Block] a peer can feed straight into setBlocks), or the
// {index, timestamp, transactionCount} header object in its place.
type Result struct {
	Index            blockchain.BlockIndex
	Timestamp        int64
	TransactionCount int
	Block            *blockchain.Block
}

type resultHeader struct {
	Index            blockchain.BlockIndex `json:"index"`
	Timestamp        int64                 `json:"timestamp"`
	TransactionCount int                   `json:"transactionCount"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Block != nil {
		return json.Marshal(r.Block)
	}
	return json.Marshal(resultHeader{Index: r.Index, Timestamp: r.Timestamp, TransactionCount: r.TransactionCount})
}

func (s *Store) isIndexKey(key string) bool {
	for _, k := range s.indexKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Query implements restoreBlocks(query): direction/offset/limit,
// timestamp bounds, transactionCondition filtering, headerOnly
// projection, and the index-assisted fast path.
func (s *Store) Query(q Query) ([]Result, error) {
	conditions, err := ParseConditions(q.TransactionCondition)
	if err != nil {
		return nil, err
	}
	direction := q.Direction
	if direction == "" {
		direction = Backward
	}
	// An absent (or non-positive) limit means unbounded: node bootstrap
	// issues getBlocks(direction: forward) with no limit and must receive
	// the whole chain.
	limit := q.Limit

	if candidates, ok := s.fastPathCandidates(conditions); ok {
		return s.queryCandidates(candidates, conditions, q, direction, limit)
	}
	return s.queryScan(conditions, q, direction, limit)
}

// fastPathCandidates attempts to resolve a candidate block-index set
// purely from the secondary indexes. It is eligible only when every key
// mentioned by every condition is a configured indexKey and no condition
// is a "between" range; anything else falls back to the ordered scan.
func (s *Store) fastPathCandidates(conditions []Condition) (map[uint64]bool, bool) {
	if len(conditions) == 0 {
		return nil, false
	}
	for _, c := range conditions {
		if c.Kind == Between {
			return nil, false
		}
		for _, k := range c.keys() {
			if !s.isIndexKey(k) {
				return nil, false
			}
		}
	}

	final := map[uint64]bool(nil)
	for _, c := range conditions {
		combined := map[uint64]bool{}
		first := true
		for key, want := range c.Values {
			db := s.indexes[key]
			var idxs []uint64
			var err error
			if c.Kind == Substring {
				idxs, err = substringLookup(db, stringifyValue(want))
			} else {
				idxs, err = lookupIndex(db, stringifyValue(want))
			}
			if err != nil {
				return nil, false
			}
			set := toSet(idxs)
			if c.Operation == "and" {
				if first {
					combined = set
					first = false
				} else {
					combined = intersect(combined, set)
				}
			} else {
				for k := range set {
					combined[k] = true
				}
			}
		}
		if final == nil {
			final = combined
		} else {
			final = intersect(final, combined)
		}
	}
	return final, true
}

func toSet(idxs []uint64) map[uint64]bool {
	set := make(map[uint64]bool, len(idxs))
	for _, i := range idxs {
		set[i] = true
	}
	return set
}

func intersect(a, b map[uint64]bool) map[uint64]bool {
	out := map[uint64]bool{}
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

// substringLookup scans an index keyspace's keys (the stringified
// attribute values) for needle and unions the block indexes of every
// matching key.
func substringLookup(db database.Database, needle string) ([]uint64, error) {
	it := db.NewIterator()
	defer it.Close()
	var out []uint64
	for ok := it.First(); ok; ok = it.Next() {
		if !strings.Contains(string(it.Key()), needle) {
			continue
		}
		var idxs []uint64
		if err := json.Unmarshal(it.Value(), &idxs); err != nil {
			return nil, err
		}
		out = append(out, idxs...)
	}
	return out, nil
}

func sortedDescending(in []uint64) []uint64 {
	out := append([]uint64(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

func sortedAscending(in []uint64) []uint64 {
	out := append([]uint64(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// evaluateBlock applies the full transaction-condition narrowing,
// timestamp bounds and genesis-skip rule to block, returning the emitted
// Result (or ok=false if the block should be skipped entirely).
func evaluateBlock(block *blockchain.Block, conditions []Condition, q Query) (Result, bool) {
	if block.IsGenesis() {
		return Result{}, false
	}
	if q.TimestampStart != nil && block.Timestamp < *q.TimestampStart {
		return Result{}, false
	}
	if q.TimestampEnd != nil && block.Timestamp > *q.TimestampEnd {
		return Result{}, false
	}

	survivors := block.Transactions
	for _, c := range conditions {
		var next []*blockchain.Transaction
		for _, tx := range survivors {
			if c.matches(tx) {
				next = append(next, tx)
			}
		}
		survivors = next
		if len(survivors) == 0 {
			return Result{}, false
		}
	}

	if q.HeaderOnly {
		return Result{Index: block.Index, Timestamp: block.Timestamp, TransactionCount: len(survivors)}, true
	}
	filtered := *block
	filtered.Transactions = survivors
	return Result{Index: block.Index, Timestamp: block.Timestamp, TransactionCount: len(survivors), Block: &filtered}, true
}

func (s *Store) queryCandidates(candidates map[uint64]bool, conditions []Condition, q Query, direction Direction, limit int) ([]Result, error) {
	indexes := make([]uint64, 0, len(candidates))
	for idx := range candidates {
		indexes = append(indexes, idx)
	}
	if direction == Forward {
		indexes = sortedAscending(indexes)
	} else {
		indexes = sortedDescending(indexes)
	}

	var results []Result
	skipped := 0
	for _, idx := range indexes {
		block, err := s.Get(idx)
		if err != nil {
			return nil, err
		}
		if block == nil {
			continue
		}
		result, ok := evaluateBlock(block, conditions, q)
		if !ok {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		results = append(results, result)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (s *Store) queryScan(conditions []Condition, q Query, direction Direction, limit int) ([]Result, error) {
	it := s.main.NewIterator()
	defer it.Close()

	step := func() bool {
		if direction == Forward {
			return it.Next()
		}
		return it.Prev()
	}
	var ok bool
	if direction == Forward {
		ok = it.First()
	} else {
		ok = it.Last()
	}

	var results []Result
	skipped := 0
	for ; ok; ok = step() {
		block, err := decodeBlock(it.Value())
		if err != nil {
			return nil, err
		}
		result, matched := evaluateBlock(block, conditions, q)
		if !matched {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		results = append(results, result)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}
