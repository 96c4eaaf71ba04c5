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

// Package raft implements the Raft-like consensus engine: leader election
// by randomized timeout, heartbeat, and log replication of provisional
// blocks.
package raft

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// EntryType tags what a provisional block entry will drain into on
// commit.
type EntryType string

const (
	EntryNormal    EntryType = "normal"
	EntryTemporary EntryType = "temporary"
	EntryCommit    EntryType = "commit"
)

// ProvisionalEntry is a unit of replication the leader or a follower is
// tracking pending commit.
type ProvisionalEntry struct {
	Sequence   uint64
	Type       EntryType
	Tx         json.RawMessage // Transaction-or-[Transaction] (normal/temporary) or transactionId-or-[transactionId] (commit), exactly as submitted
	AcceptedAt int64           // acceptance timestamp, set only for EntryTemporary
	Consensus  uint32
	Owner      string
}

// voteData is the payload of a {command: "vote"} envelope.
type voteData struct {
	ID   string `json:"id"`
	Term uint64 `json:"term"`
}

// votedData is the payload of a {dataName: "voted"} reply.
type votedData struct {
	Granted bool   `json:"granted"`
	From    string `json:"from"`
	Term    uint64 `json:"term"`
}

// appendEntry is the {entry: ...} sub-object of an append command. Either
// Sequence (a newly replicated entry) or Sequences (a commit-sweep
// notice) is set, never both.
type appendEntry struct {
	Sequence    uint64          `json:"sequence,omitempty"`
	Sequences   []uint64        `json:"sequences,omitempty"`
	Transaction json.RawMessage `json:"transaction,omitempty"`
	Type        EntryType       `json:"type,omitempty"`
	AcceptedAt  int64           `json:"acceptedAt,omitempty"`
}

// appendData is the payload of a {command: "append"} envelope: a bare
// heartbeat (Sequence set, Entry nil), a new-entry replication (Entry.Sequence
// set), or a commit-sweep notice (Entry.Sequences set).
type appendData struct {
	ID       string       `json:"id"`
	Term     uint64       `json:"term"`
	Sequence uint64       `json:"sequence,omitempty"`
	Entry    *appendEntry `json:"entry,omitempty"`
}

// appendedData is the payload of a {dataName: "appended"} reply.
type appendedData struct {
	From  string      `json:"from"`
	Term  uint64      `json:"term"`
	Entry appendEntry `json:"entry"`
}

// decodeTransactionIDBatch decodes a commitTransaction payload: a single
// JSON string, or a JSON array of strings, submitted together as one
// client command.
func decodeTransactionIDBatch(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var ids []string
		if err := json.Unmarshal(trimmed, &ids); err != nil {
			return nil, errors.Wrap(err, "decode transactionId batch")
		}
		return ids, nil
	}
	var id string
	if err := json.Unmarshal(trimmed, &id); err != nil {
		return nil, errors.Wrap(err, "decode transactionId")
	}
	return []string{id}, nil
}

// Config holds the engine's timing parameters, loaded from node.Config.
type Config struct {
	KeepaliveInterval   time.Duration
	ElectionMinInterval time.Duration
	ElectionMaxInterval time.Duration
	// HeartbeatAckEnabled controls whether followers ack plain heartbeats.
	// Off by default: the acks give the leader liveness sensing at the cost
	// of keeping it busy every keepalive tick.
	HeartbeatAckEnabled bool
}
