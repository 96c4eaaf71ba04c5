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

// Package consensus declares the Algorithm interface that both the
// Raft-like and Proof-of-Work consensus engines implement, along with the
// wire vocabulary (commands, data pushes, the message envelope) shared by
// every engine and the node orchestrator.
package consensus

import (
	"context"
	"encoding/json"
)

// Command names a request-style envelope that may produce a reply.
type Command string

const (
	CommandVote                    Command = "vote"
	CommandAppend                  Command = "append"
	CommandAddTransaction          Command = "addTransaction"
	CommandAddTemporaryTransaction Command = "addTemporaryTransaction"
	CommandCommitTransaction       Command = "commitTransaction"
	CommandGetNodes                Command = "getNodes"
	CommandGetBlocks               Command = "getBlocks"
	CommandGetBlock                Command = "getBlock"
	CommandGenerateGenesisBlock    Command = "generateGenesisBlock"
	CommandAddObserver             Command = "addObserver"
	CommandGetDiagnostics          Command = "getDiagnostics"
	CommandStartPow                Command = "startPow"
)

// DataName names a one-way data push envelope.
type DataName string

const (
	DataNameVoted                DataName = "voted"
	DataNameAppended             DataName = "appended"
	DataNameBlock                DataName = "block"
	DataNameNodes                DataName = "nodes"
	DataNameBlocks               DataName = "blocks"
	DataNameTransaction          DataName = "transaction"
	DataNameTemporaryTransaction DataName = "temporaryTransaction"
	DataNameCommittedTransaction DataName = "committedTransaction"
	DataNamePow                  DataName = "pow"
	DataNameCandidateForPow      DataName = "candidateForPow"
	DataNameDiagnostics          DataName = "diagnostics"
)

// Envelope is the single wire message shape: either a {command, data}
// request or a {dataName, data} one-way push. Exactly one
// of Command/DataName is set. Data is kept raw rather than decoded, since
// its shape depends on Command/DataName; each Algorithm implementation
// unmarshals it into the concrete payload type it expects.
type Envelope struct {
	Command  Command         `json:"command,omitempty"`
	DataName DataName        `json:"dataName,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ReplyFunc delivers a reply Envelope back to the peer that sent the
// original command, through whatever per-invocation channel the
// transport supplied.
type ReplyFunc func(Envelope) error

// Node describes one member of the fixed cluster membership list.
type Node struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Transport is the outbound message-passing channel: broadcast to the
// whole cluster, or send to one named node. The node package supplies the
// HTTP implementation; tests supply in-memory ones.
type Transport interface {
	Broadcast(env Envelope)
	SendToNode(nodeID string, env Envelope) error
}

// Algorithm is the tagged-variant interface both consensus/raft.Engine and
// consensus/pow.Engine implement; the orchestrator holds exactly one,
// selected at startup by the consensusAlgorithm config field.
type Algorithm interface {
	// StartConsensus arms the logical timer and begins participating in
	// the cluster. It returns once ctx is cancelled; Terminate stops the
	// timer but does not by itself make StartConsensus return.
	StartConsensus(ctx context.Context)
	// HandleCommand processes a request envelope, invoking reply (if
	// non-nil) with any response the protocol requires.
	HandleCommand(env Envelope, reply ReplyFunc) error
	// HandleData processes a one-way data push envelope.
	HandleData(env Envelope) error
	// Terminate cancels the timer and stops all further state mutation.
	Terminate()
}
