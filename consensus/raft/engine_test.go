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

package raft

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ground-x/ledgernode/blockchain"
	"github.com/ground-x/ledgernode/consensus"
	"github.com/ground-x/ledgernode/storage/blockstore"
	"github.com/ground-x/ledgernode/storage/database"
)

// hub wires a set of Engines together through an in-memory Transport per
// node. Deliveries happen on their own goroutines, matching a real network
// transport's asynchrony: this matters because Broadcast is called while an
// Engine holds its own mu (see engine.go's *Locked helpers), and a
// synchronous delivery that looped straight back into the same goroutine
// would self-deadlock on that mutex.
type hub struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

func newHub() *hub { return &hub{engines: map[string]*Engine{}} }

func (h *hub) register(id string, e *Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engines[id] = e
}

func (h *hub) peerIDs(exclude string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var ids []string
	for id := range h.engines {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	return ids
}

func (h *hub) deliver(from, to string, env consensus.Envelope) {
	h.mu.Lock()
	eng, ok := h.engines[to]
	h.mu.Unlock()
	if !ok {
		return
	}
	if env.Command != "" {
		_ = eng.HandleCommand(env, func(reply consensus.Envelope) error {
			h.deliver(to, from, reply)
			return nil
		})
		return
	}
	if env.DataName != "" {
		_ = eng.HandleData(env)
	}
}

type memTransport struct {
	selfID string
	hub    *hub
}

func (t *memTransport) Broadcast(env consensus.Envelope) {
	for _, id := range t.hub.peerIDs(t.selfID) {
		id := id
		go t.hub.deliver(t.selfID, id, env)
	}
}

func (t *memTransport) SendToNode(nodeID string, env consensus.Envelope) error {
	go t.hub.deliver(t.selfID, nodeID, env)
	return nil
}

func testConfig() Config {
	return Config{
		KeepaliveInterval:   20 * time.Millisecond,
		ElectionMinInterval: 100 * time.Millisecond,
		ElectionMaxInterval: 200 * time.Millisecond,
	}
}

func newTestChain(t *testing.T) *blockchain.Chain {
	t.Helper()
	store, err := blockstore.Open(database.Memory, t.TempDir(), nil, "1.0", 0)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return blockchain.NewChain("1.0", store)
}

// newCluster builds len(ids) Engines sharing one hub, returning a lookup by
// node ID, the mutex guarding the sealed map, and a map recording every
// block each node's onBlockSealed callback observed.
func newCluster(t *testing.T, ids []string) (map[string]*Engine, *sync.Mutex, map[string][]*blockchain.Block) {
	t.Helper()
	h := newHub()
	engines := map[string]*Engine{}
	var sealedMu sync.Mutex
	sealed := map[string][]*blockchain.Block{}

	for _, id := range ids {
		id := id
		var peers []consensus.Node
		for _, other := range ids {
			if other != id {
				peers = append(peers, consensus.Node{ID: other, URL: other})
			}
		}
		chain := newTestChain(t)
		transport := &memTransport{selfID: id, hub: h}
		e := NewEngine(id, peers, chain, transport, testConfig(), func(b *blockchain.Block) {
			sealedMu.Lock()
			sealed[id] = append(sealed[id], b)
			sealedMu.Unlock()
		})
		// These tests drive the engine by calling onTimerFire/HandleCommand
		// directly rather than running StartConsensus's loop, but
		// resetTimerLocked still expects a live timer to reset.
		e.mu.Lock()
		e.timer = time.NewTimer(time.Hour)
		e.mu.Unlock()
		engines[id] = e
		h.register(id, e)
	}
	return engines, &sealedMu, sealed
}

func (e *Engine) snapshotRoleAndLeader() (role, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role, e.leaderID
}

func (e *Engine) snapshotConsensus(seq uint64) (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.provisionalBlocks[seq]
	if !ok {
		return 0, false
	}
	return entry.Consensus, true
}

func TestElectionReachesLeaderByQuorum(t *testing.T) {
	engines, _, _ := newCluster(t, []string{"n1", "n2", "n3"})
	n1 := engines["n1"]

	n1.onTimerFire() // triggers startElectionLocked, since role starts Follower

	require.Eventually(t, func() bool {
		r, leader := n1.snapshotRoleAndLeader()
		return r == roleLeader && leader == "n1"
	}, time.Second, 5*time.Millisecond)
}

func TestLeaderReplicatesAndSealsBlock(t *testing.T) {
	engines, sealedMu, sealed := newCluster(t, []string{"n1", "n2", "n3"})
	n1 := engines["n1"]

	n1.onTimerFire()
	require.Eventually(t, func() bool {
		r, _ := n1.snapshotRoleAndLeader()
		return r == roleLeader
	}, time.Second, 5*time.Millisecond)

	raw := json.RawMessage(`{"transactionId":"1"}`)
	require.NoError(t, n1.HandleCommand(consensus.Envelope{Command: consensus.CommandAddTransaction, Data: raw}, nil))

	// Wait for both followers to ack the replicated entry (1 self + 2 acks
	// = 3, above the 2-node quorum for a 3-node cluster), so both hold the
	// entry before the commit-sweep notice reaches them.
	require.Eventually(t, func() bool {
		consensusCount, ok := n1.snapshotConsensus(1)
		return ok && consensusCount >= 3
	}, time.Second, 5*time.Millisecond)

	n1.runLeaderCommitSweep()

	require.Eventually(t, func() bool {
		sealedMu.Lock()
		defer sealedMu.Unlock()
		return len(sealed["n1"]) == 1
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 0, len(n1.chain.Pool().Confirmed()))

	// Followers drain their own copy once the commit-sweep notice arrives.
	require.Eventually(t, func() bool {
		sealedMu.Lock()
		defer sealedMu.Unlock()
		return len(sealed["n2"]) == 1 && len(sealed["n3"]) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSingleNodeLeaderSealsOwnEntry(t *testing.T) {
	engines, sealedMu, sealed := newCluster(t, []string{"n1"})
	n1 := engines["n1"]

	// A zero-peer candidate is quorate on its own vote alone.
	n1.onTimerFire()
	require.Eventually(t, func() bool {
		r, _ := n1.snapshotRoleAndLeader()
		return r == roleLeader
	}, time.Second, 5*time.Millisecond)

	raw := json.RawMessage(`{"transactionId":"1"}`)
	require.NoError(t, n1.HandleCommand(consensus.Envelope{Command: consensus.CommandAddTransaction, Data: raw}, nil))

	// No appended replies will ever arrive; the leader's own ack must be
	// enough to clear the quorum of 1 and seal the block.
	n1.runLeaderCommitSweep()

	sealedMu.Lock()
	defer sealedMu.Unlock()
	require.Len(t, sealed["n1"], 1)
	require.Len(t, sealed["n1"][0].Transactions, 1)
}

func TestClientCommandQueuesWhenNotLeaderAndForwardsOnFlush(t *testing.T) {
	chain := newTestChain(t)
	transport := &recordingTransport{}
	e := NewEngine("n1", []consensus.Node{{ID: "n2"}}, chain, transport, testConfig(), nil)

	raw := json.RawMessage(`{"transactionId":"1"}`)
	require.NoError(t, e.HandleCommand(consensus.Envelope{Command: consensus.CommandAddTransaction, Data: raw}, nil))

	e.mu.Lock()
	require.Len(t, e.transactionBacklog, 1)
	e.mu.Unlock()

	e.mu.Lock()
	e.leaderID = "n2"
	e.mu.Unlock()

	e.flushBacklogs()

	transport.mu.Lock()
	require.Len(t, transport.sent, 1)
	require.Equal(t, consensus.CommandAddTransaction, transport.sent[0].Command)
	transport.mu.Unlock()

	e.mu.Lock()
	require.Empty(t, e.transactionBacklog)
	e.mu.Unlock()
}

func TestClientCommandStaysQueuedWhenForwardFails(t *testing.T) {
	chain := newTestChain(t)
	transport := &recordingTransport{sendErr: errors.New("unreachable")}
	e := NewEngine("n1", []consensus.Node{{ID: "n2"}}, chain, transport, testConfig(), nil)

	raw := json.RawMessage(`{"transactionId":"1"}`)
	require.NoError(t, e.HandleCommand(consensus.Envelope{Command: consensus.CommandAddTransaction, Data: raw}, nil))

	e.mu.Lock()
	e.leaderID = "n2"
	e.mu.Unlock()

	e.flushBacklogs()

	e.mu.Lock()
	require.Len(t, e.transactionBacklog, 1)
	e.mu.Unlock()
}

type recordingTransport struct {
	mu      sync.Mutex
	sent    []consensus.Envelope
	sendErr error
}

func (r *recordingTransport) Broadcast(consensus.Envelope) {}

func (r *recordingTransport) SendToNode(nodeID string, env consensus.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, env)
	return nil
}
