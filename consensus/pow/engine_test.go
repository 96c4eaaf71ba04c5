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

package pow

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ground-x/ledgernode/blockchain"
	"github.com/ground-x/ledgernode/consensus"
	"github.com/ground-x/ledgernode/consensus/raft"
	"github.com/ground-x/ledgernode/storage/blockstore"
	"github.com/ground-x/ledgernode/storage/database"
)

// hub and memTransport mirror consensus/raft's test double: asynchronous,
// per-node delivery so a Broadcast issued while an Engine holds its own
// lock never loops back into the same goroutine's call stack.
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

func testConfig() raft.Config {
	return raft.Config{
		KeepaliveInterval:   15 * time.Millisecond,
		ElectionMinInterval: 40 * time.Millisecond,
		ElectionMaxInterval: 80 * time.Millisecond,
	}
}

func newTestChain(t *testing.T) *blockchain.Chain {
	t.Helper()
	store, err := blockstore.Open(database.Memory, t.TempDir(), nil, "1.0", 0)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return blockchain.NewChain("1.0", store)
}

func TestPoWLeaderSealsAndFollowersApplySameNonce(t *testing.T) {
	ids := []string{"n1", "n2", "n3"}
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
		engines[id] = e
		h.register(id, e)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, e := range engines {
		e := e
		go e.StartConsensus(ctx)
	}

	var leader *Engine
	require.Eventually(t, func() bool {
		for _, e := range engines {
			if e.IsLeader() {
				leader = e
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	raw := json.RawMessage(`{"transactionId":"1"}`)
	require.NoError(t, leader.HandleCommand(consensus.Envelope{Command: consensus.CommandAddTransaction, Data: raw}, nil))

	require.Eventually(t, func() bool {
		sealedMu.Lock()
		defer sealedMu.Unlock()
		return len(sealed["n1"]) == 1 && len(sealed["n2"]) == 1 && len(sealed["n3"]) == 1
	}, 3*time.Second, 10*time.Millisecond)

	sealedMu.Lock()
	defer sealedMu.Unlock()
	for _, id := range ids {
		require.Len(t, sealed[id], 1)
		require.True(t, len(sealed[id][0].Hash) > 0)
		require.Equal(t, "0000", sealed[id][0].Hash[:4])
	}
	require.Equal(t, sealed["n1"][0].Hash, sealed["n2"][0].Hash)
	require.Equal(t, sealed["n1"][0].Hash, sealed["n3"][0].Hash)
}

func TestStartPowRepliesWithCandidateWithoutSealing(t *testing.T) {
	chain := newTestChain(t)
	e := NewEngine("n1", nil, chain, &memTransport{selfID: "n1", hub: newHub()}, testConfig(), nil)

	// startPow only reads pool state, so seed the pool directly rather
	// than driving an election.
	tx, err := blockchain.DecodeTransaction([]byte(`{"transactionId":"1"}`))
	require.NoError(t, err)
	chain.AddTransaction(tx)

	var got consensus.Envelope
	err = e.HandleCommand(consensus.Envelope{Command: consensus.CommandStartPow, Data: json.RawMessage(`{"beginTime":0}`)}, func(env consensus.Envelope) error {
		got = env
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, consensus.DataNameCandidateForPow, got.DataName)

	var candidate candidatePayload
	require.NoError(t, json.Unmarshal(got.Data, &candidate))
	require.Equal(t, uint64(1), candidate.Index)

	// startPow must not have drained or sealed anything.
	require.Equal(t, 1, len(chain.Pool().Confirmed()))
}
