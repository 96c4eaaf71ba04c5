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

package node

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/ground-x/ledgernode/blockchain"
	"github.com/ground-x/ledgernode/consensus"
	"github.com/ground-x/ledgernode/consensus/pow"
	"github.com/ground-x/ledgernode/consensus/raft"
	"github.com/ground-x/ledgernode/log"
	"github.com/ground-x/ledgernode/storage/blockstore"
)

var logger = log.NewModuleLogger("node")

// diagnosable is satisfied by both consensus/raft.Engine and
// consensus/pow.Engine (the latter via embedding): it lets Dispatch build a
// getDiagnostics snapshot without the node package depending on either
// concrete engine type.
type diagnosable interface {
	IsLeader() bool
	LeaderID() string
	Term() uint64
}

// Node is the orchestrator: it owns Config, the block store, the
// blockchain engine, a single consensus.Algorithm, the outbound transport,
// and the observer registry.
type Node struct {
	cfg Config

	store     *blockstore.Store
	chain     *blockchain.Chain
	algorithm consensus.Algorithm
	transport *httpTransport
	observers *observerHub

	cancel context.CancelFunc
}

// New constructs a Node from cfg: opens the configured storage backend
// (creating the genesis block if the store is empty), builds the
// blockchain engine over it, and wires the consensus.Algorithm that
// Config.ConsensusAlgorithm names.
func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, err := cfg.storageBackend()
	if err != nil {
		return nil, err
	}
	store, err := blockstore.Open(backend, cfg.StoragePath, cfg.IndexKeys, cfg.BlockVersion, nowMillis())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open block store")
	}
	chain := blockchain.NewChain(cfg.BlockVersion, store)
	transport := newHTTPTransport(cfg.ID, cfg.Nodes)

	n := &Node{
		cfg:       cfg,
		store:     store,
		chain:     chain,
		transport: transport,
		observers: newObserverHub(),
	}
	// Replies a peer streams back on one of our own POSTs (voted, appended,
	// nodes, blocks) re-enter through the same Dispatch as any other inbound
	// message. They never carry a reply channel of their own.
	transport.onReply = func(env consensus.Envelope) {
		if err := n.Dispatch(env, nil); err != nil {
			logger.Warn("failed to apply peer reply", "dataName", env.DataName, "err", err)
		}
	}

	var peers []consensus.Node
	for _, peer := range cfg.Nodes {
		if peer.ID != cfg.ID {
			peers = append(peers, peer)
		}
	}
	rcfg := raft.Config{
		KeepaliveInterval:   millis(cfg.KeepaliveIntervalMillis),
		ElectionMinInterval: millis(cfg.ElectionMinIntervalMillis),
		ElectionMaxInterval: millis(cfg.ElectionMaxIntervalMillis),
	}

	switch cfg.ConsensusAlgorithm {
	case algorithmRaft:
		n.algorithm = raft.NewEngine(cfg.ID, peers, chain, transport, rcfg, n.onBlockSealed)
	case algorithmPoW:
		n.algorithm = pow.NewEngine(cfg.ID, peers, chain, transport, rcfg, n.onBlockSealed)
	default:
		store.Close()
		return nil, errors.Errorf("config: unknown consensusAlgorithm %q", cfg.ConsensusAlgorithm)
	}
	return n, nil
}

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

func (n *Node) onBlockSealed(block *blockchain.Block) {
	n.observers.Notify(block)
}

// Start runs the bootstrap sequence (getNodes, then
// getBlocks(direction: forward) to a random peer) and then starts the
// consensus algorithm. It returns once the algorithm's StartConsensus loop
// has been launched; that loop itself runs until ctx is cancelled.
func (n *Node) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.bootstrap()
	go n.algorithm.StartConsensus(ctx)
}

// Terminate cancels the consensus timer (by stopping the algorithm), then
// closes the block store. No further state mutation occurs after this
// returns.
func (n *Node) Terminate() {
	if n.cancel != nil {
		n.cancel()
	}
	n.algorithm.Terminate()
	n.store.Close()
}

// bootstrap performs node-start catch-up: issue getNodes and
// getBlocks(direction: forward) to a random peer. Both are one-way sends;
// the peer's replies arrive later as ordinary "nodes"/"blocks" data pushes
// handled by Dispatch.
func (n *Node) bootstrap() {
	peers := n.cfg.Nodes
	var candidates []consensus.Node
	for _, p := range peers {
		if p.ID != n.cfg.ID {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return
	}
	target := candidates[rand.Intn(len(candidates))]

	if err := n.transport.SendToNode(target.ID, consensus.Envelope{Command: consensus.CommandGetNodes}); err != nil {
		logger.Warn("bootstrap getNodes failed", "peer", target.ID, "err", err)
	}
	raw, _ := json.Marshal(blockstore.Query{Direction: blockstore.Forward})
	if err := n.transport.SendToNode(target.ID, consensus.Envelope{Command: consensus.CommandGetBlocks, Data: raw}); err != nil {
		logger.Warn("bootstrap getBlocks failed", "peer", target.ID, "err", err)
	}
}

// Dispatch routes one inbound Envelope. Orchestrator-level commands
// (getNodes/getBlock/getBlocks/generateGenesisBlock/addObserver/
// getDiagnostics) and data pushes (nodes/blocks) are handled here;
// everything else (vote/append/addTransaction/addTemporaryTransaction/
// commitTransaction/startPow and their data-push counterparts) is
// delegated to the configured consensus.Algorithm. Unknown commands are
// ignored.
func (n *Node) Dispatch(env consensus.Envelope, reply consensus.ReplyFunc) error {
	switch env.Command {
	case consensus.CommandGetNodes:
		return n.handleGetNodes(reply)
	case consensus.CommandGetBlock:
		return n.handleGetBlock(env.Data, reply)
	case consensus.CommandGetBlocks:
		return n.handleGetBlocks(env.Data, reply)
	case consensus.CommandGenerateGenesisBlock:
		return n.handleGenerateGenesisBlock()
	case consensus.CommandAddObserver:
		return n.handleAddObserver(reply)
	case consensus.CommandGetDiagnostics:
		return n.handleGetDiagnostics(reply)
	case "":
		// fall through to data-push handling below
	default:
		return n.algorithm.HandleCommand(env, reply)
	}

	switch env.DataName {
	case consensus.DataNameNodes:
		return n.handleNodesPush(env.Data)
	case consensus.DataNameBlocks:
		return n.handleBlocksPush(env.Data)
	case "":
		return nil
	default:
		return n.algorithm.HandleData(env)
	}
}

func (n *Node) handleGetNodes(reply consensus.ReplyFunc) error {
	if reply == nil {
		return nil
	}
	raw, err := json.Marshal(n.cfg.Nodes)
	if err != nil {
		return err
	}
	return reply(consensus.Envelope{DataName: consensus.DataNameNodes, Data: raw})
}

func (n *Node) handleGetBlock(data json.RawMessage, reply consensus.ReplyFunc) error {
	index, err := decodeBlockIndex(data)
	if err != nil {
		return err
	}
	block, err := n.store.Get(index)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	raw, err := json.Marshal(block)
	if err != nil {
		return err
	}
	return reply(consensus.Envelope{DataName: consensus.DataNameBlock, Data: raw})
}

func (n *Node) handleGetBlocks(data json.RawMessage, reply consensus.ReplyFunc) error {
	q, err := blockstore.ParseQuery(data)
	if err != nil {
		return err
	}
	results, err := n.store.Query(q)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return reply(consensus.Envelope{DataName: consensus.DataNameBlocks, Data: raw})
}

// handleGenerateGenesisBlock re-announces the locally persisted genesis
// block to the cluster as a {dataName: blocks} push. The genesis block
// itself is already written by blockstore.Open on first start, so this
// only needs to broadcast it.
func (n *Node) handleGenerateGenesisBlock() error {
	genesis, err := n.store.Get(0)
	if err != nil {
		return err
	}
	if genesis == nil {
		return nil
	}
	raw, err := json.Marshal([]*blockchain.Block{genesis})
	if err != nil {
		return err
	}
	n.transport.Broadcast(consensus.Envelope{DataName: consensus.DataNameBlocks, Data: raw})
	return nil
}

// handleAddObserver registers a new observer and blocks the calling
// goroutine, forwarding every subsequent sealed block to it through the
// caller-supplied reply channel. The caller (the
// transport's per-connection handler) is expected to invoke this from its
// own goroutine; it returns once a reply fails (the connection went away)
// or once the hub closes the observer's channel as stale.
func (n *Node) handleAddObserver(reply consensus.ReplyFunc) error {
	if reply == nil {
		return nil
	}
	ch := n.observers.Register()
	for block := range ch {
		raw, err := json.Marshal(block)
		if err != nil {
			logger.Error("failed to encode observer block push", "err", err)
			continue
		}
		if err := reply(consensus.Envelope{DataName: consensus.DataNameBlock, Data: raw}); err != nil {
			logger.Warn("observer push failed, stopping forwarder", "err", err)
			return nil
		}
	}
	return nil
}

// diagnostics is the node state snapshot a getDiagnostics reply returns,
// and the body node/httpapi's GET /diagnostics mirrors.
type diagnostics struct {
	ID             string `json:"id"`
	ConsensusState string `json:"consensusState"`
	LeaderID       string `json:"leaderId,omitempty"`
	Term           uint64 `json:"term"`
	LastBlockIndex uint64 `json:"lastBlockIndex"`
	PoolSize       int    `json:"poolSize"`
	PeerCount      int    `json:"peerCount"`
}

// Diagnostics builds the current node state snapshot. Exported so
// node/httpapi can render it over GET /diagnostics without going through
// the message-envelope reply path. The return type is interface{} (rather
// than the unexported diagnostics struct) so *Node satisfies
// node/httpapi.DiagnosticsProvider without that package needing to import
// this one's unexported types.
func (n *Node) Diagnostics() (interface{}, error) {
	d := diagnostics{ID: n.cfg.ID, PeerCount: len(n.transport.peerList())}
	if last, err := n.store.Last(); err == nil && last != nil {
		d.LastBlockIndex = uint64(last.Index)
	}
	d.PoolSize = n.chain.Pool().Len()
	if da, ok := n.algorithm.(diagnosable); ok {
		d.Term = da.Term()
		d.LeaderID = da.LeaderID()
		if da.IsLeader() {
			d.ConsensusState = "leader"
		} else {
			d.ConsensusState = "follower"
		}
	}
	return d, nil
}

func (n *Node) handleGetDiagnostics(reply consensus.ReplyFunc) error {
	if reply == nil {
		return nil
	}
	d, err := n.Diagnostics()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return reply(consensus.Envelope{DataName: consensus.DataNameDiagnostics, Data: raw})
}

func (n *Node) handleNodesPush(data json.RawMessage) error {
	var nodes []consensus.Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return err
	}
	for _, p := range nodes {
		if p.ID != n.cfg.ID {
			n.transport.addPeer(p)
		}
	}
	return nil
}

func (n *Node) handleBlocksPush(data json.RawMessage) error {
	var blocks []*blockchain.Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	return n.chain.SetBlocks(blocks)
}
