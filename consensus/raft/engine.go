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
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ground-x/ledgernode/blockchain"
	"github.com/ground-x/ledgernode/consensus"
	"github.com/ground-x/ledgernode/log"
	"github.com/ground-x/ledgernode/metrics"
)

var logger = log.NewModuleLogger("consensus/raft")

var (
	termGauge   = metrics.NewRegisteredGauge("consensus/term", "current Raft-like term")
	leaderGauge = metrics.NewRegisteredGauge("consensus/is_leader", "1 if this node believes itself leader, else 0")
)

// role is the engine's local view of its place in the cluster.
type role int

const (
	roleFollower role = iota
	roleCandidate
	roleLeader
)

// backlogEntry is one client command a non-leader has queued for forwarding
// to the leader once it is known. raw is the command's payload exactly as
// received on the wire (Transaction or [Transaction] for
// addTransaction/addTemporaryTransaction; transactionId or [transactionId]
// for commitTransaction), replayed verbatim when forwarded.
type backlogEntry struct {
	command consensus.Command
	raw     json.RawMessage
}

// Engine implements consensus.Algorithm: leader election by randomized
// timeout, heartbeat-driven log replication of provisional blocks, and
// periodic commit sweeps that drain acknowledged entries into the
// blockchain engine.
type Engine struct {
	selfID    string
	peers     []consensus.Node
	chain     *blockchain.Chain
	transport consensus.Transport
	cfg       Config

	// onBlockSealed notifies the node orchestrator's observer hub whenever
	// a commit sweep (leader or follower) seals a new block.
	onBlockSealed func(*blockchain.Block)

	// leaderSeal/followerSeal perform the actual sealing step once a
	// commit sweep has drained its entries into chain's pool. They
	// default to chain.CommitBlock (Raft mode); consensus/pow.Engine
	// overrides them via SetSealers to drive the slower
	// getProofOfWork/commitProofOfWork exchange instead. A (nil, nil)
	// return means "no block produced, and that's fine"; the PoW follower
	// seal uses that to defer sealing to the candidateForPow push rather
	// than sealing independently.
	leaderSeal   func(*blockchain.Chain) (*blockchain.Block, error)
	followerSeal func(*blockchain.Chain) (*blockchain.Block, error)

	// mu guards all election/replication state below. Every handler and
	// the timer callback serialize through it; the engine behaves as a
	// single logical task queue.
	mu sync.Mutex

	role     role
	term     uint64
	votedFor string
	leaderID string
	votes    map[string]bool

	provisionalSequence       uint64
	lostProvisionalSequences  map[uint64]bool
	provisionalBlocks         map[uint64]*ProvisionalEntry

	transactionBacklog          []backlogEntry
	temporaryTransactionBacklog []backlogEntry
	committedTransactionBacklog []backlogEntry

	timer         *time.Timer
	forwardTicker *time.Ticker
	rng           *rand.Rand
	terminated    bool

	// blockMu is the "block" critical section: the commit
	// sweep that drains provisional entries into the chain and seals a
	// block runs under this lock, kept distinct from mu so a long-running
	// seal never blocks vote/append handling.
	blockMu sync.Mutex

	// completedCache and seenTempCache are bounded, best-effort
	// bookkeeping aids, not correctness-critical: completedCache lets a
	// late appended message about an already-drained sequence be logged at
	// debug instead of being dropped silently; seenTempCache suppresses a
	// second provisional entry when a forwarding follower resubmits the
	// identical addTemporaryTransaction bytes (the pool's own
	// AddTemporary would also ignore a known transactionId).
	completedCache *lru.ARCCache
	seenTempCache  *lru.ARCCache
}

// NewEngine constructs a Raft-like engine. StartConsensus must be called to
// begin participating.
func NewEngine(selfID string, peers []consensus.Node, chain *blockchain.Chain, transport consensus.Transport, cfg Config, onBlockSealed func(*blockchain.Block)) *Engine {
	completed, _ := lru.NewARC(1024)
	seenTemp, _ := lru.NewARC(1024)
	return &Engine{
		selfID:                   selfID,
		peers:                    peers,
		chain:                    chain,
		transport:                transport,
		cfg:                      cfg,
		onBlockSealed:            onBlockSealed,
		lostProvisionalSequences: make(map[uint64]bool),
		provisionalBlocks:        make(map[uint64]*ProvisionalEntry),
		rng:                      rand.New(rand.NewSource(time.Now().UnixNano())),
		completedCache:           completed,
		seenTempCache:            seenTemp,
		leaderSeal:               (*blockchain.Chain).CommitBlock,
		followerSeal:             (*blockchain.Chain).CommitBlock,
	}
}

// IsLeader reports whether this node currently believes itself the leader.
func (e *Engine) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role == roleLeader
}

// LeaderID returns the currently known leader id, or "" if none is known.
func (e *Engine) LeaderID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaderID
}

// Term returns the current term. Exposed for the getDiagnostics snapshot
// and node/httpapi's mirror of it.
func (e *Engine) Term() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.term
}

// NotifyBlockSealed invokes the configured onBlockSealed callback. Exposed
// for consensus/pow.Engine, which seals blocks outside the normal commit
// sweep (via the asynchronous candidateForPow push) and still needs to
// reach the same observer-notification hook.
func (e *Engine) NotifyBlockSealed(block *blockchain.Block) {
	if e.onBlockSealed != nil {
		e.onBlockSealed(block)
	}
}

// SetSealers overrides how a commit sweep seals a block once its entries
// are drained, for the benefit of consensus/pow.Engine (which embeds an
// Engine but replaces commitBlock with the getProofOfWork/commitProofOfWork
// exchange). Must be called before StartConsensus.
func (e *Engine) SetSealers(leader, follower func(*blockchain.Chain) (*blockchain.Block, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leaderSeal = leader
	e.followerSeal = follower
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode consensus payload", "err", err)
		return json.RawMessage("null")
	}
	return raw
}

// quorumLocked returns the number of acknowledging nodes (including self)
// needed to commit an entry. Caller must hold mu.
func (e *Engine) quorumLocked() int {
	n := len(e.peers) + 1
	return n/2 + 1
}

// electionIntervalLocked returns a randomized duration in
// [ElectionMinInterval, ElectionMaxInterval). Caller must hold mu.
func (e *Engine) electionIntervalLocked() time.Duration {
	min := int64(e.cfg.ElectionMinInterval)
	max := int64(e.cfg.ElectionMaxInterval)
	if max <= min {
		return e.cfg.ElectionMinInterval
	}
	return time.Duration(min + e.rng.Int63n(max-min))
}

// resetTimerLocked rearms the single reused timer at the cadence matching
// the engine's current role. A nil timer means StartConsensus has not armed
// it yet (a vote or append raced ahead of the run loop); it will be armed
// with a fresh interval there, so there is nothing to rearm. Caller must
// hold mu.
func (e *Engine) resetTimerLocked() {
	if e.timer == nil {
		return
	}
	var d time.Duration
	if e.role == roleLeader {
		d = e.cfg.KeepaliveInterval
	} else {
		d = e.electionIntervalLocked()
	}
	if !e.timer.Stop() {
		select {
		case <-e.timer.C:
		default:
		}
	}
	e.timer.Reset(d)
}

// StartConsensus arms the election timer and the client-forwarding ticker,
// then runs the engine's single event loop until ctx is cancelled.
func (e *Engine) StartConsensus(ctx context.Context) {
	e.mu.Lock()
	e.timer = time.NewTimer(e.electionIntervalLocked())
	e.mu.Unlock()
	e.forwardTicker = time.NewTicker(e.cfg.ElectionMaxInterval)

	for {
		e.mu.Lock()
		if e.terminated {
			e.mu.Unlock()
			return
		}
		timerC := e.timer.C
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			e.Terminate()
			return
		case <-timerC:
			e.onTimerFire()
		case <-e.forwardTicker.C:
			e.flushBacklogs()
		}
	}
}

// Terminate stops the timer and the forwarding ticker and marks the engine
// terminated, so no further ticks are handled. It does not wake the run
// loop in StartConsensus, which returns once ctx is cancelled.
func (e *Engine) Terminate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return
	}
	e.terminated = true
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.forwardTicker != nil {
		e.forwardTicker.Stop()
	}
}

// onTimerFire is the single timer callback: a leader sends a heartbeat
// and runs its commit sweep; anyone else starts an election.
func (e *Engine) onTimerFire() {
	e.mu.Lock()
	if e.role == roleLeader {
		e.broadcastHeartbeatLocked()
		e.resetTimerLocked()
		e.mu.Unlock()
		e.runLeaderCommitSweep()
		return
	}
	e.startElectionLocked()
	e.resetTimerLocked()
	e.mu.Unlock()
}

// startElectionLocked begins a new term as a candidate and requests votes
// from every peer. Caller must hold mu.
func (e *Engine) startElectionLocked() {
	e.term++
	e.role = roleCandidate
	e.votedFor = e.selfID
	e.leaderID = ""
	e.votes = map[string]bool{e.selfID: true}
	e.transport.Broadcast(consensus.Envelope{
		Command: consensus.CommandVote,
		Data:    mustJSON(voteData{ID: e.selfID, Term: e.term}),
	})
	termGauge.Set(float64(e.term))
	leaderGauge.Set(0)

	// A single-node cluster (no peers) is already quorate on its own vote;
	// nothing will ever send it a "voted" reply to trigger
	// becomeLeaderLocked otherwise, so it would be stuck Candidate forever.
	if len(e.votes) >= e.quorumLocked() {
		e.becomeLeaderLocked()
	}
}

// becomeLeaderLocked transitions into the Leader role for the current term:
// adopts any backlogged client commands as freshly-owned provisional
// entries, broadcasts an append so followers learn of the new leader, and
// rearms the timer at keepalive cadence. Caller must hold mu.
func (e *Engine) becomeLeaderLocked() {
	e.role = roleLeader
	e.leaderID = e.selfID
	leaderGauge.Set(1)
	e.adoptBacklogsAsLeaderLocked()
	e.transport.Broadcast(consensus.Envelope{
		Command: consensus.CommandAppend,
		Data:    mustJSON(appendData{ID: e.selfID, Term: e.term, Sequence: e.provisionalSequence}),
	})
	e.resetTimerLocked()
}

func (e *Engine) broadcastHeartbeatLocked() {
	e.transport.Broadcast(consensus.Envelope{
		Command: consensus.CommandAppend,
		Data:    mustJSON(appendData{ID: e.selfID, Term: e.term, Sequence: e.provisionalSequence}),
	})
}

// HandleCommand processes a request-style envelope. vote and append may
// produce a reply; the three client commands never reply directly (the
// client receives its acknowledgement through the node orchestrator, not
// the consensus layer).
func (e *Engine) HandleCommand(env consensus.Envelope, reply consensus.ReplyFunc) error {
	switch env.Command {
	case consensus.CommandVote:
		return e.handleVote(env, reply)
	case consensus.CommandAppend:
		return e.handleAppend(env, reply)
	case consensus.CommandAddTransaction, consensus.CommandAddTemporaryTransaction, consensus.CommandCommitTransaction:
		return e.handleClientCommand(env.Command, env.Data)
	default:
		return nil
	}
}

// HandleData processes a one-way data push: voted and appended
// acknowledgements, plus the push-shaped spellings of the three client
// commands (a peer may forward a client submission as a
// transaction/temporaryTransaction/committedTransaction push instead of a
// command envelope; both arrive here with the identical payload).
func (e *Engine) HandleData(env consensus.Envelope) error {
	switch env.DataName {
	case consensus.DataNameVoted:
		return e.handleVoted(env)
	case consensus.DataNameAppended:
		return e.handleAppended(env)
	case consensus.DataNameTransaction:
		return e.handleClientCommand(consensus.CommandAddTransaction, env.Data)
	case consensus.DataNameTemporaryTransaction:
		return e.handleClientCommand(consensus.CommandAddTemporaryTransaction, env.Data)
	case consensus.DataNameCommittedTransaction:
		return e.handleClientCommand(consensus.CommandCommitTransaction, env.Data)
	default:
		return nil
	}
}

func (e *Engine) handleVote(env consensus.Envelope, reply consensus.ReplyFunc) error {
	var data voteData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}

	e.mu.Lock()
	if data.Term < e.term {
		term := e.term
		e.mu.Unlock()
		if reply == nil {
			return nil
		}
		return reply(consensus.Envelope{DataName: consensus.DataNameVoted, Data: mustJSON(votedData{Granted: false, From: e.selfID, Term: term})})
	}
	if data.Term > e.term {
		e.term = data.Term
		e.votedFor = ""
		e.role = roleFollower
	}
	granted := e.votedFor == "" || e.votedFor == data.ID
	if granted {
		e.votedFor = data.ID
		e.role = roleFollower
		e.resetTimerLocked()
	}
	term := e.term
	e.mu.Unlock()

	if reply == nil {
		return nil
	}
	return reply(consensus.Envelope{DataName: consensus.DataNameVoted, Data: mustJSON(votedData{Granted: granted, From: e.selfID, Term: term})})
}

func (e *Engine) handleVoted(env consensus.Envelope) error {
	var data votedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}
	if !data.Granted {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role != roleCandidate || data.Term != e.term {
		return nil
	}
	e.votes[data.From] = true
	if len(e.votes) < e.quorumLocked() {
		return nil
	}

	e.becomeLeaderLocked()
	return nil
}

func (e *Engine) handleAppend(env consensus.Envelope, reply consensus.ReplyFunc) error {
	var data appendData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}

	e.mu.Lock()
	if data.Term > e.term {
		e.term = data.Term
		e.votedFor = ""
		e.role = roleFollower
		termGauge.Set(float64(e.term))
		leaderGauge.Set(0)
	}
	if data.Term >= e.term {
		e.leaderID = data.ID
	}
	if e.role != roleLeader {
		e.role = roleFollower
		e.resetTimerLocked()
	}

	if data.Entry == nil {
		// Bare heartbeat. Acking every heartbeat keeps the leader busy for
		// no replication benefit, so it is off unless explicitly enabled;
		// the ack carries sequence 0 (never a real entry) so it reads as a
		// liveness signal only and can't bump a pending entry's consensus
		// count.
		term := e.term
		e.mu.Unlock()
		if !e.cfg.HeartbeatAckEnabled || reply == nil {
			return nil
		}
		return reply(consensus.Envelope{DataName: consensus.DataNameAppended, Data: mustJSON(appendedData{From: e.selfID, Term: term, Entry: appendEntry{}})})
	}

	if len(data.Entry.Sequences) > 0 {
		sequences := data.Entry.Sequences
		e.mu.Unlock()
		e.applyFollowerCommitSweep(sequences)
		return nil
	}

	seq := data.Entry.Sequence
	if seq <= e.provisionalSequence && !e.lostProvisionalSequences[seq] {
		// Already recorded (or already drained); idempotent ack.
		term := e.term
		e.mu.Unlock()
		if reply == nil {
			return nil
		}
		return reply(consensus.Envelope{DataName: consensus.DataNameAppended, Data: mustJSON(appendedData{From: e.selfID, Term: term, Entry: appendEntry{Sequence: seq}})})
	}

	if seq > e.provisionalSequence {
		for s := e.provisionalSequence + 1; s < seq; s++ {
			e.lostProvisionalSequences[s] = true
		}
		e.provisionalSequence = seq
	}
	delete(e.lostProvisionalSequences, seq)
	e.provisionalBlocks[seq] = &ProvisionalEntry{
		Sequence:   seq,
		Type:       data.Entry.Type,
		Tx:         data.Entry.Transaction,
		AcceptedAt: data.Entry.AcceptedAt,
		Consensus:  1,
		Owner:      data.ID,
	}
	term := e.term
	e.mu.Unlock()

	if reply == nil {
		return nil
	}
	return reply(consensus.Envelope{DataName: consensus.DataNameAppended, Data: mustJSON(appendedData{From: e.selfID, Term: term, Entry: appendEntry{Sequence: seq}})})
}

func (e *Engine) handleAppended(env consensus.Envelope) error {
	var data appendedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role != roleLeader || data.Term != e.term {
		return nil
	}
	entry, ok := e.provisionalBlocks[data.Entry.Sequence]
	if !ok {
		if _, seen := e.completedCache.Get(data.Entry.Sequence); seen {
			logger.Debug("appended ack for already-completed sequence", "sequence", data.Entry.Sequence, "from", data.From)
		}
		return nil
	}
	entry.Consensus++
	return nil
}

// handleClientCommand routes a client submission: a leader turns the
// command directly into a provisional entry; anyone else queues it for
// forwarding once (or as soon as) the leader is known.
func (e *Engine) handleClientCommand(cmd consensus.Command, raw json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role == roleLeader {
		e.createProvisionalEntryLocked(cmd, raw)
		return nil
	}

	entry := backlogEntry{command: cmd, raw: raw}
	switch cmd {
	case consensus.CommandAddTransaction:
		e.transactionBacklog = append(e.transactionBacklog, entry)
	case consensus.CommandAddTemporaryTransaction:
		e.temporaryTransactionBacklog = append(e.temporaryTransactionBacklog, entry)
	case consensus.CommandCommitTransaction:
		e.committedTransactionBacklog = append(e.committedTransactionBacklog, entry)
	}
	return nil
}

// createProvisionalEntryLocked turns a client command into a new
// provisional entry owned by self and broadcasts it for replication. raw
// (a bare Transaction/transactionId or an array of them) is carried
// through verbatim as the entry's Tx, so the leader never needs to know
// whether the caller submitted one transaction or a batch. Caller must
// hold mu and be acting as leader.
func (e *Engine) createProvisionalEntryLocked(cmd consensus.Command, raw json.RawMessage) {
	var entryType EntryType
	var acceptedAt int64

	switch cmd {
	case consensus.CommandAddTransaction:
		entryType = EntryNormal
	case consensus.CommandAddTemporaryTransaction:
		entryType = EntryTemporary
		// The @temp timestamp is stamped once, here, by whichever node
		// first turns the submission into a provisional entry (always the
		// leader); it then rides along in the replicated entry so every
		// replica applies the identical instant. Dedup keys on the raw
		// batch bytes rather than a decoded transactionId, since a
		// forwarding follower's retry resubmits the identical bytes.
		acceptedAt = time.Now().UnixMilli()
		key := string(raw)
		if e.seenTempCache.Contains(key) {
			return
		}
		e.seenTempCache.Add(key, true)
	case consensus.CommandCommitTransaction:
		entryType = EntryCommit
	default:
		return
	}

	e.provisionalSequence++
	seq := e.provisionalSequence
	// The leader's own participation counts as the first acknowledgement;
	// each appended reply adds one more. A zero-peer cluster (quorum 1)
	// could otherwise never reach quorum, since no replies will ever come.
	e.provisionalBlocks[seq] = &ProvisionalEntry{
		Sequence:   seq,
		Type:       entryType,
		Tx:         raw,
		AcceptedAt: acceptedAt,
		Consensus:  1,
		Owner:      e.selfID,
	}
	e.transport.Broadcast(consensus.Envelope{
		Command: consensus.CommandAppend,
		Data: mustJSON(appendData{ID: e.selfID, Term: e.term, Entry: &appendEntry{
			Sequence:    seq,
			Transaction: raw,
			Type:        entryType,
			AcceptedAt:  acceptedAt,
		}}),
	})
}

// adoptBacklogsAsLeaderLocked replays every backlogged client command as if
// it had just arrived, now that this node is leader. Caller must hold mu.
func (e *Engine) adoptBacklogsAsLeaderLocked() {
	for _, be := range e.transactionBacklog {
		e.createProvisionalEntryLocked(be.command, be.raw)
	}
	e.transactionBacklog = nil
	for _, be := range e.temporaryTransactionBacklog {
		e.createProvisionalEntryLocked(be.command, be.raw)
	}
	e.temporaryTransactionBacklog = nil
	for _, be := range e.committedTransactionBacklog {
		e.createProvisionalEntryLocked(be.command, be.raw)
	}
	e.committedTransactionBacklog = nil
}

// flushBacklogs attempts to forward every still-queued client command to
// the known leader. Entries that fail to send (or whose leader is still
// unknown) are re-queued for the next tick.
func (e *Engine) flushBacklogs() {
	e.mu.Lock()
	leaderID := e.leaderID
	if leaderID == "" || e.role == roleLeader {
		e.mu.Unlock()
		return
	}
	txBacklog := e.transactionBacklog
	e.transactionBacklog = nil
	tempBacklog := e.temporaryTransactionBacklog
	e.temporaryTransactionBacklog = nil
	commitBacklog := e.committedTransactionBacklog
	e.committedTransactionBacklog = nil
	e.mu.Unlock()

	remainingTx := e.forwardBacklog(consensus.CommandAddTransaction, txBacklog, leaderID)
	remainingTemp := e.forwardBacklog(consensus.CommandAddTemporaryTransaction, tempBacklog, leaderID)
	remainingCommit := e.forwardBacklog(consensus.CommandCommitTransaction, commitBacklog, leaderID)

	e.mu.Lock()
	e.transactionBacklog = append(remainingTx, e.transactionBacklog...)
	e.temporaryTransactionBacklog = append(remainingTemp, e.temporaryTransactionBacklog...)
	e.committedTransactionBacklog = append(remainingCommit, e.committedTransactionBacklog...)
	e.mu.Unlock()
}

func (e *Engine) forwardBacklog(cmd consensus.Command, entries []backlogEntry, leaderID string) []backlogEntry {
	var remaining []backlogEntry
	for _, be := range entries {
		if err := e.transport.SendToNode(leaderID, consensus.Envelope{Command: cmd, Data: be.raw}); err != nil {
			remaining = append(remaining, be)
		}
	}
	return remaining
}
