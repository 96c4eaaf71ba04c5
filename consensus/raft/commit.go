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
	"github.com/pkg/errors"

	"github.com/ground-x/ledgernode/blockchain"
	"github.com/ground-x/ledgernode/consensus"
)

// drainEntry applies one provisional entry to the blockchain engine's pool,
// by the type recorded when it was replicated. entry.Tx carries the
// client's batch-or-single payload verbatim, so a single addTransaction
// call submitting several transactions together drains as one entry.
func drainEntry(chain *blockchain.Chain, entry *ProvisionalEntry) error {
	switch entry.Type {
	case EntryNormal:
		txs, err := blockchain.DecodeTransactionBatch(entry.Tx)
		if err != nil {
			return errors.Wrap(err, "decode normal provisional entry")
		}
		for _, tx := range txs {
			chain.AddTransaction(tx)
		}
		return nil
	case EntryTemporary:
		txs, err := blockchain.DecodeTransactionBatch(entry.Tx)
		if err != nil {
			return errors.Wrap(err, "decode temporary provisional entry")
		}
		for _, tx := range txs {
			if err := chain.AddTemporaryTransaction(tx, entry.AcceptedAt); err != nil {
				return err
			}
		}
		return nil
	case EntryCommit:
		ids, err := decodeTransactionIDBatch(entry.Tx)
		if err != nil {
			return errors.Wrap(err, "decode commit provisional entry")
		}
		for _, id := range ids {
			chain.CommitTransaction(id)
		}
		return nil
	default:
		return errors.Errorf("unknown provisional entry type %q", entry.Type)
	}
}

// runLeaderCommitSweep is the leader's periodic sweep over the
// provisional-block map: entries the leader owns with enough
// acknowledgements are drained and sealed into a block; entries owned by a
// since-deposed leader that never reached quorum are taken over and
// rebroadcast.
func (e *Engine) runLeaderCommitSweep() {
	e.blockMu.Lock()
	defer e.blockMu.Unlock()

	e.mu.Lock()
	quorum := e.quorumLocked()
	var completed []uint64
	var takeover []*ProvisionalEntry
	for seq, entry := range e.provisionalBlocks {
		if entry.Owner != e.selfID {
			if int(entry.Consensus) < quorum {
				takeover = append(takeover, entry)
			}
			continue
		}
		if int(entry.Consensus) < quorum {
			continue
		}
		if err := drainEntry(e.chain, entry); err != nil {
			logger.Error("dropping undecodable provisional entry", "sequence", seq, "err", err)
			delete(e.provisionalBlocks, seq)
			continue
		}
		delete(e.provisionalBlocks, seq)
		completed = append(completed, seq)
		e.completedCache.Add(seq, true)
	}
	for _, entry := range takeover {
		entry.Owner = e.selfID
		entry.Consensus = 1
		e.rebroadcastEntryLocked(entry)
	}
	term := e.term
	e.mu.Unlock()

	if len(completed) == 0 {
		return
	}
	e.transport.Broadcast(consensus.Envelope{
		Command: consensus.CommandAppend,
		Data:    mustJSON(appendData{ID: e.selfID, Term: term, Entry: &appendEntry{Sequences: completed}}),
	})

	block, err := e.leaderSeal(e.chain)
	if err != nil {
		logger.Error("failed to seal block after commit sweep", "err", err)
		return
	}
	if block != nil && e.onBlockSealed != nil {
		e.onBlockSealed(block)
	}
}

// rebroadcastEntryLocked re-announces entry as a fresh replication message
// under the leader's own ownership. Caller must hold mu.
func (e *Engine) rebroadcastEntryLocked(entry *ProvisionalEntry) {
	e.transport.Broadcast(consensus.Envelope{
		Command: consensus.CommandAppend,
		Data: mustJSON(appendData{ID: e.selfID, Term: e.term, Entry: &appendEntry{
			Sequence:    entry.Sequence,
			Transaction: entry.Tx,
			Type:        entry.Type,
			AcceptedAt:  entry.AcceptedAt,
		}}),
	})
}

// applyFollowerCommitSweep handles a leader's {entry: {sequences: [...]}}
// commit notice on a follower: every listed sequence still
// present locally is drained and removed; sequences already missing (the
// follower applied them already, or never replicated them) are silently
// skipped rather than blocking the rest of the batch.
func (e *Engine) applyFollowerCommitSweep(sequences []uint64) {
	e.blockMu.Lock()
	defer e.blockMu.Unlock()

	e.mu.Lock()
	drainedAny := false
	for _, seq := range sequences {
		entry, ok := e.provisionalBlocks[seq]
		if !ok {
			continue
		}
		if err := drainEntry(e.chain, entry); err != nil {
			logger.Error("dropping undecodable provisional entry", "sequence", seq, "err", err)
			delete(e.provisionalBlocks, seq)
			continue
		}
		delete(e.provisionalBlocks, seq)
		e.completedCache.Add(seq, true)
		drainedAny = true
	}
	e.mu.Unlock()

	if !drainedAny {
		return
	}
	block, err := e.followerSeal(e.chain)
	if err != nil {
		logger.Error("follower failed to seal block after commit sweep", "err", err)
		return
	}
	if block != nil && e.onBlockSealed != nil {
		e.onBlockSealed(block)
	}
}
