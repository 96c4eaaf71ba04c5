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

// Package pow implements the Proof-of-Work consensus variant: it reuses
// consensus/raft.Engine's election, replication, and client-forwarding
// machinery wholesale, replacing only the sealing step with the
// getProofOfWork/commitProofOfWork exchange and the startPow/
// candidateForPow wire messages.
package pow

import (
	"encoding/json"

	"github.com/ground-x/ledgernode/blockchain"
	"github.com/ground-x/ledgernode/consensus"
	"github.com/ground-x/ledgernode/consensus/raft"
	"github.com/ground-x/ledgernode/log"
)

var logger = log.NewModuleLogger("consensus/pow")

// candidatePayload is the {index, rootHash, nonce} tuple carried by both
// the startPow reply and the candidateForPow push.
type candidatePayload struct {
	Index    uint64 `json:"index"`
	RootHash string `json:"rootHash"`
	Nonce    uint64 `json:"nonce"`
}

// Engine embeds *raft.Engine for its full election/replication/forwarding
// state machine, overriding only how a commit sweep turns drained pool
// contents into a sealed block.
type Engine struct {
	*raft.Engine

	chain     *blockchain.Chain
	transport consensus.Transport
}

// NewEngine constructs a PoW-sealing consensus engine. selfID/peers/cfg
// carry the same meaning as consensus/raft.NewEngine.
func NewEngine(selfID string, peers []consensus.Node, chain *blockchain.Chain, transport consensus.Transport, cfg raft.Config, onBlockSealed func(*blockchain.Block)) *Engine {
	e := &Engine{chain: chain, transport: transport}
	e.Engine = raft.NewEngine(selfID, peers, chain, transport, cfg, onBlockSealed)
	e.Engine.SetSealers(e.sealAsLeader, e.sealAsFollower)
	return e
}

// sealAsLeader runs the getProofOfWork/commitProofOfWork pair for the
// node driving a commit sweep: it searches the winning nonce
// once, commits locally, then broadcasts the winning candidate so every
// follower can apply the identical nonce without redoing the search.
func (e *Engine) sealAsLeader(chain *blockchain.Chain) (*blockchain.Block, error) {
	candidate, err := chain.GetProofOfWork()
	if err != nil {
		return nil, err
	}
	block, err := chain.CommitProofOfWork(candidate.Index, candidate.RootHash, candidate.Nonce)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, nil
	}
	raw, err := json.Marshal(candidatePayload{Index: candidate.Index, RootHash: candidate.RootHash, Nonce: candidate.Nonce})
	if err != nil {
		logger.Error("failed to encode proof-of-work candidate", "err", err)
		return block, nil
	}
	e.transport.Broadcast(consensus.Envelope{DataName: consensus.DataNameCandidateForPow, Data: raw})
	return block, nil
}

// sealAsFollower is a no-op: a follower's commit sweep drains its pool
// identically to the leader's, but the actual nonce and seal arrive
// asynchronously through the candidateForPow push (handleCandidateForPow
// below), not by redoing the nonce search locally.
func (e *Engine) sealAsFollower(*blockchain.Chain) (*blockchain.Block, error) {
	return nil, nil
}

// HandleCommand delegates to the embedded raft.Engine for every command
// except startPow, which it answers directly with a freshly computed
// proof-of-work candidate.
func (e *Engine) HandleCommand(env consensus.Envelope, reply consensus.ReplyFunc) error {
	if env.Command == consensus.CommandStartPow {
		return e.handleStartPow(reply)
	}
	return e.Engine.HandleCommand(env, reply)
}

// HandleData delegates to the embedded raft.Engine for every push except
// candidateForPow and pow, both of which carry an {index, rootHash, nonce}
// tuple to apply against this node's own pool.
func (e *Engine) HandleData(env consensus.Envelope) error {
	switch env.DataName {
	case consensus.DataNameCandidateForPow, consensus.DataNamePow:
		return e.handleCandidateForPow(env)
	}
	return e.Engine.HandleData(env)
}

func (e *Engine) handleStartPow(reply consensus.ReplyFunc) error {
	candidate, err := e.chain.GetProofOfWork()
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	raw, err := json.Marshal(candidatePayload{Index: candidate.Index, RootHash: candidate.RootHash, Nonce: candidate.Nonce})
	if err != nil {
		return err
	}
	return reply(consensus.Envelope{DataName: consensus.DataNameCandidateForPow, Data: raw})
}

func (e *Engine) handleCandidateForPow(env consensus.Envelope) error {
	var candidate candidatePayload
	if err := json.Unmarshal(env.Data, &candidate); err != nil {
		return err
	}
	block, err := e.chain.CommitProofOfWork(candidate.Index, candidate.RootHash, candidate.Nonce)
	if err != nil {
		logger.Error("failed to apply proof-of-work candidate", "index", candidate.Index, "err", err)
		return nil
	}
	if block != nil {
		e.Engine.NotifyBlockSealed(block)
	}
	return nil
}
