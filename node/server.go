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
	"net/http"

	"github.com/ground-x/ledgernode/consensus"
)

// Server is the inbound half of the HTTP/JSON transport httpTransport sends
// over. Every peer POST lands on POST /message and is handed to
// Node.Dispatch with a ReplyFunc that streams newline-delimited JSON
// envelopes back over the same connection, which is what lets a single
// addObserver request keep receiving block pushes without a second
// transport mechanism.
type Server struct {
	node   *Node
	server *http.Server
}

// NewServer binds a Server to addr. Call ListenAndServe to start accepting
// connections.
func NewServer(n *Node, addr string) *Server {
	s := &Server{node: n}
	mux := http.NewServeMux()
	mux.HandleFunc("/message", s.handleMessage)
	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks, serving inbound envelopes until Close is called.
func (s *Server) ListenAndServe() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the listener down as part of node termination.
func (s *Server) Close() error {
	return s.server.Shutdown(context.Background())
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var env consensus.Envelope
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&env); err != nil {
		// malformed message: silently dropped.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	flusher, _ := w.(http.Flusher)
	replied := false
	enc := json.NewEncoder(w)
	reply := func(out consensus.Envelope) error {
		replied = true
		if err := enc.Encode(out); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if err := s.node.Dispatch(env, reply); err != nil {
		logger.Warn("dispatch failed", "command", env.Command, "dataName", env.DataName, "err", err)
		if !replied {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	if !replied {
		w.WriteHeader(http.StatusNoContent)
	}
}
