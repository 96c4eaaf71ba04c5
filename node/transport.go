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
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ground-x/ledgernode/consensus"
)

// nodeIDHeader carries the sending node's id on every outbound message
// POST, outside the wire envelope, which only names command/dataName/data.
// The inbound handler does not read it: replies ride back on the same
// connection.
const nodeIDHeader = "X-Node-Id"

const sendRetries = 3
const sendRetryBackoff = 100 * time.Millisecond

// httpTransport implements consensus.Transport (and is reused directly as
// the node's own outbound channel for orchestrator-level pushes, e.g.
// forwarding getNodes/getBlocks during bootstrap) over plain HTTP POSTs of
// a JSON-encoded Envelope to each peer's "/message" endpoint.
type httpTransport struct {
	selfID string
	client *http.Client

	// onReply receives every envelope a peer streams back on the response
	// to one of our POSTs (voted, appended, nodes, blocks, ...). Server
	// replies are ordinary inbound messages that happen to ride the same
	// connection as the request; routing them here keeps Dispatch the
	// single entry point for every inbound envelope.
	onReply func(consensus.Envelope)

	mu    sync.Mutex
	peers map[string]string // nodeID -> base URL
}

func newHTTPTransport(selfID string, nodes []consensus.Node) *httpTransport {
	peers := make(map[string]string, len(nodes))
	for _, n := range nodes {
		peers[n.ID] = n.URL
	}
	return &httpTransport{
		selfID: selfID,
		client: &http.Client{Timeout: 5 * time.Second},
		peers:  peers,
	}
}

// addPeer records a newly discovered node. The peer list is append-only:
// peers are added but never removed.
func (t *httpTransport) addPeer(n consensus.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[n.ID]; !ok {
		t.peers[n.ID] = n.URL
	}
}

func (t *httpTransport) peerList() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.peers))
	for id, url := range t.peers {
		out[id] = url
	}
	return out
}

// Broadcast sends env to every known peer concurrently, fire-and-forget.
// The broadcasting node never blocks on a peer; replies (voted, appended)
// arrive later as their own inbound messages.
func (t *httpTransport) Broadcast(env consensus.Envelope) {
	for id, url := range t.peerList() {
		id, url := id, url
		go func() {
			if err := t.post(url, env); err != nil {
				logger.Warn("broadcast send failed", "peer", id, "err", err)
			}
		}()
	}
}

// SendToNode sends env to one named peer, retrying recoverable transport
// errors up to sendRetries attempts with a fixed backoff.
func (t *httpTransport) SendToNode(nodeID string, env consensus.Envelope) error {
	t.mu.Lock()
	url, ok := t.peers[nodeID]
	t.mu.Unlock()
	if !ok {
		return errUnknownPeer(nodeID)
	}

	var err error
	for attempt := 0; attempt < sendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(sendRetryBackoff)
		}
		if err = t.post(url, env); err == nil {
			return nil
		}
	}
	return err
}

func (t *httpTransport) post(url string, env consensus.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url+"/message", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(nodeIDHeader, t.selfID)
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if t.onReply == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	for {
		var reply consensus.Envelope
		if err := dec.Decode(&reply); err != nil {
			// io.EOF ends a well-formed reply stream; anything else means
			// the connection died mid-frame, which the peer's own retry
			// machinery (not this send) is responsible for.
			return nil
		}
		t.onReply(reply)
	}
}

type errUnknownPeer string

func (e errUnknownPeer) Error() string { return "transport: unknown peer " + string(e) }
