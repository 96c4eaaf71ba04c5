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
	"sync"

	"github.com/ground-x/ledgernode/blockchain"
)

// observerBuffer is the per-observer queue depth. A client slow enough to
// let two block seals pass without draining its channel is considered
// stale and reaped.
const observerBuffer = 1

// observerHub is the mutex-guarded observer registry: clients issuing
// addObserver are appended, and every block seal pushes to all of them,
// each through its own buffered channel.
type observerHub struct {
	mu    sync.Mutex
	chans []chan *blockchain.Block
}

func newObserverHub() *observerHub {
	return &observerHub{}
}

// Register adds a new observer and returns the channel it should read
// from. The first value received is the next block sealed from this point
// on.
func (h *observerHub) Register() <-chan *blockchain.Block {
	ch := make(chan *blockchain.Block, observerBuffer)
	h.mu.Lock()
	h.chans = append(h.chans, ch)
	h.mu.Unlock()
	return ch
}

// Notify pushes block to every registered observer. An observer whose
// buffer is already full (it never drained the previous notification) is
// treated as stale: its channel is closed and it is dropped from the
// registry.
func (h *observerHub) Notify(block *blockchain.Block) {
	h.mu.Lock()
	defer h.mu.Unlock()

	live := h.chans[:0]
	for _, ch := range h.chans {
		select {
		case ch <- block:
			live = append(live, ch)
		default:
			close(ch)
		}
	}
	h.chans = live
}
