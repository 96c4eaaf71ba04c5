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
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ground-x/ledgernode/consensus"
)

func newTestServer(t *testing.T) (*Node, *httptest.Server) {
	t.Helper()
	n, err := New(testNodeConfig("n1", nil))
	require.NoError(t, err)
	t.Cleanup(n.store.Close)

	s := NewServer(n, "127.0.0.1:0")
	ts := httptest.NewServer(http.HandlerFunc(s.handleMessage))
	t.Cleanup(ts.Close)
	return n, ts
}

func TestServerHandleMessageRepliesWithEnvelope(t *testing.T) {
	_, ts := newTestServer(t)

	body, err := json.Marshal(consensus.Envelope{Command: consensus.CommandGetDiagnostics})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env consensus.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.Equal(t, consensus.DataNameDiagnostics, env.DataName)
}

func TestServerHandleMessageRejectsNonPost(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerHandleMessageNoContentWhenNoReply(t *testing.T) {
	_, ts := newTestServer(t)

	body, err := json.Marshal(consensus.Envelope{Command: consensus.CommandGenerateGenesisBlock})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}
