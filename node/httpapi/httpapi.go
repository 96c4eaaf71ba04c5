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

// Package httpapi is the read-only diagnostics HTTP surface: a GET
// /diagnostics mirror of the getDiagnostics command body, and a GET
// /metrics Prometheus exposition endpoint, for operators who would rather
// poll HTTP than speak the message-envelope protocol.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/ground-x/ledgernode/log"
)

var logger = log.NewModuleLogger("node/httpapi")

// DiagnosticsProvider is satisfied by *node.Node. It is declared here so
// this package does not import node; cmd/lgnode passes a *node.Node in
// when it constructs the server.
type DiagnosticsProvider interface {
	Diagnostics() (interface{}, error)
}

// Server serves the diagnostics HTTP surface.
type Server struct {
	node   DiagnosticsProvider
	server *http.Server
}

// New builds a Server bound to addr. corsOrigins, if non-empty, restricts
// Access-Control-Allow-Origin; an empty list allows all origins.
func New(provider DiagnosticsProvider, addr string, corsOrigins []string) *Server {
	router := httprouter.New()
	router.GET("/diagnostics", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		d, err := provider.Diagnostics()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d); err != nil {
			logger.Warn("failed to encode diagnostics response", "err", err)
		}
	})
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	origins := corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	return &Server{
		node:   provider,
		server: &http.Server{Addr: addr, Handler: handler},
	}
}

// ListenAndServe blocks, serving the diagnostics surface until Close.
func (s *Server) ListenAndServe() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the listener down.
func (s *Server) Close() error {
	return s.server.Close()
}
