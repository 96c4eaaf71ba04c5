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

// Package utils holds the small process-lifecycle helpers cmd/lgnode's
// main shares with any future entrypoint: fatal-error reporting and
// graceful shutdown on SIGINT/SIGTERM.
package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ground-x/ledgernode/log"
	"github.com/ground-x/ledgernode/node"
)

var logger = log.NewModuleLogger("cmd/utils")

// Fatalf formats a message to standard output/error and exits the
// program.
func Fatalf(format string, args ...interface{}) {
	w := io.MultiWriter(os.Stdout, os.Stderr)
	if runtime.GOOS == "windows" {
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stderr
		}
	}
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// RunUntilSignal starts n and the inbound message server (the optional
// diagnostics server is started by the caller), then blocks until
// SIGINT/SIGTERM, at which point it terminates n and closes the inbound
// server and then the diagnostics server, in that order.
func RunUntilSignal(n *node.Node, inbound *node.Server, diagnostics io.Closer) {
	n.Start(context.Background())

	go func() {
		if err := inbound.ListenAndServe(); err != nil {
			logger.Error("inbound message server stopped", "err", err)
		}
	}()
	if diagnostics != nil {
		logger.Info("diagnostics surface enabled")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc
	logger.Info("got interrupt, shutting down")

	n.Terminate()
	if err := inbound.Close(); err != nil {
		logger.Warn("error closing inbound message server", "err", err)
	}
	if diagnostics != nil {
		if err := diagnostics.Close(); err != nil {
			logger.Warn("error closing diagnostics server", "err", err)
		}
	}
}
