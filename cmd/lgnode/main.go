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

// Command lgnode is the ledger node entrypoint: a urfave/cli app whose
// default action runs a node from a TOML config (with a handful of
// single-value flag overrides) and whose dumpconfig command writes the
// active configuration back out.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/ground-x/ledgernode/cmd/utils"
	"github.com/ground-x/ledgernode/log"
	"github.com/ground-x/ledgernode/node"
	"github.com/ground-x/ledgernode/node/httpapi"
)

var logger = log.NewModuleLogger("cmd/lgnode")

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to a TOML node configuration file",
	}
	idFlag = cli.StringFlag{
		Name:  "id",
		Usage: "override config: this node's id",
	}
	hostFlag = cli.StringFlag{
		Name:  "host",
		Usage: "override config: the host this node's inbound server binds",
	}
	portFlag = cli.IntFlag{
		Name:  "port",
		Usage: "override config: the port this node's inbound server binds",
	}
	diagnosticsAddrFlag = cli.StringFlag{
		Name:  "diagnostics-addr",
		Usage: "override config: address for the GET /diagnostics and GET /metrics HTTP surface (empty disables it)",
	}
)

var app = cli.NewApp()

func init() {
	app.Name = "lgnode"
	app.Usage = "replicated ledger node"
	app.Flags = []cli.Flag{configFlag, idFlag, hostFlag, portFlag, diagnosticsAddrFlag}
	app.Action = runAction
	app.Commands = []cli.Command{
		{
			Name:   "dumpconfig",
			Usage:  "write the active configuration as TOML to the path named by --config",
			Action: dumpConfigAction,
		},
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig builds a node.Config from --config (if given) with the
// single-value flags layered on top as overrides.
func loadConfig(ctx *cli.Context) (*node.Config, error) {
	var cfg node.Config
	if path := ctx.GlobalString(configFlag.Name); path != "" {
		loaded, err := node.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	if v := ctx.GlobalString(idFlag.Name); v != "" {
		cfg.ID = v
	}
	if v := ctx.GlobalString(hostFlag.Name); v != "" {
		cfg.Host = v
	}
	if v := ctx.GlobalInt(portFlag.Name); v != 0 {
		cfg.Port = v
	}
	if v := ctx.GlobalString(diagnosticsAddrFlag.Name); v != "" {
		cfg.DiagnosticsAddr = v
	}
	return &cfg, nil
}

func runAction(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		utils.Fatalf("%v", err)
	}

	n, err := node.New(*cfg)
	if err != nil {
		utils.Fatalf("failed to construct node: %v", err)
	}

	inbound := node.NewServer(n, fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))

	var diag *httpapi.Server
	if cfg.DiagnosticsAddr != "" {
		diag = httpapi.New(n, cfg.DiagnosticsAddr, nil)
		go func() {
			if err := diag.ListenAndServe(); err != nil {
				logger.Error("diagnostics server stopped", "err", err)
			}
		}()
	}

	logger.Info("starting node", "id", cfg.ID, "addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if diag != nil {
		utils.RunUntilSignal(n, inbound, diag)
	} else {
		utils.RunUntilSignal(n, inbound, nil)
	}
	return nil
}

func dumpConfigAction(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	path := ctx.GlobalString(configFlag.Name)
	if path == "" {
		return cli.NewExitError("dumpconfig requires --config to name the output path", 1)
	}
	return node.WriteConfig(cfg, path)
}
