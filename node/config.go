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

// Package node implements the orchestrator: it owns configuration, wires
// the blockchain engine to a block store and a consensus.Algorithm, routes
// inbound message envelopes, and maintains the observer registry.
package node

import (
	"os"

	"github.com/naoina/toml"
	"github.com/pkg/errors"

	"github.com/ground-x/ledgernode/consensus"
	"github.com/ground-x/ledgernode/storage/database"
)

// Config is the node's startup configuration, loaded from a TOML file by
// cmd/lgnode (with dumpconfig to write the active form back out).
type Config struct {
	BlockVersion       string   `toml:"blockVersion"`
	ID                 string   `toml:"id"`
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	Protocol           string   `toml:"protocol"`
	ConsensusAlgorithm string   `toml:"consensusAlgorithm"`
	Storage            string   `toml:"storage"`
	StoragePath        string   `toml:"storagePath"`
	IndexKeys          []string `toml:"indexKeys"`

	KeepaliveIntervalMillis   int64 `toml:"keepaliveInterval"`
	ElectionMinIntervalMillis int64 `toml:"electionMinInterval"`
	ElectionMaxIntervalMillis int64 `toml:"electionMaxInterval"`
	ConsensusIntervalMillis   int64 `toml:"consensusInterval"`

	Nodes []consensus.Node `toml:"nodes"`

	// DiagnosticsAddr, if set, is where node/httpapi serves GET /diagnostics
	// and GET /metrics. Empty disables the surface.
	DiagnosticsAddr string `toml:"diagnosticsAddr"`
}

const (
	algorithmRaft = "Raft"
	algorithmPoW  = "PoW"
)

// ErrMissingConsensusAlgorithm is a fatal startup misconfiguration: a node
// cannot run without choosing a consensus variant.
var ErrMissingConsensusAlgorithm = errors.New("config: consensusAlgorithm is required")

// Validate reports fatal startup misconfigurations: a missing
// consensusAlgorithm, one that names neither supported variant, or a
// missing node id.
func (c *Config) Validate() error {
	switch c.ConsensusAlgorithm {
	case "":
		return ErrMissingConsensusAlgorithm
	case algorithmRaft, algorithmPoW:
	default:
		return errors.Errorf("config: unknown consensusAlgorithm %q", c.ConsensusAlgorithm)
	}
	if c.ID == "" {
		return errors.New("config: id is required")
	}
	return nil
}

// storageBackend maps the configured storage name onto a
// storage/database.Backend. Unknown names are rejected rather than
// silently mapped to a default.
func (c *Config) storageBackend() (database.Backend, error) {
	switch c.Storage {
	case "", "LevelDB":
		return database.LevelDB, nil
	case "Badger":
		return database.Badger, nil
	case "Memory":
		return database.Memory, nil
	default:
		return "", errors.Errorf("config: unsupported storage backend %q", c.Storage)
	}
}

// LoadConfig reads and parses a TOML configuration file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer f.Close()

	var cfg Config
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	return &cfg, nil
}

// WriteConfig serializes cfg as TOML to path, the inverse of LoadConfig.
func WriteConfig(cfg *Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create config file")
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
