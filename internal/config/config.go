// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package config loads heartystore's configuration from a YAML file, with
// environment and flag overrides layered on top, following the same
// default-then-file-then-flag resolution tractserver uses for its Config,
// and the YAML-with-env-override style used elsewhere in the ecosystem.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config encapsulates the tunable parameters of a heartystore deployment.
// Unlike tractserver's Config, there is no networking or replication
// factor here: this is a single-process, single-store-at-a-time tool.
type Config struct {
	// BaseDir is the filesystem root holding store_<id> and ha_group_<id>
	// directories. Defaults to os.TempDir().
	BaseDir string `yaml:"base_dir"`

	// BlockSize is the size in bytes of one block. Defaults to 1 MiB.
	BlockSize uint64 `yaml:"block_size"`

	// NumBlocks is the number of blocks per store. Defaults to 1024.
	NumBlocks uint32 `yaml:"num_blocks"`

	// UnlinkSweepInterval is unused by the single-shot command surface
	// today (there is no long-running sweep process, unlike
	// tractserver's SweepTractInterval), but is kept as a documented knob
	// for a future daemon mode that reaps orphaned replica directories.
	UnlinkSweepInterval time.Duration `yaml:"unlink_sweep_interval"`

	// LockEnabled is the toggle for the advisory per-store flock
	// (layout.WithFlock). Off by default, since the baseline contract is a
	// single process per invocation. It is loaded and validated here, but
	// no command path reads it: the store, mirror, HA and engine packages
	// never take the lock, whatever its value.
	LockEnabled bool `yaml:"lock_enabled"`
}

// DefaultConfig specifies the default values mandated by the data model:
// a 1 MiB block size and 1024 blocks per store (1 GiB of capacity).
var DefaultConfig = Config{
	BlockSize:           1 << 20,
	NumBlocks:           1024,
	UnlinkSweepInterval: 24 * time.Hour,
	LockEnabled:         false,
}

// Validate checks that the configuration has sane, non-zero values.
func (c Config) Validate() error {
	if c.BlockSize == 0 {
		return errConfig("block_size can not be 0")
	}
	if c.NumBlocks == 0 {
		return errConfig("num_blocks can not be 0")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }
func errConfig(msg string) error    { return configError(msg) }

// Load resolves the configuration in precedence order: HEARTYSTORE_BASE env
// var > $XDG_CONFIG_HOME/heartystore/config.yaml > DefaultConfig. A flag
// override (the -base flag of cmd/heartystore) is applied by the caller on
// top of the returned Config. A missing config file is not an error; its absence just
// means DefaultConfig's values stand.
func Load() (Config, error) {
	cfg := DefaultConfig
	cfg.BaseDir = os.TempDir()

	path := filepath.Join(xdgConfigHome(), "heartystore", "config.yaml")
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv("HEARTYSTORE_BASE"); v != "" {
		cfg.BaseDir = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func xdgConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}
