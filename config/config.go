// Copyright (C) 2025 chatmesh-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a mesh node.
type Config struct {
	Environment string           `yaml:"environment" json:"environment"`
	Node        *NodeConfig      `yaml:"node" json:"node"`
	Discovery   *DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Link        *LinkConfig      `yaml:"link" json:"link"`
	Store       *StoreConfig     `yaml:"store" json:"store"`
	Logging     *LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// NodeConfig identifies this node and where its state lives.
type NodeConfig struct {
	Username    string `yaml:"username" json:"username"`
	ProfilePath string `yaml:"profile_path" json:"profile_path"`
	DataDir     string `yaml:"data_dir" json:"data_dir"`
}

// DiscoveryConfig selects the peer-discovery adapter.
type DiscoveryConfig struct {
	Adapter     string `yaml:"adapter" json:"adapter"`
	ServiceType string `yaml:"service_type" json:"service_type"`
}

// LinkConfig tunes the TCP link layer.
type LinkConfig struct {
	DialTimeout    time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxFrameBytes  int           `yaml:"max_frame_bytes" json:"max_frame_bytes"`
	SendQueueDepth int           `yaml:"send_queue_depth" json:"send_queue_depth"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn" json:"dsn"`        // sqlite file path, or postgres connection params
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a file, trying YAML then JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	// Try to parse as YAML first
	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Try JSON if YAML fails
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills in defaults for any nested config block that is
// present but incomplete. A nil block is left nil: callers that don't
// care about discovery, metrics, etc. don't have to populate them.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Node != nil {
		if cfg.Node.ProfilePath == "" {
			cfg.Node.ProfilePath = ".chatmesh/profile.json"
		}
		if cfg.Node.DataDir == "" {
			cfg.Node.DataDir = ".chatmesh"
		}
	}

	if cfg.Discovery != nil {
		if cfg.Discovery.Adapter == "" {
			cfg.Discovery.Adapter = "zeroconf"
		}
		if cfg.Discovery.ServiceType == "" {
			cfg.Discovery.ServiceType = "_chatmesh._tcp"
		}
	}

	if cfg.Link != nil {
		if cfg.Link.DialTimeout == 0 {
			cfg.Link.DialTimeout = 5 * time.Second
		}
		if cfg.Link.IdleTimeout == 0 {
			cfg.Link.IdleTimeout = 30 * time.Second
		}
		if cfg.Link.MaxFrameBytes == 0 {
			cfg.Link.MaxFrameBytes = 64 * 1024
		}
		if cfg.Link.SendQueueDepth == 0 {
			cfg.Link.SendQueueDepth = 256
		}
	}

	if cfg.Store != nil {
		if cfg.Store.Driver == "" {
			cfg.Store.Driver = "sqlite"
		}
		if cfg.Store.DSN == "" {
			cfg.Store.DSN = ".chatmesh/mesh.db"
		}
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}

	if cfg.Metrics != nil {
		if cfg.Metrics.Port == 0 {
			cfg.Metrics.Port = 9090
		}
		if cfg.Metrics.Path == "" {
			cfg.Metrics.Path = "/metrics"
		}
	}
}
