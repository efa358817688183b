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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(LoaderOptions{
		ConfigDir:      ".",
		Environment:    "development",
		SkipValidation: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
}

func TestLoadForEnvironment(t *testing.T) {
	for _, env := range []string{"development", "staging", "production", "local"} {
		t.Run(env, func(t *testing.T) {
			cfg, err := LoadForEnvironment(env)
			require.NoError(t, err)
			assert.Equal(t, env, cfg.Environment)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	os.Setenv("CHATMESH_STORE_DSN", "/override/mesh.db")
	os.Setenv("CHATMESH_LOG_LEVEL", "debug")
	defer os.Unsetenv("CHATMESH_STORE_DSN")
	defer os.Unsetenv("CHATMESH_LOG_LEVEL")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "development.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("environment: development\nstore:\n  driver: sqlite\nlogging:\n  level: info\n"), 0644))

	cfg, err := Load(LoaderOptions{
		ConfigDir:      tmpDir,
		Environment:    "development",
		SkipValidation: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "/override/mesh.db", cfg.Store.DSN)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadWithCustomConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	testConfig := `
environment: test
logging:
  level: info
  format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

	cfg, err := Load(LoaderOptions{
		ConfigDir:      tmpDir,
		Environment:    "test",
		SkipValidation: true,
	})
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestDefaultLoaderOptions(t *testing.T) {
	opts := DefaultLoaderOptions()
	assert.Equal(t, "config", opts.ConfigDir)
	assert.False(t, opts.SkipEnvSubstitution)
	assert.False(t, opts.SkipValidation)
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	assert.Equal(t, "development", cfg.Environment)
}

func TestNodeConfigDefaults(t *testing.T) {
	cfg := &Config{Node: &NodeConfig{}}
	setDefaults(cfg)
	assert.Equal(t, ".chatmesh/profile.json", cfg.Node.ProfilePath)
	assert.Equal(t, ".chatmesh", cfg.Node.DataDir)
}

func TestDiscoveryConfigDefaults(t *testing.T) {
	cfg := &Config{Discovery: &DiscoveryConfig{}}
	setDefaults(cfg)
	assert.Equal(t, "zeroconf", cfg.Discovery.Adapter)
	assert.Equal(t, "_chatmesh._tcp", cfg.Discovery.ServiceType)
}

func TestStoreConfigDefaults(t *testing.T) {
	cfg := &Config{Store: &StoreConfig{}}
	setDefaults(cfg)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, ".chatmesh/mesh.db", cfg.Store.DSN)
}
