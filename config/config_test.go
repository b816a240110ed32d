// Copyright 2020 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingcap-incubator/testcollector-go/upload"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BUILDKITE_ANALYTICS_TOKEN", "")
	t.Setenv("BUILDKITE_ANALYTICS_URL", "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.False(t, cfg.Upload().Enabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BUILDKITE_ANALYTICS_TOKEN", "abc")
	t.Setenv("BUILDKITE_ANALYTICS_DEBUG_ENABLED", "true")
	t.Setenv("BUILDKITE_ANALYTICS_LOCATION_PREFIX", "payments")
	t.Setenv("BUILDKITE_ANALYTICS_TIMEOUT", "5s")
	t.Setenv("BUILDKITE_ANALYTICS_HOOKS", "testing,net/http")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Token)
	assert.True(t, bool(cfg.Debug))
	assert.Equal(t, "payments", cfg.LocationPrefix)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"testing", "net/http"}, cfg.Hooks)
	assert.Equal(t, upload.DefaultURL, cfg.URL)

	up := cfg.Upload()
	assert.True(t, up.Enabled())
	assert.Equal(t, 5*time.Second, up.Timeout)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("BUILDKITE_ANALYTICS_TOKEN", "")
	os.Unsetenv("BUILDKITE_ANALYTICS_TOKEN")
	path := filepath.Join(dir, "collector.env")
	require.NoError(t, os.WriteFile(path, []byte("BUILDKITE_ANALYTICS_TOKEN=from-file\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Token)
	os.Unsetenv("BUILDKITE_ANALYTICS_TOKEN")
}

func TestDebugFlag(t *testing.T) {
	t.Chdir(t.TempDir())
	for value, want := range map[string]bool{
		"yes":   true,
		"1":     true,
		"TRUE":  true,
		"on":    true,
		"false": false,
		"0":     false,
		"":      false,
	} {
		t.Setenv("BUILDKITE_ANALYTICS_DEBUG_ENABLED", value)
		cfg, err := Load()
		require.NoError(t, err, value)
		assert.Equal(t, want, bool(cfg.Debug), value)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BUILDKITE_ANALYTICS_MAX_ATTEMPTS", "many")
	_, err := Load()
	assert.Error(t, err)
}
