// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
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
)

const testConfig = `
region: us-east-1
availability_zones:
  us-east-1: [us-east-1a, us-east-1b]
service_urls:
  us-east-1a:
    - http://a1.internal:8080/eureka/v2/
    - http://a2.internal:8080/eureka/v2/
  us-east-1b:
    - http://b1.internal:8080/eureka/v2/
read_cluster_vip: discovery-read
zone_affinity: false
async_refresh_interval: 1m
session_jitter: 0.25
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "discovery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("DISCOVERY_SESSION_RECONNECT_INTERVAL", "5m")
	t.Setenv("DISCOVERY_USE_IP", "true")

	cfg, err := Load(WithConfigFile(writeConfig(t, testConfig)), WithOverride("max_redirects", 3))
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, []string{"us-east-1a", "us-east-1b"}, cfg.Zones())
	assert.Equal(t, []string{
		"http://a1.internal:8080/eureka/v2/",
		"http://a2.internal:8080/eureka/v2/",
	}, cfg.ServiceURLs["us-east-1a"])
	assert.Equal(t, "discovery-read", cfg.ReadClusterVIP)
	assert.False(t, cfg.ZoneAffinity)
	assert.True(t, cfg.PreferSameZone)
	assert.Equal(t, time.Minute, cfg.AsyncRefreshInterval)
	assert.InDelta(t, 0.25, cfg.SessionJitter, 0)

	// Environment and overrides win over the file.
	assert.Equal(t, 5*time.Minute, cfg.SessionReconnectInterval)
	assert.True(t, cfg.UseIP)
	assert.Equal(t, 3, cfg.MaxRedirects)

	// Untouched settings keep their defaults.
	assert.Equal(t, DefaultServerPath, cfg.ServerPath)
	assert.Equal(t, DefaultApplicationsStalenessThreshold, cfg.ApplicationsStalenessThreshold)
	assert.InDelta(t, DefaultQuarantineRefreshPercentage, cfg.QuarantineRefreshPercentage, 0)
	assert.Zero(t, cfg.AsyncWarmUpTimeout)
	assert.Zero(t, cfg.RetryMaxAttempts)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	_, err := Load(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	require.ErrorContains(t, err, "reading config file")

	_, err = Load(WithConfigFile(writeConfig(t, "region: us-east-1\n")))
	require.ErrorContains(t, err, "service_urls")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		ServiceURLs:                 map[string][]string{"default": {"http://localhost:8080/eureka/v2/"}, "empty": nil},
		SessionJitter:               1.5,
		QuarantineRefreshPercentage: -0.1,
		RetryMaxAttempts:            -1,
		QueryTimeout:                -time.Second,
	}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"service_urls.empty",
		"session_jitter",
		"quarantine_refresh_percentage",
		"retry_max_attempts",
		"query_timeout",
	} {
		assert.ErrorContains(t, err, want)
	}

	valid := &Config{ServiceURLs: map[string][]string{"default": {"http://localhost:8080/eureka/v2/"}}}
	valid.ApplyDefaults()
	require.NoError(t, valid.Validate())
	assert.Equal(t, DefaultRegion, valid.Region)
	assert.Equal(t, DefaultMaxRedirects, valid.MaxRedirects)
	assert.Equal(t, DefaultRequestTimeout, valid.RequestTimeout)
}
