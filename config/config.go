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

// Package config holds the settings of a registry client and loads them
// from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables that override settings,
// e.g. DISCOVERY_REGION or DISCOVERY_SESSION_RECONNECT_INTERVAL.
const EnvPrefix = "DISCOVERY"

// Defaults.
const (
	DefaultRegion                         = "us-east-1"
	DefaultServerPath                     = "/eureka/v2/"
	DefaultSessionReconnectInterval       = 20 * time.Minute
	DefaultAsyncRefreshInterval           = 5 * time.Minute
	DefaultApplicationsStalenessThreshold = 5 * time.Minute
	DefaultQuarantineRefreshPercentage    = 0.66
	DefaultRequestTimeout                 = 30 * time.Second
	DefaultMaxRedirects                   = 10
	DefaultQueryTimeout                   = 30 * time.Second
)

// Config configures the registry client factories.
//
// Map keys are case-insensitive when loaded from a file, so zone and
// region names should be lower case.
type Config struct {
	// Region the client runs in.
	Region string `mapstructure:"region"`
	// AvailabilityZones lists the zones of each region, in order.
	AvailabilityZones map[string][]string `mapstructure:"availability_zones"`
	// ServiceURLs lists the registry servers of each zone.
	ServiceURLs map[string][]string `mapstructure:"service_urls"`
	// ServerPath is the context path of the registry API on servers that
	// are discovered rather than configured.
	ServerPath string `mapstructure:"server_path"`
	// ReadClusterVIP is the virtual host name of the servers that answer
	// queries. When empty, queries use the configured servers only.
	ReadClusterVIP string `mapstructure:"read_cluster_vip"`
	// UseIP addresses discovered servers by IP address.
	UseIP bool `mapstructure:"use_ip"`
	// Secure talks to discovered servers over HTTPS.
	Secure bool `mapstructure:"secure"`
	// PreferSameZone lists configured servers of the client's zone first.
	PreferSameZone bool `mapstructure:"prefer_same_zone"`
	// ZoneAffinity moves discovered servers of the client's zone first.
	ZoneAffinity bool `mapstructure:"zone_affinity"`

	SessionReconnectInterval       time.Duration `mapstructure:"session_reconnect_interval"`
	SessionJitter                  float64       `mapstructure:"session_jitter"`
	AsyncRefreshInterval           time.Duration `mapstructure:"async_refresh_interval"`
	AsyncWarmUpTimeout             time.Duration `mapstructure:"async_warm_up_timeout"`
	ApplicationsStalenessThreshold time.Duration `mapstructure:"applications_staleness_threshold"`
	QuarantineRefreshPercentage    float64       `mapstructure:"quarantine_refresh_percentage"`
	// RetryMaxAttempts bounds attempts per operation; zero means one per
	// candidate server.
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxRedirects     int           `mapstructure:"max_redirects"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
}

// LoadOption customizes Load.
type LoadOption func(*viper.Viper)

// WithConfigFile reads settings from the given file. Its format follows
// the file extension.
func WithConfigFile(path string) LoadOption {
	return func(v *viper.Viper) {
		v.SetConfigFile(path)
	}
}

// WithOverride sets a value that takes precedence over file and
// environment.
func WithOverride(key string, value any) LoadOption {
	return func(v *viper.Viper) {
		v.Set(key, value)
	}
}

// Load reads the configuration. Sources are, from lowest to highest
// precedence: defaults, the config file, DISCOVERY_* environment
// variables and overrides. The result is validated.
func Load(options ...LoadOption) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, opt := range options {
		opt(v)
	}
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("region", DefaultRegion)
	v.SetDefault("server_path", DefaultServerPath)
	v.SetDefault("read_cluster_vip", "")
	v.SetDefault("use_ip", false)
	v.SetDefault("secure", false)
	v.SetDefault("prefer_same_zone", true)
	v.SetDefault("zone_affinity", true)
	v.SetDefault("session_reconnect_interval", DefaultSessionReconnectInterval)
	v.SetDefault("session_jitter", 0.0)
	v.SetDefault("async_refresh_interval", DefaultAsyncRefreshInterval)
	v.SetDefault("async_warm_up_timeout", time.Duration(0))
	v.SetDefault("applications_staleness_threshold", DefaultApplicationsStalenessThreshold)
	v.SetDefault("quarantine_refresh_percentage", DefaultQuarantineRefreshPercentage)
	v.SetDefault("retry_max_attempts", 0)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("max_redirects", DefaultMaxRedirects)
	v.SetDefault("query_timeout", DefaultQueryTimeout)
}

// ApplyDefaults fills in zero values. It lets a Config built in code,
// rather than by Load, start from the same defaults.
func (c *Config) ApplyDefaults() {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.ServerPath == "" {
		c.ServerPath = DefaultServerPath
	}
	if c.SessionReconnectInterval == 0 {
		c.SessionReconnectInterval = DefaultSessionReconnectInterval
	}
	if c.AsyncRefreshInterval == 0 {
		c.AsyncRefreshInterval = DefaultAsyncRefreshInterval
	}
	if c.ApplicationsStalenessThreshold == 0 {
		c.ApplicationsStalenessThreshold = DefaultApplicationsStalenessThreshold
	}
	if c.QuarantineRefreshPercentage == 0 {
		c.QuarantineRefreshPercentage = DefaultQuarantineRefreshPercentage
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if len(c.ServiceURLs) == 0 {
		errs = append(errs, errors.New("service_urls: at least one zone with registry servers is required"))
	}
	for zone, urls := range c.ServiceURLs {
		if len(urls) == 0 {
			errs = append(errs, fmt.Errorf("service_urls.%s: no servers listed", zone))
		}
	}
	if c.SessionJitter < 0 || c.SessionJitter > 1 {
		errs = append(errs, fmt.Errorf("session_jitter: %v is not within [0, 1]", c.SessionJitter))
	}
	if c.QuarantineRefreshPercentage < 0 || c.QuarantineRefreshPercentage > 1 {
		errs = append(errs, fmt.Errorf("quarantine_refresh_percentage: %v is not within [0, 1]", c.QuarantineRefreshPercentage))
	}
	if c.RetryMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry_max_attempts: %d is negative", c.RetryMaxAttempts))
	}
	if c.MaxRedirects < 0 {
		errs = append(errs, fmt.Errorf("max_redirects: %d is negative", c.MaxRedirects))
	}
	for name, value := range map[string]time.Duration{
		"session_reconnect_interval":       c.SessionReconnectInterval,
		"async_refresh_interval":           c.AsyncRefreshInterval,
		"async_warm_up_timeout":            c.AsyncWarmUpTimeout,
		"applications_staleness_threshold": c.ApplicationsStalenessThreshold,
		"request_timeout":                  c.RequestTimeout,
		"query_timeout":                    c.QueryTimeout,
	} {
		if value < 0 {
			errs = append(errs, fmt.Errorf("%s: %v is negative", name, value))
		}
	}
	return errors.Join(errs...)
}

// Zones returns the availability zones of the configured region.
func (c *Config) Zones() []string {
	return c.AvailabilityZones[c.Region]
}
