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

// Package registry contains the data model of the service registry: the
// instances that register with it, the applications they belong to, and
// the snapshot of all applications that clients keep in memory.
//
// The package also hosts the two collaborators the resolvers depend on
// but do not own: zone lookup for an instance ([ZoneOf]) and the source of
// the in-memory applications snapshot ([ApplicationsSource]).
package registry

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// InstanceStatus is the lifecycle status an instance reports to the registry.
type InstanceStatus string

const (
	StatusUp           InstanceStatus = "UP"
	StatusDown         InstanceStatus = "DOWN"
	StatusStarting     InstanceStatus = "STARTING"
	StatusOutOfService InstanceStatus = "OUT_OF_SERVICE"
	StatusUnknown      InstanceStatus = "UNKNOWN"
)

// MetadataAvailabilityZone is the data center metadata key holding the
// availability zone an instance runs in.
const MetadataAvailabilityZone = "availability-zone"

// DefaultZone is used when neither configuration nor instance metadata
// name a zone.
const DefaultZone = "default"

// DataCenterInfo describes where an instance runs.
type DataCenterInfo struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Instance is one registered instance of an application.
type Instance struct {
	InstanceID        string            `json:"instanceId"`
	App               string            `json:"app"`
	HostName          string            `json:"hostName"`
	IPAddr            string            `json:"ipAddr"`
	VIPAddress        string            `json:"vipAddress,omitempty"`
	SecureVIPAddress  string            `json:"secureVipAddress,omitempty"`
	Status            InstanceStatus    `json:"status"`
	OverriddenStatus  InstanceStatus    `json:"overriddenStatus,omitempty"`
	Port              int               `json:"port"`
	PortEnabled       bool              `json:"portEnabled"`
	SecurePort        int               `json:"securePort"`
	SecurePortEnabled bool              `json:"securePortEnabled"`
	DataCenter        DataCenterInfo    `json:"dataCenterInfo"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	LastUpdated       int64             `json:"lastUpdatedTimestamp,omitempty"`
	LastDirty         int64             `json:"lastDirtyTimestamp,omitempty"`
}

// HasVIP reports whether the instance serves the given virtual host name,
// either on its plain or its secure VIP. VIP addresses may hold a comma
// separated list of names.
func (i *Instance) HasVIP(vip string, secure bool) bool {
	addresses := i.VIPAddress
	if secure {
		addresses = i.SecureVIPAddress
	}
	for _, name := range strings.Split(addresses, ",") {
		if strings.EqualFold(strings.TrimSpace(name), vip) {
			return true
		}
	}
	return false
}

// Application groups the instances registered under one application name.
type Application struct {
	Name      string      `json:"name"`
	Instances []*Instance `json:"instance"`
}

// Instance returns the instance with the given ID, or nil.
func (a *Application) Instance(id string) *Instance {
	for _, instance := range a.Instances {
		if instance.InstanceID == id {
			return instance
		}
	}
	return nil
}

// Applications is a snapshot of every application known to the registry.
type Applications struct {
	VersionDelta int64          `json:"versionsDelta"`
	HashCode     string         `json:"appsHashCode"`
	Applications []*Application `json:"application"`
}

// Application returns the application with the given name (compared case
// insensitively), or nil.
func (a *Applications) Application(name string) *Application {
	if a == nil {
		return nil
	}
	for _, app := range a.Applications {
		if strings.EqualFold(app.Name, name) {
			return app
		}
	}
	return nil
}

// InstancesByVIP returns every instance, across all applications, that
// serves the given virtual host name. Order follows the snapshot.
func (a *Applications) InstancesByVIP(vip string, secure bool) []*Instance {
	if a == nil {
		return nil
	}
	var result []*Instance
	for _, app := range a.Applications {
		for _, instance := range app.Instances {
			if instance.HasVIP(vip, secure) {
				result = append(result, instance)
			}
		}
	}
	return result
}

// ComputeHashCode returns the reconciliation hash of the snapshot: the
// count of instances per status, sorted by status name, formatted as
// "STATUS_count_" pairs. Registry servers publish the same value so that
// clients can detect a diverged delta.
func (a *Applications) ComputeHashCode() string {
	counts := map[InstanceStatus]int{}
	if a != nil {
		for _, app := range a.Applications {
			for _, instance := range app.Instances {
				counts[instance.Status]++
			}
		}
	}
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	var builder strings.Builder
	for _, status := range statuses {
		builder.WriteString(status)
		builder.WriteByte('_')
		builder.WriteString(strconv.Itoa(counts[InstanceStatus(status)]))
		builder.WriteByte('_')
	}
	return builder.String()
}

// ApplicationsSource provides the in-memory applications snapshot that a
// registry client keeps synchronized with the server.
type ApplicationsSource interface {
	// Applications returns the current snapshot if it was refreshed within
	// the given staleness threshold. It returns false when no snapshot is
	// available yet or when the snapshot is too old to be trusted.
	Applications(stalenessThreshold time.Duration) (*Applications, bool)
}

// ApplicationsSourceFunc adapts a function to the ApplicationsSource interface.
type ApplicationsSourceFunc func(stalenessThreshold time.Duration) (*Applications, bool)

// Applications implements ApplicationsSource.
func (f ApplicationsSourceFunc) Applications(stalenessThreshold time.Duration) (*Applications, bool) {
	return f(stalenessThreshold)
}

// ZoneOf returns the zone of the given instance. Instance metadata naming
// an availability zone wins; otherwise the first configured availability
// zone is used, and DefaultZone if none are configured.
func ZoneOf(availabilityZones []string, instance *Instance) string {
	zone := DefaultZone
	if len(availabilityZones) > 0 {
		zone = availabilityZones[0]
	}
	if instance != nil {
		if instanceZone := instance.DataCenter.Metadata[MetadataAvailabilityZone]; instanceZone != "" {
			zone = instanceZone
		}
	}
	return zone
}
