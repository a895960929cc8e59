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

// Package registryapi is a typed client for the registry's REST API. It
// encodes each operation as a transport.Request and decodes the answer, so
// it works on top of any client pipeline built with package transport.
package registryapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bufbuild/discoverylb/registry"
	"github.com/bufbuild/discoverylb/transport"
	jsoniter "github.com/json-iterator/go"
)

//nolint:gochecknoglobals
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusError is returned when the registry answers with a status other
// than 2xx.
type StatusError struct {
	Operation  transport.Operation
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: registry answered with status %d %s",
		e.Operation, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsNotFound reports whether err is a StatusError with status 404.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// Client issues registry operations over a transport.Client.
type Client struct {
	transport transport.Client
}

// New returns a Client that sends its requests through the given client.
// The Client does not own it: closing is up to the caller.
func New(client transport.Client) *Client {
	return &Client{transport: client}
}

type instanceEnvelope struct {
	Instance *registry.Instance `json:"instance"`
}

type applicationEnvelope struct {
	Application *registry.Application `json:"application"`
}

type applicationsEnvelope struct {
	Applications *registry.Applications `json:"applications"`
}

// Register registers the instance with the registry.
func (c *Client) Register(ctx context.Context, instance *registry.Instance) error {
	body, err := json.Marshal(instanceEnvelope{Instance: instance})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, &transport.Request{
		Operation: transport.OpRegister,
		Method:    http.MethodPost,
		Path:      "apps/" + url.PathEscape(instance.App),
		Body:      body,
	})
	return err
}

// Cancel removes the instance from the registry.
func (c *Client) Cancel(ctx context.Context, app, instanceID string) error {
	_, err := c.do(ctx, &transport.Request{
		Operation: transport.OpCancel,
		Method:    http.MethodDelete,
		Path:      instancePath(app, instanceID),
	})
	return err
}

// SendHeartbeat renews the lease of the instance. When the registry holds
// a newer copy of the instance than the caller, it sends that copy back;
// otherwise the returned instance is nil. A 404 means the registry does not
// know the instance, which should then register again.
func (c *Client) SendHeartbeat(
	ctx context.Context,
	app, instanceID string,
	status registry.InstanceStatus,
	overriddenStatus registry.InstanceStatus,
) (*registry.Instance, error) {
	query := url.Values{"status": {string(status)}}
	if overriddenStatus != "" {
		query.Set("overriddenstatus", string(overriddenStatus))
	}
	resp, err := c.do(ctx, &transport.Request{
		Operation: transport.OpSendHeartbeat,
		Method:    http.MethodPut,
		Path:      instancePath(app, instanceID),
		Query:     query,
	})
	if err != nil || len(resp.Body) == 0 {
		return nil, err
	}
	var envelope instanceEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding heartbeat response: %w", err)
	}
	return envelope.Instance, nil
}

// StatusUpdate sets an overriding status on the instance.
func (c *Client) StatusUpdate(
	ctx context.Context,
	app, instanceID string,
	status registry.InstanceStatus,
	lastDirtyTimestamp int64,
) error {
	_, err := c.do(ctx, &transport.Request{
		Operation: transport.OpStatusUpdate,
		Method:    http.MethodPut,
		Path:      instancePath(app, instanceID) + "/status",
		Query: url.Values{
			"value":              {string(status)},
			"lastDirtyTimestamp": {strconv.FormatInt(lastDirtyTimestamp, 10)},
		},
	})
	return err
}

// DeleteStatusOverride removes the overriding status of the instance.
func (c *Client) DeleteStatusOverride(ctx context.Context, app, instanceID string, lastDirtyTimestamp int64) error {
	_, err := c.do(ctx, &transport.Request{
		Operation: transport.OpDeleteStatusOverride,
		Method:    http.MethodDelete,
		Path:      instancePath(app, instanceID) + "/status",
		Query:     url.Values{"lastDirtyTimestamp": {strconv.FormatInt(lastDirtyTimestamp, 10)}},
	})
	return err
}

// GetApplications fetches the full registry contents. Remote regions, if
// given, are included in the result.
func (c *Client) GetApplications(ctx context.Context, regions ...string) (*registry.Applications, error) {
	return c.applications(ctx, transport.OpGetApplications, "apps/", regions)
}

// GetDelta fetches the changes since the caller's last fetch.
func (c *Client) GetDelta(ctx context.Context, regions ...string) (*registry.Applications, error) {
	return c.applications(ctx, transport.OpGetDelta, "apps/delta", regions)
}

// GetVIP fetches the instances serving the given virtual host name.
func (c *Client) GetVIP(ctx context.Context, vip string, regions ...string) (*registry.Applications, error) {
	return c.applications(ctx, transport.OpGetVIP, "vips/"+url.PathEscape(vip), regions)
}

// GetSecureVIP fetches the instances serving the given secure virtual host
// name.
func (c *Client) GetSecureVIP(ctx context.Context, vip string, regions ...string) (*registry.Applications, error) {
	return c.applications(ctx, transport.OpGetSecureVIP, "svips/"+url.PathEscape(vip), regions)
}

// GetApplication fetches one application.
func (c *Client) GetApplication(ctx context.Context, app string) (*registry.Application, error) {
	resp, err := c.do(ctx, &transport.Request{
		Operation: transport.OpGetApplication,
		Method:    http.MethodGet,
		Path:      "apps/" + url.PathEscape(app),
	})
	if err != nil {
		return nil, err
	}
	var envelope applicationEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding application %s: %w", app, err)
	}
	return envelope.Application, nil
}

// GetInstance fetches one instance by ID, regardless of its application.
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*registry.Instance, error) {
	resp, err := c.do(ctx, &transport.Request{
		Operation: transport.OpGetInstance,
		Method:    http.MethodGet,
		Path:      "instances/" + url.PathEscape(instanceID),
	})
	if err != nil {
		return nil, err
	}
	var envelope instanceEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding instance %s: %w", instanceID, err)
	}
	return envelope.Instance, nil
}

func (c *Client) applications(
	ctx context.Context,
	op transport.Operation,
	path string,
	regions []string,
) (*registry.Applications, error) {
	req := &transport.Request{
		Operation: op,
		Method:    http.MethodGet,
		Path:      path,
	}
	if len(regions) > 0 {
		req.Query = url.Values{"regions": {strings.Join(regions, ",")}}
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var envelope applicationsEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("%s: decoding applications: %w", op, err)
	}
	if envelope.Applications == nil {
		return &registry.Applications{}, nil
	}
	return envelope.Applications, nil
}

func (c *Client) do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &StatusError{Operation: req.Operation, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func instancePath(app, instanceID string) string {
	return "apps/" + url.PathEscape(app) + "/" + url.PathEscape(instanceID)
}
