/************************************************************************************
 *
 * crescendo, A Go client library for Spacebar-compatible chat instances
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 The Crescendo Contributors
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package crescendo

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// InstanceURLs is the address triple of one server instance.
type InstanceURLs struct {
	// API is the HTTP api base, e.g. "https://example.chat/api/v9".
	API string
	// WSS is the gateway WebSocket base, e.g. "wss://example.chat".
	WSS string
	// CDN is the content delivery base, e.g. "https://cdn.example.chat".
	CDN string
}

// Instance describes one server and holds the state shared by every session
// on it: the URL triple and the instance-wide rate-limit table. Immutable
// for the life of a session unless the application replaces it.
type Instance struct {
	URLs InstanceURLs

	// Limits is the instance-wide rate-limit table, nil when the instance
	// has rate limiting disabled.
	Limits *LimitTable

	// LimitsConfiguration is the policy document the table was built from,
	// nil when rate limiting is disabled.
	LimitsConfiguration *LimitsConfiguration

	properties ClientProperties
	httpClient *http.Client
	dialer     GatewayDialer
	logger     zerolog.Logger
}

// InstanceOption configures an instance at creation.
type InstanceOption func(*Instance)

// WithProperties sets the client properties presented by sessions on this
// instance.
func WithProperties(p ClientProperties) InstanceOption {
	return func(i *Instance) { i.properties = p }
}

// WithHTTPClient substitutes the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) InstanceOption {
	return func(i *Instance) { i.httpClient = c }
}

// WithDialer substitutes the gateway WebSocket dial function.
func WithDialer(d GatewayDialer) InstanceOption {
	return func(i *Instance) { i.dialer = d }
}

// WithLogger sets the logger sessions on this instance derive from.
func WithLogger(logger zerolog.Logger) InstanceOption {
	return func(i *Instance) { i.logger = logger }
}

// NewInstance builds an instance descriptor and probes its rate-limit
// policy once. The URL fields are normalized to have no trailing slash.
func NewInstance(ctx context.Context, urls InstanceURLs, opts ...InstanceOption) (*Instance, error) {
	inst := &Instance{
		URLs: InstanceURLs{
			API: strings.TrimSuffix(urls.API, "/"),
			WSS: strings.TrimSuffix(urls.WSS, "/"),
			CDN: strings.TrimSuffix(urls.CDN, "/"),
		},
		properties: CommonProperties(),
		logger:     defaultLogger(),
		dialer:     defaultGatewayDialer,
	}
	for _, opt := range opts {
		opt(inst)
	}
	if inst.httpClient == nil {
		inst.httpClient = newHTTPClient()
	}

	config, err := ProbeInstanceLimits(ctx, inst.httpClient, inst.URLs.API)
	if err != nil {
		return nil, err
	}
	inst.LimitsConfiguration = config
	inst.Limits = NewInstanceLimitTable(config)
	if config == nil {
		inst.logger.Debug().Str("api", inst.URLs.API).Msg("instance has rate limiting disabled")
	}
	return inst, nil
}

// newSessionLimits pairs the shared instance table with a fresh per-user one.
func (i *Instance) newSessionLimits() *Limits {
	return &Limits{
		Instance: i.Limits,
		User:     NewUserLimitTable(i.LimitsConfiguration),
	}
}
