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
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

/***********************
 *      Requester      *
 ***********************/

// Requester executes HTTP requests for one user session under the instance's
// and the session's rate-limit tables. It never queues or retries: a blocked
// bucket surfaces as RateLimitedError and the caller decides.
type Requester struct {
	client     *http.Client
	apiBase    string
	properties ClientProperties
	limits     *Limits
	logger     zerolog.Logger

	mu       sync.RWMutex
	token    string
	mfaToken string
}

// newHTTPClient builds the default transport with connection pooling tuned
// for a chatty API client.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,

			MaxIdleConns:        500,
			MaxIdleConnsPerHost: 100,
			MaxConnsPerHost:     200,

			IdleConnTimeout:       120 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,

			DisableKeepAlives: false,
			ForceAttemptHTTP2: true,
		},
	}
}

// newRequester creates a Requester bound to an api base URL and limit tables.
func newRequester(client *http.Client, apiBase string, properties ClientProperties, limits *Limits, logger zerolog.Logger) *Requester {
	if client == nil {
		client = newHTTPClient()
	}
	return &Requester{
		client:     client,
		apiBase:    apiBase,
		properties: properties,
		limits:     limits,
		logger:     logger.With().Str("component", "http").Logger(),
	}
}

// SetToken installs the bearer token used on authenticated requests.
// Responses from token-refreshing endpoints call this again.
func (r *Requester) SetToken(token string) {
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
}

// Token returns the current bearer token.
func (r *Requester) Token() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

// SetMfaToken installs the MFA ticket/token sent on MFA-guarded endpoints.
func (r *Requester) SetMfaToken(token string) {
	r.mu.Lock()
	r.mfaToken = token
	r.mu.Unlock()
}

// instrument attaches the identification and telemetry headers every request
// must carry.
func (r *Requester) instrument(req *http.Request, authenticate bool) {
	req.Header.Set("User-Agent", r.properties.RequestUserAgent())
	req.Header.Set("Accept", "application/json")

	if r.properties.SendTelemetryHeaders {
		req.Header.Set("X-Super-Properties", r.properties.SuperProperties())
		if r.properties.SystemLocale != "" {
			req.Header.Set("X-Discord-Locale", r.properties.SystemLocale)
		}
		req.Header.Set("X-Debug-Options", "bugReporterEnabled")
	}

	r.mu.RLock()
	token, mfa := r.token, r.mfaToken
	r.mu.RUnlock()

	if authenticate && token != "" {
		// No bearer prefix; instances expect the raw token.
		req.Header.Set("Authorization", token)
	}
	if mfa != "" {
		req.Header.Set("X-Discord-MFA-Authorization", mfa)
	}
}

// Execute admits the request against every applicable bucket, sends it, folds
// the response headers back into the tables and maps the status to an error.
// On success the caller owns the response body.
func (r *Requester) Execute(req *http.Request, kind BucketKind) (*http.Response, error) {
	if err := r.limits.Admit(kind); err != nil {
		r.logger.Debug().Str("bucket", kind.String()).Msg("request blocked client-side")
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("http request failed")
		return nil, &RequestError{URL: req.URL.String(), Err: err}
	}

	r.limits.ApplyResponse(kind, resp.StatusCode, resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	r.logger.Debug().
		Int("status", resp.StatusCode).
		Str("url", req.URL.String()).
		Msg("request returned error status")

	return nil, mapStatusError(resp.StatusCode, req.URL.String(), string(body), kind)
}

// Do builds, admits and executes a JSON request against a path relative to
// the api base.
func (r *Requester) Do(ctx context.Context, method, path string, payload []byte, kind BucketKind, authenticate bool) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.apiBase+path, body)
	if err != nil {
		return nil, &RequestError{URL: r.apiBase + path, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	r.instrument(req, authenticate)
	return r.Execute(req, kind)
}

// mapStatusError converts a non-2xx status into the typed error taxonomy.
func mapStatusError(status int, url, body string, kind BucketKind) error {
	switch {
	case status == 401 || status == 403 || status == 407:
		return ErrNoPermission
	case status == 404:
		return &NotFoundError{Body: body}
	case status == 405 || status == 408 || status == 409:
		return &RequestError{URL: url, Body: body}
	case status == 429:
		return &RateLimitedError{Bucket: kind}
	case (status >= 411 && status <= 421) || status == 426 || status == 428 || status == 431:
		return &InvalidArgumentsError{Body: body}
	case status == 451:
		return ErrNoResponse
	case status >= 500:
		return &ReceivedError{Status: status}
	default:
		return &InvalidResponseError{Body: body, Status: status}
	}
}
