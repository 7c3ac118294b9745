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
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// UserSession is one authenticated user on one instance: the bearer token,
// the user's own live object, the per-user rate-limit table and, once
// Connect has run, the main gateway handle.
type UserSession struct {
	Instance *Instance

	// User is the session's own user object, kept live by gateway events
	// once connected.
	User *User

	requester *Requester
	limits    *Limits
	gateway   *GatewayHandle
	logger    zerolog.Logger
}

// newUserSession wires a session's requester and limit tables.
func newUserSession(inst *Instance) *UserSession {
	limits := inst.newSessionLimits()
	logger := inst.logger
	return &UserSession{
		Instance:  inst,
		limits:    limits,
		requester: newRequester(inst.httpClient, inst.URLs.API, inst.properties, limits, logger),
		logger:    logger,
	}
}

// Requester exposes the session's rate-limited HTTP pipeline.
func (s *UserSession) Requester() *Requester { return s.requester }

// Limits exposes both rate-limit tables for inspection.
func (s *UserSession) Limits() *Limits { return s.limits }

// Token returns the session's bearer token.
func (s *UserSession) Token() string { return s.requester.Token() }

// Gateway returns the main gateway handle, nil before Connect.
func (s *UserSession) Gateway() *GatewayHandle { return s.gateway }

// getJSON runs an authenticated GET and decodes the response body.
func (s *UserSession) getJSON(ctx context.Context, path string, kind BucketKind, into any) error {
	resp, err := s.requester.Do(ctx, http.MethodGet, path, nil, kind, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeBody(resp, into)
}

// postJSON runs an authenticated POST with a JSON payload and decodes the
// response body when into is non-nil.
func (s *UserSession) postJSON(ctx context.Context, path string, payload any, kind BucketKind, into any) error {
	var raw []byte
	if payload != nil {
		var err error
		raw, err = sonic.Marshal(payload)
		if err != nil {
			return err
		}
	}
	resp, err := s.requester.Do(ctx, http.MethodPost, path, raw, kind, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if into == nil {
		return nil
	}
	return decodeBody(resp, into)
}

// decodeBody reads and unmarshals a response body.
func decodeBody(resp *http.Response, into any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(body, into); err != nil {
		return &InvalidResponseError{Body: string(body), Status: resp.StatusCode}
	}
	return nil
}

// FetchSelf loads /users/@me into the session's user object.
func (s *UserSession) FetchSelf(ctx context.Context) (*User, error) {
	var user User
	if err := s.getJSON(ctx, "/users/@me", BucketGlobal, &user); err != nil {
		return nil, err
	}
	s.User = &user
	return &user, nil
}

// Connect opens the main gateway, identifies and hands back the handle.
// The session user's cell is registered with the store so READY and
// USER_UPDATE events keep it live.
func (s *UserSession) Connect(ctx context.Context) (*GatewayHandle, error) {
	handle, err := Connect(ctx, s.Instance.URLs.WSS, s.Token(),
		WithGatewayDialer(s.Instance.dialer),
		WithGatewayLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	if s.User != nil {
		handle.Observe(s.User)
	}
	if err := handle.SendIdentify(IdentifyData{
		Token:      s.Token(),
		Properties: s.Instance.properties,
	}); err != nil {
		handle.Close()
		return nil, err
	}
	s.gateway = handle
	return handle, nil
}

// Disconnect closes the gateway, keeping the HTTP side of the session.
func (s *UserSession) Disconnect() {
	if s.gateway != nil {
		s.gateway.Close()
		s.gateway = nil
	}
}

// Logout invalidates the token server-side and tears the session down.
func (s *UserSession) Logout(ctx context.Context) error {
	err := s.postJSON(ctx, "/auth/logout", map[string]any{}, BucketGlobal, nil)
	s.Disconnect()
	s.requester.SetToken("")
	return err
}
