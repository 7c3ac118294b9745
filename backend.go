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
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

/*****************************
 *     WebSocket backend
 *****************************/

// GatewayDialer opens a WebSocket connection to a gateway URL. The default
// dials with gobwas/ws; tests and alternative platforms substitute their own.
type GatewayDialer func(ctx context.Context, url string) (net.Conn, error)

// defaultGatewayDialer dials with the gobwas websocket dialer.
func defaultGatewayDialer(ctx context.Context, url string) (net.Conn, error) {
	dialer := ws.Dialer{}
	conn, _, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, &CannotConnectError{Err: err}
	}
	return conn, nil
}

/*****************************
 *        Frame sink
 *****************************/

// frameSink serializes outbound text frames through one lock so concurrent
// handle clones never interleave partial frames. The lock covers exactly one
// frame write.
type frameSink struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func newFrameSink(conn net.Conn) *frameSink {
	return &frameSink{conn: conn}
}

// WriteText writes one text frame.
func (s *frameSink) WriteText(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return wsutil.WriteClientMessage(s.conn, ws.OpText, payload)
}

// Close sends a close frame and closes the connection. Safe to call twice.
func (s *frameSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	_ = ws.WriteFrame(s.conn, ws.MaskFrame(frame))
	return s.conn.Close()
}

// swap installs a fresh connection after a resume, reopening the sink.
func (s *frameSink) swap(conn net.Conn) {
	s.mu.Lock()
	if s.conn != nil && !s.closed {
		s.conn.Close()
	}
	s.conn = conn
	s.closed = false
	s.mu.Unlock()
}
