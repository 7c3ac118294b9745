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
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

// GatewayState tracks where a connection is in its lifecycle.
type GatewayState int32

const (
	GatewayConnecting GatewayState = iota
	GatewayAwaitingHello
	GatewayIdentifying
	GatewayReady
	GatewayResuming
	GatewayClosed
)

// helloData is the opcode 10 payload. The main gateway interval is integral
// milliseconds, but some instances emit a float; accept both.
type helloData struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

// Gateway drives one resumable WebSocket session: it reads frames, keeps the
// heartbeat alive, dispatches events to the bus and keeps the live object
// store consistent. Use Connect to create one and the returned GatewayHandle
// to talk to it.
type Gateway struct {
	url    string
	token  string
	dialer GatewayDialer
	logger zerolog.Logger

	events *Events
	store  *Store
	sink   *frameSink

	// stop broadcasts shutdown to every subtask; closed exactly once.
	stop     chan struct{}
	stopOnce sync.Once

	state atomic.Int32

	seq    atomic.Uint64
	hasSeq atomic.Bool

	mu        sync.Mutex
	conn      net.Conn
	heartbeat *heartbeatTask
	hbStop    chan struct{}
	sessionID string
	interval  time.Duration
}

// GatewayOption configures a gateway before it connects.
type GatewayOption func(*Gateway)

// WithGatewayDialer substitutes the WebSocket dial function.
func WithGatewayDialer(dialer GatewayDialer) GatewayOption {
	return func(g *Gateway) { g.dialer = dialer }
}

// WithGatewayLogger sets the logger the gateway and its tasks derive from.
func WithGatewayLogger(logger zerolog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

// Connect opens a gateway connection, waits for Hello, spawns the listener
// and heartbeat tasks and returns a handle. The first frame from the server
// must be Hello; anything else fails with NonHelloOnInitiateError.
//
// The caller authenticates by sending Identify through the handle.
func Connect(ctx context.Context, url, token string, opts ...GatewayOption) (*GatewayHandle, error) {
	g := &Gateway{
		url:    url,
		token:  token,
		dialer: defaultGatewayDialer,
		logger: defaultLogger(),
		events: &Events{},
		store:  NewStore(),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "gw").Logger()

	if err := g.open(ctx, false); err != nil {
		return nil, err
	}
	return &GatewayHandle{gateway: g}, nil
}

// open dials the gateway, performs the Hello gate and spawns the
// per-connection tasks. With resuming set it also sends the Resume payload.
func (g *Gateway) open(ctx context.Context, resuming bool) error {
	g.state.Store(int32(GatewayConnecting))

	conn, err := g.dialer(ctx, g.url)
	if err != nil {
		g.state.Store(int32(GatewayClosed))
		return err
	}
	g.state.Store(int32(GatewayAwaitingHello))

	payload, err := readTextPayload(conn)
	if err != nil {
		conn.Close()
		g.state.Store(int32(GatewayClosed))
		return &CannotConnectError{Err: err}
	}
	if payload.Op != GatewayOpHello {
		conn.Close()
		g.state.Store(int32(GatewayClosed))
		return &NonHelloOnInitiateError{Opcode: payload.Op}
	}

	var hello helloData
	if err := sonic.Unmarshal(payload.Data, &hello); err != nil {
		conn.Close()
		g.state.Store(int32(GatewayClosed))
		return &InvalidResponseError{Body: string(payload.Data)}
	}
	if hello.HeartbeatInterval <= 0 {
		conn.Close()
		g.state.Store(int32(GatewayClosed))
		return ErrZeroHeartbeatInterval
	}
	interval := time.Duration(hello.HeartbeatInterval * float64(time.Millisecond))
	g.logger.Debug().Dur("heartbeat_interval", interval).Msg("hello received")

	g.mu.Lock()
	g.conn = conn
	g.interval = interval
	if g.sink == nil {
		g.sink = newFrameSink(conn)
	} else {
		g.sink.swap(conn)
	}
	g.hbStop = make(chan struct{})
	g.heartbeat = newHeartbeatTask(g.sink, interval, g.hbStop, g.requestResume, g.logger)
	if g.hasSeq.Load() {
		g.heartbeat.signal(heartbeatSignal{seq: g.seq.Load(), hasSeq: true})
	}
	hb := g.heartbeat
	g.mu.Unlock()

	g.state.Store(int32(GatewayIdentifying))

	go hb.run()
	go g.listen(conn)

	if resuming {
		g.state.Store(int32(GatewayResuming))
		if err := g.sendResume(); err != nil {
			return err
		}
	}
	return nil
}

// readTextPayload reads frames until a text payload arrives, skipping empty
// frames and answering pings. Used only for the Hello gate.
func readTextPayload(conn net.Conn) (GatewayReceivePayload, error) {
	var payload GatewayReceivePayload
	for {
		msg, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			return payload, err
		}
		if op != ws.OpText || len(msg) == 0 {
			continue
		}
		if err := sonic.Unmarshal(msg, &payload); err != nil {
			return payload, err
		}
		return payload, nil
	}
}

// listen is the per-connection reader task. It exits on the shutdown
// broadcast, on transport errors (after starting a resume) and when the
// connection is replaced.
func (g *Gateway) listen(conn net.Conn) {
	for {
		select {
		case <-g.stop:
			return
		default:
		}

		msg, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				g.handleClose(GatewayCloseCode(closed.Code))
				return
			}
			select {
			case <-g.stop:
				return
			default:
			}
			if g.State() == GatewayClosed || g.connReplaced(conn) {
				return
			}
			g.logger.Warn().Err(err).Msg("read error, resuming")
			g.requestResume()
			return
		}

		switch op {
		case ws.OpText:
			if len(msg) == 0 {
				// Zero-length frames are tolerated, never fatal.
				continue
			}
			var payload GatewayReceivePayload
			if err := sonic.Unmarshal(msg, &payload); err != nil {
				g.logger.Warn().Err(err).Msg("unparsable gateway frame, skipping")
				continue
			}
			g.handlePayload(payload)
		case ws.OpClose:
			g.handleClose(GatewayCloseCode(ws.StatusNormalClosure))
			return
		default:
			// Binary and control frames carry nothing for us.
		}
	}
}

// connReplaced reports whether the gateway has moved on to a new connection,
// meaning this listener belongs to a dead socket.
func (g *Gateway) connReplaced(conn net.Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn != conn
}

// handlePayload routes one inbound frame.
func (g *Gateway) handlePayload(payload GatewayReceivePayload) {
	if payload.Sequence != nil {
		g.seq.Store(*payload.Sequence)
		g.hasSeq.Store(true)
		g.signalHeartbeat(heartbeatSignal{seq: *payload.Sequence, hasSeq: true})
	}

	switch payload.Op {
	case GatewayOpDispatch:
		g.handleDispatch(payload.EventName, payload.Data)

	case GatewayOpHeartbeat:
		g.signalHeartbeat(heartbeatSignal{op: GatewayOpHeartbeat, hasOp: true})

	case GatewayOpHeartbeatAck:
		g.signalHeartbeat(heartbeatSignal{op: GatewayOpHeartbeatAck, hasOp: true})

	case GatewayOpReconnect:
		g.logger.Info().Msg("server requested reconnect")
		g.requestResume()

	case GatewayOpInvalidSession:
		var resumable bool
		_ = sonic.Unmarshal(payload.Data, &resumable)
		if resumable {
			g.logger.Info().Msg("session invalid but resumable")
			g.requestResume()
		} else {
			g.logger.Warn().Msg("session invalid, cannot resume")
			g.events.Error.Publish(GatewayErrorEvent{CloseCode: GatewayCloseSessionNoLongerValid, Fatal: true})
			g.Close()
		}

	case GatewayOpHello:
		// A mid-session Hello means the server lost track of us; the next
		// heartbeat miss will resume. Nothing to do here.
		g.logger.Debug().Msg("unexpected mid-session hello")

	default:
		g.logger.Warn().Int("op", payload.Op).Msg("unknown gateway opcode, ignoring")
	}
}

// handleClose reacts to an observed close code: the error event always
// fires; fatal codes end the session, everything else resumes.
func (g *Gateway) handleClose(code GatewayCloseCode) {
	if g.State() == GatewayClosed {
		return
	}
	fatal := code.IsFatal()
	if code >= 4000 && code <= 4014 {
		g.logger.Warn().Uint16("code", uint16(code)).Bool("fatal", fatal).Msg("gateway closed by server")
	}
	g.events.Error.Publish(GatewayErrorEvent{CloseCode: code, Fatal: fatal})
	if fatal {
		g.Close()
		return
	}
	g.requestResume()
}

// signalHeartbeat forwards a signal to the current heartbeat task.
func (g *Gateway) signalHeartbeat(sig heartbeatSignal) {
	g.mu.Lock()
	hb := g.heartbeat
	g.mu.Unlock()
	if hb != nil {
		hb.signal(sig)
	}
}

// requestResume tears down the current connection and reopens the session
// with a Resume payload. Called on transport breaks, Reconnect requests,
// resumable InvalidSession and heartbeat death.
func (g *Gateway) requestResume() {
	// Only one resume may be in flight; concurrent triggers (listener error
	// plus heartbeat death) collapse into the first.
	for {
		s := g.state.Load()
		if s == int32(GatewayClosed) || s == int32(GatewayResuming) {
			return
		}
		if g.state.CompareAndSwap(s, int32(GatewayResuming)) {
			break
		}
	}

	g.mu.Lock()
	if g.hbStop != nil {
		select {
		case <-g.hbStop:
		default:
			close(g.hbStop)
		}
	}
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	g.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := g.open(ctx, true); err != nil {
			g.logger.Error().Err(err).Msg("resume failed, closing gateway")
			g.Close()
		}
	}()
}

// sendResume writes the opcode 6 payload reattaching to the session.
func (g *Gateway) sendResume() error {
	g.mu.Lock()
	sessionID := g.sessionID
	g.mu.Unlock()

	data, err := sonic.Marshal(map[string]any{
		"token":      g.token,
		"session_id": sessionID,
		"seq":        g.seq.Load(),
	})
	if err != nil {
		return err
	}
	return g.send(GatewayOpResume, data)
}

// send wraps data in the send envelope and writes one text frame.
func (g *Gateway) send(op int, data []byte) error {
	frame, err := encodeGatewayPayload(op, data, nil)
	if err != nil {
		return err
	}
	return g.sink.WriteText(frame)
}

// State returns the connection's lifecycle state.
func (g *Gateway) State() GatewayState {
	return GatewayState(g.state.Load())
}

// Sequence returns the last observed sequence number.
func (g *Gateway) Sequence() uint64 {
	return g.seq.Load()
}

// SessionID returns the session id delivered by READY.
func (g *Gateway) SessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionID
}

// Close shuts the gateway down: the shutdown broadcast fires, the sink is
// closed and every subtask exits at its next suspension point. Idempotent.
func (g *Gateway) Close() {
	g.stopOnce.Do(func() {
		g.state.Store(int32(GatewayClosed))
		close(g.stop)
		g.mu.Lock()
		if g.hbStop != nil {
			select {
			case <-g.hbStop:
			default:
				close(g.hbStop)
			}
		}
		g.mu.Unlock()
		if g.sink != nil {
			g.sink.Close()
		}
		g.logger.Info().Msg("gateway closed")
	})
}

// Done returns a channel closed when the gateway shuts down.
func (g *Gateway) Done() <-chan struct{} {
	return g.stop
}
