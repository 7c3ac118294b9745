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

// voiceGatewayVersion is the protocol version appended to the endpoint URL.
const voiceGatewayVersion = "7"

// VoiceGatewayState tracks where a voice connection is in its lifecycle.
// After Identifying, the handshake walks SelectingProtocol and
// ReceivingSessionDescription before reaching Streaming.
type VoiceGatewayState int32

const (
	VoiceAwaitingHello VoiceGatewayState = iota
	VoiceIdentifying
	VoiceSelectingProtocol
	VoiceReceivingSessionDescription
	VoiceStreaming
	VoiceResuming
	VoiceClosed
)

// VoiceResumedEvent confirms a successful voice resume.
type VoiceResumedEvent struct{}

// VoiceErrorEvent is published when a voice close code is observed.
type VoiceErrorEvent struct {
	CloseCode VoiceCloseCode
	Fatal     bool
}

// VoiceEvents is the typed event bus of one voice gateway connection.
type VoiceEvents struct {
	Ready              Publisher[VoiceReadyData]
	SessionDescription Publisher[SessionDescriptionData]
	Speaking           Publisher[SpeakingData]
	SsrcDefinition     Publisher[SsrcDefinitionData]
	ClientDisconnect   Publisher[VoiceClientDisconnectData]
	BackendVersion     Publisher[VoiceBackendVersionData]
	Resumed            Publisher[VoiceResumedEvent]
	Error              Publisher[VoiceErrorEvent]
}

// VoiceGateway drives the second WebSocket of a voice session: the control
// channel negotiating media parameters. Its shape mirrors the main gateway,
// with a distinct opcode namespace, float-millisecond hello intervals and a
// nonce heartbeat instead of a sequence number.
type VoiceGateway struct {
	url    string
	dialer GatewayDialer
	logger zerolog.Logger

	events *VoiceEvents
	sink   *frameSink

	stop     chan struct{}
	stopOnce sync.Once

	state atomic.Int32
	nonce atomic.Uint64

	mu        sync.Mutex
	conn      net.Conn
	heartbeat *heartbeatTask
	hbStop    chan struct{}
}

// VoiceGatewayHandle is a cloneable reference to a running voice gateway.
type VoiceGatewayHandle struct {
	gateway *VoiceGateway
}

// VoiceGatewayOption configures a voice gateway before it connects.
type VoiceGatewayOption func(*VoiceGateway)

// WithVoiceDialer substitutes the WebSocket dial function.
func WithVoiceDialer(dialer GatewayDialer) VoiceGatewayOption {
	return func(g *VoiceGateway) { g.dialer = dialer }
}

// WithVoiceLogger sets the logger the voice gateway derives from.
func WithVoiceLogger(logger zerolog.Logger) VoiceGatewayOption {
	return func(g *VoiceGateway) { g.logger = logger }
}

// VoiceGatewayURL derives the WebSocket URL from a VoiceServerUpdate
// endpoint.
func VoiceGatewayURL(endpoint string) string {
	return "wss://" + endpoint + "/?v=" + voiceGatewayVersion
}

// ConnectVoice opens the voice gateway for an endpoint, waits for Hello and
// spawns the listener and heartbeat tasks. The caller then authenticates
// with SendIdentify.
func ConnectVoice(ctx context.Context, endpoint string, opts ...VoiceGatewayOption) (*VoiceGatewayHandle, error) {
	g := &VoiceGateway{
		url:    VoiceGatewayURL(endpoint),
		dialer: defaultGatewayDialer,
		logger: defaultLogger(),
		events: &VoiceEvents{},
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "vgw").Logger()

	conn, err := g.dialer(ctx, g.url)
	if err != nil {
		g.state.Store(int32(VoiceClosed))
		return nil, err
	}
	g.state.Store(int32(VoiceAwaitingHello))

	payload, err := readVoicePayload(conn)
	if err != nil {
		conn.Close()
		g.state.Store(int32(VoiceClosed))
		return nil, &CannotConnectError{Err: err}
	}
	if payload.Op != VoiceOpHello {
		conn.Close()
		g.state.Store(int32(VoiceClosed))
		return nil, &NonHelloOnInitiateError{Opcode: payload.Op}
	}

	var hello VoiceHelloData
	if err := sonic.Unmarshal(payload.Data, &hello); err != nil {
		conn.Close()
		g.state.Store(int32(VoiceClosed))
		return nil, &InvalidResponseError{Body: string(payload.Data)}
	}
	if hello.HeartbeatInterval <= 0 {
		conn.Close()
		g.state.Store(int32(VoiceClosed))
		return nil, ErrZeroHeartbeatInterval
	}
	// The voice hello interval is floating-point milliseconds.
	interval := time.Duration(hello.HeartbeatInterval * float64(time.Millisecond))
	g.logger.Debug().Dur("heartbeat_interval", interval).Msg("voice hello received")

	g.conn = conn
	g.sink = newFrameSink(conn)
	g.hbStop = make(chan struct{})
	g.heartbeat = g.newVoiceHeartbeat(interval)
	g.state.Store(int32(VoiceIdentifying))

	go g.heartbeat.run()
	go g.listen(conn)

	return &VoiceGatewayHandle{gateway: g}, nil
}

// newVoiceHeartbeat builds the heartbeat task for the voice opcode
// namespace. The payload is a monotonically increasing nonce, not the
// dispatch sequence number the main gateway beats with.
func (g *VoiceGateway) newVoiceHeartbeat(interval time.Duration) *heartbeatTask {
	hb := newHeartbeatTask(g.sink, interval, g.hbStop, g.onHeartbeatDead, g.logger)
	hb.sendOp = VoiceOpHeartbeat
	hb.opHeartbeat = VoiceOpHeartbeat
	hb.opAck = VoiceOpHeartbeatAck
	hb.payload = func(uint64, bool) ([]byte, error) {
		return sonic.Marshal(g.nonce.Add(1))
	}
	return hb
}

// onHeartbeatDead closes the voice gateway when heartbeats go unanswered.
// Voice sessions are not resumed transparently; the voice handler reacts to
// the next VoiceServerUpdate instead.
func (g *VoiceGateway) onHeartbeatDead() {
	g.logger.Warn().Msg("voice heartbeat died, closing")
	g.Close()
}

// readVoicePayload reads frames until a voice payload arrives.
func readVoicePayload(conn net.Conn) (VoiceReceivePayload, error) {
	var payload VoiceReceivePayload
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

// listen is the voice reader task.
func (g *VoiceGateway) listen(conn net.Conn) {
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
				g.handleClose(VoiceCloseCode(closed.Code))
				return
			}
			select {
			case <-g.stop:
			default:
				g.logger.Warn().Err(err).Msg("voice read error, closing")
				g.Close()
			}
			return
		}

		switch op {
		case ws.OpText:
			if len(msg) == 0 {
				continue
			}
			var payload VoiceReceivePayload
			if err := sonic.Unmarshal(msg, &payload); err != nil {
				g.logger.Warn().Err(err).Msg("unparsable voice frame, skipping")
				continue
			}
			g.handlePayload(payload)
		case ws.OpClose:
			g.handleClose(VoiceCloseCode(ws.StatusNormalClosure))
			return
		default:
		}
	}
}

// handlePayload routes one inbound voice frame.
func (g *VoiceGateway) handlePayload(payload VoiceReceivePayload) {
	switch payload.Op {
	case VoiceOpReady:
		var ready VoiceReadyData
		if err := sonic.Unmarshal(payload.Data, &ready); err != nil {
			g.logger.Warn().Err(err).Msg("undecodable voice ready, skipping")
			return
		}
		g.state.Store(int32(VoiceSelectingProtocol))
		g.events.Ready.Publish(ready)

	case VoiceOpSessionDescription:
		var session SessionDescriptionData
		if err := sonic.Unmarshal(payload.Data, &session); err != nil {
			g.logger.Warn().Err(err).Msg("undecodable session description, skipping")
			return
		}
		g.state.Store(int32(VoiceStreaming))
		g.events.SessionDescription.Publish(session)

	case VoiceOpSpeaking:
		var speaking SpeakingData
		if err := sonic.Unmarshal(payload.Data, &speaking); err != nil {
			return
		}
		g.events.Speaking.Publish(speaking)

	case VoiceOpHeartbeat:
		g.signalHeartbeat(heartbeatSignal{op: VoiceOpHeartbeat, hasOp: true})

	case VoiceOpHeartbeatAck:
		g.signalHeartbeat(heartbeatSignal{op: VoiceOpHeartbeatAck, hasOp: true})

	case VoiceOpResumed:
		g.state.Store(int32(VoiceStreaming))
		g.events.Resumed.Publish(VoiceResumedEvent{})

	case VoiceOpSsrcDefinition:
		var def SsrcDefinitionData
		if err := sonic.Unmarshal(payload.Data, &def); err != nil {
			return
		}
		g.events.SsrcDefinition.Publish(def)

	case VoiceOpClientDisconnect:
		var disc VoiceClientDisconnectData
		if err := sonic.Unmarshal(payload.Data, &disc); err != nil {
			return
		}
		g.events.ClientDisconnect.Publish(disc)

	case VoiceOpBackendVersion:
		var version VoiceBackendVersionData
		if err := sonic.Unmarshal(payload.Data, &version); err != nil {
			return
		}
		g.events.BackendVersion.Publish(version)

	case VoiceOpHello:
		g.logger.Debug().Msg("unexpected mid-session voice hello")

	case VoiceOpSessionUpdate, VoiceOpMediaSinkWants,
		VoiceOpClientConnectFlags, VoiceOpClientConnectPlatform:
		g.logger.Debug().Int("op", payload.Op).Msg("voice control frame without a subscriber surface")

	default:
		g.logger.Warn().Int("op", payload.Op).Msg("unknown voice opcode, ignoring")
	}
}

// handleClose publishes the error event and shuts the voice gateway down.
func (g *VoiceGateway) handleClose(code VoiceCloseCode) {
	if VoiceGatewayState(g.state.Load()) == VoiceClosed {
		return
	}
	if code >= 4000 {
		g.logger.Warn().Uint16("code", uint16(code)).Msg("voice gateway closed by server")
		g.events.Error.Publish(VoiceErrorEvent{CloseCode: code, Fatal: code.IsFatal()})
	}
	g.Close()
}

// signalHeartbeat forwards a signal to the heartbeat task.
func (g *VoiceGateway) signalHeartbeat(sig heartbeatSignal) {
	g.mu.Lock()
	hb := g.heartbeat
	g.mu.Unlock()
	if hb != nil {
		hb.signal(sig)
	}
}

// send wraps data in the voice envelope and writes one text frame.
func (g *VoiceGateway) send(op int, data []byte) error {
	frame, err := encodeVoicePayload(op, data)
	if err != nil {
		return err
	}
	return g.sink.WriteText(frame)
}

// Close stops all voice tasks and closes the socket. Idempotent.
func (g *VoiceGateway) Close() {
	g.stopOnce.Do(func() {
		g.state.Store(int32(VoiceClosed))
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
		g.logger.Info().Msg("voice gateway closed")
	})
}

/*****************************
 *   Voice gateway handle
 *****************************/

// Events returns the voice event bus.
func (h *VoiceGatewayHandle) Events() *VoiceEvents { return h.gateway.events }

// State returns the voice connection's lifecycle state.
func (h *VoiceGatewayHandle) State() VoiceGatewayState {
	return VoiceGatewayState(h.gateway.state.Load())
}

// Done returns a channel closed when the voice gateway shuts down.
func (h *VoiceGatewayHandle) Done() <-chan struct{} { return h.gateway.stop }

// Close shuts down the voice gateway and its subtasks.
func (h *VoiceGatewayHandle) Close() { h.gateway.Close() }

// sendTyped serializes data and writes it under the given voice opcode.
func (h *VoiceGatewayHandle) sendTyped(op int, data any) error {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return err
	}
	return h.gateway.send(op, raw)
}

// SendIdentify authenticates the voice connection.
func (h *VoiceGatewayHandle) SendIdentify(data VoiceIdentifyData) error {
	return h.sendTyped(VoiceOpIdentify, data)
}

// SendSelectProtocol nominates the UDP transport and encryption mode.
func (h *VoiceGatewayHandle) SendSelectProtocol(data SelectProtocolData) error {
	h.gateway.state.Store(int32(VoiceReceivingSessionDescription))
	return h.sendTyped(VoiceOpSelectProtocol, data)
}

// SendSpeaking publishes a speaking state change.
func (h *VoiceGatewayHandle) SendSpeaking(data SpeakingData) error {
	return h.sendTyped(VoiceOpSpeaking, data)
}

// SendSsrcDefinition maps an ssrc to a user for the server.
func (h *VoiceGatewayHandle) SendSsrcDefinition(data SsrcDefinitionData) error {
	return h.sendTyped(VoiceOpSsrcDefinition, data)
}

// SendResume reattaches to an existing voice session.
func (h *VoiceGatewayHandle) SendResume(data VoiceResumeData) error {
	h.gateway.state.Store(int32(VoiceResuming))
	return h.sendTyped(VoiceOpResume, data)
}

// SendBackendVersionRequest asks the server for its version; the reply
// arrives on the BackendVersion publisher.
func (h *VoiceGatewayHandle) SendBackendVersionRequest() error {
	return h.sendTyped(VoiceOpBackendVersion, map[string]any{})
}
