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
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// VoiceHandler is the glue between the main gateway and a voice session:
// an observer wired to GatewayReady, VoiceServerUpdate, VoiceReady and
// SessionDescription. It spawns the voice gateway and the UDP task as the
// handshake events arrive and fills the shared VoiceData.
//
// One handler manages one voice channel at a time per user.
type VoiceHandler struct {
	data   *VoiceData
	logger zerolog.Logger
	dialer GatewayDialer

	mu      sync.Mutex
	main    *GatewayHandle
	voice   *VoiceGatewayHandle
	udp     *UDPHandle
	video   bool
	subs    func() // detaches the main-gateway subscriptions
}

// VoiceHandlerOption configures a voice handler.
type VoiceHandlerOption func(*VoiceHandler)

// WithVoiceHandlerLogger sets the logger the handler and its tasks derive
// from.
func WithVoiceHandlerLogger(logger zerolog.Logger) VoiceHandlerOption {
	return func(v *VoiceHandler) { v.logger = logger }
}

// WithVoiceHandlerDialer substitutes the voice WebSocket dial function.
func WithVoiceHandlerDialer(dialer GatewayDialer) VoiceHandlerOption {
	return func(v *VoiceHandler) { v.dialer = dialer }
}

// WithVideo advertises video support in the voice Identify.
func WithVideo(video bool) VoiceHandlerOption {
	return func(v *VoiceHandler) { v.video = video }
}

// NewVoiceHandler creates a handler with empty voice data, ready to be
// registered on a gateway.
func NewVoiceHandler(opts ...VoiceHandlerOption) *VoiceHandler {
	v := &VoiceHandler{
		data:   NewVoiceData(),
		logger: defaultLogger(),
		dialer: defaultGatewayDialer,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With().Str("component", "voice").Logger()
	return v
}

// Data returns the shared voice session state.
func (v *VoiceHandler) Data() *VoiceData { return v.data }

// VoiceGateway returns the current voice gateway handle, nil when not
// connected.
func (v *VoiceHandler) VoiceGateway() *VoiceGatewayHandle {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.voice
}

// UDP returns the current UDP handle, nil before voice Ready.
func (v *VoiceHandler) UDP() *UDPHandle {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.udp
}

// Register subscribes the handler to the gateway events that drive the
// voice handshake. Call once per handler.
func (v *VoiceHandler) Register(handle *GatewayHandle) {
	v.mu.Lock()
	v.main = handle
	v.mu.Unlock()

	events := handle.Events()
	readySub := events.Ready.Subscribe(ObserverFunc[ReadyEvent](v.onGatewayReady))
	serverSub := events.VoiceServerUpdate.Subscribe(ObserverFunc[VoiceServerUpdateEvent](v.onVoiceServerUpdate))
	stateSub := events.VoiceStateUpdate.Subscribe(ObserverFunc[VoiceStateUpdateEvent](v.onVoiceStateUpdate))
	errorSub := events.Error.Subscribe(ObserverFunc[GatewayErrorEvent](v.onGatewayError))

	v.mu.Lock()
	v.subs = func() {
		events.Ready.Unsubscribe(readySub)
		events.VoiceServerUpdate.Unsubscribe(serverSub)
		events.VoiceStateUpdate.Unsubscribe(stateSub)
		events.Error.Unsubscribe(errorSub)
	}
	v.mu.Unlock()
}

// Join asks the server for a voice connection by publishing the user's
// voice state. The handshake continues through the subscribed observers.
func (v *VoiceHandler) Join(guildID, channelID *Snowflake, selfMute, selfDeaf bool) error {
	v.mu.Lock()
	main := v.main
	v.mu.Unlock()
	if main == nil {
		return ErrSessionClosed
	}
	return main.SendUpdateVoiceState(UpdateVoiceStateData{
		GuildID:   guildID,
		ChannelID: channelID,
		SelfMute:  selfMute,
		SelfDeaf:  selfDeaf,
	})
}

// Leave publishes a nil channel voice state and tears the voice session
// down.
func (v *VoiceHandler) Leave(guildID *Snowflake) error {
	v.mu.Lock()
	main := v.main
	v.mu.Unlock()

	var err error
	if main != nil {
		err = main.SendUpdateVoiceState(UpdateVoiceStateData{GuildID: guildID, ChannelID: nil})
	}
	v.teardown()
	return err
}

// Detach unsubscribes from the main gateway and tears down any live voice
// session.
func (v *VoiceHandler) Detach() {
	v.mu.Lock()
	subs := v.subs
	v.subs = nil
	v.mu.Unlock()
	if subs != nil {
		subs()
	}
	v.teardown()
}

// teardown closes the voice gateway and UDP task and clears negotiated
// state, keeping the identity for the next join.
func (v *VoiceHandler) teardown() {
	v.mu.Lock()
	voice, udp := v.voice, v.udp
	v.voice, v.udp = nil, nil
	v.mu.Unlock()

	if udp != nil {
		udp.Close()
	}
	if voice != nil {
		voice.Close()
	}
	v.data.Reset()
}

// onGatewayReady captures the user id and session id the voice Identify
// will need.
func (v *VoiceHandler) onGatewayReady(ev ReadyEvent) {
	v.data.SetIdentity(ev.User.ID, ev.SessionID)
}

// onVoiceStateUpdate tracks the session's own voice session id, which some
// instances deliver only here.
func (v *VoiceHandler) onVoiceStateUpdate(ev VoiceStateUpdateEvent) {
	userID, _ := v.data.Identity()
	if userID != 0 && ev.UserID == userID && ev.SessionID != "" {
		v.data.SetIdentity(userID, ev.SessionID)
	}
}

// onGatewayError tears down the voice session when the main gateway dies
// fatally; a dead main session cannot keep its voice grant.
func (v *VoiceHandler) onGatewayError(ev GatewayErrorEvent) {
	if ev.Fatal {
		v.logger.Warn().Msg("main gateway failed fatally, tearing down voice")
		v.teardown()
	}
}

// onVoiceServerUpdate opens the voice gateway, identifies and wires the
// voice-side observers.
func (v *VoiceHandler) onVoiceServerUpdate(ev VoiceServerUpdateEvent) {
	if ev.Endpoint == nil || *ev.Endpoint == "" {
		v.logger.Debug().Msg("voice server update without endpoint, waiting for allocation")
		return
	}
	v.data.SetServerUpdate(ev)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	handle, err := ConnectVoice(ctx, *ev.Endpoint,
		WithVoiceDialer(v.dialer),
		WithVoiceLogger(v.logger),
	)
	if err != nil {
		v.logger.Error().Err(err).Str("endpoint", *ev.Endpoint).Msg("voice gateway connect failed")
		return
	}

	userID, sessionID := v.data.Identity()

	// DM calls carry no guild; the channel id doubles as the server id.
	serverID := ev.ChannelID
	if ev.GuildID != nil {
		serverID = ev.GuildID
	}
	if serverID == nil {
		v.logger.Error().Msg("voice server update without guild or channel id")
		handle.Close()
		return
	}

	// Wire the voice-side observers and publish the handle before the
	// Identify goes out, so a fast Ready cannot slip past the subscription.
	handle.Events().Ready.Subscribe(ObserverFunc[VoiceReadyData](v.onVoiceReady))
	handle.Events().SessionDescription.Subscribe(ObserverFunc[SessionDescriptionData](v.onSessionDescription))

	v.mu.Lock()
	if v.voice != nil {
		v.voice.Close()
	}
	v.voice = handle
	v.mu.Unlock()

	if err := handle.SendIdentify(VoiceIdentifyData{
		ServerID:  *serverID,
		UserID:    userID,
		SessionID: sessionID,
		Token:     ev.Token,
		Video:     v.video,
	}); err != nil {
		v.logger.Error().Err(err).Msg("voice identify failed")
		handle.Close()
		return
	}
}

// onVoiceReady spawns the UDP task, runs IP discovery and nominates the
// transport parameters with SelectProtocol.
func (v *VoiceHandler) onVoiceReady(ready VoiceReadyData) {
	v.data.SetReady(ready)

	serverAddr := net.JoinHostPort(ready.IP, strconv.Itoa(int(ready.Port)))
	udp, err := SpawnUDP(v.data, serverAddr, ready.Ssrc, v.logger)
	if err != nil {
		v.logger.Error().Err(err).Str("addr", serverAddr).Msg("voice udp spawn failed")
		return
	}

	discovery := v.data.IPDiscovery()
	if discovery == nil {
		v.logger.Error().Msg("ip discovery produced no result")
		udp.Close()
		return
	}

	mode, err := PreferredEncryptionMode(ready.Modes)
	if err != nil {
		v.logger.Error().Err(err).Msg("no usable encryption mode offered")
		udp.Close()
		return
	}

	v.mu.Lock()
	if v.udp != nil {
		v.udp.Close()
	}
	v.udp = udp
	voice := v.voice
	v.mu.Unlock()

	if voice == nil {
		udp.Close()
		return
	}
	if err := voice.SendSelectProtocol(SelectProtocolData{
		Protocol: "udp",
		Data: SelectProtocolConnection{
			Address: discovery.Address,
			Port:    discovery.Port,
			Mode:    mode,
		},
	}); err != nil {
		v.logger.Error().Err(err).Msg("select protocol failed")
	}
}

// onSessionDescription installs the negotiated key material; the UDP task
// reads it on every packet from here on.
func (v *VoiceHandler) onSessionDescription(session SessionDescriptionData) {
	v.data.SetSessionDescription(session)
	v.logger.Debug().Str("mode", string(session.Mode)).Msg("voice session description installed")
}
