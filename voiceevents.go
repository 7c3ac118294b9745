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

import "sync"

// VoiceState represents one user's state in a voice channel.
type VoiceState struct {
	// GuildID is the owning guild, nil for DM calls.
	GuildID *Snowflake `json:"guild_id,omitempty"`

	// ChannelID is the voice channel, nil when the user left.
	ChannelID *Snowflake `json:"channel_id"`

	// UserID is the user this state belongs to.
	UserID Snowflake `json:"user_id"`

	// Member is the guild member, when the instance sends it.
	Member *Member `json:"member,omitempty"`

	// SessionID identifies the voice session; the client's own value is
	// needed for the voice Identify.
	SessionID string `json:"session_id"`

	Deaf     bool `json:"deaf"`
	Mute     bool `json:"mute"`
	SelfDeaf bool `json:"self_deaf"`
	SelfMute bool `json:"self_mute"`
	Suppress bool `json:"suppress"`
}

// SnowflakeID implements Entity. Voice states are keyed by their user.
func (v *VoiceState) SnowflakeID() Snowflake { return v.UserID }

/*****************************
 *   Voice gateway payloads
 *****************************/

// VoiceIdentifyData is the first client frame after voice Hello.
type VoiceIdentifyData struct {
	ServerID  Snowflake `json:"server_id"`
	UserID    Snowflake `json:"user_id"`
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	Video     bool      `json:"video"`
}

// VoiceHelloData carries the heartbeat interval. Unlike the main gateway,
// the voice interval arrives as floating-point milliseconds.
type VoiceHelloData struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

// VoiceReadyData carries the UDP endpoint and the modes the server offers.
type VoiceReadyData struct {
	Ssrc  uint32           `json:"ssrc"`
	IP    string           `json:"ip"`
	Port  uint16           `json:"port"`
	Modes []EncryptionMode `json:"modes"`
}

// SelectProtocolData nominates the transport and encryption parameters.
type SelectProtocolData struct {
	Protocol string                    `json:"protocol"`
	Data     SelectProtocolConnection  `json:"data"`
}

// SelectProtocolConnection is the client's externally visible address as
// learned through IP discovery.
type SelectProtocolConnection struct {
	Address string         `json:"address"`
	Port    uint16         `json:"port"`
	Mode    EncryptionMode `json:"mode"`
}

// SessionDescriptionData carries the negotiated mode and the 32-byte
// symmetric secret protecting the RTP stream.
type SessionDescriptionData struct {
	Mode      EncryptionMode `json:"mode"`
	SecretKey [32]byte       `json:"secret_key"`
}

// SpeakingData signals a speaking state change for an ssrc.
type SpeakingData struct {
	Speaking int       `json:"speaking"`
	Delay    int       `json:"delay"`
	Ssrc     uint32    `json:"ssrc"`
	UserID   Snowflake `json:"user_id,omitempty"`
}

// SsrcDefinitionData maps an ssrc to a user.
type SsrcDefinitionData struct {
	AudioSsrc uint32    `json:"audio_ssrc"`
	VideoSsrc uint32    `json:"video_ssrc,omitempty"`
	UserID    Snowflake `json:"user_id"`
}

// VoiceClientDisconnectData announces a user leaving the voice channel.
type VoiceClientDisconnectData struct {
	UserID Snowflake `json:"user_id"`
}

// VoiceBackendVersionData is the server's reply to a BackendVersion request.
type VoiceBackendVersionData struct {
	Voice string `json:"voice"`
	Rtc   string `json:"rtc_worker,omitempty"`
}

// VoiceResumeData reattaches to an existing voice session.
type VoiceResumeData struct {
	ServerID  Snowflake `json:"server_id"`
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
}

/*****************************
 *        Voice data
 *****************************/

// IPDiscoveryResult is the external address learned via the discovery
// round trip on the voice UDP socket.
type IPDiscoveryResult struct {
	Address string
	Port    uint16
	Ssrc    uint32
}

// VoiceData is the shared state of one voice session, filled in by observers
// as the handshake events arrive and read by the UDP transport on every
// packet. One instance exists per voice session.
type VoiceData struct {
	mu sync.RWMutex

	userID    Snowflake
	sessionID string

	serverUpdate *VoiceServerUpdateEvent
	ready        *VoiceReadyData
	ipDiscovery  *IPDiscoveryResult
	session      *SessionDescriptionData

	lastSequence uint16
}

// NewVoiceData creates empty voice session state.
func NewVoiceData() *VoiceData {
	return &VoiceData{}
}

// SetIdentity records the gateway user and voice session ids.
func (d *VoiceData) SetIdentity(userID Snowflake, sessionID string) {
	d.mu.Lock()
	d.userID = userID
	d.sessionID = sessionID
	d.mu.Unlock()
}

// Identity returns the gateway user and voice session ids.
func (d *VoiceData) Identity() (Snowflake, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.userID, d.sessionID
}

// SetServerUpdate stores the most recent VoiceServerUpdate.
func (d *VoiceData) SetServerUpdate(ev VoiceServerUpdateEvent) {
	d.mu.Lock()
	d.serverUpdate = &ev
	d.mu.Unlock()
}

// ServerUpdate returns the most recent VoiceServerUpdate, nil before one
// arrived.
func (d *VoiceData) ServerUpdate() *VoiceServerUpdateEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.serverUpdate
}

// SetReady stores the voice Ready data.
func (d *VoiceData) SetReady(ready VoiceReadyData) {
	d.mu.Lock()
	d.ready = &ready
	d.mu.Unlock()
}

// Ready returns the voice Ready data, nil before it arrived.
func (d *VoiceData) Ready() *VoiceReadyData {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

// SetIPDiscovery stores the discovery result.
func (d *VoiceData) SetIPDiscovery(result IPDiscoveryResult) {
	d.mu.Lock()
	d.ipDiscovery = &result
	d.mu.Unlock()
}

// IPDiscovery returns the discovery result, nil before discovery ran.
func (d *VoiceData) IPDiscovery() *IPDiscoveryResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ipDiscovery
}

// SetSessionDescription installs the encryption key and mode.
func (d *VoiceData) SetSessionDescription(session SessionDescriptionData) {
	d.mu.Lock()
	d.session = &session
	d.mu.Unlock()
}

// SessionDescription returns the negotiated key material, nil before the
// SessionDescription event arrived.
func (d *VoiceData) SessionDescription() *SessionDescriptionData {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

// NextSequence allocates the next RTP sequence number, wrapping at 2^16.
func (d *VoiceData) NextSequence() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSequence++
	return d.lastSequence
}

// Reset clears the negotiated state, keeping the identity. Used when the
// user leaves the channel.
func (d *VoiceData) Reset() {
	d.mu.Lock()
	d.serverUpdate = nil
	d.ready = nil
	d.ipDiscovery = nil
	d.session = nil
	d.lastSequence = 0
	d.mu.Unlock()
}
