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

import "github.com/bytedance/sonic"

/*****************************
 *     Outbound payloads
 *****************************/

// IdentifyData is the opcode 2 handshake establishing a new session.
// Token and Properties are required by the server schema.
type IdentifyData struct {
	Token          string           `json:"token"`
	Properties     ClientProperties `json:"properties"`
	Compress       bool             `json:"compress,omitempty"`
	LargeThreshold int              `json:"large_threshold,omitempty"`
	Shard          *[2]int          `json:"shard,omitempty"`
	Presence       *PresenceData    `json:"presence,omitempty"`
	Intents        *uint64          `json:"intents,omitempty"`
}

// PresenceData sets the session's presence.
type PresenceData struct {
	Since  *int64 `json:"since"`
	Status string `json:"status"`
	AFK    bool   `json:"afk"`
}

// RequestGuildMembersData asks the server for member chunks.
type RequestGuildMembersData struct {
	GuildID   Snowflake   `json:"guild_id"`
	Query     *string     `json:"query,omitempty"`
	Limit     int         `json:"limit"`
	Presences bool        `json:"presences,omitempty"`
	UserIDs   []Snowflake `json:"user_ids,omitempty"`
	Nonce     string      `json:"nonce,omitempty"`
}

// UpdateVoiceStateData joins, moves or leaves voice. A nil ChannelID leaves.
type UpdateVoiceStateData struct {
	GuildID   *Snowflake `json:"guild_id"`
	ChannelID *Snowflake `json:"channel_id"`
	SelfMute  bool       `json:"self_mute"`
	SelfDeaf  bool       `json:"self_deaf"`
}

// CallSyncData fetches the voice state of a DM call.
type CallSyncData struct {
	ChannelID Snowflake `json:"channel_id"`
}

// LazyRequestData subscribes to a guild's lazy member list.
type LazyRequestData struct {
	GuildID    Snowflake             `json:"guild_id"`
	Typing     bool                  `json:"typing,omitempty"`
	Threads    bool                  `json:"threads,omitempty"`
	Activities bool                  `json:"activities,omitempty"`
	Channels   map[Snowflake][][2]int `json:"channels,omitempty"`
}

/*****************************
 *      Gateway handle
 *****************************/

// GatewayHandle is a cloneable reference to a running gateway. Every copy
// addresses the same underlying connection: the same event bus, outbound
// sink, shutdown broadcast and live object store.
type GatewayHandle struct {
	gateway *Gateway
}

// Events returns the typed event bus.
func (h *GatewayHandle) Events() *Events { return h.gateway.events }

// Store returns the live object store.
func (h *GatewayHandle) Store() *Store { return h.gateway.store }

// State returns the connection's lifecycle state.
func (h *GatewayHandle) State() GatewayState { return h.gateway.State() }

// Sequence returns the last observed sequence number.
func (h *GatewayHandle) Sequence() uint64 { return h.gateway.Sequence() }

// SessionID returns the session id delivered by READY.
func (h *GatewayHandle) SessionID() string { return h.gateway.SessionID() }

// Done returns a channel closed when the gateway shuts down.
func (h *GatewayHandle) Done() <-chan struct{} { return h.gateway.Done() }

// Close shuts down the gateway and all its subtasks.
func (h *GatewayHandle) Close() { h.gateway.Close() }

// Observe registers an entity with the live object store; see Store.Observe.
func (h *GatewayHandle) Observe(entity Entity) *Cell {
	return h.gateway.store.Observe(entity)
}

// ObserveAndGet registers an entity and returns the winning cell's entity.
func (h *GatewayHandle) ObserveAndGet(entity Entity) (*Cell, Entity) {
	return h.gateway.store.ObserveAndGet(entity)
}

// ObserveRecursive registers an entity and its composite fields.
func (h *GatewayHandle) ObserveRecursive(entity Entity) *Cell {
	return h.gateway.store.ObserveRecursive(entity)
}

// sendTyped serializes data and writes it under the given opcode as one
// text frame. The sink lock serializes concurrent sends from handle clones.
func (h *GatewayHandle) sendTyped(op int, data any) error {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return err
	}
	return h.gateway.send(op, raw)
}

// SendIdentify authenticates the connection as a new session.
func (h *GatewayHandle) SendIdentify(data IdentifyData) error {
	return h.sendTyped(GatewayOpIdentify, data)
}

// SendResume reattaches to an existing session. Most callers never need
// this: the gateway resumes on its own after transport breaks.
func (h *GatewayHandle) SendResume() error {
	return h.gateway.sendResume()
}

// SendUpdatePresence publishes a presence change.
func (h *GatewayHandle) SendUpdatePresence(data PresenceData) error {
	return h.sendTyped(GatewayOpPresenceUpdate, data)
}

// SendRequestGuildMembers requests member chunks for a guild.
func (h *GatewayHandle) SendRequestGuildMembers(data RequestGuildMembersData) error {
	return h.sendTyped(GatewayOpRequestGuildMembers, data)
}

// SendUpdateVoiceState joins, moves or leaves a voice channel.
func (h *GatewayHandle) SendUpdateVoiceState(data UpdateVoiceStateData) error {
	return h.sendTyped(GatewayOpVoiceStateUpdate, data)
}

// SendCallSync fetches the voice state of a DM call.
func (h *GatewayHandle) SendCallSync(data CallSyncData) error {
	return h.sendTyped(GatewayOpCallSync, data)
}

// SendLazyRequest subscribes to a guild's lazy member list.
func (h *GatewayHandle) SendLazyRequest(data LazyRequestData) error {
	return h.sendTyped(GatewayOpLazyRequest, data)
}
