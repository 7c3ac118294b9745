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

// Dispatch event names form a closed set; anything else is logged and
// skipped by the dispatcher.
const (
	EventNameReady             = "READY"
	EventNameReadySupplemental = "READY_SUPPLEMENTAL"
	EventNameResumed           = "RESUMED"
	EventNameMessageCreate     = "MESSAGE_CREATE"
	EventNameMessageUpdate     = "MESSAGE_UPDATE"
	EventNameMessageDelete     = "MESSAGE_DELETE"
	EventNameChannelCreate     = "CHANNEL_CREATE"
	EventNameChannelUpdate     = "CHANNEL_UPDATE"
	EventNameChannelDelete     = "CHANNEL_DELETE"
	EventNameGuildCreate       = "GUILD_CREATE"
	EventNameGuildUpdate       = "GUILD_UPDATE"
	EventNameGuildDelete       = "GUILD_DELETE"
	EventNameGuildRoleCreate   = "GUILD_ROLE_CREATE"
	EventNameGuildRoleUpdate   = "GUILD_ROLE_UPDATE"
	EventNameGuildRoleDelete   = "GUILD_ROLE_DELETE"
	EventNameGuildMemberAdd    = "GUILD_MEMBER_ADD"
	EventNameGuildMemberUpdate = "GUILD_MEMBER_UPDATE"
	EventNameGuildMemberRemove = "GUILD_MEMBER_REMOVE"
	EventNameTypingStart       = "TYPING_START"
	EventNamePresenceUpdate    = "PRESENCE_UPDATE"
	EventNameUserUpdate        = "USER_UPDATE"
	EventNameVoiceStateUpdate  = "VOICE_STATE_UPDATE"
	EventNameVoiceServerUpdate = "VOICE_SERVER_UPDATE"
	EventNameSessionsReplace   = "SESSIONS_REPLACE"
)

/*****************************
 *       Event payloads
 *****************************/

// ReadyEvent announces a fresh session. It seeds the live object store with
// the session user and the initial guild set.
type ReadyEvent struct {
	Version   int      `json:"v"`
	User      User     `json:"user"`
	Guilds    []*Guild `json:"guilds"`
	SessionID string   `json:"session_id"`
}

// ReadySupplementalEvent completes READY with presence and voice data the
// instance withheld from the first payload.
type ReadySupplementalEvent struct {
	MergedPresences struct {
		Guilds  [][]PresenceUpdateEvent `json:"guilds,omitempty"`
		Friends []PresenceUpdateEvent   `json:"friends,omitempty"`
	} `json:"merged_presences"`
}

// ResumedEvent confirms a successful resume; missed events follow it.
type ResumedEvent struct{}

// MessageCreateEvent carries a newly created message.
type MessageCreateEvent struct {
	Message
}

// MessageUpdateEvent carries an edited message.
type MessageUpdateEvent struct {
	Message
}

// MessageDeleteEvent announces a deleted message.
type MessageDeleteEvent struct {
	ID        Snowflake  `json:"id"`
	ChannelID Snowflake  `json:"channel_id"`
	GuildID   *Snowflake `json:"guild_id,omitempty"`
}

// ChannelCreateEvent carries a newly created channel.
type ChannelCreateEvent struct {
	Channel
}

// ChannelUpdateEvent carries the full updated channel.
type ChannelUpdateEvent struct {
	Channel
}

// ChannelDeleteEvent carries the deleted channel.
type ChannelDeleteEvent struct {
	Channel
}

// GuildCreateEvent carries a guild becoming available.
type GuildCreateEvent struct {
	Guild
}

// GuildUpdateEvent carries updated guild properties (composites omitted).
type GuildUpdateEvent struct {
	Guild
}

// GuildDeleteEvent announces a guild becoming unavailable or left.
type GuildDeleteEvent struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable,omitempty"`
}

// GuildRoleCreateEvent carries a new role in a guild.
type GuildRoleCreateEvent struct {
	GuildID Snowflake `json:"guild_id"`
	Role    Role      `json:"role"`
}

// GuildRoleUpdateEvent carries an updated role in a guild.
type GuildRoleUpdateEvent struct {
	GuildID Snowflake `json:"guild_id"`
	Role    Role      `json:"role"`
}

// GuildRoleDeleteEvent announces a deleted role.
type GuildRoleDeleteEvent struct {
	GuildID Snowflake `json:"guild_id"`
	RoleID  Snowflake `json:"role_id"`
}

// GuildMemberAddEvent announces a member joining a guild.
type GuildMemberAddEvent struct {
	GuildID Snowflake `json:"guild_id"`
	Member
}

// GuildMemberUpdateEvent carries updated member properties.
type GuildMemberUpdateEvent struct {
	GuildID Snowflake `json:"guild_id"`
	Member
}

// GuildMemberRemoveEvent announces a member leaving a guild.
type GuildMemberRemoveEvent struct {
	GuildID Snowflake `json:"guild_id"`
	User    User      `json:"user"`
}

// TypingStartEvent announces a user typing in a channel.
type TypingStartEvent struct {
	ChannelID Snowflake  `json:"channel_id"`
	GuildID   *Snowflake `json:"guild_id,omitempty"`
	UserID    Snowflake  `json:"user_id"`
	Timestamp int64      `json:"timestamp"`
	Member    *Member    `json:"member,omitempty"`
}

// PresenceUpdateEvent carries a user's presence change.
type PresenceUpdateEvent struct {
	User    User       `json:"user"`
	GuildID *Snowflake `json:"guild_id,omitempty"`
	Status  string     `json:"status"`
}

// UserUpdateEvent carries an update to the session user.
type UserUpdateEvent struct {
	User
}

// VoiceStateUpdateEvent carries a changed voice state; the session's own
// voice state update delivers the voice session id.
type VoiceStateUpdateEvent struct {
	VoiceState
}

// VoiceServerUpdateEvent tells the client which voice server to dial for a
// pending or moved voice connection.
type VoiceServerUpdateEvent struct {
	Token     string     `json:"token"`
	GuildID   *Snowflake `json:"guild_id,omitempty"`
	ChannelID *Snowflake `json:"channel_id,omitempty"`
	Endpoint  *string    `json:"endpoint"`
}

// SessionsReplaceEvent lists the sessions currently attached to the account.
type SessionsReplaceEvent []SessionInfo

// SessionInfo describes one attached session.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status,omitempty"`
}

// GatewayErrorEvent is published on the bus whenever a close code is
// observed. Subscribers may react but cannot prevent the shutdown that a
// fatal code triggers.
type GatewayErrorEvent struct {
	CloseCode GatewayCloseCode
	Fatal     bool
}

/*****************************
 *        Event bus
 *****************************/

// Events is the typed event bus of one gateway connection. Each field owns
// the subscriber list for one event type.
type Events struct {
	Ready             Publisher[ReadyEvent]
	ReadySupplemental Publisher[ReadySupplementalEvent]
	Resumed           Publisher[ResumedEvent]

	MessageCreate Publisher[MessageCreateEvent]
	MessageUpdate Publisher[MessageUpdateEvent]
	MessageDelete Publisher[MessageDeleteEvent]

	ChannelCreate Publisher[ChannelCreateEvent]
	ChannelUpdate Publisher[ChannelUpdateEvent]
	ChannelDelete Publisher[ChannelDeleteEvent]

	GuildCreate Publisher[GuildCreateEvent]
	GuildUpdate Publisher[GuildUpdateEvent]
	GuildDelete Publisher[GuildDeleteEvent]

	GuildRoleCreate Publisher[GuildRoleCreateEvent]
	GuildRoleUpdate Publisher[GuildRoleUpdateEvent]
	GuildRoleDelete Publisher[GuildRoleDeleteEvent]

	GuildMemberAdd    Publisher[GuildMemberAddEvent]
	GuildMemberUpdate Publisher[GuildMemberUpdateEvent]
	GuildMemberRemove Publisher[GuildMemberRemoveEvent]

	TypingStart    Publisher[TypingStartEvent]
	PresenceUpdate Publisher[PresenceUpdateEvent]
	UserUpdate     Publisher[UserUpdateEvent]

	VoiceStateUpdate  Publisher[VoiceStateUpdateEvent]
	VoiceServerUpdate Publisher[VoiceServerUpdateEvent]

	SessionsReplace Publisher[SessionsReplaceEvent]

	Error Publisher[GatewayErrorEvent]
}
