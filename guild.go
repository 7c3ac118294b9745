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

// Emoji represents a custom guild emoji.
type Emoji struct {
	// ID is the emoji ID, 0 for unicode emoji.
	ID Snowflake `json:"id"`

	// Name is the emoji name.
	Name string `json:"name"`

	// Roles lists the roles allowed to use this emoji.
	Roles []Snowflake `json:"roles,omitempty"`

	// Animated indicates whether this emoji is animated.
	Animated bool `json:"animated,omitempty"`

	// Available is false when the emoji is lost due to lost boosts.
	Available *bool `json:"available,omitempty"`
}

// SnowflakeID implements Entity.
func (e *Emoji) SnowflakeID() Snowflake { return e.ID }

// Webhook represents a channel webhook.
type Webhook struct {
	// ID is the webhook ID.
	ID Snowflake `json:"id"`

	// Type is the webhook type (1 = incoming).
	Type int `json:"type"`

	// GuildID is the owning guild.
	GuildID *Snowflake `json:"guild_id,omitempty"`

	// ChannelID is the channel the webhook posts to.
	ChannelID Snowflake `json:"channel_id"`

	// Name is the default webhook name.
	Name string `json:"name"`

	// Avatar is the default avatar hash.
	Avatar string `json:"avatar,omitempty"`

	// Token is the secure webhook token, only present for owned webhooks.
	Token string `json:"token,omitempty"`
}

// SnowflakeID implements Entity.
func (w *Webhook) SnowflakeID() Snowflake { return w.ID }

// Member represents a user's membership in one guild.
type Member struct {
	// User is the member's user object. May be nil inside some events.
	User *User `json:"user,omitempty"`

	// Nick is the member's guild nickname.
	Nick *string `json:"nick,omitempty"`

	// Roles are the member's role ids.
	Roles []Snowflake `json:"roles"`

	// JoinedAt is the join timestamp, RFC 3339.
	JoinedAt string `json:"joined_at"`

	// Deaf indicates a server-deafened member.
	Deaf bool `json:"deaf"`

	// Mute indicates a server-muted member.
	Mute bool `json:"mute"`
}

// Guild represents a guild and the composite entities delivered with it.
type Guild struct {
	// ID is the guild ID.
	//
	// Always present.
	ID Snowflake `json:"id"`

	// Name is the guild name.
	Name string `json:"name"`

	// Icon is the icon hash, empty when none.
	Icon string `json:"icon,omitempty"`

	// OwnerID is the guild owner's user id.
	OwnerID Snowflake `json:"owner_id"`

	// AfkChannelID is the AFK voice channel, nil when unset.
	AfkChannelID *Snowflake `json:"afk_channel_id,omitempty"`

	// AfkTimeout is the AFK timeout in seconds.
	AfkTimeout int `json:"afk_timeout,omitempty"`

	// Roles are the guild's roles.
	Roles []*Role `json:"roles,omitempty"`

	// Emojis are the guild's custom emojis.
	Emojis []*Emoji `json:"emojis,omitempty"`

	// Features lists enabled guild features.
	Features []string `json:"features,omitempty"`

	// MemberCount is the total member count, when the instance sends it.
	MemberCount *int `json:"member_count,omitempty"`

	// Members are the members delivered with GUILD_CREATE.
	Members []*Member `json:"members,omitempty"`

	// Channels are the guild's channels.
	Channels []*Channel `json:"channels,omitempty"`

	// VoiceStates are the current voice states in the guild.
	VoiceStates []*VoiceState `json:"voice_states,omitempty"`

	// Webhooks are the guild's webhooks, when delivered.
	Webhooks []*Webhook `json:"webhooks,omitempty"`

	// Unavailable marks a guild in outage.
	Unavailable bool `json:"unavailable,omitempty"`
}

// SnowflakeID implements Entity.
func (g *Guild) SnowflakeID() Snowflake { return g.ID }

func (g *Guild) merge(update *Guild) {
	id := g.ID
	roles := g.Roles
	emojis := g.Emojis
	channels := g.Channels
	voiceStates := g.VoiceStates
	webhooks := g.Webhooks
	members := g.Members

	*g = *update
	if g.ID == 0 {
		g.ID = id
	}
	// Composite lists survive sparse updates; guild update payloads omit them.
	if g.Roles == nil {
		g.Roles = roles
	}
	if g.Emojis == nil {
		g.Emojis = emojis
	}
	if g.Channels == nil {
		g.Channels = channels
	}
	if g.VoiceStates == nil {
		g.VoiceStates = voiceStates
	}
	if g.Webhooks == nil {
		g.Webhooks = webhooks
	}
	if g.Members == nil {
		g.Members = members
	}
}

// upsertRole replaces the matching role in place or appends a new one.
func (g *Guild) upsertRole(role *Role) {
	for i, r := range g.Roles {
		if r.ID == role.ID {
			g.Roles[i] = role
			return
		}
	}
	g.Roles = append(g.Roles, role)
}

// removeRole drops a role by id, keeping order.
func (g *Guild) removeRole(id Snowflake) {
	for i, r := range g.Roles {
		if r.ID == id {
			g.Roles = append(g.Roles[:i], g.Roles[i+1:]...)
			return
		}
	}
}

// upsertChannel replaces the matching channel in place or appends a new one.
func (g *Guild) upsertChannel(channel *Channel) {
	for i, c := range g.Channels {
		if c.ID == channel.ID {
			g.Channels[i] = channel
			return
		}
	}
	g.Channels = append(g.Channels, channel)
}

// removeChannel drops a channel by id, keeping order.
func (g *Guild) removeChannel(id Snowflake) {
	for i, c := range g.Channels {
		if c.ID == id {
			g.Channels = append(g.Channels[:i], g.Channels[i+1:]...)
			return
		}
	}
}
