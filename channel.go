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

// ChannelType discriminates the kinds of channels an instance serves.
type ChannelType int

const (
	ChannelTypeGuildText     ChannelType = 0
	ChannelTypeDM            ChannelType = 1
	ChannelTypeGuildVoice    ChannelType = 2
	ChannelTypeGroupDM       ChannelType = 3
	ChannelTypeGuildCategory ChannelType = 4
	ChannelTypeGuildNews     ChannelType = 5
)

// PermissionOverwrite is a per-channel permission override for a role or member.
type PermissionOverwrite struct {
	ID    Snowflake   `json:"id"`
	Type  int         `json:"type"`
	Allow Permissions `json:"allow"`
	Deny  Permissions `json:"deny"`
}

// Channel represents a guild channel, DM or group DM.
type Channel struct {
	// ID is the channel ID.
	//
	// Always present.
	ID Snowflake `json:"id"`

	// Type is the channel type.
	//
	// Always present.
	Type ChannelType `json:"type"`

	// GuildID is the owning guild, nil for DMs.
	GuildID *Snowflake `json:"guild_id,omitempty"`

	// Position is the sorting position, nil for DMs.
	Position *int `json:"position,omitempty"`

	// PermissionOverwrites are the channel's permission overrides.
	PermissionOverwrites []PermissionOverwrite `json:"permission_overwrites,omitempty"`

	// Name is the channel name, empty for DMs.
	Name string `json:"name,omitempty"`

	// Topic is the channel topic.
	Topic *string `json:"topic,omitempty"`

	// NSFW marks the channel as age restricted.
	NSFW bool `json:"nsfw,omitempty"`

	// LastMessageID is the id of the most recent message, nil when empty.
	LastMessageID *Snowflake `json:"last_message_id,omitempty"`

	// Bitrate is the voice bitrate, voice channels only.
	Bitrate *int `json:"bitrate,omitempty"`

	// UserLimit caps voice channel occupancy, voice channels only.
	UserLimit *int `json:"user_limit,omitempty"`

	// RateLimitPerUser is the slowmode interval in seconds.
	RateLimitPerUser *int `json:"rate_limit_per_user,omitempty"`

	// Recipients are the DM participants, DMs only.
	Recipients []*User `json:"recipients,omitempty"`

	// Icon is the group DM icon hash.
	Icon string `json:"icon,omitempty"`

	// OwnerID is the group DM owner, nil otherwise.
	OwnerID *Snowflake `json:"owner_id,omitempty"`

	// ParentID is the owning category, nil when uncategorized.
	ParentID *Snowflake `json:"parent_id,omitempty"`
}

// SnowflakeID implements Entity.
func (c *Channel) SnowflakeID() Snowflake { return c.ID }

func (c *Channel) merge(update *Channel) {
	id := c.ID
	*c = *update
	if c.ID == 0 {
		c.ID = id
	}
}
