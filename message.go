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

// Attachment represents a file attached to a message.
type Attachment struct {
	// ID is the attachment ID.
	ID Snowflake `json:"id"`

	// Filename is the name of the attached file.
	Filename string `json:"filename"`

	// ContentType is the media type, empty if the instance omitted it.
	ContentType string `json:"content_type,omitempty"`

	// Size is the file size in bytes.
	Size int `json:"size"`

	// URL is the source URL on the instance's CDN.
	URL string `json:"url"`

	// ProxyURL is the proxied URL.
	ProxyURL string `json:"proxy_url"`

	// Height and Width are set for images only.
	Height *int `json:"height,omitempty"`
	Width  *int `json:"width,omitempty"`
}

// SnowflakeID implements Entity.
func (a *Attachment) SnowflakeID() Snowflake { return a.ID }

// Message represents a message in a channel.
type Message struct {
	// ID is the message ID.
	//
	// Always present.
	ID Snowflake `json:"id"`

	// ChannelID is the channel the message was sent in.
	ChannelID Snowflake `json:"channel_id"`

	// GuildID is the owning guild, nil for DMs.
	GuildID *Snowflake `json:"guild_id,omitempty"`

	// Author is the message author. May be nil for webhook messages.
	Author *User `json:"author,omitempty"`

	// Content is the message text.
	Content string `json:"content"`

	// Timestamp is when the message was sent, RFC 3339.
	Timestamp string `json:"timestamp"`

	// EditedTimestamp is when the message was last edited, nil if never.
	EditedTimestamp *string `json:"edited_timestamp,omitempty"`

	// TTS indicates a text-to-speech message.
	TTS bool `json:"tts"`

	// MentionEveryone indicates an @everyone/@here mention.
	MentionEveryone bool `json:"mention_everyone"`

	// Mentions lists mentioned users.
	Mentions []*User `json:"mentions,omitempty"`

	// Attachments lists attached files.
	Attachments []*Attachment `json:"attachments,omitempty"`

	// Pinned indicates a pinned message.
	Pinned bool `json:"pinned"`

	// WebhookID is set for webhook-authored messages.
	WebhookID *Snowflake `json:"webhook_id,omitempty"`

	// Nonce is the client-chosen send nonce, if any.
	Nonce string `json:"nonce,omitempty"`

	// Type is the message type (0 = default).
	Type int `json:"type"`
}

// SnowflakeID implements Entity.
func (m *Message) SnowflakeID() Snowflake { return m.ID }

func (m *Message) merge(update *Message) {
	id := m.ID
	*m = *update
	if m.ID == 0 {
		m.ID = id
	}
}
