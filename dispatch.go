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
	"encoding/json"
	"runtime/debug"

	"github.com/bytedance/sonic"
)

// handleDispatch resolves an opcode 0 frame: deserialize the payload by its
// event name, fold updates into the live object store, then notify the
// subscribers. Store mutations always land before the first notification, so
// subscribers reading cells see the post-event state.
//
// Subscribers run sequentially on the listener goroutine. A panicking
// subscriber is contained; the dispatcher never takes the host down.
func (g *Gateway) handleDispatch(name string, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().
				Str("event", name).
				Any("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("recovered from panic while dispatching event")
		}
	}()

	g.logger.Debug().Str("event", name).Msg("event dispatched")

	switch name {
	case EventNameReady:
		var ev ReadyEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.mu.Lock()
		g.sessionID = ev.SessionID
		g.mu.Unlock()
		g.state.Store(int32(GatewayReady))
		g.store.Observe(&ev.User)
		user := ev.User
		g.updateCell(user.ID, func(e Entity) {
			if u, ok := e.(*User); ok && u != &ev.User {
				u.merge(&user)
			}
		})
		for _, guild := range ev.Guilds {
			g.store.ObserveRecursive(guild)
		}
		g.events.Ready.Publish(ev)

	case EventNameReadySupplemental:
		var ev ReadySupplementalEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.events.ReadySupplemental.Publish(ev)

	case EventNameResumed:
		g.state.Store(int32(GatewayReady))
		g.events.Resumed.Publish(ResumedEvent{})

	case EventNameMessageCreate:
		var ev MessageCreateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.events.MessageCreate.Publish(ev)

	case EventNameMessageUpdate:
		var ev MessageUpdateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.updateCell(ev.ID, func(e Entity) {
			if m, ok := e.(*Message); ok {
				m.merge(&ev.Message)
			}
		})
		g.events.MessageUpdate.Publish(ev)

	case EventNameMessageDelete:
		var ev MessageDeleteEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.store.Release(ev.ID)
		g.events.MessageDelete.Publish(ev)

	case EventNameChannelCreate:
		var ev ChannelCreateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.store.Observe(&ev.Channel)
		if ev.GuildID != nil {
			g.updateCell(*ev.GuildID, func(e Entity) {
				if guild, ok := e.(*Guild); ok {
					guild.upsertChannel(&ev.Channel)
				}
			})
		}
		g.events.ChannelCreate.Publish(ev)

	case EventNameChannelUpdate:
		var ev ChannelUpdateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.updateCell(ev.ID, func(e Entity) {
			if ch, ok := e.(*Channel); ok {
				ch.merge(&ev.Channel)
			}
		})
		g.events.ChannelUpdate.Publish(ev)

	case EventNameChannelDelete:
		var ev ChannelDeleteEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.store.Release(ev.ID)
		if ev.GuildID != nil {
			g.updateCell(*ev.GuildID, func(e Entity) {
				if guild, ok := e.(*Guild); ok {
					guild.removeChannel(ev.ID)
				}
			})
		}
		g.events.ChannelDelete.Publish(ev)

	case EventNameGuildCreate:
		var ev GuildCreateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.store.ObserveRecursive(&ev.Guild)
		g.events.GuildCreate.Publish(ev)

	case EventNameGuildUpdate:
		var ev GuildUpdateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.updateCell(ev.ID, func(e Entity) {
			if guild, ok := e.(*Guild); ok {
				guild.merge(&ev.Guild)
			}
		})
		g.events.GuildUpdate.Publish(ev)

	case EventNameGuildDelete:
		var ev GuildDeleteEvent
		if !g.decode(name, data, &ev) {
			return
		}
		if !ev.Unavailable {
			g.store.Release(ev.ID)
		}
		g.events.GuildDelete.Publish(ev)

	case EventNameGuildRoleCreate:
		var ev GuildRoleCreateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		role := ev.Role
		g.store.Observe(&role)
		g.updateCell(ev.GuildID, func(e Entity) {
			if guild, ok := e.(*Guild); ok {
				guild.upsertRole(&role)
			}
		})
		g.events.GuildRoleCreate.Publish(ev)

	case EventNameGuildRoleUpdate:
		var ev GuildRoleUpdateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.updateCell(ev.Role.ID, func(e Entity) {
			if r, ok := e.(*Role); ok {
				update := ev.Role
				r.merge(&update)
			}
		})
		role := ev.Role
		g.updateCell(ev.GuildID, func(e Entity) {
			if guild, ok := e.(*Guild); ok {
				guild.upsertRole(&role)
			}
		})
		g.events.GuildRoleUpdate.Publish(ev)

	case EventNameGuildRoleDelete:
		var ev GuildRoleDeleteEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.store.Release(ev.RoleID)
		g.updateCell(ev.GuildID, func(e Entity) {
			if guild, ok := e.(*Guild); ok {
				guild.removeRole(ev.RoleID)
			}
		})
		g.events.GuildRoleDelete.Publish(ev)

	case EventNameGuildMemberAdd:
		var ev GuildMemberAddEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.events.GuildMemberAdd.Publish(ev)

	case EventNameGuildMemberUpdate:
		var ev GuildMemberUpdateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.events.GuildMemberUpdate.Publish(ev)

	case EventNameGuildMemberRemove:
		var ev GuildMemberRemoveEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.events.GuildMemberRemove.Publish(ev)

	case EventNameTypingStart:
		var ev TypingStartEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.events.TypingStart.Publish(ev)

	case EventNamePresenceUpdate:
		var ev PresenceUpdateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.events.PresenceUpdate.Publish(ev)

	case EventNameUserUpdate:
		var ev UserUpdateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.updateCell(ev.ID, func(e Entity) {
			if u, ok := e.(*User); ok {
				u.merge(&ev.User)
			}
		})
		g.events.UserUpdate.Publish(ev)

	case EventNameVoiceStateUpdate:
		var ev VoiceStateUpdateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.updateCell(ev.UserID, func(e Entity) {
			if vs, ok := e.(*VoiceState); ok {
				*vs = ev.VoiceState
			}
		})
		g.events.VoiceStateUpdate.Publish(ev)

	case EventNameVoiceServerUpdate:
		var ev VoiceServerUpdateEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.events.VoiceServerUpdate.Publish(ev)

	case EventNameSessionsReplace:
		var ev SessionsReplaceEvent
		if !g.decode(name, data, &ev) {
			return
		}
		g.events.SessionsReplace.Publish(ev)

	default:
		g.logger.Warn().Str("event", name).Msg("unknown event name, skipping")
	}
}

// decode unmarshals an event payload, logging instead of failing on bad data.
func (g *Gateway) decode(name string, data json.RawMessage, into any) bool {
	if err := sonic.Unmarshal(data, into); err != nil {
		g.logger.Warn().Err(err).Str("event", name).Msg("undecodable event payload, skipping")
		return false
	}
	return true
}

// updateCell applies fn to the cell for id under its write lock, when the
// store holds that id. Updates land before subscribers are notified.
func (g *Gateway) updateCell(id Snowflake, fn func(Entity)) {
	cell := g.store.Get(id)
	if cell == nil {
		return
	}
	cell.Update(fn)
}
