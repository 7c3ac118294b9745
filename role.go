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

// Permissions is the permission bitfield attached to roles and overwrites.
// It travels on the wire as a decimal string, same as snowflakes.
type Permissions uint64

const (
	PermissionCreateInstantInvite Permissions = 1 << 0
	PermissionKickMembers         Permissions = 1 << 1
	PermissionBanMembers          Permissions = 1 << 2
	PermissionAdministrator       Permissions = 1 << 3
	PermissionManageChannels      Permissions = 1 << 4
	PermissionManageGuild         Permissions = 1 << 5
	PermissionViewChannel         Permissions = 1 << 10
	PermissionSendMessages        Permissions = 1 << 11
	PermissionConnect             Permissions = 1 << 20
	PermissionSpeak               Permissions = 1 << 21
	PermissionMuteMembers         Permissions = 1 << 22
	PermissionDeafenMembers       Permissions = 1 << 23
	PermissionManageRoles         Permissions = 1 << 28
)

// Has returns true if all provided permissions are set, or the field carries
// Administrator.
func (p Permissions) Has(perms ...Permissions) bool {
	if p&PermissionAdministrator != 0 {
		return true
	}
	for _, perm := range perms {
		if p&perm != perm {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the permissions as a decimal string.
func (p Permissions) MarshalJSON() ([]byte, error) {
	return Snowflake(p).MarshalJSON()
}

// UnmarshalJSON accepts string or numeric permission fields.
func (p *Permissions) UnmarshalJSON(data []byte) error {
	var s Snowflake
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	*p = Permissions(s)
	return nil
}

// Role represents a guild role.
type Role struct {
	// ID is the role ID.
	//
	// Always present.
	ID Snowflake `json:"id"`

	// Name is the role name.
	//
	// Always present.
	Name string `json:"name"`

	// Color is the role color as an integer RGB value.
	Color int `json:"color"`

	// Hoist indicates if this role is pinned in the user listing.
	Hoist bool `json:"hoist"`

	// Icon is the role's icon hash, empty if none.
	Icon string `json:"icon,omitempty"`

	// UnicodeEmoji is the role's unicode emoji, empty if not set.
	UnicodeEmoji string `json:"unicode_emoji,omitempty"`

	// Position is the position of this role in the role list.
	Position int `json:"position"`

	// Permissions is the role's permission bitfield.
	Permissions Permissions `json:"permissions"`

	// Managed indicates whether an integration owns this role.
	Managed bool `json:"managed"`

	// Mentionable indicates whether the role can be mentioned.
	Mentionable bool `json:"mentionable"`
}

// SnowflakeID implements Entity.
func (r *Role) SnowflakeID() Snowflake { return r.ID }

func (r *Role) merge(update *Role) {
	id := r.ID
	*r = *update
	if r.ID == 0 {
		r.ID = id
	}
}
