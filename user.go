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

// UserFlags represents flags on a user account.
type UserFlags int

const (
	// Instance staff member
	UserFlagStaff UserFlags = 1 << 0

	// Partnered server owner
	UserFlagPartner UserFlags = 1 << 1

	// Early supporter
	UserFlagPremiumEarlySupporter UserFlags = 1 << 9

	// Verified bot
	UserFlagVerifiedBot UserFlags = 1 << 16

	// Active developer
	UserFlagActiveDeveloper UserFlags = 1 << 22
)

// Has returns true if all provided flags are set.
func (f UserFlags) Has(flags ...UserFlags) bool {
	for _, flag := range flags {
		if f&flag != flag {
			return false
		}
	}
	return true
}

// User represents a user account on an instance.
type User struct {
	// ID is the user's unique snowflake ID.
	//
	// Always present.
	ID Snowflake `json:"id"`

	// Username is the user's username (not unique).
	//
	// Always present.
	Username string `json:"username"`

	// Discriminator is the user's 4-digit tag suffix.
	//
	// Always present.
	Discriminator string `json:"discriminator"`

	// Avatar is the user's avatar hash.
	//
	// Always present, may be empty string if no avatar.
	Avatar string `json:"avatar"`

	// Bot indicates if the account is a bot account.
	//
	// Omitted or false for normal users.
	Bot bool `json:"bot,omitempty"`

	// System indicates if the account is an official system user.
	System bool `json:"system,omitempty"`

	// MFAEnabled indicates if the user has two-factor authentication enabled.
	MFAEnabled bool `json:"mfa_enabled,omitempty"`

	// Banner is the user's banner hash.
	//
	// May be empty string if no banner.
	Banner string `json:"banner,omitempty"`

	// AccentColor is the user's banner color encoded as an integer.
	//
	// May be nil if no accent color is set.
	AccentColor *int `json:"accent_color,omitempty"`

	// Locale is the user's chosen language.
	Locale *string `json:"locale,omitempty"`

	// Verified indicates if the user's email is verified.
	Verified *bool `json:"verified,omitempty"`

	// Email is the user's email address.
	//
	// Only present on the session's own user object.
	Email *string `json:"email,omitempty"`

	// Flags are internal account flags.
	Flags *UserFlags `json:"flags,omitempty"`

	// PremiumType is the premium subscription tier, nil without one.
	PremiumType *int `json:"premium_type,omitempty"`

	// PublicFlags are the public flags on the account.
	PublicFlags *UserFlags `json:"public_flags,omitempty"`
}

// SnowflakeID implements Entity.
func (u *User) SnowflakeID() Snowflake { return u.ID }

// merge overwrites every field of the receiver with the update's value in
// place, keeping the existing id when the update carries none; fields the
// update leaves empty are not preserved. Outstanding references to the cell
// stay valid.
func (u *User) merge(update *User) {
	id := u.ID
	*u = *update
	if u.ID == 0 {
		u.ID = id
	}
}
