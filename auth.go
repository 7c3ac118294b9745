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
	"encoding/json"
	"net/http"

	"github.com/bytedance/sonic"
)

// LoginSchema is the body of POST /auth/login.
type LoginSchema struct {
	Login       string  `json:"login"`
	Password    string  `json:"password"`
	Undelete    *bool   `json:"undelete,omitempty"`
	CaptchaKey  *string `json:"captcha_key,omitempty"`
	LoginSource *string `json:"login_source,omitempty"`
}

// RegisterSchema is the body of POST /auth/register.
type RegisterSchema struct {
	Username    string  `json:"username"`
	Email       *string `json:"email,omitempty"`
	Password    *string `json:"password,omitempty"`
	Consent     bool    `json:"consent"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	Invite      *string `json:"invite,omitempty"`
	CaptchaKey  *string `json:"captcha_key,omitempty"`
	GiftCodeSKU *string `json:"gift_code_sku_id,omitempty"`
	PromoEmail  *bool   `json:"promotional_email_opt_in,omitempty"`
}

// loginResult is what a successful auth endpoint returns; mfaChallenge is
// what an MFA-gated login returns instead.
type loginResult struct {
	Token string `json:"token"`
}

type mfaChallenge struct {
	Mfa      bool   `json:"mfa"`
	Ticket   string `json:"ticket"`
	Totp     bool   `json:"totp"`
	Sms      bool   `json:"sms"`
	Backup   bool   `json:"backup"`
	WebAuthn bool   `json:"webauthn"`
}

func (c mfaChallenge) methods() []MfaMethod {
	var methods []MfaMethod
	if c.Totp {
		methods = append(methods, MfaMethodTotp)
	}
	if c.Sms {
		methods = append(methods, MfaMethodSms)
	}
	if c.Backup {
		methods = append(methods, MfaMethodBackup)
	}
	if c.WebAuthn {
		methods = append(methods, MfaMethodWebAuthn)
	}
	return methods
}

// authenticate posts a schema to an auth endpoint on a fresh session and
// finishes session setup from the returned token.
func authenticate(ctx context.Context, inst *Instance, path string, schema any, kind BucketKind) (*UserSession, error) {
	session := newUserSession(inst)

	payload, err := sonic.Marshal(schema)
	if err != nil {
		return nil, err
	}
	resp, err := session.requester.Do(ctx, http.MethodPost, path, payload, kind, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := decodeBody(resp, &raw); err != nil {
		return nil, err
	}

	var challenge mfaChallenge
	if sonic.Unmarshal(raw, &challenge) == nil && challenge.Mfa && challenge.Ticket != "" {
		return nil, &MfaRequiredError{Ticket: challenge.Ticket, Methods: challenge.methods()}
	}

	var result loginResult
	if err := sonic.Unmarshal(raw, &result); err != nil || result.Token == "" {
		return nil, &InvalidResponseError{Body: string(raw), Status: resp.StatusCode}
	}

	session.requester.SetToken(result.Token)
	if _, err := session.FetchSelf(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// Login authenticates an existing account. An MFA-protected account yields
// MfaRequiredError; finish with VerifyMfaLogin using the carried ticket.
func Login(ctx context.Context, inst *Instance, schema LoginSchema) (*UserSession, error) {
	return authenticate(ctx, inst, "/auth/login", schema, BucketAuthLogin)
}

// Register creates a new account on the instance.
func Register(ctx context.Context, inst *Instance, schema RegisterSchema) (*UserSession, error) {
	return authenticate(ctx, inst, "/auth/register", schema, BucketAuthRegister)
}

// VerifyMfaLogin finishes an MFA-gated login with the ticket from
// MfaRequiredError and a verification code.
func VerifyMfaLogin(ctx context.Context, inst *Instance, method MfaMethod, ticket, code string) (*UserSession, error) {
	return authenticate(ctx, inst, "/auth/mfa/"+string(method), map[string]string{
		"ticket": ticket,
		"code":   code,
	}, BucketAuthLogin)
}
