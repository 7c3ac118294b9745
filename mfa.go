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

import "context"

// MfaMethod is one multi-factor verification method an instance may accept.
type MfaMethod string

const (
	MfaMethodTotp     MfaMethod = "totp"
	MfaMethodSms      MfaMethod = "sms"
	MfaMethodBackup   MfaMethod = "backup"
	MfaMethodWebAuthn MfaMethod = "webauthn"
)

// MfaVerifySchema finishes an MFA challenge for an already authenticated
// session, producing the short-lived token sent on MFA-guarded endpoints.
type MfaVerifySchema struct {
	Ticket  string    `json:"ticket"`
	MfaType MfaMethod `json:"mfa_type"`
	Data    string    `json:"data"`
}

// mfaTokenResponse carries the MFA or refreshed session token.
type mfaTokenResponse struct {
	Token string `json:"token"`
}

// CompleteMfaChallenge verifies an MFA challenge and installs the resulting
// token, after which MFA-guarded requests carry the
// X-Discord-MFA-Authorization header automatically.
func (s *UserSession) CompleteMfaChallenge(ctx context.Context, schema MfaVerifySchema) error {
	var result mfaTokenResponse
	if err := s.postJSON(ctx, "/mfa/finish", schema, BucketGlobal, &result); err != nil {
		return err
	}
	if result.Token == "" {
		return &InvalidResponseError{Body: "mfa finish returned no token"}
	}
	s.requester.SetMfaToken(result.Token)
	return nil
}

// EnableTotpMfaSchema is the body for enabling TOTP MFA.
type EnableTotpMfaSchema struct {
	Password string `json:"password"`
	Secret   string `json:"secret"`
	Code     string `json:"code"`
}

// EnableTotpMfaResult carries the backup codes minted on enable.
type EnableTotpMfaResult struct {
	BackupCodes []string `json:"backup_codes"`
}

type enableTotpMfaResponse struct {
	Token       string   `json:"token"`
	BackupCodes []string `json:"backup_codes"`
}

// EnableTotpMfa turns on TOTP-based MFA for the session user. The instance
// issues a fresh session token, which replaces the cached one.
func (s *UserSession) EnableTotpMfa(ctx context.Context, schema EnableTotpMfaSchema) (*EnableTotpMfaResult, error) {
	var resp enableTotpMfaResponse
	if err := s.postJSON(ctx, "/users/@me/mfa/totp/enable", schema, BucketGlobal, &resp); err != nil {
		return nil, err
	}
	if resp.Token != "" {
		s.requester.SetToken(resp.Token)
	}
	return &EnableTotpMfaResult{BackupCodes: resp.BackupCodes}, nil
}

// DisableTotpMfa turns off TOTP-based MFA. The endpoint is MFA-guarded: it
// succeeds only when an MFA token from CompleteMfaChallenge is installed.
// The refreshed session token from the response replaces the cached one.
func (s *UserSession) DisableTotpMfa(ctx context.Context) error {
	var resp mfaTokenResponse
	if err := s.postJSON(ctx, "/users/@me/mfa/totp/disable", map[string]any{}, BucketGlobal, &resp); err != nil {
		return err
	}
	if resp.Token != "" {
		s.requester.SetToken(resp.Token)
	}
	return nil
}
