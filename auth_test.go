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
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
)

// newFakeInstance serves the auth surface of an instance: limit policy,
// login, register, self, logout and the MFA routes.
func newFakeInstance(t *testing.T) (*Instance, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /policies/instance/limits/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rate":{"enabled":false}}`))
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var schema LoginSchema
		if err := sonic.Unmarshal(body, &schema); err != nil || schema.Login == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if schema.Login == "mfa@b.c" {
			w.Write([]byte(`{"mfa":true,"ticket":"mfa-ticket","totp":true,"sms":false}`))
			return
		}
		if schema.Password != "p" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"token":"t"}`))
	})
	mux.HandleFunc("GET /users/@me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"100","username":"a","discriminator":"0001","avatar":""}`))
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /mfa/finish", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"mfa-token"}`))
	})
	mux.HandleFunc("POST /users/@me/mfa/totp/disable", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Discord-MFA-Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"mfa required"}`))
			return
		}
		w.Write([]byte(`{"token":"t2"}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	inst, err := NewInstance(t.Context(), InstanceURLs{
		API: server.URL,
		WSS: "ws" + server.URL[4:],
		CDN: server.URL,
	})
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	return inst, server
}

func TestLogin_HappyPath(t *testing.T) {
	inst, _ := newFakeInstance(t)

	session, err := Login(t.Context(), inst, LoginSchema{Login: "a@b.c", Password: "p"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.Token() != "t" {
		t.Fatalf("token = %q", session.Token())
	}
	if session.User == nil || session.User.ID != 100 || session.User.Username != "a" {
		t.Fatalf("user not loaded: %+v", session.User)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	inst, _ := newFakeInstance(t)

	_, err := Login(t.Context(), inst, LoginSchema{Login: "a@b.c", Password: "wrong"})
	if !errors.Is(err, ErrNoPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestLogin_MfaChallenge(t *testing.T) {
	inst, _ := newFakeInstance(t)

	_, err := Login(t.Context(), inst, LoginSchema{Login: "mfa@b.c", Password: "p"})
	var mfaErr *MfaRequiredError
	if !errors.As(err, &mfaErr) {
		t.Fatalf("expected MfaRequiredError, got %v", err)
	}
	if mfaErr.Ticket != "mfa-ticket" {
		t.Fatalf("ticket = %q", mfaErr.Ticket)
	}
	if len(mfaErr.Methods) != 1 || mfaErr.Methods[0] != MfaMethodTotp {
		t.Fatalf("methods = %v", mfaErr.Methods)
	}
}

func TestMfaGatedAction(t *testing.T) {
	inst, _ := newFakeInstance(t)

	session, err := Login(t.Context(), inst, LoginSchema{Login: "a@b.c", Password: "p"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// Without the MFA header the guarded endpoint refuses.
	if err := session.DisableTotpMfa(t.Context()); !errors.Is(err, ErrNoPermission) {
		t.Fatalf("expected refusal without mfa token, got %v", err)
	}

	if err := session.CompleteMfaChallenge(t.Context(), MfaVerifySchema{
		Ticket:  "mfa-ticket",
		MfaType: MfaMethodTotp,
		Data:    "123456",
	}); err != nil {
		t.Fatalf("mfa finish: %v", err)
	}

	if err := session.DisableTotpMfa(t.Context()); err != nil {
		t.Fatalf("mfa-authorized disable failed: %v", err)
	}
	// The refreshed token from the response replaces the cached one.
	if session.Token() != "t2" {
		t.Fatalf("token not refreshed: %q", session.Token())
	}
}

func TestLogout(t *testing.T) {
	inst, _ := newFakeInstance(t)

	session, err := Login(t.Context(), inst, LoginSchema{Login: "a@b.c", Password: "p"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := session.Logout(t.Context()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if session.Token() != "" {
		t.Fatal("token should be cleared after logout")
	}
}
