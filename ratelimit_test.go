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
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLimitsConfig() *LimitsConfiguration {
	var c LimitsConfiguration
	c.Rate.Enabled = true
	c.Rate.Global = LimitWindow{Count: 250, Window: 60}
	c.Rate.IP = LimitWindow{Count: 500, Window: 60}
	c.Rate.Error = LimitWindow{Count: 10, Window: 60}
	c.Rate.Routes.Guild = LimitWindow{Count: 100, Window: 60}
	c.Rate.Routes.Webhook = LimitWindow{Count: 100, Window: 60}
	c.Rate.Routes.Channel = LimitWindow{Count: 50, Window: 60}
	c.Rate.Routes.Auth.Login = LimitWindow{Count: 5, Window: 60}
	c.Rate.Routes.Auth.Register = LimitWindow{Count: 2, Window: 43200}
	c.AbsoluteRate.Register = AbsoluteWindow{Limit: 25, Window: 3600, Enabled: true}
	c.AbsoluteRate.SendMessage = AbsoluteWindow{Limit: 200, Window: 60, Enabled: true}
	return &c
}

func newTestLimits() *Limits {
	config := testLimitsConfig()
	return &Limits{
		Instance: NewInstanceLimitTable(config),
		User:     NewUserLimitTable(config),
	}
}

func remainingOf(t *testing.T, table *LimitTable, kind BucketKind) uint64 {
	t.Helper()
	b, ok := table.Snapshot()[kind]
	if !ok {
		t.Fatalf("no bucket %s in table", kind)
	}
	return b.Remaining
}

func TestLimits_AdmitDecrementsGlobalAndIPOncePerRequest(t *testing.T) {
	limits := newTestLimits()
	kind := ChannelBucket(1)

	const attempts = 10
	for i := 0; i < attempts; i++ {
		if err := limits.Admit(kind); err != nil {
			t.Fatalf("attempt %d refused: %v", i, err)
		}
	}

	if got := remainingOf(t, limits.Instance, BucketGlobal); got != 250-attempts {
		t.Fatalf("global remaining = %d, want %d", got, 250-attempts)
	}
	if got := remainingOf(t, limits.Instance, BucketIP); got != 500-attempts {
		t.Fatalf("ip remaining = %d, want %d", got, 500-attempts)
	}
	if got := remainingOf(t, limits.User, kind); got != 50-attempts {
		t.Fatalf("channel remaining = %d, want %d", got, 50-attempts)
	}
}

func TestLimits_ChannelBucketExhaustion(t *testing.T) {
	limits := newTestLimits()
	kind := ChannelBucket(42)

	for i := 0; i < 50; i++ {
		if err := limits.Admit(kind); err != nil {
			t.Fatalf("request %d refused early: %v", i+1, err)
		}
	}

	err := limits.Admit(kind)
	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("51st request should be rate limited, got %v", err)
	}
	if rateErr.Bucket.Class != BucketClassChannel {
		t.Fatalf("wrong implicated bucket: %s", rateErr.Bucket)
	}
}

func TestLimits_HeaderAdoption(t *testing.T) {
	limits := newTestLimits()
	kind := ChannelBucket(7)

	if err := limits.Admit(kind); err != nil {
		t.Fatalf("admit: %v", err)
	}

	header := http.Header{}
	header.Set("X-RateLimit-Remaining", "30")
	header.Set("X-RateLimit-Limit", "50")
	header.Set("X-RateLimit-Reset", "0")
	limits.ApplyResponse(kind, 200, header)

	got := limits.User.Snapshot()[kind]
	// The reset header differs from the seeded reset, so remaining snaps to
	// the limit.
	if got.Remaining != 50 {
		t.Fatalf("reset change should refill remaining to limit, got %d", got.Remaining)
	}

	// Now the stored reset matches the header value; remaining is adopted.
	header.Set("X-RateLimit-Remaining", "12")
	limits.ApplyResponse(kind, 200, header)
	got = limits.User.Snapshot()[kind]
	if got.Remaining != 12 {
		t.Fatalf("server remaining not adopted, got %d", got.Remaining)
	}
}

func TestLimits_NoHeadersKeepsOptimisticDecrement(t *testing.T) {
	limits := newTestLimits()
	kind := GuildBucket(9)

	if err := limits.Admit(kind); err != nil {
		t.Fatalf("admit: %v", err)
	}
	limits.ApplyResponse(kind, 200, http.Header{})

	if got := remainingOf(t, limits.User, kind); got != 99 {
		t.Fatalf("remaining should have decreased by exactly one, got %d", got)
	}
}

func TestLimits_ErrorBucketDecrementsOn4xx(t *testing.T) {
	limits := newTestLimits()
	kind := ChannelBucket(3)

	if err := limits.Admit(kind); err != nil {
		t.Fatalf("admit: %v", err)
	}
	limits.ApplyResponse(kind, 404, http.Header{})

	if got := remainingOf(t, limits.Instance, BucketError); got != 9 {
		t.Fatalf("error remaining = %d, want 9", got)
	}

	limits.ApplyResponse(kind, 200, http.Header{})
	if got := remainingOf(t, limits.Instance, BucketError); got != 9 {
		t.Fatalf("2xx must not touch the error bucket, got %d", got)
	}
}

func TestLimits_429ExhaustsBucket(t *testing.T) {
	limits := newTestLimits()
	kind := ChannelBucket(5)

	if err := limits.Admit(kind); err != nil {
		t.Fatalf("admit: %v", err)
	}
	header := http.Header{}
	header.Set("Retry-After", "3")
	limits.ApplyResponse(kind, 429, header)

	got := limits.User.Snapshot()[kind]
	if got.Remaining != 0 {
		t.Fatalf("429 must exhaust the bucket, remaining %d", got.Remaining)
	}
	if !got.ResetAt.After(time.Now()) {
		t.Fatal("retry-after should push the reset into the future")
	}

	var rateErr *RateLimitedError
	if err := limits.Admit(kind); !errors.As(err, &rateErr) {
		t.Fatalf("admission after 429 should fail, got %v", err)
	}
}

func TestLimits_MaxCapacityNeverExhausts(t *testing.T) {
	limits := newTestLimits()
	limits.Instance.put(&Bucket{
		Kind:      BucketAbsoluteMessage,
		Limit:     math.MaxUint64,
		Remaining: math.MaxUint64,
	})

	for i := 0; i < 100; i++ {
		if err := limits.Admit(BucketAbsoluteMessage); err != nil {
			t.Fatalf("unbounded bucket reported exhaustion on attempt %d: %v", i, err)
		}
	}
}

func TestLimits_RegisterLinkage(t *testing.T) {
	limits := newTestLimits()

	// Exhaust AuthRegister (capacity 2).
	if err := limits.Admit(BucketAuthRegister); err != nil {
		t.Fatalf("first register refused: %v", err)
	}
	if err := limits.Admit(BucketAuthRegister); err != nil {
		t.Fatalf("second register refused: %v", err)
	}

	if err := limits.Admit(BucketAuthRegister); err == nil {
		t.Fatal("auth register should be exhausted")
	}
	// The linked bucket must block registration too.
	if err := limits.Admit(BucketAbsoluteRegister); err == nil {
		t.Fatal("absolute register should be blocked by the exhausted auth register bucket")
	}
}

func TestLimits_DisabledAdmitsEverything(t *testing.T) {
	limits := &Limits{Instance: nil, User: NewUserLimitTable(nil)}
	for i := 0; i < 100; i++ {
		if err := limits.Admit(ChannelBucket(1)); err != nil {
			t.Fatalf("disabled limits refused a request: %v", err)
		}
	}
}

func TestProbeInstanceLimits(t *testing.T) {
	enabled := `{"rate":{"enabled":true,"ip":{"count":500,"window":60},"global":{"count":250,"window":60},"error":{"count":10,"window":60},"routes":{"guild":{"count":100,"window":60},"webhook":{"count":100,"window":60},"channel":{"count":50,"window":60},"auth":{"login":{"count":5,"window":60},"register":{"count":2,"window":43200}}}},"absoluteRate":{"register":{"limit":25,"window":3600,"enabled":true},"sendMessage":{"limit":200,"window":60,"enabled":true}}}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/policies/instance/limits/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(enabled))
	}))
	defer server.Close()

	config, err := ProbeInstanceLimits(t.Context(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if config == nil {
		t.Fatal("expected a configuration")
	}
	if config.Rate.Routes.Channel.Count != 50 {
		t.Fatalf("channel route count = %d", config.Rate.Routes.Channel.Count)
	}

	table := NewInstanceLimitTable(config)
	if got := table.Snapshot()[BucketGlobal].Limit; got != 250 {
		t.Fatalf("global limit = %d", got)
	}
}

func TestProbeInstanceLimits_Disabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rate":{"enabled":false}}`))
	}))
	defer server.Close()

	config, err := ProbeInstanceLimits(t.Context(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if config != nil {
		t.Fatal("disabled rate limiting should yield a nil configuration")
	}
	if table := NewInstanceLimitTable(config); table != nil {
		t.Fatal("nil configuration should yield a nil table")
	}
}
