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
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

/***********************
 *     Bucket kinds    *
 ***********************/

// BucketClass enumerates the closed set of rate-limit bucket families.
type BucketClass uint8

const (
	BucketClassGlobal BucketClass = iota
	BucketClassIP
	BucketClassError
	BucketClassAuthLogin
	BucketClassAuthRegister
	BucketClassAbsoluteRegister
	BucketClassAbsoluteMessage
	BucketClassChannel
	BucketClassGuild
	BucketClassWebhook
	BucketClassChannelBaseline
	BucketClassGuildBaseline
	BucketClassWebhookBaseline
)

var bucketClassNames = map[BucketClass]string{
	BucketClassGlobal:           "Global",
	BucketClassIP:               "Ip",
	BucketClassError:            "Error",
	BucketClassAuthLogin:        "AuthLogin",
	BucketClassAuthRegister:     "AuthRegister",
	BucketClassAbsoluteRegister: "AbsoluteRegister",
	BucketClassAbsoluteMessage:  "AbsoluteMessage",
	BucketClassChannel:          "Channel",
	BucketClassGuild:            "Guild",
	BucketClassWebhook:          "Webhook",
	BucketClassChannelBaseline:  "ChannelBaseline",
	BucketClassGuildBaseline:    "GuildBaseline",
	BucketClassWebhookBaseline:  "WebhookBaseline",
}

// BucketKind identifies one rate-limit token pool. Channel, Guild and Webhook
// kinds carry the resource snowflake; every other kind leaves ID zero.
type BucketKind struct {
	Class BucketClass
	ID    Snowflake
}

// Instance-wide bucket kinds, shared by every user session on an instance.
var (
	BucketGlobal           = BucketKind{Class: BucketClassGlobal}
	BucketIP               = BucketKind{Class: BucketClassIP}
	BucketError            = BucketKind{Class: BucketClassError}
	BucketAuthLogin        = BucketKind{Class: BucketClassAuthLogin}
	BucketAuthRegister     = BucketKind{Class: BucketClassAuthRegister}
	BucketAbsoluteRegister = BucketKind{Class: BucketClassAbsoluteRegister}
	BucketAbsoluteMessage  = BucketKind{Class: BucketClassAbsoluteMessage}
)

// ChannelBucket returns the per-channel bucket kind for the given channel.
func ChannelBucket(id Snowflake) BucketKind {
	return BucketKind{Class: BucketClassChannel, ID: id}
}

// GuildBucket returns the per-guild bucket kind for the given guild.
func GuildBucket(id Snowflake) BucketKind {
	return BucketKind{Class: BucketClassGuild, ID: id}
}

// WebhookBucket returns the per-webhook bucket kind for the given webhook.
func WebhookBucket(id Snowflake) BucketKind {
	return BucketKind{Class: BucketClassWebhook, ID: id}
}

func (k BucketKind) String() string {
	name := bucketClassNames[k.Class]
	if k.ID != 0 {
		return name + "(" + k.ID.String() + ")"
	}
	return name
}

// InstanceWide reports whether the bucket is shared by all sessions on an
// instance rather than owned by one user session.
func (k BucketKind) InstanceWide() bool {
	switch k.Class {
	case BucketClassGlobal, BucketClassIP, BucketClassError,
		BucketClassAuthLogin, BucketClassAuthRegister,
		BucketClassAbsoluteRegister, BucketClassAbsoluteMessage:
		return true
	}
	return false
}

// baseline returns the baseline kind that seeds fresh per-resource buckets,
// or a zero kind when the class has no baseline.
func (k BucketKind) baseline() (BucketKind, bool) {
	switch k.Class {
	case BucketClassChannel:
		return BucketKind{Class: BucketClassChannelBaseline}, true
	case BucketClassGuild:
		return BucketKind{Class: BucketClassGuildBaseline}, true
	case BucketClassWebhook:
		return BucketKind{Class: BucketClassWebhookBaseline}, true
	}
	return BucketKind{}, false
}

/***********************
 *       Buckets       *
 ***********************/

// Bucket is one named rate-limit token pool.
type Bucket struct {
	Kind      BucketKind
	Limit     uint64
	Remaining uint64
	ResetAt   time.Time
	// Window re-arms the bucket after ResetAt passes. Zero means the bucket
	// only resets when the server says so.
	Window time.Duration
}

// replenish refills the bucket if its reset has elapsed.
func (b *Bucket) replenish(now time.Time) {
	if b.Window > 0 && !b.ResetAt.After(now) {
		b.Remaining = b.Limit
		b.ResetAt = now.Add(b.Window)
	}
}

// exhausted reports whether the bucket blocks requests right now.
// A bucket with maximal capacity never exhausts.
func (b *Bucket) exhausted(now time.Time) bool {
	if b.Limit == math.MaxUint64 {
		return false
	}
	b.replenish(now)
	return b.Remaining == 0 && b.ResetAt.After(now)
}

// consume takes one token, saturating at zero.
func (b *Bucket) consume() {
	if b.Limit == math.MaxUint64 {
		return
	}
	if b.Remaining > 0 {
		b.Remaining--
	}
}

/***********************
 *     Limit tables    *
 ***********************/

// LimitTable is a set of buckets guarded by one mutex. Instance-wide tables
// are shared by every session on the instance; per-user tables belong to a
// single session.
type LimitTable struct {
	mu      sync.Mutex
	buckets map[BucketKind]*Bucket
}

// NewLimitTable creates an empty table.
func NewLimitTable() *LimitTable {
	return &LimitTable{buckets: make(map[BucketKind]*Bucket)}
}

func (t *LimitTable) put(b *Bucket) {
	t.mu.Lock()
	t.buckets[b.Kind] = b
	t.mu.Unlock()
}

// Snapshot returns a copy of the table's buckets. Readers clone state; they
// never observe a bucket mid-update.
func (t *LimitTable) Snapshot() map[BucketKind]Bucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[BucketKind]Bucket, len(t.buckets))
	for k, b := range t.buckets {
		out[k] = *b
	}
	return out
}

// Limits pairs the instance-wide table with a session's per-user table and
// implements admission and header interpretation over both.
//
// Where instance and per-user header values would contradict, no precedence
// is chosen: each header updates the single table that owns the implicated
// bucket, and Snapshot exposes both tables so the caller can pick.
type Limits struct {
	Instance *LimitTable
	User     *LimitTable
}

// tableFor routes a bucket kind to the table that owns it.
func (l *Limits) tableFor(kind BucketKind) *LimitTable {
	if kind.InstanceWide() {
		return l.Instance
	}
	return l.User
}

// lookup finds the bucket for a kind, seeding parameterized kinds from their
// baseline. Returns nil when the table has no matching bucket (rate limiting
// disabled for that kind). Caller must hold the owning table's mutex.
func (l *Limits) lookup(t *LimitTable, kind BucketKind, now time.Time) *Bucket {
	if b, ok := t.buckets[kind]; ok {
		return b
	}
	base, ok := kind.baseline()
	if !ok {
		return nil
	}
	bb, ok := t.buckets[base]
	if !ok {
		return nil
	}
	b := &Bucket{
		Kind:      kind,
		Limit:     bb.Limit,
		Remaining: bb.Limit,
		ResetAt:   now.Add(bb.Window),
		Window:    bb.Window,
	}
	t.buckets[kind] = b
	return b
}

// Disabled reports whether the instance advertises no rate limiting at all.
func (l *Limits) Disabled() bool {
	return l == nil || l.Instance == nil
}

// applicableKinds returns the bucket set an admission check must pass: always
// Global, Ip, Error and the resource kind, plus the register linkage.
func applicableKinds(kind BucketKind) []BucketKind {
	kinds := []BucketKind{BucketGlobal, BucketIP, BucketError, kind}
	switch kind.Class {
	case BucketClassAuthRegister:
		kinds = append(kinds, BucketAbsoluteRegister)
	case BucketClassAbsoluteRegister:
		kinds = append(kinds, BucketAuthRegister)
	}
	return kinds
}

// Admit checks every applicable bucket and, when all admit, optimistically
// consumes one token from Global, Ip and the resource bucket. A blocked
// bucket yields RateLimitedError; the request is not queued.
func (l *Limits) Admit(kind BucketKind) error {
	if l.Disabled() {
		return nil
	}
	now := time.Now()

	l.Instance.mu.Lock()
	defer l.Instance.mu.Unlock()
	if l.User != nil && l.User != l.Instance {
		l.User.mu.Lock()
		defer l.User.mu.Unlock()
	}

	for _, k := range applicableKinds(kind) {
		b := l.lookup(l.tableFor(k), k, now)
		if b == nil {
			continue
		}
		if b.exhausted(now) {
			return &RateLimitedError{Bucket: b.Kind}
		}
	}

	consumed := []BucketKind{BucketGlobal, BucketIP}
	if kind != BucketGlobal && kind != BucketIP {
		consumed = append(consumed, kind)
	}
	for _, k := range consumed {
		if b := l.lookup(l.tableFor(k), k, now); b != nil {
			b.consume()
		}
	}
	return nil
}

// ApplyResponse folds a response's rate-limit headers back into the tables.
// Server values are authoritative for the resource bucket: when the reset
// moved, remaining snaps back to the (possibly new) limit, otherwise the
// server's remaining is adopted. Responses without headers already paid the
// optimistic decrement in Admit. A 4xx status costs one Error token, and a
// 429 exhausts the implicated bucket outright.
func (l *Limits) ApplyResponse(kind BucketKind, status int, header http.Header) {
	if l.Disabled() {
		return
	}
	now := time.Now()

	l.Instance.mu.Lock()
	defer l.Instance.mu.Unlock()
	if l.User != nil && l.User != l.Instance {
		l.User.mu.Lock()
		defer l.User.mu.Unlock()
	}

	if status >= 400 && status < 500 {
		if b := l.lookup(l.Instance, BucketError, now); b != nil {
			b.consume()
		}
	}

	b := l.lookup(l.tableFor(kind), kind, now)
	if b == nil {
		return
	}

	if status == http.StatusTooManyRequests {
		b.Remaining = 0
		if after := header.Get("Retry-After"); after != "" {
			if secs, err := strconv.ParseFloat(after, 64); err == nil {
				b.ResetAt = now.Add(time.Duration(secs * float64(time.Second)))
			}
		}
		return
	}

	remaining, hasRemaining := parseHeaderUint(header, "X-RateLimit-Remaining")
	limit, hasLimit := parseHeaderUint(header, "X-RateLimit-Limit")
	reset, hasReset := parseHeaderUint(header, "X-RateLimit-Reset")
	if !hasRemaining && !hasLimit && !hasReset {
		return
	}

	if hasLimit {
		b.Limit = limit
	}
	if hasReset {
		resetAt := time.Unix(int64(reset), 0)
		if !resetAt.Equal(b.ResetAt) {
			b.ResetAt = resetAt
			b.Remaining = b.Limit
			return
		}
	}
	if hasRemaining {
		b.Remaining = remaining
	}
}

func parseHeaderUint(h http.Header, name string) (uint64, bool) {
	v := h.Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

/*********************************
 *  Instance limits configuration
 *********************************/

// LimitWindow is one count-per-window rule in the instance configuration.
type LimitWindow struct {
	Count  uint64 `json:"count"`
	Window uint64 `json:"window"`
}

// AbsoluteWindow is an absolute (non-route) rule in the configuration.
type AbsoluteWindow struct {
	Limit   uint64 `json:"limit"`
	Window  uint64 `json:"window"`
	Enabled bool   `json:"enabled"`
}

// LimitsConfiguration mirrors the `/policies/instance/limits/` document.
type LimitsConfiguration struct {
	Rate struct {
		Enabled bool        `json:"enabled"`
		IP      LimitWindow `json:"ip"`
		Global  LimitWindow `json:"global"`
		Error   LimitWindow `json:"error"`
		Routes  struct {
			Guild   LimitWindow `json:"guild"`
			Webhook LimitWindow `json:"webhook"`
			Channel LimitWindow `json:"channel"`
			Auth    struct {
				Login    LimitWindow `json:"login"`
				Register LimitWindow `json:"register"`
			} `json:"auth"`
		} `json:"routes"`
	} `json:"rate"`
	AbsoluteRate struct {
		Register    AbsoluteWindow `json:"register"`
		SendMessage AbsoluteWindow `json:"sendMessage"`
	} `json:"absoluteRate"`
}

// ProbeInstanceLimits fetches the rate-limit policy of an instance once at
// instance creation. A nil configuration (with nil error) means the instance
// has rate limiting disabled.
func ProbeInstanceLimits(ctx context.Context, client *http.Client, apiBase string) (*LimitsConfiguration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"/policies/instance/limits/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &RequestError{URL: apiBase + "/policies/instance/limits/", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &InvalidResponseError{Body: string(body), Status: resp.StatusCode}
	}

	var config LimitsConfiguration
	if err := sonic.Unmarshal(body, &config); err != nil {
		return nil, &InvalidResponseError{Body: string(body), Status: resp.StatusCode}
	}
	if !config.Rate.Enabled {
		return nil, nil
	}
	return &config, nil
}

func windowBucket(kind BucketKind, w LimitWindow) *Bucket {
	window := time.Duration(w.Window) * time.Second
	return &Bucket{
		Kind:      kind,
		Limit:     w.Count,
		Remaining: w.Count,
		ResetAt:   time.Now().Add(window),
		Window:    window,
	}
}

// NewInstanceLimitTable builds the instance-wide table from the probed
// configuration. The result is shared by every session on the instance.
func NewInstanceLimitTable(config *LimitsConfiguration) *LimitTable {
	if config == nil {
		return nil
	}
	t := NewLimitTable()
	t.put(windowBucket(BucketGlobal, config.Rate.Global))
	t.put(windowBucket(BucketIP, config.Rate.IP))
	t.put(windowBucket(BucketError, config.Rate.Error))
	t.put(windowBucket(BucketAuthLogin, config.Rate.Routes.Auth.Login))
	t.put(windowBucket(BucketAuthRegister, config.Rate.Routes.Auth.Register))

	absolute := func(kind BucketKind, w AbsoluteWindow) {
		limit := w.Limit
		if !w.Enabled {
			limit = math.MaxUint64
		}
		window := time.Duration(w.Window) * time.Second
		t.put(&Bucket{
			Kind:      kind,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   time.Now().Add(window),
			Window:    window,
		})
	}
	absolute(BucketAbsoluteRegister, config.AbsoluteRate.Register)
	absolute(BucketAbsoluteMessage, config.AbsoluteRate.SendMessage)
	return t
}

// NewUserLimitTable builds a fresh per-session table holding the baselines
// that seed per-resource buckets on first use.
func NewUserLimitTable(config *LimitsConfiguration) *LimitTable {
	t := NewLimitTable()
	if config == nil {
		return t
	}
	t.put(windowBucket(BucketKind{Class: BucketClassChannelBaseline}, config.Rate.Routes.Channel))
	t.put(windowBucket(BucketKind{Class: BucketClassGuildBaseline}, config.Rate.Routes.Guild))
	t.put(windowBucket(BucketKind{Class: BucketClassWebhookBaseline}, config.Rate.Routes.Webhook))
	return t
}
