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
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// fakeGatewayServer accepts WebSocket upgrades and hands the raw server
// side of each connection to the test.
type fakeGatewayServer struct {
	server *httptest.Server
	conns  chan net.Conn
}

func newFakeGatewayServer(t *testing.T) *fakeGatewayServer {
	t.Helper()
	f := &fakeGatewayServer{conns: make(chan net.Conn, 4)}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		f.conns <- conn
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGatewayServer) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeGatewayServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no gateway connection arrived")
		return nil
	}
}

// acceptAndGreet answers the next connection with the given hello frame in
// the background and delivers the server side of the socket.
func (f *fakeGatewayServer) acceptAndGreet(hello string) chan net.Conn {
	out := make(chan net.Conn, 1)
	go func() {
		conn := <-f.conns
		wsutil.WriteServerMessage(conn, ws.OpText, []byte(hello))
		out <- conn
	}()
	return out
}

func serverSend(t *testing.T, conn net.Conn, frame string) {
	t.Helper()
	if err := wsutil.WriteServerMessage(conn, ws.OpText, []byte(frame)); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func serverRead(t *testing.T, conn net.Conn) GatewaySendPayload {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		msg, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			t.Fatalf("server read: %v", err)
		}
		if op != ws.OpText {
			continue
		}
		var payload GatewaySendPayload
		if err := sonic.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("server unmarshal: %v", err)
		}
		return payload
	}
}

const testHello = `{"op":10,"d":{"heartbeat_interval":41250}}`

func TestConnect_HelloIdentifyReady(t *testing.T) {
	fake := newFakeGatewayServer(t)
	greeted := fake.acceptAndGreet(testHello)

	handle, err := Connect(t.Context(), fake.url(), "tok")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close()

	if handle.State() != GatewayIdentifying {
		t.Fatalf("state after hello = %d, want identifying", handle.State())
	}

	// Track READY deliveries before identifying.
	readyCount := 0
	handle.Events().Ready.Subscribe(ObserverFunc[ReadyEvent](func(ReadyEvent) { readyCount++ }))
	observer, readyCh := NewOneshotObserver[ReadyEvent]()
	handle.Events().Ready.Subscribe(observer)

	if err := handle.SendIdentify(IdentifyData{Token: "tok", Properties: MinimalProperties()}); err != nil {
		t.Fatalf("identify: %v", err)
	}

	serverConn := <-greeted
	defer serverConn.Close()

	identify := serverRead(t, serverConn)
	if identify.Op != GatewayOpIdentify {
		t.Fatalf("first client frame op = %d, want identify", identify.Op)
	}
	var identifyData IdentifyData
	if err := sonic.Unmarshal(identify.Data, &identifyData); err != nil {
		t.Fatalf("identify payload: %v", err)
	}
	if identifyData.Token != "tok" || identifyData.Properties.OS == "" {
		t.Fatalf("identify payload incomplete: %+v", identifyData)
	}

	serverSend(t, serverConn, `{"op":0,"t":"READY","s":1,"d":{"v":9,"user":{"id":"100","username":"me"},"session_id":"sess-1","guilds":[{"id":"200","name":"g","roles":[{"id":"300","name":"everyone"}]}]}}`)

	select {
	case ready := <-readyCh:
		if ready.SessionID != "sess-1" || ready.User.ID != 100 {
			t.Fatalf("ready payload wrong: %+v", ready)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no ready event")
	}

	if readyCount != 1 {
		t.Fatalf("READY delivered %d times, want exactly once", readyCount)
	}
	if handle.State() != GatewayReady {
		t.Fatalf("state after ready = %d", handle.State())
	}
	if handle.SessionID() != "sess-1" {
		t.Fatalf("session id = %q", handle.SessionID())
	}
	if handle.Sequence() != 1 {
		t.Fatalf("sequence = %d", handle.Sequence())
	}
	if handle.Store().Get(100) == nil || handle.Store().Get(200) == nil || handle.Store().Get(300) == nil {
		t.Fatal("ready did not populate the store")
	}
}

func TestConnect_NonHelloFirstFrame(t *testing.T) {
	fake := newFakeGatewayServer(t)

	go func() {
		conn := <-fake.conns
		wsutil.WriteServerMessage(conn, ws.OpText, []byte(`{"op":11,"d":null}`))
	}()

	_, err := Connect(t.Context(), fake.url(), "tok")
	nonHello, ok := err.(*NonHelloOnInitiateError)
	if !ok {
		t.Fatalf("expected NonHelloOnInitiateError, got %v", err)
	}
	if nonHello.Opcode != GatewayOpHeartbeatAck {
		t.Fatalf("reported opcode = %d", nonHello.Opcode)
	}
}

func TestConnect_ZeroHeartbeatIntervalRejected(t *testing.T) {
	fake := newFakeGatewayServer(t)

	go func() {
		conn := <-fake.conns
		wsutil.WriteServerMessage(conn, ws.OpText, []byte(`{"op":10,"d":{"heartbeat_interval":0}}`))
	}()

	if _, err := Connect(t.Context(), fake.url(), "tok"); err != ErrZeroHeartbeatInterval {
		t.Fatalf("expected zero-interval rejection, got %v", err)
	}
}

func TestGateway_ZeroLengthFrameIgnored(t *testing.T) {
	fake := newFakeGatewayServer(t)
	greeted := fake.acceptAndGreet(testHello)

	handle, err := Connect(t.Context(), fake.url(), "tok")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close()

	observer, createCh := NewOneshotObserver[MessageCreateEvent]()
	handle.Events().MessageCreate.Subscribe(observer)

	serverConn := <-greeted
	defer serverConn.Close()

	serverSend(t, serverConn, "")
	serverSend(t, serverConn, `{"op":0,"t":"MESSAGE_CREATE","s":1,"d":{"id":"1","channel_id":"2","content":"still alive"}}`)

	select {
	case msg := <-createCh:
		if msg.Content != "still alive" {
			t.Fatalf("wrong message: %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch stopped after a zero-length frame")
	}
}

func TestGateway_StoreCoalescingAcrossEvents(t *testing.T) {
	fake := newFakeGatewayServer(t)
	greeted := fake.acceptAndGreet(testHello)

	handle, err := Connect(t.Context(), fake.url(), "tok")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close()

	observer, roleCh := NewOneshotObserver[GuildRoleUpdateEvent]()
	handle.Events().GuildRoleUpdate.Subscribe(observer)

	serverConn := <-greeted
	defer serverConn.Close()

	serverSend(t, serverConn, `{"op":0,"t":"GUILD_CREATE","s":1,"d":{"id":"200","name":"g","roles":[]}}`)
	serverSend(t, serverConn, `{"op":0,"t":"GUILD_ROLE_UPDATE","s":2,"d":{"guild_id":"200","role":{"id":"300","name":"mods"}}}`)

	select {
	case <-roleCh:
	case <-time.After(5 * time.Second):
		t.Fatal("no role update event")
	}

	// The guild cell's role list contains the new role, visible before the
	// subscriber ran (the store updates ahead of notification).
	guildCell := handle.Store().Get(200)
	if guildCell == nil {
		t.Fatal("guild not in store")
	}
	found := false
	guildCell.View(func(e Entity) {
		for _, r := range e.(*Guild).Roles {
			if r.ID == 300 {
				found = true
			}
		}
	})
	if !found {
		t.Fatal("role update did not land in the guild cell")
	}

	// A second observe of the guild returns the same cell instance.
	if again := handle.Observe(&Guild{ID: 200}); again != guildCell {
		t.Fatal("observe returned a different cell for a known id")
	}
}

func TestGateway_HeartbeatProtocol(t *testing.T) {
	fake := newFakeGatewayServer(t)
	// Short interval so the test observes beats quickly.
	greeted := fake.acceptAndGreet(`{"op":10,"d":{"heartbeat_interval":150}}`)

	handle, err := Connect(t.Context(), fake.url(), "tok")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close()

	serverConn := <-greeted
	defer serverConn.Close()

	beat := serverRead(t, serverConn)
	if beat.Op != GatewayOpHeartbeat {
		t.Fatalf("expected heartbeat, got op %d", beat.Op)
	}
	serverSend(t, serverConn, `{"op":11,"d":null}`)

	// A server heartbeat request forces an immediate beat carrying the
	// latest sequence number.
	serverSend(t, serverConn, `{"op":0,"t":"RESUMED","s":7,"d":{}}`)
	serverSend(t, serverConn, `{"op":1,"d":null}`)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("no heartbeat with updated sequence arrived")
		}
		beat = serverRead(t, serverConn)
		if beat.Op != GatewayOpHeartbeat {
			continue
		}
		var seq *uint64
		if err := sonic.Unmarshal(beat.Data, &seq); err != nil {
			t.Fatalf("heartbeat payload: %v", err)
		}
		if seq != nil && *seq == 7 {
			return
		}
	}
}

func TestGateway_ReconnectResumes(t *testing.T) {
	fake := newFakeGatewayServer(t)
	greeted := fake.acceptAndGreet(testHello)

	handle, err := Connect(t.Context(), fake.url(), "tok")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close()

	observer, resumedCh := NewOneshotObserver[ResumedEvent]()
	handle.Events().Resumed.Subscribe(observer)

	first := <-greeted
	serverSend(t, first, `{"op":0,"t":"READY","s":1,"d":{"v":9,"user":{"id":"100","username":"me"},"session_id":"sess-1","guilds":[]}}`)
	// Ask the client to reconnect and resume.
	serverSend(t, first, `{"op":7,"d":null}`)
	first.Close()

	// The client dials again; greet it and expect a Resume.
	second := fake.accept(t)
	defer second.Close()
	serverSend(t, second, testHello)

	resume := serverRead(t, second)
	if resume.Op != GatewayOpResume {
		t.Fatalf("expected resume after reconnect, got op %d", resume.Op)
	}
	var resumeData struct {
		Token     string `json:"token"`
		SessionID string `json:"session_id"`
		Seq       uint64 `json:"seq"`
	}
	if err := sonic.Unmarshal(resume.Data, &resumeData); err != nil {
		t.Fatalf("resume payload: %v", err)
	}
	if resumeData.Token != "tok" || resumeData.SessionID != "sess-1" || resumeData.Seq != 1 {
		t.Fatalf("resume payload wrong: %+v", resumeData)
	}

	serverSend(t, second, `{"op":0,"t":"RESUMED","s":2,"d":{}}`)
	select {
	case <-resumedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("no resumed event after replay")
	}
	if handle.State() != GatewayReady {
		t.Fatalf("state after resume = %d", handle.State())
	}
}

func TestGateway_FatalCloseEmitsErrorAndShutsDown(t *testing.T) {
	fake := newFakeGatewayServer(t)
	greeted := fake.acceptAndGreet(testHello)

	handle, err := Connect(t.Context(), fake.url(), "tok")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	observer, errCh := NewOneshotObserver[GatewayErrorEvent]()
	handle.Events().Error.Subscribe(observer)

	serverConn := <-greeted
	defer serverConn.Close()
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(GatewayCloseAuthenticationFailed), "authentication failed"))
	if err := ws.WriteFrame(serverConn, frame); err != nil {
		t.Fatalf("close frame: %v", err)
	}

	select {
	case ev := <-errCh:
		if ev.CloseCode != GatewayCloseAuthenticationFailed || !ev.Fatal {
			t.Fatalf("wrong error event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no error event for the close code")
	}

	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("fatal close did not shut the gateway down")
	}
}
