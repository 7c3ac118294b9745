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
	"bytes"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

// TestVoiceHandler_EndToEnd walks the whole voice handshake: the main
// gateway delivers READY and VOICE_SERVER_UPDATE, the handler opens the
// voice gateway and identifies, voice Ready triggers UDP spawn plus IP
// discovery, SelectProtocol carries the discovered address, and after
// SessionDescription the UDP handle produces RTP the server can decrypt.
func TestVoiceHandler_EndToEnd(t *testing.T) {
	mainFake := newFakeGatewayServer(t)
	voiceFake := newFakeGatewayServer(t)

	udpServer, udpAddr := fakeVoiceServer(t)
	defer udpServer.Close()
	udpHost, udpPortStr, _ := net.SplitHostPort(udpAddr)
	var udpPort int
	fmt.Sscanf(udpPortStr, "%d", &udpPort)

	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	keyJSON, _ := sonic.Marshal(key)

	// UDP side: answer discovery, then capture one RTP datagram.
	rtpCh := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 1500)
		n, peer, err := udpServer.ReadFromUDP(buf)
		if err != nil {
			return
		}
		_, ssrc, _, _, _ := parseIPDiscovery(buf[:n])
		udpServer.WriteToUDP(marshalIPDiscovery(ipDiscoveryResponse, ssrc, "203.0.113.7", 40000), peer)

		n, _, err = udpServer.ReadFromUDP(buf)
		if err != nil {
			return
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		rtpCh <- packet
	}()

	// Main gateway side.
	mainGreeted := mainFake.acceptAndGreet(testHello)
	handle, err := Connect(t.Context(), mainFake.url(), "tok")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close()

	handler := NewVoiceHandler(WithVoiceHandlerDialer(testVoiceDialer(voiceFake)))
	handler.Register(handle)
	defer handler.Detach()

	voiceGreeted := voiceFake.acceptAndGreet(`{"op":8,"d":{"heartbeat_interval":41250.0}}`)

	mainConn := <-mainGreeted
	defer mainConn.Close()

	serverSend(t, mainConn, `{"op":0,"t":"READY","s":1,"d":{"v":9,"user":{"id":"100","username":"me"},"session_id":"sess-1","guilds":[]}}`)
	serverSend(t, mainConn, `{"op":0,"t":"VOICE_STATE_UPDATE","s":2,"d":{"user_id":"100","channel_id":"55","session_id":"voice-sess"}}`)
	serverSend(t, mainConn, `{"op":0,"t":"VOICE_SERVER_UPDATE","s":3,"d":{"token":"vt","guild_id":"9","endpoint":"v.x"}}`)

	voiceConn := <-voiceGreeted
	defer voiceConn.Close()

	identify := voiceServerRead(t, voiceConn)
	if identify.Op != VoiceOpIdentify {
		t.Fatalf("voice frame op = %d, want identify", identify.Op)
	}
	var identifyData VoiceIdentifyData
	if err := sonic.Unmarshal(identify.Data, &identifyData); err != nil {
		t.Fatalf("identify payload: %v", err)
	}
	if identifyData.ServerID != 9 || identifyData.UserID != 100 ||
		identifyData.SessionID != "voice-sess" || identifyData.Token != "vt" {
		t.Fatalf("voice identify wrong: %+v", identifyData)
	}

	// Voice Ready points the client at the fake UDP server.
	serverSend(t, voiceConn, fmt.Sprintf(
		`{"op":2,"d":{"ssrc":42,"ip":"%s","port":%d,"modes":["xsalsa20_poly1305"]}}`,
		udpHost, udpPort,
	))

	selectProtocol := voiceServerRead(t, voiceConn)
	if selectProtocol.Op != VoiceOpSelectProtocol {
		t.Fatalf("expected select protocol, got op %d", selectProtocol.Op)
	}
	var selected SelectProtocolData
	if err := sonic.Unmarshal(selectProtocol.Data, &selected); err != nil {
		t.Fatalf("select protocol payload: %v", err)
	}
	if selected.Protocol != "udp" {
		t.Fatalf("protocol = %q", selected.Protocol)
	}
	if selected.Data.Address != "203.0.113.7" || selected.Data.Port != 40000 {
		t.Fatalf("discovered address not nominated: %+v", selected.Data)
	}
	if selected.Data.Mode != EncryptionModeXSalsa20Poly1305 {
		t.Fatalf("mode = %s", selected.Data.Mode)
	}

	serverSend(t, voiceConn, fmt.Sprintf(
		`{"op":4,"d":{"mode":"xsalsa20_poly1305","secret_key":%s}}`, keyJSON,
	))

	// Wait for the key to land, then stream.
	deadline := time.Now().Add(5 * time.Second)
	for handler.Data().SessionDescription() == nil {
		if time.Now().After(deadline) {
			t.Fatal("session description never installed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	udp := handler.UDP()
	if udp == nil {
		t.Fatal("udp handle missing after voice ready")
	}
	opus := []byte("end to end opus")
	if err := udp.SendOpusData(960, opus); err != nil {
		t.Fatalf("send opus: %v", err)
	}

	select {
	case datagram := <-rtpCh:
		header := datagram[:rtpHeaderSize]
		payload, err := openRTP(EncryptionModeXSalsa20Poly1305, &key, header, datagram[rtpHeaderSize:])
		if err != nil {
			t.Fatalf("server could not decrypt: %v", err)
		}
		if !bytes.Equal(payload, opus) {
			t.Fatalf("payload mismatch: %q", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no rtp reached the voice server")
	}
}

func TestVoiceHandler_LeaveTearsDown(t *testing.T) {
	handler := NewVoiceHandler()
	handler.Data().SetIdentity(100, "sess")
	handler.Data().SetSessionDescription(SessionDescriptionData{Mode: EncryptionModeXSalsa20Poly1305})

	// Leave without a registered gateway still clears negotiated state.
	handler.Leave(nil)
	if handler.Data().SessionDescription() != nil {
		t.Fatal("teardown kept the session description")
	}
	userID, sessionID := handler.Data().Identity()
	if userID != 100 || sessionID != "sess" {
		t.Fatal("teardown should keep the identity")
	}
}
