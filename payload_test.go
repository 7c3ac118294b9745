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
	"testing"

	"github.com/bytedance/sonic"
)

func TestGatewaySendPayload_RoundTrip(t *testing.T) {
	ops := []int{
		GatewayOpHeartbeat, GatewayOpIdentify, GatewayOpPresenceUpdate,
		GatewayOpVoiceStateUpdate, GatewayOpResume, GatewayOpRequestGuildMembers,
		GatewayOpCallSync, GatewayOpLazyRequest,
	}
	seq := uint64(312)

	for _, op := range ops {
		original := GatewaySendPayload{
			Op:       op,
			Data:     []byte(`{"k":"v"}`),
			Sequence: &seq,
		}
		raw, err := sonic.Marshal(original)
		if err != nil {
			t.Fatalf("op %d marshal: %v", op, err)
		}

		var back GatewaySendPayload
		if err := sonic.Unmarshal(raw, &back); err != nil {
			t.Fatalf("op %d unmarshal: %v", op, err)
		}
		if back.Op != original.Op || !bytes.Equal(back.Data, original.Data) {
			t.Fatalf("op %d round trip mismatch: %+v", op, back)
		}
		if back.Sequence == nil || *back.Sequence != seq {
			t.Fatalf("op %d lost sequence", op)
		}
	}
}

func TestVoiceSendPayload_RoundTrip(t *testing.T) {
	ops := []int{
		VoiceOpIdentify, VoiceOpSelectProtocol, VoiceOpHeartbeat,
		VoiceOpSpeaking, VoiceOpResume, VoiceOpBackendVersion,
	}
	for _, op := range ops {
		original := VoiceSendPayload{Op: op, Data: []byte(`{"nonce":17}`)}
		raw, err := sonic.Marshal(original)
		if err != nil {
			t.Fatalf("op %d marshal: %v", op, err)
		}

		var back VoiceSendPayload
		if err := sonic.Unmarshal(raw, &back); err != nil {
			t.Fatalf("op %d unmarshal: %v", op, err)
		}
		if back.Op != original.Op || !bytes.Equal(back.Data, original.Data) {
			t.Fatalf("op %d round trip mismatch: %+v", op, back)
		}
	}
}

func TestGatewayReceivePayload_LazyData(t *testing.T) {
	raw := []byte(`{"op":0,"t":"MESSAGE_CREATE","s":42,"d":{"id":"7","channel_id":"8","content":"hi"}}`)

	var payload GatewayReceivePayload
	if err := sonic.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Op != GatewayOpDispatch || payload.EventName != "MESSAGE_CREATE" {
		t.Fatalf("envelope fields wrong: %+v", payload)
	}
	if payload.Sequence == nil || *payload.Sequence != 42 {
		t.Fatal("sequence lost")
	}

	// d stays raw until the dispatcher resolves t.
	var msg Message
	if err := sonic.Unmarshal(payload.Data, &msg); err != nil {
		t.Fatalf("lazy decode: %v", err)
	}
	if msg.ID != 7 || msg.Content != "hi" {
		t.Fatalf("payload decode wrong: %+v", msg)
	}
}
