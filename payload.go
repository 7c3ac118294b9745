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
	"encoding/json"

	"github.com/bytedance/sonic"
)

/*****************************
 *    Main gateway opcodes
 *****************************/

// Main gateway opcodes. Anything outside this set is logged and ignored.
const (
	GatewayOpDispatch            = 0
	GatewayOpHeartbeat           = 1
	GatewayOpIdentify            = 2
	GatewayOpPresenceUpdate      = 3
	GatewayOpVoiceStateUpdate    = 4
	GatewayOpResume              = 6
	GatewayOpReconnect           = 7
	GatewayOpRequestGuildMembers = 8
	GatewayOpInvalidSession      = 9
	GatewayOpHello               = 10
	GatewayOpHeartbeatAck        = 11
	GatewayOpCallSync            = 13
	GatewayOpLazyRequest         = 14
)

/*****************************
 *    Voice gateway opcodes
 *****************************/

// Voice gateway opcodes, a namespace distinct from the main gateway's.
const (
	VoiceOpIdentify              = 0
	VoiceOpSelectProtocol        = 1
	VoiceOpReady                 = 2
	VoiceOpHeartbeat             = 3
	VoiceOpSessionDescription    = 4
	VoiceOpSpeaking              = 5
	VoiceOpHeartbeatAck          = 6
	VoiceOpResume                = 7
	VoiceOpHello                 = 8
	VoiceOpResumed               = 9
	VoiceOpSsrcDefinition        = 12
	VoiceOpClientDisconnect      = 13
	VoiceOpSessionUpdate         = 14
	VoiceOpMediaSinkWants        = 15
	VoiceOpBackendVersion        = 16
	VoiceOpClientConnectFlags    = 18
	VoiceOpClientConnectPlatform = 20
)

/*****************************
 *        Envelopes
 *****************************/

// GatewaySendPayload is the envelope for frames the client writes to the
// main gateway.
type GatewaySendPayload struct {
	Op       int             `json:"op"`
	Data     json.RawMessage `json:"d"`
	Sequence *uint64         `json:"s,omitempty"`
}

// GatewayReceivePayload is the envelope for frames read from the main
// gateway. Data stays raw until the dispatcher resolves the event name.
type GatewayReceivePayload struct {
	Op        int                    `json:"op"`
	Data      json.RawMessage `json:"d"`
	Sequence  *uint64                `json:"s"`
	EventName string                 `json:"t"`
}

// VoiceSendPayload is the envelope for frames written to the voice gateway.
// Voice frames carry no sequence number or event name.
type VoiceSendPayload struct {
	Op   int                    `json:"op"`
	Data json.RawMessage `json:"d"`
}

// VoiceReceivePayload is the envelope for frames read from the voice gateway.
type VoiceReceivePayload struct {
	Op   int                    `json:"op"`
	Data json.RawMessage `json:"d"`
}

// encodeGatewayPayload wraps already-serialized data in a send envelope.
func encodeGatewayPayload(op int, data []byte, seq *uint64) ([]byte, error) {
	return sonic.Marshal(GatewaySendPayload{Op: op, Data: data, Sequence: seq})
}

// encodeVoicePayload wraps already-serialized data in a voice send envelope.
func encodeVoicePayload(op int, data []byte) ([]byte, error) {
	return sonic.Marshal(VoiceSendPayload{Op: op, Data: data})
}
