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
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// RTP wire constants for this profile: a bare 12-byte header carrying the
// dynamic Opus payload type.
const (
	rtpHeaderSize     = 12
	rtpVersion        = 2
	rtpPayloadTypeOpus = 120
)

// IP discovery packet layout, bit-exact: 74 bytes total.
const (
	ipDiscoverySize     = 74
	ipDiscoveryLength   = 70
	ipDiscoveryRequest  = 1
	ipDiscoveryResponse = 2
)

/*****************************
 *     IP discovery codec
 *****************************/

// marshalIPDiscovery builds a 74-byte discovery packet: big-endian type and
// length, the ssrc, a 64-byte zero-padded null-terminated address, and the
// port.
func marshalIPDiscovery(pktType uint16, ssrc uint32, address string, port uint16) []byte {
	buf := make([]byte, ipDiscoverySize)
	binary.BigEndian.PutUint16(buf[0:2], pktType)
	binary.BigEndian.PutUint16(buf[2:4], ipDiscoveryLength)
	binary.BigEndian.PutUint32(buf[4:8], ssrc)
	copy(buf[8:71], address)
	binary.BigEndian.PutUint16(buf[72:74], port)
	return buf
}

// parseIPDiscovery decodes a 74-byte discovery packet.
func parseIPDiscovery(buf []byte) (pktType uint16, ssrc uint32, address string, port uint16, err error) {
	if len(buf) < ipDiscoverySize {
		return 0, 0, "", 0, fmt.Errorf("ip discovery packet too short: %d bytes", len(buf))
	}
	pktType = binary.BigEndian.Uint16(buf[0:2])
	ssrc = binary.BigEndian.Uint32(buf[4:8])
	raw := buf[8:72]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	address = string(raw)
	port = binary.BigEndian.Uint16(buf[72:74])
	return pktType, ssrc, address, port, nil
}

/*****************************
 *        RTP framing
 *****************************/

// buildRTPHeader writes the fixed 12-byte header: version 2, no padding, no
// extension, no csrc, no marker, payload type 120.
func buildRTPHeader(sequence uint16, timestamp, ssrc uint32) []byte {
	header := make([]byte, rtpHeaderSize)
	header[0] = rtpVersion << 6
	header[1] = rtpPayloadTypeOpus
	binary.BigEndian.PutUint16(header[2:4], sequence)
	binary.BigEndian.PutUint32(header[4:8], timestamp)
	binary.BigEndian.PutUint32(header[8:12], ssrc)
	return header
}

// RTPPacket is a decrypted inbound RTP packet published on the UDP bus.
type RTPPacket struct {
	Sequence  uint16
	Timestamp uint32
	Ssrc      uint32
	Payload   []byte
}

// RTCPPacket is an inbound RTCP report published on the UDP bus.
type RTCPPacket struct {
	PacketType uint8
	Raw        []byte
}

// VoiceUDPEvents is the per-voice-session UDP event bus.
type VoiceUDPEvents struct {
	RTP  Publisher[RTPPacket]
	RTCP Publisher[RTCPPacket]
}

/*****************************
 *        UDP handle
 *****************************/

// UDPHandle is a cloneable reference to a running voice UDP task: it owns
// the socket, the shared voice data and the UDP event bus. Spawn one with
// SpawnUDP after voice Ready delivers the server address.
type UDPHandle struct {
	socket net.Conn
	data   *VoiceData
	events *VoiceUDPEvents
	logger zerolog.Logger

	stop     chan struct{}
	stopOnce *sync.Once

	liteCounter *atomic.Uint32
}

// SpawnUDP binds a local UDP socket, connects it to the voice server,
// performs the IP discovery round trip (stored into data) and starts the
// listener task.
func SpawnUDP(data *VoiceData, serverAddr string, ssrc uint32, logger zerolog.Logger) (*UDPHandle, error) {
	socket, err := net.Dial("udp", serverAddr)
	if err != nil {
		return nil, &CannotConnectError{Err: err}
	}

	h := &UDPHandle{
		socket:      socket,
		data:        data,
		events:      &VoiceUDPEvents{},
		logger:      logger.With().Str("component", "vudp").Logger(),
		stop:        make(chan struct{}),
		stopOnce:    &sync.Once{},
		liteCounter: &atomic.Uint32{},
	}

	if err := h.discover(ssrc); err != nil {
		socket.Close()
		return nil, err
	}

	go h.listen()
	return h, nil
}

// discover runs the IP discovery round trip and stores the result.
func (h *UDPHandle) discover(ssrc uint32) error {
	request := marshalIPDiscovery(ipDiscoveryRequest, ssrc, "", 0)
	if _, err := h.socket.Write(request); err != nil {
		return &CannotConnectError{Err: err}
	}

	buf := make([]byte, ipDiscoverySize)
	h.socket.SetReadDeadline(time.Now().Add(10 * time.Second))
	n, err := h.socket.Read(buf)
	h.socket.SetReadDeadline(time.Time{})
	if err != nil {
		return &CannotConnectError{Err: err}
	}
	pktType, gotSsrc, address, port, err := parseIPDiscovery(buf[:n])
	if err != nil {
		return err
	}
	if pktType != ipDiscoveryResponse {
		return fmt.Errorf("unexpected ip discovery packet type %d", pktType)
	}

	h.logger.Debug().Str("address", address).Uint16("port", port).Msg("ip discovery complete")
	h.data.SetIPDiscovery(IPDiscoveryResult{Address: address, Port: port, Ssrc: gotSsrc})
	return nil
}

// Events returns the UDP event bus.
func (h *UDPHandle) Events() *VoiceUDPEvents { return h.events }

// SendOpusData allocates the next sequence number, frames the payload as
// RTP, encrypts it under the negotiated mode and sends one datagram.
func (h *UDPHandle) SendOpusData(timestamp uint32, payload []byte) error {
	ready := h.data.Ready()
	if ready == nil {
		return ErrNoEncryptionKey
	}
	session := h.data.SessionDescription()
	if session == nil {
		return ErrNoEncryptionKey
	}

	sequence := h.data.NextSequence()
	header := buildRTPHeader(sequence, timestamp, ready.Ssrc)

	datagram, err := sealRTP(session.Mode, &session.SecretKey, header, payload, h.liteCounter.Add(1))
	if err != nil {
		return err
	}
	_, err = h.socket.Write(datagram)
	return err
}

// listen is the UDP reader task: demultiplex each datagram as RTP, RTCP or
// malformed; decrypt RTP and publish on the bus. Decryption failures are
// logged and the packet dropped.
func (h *UDPHandle) listen() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-h.stop:
			return
		default:
		}

		n, err := h.socket.Read(buf)
		if err != nil {
			select {
			case <-h.stop:
			default:
				h.logger.Warn().Err(err).Msg("voice udp read failed, stopping listener")
			}
			return
		}
		h.handleDatagram(buf[:n])
	}
}

// handleDatagram routes one received datagram.
func (h *UDPHandle) handleDatagram(buf []byte) {
	if len(buf) < 8 {
		h.logger.Debug().Int("len", len(buf)).Msg("malformed datagram, dropping")
		return
	}
	if buf[0]>>6 != rtpVersion {
		h.logger.Debug().Msg("datagram is not rtp version 2, dropping")
		return
	}

	// RTCP packet types occupy 192-223 in the second byte; everything else
	// with a valid version nibble is RTP.
	if buf[1] >= 192 && buf[1] <= 223 {
		raw := make([]byte, len(buf))
		copy(raw, buf)
		h.events.RTCP.Publish(RTCPPacket{PacketType: buf[1], Raw: raw})
		return
	}

	if len(buf) < rtpHeaderSize {
		h.logger.Debug().Int("len", len(buf)).Msg("short rtp datagram, dropping")
		return
	}

	session := h.data.SessionDescription()
	if session == nil {
		h.logger.Warn().Msg("received encrypted voice data before session description, cannot decrypt")
		return
	}

	header := make([]byte, rtpHeaderSize)
	copy(header, buf[:rtpHeaderSize])
	body := make([]byte, len(buf)-rtpHeaderSize)
	copy(body, buf[rtpHeaderSize:])

	payload, err := openRTP(session.Mode, &session.SecretKey, header, body)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to decrypt voice data, dropping packet")
		return
	}

	h.events.RTP.Publish(RTPPacket{
		Sequence:  binary.BigEndian.Uint16(header[2:4]),
		Timestamp: binary.BigEndian.Uint32(header[4:8]),
		Ssrc:      binary.BigEndian.Uint32(header[8:12]),
		Payload:   payload,
	})
}

// Close stops the listener and closes the socket. Idempotent.
func (h *UDPHandle) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.socket.Close()
		h.logger.Debug().Msg("voice udp closed")
	})
}
