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
	"crypto/rand"
	"encoding/binary"

	"golang.org/x/crypto/nacl/secretbox"
)

// EncryptionMode names a voice payload protection scheme. The closed set
// matches what instances advertise in voice Ready.
type EncryptionMode string

const (
	// EncryptionModeXSalsa20Poly1305 derives the nonce from the first 24
	// bytes of the RTP header, zero padded. Every instance supports it.
	EncryptionModeXSalsa20Poly1305 EncryptionMode = "xsalsa20_poly1305"

	// EncryptionModeXSalsa20Poly1305Suffix appends a random 24-byte nonce
	// to the ciphertext.
	EncryptionModeXSalsa20Poly1305Suffix EncryptionMode = "xsalsa20_poly1305_suffix"

	// EncryptionModeXSalsa20Poly1305Lite appends a 4-byte big-endian
	// counter to the ciphertext; the nonce is the counter zero padded.
	EncryptionModeXSalsa20Poly1305Lite EncryptionMode = "xsalsa20_poly1305_lite"

	// Acknowledged but unimplemented modes; negotiating one of these fails
	// with ErrUnknownEncryptionMode.
	EncryptionModeAes256Gcm                EncryptionMode = "aead_aes256_gcm"
	EncryptionModeAes256GcmRtpSize         EncryptionMode = "aead_aes256_gcm_rtpsize"
	EncryptionModeXChaCha20Poly1305RtpSize EncryptionMode = "aead_xchacha20_poly1305_rtpsize"
)

// Implemented reports whether this library can seal and open with the mode.
func (m EncryptionMode) Implemented() bool {
	switch m {
	case EncryptionModeXSalsa20Poly1305,
		EncryptionModeXSalsa20Poly1305Suffix,
		EncryptionModeXSalsa20Poly1305Lite:
		return true
	}
	return false
}

// PreferredEncryptionMode picks the mode to nominate in SelectProtocol from
// the server's offer: xsalsa20_poly1305 when offered, else the first
// implemented mode. Returns ErrUnknownEncryptionMode when nothing matches.
func PreferredEncryptionMode(offered []EncryptionMode) (EncryptionMode, error) {
	for _, m := range offered {
		if m == EncryptionModeXSalsa20Poly1305 {
			return m, nil
		}
	}
	for _, m := range offered {
		if m.Implemented() {
			return m, nil
		}
	}
	return "", ErrUnknownEncryptionMode
}

// headerNonce builds the classic-mode nonce: the RTP header left-aligned in
// 24 bytes, right padded with zeros.
func headerNonce(header []byte) [24]byte {
	var nonce [24]byte
	copy(nonce[:], header)
	return nonce
}

// counterNonce builds the lite-mode nonce from a 4-byte big-endian counter.
func counterNonce(counter uint32) [24]byte {
	var nonce [24]byte
	binary.BigEndian.PutUint32(nonce[:4], counter)
	return nonce
}

// sealRTP encrypts a payload under the negotiated mode and returns the full
// datagram: the cleartext RTP header, the ciphertext, and any trailing nonce
// material the mode calls for. liteCounter supplies the lite-mode counter
// value for this packet; other modes ignore it.
func sealRTP(mode EncryptionMode, key *[32]byte, header, payload []byte, liteCounter uint32) ([]byte, error) {
	switch mode {
	case EncryptionModeXSalsa20Poly1305:
		nonce := headerNonce(header)
		return secretbox.Seal(header, payload, &nonce, key), nil

	case EncryptionModeXSalsa20Poly1305Suffix:
		var nonce [24]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, err
		}
		out := secretbox.Seal(header, payload, &nonce, key)
		return append(out, nonce[:]...), nil

	case EncryptionModeXSalsa20Poly1305Lite:
		nonce := counterNonce(liteCounter)
		out := secretbox.Seal(header, payload, &nonce, key)
		return append(out, nonce[:4]...), nil

	default:
		return nil, ErrUnknownEncryptionMode
	}
}

// openRTP decrypts a received datagram's payload. The header argument is the
// cleartext 12-byte RTP header, body everything after it.
func openRTP(mode EncryptionMode, key *[32]byte, header, body []byte) ([]byte, error) {
	var (
		nonce      [24]byte
		ciphertext []byte
	)

	switch mode {
	case EncryptionModeXSalsa20Poly1305:
		nonce = headerNonce(header)
		ciphertext = body

	case EncryptionModeXSalsa20Poly1305Suffix:
		if len(body) < 24 {
			return nil, errDecryptFailed
		}
		copy(nonce[:], body[len(body)-24:])
		ciphertext = body[:len(body)-24]

	case EncryptionModeXSalsa20Poly1305Lite:
		if len(body) < 4 {
			return nil, errDecryptFailed
		}
		copy(nonce[:4], body[len(body)-4:])
		ciphertext = body[:len(body)-4]

	default:
		return nil, ErrUnknownEncryptionMode
	}

	payload, ok := secretbox.Open(nil, ciphertext, &nonce, key)
	if !ok {
		return nil, errDecryptFailed
	}
	return payload, nil
}
