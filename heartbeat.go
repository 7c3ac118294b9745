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
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// heartbeatAckTimeout is how long the heartbeat task waits for an ack before
// retransmitting; a second miss closes the connection for resume.
const heartbeatAckTimeout = 2000 * time.Millisecond

// heartbeatSignal is what the listener sends the heartbeat task: an observed
// opcode (heartbeat request or ack), a fresh sequence number, or both.
type heartbeatSignal struct {
	op     int
	hasOp  bool
	seq    uint64
	hasSeq bool
}

// heartbeatTask keeps one gateway connection alive. It sends opcode 1 every
// interval with the latest sequence number, tracks acks, retransmits once on
// a missed ack and asks the gateway to resume when the retransmit also goes
// unacknowledged.
//
// The task exits on the stop channel, on an unwritable sink, or after
// requesting a resume.
type heartbeatTask struct {
	sink     *frameSink
	interval time.Duration
	signals  chan heartbeatSignal
	stop     <-chan struct{}
	// onDead asks the owning gateway to close and resume.
	onDead func()
	logger zerolog.Logger

	// The opcode triple adapts the task to either gateway: the main gateway
	// beats with 1 and acks with 11, the voice gateway with 3 and 6. The
	// payload func keeps the two integers apart: the main gateway sends the
	// last sequence number, the voice gateway an increasing nonce.
	sendOp      int
	opHeartbeat int
	opAck       int
	payload     func(seq uint64, hasSeq bool) ([]byte, error)
}

// mainHeartbeatPayload serializes the last sequence number, or null before
// the first dispatch.
func mainHeartbeatPayload(seq uint64, hasSeq bool) ([]byte, error) {
	if !hasSeq {
		return []byte("null"), nil
	}
	return sonic.Marshal(seq)
}

func newHeartbeatTask(sink *frameSink, interval time.Duration, stop <-chan struct{}, onDead func(), logger zerolog.Logger) *heartbeatTask {
	return &heartbeatTask{
		sink:     sink,
		interval: interval,
		signals:  make(chan heartbeatSignal, 32),
		stop:     stop,
		onDead:   onDead,
		logger:   logger,

		sendOp:      GatewayOpHeartbeat,
		opHeartbeat: GatewayOpHeartbeat,
		opAck:       GatewayOpHeartbeatAck,
		payload:     mainHeartbeatPayload,
	}
}

// run is the heartbeat loop. It must be started on its own goroutine.
func (h *heartbeatTask) run() {
	var (
		seq          uint64
		hasSeq       bool
		acked        = true
		retried      bool
		timer        = time.NewTimer(h.interval)
	)
	defer timer.Stop()

	rearm := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if acked {
			timer.Reset(h.interval)
		} else {
			timer.Reset(heartbeatAckTimeout)
		}
	}

	send := func() bool {
		data, err := h.payload(seq, hasSeq)
		if err != nil {
			h.logger.Error().Err(err).Msg("heartbeat payload marshal failed")
			return false
		}
		frame, err := encodeGatewayPayload(h.sendOp, data, nil)
		if err != nil {
			h.logger.Error().Err(err).Msg("heartbeat frame marshal failed")
			return false
		}
		if err := h.sink.WriteText(frame); err != nil {
			h.logger.Warn().Err(err).Msg("heartbeat send failed, socket seems broken")
			return false
		}
		h.logger.Debug().Uint64("seq", seq).Msg("heartbeat sent")
		return true
	}

	for {
		select {
		case <-h.stop:
			h.logger.Debug().Msg("heartbeat task stopping")
			return

		case sig := <-h.signals:
			if sig.hasSeq {
				seq = sig.seq
				hasSeq = true
			}
			if sig.hasOp {
				switch sig.op {
				case h.opHeartbeat:
					// The server asked for an immediate heartbeat.
					if !send() {
						return
					}
					acked = false
					rearm()
				case h.opAck:
					acked = true
					retried = false
					rearm()
				}
			}

		case <-timer.C:
			if !acked {
				if retried {
					h.logger.Warn().Msg("heartbeat ack missed twice, requesting resume")
					if h.onDead != nil {
						h.onDead()
					}
					return
				}
				retried = true
				h.logger.Debug().Msg("heartbeat unacknowledged, retransmitting")
			}
			if !send() {
				return
			}
			acked = false
			rearm()
		}
	}
}

// signal forwards a heartbeat signal without ever blocking the listener.
func (h *heartbeatTask) signal(sig heartbeatSignal) {
	select {
	case h.signals <- sig:
	default:
		h.logger.Warn().Msg("heartbeat signal channel full, dropping")
	}
}
