// parser.go - inbound byte stream parsing.
// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

package ryder

// onLinkData is the transport's delivery of inbound bytes. One delivery
// may pack several replies; the loop consumes them all in order, so the
// result is the same as if each sub-sequence had arrived separately.
func (e *Engine) onLinkData(t Transport, p []byte) {
	e.mu.Lock()
	if t != e.transport {
		e.mu.Unlock()
		return
	}
	e.consumeLocked(p)
	e.unlockAndFlush()
}

func (e *Engine) consumeLocked(data []byte) {
	// Any inbound byte ends a WAIT_USER_CONFIRM suspension.
	e.wdSuspended = false

	for len(data) > 0 {
		switch e.state {
		case StateIdle:
			// Nothing in flight wants these bytes. The device can
			// emit stragglers after a watchdog already failed the
			// exchange they belonged to.
			e.log.Debugf("dropping %d unsolicited bytes", len(data))
			data = nil

		case StateSending:
			b := data[0]
			data = data[1:]
			e.replyByteLocked(b)

		case StateReading:
			b := data[0]
			data = data[1:]
			if e.payloadByteLocked(b) {
				// OUTPUT_END closes the device's framing; anything
				// after it in this delivery is discarded.
				if len(data) > 0 {
					e.log.Debugf("discarding %d bytes after OUTPUT_END", len(data))
				}
				data = nil
			}
		}
	}

	switch {
	case e.state == StateIdle:
		e.stopWatchdogLocked()
	case e.wdSuspended:
		// The device is waiting on the user; silence is expected.
		e.stopWatchdogLocked()
	default:
		e.armWatchdogLocked()
	}
}

// replyByteLocked classifies one status byte while Sending.
func (e *Engine) replyByteLocked(b byte) {
	switch {
	case b == StatusOK || b == StatusSendInput || b == StatusRejected:
		e.log.Debugf("reply %s", StatusName(b))
		e.completeHeadLocked(Reply{Status: b})

	case b == StatusOutputBegin:
		e.state = StateReading

	case b == StatusWaitUserConfirm:
		e.log.Debugf("device waiting for user confirmation")
		e.wdSuspended = true
		e.emitLocked(EventWaitUserConfirm, nil)

	case b == StatusLocked:
		e.log.Debugf("device is locked")
		e.emitLocked(EventLocked, nil)
		if e.opts.RejectOnLocked {
			e.stopWatchdogLocked()
			e.queue.failAll(ErrLocked)
			e.state = StateIdle
		}
		// Otherwise the byte is consumed and the in-flight exchange
		// stays pending; a later terminal byte completes it.

	case IsDeviceError(b):
		e.log.Debugf("device error %s", StatusName(b))
		e.failHeadLocked(&DeviceError{Code: b})

	default:
		e.log.Warnf("unknown response byte 0x%02x", b)
		e.failHeadLocked(newUnknownResponseError(b))
	}
}

// payloadByteLocked consumes one output payload byte while Reading and
// reports whether the payload is complete.
func (e *Engine) payloadByteLocked(b byte) bool {
	head := e.queue.peekHead()
	switch {
	case head.prevWasEscape:
		head.prevWasEscape = false
		head.output = append(head.output, b)

	case b == StatusEscape:
		head.prevWasEscape = true

	case b == StatusOutputEnd:
		data := make([]byte, len(head.output))
		copy(data, head.output)
		e.completeHeadLocked(Reply{Status: StatusOutputEnd, Data: data})
		return true

	default:
		head.output = append(head.output, b)
	}
	return false
}
