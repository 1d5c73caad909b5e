// errors.go - engine error taxonomy.
// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

package ryder

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected is returned when an exchange is submitted while
	// the transport is not open, or when the link drops underneath the
	// in-flight exchange.
	ErrDisconnected = errors.New("ryder: not connected to device")

	// ErrWatchdog is returned when no inbound byte advanced the
	// in-flight exchange within the watchdog period.
	ErrWatchdog = errors.New("ryder: watchdog timeout awaiting device reply")

	// ErrCleared is returned for every exchange dropped by Clear or
	// Close.
	ErrCleared = errors.New("ryder: exchange cleared")

	// ErrLocked is returned when the device reports it is locked and
	// the engine is configured to reject on lock.
	ErrLocked = errors.New("ryder: device is locked")

	// ErrUnknownResponse is returned when the first byte of a reply is
	// not part of the status vocabulary.
	ErrUnknownResponse = errors.New("ryder: unknown response byte")

	// ErrClosed is returned by Open when Close is called while the
	// connection attempt is still in progress. Sends on a closed engine
	// fail with ErrDisconnected.
	ErrClosed = errors.New("ryder: engine closed")

	// ErrNilSequenceFn is returned when Sequence is given a nil
	// callback.
	ErrNilSequenceFn = errors.New("ryder: sequence callback is nil")
)

// DeviceError is a terminal error status reported by the device itself.
type DeviceError struct {
	// Code is the raw status byte, in the 246..255 range.
	Code byte
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("ryder: device error %s (%d)", StatusName(e.Code), e.Code)
}

// Name returns the stable symbolic name of the device error.
func (e *DeviceError) Name() string {
	return StatusName(e.Code)
}

func newUnknownResponseError(b byte) error {
	return fmt.Errorf("%w: 0x%02x", ErrUnknownResponse, b)
}
