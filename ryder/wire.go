// wire.go - Ryder wire protocol vocabulary.
// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

// Package ryder implements the host side of the Ryder device serial
// protocol: a request/response engine over an asynchronous byte stream
// whose framing is carried by status bytes embedded in the stream.
package ryder

import "fmt"

// Status bytes sent by the device. The first byte of a fresh reply is
// always one of these; everything after StatusOutputBegin is payload
// until StatusOutputEnd terminates it.
const (
	// StatusOK is the terminal success reply.
	StatusOK byte = 1

	// StatusSendInput indicates the device expects further input from
	// the host before the operation can proceed.
	StatusSendInput byte = 2

	// StatusRejected indicates the user cancelled the operation on the
	// device itself.
	StatusRejected byte = 3

	// StatusOutputBegin starts an output payload.
	StatusOutputBegin byte = 4

	// StatusOutputEnd terminates an output payload.
	StatusOutputEnd byte = 5

	// StatusEscape marks the next payload byte as a literal.
	StatusEscape byte = 6

	// StatusWaitUserConfirm is a non-terminal notification that the
	// device is waiting for the user to confirm on the device.
	StatusWaitUserConfirm byte = 10

	// StatusLocked is a non-terminal notification that the device
	// requires its PIN before it will act.
	StatusLocked byte = 11
)

// Device error status bytes. All of these are terminal.
const (
	StatusErrorNotImplemented   byte = 246
	StatusErrorInputTimeout     byte = 247
	StatusErrorGenerateMnemonic byte = 248
	StatusErrorMnemonicInvalid  byte = 249
	StatusErrorMnemonicTooLong  byte = 250
	StatusErrorAppDomainInvalid byte = 251
	StatusErrorAppDomainTooLong byte = 252
	StatusErrorMemory           byte = 253
	StatusErrorNotInitialized   byte = 254
	StatusErrorUnknownCommand   byte = 255
)

// Command opcodes understood by the device. A command is the opcode
// followed by whatever argument bytes the operation takes; the engine
// treats all of it as opaque.
const (
	CommandWake                byte = 1
	CommandInfo                byte = 2
	CommandSetup               byte = 10
	CommandRestoreFromMnemonic byte = 11
	CommandRestoreFromSeed     byte = 12
	CommandErase               byte = 13

	CommandExportOwnerKey           byte = 18
	CommandExportOwnerKeyPrivateKey byte = 19
	CommandExportAppKey             byte = 20
	CommandExportAppKeyPrivateKey   byte = 21
	CommandExportOwnerAppKey        byte = 22
	CommandExportPublicIdentities   byte = 23

	CommandStartEncrypt byte = 30
	CommandStartDecrypt byte = 31

	CommandSignMessage     byte = 40
	CommandSignTransaction byte = 41

	CommandCancel byte = 100
)

// IsDeviceError reports whether b is one of the device error status
// bytes.
func IsDeviceError(b byte) bool {
	return b >= StatusErrorNotImplemented
}

var deviceErrorNames = map[byte]string{
	StatusErrorNotImplemented:   "NotImplemented",
	StatusErrorInputTimeout:     "InputTimeout",
	StatusErrorGenerateMnemonic: "GenerateMnemonic",
	StatusErrorMnemonicInvalid:  "MnemonicInvalid",
	StatusErrorMnemonicTooLong:  "MnemonicTooLong",
	StatusErrorAppDomainInvalid: "AppDomainInvalid",
	StatusErrorAppDomainTooLong: "AppDomainTooLong",
	StatusErrorMemory:           "MemoryError",
	StatusErrorNotInitialized:   "NotInitialised",
	StatusErrorUnknownCommand:   "UnknownCommand",
}

// StatusName returns a human readable name for a status byte, for log
// output.
func StatusName(b byte) string {
	switch b {
	case StatusOK:
		return "OK"
	case StatusSendInput:
		return "SEND_INPUT"
	case StatusRejected:
		return "REJECTED"
	case StatusOutputBegin:
		return "OUTPUT_BEGIN"
	case StatusOutputEnd:
		return "OUTPUT_END"
	case StatusEscape:
		return "ESCAPE"
	case StatusWaitUserConfirm:
		return "WAIT_USER_CONFIRM"
	case StatusLocked:
		return "LOCKED"
	}
	if name, ok := deviceErrorNames[b]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", b)
}

// EscEncode escape-encodes an output payload the way the device does:
// every byte equal to StatusOutputEnd or StatusEscape is prefixed with
// StatusEscape. Device simulators and tests use this to frame payloads
// that the engine's parser then decodes.
func EscEncode(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, b := range p {
		if b == StatusOutputEnd || b == StatusEscape {
			out = append(out, StatusEscape)
		}
		out = append(out, b)
	}
	return out
}
