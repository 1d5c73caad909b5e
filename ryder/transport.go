// transport.go - serial link to the device.
// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

package ryder

import (
	"io"

	"github.com/charmbracelet/log"
	"go.bug.st/serial"

	"github.com/Light-Labs/ryder-client/core/worker"
)

// Transport is the byte link the engine writes commands to. The engine
// owns it exclusively.
type Transport interface {
	Write(p []byte) (int, error)
	Close() error
}

// linkSink receives link events from a transport. The transport passes
// itself on every callback so the engine can discard events from a
// transport it has already replaced.
type linkSink interface {
	onLinkData(t Transport, p []byte)
	onLinkDown(t Transport, err error)
}

// dialFunc opens a transport to the named port and wires its events to
// sink. Tests substitute their own.
type dialFunc func(port string, opts *Options, sink linkSink, logger *log.Logger) (Transport, error)

// serialTransport adapts a go.bug.st serial port and pumps inbound
// bytes to the engine from a reader worker.
type serialTransport struct {
	worker.Worker

	port serial.Port
	sink linkSink
	log  *log.Logger
}

func dialSerial(portName string, opts *Options, sink linkSink, logger *log.Logger) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}
	// Flush stale bytes buffered by the OS before the engine existed.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, err
	}

	t := &serialTransport{
		port: port,
		sink: sink,
		log:  logger,
	}
	t.Go(t.readLoop)
	return t, nil
}

func (t *serialTransport) readLoop() {
	buf := make([]byte, 512)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			p := make([]byte, n)
			copy(p, buf[:n])
			t.sink.onLinkData(t, p)
		}
		if err != nil {
			if err != io.EOF {
				t.log.Debugf("serial read failed: %v", err)
			}
			t.sink.onLinkDown(t, err)
			return
		}
		if n == 0 {
			// A zero length read with no error means the port went
			// away underneath us.
			t.sink.onLinkDown(t, nil)
			return
		}
		select {
		case <-t.HaltCh():
			return
		default:
		}
	}
}

func (t *serialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *serialTransport) Close() error {
	// Closing the port unblocks the reader, which then exits on its
	// read error. Do not Wait here: Close may be called from the same
	// goroutine that is delivering a link event.
	return t.port.Close()
}
