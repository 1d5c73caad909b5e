// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

package ryder

import (
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

// mockTransport is a scripted device link: tests inspect what the
// engine wrote and inject inbound bytes or link faults.
type mockTransport struct {
	mu       sync.Mutex
	sink     linkSink
	writes   [][]byte
	writeErr error
	closed   bool
}

func (m *mockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	m.writes = append(m.writes, cp)
	return len(p), nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) snapshotWrites() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writes...)
}

// deliver injects inbound bytes as one delivery.
func (m *mockTransport) deliver(p []byte) {
	m.sink.onLinkData(m, p)
}

// down simulates the link dropping.
func (m *mockTransport) down(err error) {
	m.sink.onLinkDown(m, err)
}

// mockDialer hands out a fresh mockTransport per dial, so reconnect
// tests can tell the generations apart.
type mockDialer struct {
	mu         sync.Mutex
	transports []*mockTransport
	dialErr    error
}

func (d *mockDialer) dial(port string, opts *Options, sink linkSink, logger *log.Logger) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	m := &mockTransport{sink: sink}
	d.transports = append(d.transports, m)
	return m, nil
}

func (d *mockDialer) last() *mockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *mockDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func newTestEngine(t *testing.T, opts *Options) (*Engine, *mockDialer) {
	t.Helper()
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.ReconnectInterval = 10 * time.Millisecond
	d := new(mockDialer)
	e, err := newEngine("mock0", opts, d.dial)
	require.NoError(t, err)
	e.wdPeriod = 250 * time.Millisecond
	require.NoError(t, e.Open())
	t.Cleanup(func() { _ = e.Close() })
	return e, d
}

func recv(t *testing.T, ch <-chan Reply) Reply {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exchange completion")
		return Reply{}
	}
}

func requirePending(t *testing.T, ch <-chan Reply) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("exchange completed early: %+v", r)
	default:
	}
}
