// engine.go - Ryder protocol engine.
// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

package ryder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// State is the engine's scheduling state.
type State uint8

const (
	// StateIdle means no exchange is in flight.
	StateIdle State = iota
	// StateSending means the head exchange has been written and the
	// engine is waiting for the first byte of its reply.
	StateSending
	// StateReading means the engine is accumulating the head
	// exchange's output payload.
	StateReading
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSending:
		return "Sending"
	case StateReading:
		return "Reading"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

const defaultWatchdogPeriod = 5 * time.Second

// Options configures an Engine.
type Options struct {
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int

	// Lock is the transport-level exclusive port lock setting. Defaults
	// to true via DefaultOptions. The serial transport does not read it:
	// the port is opened the same way whatever its value.
	Lock bool

	// ReconnectInterval is the delay between reconnection attempts
	// after the link drops. Defaults to one second.
	ReconnectInterval time.Duration

	// RejectOnLocked makes the engine fail every queued exchange with
	// ErrLocked when the device reports it is PIN-locked, instead of
	// leaving the in-flight exchange pending.
	RejectOnLocked bool

	// Debug raises the log level to debug.
	Debug bool

	// Logger overrides the engine's logger.
	Logger *log.Logger
}

// DefaultOptions returns the default engine options.
func DefaultOptions() *Options {
	return &Options{
		BaudRate:          115200,
		Lock:              true,
		ReconnectInterval: time.Second,
	}
}

var instanceID uint64

// Engine owns the serial stream to one Ryder device: it queues outgoing
// commands, parses the inbound byte stream, enforces at most one
// in-flight exchange with FIFO ordering, arbitrates lock sequences, and
// reconnects when the link drops.
//
// Every entry point (public API, inbound bytes, timer fires) serializes
// on one mutex; event handlers run after the mutex is released.
type Engine struct {
	mu sync.Mutex

	log  *log.Logger
	id   uint64
	opts Options

	portName string
	dial     dialFunc

	transport Transport
	open      bool
	opening   bool
	closing   bool

	state   State
	queue   requestQueue
	arbiter lockArbiter

	events  notifier
	pending []emission

	wdPeriod    time.Duration
	watchdog    *time.Timer
	wdGen       uint64
	wdSuspended bool

	reconnect *time.Timer
}

// New creates an engine for the named port and attempts the first
// connection. A failed first attempt is supervised like any later
// disconnect: EventFailed fires and the reconnect timer keeps trying.
func New(port string, opts *Options) (*Engine, error) {
	e, err := newEngine(port, opts, dialSerial)
	if err != nil {
		return nil, err
	}
	_ = e.Open()
	return e, nil
}

func newEngine(port string, opts *Options, dial dialFunc) (*Engine, error) {
	if port == "" {
		return nil, errors.New("ryder: no port name given")
	}

	o := *DefaultOptions()
	if opts != nil {
		o = *opts
		if o.BaudRate == 0 {
			o.BaudRate = 115200
		}
		if o.ReconnectInterval == 0 {
			o.ReconnectInterval = time.Second
		}
	}

	id := atomic.AddUint64(&instanceID, 1)
	logger := o.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Prefix:          fmt.Sprintf("ryder/%d", id),
		})
	}
	if o.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	return &Engine{
		log:      logger,
		id:       id,
		opts:     o,
		portName: port,
		dial:     dial,
		wdPeriod: defaultWatchdogPeriod,
	}, nil
}

// On registers a handler for the named event. Handlers run
// synchronously, outside the engine lock, on whatever goroutine
// produced the event.
func (e *Engine) On(ev Event, fn Handler) {
	e.events.on(ev, fn)
}

// State returns the current scheduling state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// QueueLen returns the number of pending exchanges, including the one
// in flight.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.len()
}

// emitLocked records an event for dispatch after the lock is released.
func (e *Engine) emitLocked(ev Event, err error) {
	e.pending = append(e.pending, emission{ev: ev, err: err})
}

// unlockAndFlush releases the engine lock and dispatches every event
// recorded while it was held.
func (e *Engine) unlockAndFlush() {
	evs := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, em := range evs {
		e.events.dispatch(em.ev, em.err)
	}
}

func (e *Engine) do(fn func()) {
	e.mu.Lock()
	fn()
	e.unlockAndFlush()
}

// Open connects to the device. It is idempotent while the transport is
// open; a transport that exists but has closed is discarded and a fresh
// one dialed. On failure the reconnect timer is armed and the error
// returned.
func (e *Engine) Open() error {
	e.mu.Lock()
	if e.opening || e.open {
		e.mu.Unlock()
		return nil
	}
	e.opening = true
	e.closing = false
	if t := e.transport; t != nil {
		e.transport = nil
		go t.Close()
	}
	if e.reconnect != nil {
		e.reconnect.Stop()
		e.reconnect = nil
	}
	dial, port, opts, logger := e.dial, e.portName, e.opts, e.log
	e.mu.Unlock()

	t, err := dial(port, &opts, e, logger)

	e.mu.Lock()
	e.opening = false
	if err != nil {
		e.log.Debugf("open %s failed: %v", port, err)
		e.emitLocked(EventFailed, err)
		e.scheduleReconnectLocked()
		e.unlockAndFlush()
		return err
	}
	if e.closing {
		e.mu.Unlock()
		t.Close()
		return ErrClosed
	}
	e.transport = t
	e.open = true
	e.log.Debugf("port %s open", port)
	e.emitLocked(EventOpen, nil)
	e.advanceLocked()
	e.unlockAndFlush()
	return nil
}

// Close tears the engine down: every pending exchange fails with
// ErrCleared, all locks release, timers disarm, and the transport
// closes. Close is idempotent. A later Open brings the engine back.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closing && e.transport == nil && !e.open {
		e.mu.Unlock()
		return nil
	}
	e.closing = true
	e.clearLocked()
	if e.reconnect != nil {
		e.reconnect.Stop()
		e.reconnect = nil
	}
	t := e.transport
	e.transport = nil
	wasOpen := e.open
	e.open = false
	if wasOpen {
		e.emitLocked(EventClose, nil)
	}
	e.unlockAndFlush()
	if t != nil {
		t.Close()
	}
	return nil
}

// Clear fails every pending exchange with ErrCleared, returns the
// engine to idle, and releases every outstanding lock. The connection
// stays up.
func (e *Engine) Clear() {
	e.do(e.clearLocked)
}

func (e *Engine) clearLocked() {
	e.stopWatchdogLocked()
	e.queue.failAll(ErrCleared)
	e.state = StateIdle
	e.arbiter.releaseAll()
}

// SendAsync enqueues payload as a new exchange at the queue tail and
// returns its completion channel. The channel receives exactly one
// Reply: a terminal status, an output payload, or an error.
func (e *Engine) SendAsync(payload []byte) <-chan Reply {
	return e.enqueue(payload, false)
}

// SendPrependAsync enqueues payload ahead of every waiting exchange.
// The exchange currently in flight is never displaced.
func (e *Engine) SendPrependAsync(payload []byte) <-chan Reply {
	return e.enqueue(payload, true)
}

// Send enqueues payload and blocks until the exchange completes or ctx
// is done. The returned error is the exchange's failure, if any.
func (e *Engine) Send(ctx context.Context, payload []byte) (Reply, error) {
	return e.await(ctx, e.SendAsync(payload))
}

// SendPrepend is the blocking form of SendPrependAsync.
func (e *Engine) SendPrepend(ctx context.Context, payload []byte) (Reply, error) {
	return e.await(ctx, e.SendPrependAsync(payload))
}

// SendByte sends a single-byte command, typically an opcode from the
// command catalogue.
func (e *Engine) SendByte(ctx context.Context, b byte) (Reply, error) {
	return e.Send(ctx, []byte{b})
}

func (e *Engine) await(ctx context.Context, ch <-chan Reply) (Reply, error) {
	select {
	case r := <-ch:
		return r, r.Err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (e *Engine) enqueue(payload []byte, prepend bool) <-chan Reply {
	x := newExchange(payload)
	e.mu.Lock()
	if !e.open || e.closing {
		e.mu.Unlock()
		x.fail(ErrDisconnected)
		return x.done
	}
	switch {
	case prepend && e.state != StateIdle:
		e.queue.pushSecond(x)
	case prepend:
		e.queue.pushHead(x)
	default:
		e.queue.pushTail(x)
	}
	e.advanceLocked()
	e.unlockAndFlush()
	return x.done
}

// Lock requests the cooperative lock. The returned channel closes when
// the lock is granted; the holder must call Unlock.
func (e *Engine) Lock() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.arbiter.acquire()
}

// Unlock releases the oldest outstanding lock, granting the next
// waiter if one exists.
func (e *Engine) Unlock() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.arbiter.release()
}

// Locked reports whether at least one lock is held.
func (e *Engine) Locked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.arbiter.locked()
}

// Sequence takes the lock, runs fn, and releases the lock on every
// exit path, so a group of sends inside fn cannot interleave with
// other lock-holding callers.
func (e *Engine) Sequence(ctx context.Context, fn func() error) error {
	if fn == nil {
		return ErrNilSequenceFn
	}
	grant := e.Lock()
	select {
	case <-grant:
	case <-ctx.Done():
		// The grant may still arrive later; hand it straight back so
		// the chain of waiters keeps moving.
		go func() {
			<-grant
			e.Unlock()
		}()
		return ctx.Err()
	}
	defer e.Unlock()
	return fn()
}

// advanceLocked dispatches the head of the queue when the engine is
// idle. Called after enqueue, after any terminal completion, and on
// link open.
func (e *Engine) advanceLocked() {
	if e.state != StateIdle || e.queue.empty() {
		return
	}
	if !e.open || e.transport == nil {
		e.queue.failAll(ErrDisconnected)
		return
	}
	head := e.queue.peekHead()
	head.prevWasEscape = false
	head.output = nil
	if _, err := e.transport.Write(head.payload); err != nil {
		e.log.Errorf("write failed: %v", err)
		// The head never made it onto the wire; fail it here since
		// linkFaultLocked only touches an in-flight exchange.
		e.queue.popHead()
		head.fail(ErrDisconnected)
		e.linkFaultLocked(err)
		return
	}
	e.state = StateSending
	e.wdSuspended = false
	e.armWatchdogLocked()
}

// completeHeadLocked resolves the in-flight exchange and moves on.
func (e *Engine) completeHeadLocked(r Reply) {
	if head := e.queue.popHead(); head != nil {
		head.complete(r)
	}
	e.state = StateIdle
	e.stopWatchdogLocked()
	e.advanceLocked()
}

func (e *Engine) failHeadLocked(err error) {
	if head := e.queue.popHead(); head != nil {
		head.fail(err)
	}
	e.state = StateIdle
	e.stopWatchdogLocked()
	e.advanceLocked()
}

// Watchdog. A single-shot timer; each arm supersedes the previous
// registration via the generation counter.

func (e *Engine) armWatchdogLocked() {
	e.wdGen++
	gen := e.wdGen
	if e.watchdog != nil {
		e.watchdog.Stop()
	}
	e.watchdog = time.AfterFunc(e.wdPeriod, func() {
		e.onWatchdog(gen)
	})
}

func (e *Engine) stopWatchdogLocked() {
	e.wdGen++
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
}

func (e *Engine) onWatchdog(gen uint64) {
	e.mu.Lock()
	if gen != e.wdGen || e.state == StateIdle {
		e.mu.Unlock()
		return
	}
	e.log.Warnf("watchdog fired in state %s", e.state)
	e.watchdog = nil
	if head := e.queue.popHead(); head != nil {
		head.fail(ErrWatchdog)
	}
	e.state = StateIdle
	e.advanceLocked()
	e.unlockAndFlush()
}

// Connection supervision.

// linkFaultLocked handles a transport that has become unusable: the
// in-flight exchange fails, queued exchanges stay queued, and the
// reconnect timer is armed.
func (e *Engine) linkFaultLocked(err error) {
	if t := e.transport; t != nil {
		e.transport = nil
		go t.Close()
	}
	e.open = false
	e.stopWatchdogLocked()
	if e.state != StateIdle {
		if head := e.queue.popHead(); head != nil {
			head.fail(ErrDisconnected)
		}
		e.state = StateIdle
	}
	if err != nil {
		e.emitLocked(EventError, err)
	}
	e.emitLocked(EventClose, nil)
	if err == nil {
		err = ErrDisconnected
	}
	e.emitLocked(EventFailed, err)
	e.scheduleReconnectLocked()
}

func (e *Engine) scheduleReconnectLocked() {
	if e.closing || e.reconnect != nil {
		return
	}
	e.reconnect = time.AfterFunc(e.opts.ReconnectInterval, e.onReconnect)
}

func (e *Engine) onReconnect() {
	e.mu.Lock()
	e.reconnect = nil
	if e.closing || e.open || e.opening {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	// Open arms the next attempt itself when this one fails.
	_ = e.Open()
}

// onLinkDown is the transport's notification that the link dropped.
// Events from a transport the engine already replaced are ignored.
func (e *Engine) onLinkDown(t Transport, err error) {
	e.mu.Lock()
	if t != e.transport {
		e.mu.Unlock()
		return
	}
	if e.closing {
		e.transport = nil
		e.open = false
		e.emitLocked(EventClose, nil)
		e.unlockAndFlush()
		return
	}
	e.linkFaultLocked(err)
	e.unlockAndFlush()
}
