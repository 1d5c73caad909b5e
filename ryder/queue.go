// queue.go - pending exchange FIFO.
// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

package ryder

// Reply is the completion of one exchange: either a terminal status
// byte, a decoded output payload, or an error.
type Reply struct {
	// Status is the terminal status byte (StatusOK, StatusSendInput,
	// StatusRejected) for bare replies, or StatusOutputEnd when the
	// device delivered an output payload.
	Status byte

	// Data is the escape-decoded output payload, nil for bare status
	// replies.
	Data []byte

	// Err is set when the exchange failed instead of completing.
	Err error
}

// HasData reports whether the reply carried an output payload.
func (r Reply) HasData() bool {
	return r.Data != nil
}

// exchange is one queued request/response pair. It is owned exclusively
// by the request queue and completed at most once.
type exchange struct {
	payload []byte
	done    chan Reply

	completed bool

	// parser state for the exchange's output payload, valid only while
	// this exchange is the in-flight head.
	prevWasEscape bool
	output        []byte
}

func newExchange(payload []byte) *exchange {
	return &exchange{
		payload: payload,
		done:    make(chan Reply, 1),
	}
}

// complete delivers r to the exchange's sink. Later calls are no-ops,
// so a cleared exchange cannot be completed a second time.
func (x *exchange) complete(r Reply) {
	if x.completed {
		return
	}
	x.completed = true
	x.done <- r
}

func (x *exchange) fail(err error) {
	x.complete(Reply{Err: err})
}

// requestQueue is a FIFO of pending exchanges with O(1) head access.
// The head is the in-flight exchange whenever the engine state is not
// idle.
type requestQueue struct {
	entries []*exchange
}

func (q *requestQueue) pushTail(x *exchange) {
	q.entries = append(q.entries, x)
}

func (q *requestQueue) pushHead(x *exchange) {
	q.entries = append([]*exchange{x}, q.entries...)
}

// pushSecond inserts x directly behind the head, ahead of every other
// waiter. Used for prepends that must not displace the in-flight
// exchange.
func (q *requestQueue) pushSecond(x *exchange) {
	if len(q.entries) == 0 {
		q.entries = []*exchange{x}
		return
	}
	rest := append([]*exchange{x}, q.entries[1:]...)
	q.entries = append(q.entries[:1], rest...)
}

func (q *requestQueue) peekHead() *exchange {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

func (q *requestQueue) popHead() *exchange {
	if len(q.entries) == 0 {
		return nil
	}
	x := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	return x
}

func (q *requestQueue) empty() bool {
	return len(q.entries) == 0
}

func (q *requestQueue) len() int {
	return len(q.entries)
}

// failAll completes every pending exchange with err and empties the
// queue.
func (q *requestQueue) failAll(err error) {
	for _, x := range q.entries {
		x.fail(err)
	}
	q.entries = nil
}
