// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

package ryder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func granted(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestLockGrantOrder(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	first := e.Lock()
	require.True(t, granted(first))
	require.True(t, e.Locked())

	second := e.Lock()
	third := e.Lock()
	require.False(t, granted(second))
	require.False(t, granted(third))

	e.Unlock()
	require.True(t, granted(second))
	require.False(t, granted(third))
	require.True(t, e.Locked())

	e.Unlock()
	require.True(t, granted(third))

	e.Unlock()
	require.False(t, e.Locked())

	// Spurious unlocks are harmless.
	e.Unlock()
	require.False(t, e.Locked())
}

func TestSequenceSerializes(t *testing.T) {
	e, d := newTestEngine(t, nil)
	mt := d.last()

	<-e.Lock()

	started := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		finished <- e.Sequence(context.Background(), func() error {
			close(started)
			r, err := e.Send(context.Background(), []byte{CommandInfo})
			if err != nil {
				return err
			}
			if r.Status != StatusOK {
				return errors.New("unexpected status")
			}
			return nil
		})
	}()

	select {
	case <-started:
		t.Fatal("sequence ran while another caller held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	e.Unlock()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("sequence never granted")
	}

	require.Eventually(t, func() bool {
		return len(mt.snapshotWrites()) == 1
	}, time.Second, 5*time.Millisecond)
	mt.deliver([]byte{StatusOK})
	require.NoError(t, <-finished)
	require.False(t, e.Locked())
}

func TestSequenceReleasesOnError(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	boom := errors.New("boom")
	err := e.Sequence(context.Background(), func() error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, e.Locked())
}

func TestSequenceNilCallback(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.ErrorIs(t, e.Sequence(context.Background(), nil), ErrNilSequenceFn)
}

func TestSequenceContextCancelled(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	<-e.Lock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Sequence(ctx, func() error {
		t.Fatal("callback ran despite cancelled context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	// The abandoned grant is handed back, so the chain keeps moving.
	e.Unlock()
	require.Eventually(t, func() bool {
		return !e.Locked()
	}, time.Second, 5*time.Millisecond)
}
