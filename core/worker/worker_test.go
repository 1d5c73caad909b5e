// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHalt(t *testing.T) {
	w := new(Worker)
	var ran int32

	w.Go(func() {
		atomic.StoreInt32(&ran, 1)
		<-w.HaltCh()
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran) == 1
	}, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Halt()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Halt did not return")
	}

	// Halt is idempotent.
	w.Halt()
}

func TestWorkerWait(t *testing.T) {
	w := new(Worker)
	w.Go(func() {})
	w.Wait()
}
