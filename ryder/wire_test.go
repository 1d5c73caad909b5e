// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

package ryder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscEncode(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"empty", nil, []byte{}},
		{"plain", []byte("hi"), []byte("hi")},
		{"output_end", []byte{StatusOutputEnd}, []byte{StatusEscape, StatusOutputEnd}},
		{"escape", []byte{StatusEscape}, []byte{StatusEscape, StatusEscape}},
		{"mixed", []byte{1, StatusOutputEnd, 2, StatusEscape, 3}, []byte{1, StatusEscape, StatusOutputEnd, 2, StatusEscape, StatusEscape, 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, EscEncode(tc.in))
		})
	}
}

func TestIsDeviceError(t *testing.T) {
	require.False(t, IsDeviceError(StatusOK))
	require.False(t, IsDeviceError(StatusLocked))
	require.False(t, IsDeviceError(245))
	for b := 246; b <= 255; b++ {
		require.True(t, IsDeviceError(byte(b)))
	}
}

func TestStatusName(t *testing.T) {
	require.Equal(t, "OK", StatusName(StatusOK))
	require.Equal(t, "WAIT_USER_CONFIRM", StatusName(StatusWaitUserConfirm))
	require.Equal(t, "NotInitialised", StatusName(StatusErrorNotInitialized))
	require.Equal(t, "UnknownCommand", StatusName(StatusErrorUnknownCommand))
	require.Equal(t, "UNKNOWN(99)", StatusName(99))
}
