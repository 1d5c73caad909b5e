// enumerate.go - Ryder device discovery.
// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

package ryder

import (
	"strings"

	"go.bug.st/serial/enumerator"
)

// USB identifiers of the Ryder device's serial bridge.
const (
	usbVID = "10C4"
	usbPID = "EA60"
)

// Enumerate returns the serial port names of attached Ryder devices,
// filtered by USB vendor and product id.
func Enumerate() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if strings.EqualFold(p.VID, usbVID) && strings.EqualFold(p.PID, usbPID) {
			names = append(names, p.Name)
		}
	}
	return names, nil
}
