// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"log/slog"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial device found on the host.
type PortInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	USB         bool   `json:"usb"`
	VID         string `json:"vid,omitempty"`
	PID         string `json:"pid,omitempty"`
	Serial      string `json:"serial_number,omitempty"`
}

// ListPorts lists the serial ports of the host. When USB details are not
// available only the names are returned.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err == nil {
		result := make([]PortInfo, 0, len(ports))
		for _, port := range ports {
			result = append(result, PortInfo{
				Name:        port.Name,
				Description: port.Product,
				USB:         port.IsUSB,
				VID:         port.VID,
				PID:         port.PID,
				Serial:      port.SerialNumber,
			})
		}
		return result, nil
	}
	slog.Debug("detailed port enumeration failed, listing names only", "err", err)

	names, err := bugst.GetPortsList()
	if err != nil {
		return nil, err
	}
	result := make([]PortInfo, 0, len(names))
	for _, name := range names {
		result = append(result, PortInfo{Name: name})
	}
	return result, nil
}
