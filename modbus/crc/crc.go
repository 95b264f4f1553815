// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the Modbus RTU CRC-16
// (polynomial 0xA001 reflected, initial value 0xFFFF).
package crc

import "github.com/sigurn/crc16"

var table = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC accumulates a checksum over pushed bytes.
type CRC struct {
	value uint16
}

func (crc *CRC) Reset() *CRC {
	crc.value = crc16.Init(table)
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	crc.value = crc16.Update(crc.value, bs, table)
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc16.Complete(crc.value, table)
}

// Checksum returns the CRC of data. On the wire it is sent low byte first.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, table)
}

// Append appends the checksum of data to data, low byte first.
func Append(data []byte) []byte {
	sum := Checksum(data)
	return append(data, byte(sum), byte(sum>>8))
}

// Valid reports whether the last two bytes of frame hold the checksum of the rest.
func Valid(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	n := len(frame)
	return Checksum(frame[:n-2]) == uint16(frame[n-1])<<8|uint16(frame[n-2])
}
