// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/wash-gateway/modbus"
	"github.com/ffutop/wash-gateway/modbus/crc"
)

// FrameStatus tells the receiver what the bytes collected so far amount to.
type FrameStatus int

const (
	// FrameIncomplete means more bytes are needed.
	FrameIncomplete FrameStatus = iota
	// FrameComplete means a checksum-valid response frame was found.
	FrameComplete
	// FrameBadChecksum means a frame of the expected shape was found but its
	// CRC is wrong. More bytes may still complete a valid frame.
	FrameBadChecksum
)

func (s FrameStatus) String() string {
	switch s {
	case FrameComplete:
		return "complete"
	case FrameBadChecksum:
		return "bad checksum"
	default:
		return "incomplete"
	}
}

// CalculateRequestLength returns the expected total length of the Request RTU ADU based on the header.
func CalculateRequestLength(funcCode byte, header []byte) (int, error) {
	// Header should be at least 7 bytes to cover ByteCount for 0x0F/0x10.
	// [SlaveID, Func, Appd1, Appd2, Appd3, Appd4/ByteCount]

	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// Fixed 8 bytes: [SlaveID, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// Req: [SlaveID, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)]
		if len(header) < 7 {
			return 0, fmt.Errorf("need 7 bytes to determine length for 0x%02X, got %d", funcCode, len(header))
		}
		byteCount := int(header[6])
		return 7 + byteCount + 2, nil
	default:
		return 0, fmt.Errorf("unsupported function code: 0x%02X", funcCode)
	}
}

// responseLength returns the total length of the response frame starting at
// frame[0], or 0 if not enough header bytes are present yet. ok is false when
// frame cannot be the start of a response to functionCode.
func responseLength(frame []byte, functionCode byte) (length int, ok bool) {
	if len(frame) < 2 {
		return 0, true
	}
	switch frame[1] {
	case functionCode:
	case functionCode | modbus.ExceptionBit:
		return ExceptionSize, true
	default:
		return 0, false
	}
	switch functionCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeReadWriteMultipleRegisters:
		if len(frame) < 3 {
			return 0, true
		}
		if frame[2] == 0 {
			return 0, false
		}
		return 3 + int(frame[2]) + 2, true
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		return WriteResponseSize, true
	case modbus.FuncCodeMaskWriteRegister:
		return 10, true
	default:
		return 0, false
	}
}

// ScanResponse looks for a complete response frame from slaveID to
// functionCode in the bytes received so far. Every offset holding slaveID is
// tried so that noise ahead of the frame does not hide it.
func ScanResponse(buf []byte, slaveID, functionCode byte) ([]byte, FrameStatus) {
	return ScanResponseLength(buf, slaveID, functionCode, 0)
}

// ScanResponseLength is ScanResponse restricted to normal responses of
// exactly want bytes. Exception frames always match. Frames of another
// length are skipped, so a late answer to an earlier request is not taken
// for the current one. A want of 0 accepts any length.
func ScanResponseLength(buf []byte, slaveID, functionCode byte, want int) ([]byte, FrameStatus) {
	status := FrameIncomplete
	for i := range buf {
		if buf[i] != slaveID {
			continue
		}
		candidate := buf[i:]
		length, ok := responseLength(candidate, functionCode)
		if !ok || length == 0 || len(candidate) < length {
			continue
		}
		if want > 0 && length != want && candidate[1] == functionCode {
			continue
		}
		if crc.Valid(candidate[:length]) {
			return candidate[:length], FrameComplete
		}
		status = FrameBadChecksum
	}
	return nil, status
}

// ExpectedResponseLength returns the size of a normal response to request,
// or 0 when it cannot be told from the request.
func ExpectedResponseLength(request []byte) int {
	if len(request) < 6 {
		return 0
	}
	switch request[1] {
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		quantity := int(request[4])<<8 | int(request[5])
		return 3 + 2*quantity + 2
	case modbus.FuncCodeWriteSingleRegister, modbus.FuncCodeWriteMultipleRegisters:
		return WriteResponseSize
	}
	return 0
}
