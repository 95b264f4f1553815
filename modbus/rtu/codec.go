// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/wash-gateway/modbus"
	"github.com/ffutop/wash-gateway/modbus/crc"
)

// Response is a decoded, validated response frame.
type Response struct {
	SlaveID      byte
	FunctionCode byte

	// Registers holds the words of a read holding registers response.
	Registers []uint16

	// Address and Count are echoed by a write multiple registers response.
	Address uint16
	Count   uint16
}

// EncodeReadRequest builds a read holding registers (0x03) frame.
func EncodeReadRequest(slaveID byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > MaxReadQuantity {
		return nil, fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", ErrInvalidQuantity, quantity, 1, MaxReadQuantity)
	}
	raw := make([]byte, 6, 8)
	raw[0] = slaveID
	raw[1] = modbus.FuncCodeReadHoldingRegisters
	binary.BigEndian.PutUint16(raw[2:], address)
	binary.BigEndian.PutUint16(raw[4:], quantity)
	return crc.Append(raw), nil
}

// EncodeWriteRequest builds a write multiple registers (0x10) frame.
func EncodeWriteRequest(slaveID byte, address uint16, values []uint16) ([]byte, error) {
	if len(values) < 1 || len(values) > MaxWriteQuantity {
		return nil, fmt.Errorf("%w: register count '%v' must be between '%v' and '%v'", ErrInvalidQuantity, len(values), 1, MaxWriteQuantity)
	}
	byteCount := len(values) * 2
	raw := make([]byte, 7+byteCount, 7+byteCount+2)
	raw[0] = slaveID
	raw[1] = modbus.FuncCodeWriteMultipleRegisters
	binary.BigEndian.PutUint16(raw[2:], address)
	binary.BigEndian.PutUint16(raw[4:], uint16(len(values)))
	raw[6] = byte(byteCount)
	for i, v := range values {
		binary.BigEndian.PutUint16(raw[7+i*2:], v)
	}
	return crc.Append(raw), nil
}

// DecodeResponse validates raw as the response of slaveID to functionCode.
// An exception response is returned as *modbus.ExceptionError.
func DecodeResponse(raw []byte, slaveID, functionCode byte) (*Response, error) {
	length := len(raw)
	if length < ExceptionSize {
		return nil, fmt.Errorf("%w: response length '%v' does not meet minimum '%v'", ErrMalformedFrame, length, ExceptionSize)
	}
	if !crc.Valid(raw) {
		return nil, fmt.Errorf("%w: response crc '%#04x' does not match expected '%#04x'",
			ErrChecksumMismatch, uint16(raw[length-1])<<8|uint16(raw[length-2]), crc.Checksum(raw[:length-2]))
	}
	if raw[0] != slaveID {
		return nil, fmt.Errorf("%w: response slave id '%v' does not match request '%v'", ErrUnexpectedResponse, raw[0], slaveID)
	}

	switch raw[1] {
	case functionCode:
	case functionCode | modbus.ExceptionBit:
		if length != ExceptionSize {
			return nil, fmt.Errorf("%w: exception response length '%v' must be '%v'", ErrMalformedFrame, length, ExceptionSize)
		}
		return nil, &modbus.ExceptionError{FunctionCode: functionCode, ExceptionCode: raw[2]}
	default:
		return nil, fmt.Errorf("%w: response function '%v' does not match request '%v'", ErrUnexpectedResponse, raw[1], functionCode)
	}

	resp := &Response{SlaveID: raw[0], FunctionCode: raw[1]}
	switch functionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		byteCount := int(raw[2])
		if byteCount == 0 || byteCount%2 != 0 {
			return nil, &InvalidLengthError{Length: raw[2]}
		}
		if length != 3+byteCount+2 {
			return nil, fmt.Errorf("%w: response data size '%v' does not match count '%v'", ErrMalformedFrame, length-5, byteCount)
		}
		resp.Registers = make([]uint16, byteCount/2)
		for i := range resp.Registers {
			resp.Registers[i] = binary.BigEndian.Uint16(raw[3+i*2:])
		}
	case modbus.FuncCodeWriteMultipleRegisters:
		if length != WriteResponseSize {
			return nil, fmt.Errorf("%w: response length '%v' must be '%v'", ErrMalformedFrame, length, WriteResponseSize)
		}
		resp.Address = binary.BigEndian.Uint16(raw[2:])
		resp.Count = binary.BigEndian.Uint16(raw[4:])
	default:
		return nil, fmt.Errorf("%w: function code '%v' is not supported", ErrUnexpectedResponse, functionCode)
	}
	return resp, nil
}

// VerifyEcho checks that a write response confirms the requested address and count.
func (resp *Response) VerifyEcho(address, count uint16) error {
	if resp.Address != address || resp.Count != count {
		return &EchoMismatchError{Address: address, Count: count, EchoAddress: resp.Address, EchoCount: resp.Count}
	}
	return nil
}
