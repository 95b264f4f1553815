// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ffutop/wash-gateway/modbus"
	"github.com/ffutop/wash-gateway/modbus/crc"
)

// readResponse builds the frame a device sends for a read holding registers request.
func readResponse(slaveID byte, regs []uint16) []byte {
	raw := []byte{slaveID, modbus.FuncCodeReadHoldingRegisters, byte(len(regs) * 2)}
	for _, r := range regs {
		raw = binary.BigEndian.AppendUint16(raw, r)
	}
	return crc.Append(raw)
}

// writeEcho builds the frame a device sends for a write multiple registers request.
func writeEcho(slaveID byte, address, count uint16) []byte {
	raw := []byte{slaveID, modbus.FuncCodeWriteMultipleRegisters}
	raw = binary.BigEndian.AppendUint16(raw, address)
	raw = binary.BigEndian.AppendUint16(raw, count)
	return crc.Append(raw)
}

func TestEncodeReadRequest(t *testing.T) {
	got, err := EncodeReadRequest(1, 20, 40)
	if err != nil {
		t.Fatalf("EncodeReadRequest failed: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x14, 0x00, 0x28, 0x05, 0xD0}
	if !bytes.Equal(got, want) {
		t.Errorf("Request mismatch.\nWant: %X\nGot:  %X", want, got)
	}

	for _, quantity := range []uint16{0, MaxReadQuantity + 1} {
		if _, err := EncodeReadRequest(1, 0, quantity); !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("quantity %d: error = %v, want ErrInvalidQuantity", quantity, err)
		}
	}
}

func TestEncodeWriteRequest(t *testing.T) {
	got, err := EncodeWriteRequest(1, 5, []uint16{3})
	if err != nil {
		t.Fatalf("EncodeWriteRequest failed: %v", err)
	}
	want := []byte{0x01, 0x10, 0x00, 0x05, 0x00, 0x01, 0x02, 0x00, 0x03, 0xE6, 0x04}
	if !bytes.Equal(got, want) {
		t.Errorf("Request mismatch.\nWant: %X\nGot:  %X", want, got)
	}

	if _, err := EncodeWriteRequest(1, 0, nil); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("empty values: error = %v, want ErrInvalidQuantity", err)
	}
	if _, err := EncodeWriteRequest(1, 0, make([]uint16, MaxWriteQuantity+1)); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("too many values: error = %v, want ErrInvalidQuantity", err)
	}

	full, err := EncodeWriteRequest(1, 0, make([]uint16, MaxWriteQuantity))
	if err != nil {
		t.Fatalf("EncodeWriteRequest(%d values) failed: %v", MaxWriteQuantity, err)
	}
	if full[6] != 254 || len(full) != 7+254+2 {
		t.Errorf("byte count = %d, length = %d", full[6], len(full))
	}
}

func TestReadRoundTrip(t *testing.T) {
	for quantity := uint16(1); quantity <= MaxReadQuantity; quantity++ {
		start := quantity * 7
		req, err := EncodeReadRequest(1, start, quantity)
		if err != nil {
			t.Fatalf("quantity %d: %v", quantity, err)
		}
		if got := binary.BigEndian.Uint16(req[4:]); got != quantity {
			t.Fatalf("encoded quantity = %d, want %d", got, quantity)
		}

		regs := make([]uint16, quantity)
		for i := range regs {
			regs[i] = start + uint16(i)*257
		}
		resp, err := DecodeResponse(readResponse(1, regs), req[0], req[1])
		if err != nil {
			t.Fatalf("quantity %d: DecodeResponse failed: %v", quantity, err)
		}
		if len(resp.Registers) != int(quantity) {
			t.Fatalf("len(Registers) = %d, want %d", len(resp.Registers), quantity)
		}
		for i := range regs {
			if resp.Registers[i] != regs[i] {
				t.Fatalf("quantity %d: register %d = %d, want %d", quantity, i, resp.Registers[i], regs[i])
			}
		}
	}
}

func TestWriteRoundTrip(t *testing.T) {
	for count := 1; count <= MaxWriteQuantity; count++ {
		address := uint16(count * 3)
		values := make([]uint16, count)
		req, err := EncodeWriteRequest(1, address, values)
		if err != nil {
			t.Fatalf("count %d: %v", count, err)
		}

		resp, err := DecodeResponse(writeEcho(1, address, uint16(count)), req[0], req[1])
		if err != nil {
			t.Fatalf("count %d: DecodeResponse failed: %v", count, err)
		}
		if err := resp.VerifyEcho(address, uint16(count)); err != nil {
			t.Fatalf("count %d: VerifyEcho failed: %v", count, err)
		}

		for _, echo := range [][2]uint16{{address + 1, uint16(count)}, {address, uint16(count) + 1}} {
			resp, err := DecodeResponse(writeEcho(1, echo[0], echo[1]), req[0], req[1])
			if err != nil {
				t.Fatalf("DecodeResponse failed: %v", err)
			}
			err = resp.VerifyEcho(address, uint16(count))
			var mismatch *EchoMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("echo %v: error = %v, want EchoMismatchError", echo, err)
			}
			if !errors.Is(err, ErrTransport) || OutcomeOf(err) != OutcomeEchoMismatch {
				t.Fatalf("echo mismatch classified as %v", OutcomeOf(err))
			}
		}
	}
}

func TestDecodeResponseCorruption(t *testing.T) {
	frames := map[string]struct {
		raw      []byte
		function byte
	}{
		"Read":  {readResponse(1, []uint16{0x1234, 0x5678, 0x9ABC}), modbus.FuncCodeReadHoldingRegisters},
		"Write": {writeEcho(1, 5, 1), modbus.FuncCodeWriteMultipleRegisters},
	}
	for name, f := range frames {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeResponse(f.raw, 1, f.function); err != nil {
				t.Fatalf("valid frame rejected: %v", err)
			}
			for i := range f.raw {
				for _, mask := range []byte{0x01, 0x80, 0xFF} {
					bad := append([]byte(nil), f.raw...)
					bad[i] ^= mask
					if _, err := DecodeResponse(bad, 1, f.function); err == nil {
						t.Fatalf("byte %d ^ %#02x accepted", i, mask)
					}
				}
			}
		})
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		function byte
		want     error
	}{
		{"Short", []byte{0x01, 0x03, 0x00}, 0x03, ErrMalformedFrame},
		{"BadChecksum", []byte{0x01, 0x10, 0x00, 0x05, 0x00, 0x01, 0x00, 0x00}, 0x10, ErrChecksumMismatch},
		{"WrongSlave", writeEcho(2, 5, 1), 0x10, ErrUnexpectedResponse},
		{"WrongFunction", writeEcho(1, 5, 1), 0x03, ErrUnexpectedResponse},
		{"OddByteCount", crc.Append([]byte{0x01, 0x03, 0x03, 0x00, 0x00, 0x00}), 0x03, ErrMalformedFrame},
		{"ByteCountMismatch", crc.Append([]byte{0x01, 0x03, 0x04, 0x00, 0x00}), 0x03, ErrMalformedFrame},
		{"LongWriteEcho", crc.Append([]byte{0x01, 0x10, 0x00, 0x05, 0x00, 0x01, 0x00}), 0x10, ErrMalformedFrame},
		{"Unsupported", crc.Append([]byte{0x01, 0x06, 0x00, 0x05, 0x00, 0x01}), 0x06, ErrUnexpectedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse(tt.raw, 1, tt.function)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeResponse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeResponseException(t *testing.T) {
	raw := crc.Append([]byte{0x01, 0x83, modbus.ExceptionCodeIllegalDataAddress})
	_, err := DecodeResponse(raw, 1, modbus.FuncCodeReadHoldingRegisters)

	var exception *modbus.ExceptionError
	if !errors.As(err, &exception) {
		t.Fatalf("error = %v, want ExceptionError", err)
	}
	if exception.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress || exception.FunctionCode != 0x03 {
		t.Errorf("exception = %+v", exception)
	}
	if errors.Is(err, ErrChecksumMismatch) || OutcomeOf(err) != OutcomeProtocolException {
		t.Errorf("exception classified as %v", OutcomeOf(err))
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeSuccess},
		{ErrRequestTimedOut, OutcomeTimeout},
		{ErrChecksumMismatch, OutcomeChecksumMismatch},
		{&modbus.ExceptionError{FunctionCode: 3, ExceptionCode: 2}, OutcomeProtocolException},
		{&EchoMismatchError{}, OutcomeEchoMismatch},
		{&TransportError{Op: "write", Err: errors.New("broken pipe")}, OutcomeTransportError},
		{errors.New("other"), OutcomeTransportError},
	}
	for _, tt := range tests {
		if got := OutcomeOf(tt.err); got != tt.want {
			t.Errorf("OutcomeOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
