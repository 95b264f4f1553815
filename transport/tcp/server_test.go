// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package tcp

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ffutop/wash-gateway/modbus"
)

type unitHandler struct{ unitID byte }

func (h unitHandler) HandlePDU(unitID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, bool) {
	if unitID != h.unitID {
		return modbus.ProtocolDataUnit{}, false
	}
	switch pdu.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		return modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0xAA, 0xBB}}, true
	case modbus.FuncCodeWriteMultipleRegisters:
		return modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: pdu.Data[:4]}, true
	}
	return modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode | modbus.ExceptionBit, Data: []byte{modbus.ExceptionCodeIllegalFunction}}, true
}

func mbap(tid uint16, unit byte, pdu []byte) []byte {
	raw := make([]byte, 7, 7+len(pdu))
	binary.BigEndian.PutUint16(raw[0:], tid)
	binary.BigEndian.PutUint16(raw[4:], uint16(1+len(pdu)))
	raw[6] = unit
	return append(raw, pdu...)
}

func TestServer_Start_And_Handle(t *testing.T) {
	// Setup Server on pre-allocated port
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	s := NewServer(addr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start(ctx, unitHandler{unitID: 1})
	}()

	// Create Client Connection with retry
	var conn net.Conn
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if conn == nil {
		t.Fatalf("Failed to connect to server after retries, last error: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	tests := []struct {
		name string
		req  []byte
		want []byte
	}{
		{"ReadHoldingRegisters", mbap(123, 1, []byte{0x03, 0x00, 0x01, 0x00, 0x01}), mbap(123, 1, []byte{0x03, 0x02, 0xAA, 0xBB})},
		{"WriteMultipleRegisters", mbap(124, 1, []byte{0x10, 0x00, 0x05, 0x00, 0x01, 0x02, 0x00, 0x03}), mbap(124, 1, []byte{0x10, 0x00, 0x05, 0x00, 0x01})},
		{"Exception", mbap(125, 1, []byte{0x2B, 0x0E}), mbap(125, 1, []byte{0xAB, 0x01})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := conn.Write(tt.req); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			got := make([]byte, len(tt.want))
			if _, err := io.ReadFull(conn, got); err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("response = % X, want % X", got, tt.want)
			}
		})
	}

	// silent unit, then a valid request on the same connection
	conn.Write(mbap(200, 9, []byte{0x03, 0x00, 0x00, 0x00, 0x01}))
	conn.Write(mbap(201, 1, []byte{0x03, 0x00, 0x00, 0x00, 0x01}))
	adu, err := ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if adu.TransactionID != 201 {
		t.Errorf("answered transaction %d, want 201", adu.TransactionID)
	}

	cancel()
	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Error("server did not stop")
	}
}

func TestReadFrame_InvalidLength(t *testing.T) {
	raw := mbap(1, 1, []byte{0x03})
	binary.BigEndian.PutUint16(raw[4:], 1)
	if _, err := ReadFrame(bytes.NewReader(raw)); err == nil {
		t.Error("expected error for length 1")
	}
	if _, err := ReadFrame(bytes.NewReader(raw[:5])); err == nil {
		t.Error("expected error for short header")
	}
}
