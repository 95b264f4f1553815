// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package model

import (
	"bytes"
	"testing"
)

func TestRegisters_ReadWrite(t *testing.T) {
	r := NewRegisters()
	if err := r.WriteBytes(20, 2, []byte{0x12, 0x34, 0xAB, 0xCD}); err != nil {
		t.Fatalf("WriteBytes failed: %v", err)
	}
	values, err := r.Read(20, 3)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if values[0] != 0x1234 || values[1] != 0xABCD || values[2] != 0 {
		t.Errorf("values = %X", values)
	}

	r.Set(MaxAddress, 7)
	b, err := r.ReadBytes(MaxAddress, 1)
	if err != nil || !bytes.Equal(b, []byte{0x00, 0x07}) {
		t.Errorf("ReadBytes = % X, %v", b, err)
	}

	r.Update(func(get func(uint16) uint16, set func(uint16, uint16)) {
		set(1, get(MaxAddress)+1)
	})
	if r.Get(1) != 8 {
		t.Errorf("Get(1) = %d", r.Get(1))
	}
}

func TestRegisters_Range(t *testing.T) {
	r := NewRegisters()
	tests := []struct {
		name              string
		address, quantity uint16
	}{
		{"ZeroQuantity", 0, 0},
		{"PastEnd", MaxAddress, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Read(tt.address, tt.quantity); err == nil {
				t.Error("Read: expected error")
			}
			if err := r.WriteBytes(tt.address, tt.quantity, make([]byte, 4)); err == nil {
				t.Error("WriteBytes: expected error")
			}
		})
	}
	if err := r.WriteBytes(0, 2, []byte{1, 2}); err == nil {
		t.Error("expected error for short data")
	}
}

func TestNewRegistersOn(t *testing.T) {
	data := make([]byte, Size)
	r, err := NewRegistersOn(data)
	if err != nil {
		t.Fatal(err)
	}
	r.Set(3, 0x0102)
	if data[6] != 0x01 || data[7] != 0x02 {
		t.Errorf("backing bytes = % X", data[6:8])
	}
	if _, err := NewRegistersOn(make([]byte, 10)); err == nil {
		t.Error("expected size error")
	}
}
