// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	MaxAddress = 65535
	// Size is the byte size of the register table.
	Size = (MaxAddress + 1) * 2
)

// Registers holds the holding register table of the simulated washer.
// Values are stored big-endian in a flat byte slice covering the full 16-bit
// address space, so a file or a memory mapping can back it directly.
type Registers struct {
	mu   sync.RWMutex
	data []byte
}

// NewRegisters creates a register table initialized to zero.
func NewRegisters() *Registers {
	return &Registers{data: make([]byte, Size)}
}

// NewRegistersOn creates a register table backed by data, which must be
// Size bytes long.
func NewRegistersOn(data []byte) (*Registers, error) {
	if len(data) != Size {
		return nil, fmt.Errorf("register table needs %d bytes, got %d", Size, len(data))
	}
	return &Registers{data: data}, nil
}

// ReadBytes reads a range of registers and returns them as BigEndian bytes.
func (r *Registers) ReadBytes(address, quantity uint16) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	start := int(address) * 2
	return append([]byte(nil), r.data[start:start+int(quantity)*2]...), nil
}

// Read reads a range of registers.
func (r *Registers) Read(address, quantity uint16) ([]uint16, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = r.get(int(address) + i)
	}
	return values, nil
}

// WriteBytes writes a range of registers from BigEndian bytes.
func (r *Registers) WriteBytes(address, quantity uint16, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("insufficient data length")
	}
	copy(r.data[int(address)*2:], data[:int(quantity)*2])
	return nil
}

// Get returns a single register.
func (r *Registers) Get(address uint16) uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(int(address))
}

// Set writes a single register.
func (r *Registers) Set(address, value uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(int(address), value)
}

// Update runs fn with the table locked, for read-modify-write sequences.
func (r *Registers) Update(fn func(get func(uint16) uint16, set func(uint16, uint16))) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(func(a uint16) uint16 { return r.get(int(a)) }, func(a, v uint16) { r.set(int(a), v) })
}

func (r *Registers) get(address int) uint16 {
	return binary.BigEndian.Uint16(r.data[address*2:])
}

func (r *Registers) set(address int, value uint16) {
	binary.BigEndian.PutUint16(r.data[address*2:], value)
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	// address is 0-based.
	if int(address)+int(quantity) > MaxAddress+1 {
		return fmt.Errorf("address range out of bounds")
	}
	return nil
}
