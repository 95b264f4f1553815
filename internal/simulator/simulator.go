// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simulator emulates the washer controller as a Modbus RTU slave.
package simulator

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/ffutop/wash-gateway/internal/simulator/model"
	"github.com/ffutop/wash-gateway/internal/simulator/persistence"
	"github.com/ffutop/wash-gateway/internal/washer"
	"github.com/ffutop/wash-gateway/modbus"
	"github.com/ffutop/wash-gateway/modbus/rtu"
)

const (
	// DefaultProgramMinutes is the run time of every program.
	DefaultProgramMinutes = 45
	// DefaultProgramPrice is the coin price of every program but 0, which is free.
	DefaultProgramPrice = 4
)

// Simulator implements the washer's Modbus behaviour on a register table.
// It implements transport.Handler, so it can sit behind a serial line, a
// TCP listener or a local loopback port.
type Simulator struct {
	SlaveID byte
	// ProgramPrice returns the coins needed to start a program.
	ProgramPrice func(program uint16) uint16

	regs    *model.Registers
	storage persistence.Storage

	mu      sync.Mutex
	faulted bool
}

// New creates a simulator for slaveID on regs. storage may be nil.
func New(slaveID byte, regs *model.Registers, storage persistence.Storage) *Simulator {
	if storage == nil {
		storage = persistence.NewMemoryStorage()
	}
	return &Simulator{
		SlaveID:      slaveID,
		ProgramPrice: defaultPrice,
		regs:         regs,
		storage:      storage,
	}
}

func defaultPrice(program uint16) uint16 {
	if program == 0 {
		return 0
	}
	return DefaultProgramPrice
}

// Registers exposes the register table.
func (s *Simulator) Registers() *model.Registers { return s.regs }

// Close saves and closes the storage.
func (s *Simulator) Close() error {
	if err := s.storage.Save(s.regs); err != nil {
		slog.Error("Failed to save simulator state", "err", err)
	}
	return s.storage.Close()
}

// Handle answers one RTU request frame. Frames with a bad checksum or for
// another slave are ignored, as a device on a shared bus would.
func (s *Simulator) Handle(request []byte) []byte {
	adu, err := rtu.Decode(request)
	if err != nil {
		slog.Debug("simulator dropping frame", "err", err)
		return nil
	}
	if adu.SlaveID != s.SlaveID {
		return nil
	}

	resp := &rtu.ApplicationDataUnit{SlaveID: adu.SlaveID, Pdu: s.Process(adu.Pdu)}
	raw, err := resp.Encode()
	if err != nil {
		slog.Error("Failed to encode response", "err", err)
		return nil
	}
	return raw
}

// HandlePDU answers a Modbus TCP request. Unit 0xFF reaches the washer too,
// as TCP tools commonly use it for directly attached devices.
func (s *Simulator) HandlePDU(unitID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, bool) {
	if unitID != s.SlaveID && unitID != 0xFF {
		return modbus.ProtocolDataUnit{}, false
	}
	return s.Process(pdu), true
}

// Process executes the Modbus Function Code against the register table.
func (s *Simulator) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		return s.handleReadHoldingRegisters(req)
	case modbus.FuncCodeWriteSingleRegister:
		return s.handleWriteSingleRegister(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.handleWriteMultipleRegisters(req)
	default:
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func (s *Simulator) handleReadHoldingRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > rtu.MaxReadQuantity {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if s.faulted && overlaps(address, quantity, washer.RegStatusBase, washer.StatusQuantity) {
		return exception(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	data, err := s.regs.ReadBytes(address, quantity)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (s *Simulator) handleWriteSingleRegister(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])

	if err := s.regs.WriteBytes(address, 1, req.Data[2:4]); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	s.written(address, 1)

	return req // Echo request
}

func (s *Simulator) handleWriteMultipleRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > rtu.MaxWriteQuantity {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(byteCount) != len(req.Data)-5 || int(byteCount) != int(quantity)*2 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if err := s.regs.WriteBytes(address, quantity, req.Data[5:]); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	s.written(address, quantity)

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func exception(funcCode byte, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | modbus.ExceptionBit,
		Data:         []byte{code},
	}
}

func overlaps(address, quantity, base, size uint16) bool {
	return int(address) < int(base)+int(size) && int(base) < int(address)+int(quantity)
}
