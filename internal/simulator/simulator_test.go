// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package simulator

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ffutop/wash-gateway/internal/simulator/model"
	"github.com/ffutop/wash-gateway/internal/simulator/persistence"
	"github.com/ffutop/wash-gateway/internal/washer"
	"github.com/ffutop/wash-gateway/modbus"
	"github.com/ffutop/wash-gateway/modbus/crc"
	"github.com/ffutop/wash-gateway/transport/local"
	"github.com/ffutop/wash-gateway/transport/rtu"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func newWasher(t *testing.T, sim *Simulator) *washer.Controller {
	t.Helper()
	port := local.NewPort(sim)
	port.ChunkSize = 16
	engine := rtu.NewEngine(port, rtu.EngineConfig{Clock: &fakeClock{now: time.Unix(0, 0)}})
	t.Cleanup(func() { engine.Close() })
	return washer.NewController(engine, sim.SlaveID)
}

func TestHandle(t *testing.T) {
	sim := New(1, model.NewRegisters(), nil)
	sim.Registers().Set(21, 0x0102)

	badCRC := crc.Append([]byte{0x01, 0x03, 0x00, 0x15, 0x00, 0x01})
	badCRC[len(badCRC)-1] ^= 0x01

	tests := []struct {
		name    string
		request []byte
		want    []byte
	}{
		{"Read", crc.Append([]byte{0x01, 0x03, 0x00, 0x15, 0x00, 0x01}), crc.Append([]byte{0x01, 0x03, 0x02, 0x01, 0x02})},
		{"OtherSlave", crc.Append([]byte{0x02, 0x03, 0x00, 0x15, 0x00, 0x01}), nil},
		{"BadChecksum", badCRC, nil},
		{"WriteSingle", crc.Append([]byte{0x01, 0x06, 0x00, 0x30, 0x00, 0x09}), crc.Append([]byte{0x01, 0x06, 0x00, 0x30, 0x00, 0x09})},
		{"WriteMultiple", crc.Append([]byte{0x01, 0x10, 0x00, 0x31, 0x00, 0x01, 0x02, 0x00, 0x05}), crc.Append([]byte{0x01, 0x10, 0x00, 0x31, 0x00, 0x01})},
		{"IllegalFunction", crc.Append([]byte{0x01, 0x04, 0x00, 0x00, 0x00, 0x01}), crc.Append([]byte{0x01, 0x84, modbus.ExceptionCodeIllegalFunction})},
		{"ZeroQuantity", crc.Append([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x00}), crc.Append([]byte{0x01, 0x83, modbus.ExceptionCodeIllegalDataValue})},
		{"TooMany", crc.Append([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x7E}), crc.Append([]byte{0x01, 0x83, modbus.ExceptionCodeIllegalDataValue})},
		{"PastEnd", crc.Append([]byte{0x01, 0x03, 0xFF, 0xFF, 0x00, 0x02}), crc.Append([]byte{0x01, 0x83, modbus.ExceptionCodeIllegalDataAddress})},
		{"ByteCountMismatch", crc.Append([]byte{0x01, 0x10, 0x00, 0x31, 0x00, 0x02, 0x02, 0x00, 0x05}), crc.Append([]byte{0x01, 0x90, modbus.ExceptionCodeIllegalDataValue})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sim.Handle(tt.request)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Handle(% X) = % X, want % X", tt.request, got, tt.want)
			}
		})
	}

	if sim.Registers().Get(0x30) != 9 || sim.Registers().Get(0x31) != 5 {
		t.Errorf("writes not applied: %d %d", sim.Registers().Get(0x30), sim.Registers().Get(0x31))
	}
}

func TestWasher_Zeroed(t *testing.T) {
	c := newWasher(t, New(1, model.NewRegisters(), nil))
	s := c.ReadStatus(context.Background())
	if !s.OK() || s.RunStatus != "Power on" || len(s.Raw) != 40 {
		t.Errorf("status = %+v", s)
	}
}

func TestWasher_WashCycle(t *testing.T) {
	ctx := context.Background()
	sim := New(1, model.NewRegisters(), nil)
	c := newWasher(t, sim)

	if res := c.SelectProgram(ctx, 3); !res.OK() {
		t.Fatalf("SelectProgram: %+v", res)
	}
	if res := c.StartOperation(ctx); !res.OK() {
		t.Fatalf("StartOperation: %+v", res)
	}
	s := c.ReadStatus(ctx)
	if s.RunStatus == "Autorun" || s.MustInsertCoin != 1 || s.CoinsRequired != DefaultProgramPrice {
		t.Fatalf("started without coins: %+v", s)
	}

	if res := c.AddCoins(ctx, 4); !res.OK() || res.Message != "Added 4 coins." {
		t.Fatalf("AddCoins: %+v", res)
	}
	if res := c.StartOperation(ctx); !res.OK() {
		t.Fatalf("StartOperation: %+v", res)
	}
	s = c.ReadStatus(ctx)
	if s.RunStatus != "Autorun" || s.DoorStatus != "locked" || s.Program != 3 || s.Step != 1 {
		t.Errorf("running status = %+v", s)
	}
	if s.CurrentCoins != 0 || s.TotalCoins != 4 || s.CashBoxCoins != 4 || s.MustInsertCoin != 0 {
		t.Errorf("coins = %d/%d/%d must %d", s.CurrentCoins, s.TotalCoins, s.CashBoxCoins, s.MustInsertCoin)
	}
	if s.RemainMin != DefaultProgramMinutes%60 {
		t.Errorf("remaining min = %d", s.RemainMin)
	}

	if res := c.StopOperation(ctx); !res.OK() {
		t.Fatalf("StopOperation: %+v", res)
	}
	s = c.ReadStatus(ctx)
	if s.RunStatus != "Standby" || s.DoorStatus != "normal" || s.Step != 0 {
		t.Errorf("stopped status = %+v", s)
	}
}

func TestWasher_FaultAndReset(t *testing.T) {
	ctx := context.Background()
	sim := New(1, model.NewRegisters(), nil)
	c := newWasher(t, sim)

	sim.Fault(17)
	s := c.ReadStatus(ctx)
	if s.OK() || s.RunStatus != "N/A" || s.Error != "Wash Error" {
		t.Fatalf("faulted status = %+v", s)
	}
	if len(s.RawError) != int(washer.ErrorQuantity) || s.RawError[0] != 17 {
		t.Errorf("raw error = %v", s.RawError)
	}

	if res := c.ResetError(ctx); !res.OK() {
		t.Fatalf("ResetError: %+v", res)
	}
	s = c.ReadStatus(ctx)
	if !s.OK() || s.ErrorStatus != "normal" || s.DoorStatus != "normal" {
		t.Errorf("status after reset = %+v", s)
	}
}

func TestWasher_SendCommand(t *testing.T) {
	sim := New(1, model.NewRegisters(), nil)
	c := newWasher(t, sim)

	if res := c.SendCommand(context.Background(), 5, 3); !res.OK() || res.Message != "Command sent to address 5." {
		t.Fatalf("SendCommand: %+v", res)
	}
	if got := sim.Registers().Get(washer.RegProgram); got != 3 {
		t.Errorf("program register = %d", got)
	}
}

func TestSimulator_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "washer.bin")

	storage := persistence.NewMmapStorage(path)
	regs, err := storage.Load()
	if err != nil {
		t.Fatal(err)
	}
	sim := New(1, regs, storage)
	if res := newWasher(t, sim).AddCoins(context.Background(), 9); !res.OK() {
		t.Fatalf("AddCoins: %+v", res)
	}
	if err := sim.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	storage = persistence.NewMmapStorage(path)
	regs, err = storage.Load()
	if err != nil {
		t.Fatal(err)
	}
	defer storage.Close()
	s := newWasher(t, New(1, regs, storage)).ReadStatus(context.Background())
	if s.TotalCoins != 9 {
		t.Errorf("total coins after restart = %d", s.TotalCoins)
	}
}
