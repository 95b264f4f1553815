// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"log/slog"

	"github.com/ffutop/wash-gateway/internal/washer"
)

func statusReg(offset int) uint16 { return washer.RegStatusBase + uint16(offset) }

var (
	regRun          = statusReg(washer.OffsetRunStatus)
	regDoor         = statusReg(washer.OffsetDoorStatus)
	regError        = statusReg(washer.OffsetErrorStatus)
	regRemainHour   = statusReg(washer.OffsetRemainHour)
	regRemainMin    = statusReg(washer.OffsetRemainMin)
	regRemainSec    = statusReg(washer.OffsetRemainSec)
	regProgram      = statusReg(washer.OffsetProgram)
	regStep         = statusReg(washer.OffsetStep)
	regCoinsNeeded  = statusReg(washer.OffsetCoinsRequired)
	regCurrentCoins = statusReg(washer.OffsetCurrentCoins)
	regTotalCoins   = statusReg(washer.OffsetTotalCoins)
	regCashBox      = statusReg(washer.OffsetCashBoxCoins)
	regMenu         = statusReg(washer.OffsetMenu)
	regCoinInserted = statusReg(washer.OffsetCoinInserted)
	regMustInsert   = statusReg(washer.OffsetMustInsertCoin)
)

// written reacts to command registers inside a written range and hands the
// change to the storage. Caller must hold the mutex.
func (s *Simulator) written(address, quantity uint16) {
	end := int(address) + int(quantity)
	for _, reg := range []uint16{washer.RegResetError, washer.RegStart, washer.RegStop, washer.RegAddCoins, washer.RegProgram} {
		if int(reg) >= int(address) && int(reg) < end {
			s.apply(reg)
		}
	}
	s.storage.OnWrite(address, quantity)
}

func (s *Simulator) apply(reg uint16) {
	s.regs.Update(func(get func(uint16) uint16, set func(uint16, uint16)) {
		value := get(reg)
		switch reg {
		case washer.RegResetError:
			if value == 0 {
				return
			}
			s.faulted = false
			set(regError, 0)
			if get(regDoor) == washer.DoorError {
				set(regDoor, washer.DoorNormal)
			}
			for i := uint16(0); i < washer.ErrorQuantity; i++ {
				set(washer.RegErrorBase+i, 0)
			}
			set(reg, 0)
			slog.Info("simulator: error reset")

		case washer.RegStart:
			if value == 0 {
				return
			}
			set(reg, 0)
			if s.faulted || get(regRun) == washer.RunAutorun {
				return
			}
			program := get(washer.RegProgram)
			price := s.ProgramPrice(program)
			coins := get(regCurrentCoins)
			if coins < price {
				set(regMustInsert, 1)
				slog.Info("simulator: start refused, not enough coins", "coins", coins, "price", price)
				return
			}
			set(regCurrentCoins, coins-price)
			set(regMustInsert, 0)
			set(regRun, washer.RunAutorun)
			set(regDoor, washer.DoorLocked)
			set(regProgram, program)
			set(regStep, 1)
			set(regRemainHour, DefaultProgramMinutes/60)
			set(regRemainMin, DefaultProgramMinutes%60)
			set(regRemainSec, 0)
			slog.Info("simulator: program started", "program", program)

		case washer.RegStop:
			if value == 0 {
				return
			}
			set(reg, 0)
			set(regRun, washer.RunStandby)
			if get(regDoor) == washer.DoorLocked {
				set(regDoor, washer.DoorNormal)
			}
			set(regStep, 0)
			set(regRemainHour, 0)
			set(regRemainMin, 0)
			set(regRemainSec, 0)
			slog.Info("simulator: program stopped")

		case washer.RegAddCoins:
			if value == 0 {
				return
			}
			set(reg, 0)
			for _, r := range []uint16{regCurrentCoins, regTotalCoins, regCashBox} {
				set(r, saturatingAdd(get(r), value))
			}
			set(regCoinInserted, value)
			if get(regCurrentCoins) >= get(regCoinsNeeded) {
				set(regMustInsert, 0)
			}
			slog.Info("simulator: coins added", "amount", value)

		case washer.RegProgram:
			set(regMenu, value)
			set(regCoinsNeeded, s.ProgramPrice(value))
			slog.Info("simulator: program selected", "program", value)
		}
	})
}

// Fault puts the washer into an error state: the status block stops
// answering and the error block carries code until the error is reset.
func (s *Simulator) Fault(code uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.faulted = true
	s.regs.Update(func(get func(uint16) uint16, set func(uint16, uint16)) {
		set(regError, 1)
		set(regDoor, washer.DoorError)
		set(washer.RegErrorBase, code)
	})
	s.storage.OnWrite(washer.RegStatusBase, washer.StatusQuantity)
}

func saturatingAdd(a, b uint16) uint16 {
	if sum := uint32(a) + uint32(b); sum <= 0xFFFF {
		return uint16(sum)
	}
	return 0xFFFF
}
