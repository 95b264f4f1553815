// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package washer

import "fmt"

// Command registers. Each is written with a single value.
const (
	RegResetError uint16 = 0
	RegStart      uint16 = 1
	RegStop       uint16 = 3
	RegAddCoins   uint16 = 4
	RegProgram    uint16 = 5
)

// Status blocks.
const (
	RegStatusBase  uint16 = 20
	StatusQuantity uint16 = 40
	RegErrorBase   uint16 = 60
	ErrorQuantity  uint16 = 9
)

// Offsets into the status block, relative to RegStatusBase.
const (
	OffsetRunStatus = iota
	OffsetDoorStatus
	OffsetErrorStatus
	OffsetRemainHour
	OffsetRemainMin
	OffsetRemainSec
	OffsetInletTemperature
	OffsetOutletTemperature
	OffsetProgram
	OffsetStep
	OffsetCoinsRequired
	OffsetCurrentCoins
	OffsetTotalCoins
	OffsetCashBoxCoins
	OffsetMenu
	OffsetCoinInserted
	OffsetMustInsertCoin
	OffsetCoinInsert

	decodedFields
)

// Parameter ranges.
const (
	MaxProgram  = 30
	MaxRegister = 0xFFFF
)

// Run status codes.
const (
	RunPowerOn uint16 = iota
	RunStandby
	RunNotAvailable
	RunAutorun
	RunManual
	RunIdle
)

var runStatusNames = map[uint16]string{
	RunPowerOn:      "Power on",
	RunStandby:      "Standby",
	RunNotAvailable: "N/A",
	RunAutorun:      "Autorun",
	RunManual:       "Manual",
	RunIdle:         "Idle",
}

// Door status codes.
const (
	DoorNormal uint16 = iota
	DoorOpened
	DoorClosed
	DoorLocked
	DoorError
	DoorLocking
)

var doorStatusNames = map[uint16]string{
	DoorNormal:  "normal",
	DoorOpened:  "opened",
	DoorClosed:  "closed",
	DoorLocked:  "locked",
	DoorError:   "error",
	DoorLocking: "locking",
}

var errorStatusNames = map[uint16]string{
	0: "normal",
	1: "error",
}

func lookup(names map[uint16]string, code uint16) string {
	if name, ok := names[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%d)", code)
}

// RunStatusName returns the label of a run status code.
func RunStatusName(code uint16) string { return lookup(runStatusNames, code) }

// DoorStatusName returns the label of a door status code.
func DoorStatusName(code uint16) string { return lookup(doorStatusNames, code) }

// ErrorStatusName returns the label of an error status code.
func ErrorStatusName(code uint16) string { return lookup(errorStatusNames, code) }
