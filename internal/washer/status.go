// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package washer

import (
	"encoding/json"
	"fmt"
)

// Envelope identifies the device in every status report.
const (
	AppName    = "wash"
	AppVersion = "WASH_MQTT_1"
	DeviceType = "wash"
)

const (
	faultWash    = "Wash Error"
	faultConnect = "Modbus Connect Error"
)

// Fault is the "error" member of a status report: false when the read
// succeeded, otherwise a short description.
type Fault string

func (f Fault) MarshalJSON() ([]byte, error) {
	if f == "" {
		return []byte("false"), nil
	}
	return json.Marshal(string(f))
}

func (f *Fault) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "false", "null":
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("washer: fault must be false or a string: %w", err)
	}
	*f = Fault(s)
	return nil
}

// Status is one decoded snapshot of the washer.
type Status struct {
	App        string `json:"app"`
	Version    string `json:"version"`
	DeviceType string `json:"device_type"`

	RunStatus   string `json:"run_status"`
	DoorStatus  string `json:"door_status"`
	ErrorStatus string `json:"error_status"`

	RemainHour uint16 `json:"auto_time_hour"`
	RemainMin  uint16 `json:"auto_time_min"`
	RemainSec  uint16 `json:"auto_time_sec"`

	InletTemperature  uint16 `json:"current_inlet_temperature"`
	OutletTemperature uint16 `json:"current_outlet_temperature"`
	Program           uint16 `json:"currently_running_program_number"`
	Step              uint16 `json:"currently_running_step_number"`

	CoinsRequired  uint16 `json:"coins_required_of_currently_selecting_program"`
	CurrentCoins   uint16 `json:"current_coins"`
	TotalCoins     uint16 `json:"total_coins_recorded"`
	CashBoxCoins   uint16 `json:"coins_recorded_in_cash_box"`
	Menu           uint16 `json:"machine_menu"`
	MustInsertCoin uint16 `json:"must_insert_coin"`
	CoinInserted   uint16 `json:"coin_inserted"`
	CoinInsert     uint16 `json:"coin_insert"`

	Raw      []uint16 `json:"raw_data"`
	RawError []uint16 `json:"raw_error,omitempty"`
	Message  string   `json:"message"`
	Error    Fault    `json:"error"`

	// Err is the failure of the primary status read, if any.
	Err error `json:"-"`
}

// OK reports whether the status block was read.
func (s *Status) OK() bool { return s.Error == "" }

func newStatus() *Status {
	return &Status{App: AppName, Version: AppVersion, DeviceType: DeviceType}
}

// DecodeStatus maps a status block read from RegStatusBase onto named
// fields. Registers past the known fields are only kept in Raw.
func DecodeStatus(regs []uint16) (*Status, error) {
	if len(regs) < decodedFields {
		return nil, fmt.Errorf("washer: status block has %d registers, need at least %d", len(regs), decodedFields)
	}
	s := newStatus()
	s.RunStatus = RunStatusName(regs[OffsetRunStatus])
	s.DoorStatus = DoorStatusName(regs[OffsetDoorStatus])
	s.ErrorStatus = ErrorStatusName(regs[OffsetErrorStatus])
	s.RemainHour = regs[OffsetRemainHour]
	s.RemainMin = regs[OffsetRemainMin]
	s.RemainSec = regs[OffsetRemainSec]
	s.InletTemperature = regs[OffsetInletTemperature]
	s.OutletTemperature = regs[OffsetOutletTemperature]
	s.Program = regs[OffsetProgram]
	s.Step = regs[OffsetStep]
	s.CoinsRequired = regs[OffsetCoinsRequired]
	s.CurrentCoins = regs[OffsetCurrentCoins]
	s.TotalCoins = regs[OffsetTotalCoins]
	s.CashBoxCoins = regs[OffsetCashBoxCoins]
	s.Menu = regs[OffsetMenu]
	s.CoinInserted = regs[OffsetCoinInserted]
	s.MustInsertCoin = regs[OffsetMustInsertCoin]
	s.CoinInsert = regs[OffsetCoinInsert]
	s.Raw = append([]uint16(nil), regs...)
	s.Message = "success"
	return s, nil
}

// faultStatus is reported when the status block could not be read. Every
// numeric field is zero, the door and error flags show the error codes.
func faultStatus(runStatus string, fault Fault, message string, rawError []uint16, err error) *Status {
	s := newStatus()
	s.RunStatus = runStatus
	s.DoorStatus = DoorStatusName(DoorError)
	s.ErrorStatus = ErrorStatusName(1)
	s.RawError = rawError
	s.Message = message
	s.Error = fault
	s.Err = err
	return s
}
