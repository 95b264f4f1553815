// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package washer maps the washer's register map onto domain operations.
package washer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ffutop/wash-gateway/modbus/rtu"
)

var (
	ErrUnknownCommand  = errors.New("washer: unknown command")
	ErrMissingArgument = errors.New("washer: missing argument")
)

// Transactor performs register transactions on the bus. It is implemented
// by the RTU transaction engine.
type Transactor interface {
	ReadHoldingRegisters(ctx context.Context, slaveID byte, address, quantity uint16) ([]uint16, error)
	WriteMultipleRegisters(ctx context.Context, slaveID byte, address uint16, values []uint16) (*rtu.Response, error)
}

// ValidationError reports a parameter outside its accepted range. Nothing is
// sent to the washer when it is returned.
type ValidationError struct {
	Field    string
	Value    int
	Min, Max int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("washer: invalid %s %d: must be between %d and %d", e.Field, e.Value, e.Min, e.Max)
}

func validate(field string, value, min, max int) error {
	if value < min || value > max {
		return &ValidationError{Field: field, Value: value, Min: min, Max: max}
	}
	return nil
}

// Result is the outcome of a command.
type Result struct {
	Status  string `json:"status"` // "success" or "error"
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// OK reports whether the washer acknowledged the command.
func (r Result) OK() bool { return r.Status == "success" }

// Outcome classifies the failure, if any.
func (r Result) Outcome() rtu.Outcome { return rtu.OutcomeOf(r.Err) }

func success(message string) Result {
	return Result{Status: "success", Message: message}
}

func failure(message string, err error) Result {
	return Result{Status: "error", Message: message, Err: err}
}

// Controller drives one washer on the bus.
type Controller struct {
	bus     Transactor
	slaveID byte
}

// NewController returns a Controller talking to slaveID through bus.
func NewController(bus Transactor, slaveID byte) *Controller {
	return &Controller{bus: bus, slaveID: slaveID}
}

// SlaveID returns the bus address of the washer.
func (c *Controller) SlaveID() byte { return c.slaveID }

// ReadStatus reads the status block. If that fails it reads the error block
// instead, and if that fails too the status is zeroed and tagged as a
// communication error. It never returns nil.
func (c *Controller) ReadStatus(ctx context.Context) *Status {
	regs, err := c.bus.ReadHoldingRegisters(ctx, c.slaveID, RegStatusBase, StatusQuantity)
	if err == nil {
		s, decodeErr := DecodeStatus(regs)
		if decodeErr == nil {
			return s
		}
		err = decodeErr
	}
	slog.Warn("washer status read failed", "slave", c.slaveID, "outcome", rtu.OutcomeOf(err), "err", err)

	errRegs, errBlock := c.bus.ReadHoldingRegisters(ctx, c.slaveID, RegErrorBase, ErrorQuantity)
	if errBlock == nil {
		return faultStatus("N/A", faultWash, "error", errRegs, err)
	}
	slog.Error("washer error block read failed", "slave", c.slaveID, "outcome", rtu.OutcomeOf(errBlock), "err", errBlock)
	return faultStatus("error", faultConnect, "Failed to connect to washer.", nil, err)
}

// write sends values and checks the echoed address and count.
func (c *Controller) write(ctx context.Context, address uint16, values []uint16) error {
	resp, err := c.bus.WriteMultipleRegisters(ctx, c.slaveID, address, values)
	if err == nil {
		err = resp.VerifyEcho(address, uint16(len(values)))
	}
	if err != nil {
		slog.Warn("washer command failed", "slave", c.slaveID, "address", address, "values", values, "outcome", rtu.OutcomeOf(err), "err", err)
		return err
	}
	slog.Debug("washer command acknowledged", "slave", c.slaveID, "address", address, "values", values)
	return nil
}

func (c *Controller) ResetError(ctx context.Context) Result {
	if err := c.write(ctx, RegResetError, []uint16{1}); err != nil {
		return failure("Failed to send error reset command.", err)
	}
	return success("Error reset command sent.")
}

func (c *Controller) StartOperation(ctx context.Context) Result {
	if err := c.write(ctx, RegStart, []uint16{1}); err != nil {
		return failure("Failed to send start command.", err)
	}
	return success("Start command sent.")
}

func (c *Controller) StopOperation(ctx context.Context) Result {
	if err := c.write(ctx, RegStop, []uint16{1}); err != nil {
		return failure("Failed to send stop command.", err)
	}
	return success("Stop command sent.")
}

// SelectProgram selects program n, 0 through MaxProgram.
func (c *Controller) SelectProgram(ctx context.Context, n int) Result {
	if err := validate("program number", n, 0, MaxProgram); err != nil {
		return failure(fmt.Sprintf("Invalid program number. Must be between 0 and %d.", MaxProgram), err)
	}
	if err := c.write(ctx, RegProgram, []uint16{uint16(n)}); err != nil {
		return failure("Failed to select program.", err)
	}
	return success(fmt.Sprintf("Selected program %d.", n))
}

// AddCoins credits amount coins. Negative amounts are rejected.
func (c *Controller) AddCoins(ctx context.Context, amount int) Result {
	if err := validate("coin amount", amount, 0, MaxRegister); err != nil {
		return failure(fmt.Sprintf("Invalid coin amount. Must be between 0 and %d.", MaxRegister), err)
	}
	if err := c.write(ctx, RegAddCoins, []uint16{uint16(amount)}); err != nil {
		return failure("Failed to add coins.", err)
	}
	return success(fmt.Sprintf("Added %d coins.", amount))
}

// SendCommand writes value to an arbitrary register.
func (c *Controller) SendCommand(ctx context.Context, address, value int) Result {
	if err := validate("register address", address, 0, MaxRegister); err != nil {
		return failure(fmt.Sprintf("Invalid register address. Must be between 0 and %d.", MaxRegister), err)
	}
	if err := validate("register value", value, 0, MaxRegister); err != nil {
		return failure(fmt.Sprintf("Invalid register value. Must be between 0 and %d.", MaxRegister), err)
	}
	if err := c.write(ctx, uint16(address), []uint16{uint16(value)}); err != nil {
		return failure(fmt.Sprintf("Failed to send command to address %d.", address), err)
	}
	return success(fmt.Sprintf("Command sent to address %d.", address))
}

// Command runs a write by name. Known names are reset_error, start, stop,
// select_program and add_coins (dashes work too); a numeric name is taken as
// a register address and the first argument is written to it.
func (c *Controller) Command(ctx context.Context, name string, args ...int) Result {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")

	arg := func() (int, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("%w for %s", ErrMissingArgument, name)
		}
		return args[0], nil
	}

	switch key {
	case "reset_error", "reset":
		return c.ResetError(ctx)
	case "start", "start_operation":
		return c.StartOperation(ctx)
	case "stop", "stop_operation":
		return c.StopOperation(ctx)
	case "select_program", "program":
		n, err := arg()
		if err != nil {
			return failure("Missing program number.", err)
		}
		return c.SelectProgram(ctx, n)
	case "add_coins", "coins":
		n, err := arg()
		if err != nil {
			return failure("Missing coin amount.", err)
		}
		return c.AddCoins(ctx, n)
	}

	address, err := strconv.Atoi(key)
	if err != nil {
		return failure(fmt.Sprintf("Unknown command %q.", name), fmt.Errorf("%w: %q", ErrUnknownCommand, name))
	}
	value, err := arg()
	if err != nil {
		return failure(fmt.Sprintf("Missing value for address %d.", address), err)
	}
	return c.SendCommand(ctx, address, value)
}
