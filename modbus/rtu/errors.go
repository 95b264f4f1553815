// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"

	"github.com/ffutop/wash-gateway/modbus"
)

var (
	ErrRequestTimedOut    = errors.New("modbus: request timed out")
	ErrChecksumMismatch   = errors.New("modbus: checksum mismatch")
	ErrMalformedFrame     = errors.New("modbus: malformed frame")
	ErrUnexpectedResponse = errors.New("modbus: unexpected response")
	ErrInvalidQuantity    = errors.New("modbus: invalid quantity")
	ErrTransport          = errors.New("modbus: transport failure")
)

type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

func (e *InvalidLengthError) Is(target error) bool {
	return target == ErrMalformedFrame
}

// TransportError reports that the underlying port could not be used.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("modbus: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// EchoMismatchError is returned when a write response does not confirm the
// requested address and count. The device may have executed a different
// operation, so it also matches ErrTransport.
type EchoMismatchError struct {
	Address, Count         uint16
	EchoAddress, EchoCount uint16
}

func (e *EchoMismatchError) Error() string {
	return fmt.Sprintf("modbus: write echo address '%v' count '%v' does not match request address '%v' count '%v'",
		e.EchoAddress, e.EchoCount, e.Address, e.Count)
}

func (e *EchoMismatchError) Is(target error) bool {
	return target == ErrTransport
}

// Outcome classifies the result of a transaction.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeProtocolException
	OutcomeTimeout
	OutcomeChecksumMismatch
	OutcomeEchoMismatch
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeProtocolException:
		return "protocol exception"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeChecksumMismatch:
		return "checksum mismatch"
	case OutcomeEchoMismatch:
		return "echo mismatch"
	default:
		return "transport error"
	}
}

// OutcomeOf maps an error returned by the codec or the engine to its Outcome.
// Errors outside the taxonomy count as transport errors.
func OutcomeOf(err error) Outcome {
	var exception *modbus.ExceptionError
	var echo *EchoMismatchError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &exception):
		return OutcomeProtocolException
	case errors.As(err, &echo):
		return OutcomeEchoMismatch
	case errors.Is(err, ErrChecksumMismatch):
		return OutcomeChecksumMismatch
	case errors.Is(err, ErrRequestTimedOut):
		return OutcomeTimeout
	default:
		return OutcomeTransportError
	}
}
