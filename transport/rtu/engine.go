// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/wash-gateway/internal/config"
	rtupacket "github.com/ffutop/wash-gateway/modbus/rtu"
	"github.com/ffutop/wash-gateway/transport"
)

const (
	DefaultSettle       = 100 * time.Millisecond
	DefaultTimeout      = 500 * time.Millisecond
	DefaultPollInterval = 5 * time.Millisecond

	// maxDrain bounds the stale bytes discarded before a request, so a line
	// that never goes quiet cannot stall the engine.
	maxDrain = 4 * rtupacket.MaxSize
)

// NoSettle disables the settle delay. A zero Settle selects DefaultSettle.
const NoSettle time.Duration = -1

// State is the phase of the transaction engine.
type State int

const (
	StateIdle State = iota
	StateSending
	StateAwaitingResponse
	StateComplete
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting response"
	case StateComplete:
		return "complete"
	case StateTimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EngineConfig holds the timing of a transaction.
type EngineConfig struct {
	// Settle is waited between the end of transmission and the first read.
	// Zero means DefaultSettle; use NoSettle (or any negative value) to
	// start polling right away.
	Settle time.Duration
	// Timeout bounds the polling window after Settle.
	Timeout time.Duration
	// PollInterval is slept between reads that returned no data.
	PollInterval time.Duration
	// Clock defaults to transport.SystemClock.
	Clock transport.Clock
}

// Engine is a Modbus RTU master. It owns its port exclusively and runs one
// transaction at a time; there is no pipelining and no retry.
type Engine struct {
	port   transport.Port
	clock  transport.Clock
	config EngineConfig

	mu    sync.Mutex
	state State
	// rxbuf accumulates the bytes of the response being received.
	rxbuf []byte
	chunk [rtupacket.MaxSize]byte
}

// NewEngine allocates a transaction engine on port. Zero durations in cfg
// are replaced by the defaults; a negative Settle means none.
func NewEngine(port transport.Port, cfg EngineConfig) *Engine {
	if cfg.Settle < 0 {
		cfg.Settle = 0
	} else if cfg.Settle == 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = transport.SystemClock{}
	}
	return &Engine{
		port:   port,
		clock:  cfg.Clock,
		config: cfg,
		rxbuf:  make([]byte, 0, 2*rtupacket.MaxSize),
	}
}

// NewEngineConfig maps the engine section of the configuration. There the
// defaults are filled in by the loader, so an explicit settle of 0 turns
// the settle delay off.
func NewEngineConfig(cfg config.EngineConfig) EngineConfig {
	c := EngineConfig{
		Settle:       cfg.Settle,
		Timeout:      cfg.Timeout,
		PollInterval: cfg.PollInterval,
	}
	if c.Settle == 0 {
		c.Settle = NoSettle
	}
	return c
}

// State returns the phase of the current or last transaction.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close closes the underlying port.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port.Close()
}

// Transact sends an encoded request frame and returns the first checksum-valid
// response frame for the same slave and function code. The context is only
// consulted before the request is sent; a started transaction runs until it
// completes or times out.
func (e *Engine) Transact(ctx context.Context, request []byte) ([]byte, error) {
	if len(request) < rtupacket.MinSize {
		return nil, fmt.Errorf("%w: request length '%v' does not meet minimum '%v'", rtupacket.ErrMalformedFrame, len(request), rtupacket.MinSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.drain(); err != nil {
		e.state = StateIdle
		return nil, err
	}

	e.state = StateSending
	slog.Debug("send to modbus slave", "request", hex.EncodeToString(request))
	n, err := e.port.Write(request)
	if err == nil && n != len(request) {
		err = io.ErrShortWrite
	}
	if err != nil {
		e.state = StateIdle
		return nil, &rtupacket.TransportError{Op: "write", Err: err}
	}

	e.clock.Sleep(e.config.Settle)
	e.state = StateAwaitingResponse
	frame, err := e.awaitResponse(request[0], request[1], rtupacket.ExpectedResponseLength(request))
	if err != nil {
		if errors.Is(err, rtupacket.ErrTransport) {
			e.state = StateIdle
		} else {
			e.state = StateTimedOut
		}
		return nil, err
	}
	e.state = StateComplete
	slog.Debug("recv from modbus slave", "response", hex.EncodeToString(frame))
	return frame, nil
}

// drain discards bytes already pending on the port, typically the late
// answer to a transaction that timed out. Caller must hold the mutex.
func (e *Engine) drain() error {
	discarded := 0
	for discarded < maxDrain {
		n, err := e.port.Read(e.chunk[:])
		if err != nil {
			return &rtupacket.TransportError{Op: "read", Err: err}
		}
		if n == 0 {
			break
		}
		if discarded == 0 {
			slog.Debug("discarding stale modbus bytes", "received", hex.EncodeToString(e.chunk[:n]))
		}
		discarded += n
	}
	if discarded > 0 {
		slog.Debug("drained modbus port before request", "bytes", discarded)
	}
	return nil
}

// awaitResponse polls the port until a valid frame arrives or the window
// closes. A complete frame with a bad checksum does not end the wait. When
// length is known, normal responses of another size are ignored. Caller
// must hold the mutex.
func (e *Engine) awaitResponse(slaveID, functionCode byte, length int) ([]byte, error) {
	e.rxbuf = e.rxbuf[:0]
	deadline := e.clock.Now().Add(e.config.Timeout)
	badChecksum := false

	for {
		n, err := e.port.Read(e.chunk[:])
		if err != nil {
			return nil, &rtupacket.TransportError{Op: "read", Err: err}
		}
		if n > 0 {
			e.rxbuf = append(e.rxbuf, e.chunk[:n]...)
			if over := len(e.rxbuf) - 2*rtupacket.MaxSize; over > 0 {
				e.rxbuf = append(e.rxbuf[:0], e.rxbuf[over:]...)
			}

			frame, status := rtupacket.ScanResponseLength(e.rxbuf, slaveID, functionCode, length)
			switch status {
			case rtupacket.FrameComplete:
				return append([]byte(nil), frame...), nil
			case rtupacket.FrameBadChecksum:
				badChecksum = true
			default:
				badChecksum = false
			}
		}

		if !e.clock.Now().Before(deadline) {
			if len(e.rxbuf) > 0 {
				slog.Debug("discarding incomplete modbus response", "received", hex.EncodeToString(e.rxbuf))
			}
			if badChecksum {
				return nil, fmt.Errorf("%w: no valid frame within %v", rtupacket.ErrChecksumMismatch, e.config.Timeout)
			}
			return nil, rtupacket.ErrRequestTimedOut
		}
		if n == 0 {
			e.clock.Sleep(e.config.PollInterval)
		}
	}
}

// ReadHoldingRegisters reads quantity registers starting at address.
func (e *Engine) ReadHoldingRegisters(ctx context.Context, slaveID byte, address, quantity uint16) ([]uint16, error) {
	request, err := rtupacket.EncodeReadRequest(slaveID, address, quantity)
	if err != nil {
		return nil, err
	}
	raw, err := e.Transact(ctx, request)
	if err != nil {
		return nil, err
	}
	resp, err := rtupacket.DecodeResponse(raw, slaveID, request[1])
	if err != nil {
		return nil, err
	}
	if len(resp.Registers) != int(quantity) {
		return nil, fmt.Errorf("%w: response register count '%v' does not match request '%v'", rtupacket.ErrMalformedFrame, len(resp.Registers), quantity)
	}
	return resp.Registers, nil
}

// WriteMultipleRegisters writes values starting at address and returns the
// decoded response. Confirming the echoed address and count is left to the
// caller through Response.VerifyEcho.
func (e *Engine) WriteMultipleRegisters(ctx context.Context, slaveID byte, address uint16, values []uint16) (*rtupacket.Response, error) {
	request, err := rtupacket.EncodeWriteRequest(slaveID, address, values)
	if err != nil {
		return nil, err
	}
	raw, err := e.Transact(ctx, request)
	if err != nil {
		return nil, err
	}
	return rtupacket.DecodeResponse(raw, slaveID, request[1])
}
