// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/wash-gateway/internal/config"
	"github.com/grid-x/serial"
)

const (
	// Default timeout
	serialPollTimeout = 10 * time.Millisecond
	serialIdleTimeout = 60 * time.Second
)

// SerialPort is a pollable transport.Port on a local UART.
// The device is opened lazily and closed again after IdleTimeout without traffic.
type SerialPort struct {
	// Serial port configuration.
	serial.Config

	IdleTimeout time.Duration

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port         io.ReadWriteCloser
	lastActivity time.Time
	closeTimer   *time.Timer
}

// NewSerialPort maps the serial section of the configuration onto grid-x/serial.
// The read timeout is the poll granularity: a read with nothing pending
// returns after it with no data.
func NewSerialPort(cfg config.SerialConfig) *SerialPort {
	p := &SerialPort{IdleTimeout: serialIdleTimeout}
	p.Config = SerialConfig(cfg)
	if p.Config.Timeout <= 0 {
		p.Config.Timeout = serialPollTimeout
	}
	return p
}

// SerialConfig converts the configuration into a grid-x/serial.Config.
func SerialConfig(cfg config.SerialConfig) serial.Config {
	c := serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.PollTimeout,
	}
	if cfg.RS485 {
		c.RS485.Enabled = true
		c.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		c.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		c.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		c.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		c.RS485.RxDuringTx = cfg.RxDuringTx
	}
	return c
}

func (p *SerialPort) Connect(ctx context.Context) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connect(ctx)
}

// connect connects to the serial port if it is not connected. Caller must hold the mutex.
func (p *SerialPort) connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.port == nil {
		port, err := serial.Open(&p.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", p.Config.Address, err)
		}
		slog.Debug("serial port opened", "device", p.Config.Address, "baudRate", p.Config.BaudRate)
		p.port = port
	}
	return nil
}

// Write sends the whole frame, opening the device first if needed.
func (p *SerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(context.Background()); err != nil {
		return 0, err
	}
	p.lastActivity = time.Now()
	p.startCloseTimer()
	return p.port.Write(b)
}

// Read returns pending bytes. A read timeout is reported as 0, nil.
func (p *SerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(context.Background()); err != nil {
		return 0, err
	}
	n, err := p.port.Read(b)
	if errors.Is(err, serial.ErrTimeout) {
		return n, nil
	}
	if n > 0 {
		p.lastActivity = time.Now()
	}
	return n, err
}

func (p *SerialPort) Close() (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closeTimer != nil {
		p.closeTimer.Stop()
	}
	return p.close()
}

// close closes the serial port if it is connected. Caller must hold the mutex.
func (p *SerialPort) close() (err error) {
	if p.port != nil {
		err = p.port.Close()
		p.port = nil
	}
	return
}

func (p *SerialPort) startCloseTimer() {
	if p.IdleTimeout <= 0 {
		return
	}
	if p.closeTimer == nil {
		p.closeTimer = time.AfterFunc(p.IdleTimeout, p.closeIdle)
	} else {
		p.closeTimer.Reset(p.IdleTimeout)
	}
}

// closeIdle closes the connection if last activity is passed behind IdleTimeout.
func (p *SerialPort) closeIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.IdleTimeout <= 0 {
		return
	}

	if idle := time.Since(p.lastActivity); idle >= p.IdleTimeout {
		slog.Debug("modbus: closing serial port due to idle timeout", "device", p.Config.Address, "idle", idle)
		p.close()
	}
}
