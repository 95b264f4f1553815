// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	tcpTimeout  = 10 * time.Second
	pollTimeout = 10 * time.Millisecond
)

// Port carries RTU frames over a TCP connection, as serial device servers
// in transparent mode do. It dials lazily and redials after a failure.
type Port struct {
	Address string
	// Timeout bounds dialing and writing.
	Timeout time.Duration
	// PollTimeout is how long a Read waits for data before reporting none.
	PollTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewPort allocates a Port for address.
func NewPort(address string) *Port {
	return &Port{
		Address:     address,
		Timeout:     tcpTimeout,
		PollTimeout: pollTimeout,
	}
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return 0, fmt.Errorf("modbus: failed to connect to %s: %w", p.Address, err)
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.Timeout)); err != nil {
		p.close()
		return 0, err
	}
	n, err := p.conn.Write(b)
	if err != nil {
		p.close() // force reconnect next time
	}
	return n, err
}

// Read returns pending bytes, or 0, nil if none arrived within PollTimeout.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return 0, fmt.Errorf("modbus: failed to connect to %s: %w", p.Address, err)
	}
	if err := p.conn.SetReadDeadline(time.Now().Add(p.PollTimeout)); err != nil {
		p.close()
		return 0, err
	}
	n, err := p.conn.Read(b)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, nil
		}
		p.close()
	}
	return n, err
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.close()
	return nil
}

// connect ensures there is an active connection. Caller must hold the mutex.
func (p *Port) connect() error {
	if p.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", p.Address, p.Timeout)
	if err != nil {
		return err
	}
	p.conn = conn
	return nil
}

// close closes the connection and resets the state. Caller must hold the mutex.
func (p *Port) close() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
