// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package local

import (
	"io"
	"sync"

	"github.com/ffutop/wash-gateway/transport"
)

// Port is an in-process transport.Port wired straight to a Handler, usually
// the washer simulator. Every written frame is handed to the handler and its
// response is queued for reading.
type Port struct {
	// ChunkSize limits how many bytes a single Read returns, so callers can
	// be exercised against responses trickling in. Zero means no limit.
	ChunkSize int

	mu      sync.Mutex
	handler transport.Handler
	pending []byte
	closed  bool
}

// NewPort creates a loopback port in front of handler.
func NewPort(handler transport.Handler) *Port {
	return &Port{handler: handler}
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	request := append([]byte(nil), b...)
	if response := p.handler.Handle(request); response != nil {
		p.pending = append(p.pending, response...)
	}
	return len(b), nil
}

// Read returns queued response bytes, or 0, nil when nothing is queued.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p.pending) == 0 {
		return 0, nil
	}
	limit := len(b)
	if p.ChunkSize > 0 && p.ChunkSize < limit {
		limit = p.ChunkSize
	}
	n := copy(b[:limit], p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Inject queues raw bytes as if the line had produced them.
func (p *Port) Inject(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b...)
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.pending = nil
	return nil
}
