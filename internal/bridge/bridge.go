// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ffutop/wash-gateway/internal/washer"
)

var ErrStopped = errors.New("bridge: stopped")

// Device is the washer seen by the bridge. *washer.Controller implements it.
type Device interface {
	ReadStatus(ctx context.Context) *washer.Status
	Command(ctx context.Context, name string, args ...int) washer.Result
}

type queuedRequest struct {
	ctx      context.Context
	status   bool
	name     string
	args     []int
	response chan<- *queuedResponse
}

type queuedResponse struct {
	status *washer.Status
	result washer.Result
}

// Bridge owns the washer and serializes everything that touches it through
// one worker goroutine: queued status reads, queued commands and the
// periodic status poll.
type Bridge struct {
	device   Device
	interval time.Duration
	// OnStatus receives every polled status. It runs on the worker, so it
	// must not call back into the Bridge.
	OnStatus func(*washer.Status)

	requestChan chan *queuedRequest
	done        chan struct{}
}

// New creates a Bridge polling device every interval. A non-positive
// interval disables polling.
func New(device Device, interval time.Duration, onStatus func(*washer.Status)) *Bridge {
	return &Bridge{
		device:   device,
		interval: interval,
		OnStatus: onStatus,
		// init queue, set a reasonable buffer size
		requestChan: make(chan *queuedRequest, 16),
		done:        make(chan struct{}),
	}
}

// Start runs the worker until ctx is done. The first poll happens at once.
func (b *Bridge) Start(ctx context.Context) error {
	defer close(b.done)
	slog.Debug("bridge worker started", "interval", b.interval)

	var tick <-chan time.Time
	if b.interval > 0 {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		tick = ticker.C
		b.poll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Debug("bridge worker stopped")
			return nil
		case req := <-b.requestChan:
			b.serve(req)
		case <-tick:
			b.poll(ctx)
		}
	}
}

func (b *Bridge) poll(ctx context.Context) {
	s := b.device.ReadStatus(ctx)
	if !s.OK() {
		slog.Warn("washer status poll failed", "error", string(s.Error), "err", s.Err)
	}
	if b.OnStatus != nil {
		b.OnStatus(s)
	}
}

func (b *Bridge) serve(req *queuedRequest) {
	// the caller may have given up while the request was queued
	if req.ctx.Err() != nil {
		req.response <- &queuedResponse{result: washer.Result{Status: "error", Message: "Request cancelled.", Err: req.ctx.Err()}}
		return
	}
	if req.status {
		req.response <- &queuedResponse{status: b.device.ReadStatus(req.ctx)}
		return
	}
	req.response <- &queuedResponse{result: b.device.Command(req.ctx, req.name, req.args...)}
}

func (b *Bridge) submit(ctx context.Context, req *queuedRequest) (*queuedResponse, error) {
	responseChan := make(chan *queuedResponse, 1)
	req.ctx = ctx
	req.response = responseChan

	select {
	case b.requestChan <- req:
	case <-b.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-responseChan:
		return resp, nil
	case <-b.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status reads the washer status through the worker.
func (b *Bridge) Status(ctx context.Context) (*washer.Status, error) {
	resp, err := b.submit(ctx, &queuedRequest{status: true})
	if err != nil {
		return nil, err
	}
	if resp.status == nil {
		// dropped by the worker because ctx ended while it was queued
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrStopped
	}
	return resp.status, nil
}

// Command runs a named washer command through the worker.
func (b *Bridge) Command(ctx context.Context, name string, args ...int) (washer.Result, error) {
	resp, err := b.submit(ctx, &queuedRequest{name: name, args: args})
	if err != nil {
		return washer.Result{}, err
	}
	return resp.result, nil
}

// ParseCommand splits a command line such as "add_coins 5" or "send 42 7"
// into a washer command name and its integer arguments. "send" turns into
// a numeric register name.
func ParseCommand(line string) (name string, args []int, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}
	name = fields[0]
	for _, f := range fields[1:] {
		n, err := strconv.Atoi(f)
		if err != nil {
			return "", nil, fmt.Errorf("invalid argument %q: %w", f, err)
		}
		args = append(args, n)
	}
	if name == "send" {
		if len(args) != 2 {
			return "", nil, fmt.Errorf("send needs an address and a value")
		}
		return strconv.Itoa(args[0]), args[1:], nil
	}
	return name, args, nil
}
