// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package bridge

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ffutop/wash-gateway/internal/washer"
)

// fakeDevice flags calls that overlap.
type fakeDevice struct {
	active   atomic.Bool
	overlap  atomic.Bool
	reads    atomic.Int32
	mu       sync.Mutex
	commands []string
}

func (d *fakeDevice) enter() {
	if !d.active.CompareAndSwap(false, true) {
		d.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
}

func (d *fakeDevice) leave() { d.active.Store(false) }

func (d *fakeDevice) ReadStatus(ctx context.Context) *washer.Status {
	d.enter()
	defer d.leave()
	d.reads.Add(1)
	return &washer.Status{RunStatus: "Standby", Message: "success"}
}

func (d *fakeDevice) Command(ctx context.Context, name string, args ...int) washer.Result {
	d.enter()
	defer d.leave()
	d.mu.Lock()
	d.commands = append(d.commands, name)
	d.mu.Unlock()
	return washer.Result{Status: "success", Message: name + " done"}
}

func TestBridge_Serializes(t *testing.T) {
	dev := &fakeDevice{}
	polled := make(chan *washer.Status, 100)
	b := New(dev, 5*time.Millisecond, func(s *washer.Status) {
		select {
		case polled <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := b.Command(ctx, "start")
			if err != nil || !res.OK() {
				t.Errorf("Command = %+v, %v", res, err)
			}
		}()
		go func() {
			defer wg.Done()
			s, err := b.Status(ctx)
			if err != nil || s.RunStatus != "Standby" {
				t.Errorf("Status = %+v, %v", s, err)
			}
		}()
	}
	wg.Wait()

	select {
	case s := <-polled:
		if s.RunStatus != "Standby" {
			t.Errorf("polled %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no status polled")
	}
	if dev.overlap.Load() {
		t.Error("device calls overlapped")
	}
	if len(dev.commands) != 10 {
		t.Errorf("%d commands reached the device", len(dev.commands))
	}
}

func TestBridge_Stopped(t *testing.T) {
	b := New(&fakeDevice{}, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		b.Start(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	if _, err := b.Status(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Status after stop: %v", err)
	}
	if _, err := b.Command(context.Background(), "stop"); !errors.Is(err, ErrStopped) {
		t.Errorf("Command after stop: %v", err)
	}
}

func TestBridge_CallerTimeout(t *testing.T) {
	// never started: the request can only sit in the queue
	b := New(&fakeDevice{}, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Status(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Status = %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		name    string
		args    []int
		wantErr bool
	}{
		{"start", "start", nil, false},
		{"  add_coins 5 ", "add_coins", []int{5}, false},
		{"select_program 3", "select_program", []int{3}, false},
		{"send 42 7", "42", []int{7}, false},
		{"send 42", "", nil, true},
		{"add_coins five", "", nil, true},
		{"", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, args, err := ParseCommand(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if name != tt.name || !reflect.DeepEqual(args, tt.args) {
				t.Errorf("ParseCommand(%q) = %q %v", tt.line, name, args)
			}
		})
	}
}

func TestBridge_StatusCancelledWhileQueued(t *testing.T) {
	b := New(&fakeDevice{}, 0, nil)

	// serve requests by hand so the cancelled request really reaches the worker
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case req := <-b.requestChan:
				b.serve(req)
			case <-stop:
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 200; i++ {
		s, err := b.Status(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Status = %+v, %v; want context.Canceled", s, err)
		}
		if s != nil {
			t.Fatalf("Status returned %+v with an error", s)
		}
	}
}
