// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/ffutop/wash-gateway/internal/bridge"
	"github.com/ffutop/wash-gateway/internal/config"
	"github.com/ffutop/wash-gateway/internal/simulator"
	"github.com/ffutop/wash-gateway/internal/simulator/persistence"
	"github.com/ffutop/wash-gateway/internal/washer"
	"github.com/ffutop/wash-gateway/transport"
	"github.com/ffutop/wash-gateway/transport/local"
	"github.com/ffutop/wash-gateway/transport/rtu"
	rtuovertcp "github.com/ffutop/wash-gateway/transport/rtu-over-tcp"
	"github.com/ffutop/wash-gateway/transport/tcp"
)

var (
	outMu sync.Mutex
	out   = json.NewEncoder(os.Stdout)
)

func run(cfg *config.Config, command string, args []string) int {
	ctx, cancel := signalContext()
	defer cancel()

	switch command {
	case "ports":
		return listPorts()
	case "simulate":
		return simulate(ctx, cfg)
	}

	controller, closer, err := openWasher(cfg)
	if err != nil {
		slog.Error("Failed to open transport", "type", cfg.Transport.Type, "err", err)
		return 1
	}
	defer closer.Close()

	switch command {
	case "status":
		s := controller.ReadStatus(ctx)
		report(s)
		return exitCode(s.OK())
	case "watch":
		return watch(ctx, cfg, controller, os.Stdin)
	case "send":
		if len(args) != 2 {
			slog.Error("send needs an address and a value")
			return 2
		}
		command = args[0]
		args = args[1:]
	case "start", "stop", "reset-error", "select-program", "add-coins":
	default:
		slog.Error("Unknown command", "command", command)
		return 2
	}

	values, err := atoiAll(args)
	if err != nil {
		slog.Error("Invalid argument", "err", err)
		return 2
	}
	res := controller.Command(ctx, command, values...)
	report(res)
	return exitCode(res.OK())
}

// openWasher builds the transport named by the configuration, the engine on
// top of it and the washer controller.
func openWasher(cfg *config.Config) (*washer.Controller, io.Closer, error) {
	var port transport.Port
	switch cfg.Transport.Type {
	case "rtu":
		slog.Debug("init Modbus RTU master", "device", cfg.Transport.Serial.Device, "baudRate", cfg.Transport.Serial.BaudRate, "parity", cfg.Transport.Serial.Parity)
		port = rtu.NewSerialPort(cfg.Transport.Serial)
	case "rtu-over-tcp":
		slog.Debug("init Modbus RTU over TCP master", "addr", cfg.Transport.Tcp.Address)
		port = rtuovertcp.NewPort(cfg.Transport.Tcp.Address)
	case "local":
		sim := newSimulator(cfg)
		port = &simulatorPort{Port: local.NewPort(sim), sim: sim}
	default:
		return nil, nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}

	engine := rtu.NewEngine(port, rtu.NewEngineConfig(cfg.Engine))
	return washer.NewController(engine, byte(cfg.SlaveID)), engine, nil
}

// simulatorPort closes the simulator together with the loopback port.
type simulatorPort struct {
	*local.Port
	sim *simulator.Simulator
}

func (p *simulatorPort) Close() error {
	p.Port.Close()
	return p.sim.Close()
}

func newSimulator(cfg *config.Config) *simulator.Simulator {
	storage, regs := persistence.Open(cfg.Simulator.Persistence)
	return simulator.New(byte(cfg.SlaveID), regs, storage)
}

func simulate(ctx context.Context, cfg *config.Config) int {
	sim := newSimulator(cfg)
	defer sim.Close()

	var err error
	switch cfg.Simulator.Type {
	case "rtu":
		err = rtu.NewServer(cfg.Simulator.Serial).Start(ctx, sim)
	case "tcp":
		err = tcp.NewServer(cfg.Simulator.Tcp.Address).Start(ctx, sim)
	default:
		err = rtuovertcp.NewServer(cfg.Simulator.Tcp.Address).Start(ctx, sim)
	}
	if err != nil {
		slog.Error("Simulator stopped with error", "err", err)
		return 1
	}
	slog.Info("Goodbye.")
	return 0
}

// watch reports the status every poll interval and runs the commands read
// from in, one per line, until in is exhausted or a signal arrives.
func watch(ctx context.Context, cfg *config.Config, controller *washer.Controller, in io.Reader) int {
	b := bridge.New(controller, cfg.Poll.Interval, func(s *washer.Status) { report(s) })

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Start(ctx)
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line == "status" {
			s, err := b.Status(ctx)
			if err != nil {
				break
			}
			report(s)
			continue
		}
		name, args, err := bridge.ParseCommand(line)
		if err != nil {
			report(washer.Result{Status: "error", Message: err.Error()})
			continue
		}
		res, err := b.Command(ctx, name, args...)
		if err != nil {
			break
		}
		report(res)
	}

	// keep polling after stdin closes, until a signal
	<-ctx.Done()
	<-done
	return 0
}

func listPorts() int {
	ports, err := rtu.ListPorts()
	if err != nil {
		slog.Error("Failed to list serial ports", "err", err)
		return 1
	}
	report(ports)
	return 0
}

// report writes v as one JSON line. The bridge worker and the command loop
// both report, so writes are serialized.
func report(v any) {
	outMu.Lock()
	defer outMu.Unlock()
	if err := out.Encode(v); err != nil {
		slog.Error("Failed to write report", "err", err)
	}
}

func atoiAll(args []string) ([]int, error) {
	values := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		values = append(values, n)
	}
	return values, nil
}

func exitCode(ok bool) int {
	if ok {
		return 0
	}
	return 1
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			slog.Info("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}
