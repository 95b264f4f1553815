// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ffutop/wash-gateway/internal/config"
	"github.com/spf13/pflag"
)

const usage = `Usage: washgw [flags] <command> [args]

Commands:
  status                  read the washer status
  start                   start the selected program
  stop                    stop the running program
  reset-error             clear the washer error
  select-program N        select program N (0-30)
  add-coins N             credit N coins
  send ADDR VALUE         write VALUE to register ADDR
  watch                   poll the status and read commands from stdin
  simulate                run the washer simulator as a slave
  ports                   list serial ports

Flags:
`

func main() {
	flags := pflag.NewFlagSet("washgw", pflag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	configFile := flags.StringP("config", "c", "", "Configuration file path.")
	flags.StringP("log.level", "v", "info", "Log verbosity level (debug, info, warn, error).")
	flags.StringP("log.file", "L", "", "Log file name ('-' for logging to STDERR only).")
	flags.IntP("slave_id", "s", 1, "Modbus address of the washer.")
	flags.StringP("transport.type", "t", "rtu", "How to reach the washer (rtu, rtu-over-tcp, local).")
	flags.StringP("transport.serial.device", "p", "/dev/ttyUSB0", "Serial port device name.")
	flags.IntP("transport.serial.baud_rate", "b", 9600, "Serial port speed.")
	flags.StringP("transport.tcp.address", "a", "127.0.0.1:4196", "Address of the serial device server.")
	flags.DurationP("engine.timeout", "W", 500*time.Millisecond, "Response wait time.")
	flags.DurationP("poll.interval", "i", 5*time.Second, "Status poll interval for watch.")
	flags.String("simulator.type", "rtu-over-tcp", "Simulator listener (rtu, rtu-over-tcp, tcp).")
	flags.String("simulator.tcp.address", "0.0.0.0:4196", "Simulator listen address.")
	flags.String("simulator.persistence.type", "memory", "Simulator storage (memory, file, mmap).")
	flags.String("simulator.persistence.path", "", "Simulator storage file.")
	flags.Parse(os.Args[1:])

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	os.Exit(run(cfg, args[0], args[1:]))
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	// stdout carries the JSON reports, so logs go to stderr
	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file, falling back to stderr: %v\n", err)
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
