// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/wash-gateway/internal/config"
	"github.com/ffutop/wash-gateway/internal/simulator/model"
)

// Storage defines the interface for persisting the simulated washer's registers.
type Storage interface {
	// Load loads the register table from storage.
	// If no data exists, it returns a zeroed table.
	Load() (*model.Registers, error)

	// Save saves the current register table to storage.
	Save(regs *model.Registers) error

	// OnWrite is a hook called whenever registers are modified.
	// It allows the storage to perform real-time persistence.
	OnWrite(address, quantity uint16)

	Close() error
}

// Open selects the storage named by cfg and loads the register table from
// it. If loading fails the washer starts on a fresh in-memory table.
func Open(cfg config.PersistenceConfig) (Storage, *model.Registers) {
	var storage Storage
	switch cfg.Type {
	case "file":
		slog.Info("Initializing simulator with file persistence", "path", cfg.Path)
		storage = NewFileStorage(cfg.Path)
	case "mmap":
		slog.Info("Initializing simulator with MMAP persistence", "path", cfg.Path)
		storage = NewMmapStorage(cfg.Path)
	default:
		slog.Info("Initializing simulator with memory storage (non-persistent)")
		storage = NewMemoryStorage()
	}

	regs, err := storage.Load()
	if err != nil {
		slog.Error("Failed to load persistence data, falling back to MemoryStorage", "err", err)
		storage = NewMemoryStorage()
		regs, _ = storage.Load()
	}
	return storage, regs
}

func registersOn(data []byte) (*model.Registers, error) {
	regs, err := model.NewRegistersOn(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt register file: %w", err)
	}
	return regs, nil
}
