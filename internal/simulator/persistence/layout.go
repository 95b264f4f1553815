// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"os"

	"github.com/ffutop/wash-gateway/internal/simulator/model"
)

// ensureSize grows or truncates f to hold exactly one register table.
// A new file reads back as all zeroes.
func ensureSize(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() != int64(model.Size) {
		if err := f.Truncate(int64(model.Size)); err != nil {
			return fmt.Errorf("failed to resize file: %w", err)
		}
	}
	return nil
}
