// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	MinSize = 4
	MaxSize = 256

	ExceptionSize = 5
	// WriteResponseSize is the fixed size of a write multiple registers response.
	WriteResponseSize = 8
)

const (
	// MaxReadQuantity keeps the response byte count within one byte.
	MaxReadQuantity = 125
	// MaxWriteQuantity is 255/2 truncated, the most registers a one byte
	// byte count can describe.
	MaxWriteQuantity = 127
)
