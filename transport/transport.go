// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"io"
	"time"

	"github.com/ffutop/wash-gateway/modbus"
)

// Port is the byte stream a Modbus master owns on a half-duplex bus.
//
// Write either accepts the whole frame or fails. Read is pollable: it returns
// whatever bytes are pending and 0, nil when nothing has arrived yet, so the
// caller can bound its wait with a Clock instead of the read blocking.
type Port interface {
	io.ReadWriteCloser
}

// Clock is the monotonic time source used for settle delays and response
// timeouts. Tests substitute a fake one.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the Clock backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Handler answers one request frame with one response frame. A nil response
// means the device stays silent. It is implemented by the washer simulator.
type Handler interface {
	Handle(request []byte) (response []byte)
}

// PDUHandler answers a request PDU addressed to unitID. ok is false when
// the unit does not answer.
type PDUHandler interface {
	HandlePDU(unitID byte, pdu modbus.ProtocolDataUnit) (resp modbus.ProtocolDataUnit, ok bool)
}
