// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ffutop/wash-gateway/internal/config"
	rtupacket "github.com/ffutop/wash-gateway/modbus/rtu"
	"github.com/ffutop/wash-gateway/transport"
	"github.com/grid-x/serial"
)

// frameGapReads is how many empty reads in a row end a request that has
// started arriving. With the serial poll timeout this is well above the
// Modbus 3.5 character gap at common baud rates.
const frameGapReads = 3

var errFrameGap = errors.New("rtu: silence inside a request frame")

// Server acts as a slave on a serial bus and answers requests with a
// transport.Handler. It is how the washer simulator is attached to a UART.
type Server struct {
	Config config.SerialConfig
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig) *Server {
	return &Server{
		Config: cfg,
	}
}

// Start opens the serial port and serves until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.Handler) error {
	spConfig := SerialConfig(s.Config)
	if spConfig.Timeout <= 0 {
		spConfig.Timeout = serialPollTimeout
	}
	port, err := serial.Open(&spConfig)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
	}
	defer port.Close()
	slog.Info("RTU Server listening", "device", s.Config.Device)

	go func() {
		<-ctx.Done()
		port.Close()
	}()

	return ServeStream(ctx, port, handler)
}

// ServeStream reads request frames from rw, passes each checksum-valid frame
// to handler and writes back its response. Read timeouts are skipped; any
// other read error ends the loop, as does ctx.
func ServeStream(ctx context.Context, rw io.ReadWriter, handler transport.Handler) error {
	buf := make([]byte, rtupacket.MaxSize+7)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Read 1 byte to unblock
		current, err := readAtLeast(ctx, rw, buf, 0, 1)
		if err != nil {
			return streamErr(ctx, err)
		}
		if current == 0 {
			continue
		}

		// Read header (attempt 7 bytes total to cover ByteCount for variable length functions)
		if current, err = readAtLeast(ctx, rw, buf, current, 7); err != nil {
			if errors.Is(err, errFrameGap) {
				slog.Debug("discarding truncated request", "received", hex.EncodeToString(buf[:current]))
				continue
			}
			return streamErr(ctx, err)
		}

		expectedLen, err := rtupacket.CalculateRequestLength(buf[1], buf[:current])
		if err != nil {
			slog.Debug("discarding invalid request header", "header", hex.EncodeToString(buf[:current]), "err", err)
			continue
		}
		if expectedLen > len(buf) {
			slog.Debug("discarding oversized request", "length", expectedLen)
			continue
		}

		if current, err = readAtLeast(ctx, rw, buf, current, expectedLen); err != nil {
			if errors.Is(err, errFrameGap) {
				slog.Debug("discarding truncated request", "received", hex.EncodeToString(buf[:current]))
				continue
			}
			return streamErr(ctx, err)
		}

		request := buf[:expectedLen]
		slog.Debug("recv from modbus master", "request", hex.EncodeToString(request))
		response := handler.Handle(request)
		if response == nil {
			continue
		}
		slog.Debug("send to modbus master", "response", hex.EncodeToString(response))
		if _, err := rw.Write(response); err != nil {
			return streamErr(ctx, err)
		}
	}
}

// readAtLeast fills buf[current:need]. A read timeout before the first byte
// returns 0, nil; once a frame has started, frameGapReads empty reads in a
// row return errFrameGap.
func readAtLeast(ctx context.Context, r io.Reader, buf []byte, current, need int) (int, error) {
	idle := 0
	for current < need {
		n, err := r.Read(buf[current:need])
		current += n
		if err != nil {
			if !errors.Is(err, serial.ErrTimeout) {
				return current, err
			}
			if ctx.Err() != nil {
				return current, ctx.Err()
			}
		}
		if n > 0 {
			idle = 0
			continue
		}
		if current == 0 {
			return 0, nil
		}
		idle++
		if idle >= frameGapReads {
			return current, errFrameGap
		}
	}
	return current, nil
}

func streamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
