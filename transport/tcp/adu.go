// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ffutop/wash-gateway/modbus"
)

const (
	// headerSize is the MBAP header: transaction, protocol, length, unit.
	headerSize = 7
	tcpMinSize = headerSize + 1
	tcpMaxSize = 260
)

// ApplicationDataUnit is a Modbus TCP frame.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        byte
	Pdu           modbus.ProtocolDataUnit
}

// ReadFrame reads one MBAP frame from r.
func ReadFrame(r io.Reader) (*ApplicationDataUnit, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || headerSize-1+length > tcpMaxSize {
		return nil, fmt.Errorf("modbus: invalid MBAP length '%v'", length)
	}
	body := make([]byte, length-1)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return &ApplicationDataUnit{
		TransactionID: binary.BigEndian.Uint16(header[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(header[2:4]),
		UnitID:        header[6],
		Pdu:           modbus.ProtocolDataUnit{FunctionCode: body[0], Data: body[1:]},
	}, nil
}

// Encode encodes the ADU; the length field is derived from the PDU.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + tcpMinSize
	if length > tcpMaxSize {
		return nil, fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, tcpMaxSize)
	}
	raw := make([]byte, tcpMinSize, length)
	binary.BigEndian.PutUint16(raw[0:], adu.TransactionID)
	binary.BigEndian.PutUint16(raw[2:], adu.ProtocolID)
	binary.BigEndian.PutUint16(raw[4:], uint16(len(adu.Pdu.Data)+2))
	raw[6] = adu.UnitID
	raw[7] = adu.Pdu.FunctionCode
	return append(raw, adu.Pdu.Data...), nil
}
