// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcp implements the Modbus TCP server adapter: MBAP framing over
// a TCP listener, dispatching each request to the RTU bus client, §4.4.
package tcp

import (
	"encoding/binary"
	"fmt"
)

const (
	mbapHeaderSize = 7
	minSize        = mbapHeaderSize + 1 // header + function code
	maxSize        = 260
)

// ApplicationDataUnit is a decoded Modbus TCP message: MBAP header plus
// the raw PDU bytes (function code + data), undissected.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        byte
	FunctionCode  byte
	Data          []byte
}

// DecodeHeader parses the 7-byte MBAP header. The caller is responsible
// for then reading exactly Length-1 further bytes (the PDU) off the
// connection, per §4.4.
func DecodeHeader(header []byte) (transactionID, protocolID, length uint16, unitID byte, err error) {
	if len(header) < mbapHeaderSize {
		return 0, 0, 0, 0, fmt.Errorf("modbus: mbap header too short: %d bytes", len(header))
	}
	transactionID = binary.BigEndian.Uint16(header[0:2])
	protocolID = binary.BigEndian.Uint16(header[2:4])
	length = binary.BigEndian.Uint16(header[4:6])
	unitID = header[6]
	return
}

// Encode serializes the ADU as it goes back on the wire: MBAP header
// followed by function code and data.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Data) + 2 // unit id + function code, already counted once below
	total := mbapHeaderSize + 1 + len(adu.Data)
	if total > maxSize {
		return nil, fmt.Errorf("modbus: response length '%v' must not be bigger than '%v'", total, maxSize)
	}

	raw := make([]byte, total)
	binary.BigEndian.PutUint16(raw[0:2], adu.TransactionID)
	binary.BigEndian.PutUint16(raw[2:4], adu.ProtocolID)
	binary.BigEndian.PutUint16(raw[4:6], uint16(length))
	raw[6] = adu.UnitID
	raw[7] = adu.FunctionCode
	copy(raw[8:], adu.Data)
	return raw, nil
}
