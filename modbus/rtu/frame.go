// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/modbusgw/gateway/modbus"
	"github.com/modbusgw/gateway/modbus/crc"
)

// FrameErrorKind classifies a failure to parse a response ADU, mirroring
// the outcome states a transaction on the bus can settle into.
type FrameErrorKind int

const (
	_ FrameErrorKind = iota
	ShortFrame
	CrcMismatch
	FunctionMismatch
)

func (k FrameErrorKind) String() string {
	switch k {
	case ShortFrame:
		return "short frame"
	case CrcMismatch:
		return "crc mismatch"
	case FunctionMismatch:
		return "function mismatch"
	default:
		return "unknown frame error"
	}
}

// FrameError reports a malformed or corrupt RTU response ADU.
type FrameError struct {
	Kind FrameErrorKind
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("modbus: rtu response %s", e.Kind)
}

// BuildRequest assembles a complete RTU request ADU: unit id, function code,
// payload, and the CRC-16 appended little-endian. Pure function, no I/O.
func BuildRequest(unitID, functionCode byte, payload []byte) []byte {
	frame := make([]byte, 2+len(payload)+2)
	frame[0] = unitID
	frame[1] = functionCode
	copy(frame[2:], payload)

	var c crc.CRC
	c.Reset().PushBytes(frame[:len(frame)-2])
	sum := c.Bytes()
	frame[len(frame)-2] = sum[0]
	frame[len(frame)-1] = sum[1]
	return frame
}

// ParseResponse validates and strips the envelope off a complete RTU
// response ADU, per §4.1:
//   - fewer than 4 bytes: ShortFrame.
//   - CRC over bytes[:-2] must match the trailing little-endian CRC.
//   - bytes[1] == expectedFn|0x80: the slave's own *modbus.ExceptionResponse.
//   - bytes[1] != expectedFn: FunctionMismatch.
//   - otherwise: the payload, bytes[2:-2].
func ParseResponse(raw []byte, expectedFn byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, &FrameError{Kind: ShortFrame}
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[:len(raw)-2])
	sum := c.Bytes()
	if raw[len(raw)-2] != sum[0] || raw[len(raw)-1] != sum[1] {
		return nil, &FrameError{Kind: CrcMismatch}
	}

	fn := raw[1]
	if fn == expectedFn|0x80 {
		return nil, &modbus.ExceptionResponse{FunctionCode: expectedFn, Code: raw[2]}
	}
	if fn != expectedFn {
		return nil, &FrameError{Kind: FunctionMismatch}
	}
	return raw[2 : len(raw)-2], nil
}

// ExpectedResponseLength returns the total RTU frame length (including unit
// id, function code, and trailing CRC) that a response to the given request
// should have, given only the first 4 bytes seen so far on the wire. It
// implements the self-describing-length heuristic of §4.2 step 7: only the
// function codes this gateway forwards are covered, since new function
// codes would need an entry here.
func ExpectedResponseLength(header []byte, requestFunctionCode byte) (int, error) {
	if len(header) < 4 {
		return 0, fmt.Errorf("modbus: need at least 4 bytes to determine response length, got %d", len(header))
	}

	fn := header[1]
	if fn == requestFunctionCode|0x80 {
		return ExceptionSize, nil
	}

	switch fn {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		byteCount := int(header[2])
		return 3 + byteCount + 2, nil
	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		return 8, nil
	default:
		return 0, fmt.Errorf("modbus: unsupported function code 0x%02X", fn)
	}
}
