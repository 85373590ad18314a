// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus defines the protocol-level types shared by every transport
// (RTU, TCP) and adapter (Modbus TCP server, HTTP/JSON server) in this
// repository.
package modbus

import "fmt"

// ProtocolDataUnit is the function-code-plus-payload portion of a Modbus
// message, independent of which ADU (RTU or TCP) carries it.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Function codes. Names match the Modbus Application Protocol
// Specification v1.1b3.
const (
	FuncCodeReadCoils                 = 0x01
	FuncCodeReadDiscreteInputs        = 0x02
	FuncCodeReadHoldingRegisters      = 0x03
	FuncCodeReadInputRegisters        = 0x04
	FuncCodeWriteSingleCoil           = 0x05
	FuncCodeWriteSingleRegister       = 0x06
	FuncCodeWriteMultipleCoils        = 0x0F
	FuncCodeWriteMultipleRegisters    = 0x10
	FuncCodeMaskWriteRegister         = 0x16
	FuncCodeReadWriteMultipleRegisters = 0x17
	FuncCodeReadFIFOQueue             = 0x18
	FuncCodeReadDeviceIdentification  = 0x2B
)

// Exception codes returned by a Modbus slave (or synthesized by the gateway
// on the slave's behalf, e.g. on a bus timeout).
const (
	ExceptionCodeIllegalFunction    = 0x01
	ExceptionCodeIllegalDataAddress = 0x02
	ExceptionCodeIllegalDataValue   = 0x03
	ExceptionCodeServerDeviceFailure = 0x04
)

// ExceptionResponse reports a Modbus exception returned by a slave device,
// or synthesized locally to represent a bus-level failure (timeout, framing
// error) as the TCP/HTTP adapters require.
type ExceptionResponse struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionResponse) Error() string {
	return fmt.Sprintf("modbus: exception 0x%02X for function 0x%02X", e.Code, e.FunctionCode)
}
