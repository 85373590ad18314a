// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/binary"

	"github.com/modbusgw/gateway/modbus"
	mbrtu "github.com/modbusgw/gateway/modbus/rtu"
)

// Client exposes the eight Modbus operations this gateway forwards, §4.3.
// Each method validates its address/count/value arguments before ever
// touching the bus, per the IllegalDataValue-before-I/O rule (P6).
type Client struct {
	bus *Bus
}

// NewClient wraps a Bus with the typed operation set.
func NewClient(bus *Bus) *Client {
	return &Client{bus: bus}
}

func illegalDataValue(fn byte) error {
	return &modbus.ExceptionResponse{FunctionCode: fn, Code: modbus.ExceptionCodeIllegalDataValue}
}

// ReadCoils reads 1-2000 coils starting at addr, §4.3.
func (c *Client) ReadCoils(ctx context.Context, unitID byte, addr, count uint16) ([]bool, error) {
	if count < 1 || count > 2000 {
		return nil, illegalDataValue(modbus.FuncCodeReadCoils)
	}
	resp, err := c.bus.Transact(ctx, unitID, modbus.FuncCodeReadCoils, readRequestPayload(addr, count))
	if err != nil {
		return nil, err
	}
	return unpackBits(resp, int(count))
}

// ReadDiscreteInputs reads 1-2000 discrete inputs starting at addr, §4.3.
func (c *Client) ReadDiscreteInputs(ctx context.Context, unitID byte, addr, count uint16) ([]bool, error) {
	if count < 1 || count > 2000 {
		return nil, illegalDataValue(modbus.FuncCodeReadDiscreteInputs)
	}
	resp, err := c.bus.Transact(ctx, unitID, modbus.FuncCodeReadDiscreteInputs, readRequestPayload(addr, count))
	if err != nil {
		return nil, err
	}
	return unpackBits(resp, int(count))
}

// ReadHoldingRegisters reads 1-125 holding registers starting at addr, §4.3.
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID byte, addr, count uint16) ([]uint16, error) {
	if count < 1 || count > 125 {
		return nil, illegalDataValue(modbus.FuncCodeReadHoldingRegisters)
	}
	resp, err := c.bus.Transact(ctx, unitID, modbus.FuncCodeReadHoldingRegisters, readRequestPayload(addr, count))
	if err != nil {
		return nil, err
	}
	return unpackRegisters(resp, int(count))
}

// ReadInputRegisters reads 1-125 input registers starting at addr, §4.3.
func (c *Client) ReadInputRegisters(ctx context.Context, unitID byte, addr, count uint16) ([]uint16, error) {
	if count < 1 || count > 125 {
		return nil, illegalDataValue(modbus.FuncCodeReadInputRegisters)
	}
	resp, err := c.bus.Transact(ctx, unitID, modbus.FuncCodeReadInputRegisters, readRequestPayload(addr, count))
	if err != nil {
		return nil, err
	}
	return unpackRegisters(resp, int(count))
}

// WriteSingleCoil writes a single coil at addr, §4.3. The wire value for
// "on" is 0xFF00 and for "off" is 0x0000.
func (c *Client) WriteSingleCoil(ctx context.Context, unitID byte, addr uint16, value bool) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	if value {
		payload[2], payload[3] = 0xFF, 0x00
	}
	_, err := c.bus.Transact(ctx, unitID, modbus.FuncCodeWriteSingleCoil, payload)
	return err
}

// WriteSingleRegister writes a single holding register at addr, §4.3.
func (c *Client) WriteSingleRegister(ctx context.Context, unitID byte, addr, value uint16) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], value)
	_, err := c.bus.Transact(ctx, unitID, modbus.FuncCodeWriteSingleRegister, payload)
	return err
}

// WriteMultipleCoils writes 1-1968 coils starting at addr, §4.3.
func (c *Client) WriteMultipleCoils(ctx context.Context, unitID byte, addr uint16, values []bool) error {
	count := len(values)
	if count < 1 || count > 1968 {
		return illegalDataValue(modbus.FuncCodeWriteMultipleCoils)
	}

	byteCount := (count + 7) / 8
	payload := make([]byte, 5+byteCount)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], uint16(count))
	payload[4] = byte(byteCount)
	packBits(payload[5:], values)

	_, err := c.bus.Transact(ctx, unitID, modbus.FuncCodeWriteMultipleCoils, payload)
	return err
}

// WriteMultipleRegisters writes 1-123 holding registers starting at addr,
// §4.3.
func (c *Client) WriteMultipleRegisters(ctx context.Context, unitID byte, addr uint16, values []uint16) error {
	count := len(values)
	if count < 1 || count > 123 {
		return illegalDataValue(modbus.FuncCodeWriteMultipleRegisters)
	}

	payload := make([]byte, 5+2*count)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], uint16(count))
	payload[4] = byte(2 * count)
	for i, v := range values {
		binary.BigEndian.PutUint16(payload[5+2*i:7+2*i], v)
	}

	_, err := c.bus.Transact(ctx, unitID, modbus.FuncCodeWriteMultipleRegisters, payload)
	return err
}

func readRequestPayload(addr, count uint16) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], count)
	return payload
}

// unpackRegisters decodes a read-registers response: byte count followed
// by big-endian 16-bit values. The slave's own reported byte count frames
// resp (§4.2 step 7), not the count the caller asked for, so a short or
// non-conformant reply must fail with a typed error rather than index past
// the slice.
func unpackRegisters(resp []byte, count int) ([]uint16, error) {
	if len(resp) < 1+2*count {
		return nil, &mbrtu.FrameError{Kind: mbrtu.ShortFrame}
	}
	regs := make([]uint16, count)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(resp[1+2*i : 3+2*i])
	}
	return regs, nil
}

// unpackBits decodes a read-coils/read-discrete-inputs response: byte
// count followed by packed bits, LSB first within each byte, §4.1. As with
// unpackRegisters, resp's length comes from the slave's own framing, so a
// reply too short for the requested count must fail with a typed error
// rather than index past data.
func unpackBits(resp []byte, count int) ([]bool, error) {
	if len(resp) < 1+(count+7)/8 {
		return nil, &mbrtu.FrameError{Kind: mbrtu.ShortFrame}
	}
	bits := make([]bool, count)
	data := resp[1:]
	for i := 0; i < count; i++ {
		bits[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return bits, nil
}

// packBits encodes values into packed bits, LSB first within each byte.
func packBits(dst []byte, values []bool) {
	for i, v := range values {
		if v {
			dst[i/8] |= 1 << uint(i%8)
		}
	}
}
