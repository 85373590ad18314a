// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/modbusgw/gateway/modbus"
	mbrtu "github.com/modbusgw/gateway/modbus/rtu"
	"github.com/modbusgw/gateway/transport/rtu"
)

// Server is the Modbus TCP adapter (C4): it accepts MBAP-framed
// connections and forwards each request to the single RTU bus client,
// §4.4. A connection stays open across many requests until the peer
// closes it or the gateway shuts down.
type Server struct {
	Address string
	Client  *rtu.Client

	listener net.Listener
}

// NewServer creates a Modbus TCP server bound to address, forwarding
// requests through client.
func NewServer(address string, client *rtu.Client) *Server {
	return &Server{Address: address, Client: client}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("modbus: failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	slog.Info("modbus tcp server listening", "addr", s.Address)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Error("modbus tcp accept failed", "err", err)
				continue
			}
		}
		go s.handleConnection(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	slog.Info("modbus tcp client connected", "addr", conn.RemoteAddr())

	header := make([]byte, mbapHeaderSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Error("modbus tcp read header failed", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}

		transactionID, protocolID, length, unitID, err := DecodeHeader(header)
		if err != nil {
			slog.Error("modbus tcp malformed header", "addr", conn.RemoteAddr(), "err", err)
			return
		}
		// P10: a non-zero protocol id is not Modbus; close without responding.
		if protocolID != 0 {
			slog.Warn("modbus tcp non-modbus protocol id, closing", "addr", conn.RemoteAddr(), "protocol_id", protocolID)
			return
		}
		if length < 2 || int(length)-1 > maxSize {
			slog.Error("modbus tcp invalid length field", "addr", conn.RemoteAddr(), "length", length)
			return
		}

		pdu := make([]byte, length-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			slog.Error("modbus tcp read pdu failed", "addr", conn.RemoteAddr(), "err", err)
			return
		}

		respFn, respData := s.dispatch(ctx, unitID, pdu[0], pdu[1:])

		// P9: the transaction id is always echoed unchanged.
		respAdu := &ApplicationDataUnit{
			TransactionID: transactionID,
			ProtocolID:    0,
			UnitID:        unitID,
			FunctionCode:  respFn,
			Data:          respData,
		}
		raw, err := respAdu.Encode()
		if err != nil {
			slog.Error("modbus tcp failed to encode response", "err", err)
			return
		}
		if _, err := conn.Write(raw); err != nil {
			slog.Error("modbus tcp write failed", "addr", conn.RemoteAddr(), "err", err)
			return
		}
	}
}

// dispatch forwards one PDU to the RTU client and builds the response
// PDU (success or exception) exactly per §4.4's table.
func (s *Server) dispatch(ctx context.Context, unitID, functionCode byte, data []byte) (byte, []byte) {
	switch functionCode {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs:
		if len(data) < 4 {
			return shortPDU(functionCode)
		}
		addr := binary.BigEndian.Uint16(data[0:2])
		count := binary.BigEndian.Uint16(data[2:4])

		var bits []bool
		var err error
		if functionCode == modbus.FuncCodeReadCoils {
			bits, err = s.Client.ReadCoils(ctx, unitID, addr, count)
		} else {
			bits, err = s.Client.ReadDiscreteInputs(ctx, unitID, addr, count)
		}
		if err != nil {
			return exceptionResponse(functionCode, err)
		}
		return functionCode, encodeBitsPDU(bits)

	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		if len(data) < 4 {
			return shortPDU(functionCode)
		}
		addr := binary.BigEndian.Uint16(data[0:2])
		count := binary.BigEndian.Uint16(data[2:4])

		var regs []uint16
		var err error
		if functionCode == modbus.FuncCodeReadHoldingRegisters {
			regs, err = s.Client.ReadHoldingRegisters(ctx, unitID, addr, count)
		} else {
			regs, err = s.Client.ReadInputRegisters(ctx, unitID, addr, count)
		}
		if err != nil {
			return exceptionResponse(functionCode, err)
		}
		return functionCode, encodeRegistersPDU(regs)

	case modbus.FuncCodeWriteSingleCoil:
		if len(data) < 4 {
			return shortPDU(functionCode)
		}
		addr := binary.BigEndian.Uint16(data[0:2])
		on := data[2] == 0xFF && data[3] == 0x00
		if err := s.Client.WriteSingleCoil(ctx, unitID, addr, on); err != nil {
			return exceptionResponse(functionCode, err)
		}
		return functionCode, append([]byte(nil), data[:4]...)

	case modbus.FuncCodeWriteSingleRegister:
		if len(data) < 4 {
			return shortPDU(functionCode)
		}
		addr := binary.BigEndian.Uint16(data[0:2])
		value := binary.BigEndian.Uint16(data[2:4])
		if err := s.Client.WriteSingleRegister(ctx, unitID, addr, value); err != nil {
			return exceptionResponse(functionCode, err)
		}
		return functionCode, append([]byte(nil), data[:4]...)

	case modbus.FuncCodeWriteMultipleCoils:
		if len(data) < 5 {
			return shortPDU(functionCode)
		}
		addr := binary.BigEndian.Uint16(data[0:2])
		count := binary.BigEndian.Uint16(data[2:4])
		byteCount := int(data[4])
		if len(data) < 5+byteCount || byteCount != (int(count)+7)/8 {
			return shortPDU(functionCode)
		}
		values := decodeBitsFromBytes(data[5:5+byteCount], int(count))
		if err := s.Client.WriteMultipleCoils(ctx, unitID, addr, values); err != nil {
			return exceptionResponse(functionCode, err)
		}
		return functionCode, append([]byte(nil), data[:4]...)

	case modbus.FuncCodeWriteMultipleRegisters:
		if len(data) < 5 {
			return shortPDU(functionCode)
		}
		addr := binary.BigEndian.Uint16(data[0:2])
		count := binary.BigEndian.Uint16(data[2:4])
		byteCount := int(data[4])
		if len(data) < 5+byteCount || byteCount != int(count)*2 {
			return shortPDU(functionCode)
		}
		values := make([]uint16, count)
		for i := range values {
			values[i] = binary.BigEndian.Uint16(data[5+2*i : 7+2*i])
		}
		if err := s.Client.WriteMultipleRegisters(ctx, unitID, addr, values); err != nil {
			return exceptionResponse(functionCode, err)
		}
		return functionCode, append([]byte(nil), data[:4]...)

	default:
		return functionCode | 0x80, []byte{modbus.ExceptionCodeIllegalFunction}
	}
}

func shortPDU(functionCode byte) (byte, []byte) {
	return functionCode | 0x80, []byte{modbus.ExceptionCodeIllegalDataValue}
}

// exceptionResponse maps a bus-level failure onto a Modbus exception PDU.
// A slave-returned exception keeps its code; a timeout, CRC mismatch, or
// framing error is reported as a server device failure, §4.4.
func exceptionResponse(functionCode byte, err error) (byte, []byte) {
	var ex *modbus.ExceptionResponse
	if errors.As(err, &ex) {
		return functionCode | 0x80, []byte{ex.Code}
	}
	var fe *mbrtu.FrameError
	if errors.As(err, &fe) || errors.Is(err, rtu.ErrTimeout) {
		return functionCode | 0x80, []byte{modbus.ExceptionCodeServerDeviceFailure}
	}
	return functionCode | 0x80, []byte{modbus.ExceptionCodeServerDeviceFailure}
}

func encodeBitsPDU(bits []bool) []byte {
	byteCount := (len(bits) + 7) / 8
	out := make([]byte, 1+byteCount)
	out[0] = byte(byteCount)
	for i, v := range bits {
		if v {
			out[1+i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func decodeBitsFromBytes(raw []byte, count int) []bool {
	bits := make([]bool, count)
	for i := range bits {
		if i/8 >= len(raw) {
			break
		}
		bits[i] = raw[i/8]&(1<<uint(i%8)) != 0
	}
	return bits
}

func encodeRegistersPDU(regs []uint16) []byte {
	out := make([]byte, 1+2*len(regs))
	out[0] = byte(2 * len(regs))
	for i, v := range regs {
		binary.BigEndian.PutUint16(out[1+2*i:3+2*i], v)
	}
	return out
}
