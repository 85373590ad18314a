// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/modbusgw/gateway/modbus"
	mbrtu "github.com/modbusgw/gateway/modbus/rtu"
)

func TestClient_ReadHoldingRegisters(t *testing.T) {
	respADU := mbrtu.BuildRequest(0x01, modbus.FuncCodeReadHoldingRegisters, []byte{0x04, 0x00, 0x0A, 0x00, 0x0B})
	bus := newTestBus(&mockPort{Reader: bytes.NewReader(respADU), Writer: &bytes.Buffer{}})
	client := NewClient(bus)

	got, err := client.ReadHoldingRegisters(context.Background(), 0x01, 0, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters() error = %v", err)
	}
	want := []uint16{0x000A, 0x000B}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ReadHoldingRegisters() = %v, want %v", got, want)
	}
}

func TestClient_ReadCoils(t *testing.T) {
	// 10 coils: 0b00000001 0b00000010 -> bits 0 and 9 set.
	respADU := mbrtu.BuildRequest(0x01, modbus.FuncCodeReadCoils, []byte{0x02, 0x01, 0x02})
	bus := newTestBus(&mockPort{Reader: bytes.NewReader(respADU), Writer: &bytes.Buffer{}})
	client := NewClient(bus)

	got, err := client.ReadCoils(context.Background(), 0x01, 0, 10)
	if err != nil {
		t.Fatalf("ReadCoils() error = %v", err)
	}
	want := make([]bool, 10)
	want[0] = true
	want[9] = true
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ReadCoils() = %v, want %v", got, want)
	}
}

// TestClient_ReadCoils_SlaveReportsFewerBytesThanRequested guards against
// a slave whose byte-count field doesn't cover the requested coil count
// (noise, a wired-wrong register map, a non-conformant device): this must
// surface as a typed frame error, not an index-out-of-range panic in
// unpackBits.
func TestClient_ReadCoils_SlaveReportsFewerBytesThanRequested(t *testing.T) {
	// byteCount=1 (one data byte), but the caller asks for 10 coils, which
	// needs 2 bytes.
	respADU := mbrtu.BuildRequest(0x01, modbus.FuncCodeReadCoils, []byte{0x01, 0x01})
	bus := newTestBus(&mockPort{Reader: bytes.NewReader(respADU), Writer: &bytes.Buffer{}})
	client := NewClient(bus)

	_, err := client.ReadCoils(context.Background(), 0x01, 0, 10)
	var fe *mbrtu.FrameError
	if err == nil || !errors.As(err, &fe) {
		t.Fatalf("ReadCoils() error = %v, want *mbrtu.FrameError", err)
	}
}

// TestClient_ReadHoldingRegisters_SlaveReportsFewerBytesThanRequested is
// the register-read analogue of the coils case above.
func TestClient_ReadHoldingRegisters_SlaveReportsFewerBytesThanRequested(t *testing.T) {
	// byteCount=2 (one register), but the caller asks for 2 registers.
	respADU := mbrtu.BuildRequest(0x01, modbus.FuncCodeReadHoldingRegisters, []byte{0x02, 0x00, 0x0A})
	bus := newTestBus(&mockPort{Reader: bytes.NewReader(respADU), Writer: &bytes.Buffer{}})
	client := NewClient(bus)

	_, err := client.ReadHoldingRegisters(context.Background(), 0x01, 0, 2)
	var fe *mbrtu.FrameError
	if err == nil || !errors.As(err, &fe) {
		t.Fatalf("ReadHoldingRegisters() error = %v, want *mbrtu.FrameError", err)
	}
}

func TestClient_WriteSingleCoil(t *testing.T) {
	respADU := mbrtu.BuildRequest(0x01, modbus.FuncCodeWriteSingleCoil, []byte{0x00, 0x05, 0xFF, 0x00})
	writer := &bytes.Buffer{}
	bus := newTestBus(&mockPort{Reader: bytes.NewReader(respADU), Writer: writer})
	client := NewClient(bus)

	if err := client.WriteSingleCoil(context.Background(), 0x01, 5, true); err != nil {
		t.Fatalf("WriteSingleCoil() error = %v", err)
	}

	wantReq := mbrtu.BuildRequest(0x01, modbus.FuncCodeWriteSingleCoil, []byte{0x00, 0x05, 0xFF, 0x00})
	if !bytes.Equal(writer.Bytes(), wantReq) {
		t.Fatalf("wire request = % X, want % X", writer.Bytes(), wantReq)
	}
}

func TestClient_WriteMultipleRegisters(t *testing.T) {
	respADU := mbrtu.BuildRequest(0x01, modbus.FuncCodeWriteMultipleRegisters, []byte{0x00, 0x00, 0x00, 0x02})
	writer := &bytes.Buffer{}
	bus := newTestBus(&mockPort{Reader: bytes.NewReader(respADU), Writer: writer})
	client := NewClient(bus)

	err := client.WriteMultipleRegisters(context.Background(), 0x01, 0, []uint16{0x0001, 0x0002})
	if err != nil {
		t.Fatalf("WriteMultipleRegisters() error = %v", err)
	}

	wantReq := mbrtu.BuildRequest(0x01, modbus.FuncCodeWriteMultipleRegisters,
		[]byte{0x00, 0x00, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x02})
	if !bytes.Equal(writer.Bytes(), wantReq) {
		t.Fatalf("wire request = % X, want % X", writer.Bytes(), wantReq)
	}
}

func TestClient_CountValidation(t *testing.T) {
	// P6: an out-of-range count must fail before any I/O — use a bus with
	// no response queued so a bus transaction would hang/fail the test.
	bus := newTestBus(&mockPort{Reader: blockingReader{}, Writer: &bytes.Buffer{}})
	client := NewClient(bus)

	tests := []struct {
		name string
		call func() error
	}{
		{"ReadCoils_TooMany", func() error { _, err := client.ReadCoils(context.Background(), 1, 0, 2001); return err }},
		{"ReadHoldingRegisters_Zero", func() error { _, err := client.ReadHoldingRegisters(context.Background(), 1, 0, 0); return err }},
		{"WriteMultipleCoils_TooMany", func() error { return client.WriteMultipleCoils(context.Background(), 1, 0, make([]bool, 1969)) }},
		{"WriteMultipleRegisters_TooMany", func() error { return client.WriteMultipleRegisters(context.Background(), 1, 0, make([]uint16, 124)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := make(chan error, 1)
			go func() { done <- tt.call() }()

			select {
			case err := <-done:
				ex, ok := err.(*modbus.ExceptionResponse)
				if !ok || ex.Code != modbus.ExceptionCodeIllegalDataValue {
					t.Fatalf("expected IllegalDataValue, got %v", err)
				}
			case <-time.After(100 * time.Millisecond):
				t.Fatal("validation did not fail fast; a bus transaction was attempted")
			}
		})
	}
}
