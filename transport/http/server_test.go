// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/modbusgw/gateway/internal/config"
	"github.com/modbusgw/gateway/modbus"
	mbrtu "github.com/modbusgw/gateway/modbus/rtu"
	"github.com/modbusgw/gateway/transport/rtu"
)

type pipePort struct {
	io.Reader
	io.Writer
}

func (pipePort) Close() error { return nil }

func startTestServer(t *testing.T, slaveResp []byte) (addr string, cancel func()) {
	t.Helper()
	bus := rtu.NewBusWithPort(config.SerialConfig{ResponseTimeout: time.Second},
		pipePort{Reader: bytes.NewReader(slaveResp), Writer: &bytes.Buffer{}})
	client := rtu.NewClient(bus)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr = l.Addr().String()
	l.Close()

	s := NewServer(addr, client)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)

	for i := 0; i < 50; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return addr, cancel
}

func doGET(t *testing.T, addr, path string) (status string, body string) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET " + path + " HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatal(err)
	}

	raw, err := io.ReadAll(conn)
	if err != nil && len(raw) == 0 {
		t.Fatal(err)
	}
	parts := strings.SplitN(string(raw), "\r\n\r\n", 2)
	statusLine := strings.SplitN(parts[0], "\r\n", 2)[0]
	if len(parts) > 1 {
		body = parts[1]
	}
	return statusLine, body
}

func TestServer_ReadHolding(t *testing.T) {
	respADU := mbrtu.BuildRequest(0x01, modbus.FuncCodeReadHoldingRegisters, []byte{0x02, 0x00, 0x2A})
	addr, cancel := startTestServer(t, respADU)
	defer cancel()

	status, body := doGET(t, addr, "/api/read_holding?slave_id=1&start_addr=0&count=1")
	if !strings.Contains(status, "200") {
		t.Fatalf("status = %q", status)
	}

	var resp apiResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal: %v, body=%q", err, body)
	}
	if !resp.Success {
		t.Fatalf("success = false, error = %q", resp.Error)
	}
}

func TestServer_WriteSingleCoil(t *testing.T) {
	respADU := mbrtu.BuildRequest(0x01, modbus.FuncCodeWriteSingleCoil, []byte{0x00, 0x05, 0xFF, 0x00})
	addr, cancel := startTestServer(t, respADU)
	defer cancel()

	_, body := doGET(t, addr, "/api/write_coil?slave_id=1&start_addr=5&value=on")

	var resp apiResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal: %v, body=%q", err, body)
	}
	if !resp.Success || resp.Message != "Coil written successfully" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestServer_WriteMultipleCoils(t *testing.T) {
	respADU := mbrtu.BuildRequest(0x01, modbus.FuncCodeWriteMultipleCoils, []byte{0x00, 0x00, 0x00, 0x03})
	addr, cancel := startTestServer(t, respADU)
	defer cancel()

	_, body := doGET(t, addr, "/api/write_coils?slave_id=1&start_addr=0&values=1,0,true")

	var resp apiResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal: %v, body=%q", err, body)
	}
	if !resp.Success || resp.Message != "Written 3 coils successfully" {
		t.Fatalf("resp = %+v", resp)
	}
}

// TestServer_ReadHolding_CommunicationTimeout exercises the HTTP-facing
// error convention (§8 scenario 4): any bus-level failure, here an empty
// slave response, is reported as the fixed "Communication timeout"
// string rather than the underlying cause.
func TestServer_ReadHolding_CommunicationTimeout(t *testing.T) {
	addr, cancel := startTestServer(t, nil) // empty reader: slave never answers
	defer cancel()

	status, body := doGET(t, addr, "/api/read_holding?slave_id=1&start_addr=0&count=1")
	if !strings.Contains(status, "200") {
		t.Fatalf("status = %q", status)
	}

	var resp apiResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal: %v, body=%q", err, body)
	}
	if resp.Success || resp.Error != "Communication timeout" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestServer_UnknownEndpoint(t *testing.T) {
	addr, cancel := startTestServer(t, nil)
	defer cancel()

	status, body := doGET(t, addr, "/api/nope")
	if !strings.Contains(status, "500") {
		t.Fatalf("status = %q", status)
	}
	var resp apiResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Success || resp.Error != "Unknown API endpoint" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestServer_Index(t *testing.T) {
	addr, cancel := startTestServer(t, nil)
	defer cancel()

	status, body := doGET(t, addr, "/")
	if !strings.Contains(status, "200") {
		t.Fatalf("status = %q", status)
	}
	if !strings.Contains(body, "Modbus RTU Gateway") {
		t.Fatalf("body missing index content")
	}
}

func TestServer_WriteMultipleRegisters_InvalidValues(t *testing.T) {
	addr, cancel := startTestServer(t, nil)
	defer cancel()

	status, body := doGET(t, addr, "/api/write_multiple?slave_id=1&start_addr=0&values=1,two,3")
	if !strings.Contains(status, "400") {
		t.Fatalf("status = %q", status)
	}
	var resp apiResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Success {
		t.Fatalf("expected failure, got %+v", resp)
	}
}
