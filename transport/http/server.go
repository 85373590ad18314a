// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package http implements the control API (C5): a small, hand-rolled
// HTTP/1.1 server exposing the eight Modbus operations as JSON endpoints,
// plus a static form at "/", per spec.md §4.5. It does not use net/http:
// the wire protocol here is the literal request/response framing spec.md
// describes for a resource-constrained target, not a general web server.
package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/modbusgw/gateway/modbus"
	"github.com/modbusgw/gateway/transport/rtu"
)

// Server is the HTTP/JSON control API adapter.
type Server struct {
	Address string
	Client  *rtu.Client

	listener net.Listener
}

// NewServer creates a control API server bound to address, forwarding
// requests through client.
func NewServer(address string, client *rtu.Client) *Server {
	return &Server{Address: address, Client: client}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("http: failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	slog.Info("http control api listening", "addr", s.Address)

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
				slog.Error("http accept failed", "err", err)
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

// handleConnection reads one request, writes one response, and closes —
// this API has no keep-alive, matching the original's one-shot handler.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	requestLine, err := readRequestLine(conn)
	if err != nil {
		return
	}

	parts := strings.Fields(requestLine)
	if len(parts) < 2 {
		return
	}
	path := parts[1]

	var status, contentType, body string
	switch {
	case path == "/":
		status, contentType, body = "200 OK", "text/html", indexHTML
	case strings.HasPrefix(path, "/api/"):
		status, contentType, body = s.handleAPI(ctx, path)
	default:
		status, contentType, body = "404 Not Found", "text/html", notFoundHTML
	}

	fmt.Fprintf(conn, "HTTP/1.1 %s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n%s",
		status, contentType, len(body), body)
}

// readRequestLine reads bytes up to and including the blank line that
// terminates the HTTP header block, and returns only the request line.
// The request body, if any, is ignored: every endpoint here takes its
// arguments from the query string.
func readRequestLine(conn net.Conn) (string, error) {
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	for {
		next, err := r.ReadString('\n')
		if err != nil || strings.TrimRight(next, "\r\n") == "" {
			break
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleAPI(ctx context.Context, rawPath string) (status, contentType, body string) {
	path := rawPath
	var query string
	if i := strings.IndexByte(rawPath, '?'); i >= 0 {
		path, query = rawPath[:i], rawPath[i+1:]
	}
	params := parseQuery(query)

	switch path {
	case "/api/read_coils":
		return s.apiReadBits(ctx, params, modbus.FuncCodeReadCoils)
	case "/api/read_discrete":
		return s.apiReadBits(ctx, params, modbus.FuncCodeReadDiscreteInputs)
	case "/api/read_holding":
		return s.apiReadRegisters(ctx, params, modbus.FuncCodeReadHoldingRegisters)
	case "/api/read_input":
		return s.apiReadRegisters(ctx, params, modbus.FuncCodeReadInputRegisters)
	case "/api/write_single":
		return s.apiWriteSingleRegister(ctx, params)
	case "/api/write_multiple":
		return s.apiWriteMultipleRegisters(ctx, params)
	case "/api/write_coil":
		return s.apiWriteSingleCoil(ctx, params)
	case "/api/write_coils":
		return s.apiWriteMultipleCoils(ctx, params)
	default:
		return jsonResponse("500 Internal Server Error", apiResponse{Success: false, Error: "Unknown API endpoint"})
	}
}

func (s *Server) apiReadBits(ctx context.Context, params map[string]string, fn byte) (string, string, string) {
	slaveID, addr, count, err := readParams(params)
	if err != nil {
		return apiError(err)
	}

	var bits []bool
	if fn == modbus.FuncCodeReadCoils {
		bits, err = s.Client.ReadCoils(ctx, slaveID, addr, count)
	} else {
		bits, err = s.Client.ReadDiscreteInputs(ctx, slaveID, addr, count)
	}
	if err != nil {
		return busError(err)
	}
	return jsonResponse("200 OK", apiResponse{Success: true, Data: bits})
}

func (s *Server) apiReadRegisters(ctx context.Context, params map[string]string, fn byte) (string, string, string) {
	slaveID, addr, count, err := readParams(params)
	if err != nil {
		return apiError(err)
	}

	var regs []uint16
	if fn == modbus.FuncCodeReadHoldingRegisters {
		regs, err = s.Client.ReadHoldingRegisters(ctx, slaveID, addr, count)
	} else {
		regs, err = s.Client.ReadInputRegisters(ctx, slaveID, addr, count)
	}
	if err != nil {
		return busError(err)
	}
	return jsonResponse("200 OK", apiResponse{Success: true, Data: regs})
}

func (s *Server) apiWriteSingleRegister(ctx context.Context, params map[string]string) (string, string, string) {
	slaveID, addr, err := slaveAndAddr(params)
	if err != nil {
		return apiError(err)
	}
	value, err := strconv.Atoi(params["value"])
	if err != nil {
		return apiError(fmt.Errorf("API Error: %w", err))
	}

	if err := s.Client.WriteSingleRegister(ctx, slaveID, addr, uint16(value)); err != nil {
		return busError(err)
	}
	return jsonResponse("200 OK", apiResponse{Success: true, Message: "Register written successfully"})
}

func (s *Server) apiWriteMultipleRegisters(ctx context.Context, params map[string]string) (string, string, string) {
	slaveID, addr, err := slaveAndAddr(params)
	if err != nil {
		return apiError(err)
	}

	values, err := parseIntList(paramOr(params, "values", "0"))
	if err != nil {
		return jsonResponse("400 Bad Request", apiResponse{
			Success: false, Error: "Invalid values format. Use comma-separated integers.",
		})
	}

	regs := make([]uint16, len(values))
	for i, v := range values {
		regs[i] = uint16(v)
	}
	if err := s.Client.WriteMultipleRegisters(ctx, slaveID, addr, regs); err != nil {
		return busError(err)
	}
	return jsonResponse("200 OK", apiResponse{Success: true, Message: fmt.Sprintf("Written %d registers successfully", len(values))})
}

func (s *Server) apiWriteSingleCoil(ctx context.Context, params map[string]string) (string, string, string) {
	slaveID, addr, err := slaveAndAddr(params)
	if err != nil {
		return apiError(err)
	}
	value := parseBool(paramOr(params, "value", "0"))

	if err := s.Client.WriteSingleCoil(ctx, slaveID, addr, value); err != nil {
		return busError(err)
	}
	return jsonResponse("200 OK", apiResponse{Success: true, Message: "Coil written successfully"})
}

func (s *Server) apiWriteMultipleCoils(ctx context.Context, params map[string]string) (string, string, string) {
	slaveID, addr, err := slaveAndAddr(params)
	if err != nil {
		return apiError(err)
	}

	raw := strings.Split(paramOr(params, "values", "0"), ",")
	values := make([]bool, len(raw))
	for i, v := range raw {
		values[i] = parseBool(strings.TrimSpace(v))
	}

	if err := s.Client.WriteMultipleCoils(ctx, slaveID, addr, values); err != nil {
		return busError(err)
	}
	return jsonResponse("200 OK", apiResponse{Success: true, Message: fmt.Sprintf("Written %d coils successfully", len(values))})
}

// readParams extracts the slave_id/start_addr/count triple shared by all
// four read operations, with the same defaults as the original: 1, 0, 1.
func readParams(params map[string]string) (slaveID byte, addr, count uint16, err error) {
	slaveIDInt, err := strconv.Atoi(paramOr(params, "slave_id", "1"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("API Error: %w", err)
	}
	addrInt, err := strconv.Atoi(paramOr(params, "start_addr", "0"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("API Error: %w", err)
	}
	countInt, err := strconv.Atoi(paramOr(params, "count", "1"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("API Error: %w", err)
	}
	return byte(slaveIDInt), uint16(addrInt), uint16(countInt), nil
}

func slaveAndAddr(params map[string]string) (byte, uint16, error) {
	slaveIDInt, err := strconv.Atoi(paramOr(params, "slave_id", "1"))
	if err != nil {
		return 0, 0, fmt.Errorf("API Error: %w", err)
	}
	addrInt, err := strconv.Atoi(paramOr(params, "start_addr", "0"))
	if err != nil {
		return 0, 0, fmt.Errorf("API Error: %w", err)
	}
	return byte(slaveIDInt), uint16(addrInt), nil
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	values := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// parseBool matches the original's truthy-string set: 1, true, on, yes
// (case-insensitive); anything else is false.
func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

func paramOr(params map[string]string, key, def string) string {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

func parseQuery(query string) map[string]string {
	params := map[string]string{}
	for _, pair := range strings.Split(query, "&") {
		if k, v, ok := strings.Cut(pair, "="); ok {
			if dk, err := url.QueryUnescape(k); err == nil {
				k = dk
			}
			if dv, err := url.QueryUnescape(v); err == nil {
				v = dv
			}
			params[k] = v
		}
	}
	return params
}

// busError classifies a Client-returned error into the two HTTP-facing
// shapes the original distinguishes: a bus-level failure (timeout, CRC
// mismatch, framing) always reads as "Communication timeout", while a
// slave-returned exception reports its code, §4.5.
func busError(err error) (string, string, string) {
	var ex *modbus.ExceptionResponse
	if errors.As(err, &ex) {
		return jsonResponse("200 OK", apiResponse{Success: false, Error: fmt.Sprintf("Modbus error: %d", ex.Code)})
	}
	return jsonResponse("200 OK", apiResponse{Success: false, Error: "Communication timeout"})
}

func apiError(err error) (string, string, string) {
	return jsonResponse("500 Internal Server Error", apiResponse{Success: false, Error: err.Error()})
}

func jsonResponse(status string, resp apiResponse) (string, string, string) {
	raw, err := json.Marshal(resp)
	if err != nil {
		raw = []byte(`{"success":false,"error":"internal error encoding response"}`)
	}
	return status, "application/json", string(raw)
}
