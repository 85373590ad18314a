// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the RTU transceiver (Bus) and the typed client
// operations (Client) that ride it, per spec.md §4.2/§4.3.
package rtu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/modbusgw/gateway/internal/config"
	"github.com/modbusgw/gateway/modbus/rtu"
)

// ErrTimeout is returned when a slave does not answer within the
// configured response deadline, §4.2 step 7.
var ErrTimeout = errors.New("modbus: rtu request timed out")

// Bus serializes all access to a single RS-485 half-duplex line. Exactly
// one transaction is ever in flight: callers submit requests to a single
// worker goroutine over a channel, which gives FIFO ordering (§5, P7) for
// free instead of a separate fairness mechanism.
type Bus struct {
	cfg config.SerialConfig

	mu   sync.Mutex // guards port/open, not the transact path
	port io.ReadWriteCloser

	reqCh chan *transaction
	once  sync.Once
}

type transaction struct {
	unitID, functionCode byte
	payload              []byte
	resultCh             chan transactResult
}

type transactResult struct {
	payload []byte
	err     error
}

// NewBus allocates a Bus for the given serial configuration. The port is
// not opened until Open is called.
func NewBus(cfg config.SerialConfig) *Bus {
	return &Bus{
		cfg:   cfg,
		reqCh: make(chan *transaction, 32),
	}
}

// NewBusWithPort wraps an already-open transport as a Bus, skipping Open.
// Production code never needs this (serial.Open is the only real port),
// but it lets the TCP/HTTP adapter tests exercise a full Bus+Client pair
// against a scripted io.ReadWriteCloser instead of real hardware.
func NewBusWithPort(cfg config.SerialConfig, port io.ReadWriteCloser) *Bus {
	b := &Bus{
		cfg:   cfg,
		reqCh: make(chan *transaction, 32),
		port:  port,
	}
	go b.run()
	return b
}

// Open opens the underlying serial port and starts the worker goroutine.
// Calling Open more than once is a no-op.
func (b *Bus) Open(ctx context.Context) error {
	var err error
	b.once.Do(func() {
		err = b.open(ctx)
		if err == nil {
			go b.run()
		}
	})
	return err
}

func (b *Bus) open(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port != nil {
		return nil
	}

	sc := serial.Config{
		Address:  b.cfg.Device,
		BaudRate: b.cfg.BaudRate,
		DataBits: b.cfg.DataBits,
		StopBits: b.cfg.StopBits,
		Parity:   b.cfg.Parity,
		Timeout:  b.cfg.ResponseTimeout,
	}
	if b.cfg.RS485 {
		sc.RS485 = serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: b.cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  b.cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  b.cfg.RtsHighDuringSend,
			RtsHighAfterSend:   b.cfg.RtsHighAfterSend,
			RxDuringTx:         b.cfg.RxDuringTx,
		}
	}

	port, err := serial.Open(&sc)
	if err != nil {
		return fmt.Errorf("modbus: could not open %s: %w", b.cfg.Device, err)
	}
	b.port = port
	return nil
}

// Close releases the serial port. It does not stop the worker goroutine.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return nil
	}
	err := b.port.Close()
	b.port = nil
	return err
}

// Transact submits a single RTU request and blocks until a response, a
// bus-level failure, or context cancellation. Concurrent callers are
// serialized through the worker; nothing else on the process touches the
// wire directly.
func (b *Bus) Transact(ctx context.Context, unitID, functionCode byte, payload []byte) ([]byte, error) {
	tx := &transaction{
		unitID:       unitID,
		functionCode: functionCode,
		payload:      payload,
		resultCh:     make(chan transactResult, 1),
	}

	select {
	case b.reqCh <- tx:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-tx.resultCh:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run drains the request channel, one transaction at a time, for as long
// as the bus lives.
func (b *Bus) run() {
	for tx := range b.reqCh {
		payload, err := b.transactOnWire(tx.unitID, tx.functionCode, tx.payload)
		tx.resultCh <- transactResult{payload: payload, err: err}
	}
}

// transactOnWire performs the §4.2 request/response cycle: guard delay,
// write, drain delay, and a deadline-bounded read. Caller (run) is the
// only goroutine that ever calls this, so no locking is needed here.
func (b *Bus) transactOnWire(unitID, functionCode byte, payload []byte) ([]byte, error) {
	frame := rtu.BuildRequest(unitID, functionCode, payload)

	if b.cfg.GuardDelay > 0 {
		time.Sleep(b.cfg.GuardDelay)
	}

	slog.Debug("rtu: transmit", "unit_id", unitID, "function_code", functionCode, "bytes", len(frame))
	if _, err := b.port.Write(frame); err != nil {
		return nil, fmt.Errorf("modbus: write failed: %w", err)
	}

	if b.cfg.DrainDelay > 0 {
		time.Sleep(b.cfg.DrainDelay)
	}
	if b.cfg.GuardDelay > 0 {
		time.Sleep(b.cfg.GuardDelay)
	}

	timeout := b.cfg.ResponseTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	raw, err := b.readResponse(functionCode, time.Now().Add(timeout))
	if err != nil {
		return nil, err
	}

	slog.Debug("rtu: receive", "bytes", len(raw))
	return rtu.ParseResponse(raw, functionCode)
}

type rtuByteOrErr struct {
	b   byte
	err error
}

// readResponse accumulates bytes off the wire until it can determine the
// full response length (§4.2 step 7) and has read that many bytes, or the
// deadline passes. The actual Read call happens in its own goroutine so a
// slave that never answers at all (a blocked Read, not just a slow one)
// cannot stall the deadline.
func (b *Bus) readResponse(requestFunctionCode byte, deadline time.Time) ([]byte, error) {
	ch := make(chan rtuByteOrErr, 1)
	go func() {
		one := make([]byte, 1)
		var got []byte
		for {
			_, err := io.ReadFull(b.port, one)
			if err != nil {
				ch <- rtuByteOrErr{err: err}
				return
			}
			select {
			case ch <- rtuByteOrErr{b: one[0]}:
			case <-time.After(time.Minute):
				// Nobody is listening anymore (we already timed out); stop
				// feeding a channel with no reader.
				return
			}
			// Stop once the frame is complete (or its length cannot be
			// determined), so no byte of the next response is read here.
			got = append(got, one[0])
			if len(got) >= 4 {
				if n, err := rtu.ExpectedResponseLength(got, requestFunctionCode); err != nil || len(got) >= n {
					return
				}
			}
		}
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	buf := make([]byte, 0, modbusRTUMaxSize)
	want := -1
	for {
		select {
		case res := <-ch:
			if res.err != nil {
				return nil, fmt.Errorf("modbus: read failed: %w", res.err)
			}
			buf = append(buf, res.b)

			if want < 0 && len(buf) >= 4 {
				n, err := rtu.ExpectedResponseLength(buf, requestFunctionCode)
				if err != nil {
					return nil, err
				}
				want = n
			}
			if want > 0 && len(buf) >= want {
				return buf[:want], nil
			}
		case <-timer.C:
			return nil, ErrTimeout
		}
	}
}

const modbusRTUMaxSize = rtu.MaxSize
