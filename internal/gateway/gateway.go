// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package gateway wires the RTU bus to the two forwarding surfaces (C6):
// the Modbus TCP server and the HTTP/JSON control API. There is one bus
// and one typed client; both servers share them and serialize onto the
// bus through it.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modbusgw/gateway/internal/config"
	"github.com/modbusgw/gateway/transport/http"
	"github.com/modbusgw/gateway/transport/rtu"
	"github.com/modbusgw/gateway/transport/tcp"
)

// Gateway owns the single RTU bus and the two listeners that forward
// requests onto it.
type Gateway struct {
	bus        *rtu.Bus
	client     *rtu.Client
	tcpServer  *tcp.Server
	httpServer *http.Server
}

// New builds a Gateway from configuration. Neither the serial port nor
// the listeners are opened until Run is called.
func New(cfg *config.Config) *Gateway {
	bus := rtu.NewBus(cfg.Serial)
	client := rtu.NewClient(bus)

	return &Gateway{
		bus:        bus,
		client:     client,
		tcpServer:  tcp.NewServer(cfg.Tcp.Address, client),
		httpServer: http.NewServer(cfg.Http.Address, client),
	}
}

// Run opens the RTU bus and serves both adapters until ctx is cancelled
// or one of them fails to start.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.bus.Open(ctx); err != nil {
		return fmt.Errorf("gateway: failed to open rtu bus: %w", err)
	}
	defer g.bus.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := g.tcpServer.Start(ctx); err != nil {
			slog.Error("modbus tcp server stopped", "err", err)
			errCh <- fmt.Errorf("tcp server: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := g.httpServer.Start(ctx); err != nil {
			slog.Error("http control api stopped", "err", err)
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var startErr error
	select {
	case <-ctx.Done():
	case startErr = <-errCh:
	}
	cancel()
	g.tcpServer.Close()
	g.httpServer.Close()
	wg.Wait()
	close(errCh)

	if startErr != nil {
		return startErr
	}
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}
