// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Serial.Device != "/dev/ttyAMA0" {
		t.Errorf("Serial.Device = %q", cfg.Serial.Device)
	}
	if cfg.Serial.BaudRate != 9600 {
		t.Errorf("Serial.BaudRate = %d", cfg.Serial.BaudRate)
	}
	if cfg.Serial.Parity != "N" {
		t.Errorf("Serial.Parity = %q", cfg.Serial.Parity)
	}
	if cfg.Serial.ResponseTimeout != time.Second {
		t.Errorf("Serial.ResponseTimeout = %v", cfg.Serial.ResponseTimeout)
	}
	if cfg.Tcp.Address != ":502" {
		t.Errorf("Tcp.Address = %q", cfg.Tcp.Address)
	}
	if cfg.Http.Address != ":80" {
		t.Errorf("Http.Address = %q", cfg.Http.Address)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadConfig_Flags(t *testing.T) {
	cfg, err := LoadConfig([]string{
		"--serial.device=/dev/ttyUSB0",
		"--serial.baud_rate=19200",
		"--tcp.address=127.0.0.1:5020",
		"--http.address=127.0.0.1:8080",
		"--log.level=debug",
	})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Serial.Device != "/dev/ttyUSB0" {
		t.Errorf("Serial.Device = %q", cfg.Serial.Device)
	}
	if cfg.Serial.BaudRate != 19200 {
		t.Errorf("Serial.BaudRate = %d", cfg.Serial.BaudRate)
	}
	if cfg.Tcp.Address != "127.0.0.1:5020" {
		t.Errorf("Tcp.Address = %q", cfg.Tcp.Address)
	}
	if cfg.Http.Address != "127.0.0.1:8080" {
		t.Errorf("Http.Address = %q", cfg.Http.Address)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestFixupSerial_InvalidDurationsFallBackToDefaults(t *testing.T) {
	s := SerialConfig{
		Parity:          "n",
		ResponseTimeout: -1,
		DrainDelay:      0,
		GuardDelay:      -5 * time.Millisecond,
	}
	fixupSerial(&s)

	if s.Parity != "N" {
		t.Errorf("Parity = %q, want N", s.Parity)
	}
	if s.ResponseTimeout != time.Second {
		t.Errorf("ResponseTimeout = %v, want 1s", s.ResponseTimeout)
	}
	if s.DrainDelay != 10*time.Millisecond {
		t.Errorf("DrainDelay = %v, want 10ms", s.DrainDelay)
	}
	if s.GuardDelay != time.Millisecond {
		t.Errorf("GuardDelay = %v, want 1ms", s.GuardDelay)
	}
}
