// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the gateway's startup configuration: the single
// RTU bus, the two listener addresses, and logging. It is read once at
// startup — there is no hot reload and no persisted state.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure.
type Config struct {
	Serial SerialConfig `mapstructure:"serial"`
	Tcp    TcpConfig    `mapstructure:"tcp"`
	Http   HttpConfig   `mapstructure:"http"`
	Log    LogConfig    `mapstructure:"log"`
}

// LogConfig defines logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path, "" or "-" for stdout
}

// TcpConfig is the Modbus TCP server's listen address, §4.4.
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:502"
}

// HttpConfig is the HTTP/JSON control API's listen address, §4.5.
type HttpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:80"
}

// SerialConfig describes the RS-485 UART the RTU bus is wired to, §6.
type SerialConfig struct {
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stop_bits"`

	// ResponseTimeout bounds how long a single transaction waits for a
	// complete RTU response before the bus reports Timeout, §4.2 step 7.
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	// DrainDelay approximates the time for the transmit FIFO to drain
	// before the DE line is de-asserted, §4.2 step 5.
	DrainDelay time.Duration `mapstructure:"drain_delay"`
	// GuardDelay is the silent interval wrapping each direction switch,
	// §4.2 steps 3 and 6.
	GuardDelay time.Duration `mapstructure:"guard_delay"`

	// RS485 specific: direction-enable timing, realized via the serial
	// driver's RTS-based half-duplex support rather than a bit-banged
	// GPIO pin.
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// LoadConfig loads configuration from flags, an optional config file, and
// defaults matching spec.md §6, in that order of precedence.
func LoadConfig(args []string) (*Config, error) {
	v := viper.New()

	v.SetDefault("serial.device", "/dev/ttyAMA0")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.response_timeout", time.Second)
	v.SetDefault("serial.drain_delay", 10*time.Millisecond)
	v.SetDefault("serial.guard_delay", time.Millisecond)
	v.SetDefault("serial.rs485", true)
	v.SetDefault("serial.delay_rts_before_send", time.Millisecond)
	v.SetDefault("serial.delay_rts_after_send", time.Millisecond)
	v.SetDefault("tcp.address", ":502")
	v.SetDefault("http.address", ":80")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	flags := pflag.NewFlagSet("modbus-gateway", pflag.ContinueOnError)
	configFile := flags.StringP("config", "c", "", "Path to a YAML config file.")
	flags.String("serial.device", v.GetString("serial.device"), "Serial device for the RTU bus.")
	flags.Int("serial.baud_rate", v.GetInt("serial.baud_rate"), "RTU bus baud rate.")
	flags.String("tcp.address", v.GetString("tcp.address"), "Modbus TCP listen address.")
	flags.String("http.address", v.GetString("http.address"), "HTTP/JSON API listen address.")
	flags.String("log.level", v.GetString("log.level"), "Log level (debug, info, warn, error).")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbusgw/")
		v.AddConfigPath("$HOME/.modbusgw")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&cfg.Serial)
	return &cfg, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.ResponseTimeout <= 0 {
		s.ResponseTimeout = time.Second
	}
	if s.DrainDelay <= 0 {
		s.DrainDelay = 10 * time.Millisecond
	}
	if s.GuardDelay <= 0 {
		s.GuardDelay = time.Millisecond
	}
}
