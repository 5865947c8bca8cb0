// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kkyr/fig"
)

// envPrefix is prepended to every environment override, e.g.
// GPSTRACKER_TELEMETRY_WRITE_KEY.
const envPrefix = "GPSTRACKER"

var (
	ErrMissingSource   = errors.New("gps.serial_port or gps.replay_file is required")
	ErrMissingWriteKey = errors.New("telemetry.write_key is required when telemetry is enabled")
	ErrMissingBroker   = errors.New("mqtt.broker is required when mqtt is enabled")
	ErrTLSPair         = errors.New("web.tls_cert and web.tls_key must be set together")
)

// Config holds all application configuration values.
type Config struct {
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	GPS struct {
		SerialPort     string        `fig:"serial_port" default:"/dev/ttyO4"`
		BaudRate       uint          `fig:"baud_rate" default:"9600"`
		ReplayFile     string        `fig:"replay_file"`
		ReplayInterval time.Duration `fig:"replay_interval"`
		Sentence       string        `fig:"sentence" default:"$GNRMC"`
		VerifyChecksum bool          `fig:"verify_checksum"`
		ReconnectMin   time.Duration `fig:"reconnect_min" default:"250ms"`
		ReconnectMax   time.Duration `fig:"reconnect_max" default:"10s"`
	} `fig:"gps"`

	Web struct {
		Addr      string `fig:"addr" default:":3001"`
		StaticDir string `fig:"static_dir" default:"public"`
		TLSCert   string `fig:"tls_cert"`
		TLSKey    string `fig:"tls_key"`
	} `fig:"web"`

	Subscribers struct {
		// Per-subscriber queue depth; a subscriber that falls this far
		// behind is dropped.
		Buffer       int           `fig:"buffer" default:"16"`
		WriteTimeout time.Duration `fig:"write_timeout" default:"10s"`
	} `fig:"subscribers"`

	Telemetry struct {
		// Uploads run unless disabled.
		Disabled bool          `fig:"disabled"`
		URL      string        `fig:"url" default:"https://api.thingspeak.com/update"`
		WriteKey string        `fig:"write_key"`
		LatField string        `fig:"lat_field" default:"field4"`
		LonField string        `fig:"lon_field" default:"field5"`
		Interval time.Duration `fig:"interval" default:"15s"`
		Timeout  time.Duration `fig:"timeout" default:"10s"`
	} `fig:"telemetry"`

	MQTT struct {
		Enabled         bool   `fig:"enabled"`
		Broker          string `fig:"broker" default:"tcp://localhost:1883"`
		ClientID        string `fig:"client_id" default:"gps-tracker"`
		ConsoleClientID string `fig:"console_client_id" default:"gps-tracker-console"`
		Topic           string `fig:"topic" default:"tracker/gps"`
	} `fig:"mqtt"`

	Display struct {
		Enabled bool   `fig:"enabled"`
		I2CBus  string `fig:"i2c_bus"`
		I2CAddr uint16 `fig:"i2c_addr" default:"60"`
	} `fig:"display"`
}

// Package-level singleton, written once by InitGlobal and read through Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the YAML file at configPath, applies defaults and environment
// overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := new(Config)
	err := fig.Load(cfg,
		fig.File(filepath.Base(configPath)),
		fig.Dirs(filepath.Dir(configPath)),
		fig.UseEnv(envPrefix),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration built from defaults and environment
// overrides only.
func Default() (*Config, error) {
	cfg := new(Config)
	if err := fig.Load(cfg, fig.AllowNoFile(), fig.UseEnv(envPrefix)); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c *Config) Validate() error {
	if c.GPS.SerialPort == "" && c.GPS.ReplayFile == "" {
		return ErrMissingSource
	}
	if c.GPS.BaudRate == 0 {
		return fmt.Errorf("gps.baud_rate must be positive")
	}
	if c.GPS.ReconnectMin <= 0 || c.GPS.ReconnectMax < c.GPS.ReconnectMin {
		return fmt.Errorf("gps.reconnect_min must be positive and not above gps.reconnect_max, got %s/%s",
			c.GPS.ReconnectMin, c.GPS.ReconnectMax)
	}
	if c.Subscribers.Buffer < 1 {
		return fmt.Errorf("subscribers.buffer must be at least 1, got %d", c.Subscribers.Buffer)
	}
	if (c.Web.TLSCert == "") != (c.Web.TLSKey == "") {
		return ErrTLSPair
	}
	if !c.Telemetry.Disabled {
		if c.Telemetry.WriteKey == "" {
			return ErrMissingWriteKey
		}
		if c.Telemetry.Interval <= 0 {
			return fmt.Errorf("telemetry.interval must be positive, got %s", c.Telemetry.Interval)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return ErrMissingBroker
	}
	return nil
}

// InitGlobal loads the configuration once; later calls return the first
// result's error and leave the loaded config in place.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Set replaces the global configuration after a reload.
func Set(cfg *Config) {
	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
}
