// Package config loads daemon settings from defaults, an optional file and
// BOILER_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Relay drivers.
const (
	DriverGPIO = "gpio"
	DriverFake = "fake"
)

// SensorSetting seeds the sensor set when no runtime config file exists.
type SensorSetting struct {
	ID         string  `mapstructure:"id" json:"id"`
	Name       string  `mapstructure:"name" json:"name"`
	Topic      string  `mapstructure:"topic" json:"topic"`
	ThresholdF float64 `mapstructure:"threshold_f" json:"threshold_f"`
	Unit       string  `mapstructure:"unit" json:"unit,omitempty"`
}

// MQTT holds broker settings.
type MQTT struct {
	Broker   string `mapstructure:"broker" json:"broker"`
	ClientID string `mapstructure:"client_id" json:"client_id"`
}

// Relay holds actuator settings.
type Relay struct {
	Driver    string `mapstructure:"driver" json:"driver"`
	Chip      string `mapstructure:"chip" json:"chip"`
	Pin       int    `mapstructure:"pin" json:"pin"`
	ActiveLow bool   `mapstructure:"active_low" json:"active_low"`
}

// Settings are the startup settings of the daemon.
type Settings struct {
	LogLevel            string          `mapstructure:"log_level" json:"log_level"`
	HTTPAddr            string          `mapstructure:"http_addr" json:"http_addr"`
	MQTT                MQTT            `mapstructure:"mqtt" json:"mqtt"`
	Relay               Relay           `mapstructure:"relay" json:"relay"`
	StatePath           string          `mapstructure:"state_path" json:"state_path"`
	HistoryPath         string          `mapstructure:"history_path" json:"history_path"`
	LockFile            string          `mapstructure:"lock_file" json:"lock_file"`
	Heartbeat           time.Duration   `mapstructure:"heartbeat" json:"heartbeat"`
	DefaultCycleMinutes int             `mapstructure:"default_cycle_minutes" json:"default_cycle_minutes"`
	Sensors             []SensorSetting `mapstructure:"sensors" json:"sensors"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "boiler-control")
	v.SetDefault("relay.driver", DriverGPIO)
	v.SetDefault("relay.chip", "gpiochip0")
	v.SetDefault("relay.pin", 17)
	v.SetDefault("relay.active_low", false)
	v.SetDefault("state_path", "/var/lib/boiler-control/config.json")
	v.SetDefault("history_path", "/var/lib/boiler-control/history.db")
	v.SetDefault("lock_file", "/tmp/boiler_control.lock")
	v.SetDefault("heartbeat", 15*time.Minute)
	v.SetDefault("default_cycle_minutes", 30)
	v.SetDefault("sensors", []map[string]interface{}{
		{
			"id":          "room1",
			"name":        "Room 1",
			"topic":       "home/sensors/room1/temperature",
			"threshold_f": 66.0,
		},
	})
}

// Load reads settings. An explicit path must exist; with an empty path a
// boiler-control.{yaml,json,toml} in /etc/boiler-control or the working
// directory is used if present.
func Load(path string) (Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BOILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
		}
	} else {
		v.SetConfigName("boiler-control")
		v.AddConfigPath("/etc/boiler-control")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("read settings: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the daemon cannot start with.
func (s Settings) Validate() error {
	switch {
	case s.Relay.Driver != DriverGPIO && s.Relay.Driver != DriverFake:
		return fmt.Errorf("relay.driver must be %q or %q, got %q", DriverGPIO, DriverFake, s.Relay.Driver)
	case s.Relay.Pin < 0:
		return fmt.Errorf("relay.pin must not be negative")
	case s.Heartbeat <= 0:
		return fmt.Errorf("heartbeat must be positive")
	case s.DefaultCycleMinutes <= 0:
		return fmt.Errorf("default_cycle_minutes must be positive")
	case s.StatePath == "":
		return fmt.Errorf("state_path must be set")
	}
	return nil
}

// JSON renders the settings for --print-config.
func (s Settings) JSON() []byte {
	data, _ := json.MarshalIndent(s, "", "  ")
	return data
}
