// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "WASHGW"

// Config defines the global configuration structure
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	SlaveID   int             `mapstructure:"slave_id"`
	Transport TransportConfig `mapstructure:"transport"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Poll      PollConfig      `mapstructure:"poll"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// TransportConfig defines how the master reaches the washer
type TransportConfig struct {
	Type   string       `mapstructure:"type"`   // "rtu", "rtu-over-tcp", "local"
	Serial SerialConfig `mapstructure:"serial"` // Used if Type is "rtu"
	Tcp    TcpConfig    `mapstructure:"tcp"`    // Used if Type is "rtu-over-tcp"
}

// EngineConfig defines transaction timing
type EngineConfig struct {
	Settle       time.Duration `mapstructure:"settle"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// PollConfig defines periodic status polling
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// SimulatorConfig defines the simulated washer slave
type SimulatorConfig struct {
	Type        string            `mapstructure:"type"` // "rtu", "rtu-over-tcp", "tcp"
	Serial      SerialConfig      `mapstructure:"serial"`
	Tcp         TcpConfig         `mapstructure:"tcp"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:4196" or "192.168.1.100:4196"
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device      string        `mapstructure:"device"`
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	Parity      string        `mapstructure:"parity"`
	StopBits    int           `mapstructure:"stop_bits"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"` // Read timeout of a single poll

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("slave_id", 1)

	v.SetDefault("transport.type", "rtu")
	setSerialDefaults(v, "transport.serial")
	v.SetDefault("transport.tcp.address", "127.0.0.1:4196")

	v.SetDefault("engine.settle", 100*time.Millisecond)
	v.SetDefault("engine.timeout", 500*time.Millisecond)
	v.SetDefault("engine.poll_interval", 5*time.Millisecond)
	v.SetDefault("poll.interval", 5*time.Second)

	v.SetDefault("simulator.type", "rtu-over-tcp")
	setSerialDefaults(v, "simulator.serial")
	v.SetDefault("simulator.tcp.address", "0.0.0.0:4196")
	v.SetDefault("simulator.persistence.type", "memory")
	v.SetDefault("simulator.persistence.path", "")
}

func setSerialDefaults(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".device", "/dev/ttyUSB0")
	v.SetDefault(prefix+".baud_rate", 9600)
	v.SetDefault(prefix+".data_bits", 8)
	v.SetDefault(prefix+".parity", "N")
	v.SetDefault(prefix+".stop_bits", 1)
	v.SetDefault(prefix+".poll_timeout", 10*time.Millisecond)
	v.SetDefault(prefix+".rs485", false)
}

// LoadConfig loads configuration from file, environment and flags, in
// increasing order of precedence. Flags are bound by their name, so a flag
// called "transport.serial.device" overrides that key. A missing config file
// is not an error.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/washgw/")
		v.AddConfigPath("$HOME/.washgw")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind pflags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&config.Transport.Serial)
	fixupSerial(&config.Simulator.Serial)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the values LoadConfig cannot fix up.
func (c *Config) Validate() error {
	if c.SlaveID < 1 || c.SlaveID > 247 {
		return fmt.Errorf("invalid slave_id %d: must be between 1 and 247", c.SlaveID)
	}
	switch c.Transport.Type {
	case "rtu", "rtu-over-tcp", "local":
	default:
		return fmt.Errorf("unknown transport type %q", c.Transport.Type)
	}
	switch c.Simulator.Type {
	case "rtu", "rtu-over-tcp", "tcp":
	default:
		return fmt.Errorf("unknown simulator type %q", c.Simulator.Type)
	}
	switch c.Simulator.Persistence.Type {
	case "memory", "":
	case "file", "mmap":
		if c.Simulator.Persistence.Path == "" {
			return fmt.Errorf("persistence type %q needs a path", c.Simulator.Persistence.Type)
		}
	default:
		return fmt.Errorf("unknown persistence type %q", c.Simulator.Persistence.Type)
	}
	if c.Engine.Settle < 0 {
		return fmt.Errorf("engine.settle must not be negative, got %v", c.Engine.Settle)
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive, got %v", c.Engine.Timeout)
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive, got %v", c.Engine.PollInterval)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %v", c.Poll.Interval)
	}
	return nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.PollTimeout == 0 {
		s.PollTimeout = 10 * time.Millisecond
	}
}
