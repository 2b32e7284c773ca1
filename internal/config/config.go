package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Serial      SerialConfig      `yaml:"serial"`
	Arbitration ArbitrationConfig `yaml:"arbitration"`
	Inventory   InventoryConfig   `yaml:"inventory"`
	Log         LogConfig         `yaml:"log"`
	Mock        MockConfig        `yaml:"mock"`
}

type ServerConfig struct {
	Port             int           `yaml:"port"`
	Host             string        `yaml:"host"`
	AuthToken        string        `yaml:"auth_token"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	MaxConnections   int           `yaml:"max_connections"`
}

// ClassifierConfig tunes the keystroke timing classifier and the keyboard
// devices it listens to. An empty Devices list means every keyboard found
// under /dev/input/by-id.
type ClassifierConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Devices        []string      `yaml:"devices"`
	RescanInterval time.Duration `yaml:"rescan_interval"`
	FastThreshold  time.Duration `yaml:"fast_threshold"`
	MinLength      int           `yaml:"min_length"`
	MinFastKeys    int           `yaml:"min_fast_keys"`
	FlushWindow    time.Duration `yaml:"flush_window"`
}

type SerialConfig struct {
	Enabled           bool           `yaml:"enabled"`
	BaudRates         []int          `yaml:"baud_rates"`
	DiscoveryInterval time.Duration  `yaml:"discovery_interval"`
	Delimiters        string         `yaml:"delimiters"`
	MinLength         int            `yaml:"min_length"`
	Vendors           []VendorConfig `yaml:"vendors"`
}

// VendorConfig matches a serial port either by USB vendor id or by a
// case-insensitive fragment of its product/port name. At least one of the
// two must be set.
type VendorConfig struct {
	VendorID string `yaml:"vendor_id"`
	Fragment string `yaml:"fragment"`
}

type ArbitrationConfig struct {
	Deadline time.Duration `yaml:"deadline"`
}

type InventoryConfig struct {
	BaseURL         string        `yaml:"base_url"`
	ServiceKey      string        `yaml:"service_key"`
	StoreID         string        `yaml:"store_id"`
	Timeout         time.Duration `yaml:"timeout"`
	DefaultMode     string        `yaml:"default_mode"`
	Quantity        int           `yaml:"quantity"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
	HistorySize     int           `yaml:"history_size"`
	PersistHistory  bool          `yaml:"persist_history"`
	StateDir        string        `yaml:"state_dir"` // empty: $XDG_STATE_HOME/scanbridge
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MockConfig struct {
	Interval time.Duration `yaml:"interval"`
	Barcodes []string      `yaml:"barcodes"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             3333,
			Host:             "127.0.0.1",
			SnapshotInterval: 10 * time.Second,
			MaxConnections:   16,
		},
		Classifier: ClassifierConfig{
			Enabled:        true,
			RescanInterval: 5 * time.Second,
			FastThreshold:  50 * time.Millisecond,
			MinLength:      4,
			MinFastKeys:    3,
			FlushWindow:    100 * time.Millisecond,
		},
		Serial: SerialConfig{
			Enabled:           true,
			BaudRates:         []int{9600, 115200, 19200, 38400, 57600},
			DiscoveryInterval: 3 * time.Second,
			Delimiters:        "\r\n",
			MinLength:         4,
			Vendors: []VendorConfig{
				{VendorID: "1a86"}, // WCH CH340/CH341
				{VendorID: "10c4"}, // Silicon Labs CP210x
				{VendorID: "0403"}, // FTDI
				{VendorID: "067b"}, // Prolific PL2303
				{Fragment: "ch340"},
				{Fragment: "wch"},
			},
		},
		Arbitration: ArbitrationConfig{
			Deadline: 1500 * time.Millisecond,
		},
		Inventory: InventoryConfig{
			Timeout:         10 * time.Second,
			DefaultMode:     "auto",
			Quantity:        1,
			DuplicateWindow: time.Second,
			HistorySize:     20,
			PersistHistory:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Mock: MockConfig{
			Interval: 4 * time.Second,
			Barcodes: []string{"8801043015653", "8801062636358", "-8801117752804", "8809022200119"},
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when path does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate rejects settings the pipeline cannot run with. Zero durations
// would turn the flush, deadline and discovery timers into busy loops.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.SnapshotInterval <= 0 {
		errs = append(errs, errors.New("server.snapshot_interval must be positive"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, errors.New("server.max_connections must not be negative"))
	}
	if c.Classifier.FastThreshold <= 0 {
		errs = append(errs, errors.New("classifier.fast_threshold must be positive"))
	}
	if c.Classifier.FlushWindow <= 0 {
		errs = append(errs, errors.New("classifier.flush_window must be positive"))
	}
	if c.Classifier.RescanInterval <= 0 {
		errs = append(errs, errors.New("classifier.rescan_interval must be positive"))
	}
	if c.Classifier.MinLength < 1 {
		errs = append(errs, errors.New("classifier.min_length must be at least 1"))
	}
	if c.Classifier.MinFastKeys < 0 {
		errs = append(errs, errors.New("classifier.min_fast_keys must not be negative"))
	}
	if len(c.Serial.BaudRates) == 0 {
		errs = append(errs, errors.New("serial.baud_rates must not be empty"))
	}
	for _, b := range c.Serial.BaudRates {
		if b <= 0 {
			errs = append(errs, fmt.Errorf("serial.baud_rates: invalid rate %d", b))
		}
	}
	if c.Serial.DiscoveryInterval <= 0 {
		errs = append(errs, errors.New("serial.discovery_interval must be positive"))
	}
	if c.Serial.Delimiters == "" {
		errs = append(errs, errors.New("serial.delimiters must not be empty"))
	}
	for i, v := range c.Serial.Vendors {
		if strings.TrimSpace(v.VendorID) == "" && strings.TrimSpace(v.Fragment) == "" {
			errs = append(errs, fmt.Errorf("serial.vendors[%d]: vendor_id or fragment required", i))
		}
	}
	if c.Arbitration.Deadline <= 0 {
		errs = append(errs, errors.New("arbitration.deadline must be positive"))
	}
	switch c.Inventory.DefaultMode {
	case "auto", "input", "output":
	default:
		errs = append(errs, fmt.Errorf("inventory.default_mode %q: want auto, input or output", c.Inventory.DefaultMode))
	}
	if c.Inventory.Quantity < 1 || c.Inventory.Quantity > 99 {
		errs = append(errs, fmt.Errorf("inventory.quantity %d: want 1..99", c.Inventory.Quantity))
	}
	if c.Inventory.HistorySize < 1 {
		errs = append(errs, errors.New("inventory.history_size must be at least 1"))
	}
	if c.Mock.Interval <= 0 {
		errs = append(errs, errors.New("mock.interval must be positive"))
	}
	return errors.Join(errs...)
}

// RemoteInventory reports whether a backend URL is configured. Without one
// the daemon can only run in mock mode.
func (c *Config) RemoteInventory() bool {
	return c.Inventory.BaseURL != "" && c.Inventory.StoreID != ""
}
