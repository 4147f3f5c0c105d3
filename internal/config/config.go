// Package config loads the acquisition service configuration from a JSON or
// YAML file and applies command-line overrides.
//
// Every field is optional in the file. Unset fields fall back to the defaults
// returned by the Get* accessors, so a partial file is always safe; Validate
// reports the combinations that cannot work.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/deflection/internal/publish"
	"github.com/banshee-data/deflection/internal/sensor"
)

// DefaultLegacyPath is where the original tool kept its configuration.
const DefaultLegacyPath = "/etc/umg/conf.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

const (
	defaultStoreHost     = "localhost"
	defaultStorePort     = 8086
	defaultStatsInterval = 60 * time.Second
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root of the configuration file.
type Config struct {
	Sensor      SensorConfig      `json:"sensor" yaml:"sensor"`
	Calibration CalibrationConfig `json:"calibration" yaml:"calibration"`
	Store       StoreConfig       `json:"store" yaml:"store"`
	Mirror      MirrorConfig      `json:"mirror" yaml:"mirror"`

	JournalPath   *string `json:"journal_path,omitempty" yaml:"journal_path,omitempty"`
	DebugListen   *string `json:"debug_listen,omitempty" yaml:"debug_listen,omitempty"`
	StatsInterval *string `json:"stats_interval,omitempty" yaml:"stats_interval,omitempty"` // duration string like "60s"
	LogFile       *string `json:"log_file,omitempty" yaml:"log_file,omitempty"`

	// Legacy holds the layout used by the original tool. Its values are
	// folded into the fields above by Load.
	Legacy *LegacyNCDT `json:"NCDT,omitempty" yaml:"NCDT,omitempty"`
}

// SensorConfig locates the IF1032/ETH stream (or a serial adapter).
type SensorConfig struct {
	Host        *string `json:"host,omitempty" yaml:"host,omitempty"`
	Port        *int    `json:"port,omitempty" yaml:"port,omitempty"`
	Transport   *string `json:"transport,omitempty" yaml:"transport,omitempty"` // "tcp" or "serial"
	Channel     *int    `json:"channel,omitempty" yaml:"channel,omitempty"`
	DialTimeout *string `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty"`

	SerialPort *string `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits   *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits   *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity     *string `json:"parity,omitempty" yaml:"parity,omitempty"`
}

// CalibrationConfig holds the linear conversion constants.
type CalibrationConfig struct {
	RangeMax     *float64 `json:"range_max,omitempty" yaml:"range_max,omitempty"`
	RangeMin     *float64 `json:"range_min,omitempty" yaml:"range_min,omitempty"`
	MeasureRange *float64 `json:"measure_range,omitempty" yaml:"measure_range,omitempty"`
	Offset       *float64 `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// StoreConfig locates the InfluxDB instance.
type StoreConfig struct {
	Transport   *string `json:"transport,omitempty" yaml:"transport,omitempty"` // "udp" or "http"
	Host        *string `json:"host,omitempty" yaml:"host,omitempty"`
	Port        *int    `json:"port,omitempty" yaml:"port,omitempty"`
	UDPPort     *int    `json:"udp_port,omitempty" yaml:"udp_port,omitempty"`
	Database    *string `json:"database,omitempty" yaml:"database,omitempty"`
	Username    *string `json:"username,omitempty" yaml:"username,omitempty"`
	Password    *string `json:"password,omitempty" yaml:"password,omitempty"`
	Timeout     *string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Location    *string `json:"location,omitempty" yaml:"location,omitempty"`
	Measurement *string `json:"measurement,omitempty" yaml:"measurement,omitempty"`
}

// MirrorConfig enables the raw frame UDP mirror when Host is set.
type MirrorConfig struct {
	Host *string `json:"host,omitempty" yaml:"host,omitempty"`
	Port *int    `json:"port,omitempty" yaml:"port,omitempty"`
}

// LegacyNCDT is the "NCDT" object of the original configuration file.
type LegacyNCDT struct {
	IP         *string `json:"IP,omitempty" yaml:"IP,omitempty"`
	Conversion *struct {
		DRangeMax *float64 `json:"DRANGEMAX,omitempty" yaml:"DRANGEMAX,omitempty"`
		DRangeMin *float64 `json:"DRANGEMIN,omitempty" yaml:"DRANGEMIN,omitempty"`
		MeasRange *float64 `json:"MEASRANGE,omitempty" yaml:"MEASRANGE,omitempty"`
		Offset    *float64 `json:"OFFSET,omitempty" yaml:"OFFSET,omitempty"`
	} `json:"conversion,omitempty" yaml:"conversion,omitempty"`
	DBConf *struct {
		UDPPort *int `json:"udp_port,omitempty" yaml:"udp_port,omitempty"`
	} `json:"dbConf,omitempty" yaml:"dbConf,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Load reads a configuration file. The format follows the extension: .json,
// .yaml or .yml. Legacy NCDT values fill any field the file leaves unset.
// Load does not validate; call Validate once overrides are applied.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	cfg.applyLegacy()
	return cfg, nil
}

func (c *Config) applyLegacy() {
	l := c.Legacy
	if l == nil {
		return
	}
	if c.Sensor.Host == nil && l.IP != nil {
		c.Sensor.Host = l.IP
	}
	if conv := l.Conversion; conv != nil {
		if c.Calibration.RangeMax == nil {
			c.Calibration.RangeMax = conv.DRangeMax
		}
		if c.Calibration.RangeMin == nil {
			c.Calibration.RangeMin = conv.DRangeMin
		}
		if c.Calibration.MeasureRange == nil {
			c.Calibration.MeasureRange = conv.MeasRange
		}
		if c.Calibration.Offset == nil {
			c.Calibration.Offset = conv.Offset
		}
	}
	if l.DBConf != nil && c.Store.UDPPort == nil {
		c.Store.UDPPort = l.DBConf.UDPPort
	}
}

// Validate checks that the configuration can start an acquisition run. Every
// error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.GetSensorTransport() {
	case sensor.TransportTCP:
		if c.GetSensorHost() == "" {
			fail("sensor host is required (set sensor.host or -ip)")
		}
		if p := c.GetSensorPort(); p <= 0 || p > 65535 {
			fail("sensor port must be between 1 and 65535, got %d", p)
		}
	case sensor.TransportSerial:
		if c.Sensor.SerialPort == nil || *c.Sensor.SerialPort == "" {
			fail("sensor serial_port is required for serial transport")
		}
		if _, err := c.SerialOptions().Normalize(); err != nil {
			fail("sensor: %v", err)
		}
	default:
		fail("sensor transport must be %q or %q, got %q", sensor.TransportTCP, sensor.TransportSerial, c.GetSensorTransport())
	}

	if ch := c.GetChannel(); ch < 1 || ch > 3 {
		fail("sensor channel must be 1, 2 or 3, got %d", ch)
	}

	cal := c.Calibration
	if cal.RangeMax == nil || cal.RangeMin == nil || cal.MeasureRange == nil {
		fail("calibration range_max, range_min and measure_range are required")
	} else if err := c.CalibrationConfig().Validate(); err != nil {
		fail("calibration: %v", err)
	}

	switch c.GetStoreTransport() {
	case publish.TransportUDP:
		if c.Store.UDPPort == nil || *c.Store.UDPPort <= 0 || *c.Store.UDPPort > 65535 {
			fail("store udp_port is required for udp transport (set store.udp_port or -udp-port)")
		}
	case publish.TransportHTTP:
		if c.GetDatabase() == "" {
			fail("store database is required for http transport (set store.database or -db-name)")
		}
		if p := c.GetStorePort(); p <= 0 || p > 65535 {
			fail("store port must be between 1 and 65535, got %d", p)
		}
	default:
		fail("store transport must be %q or %q, got %q", publish.TransportUDP, publish.TransportHTTP, c.GetStoreTransport())
	}

	for _, d := range []struct {
		name string
		v    *string
	}{
		{"sensor.dial_timeout", c.Sensor.DialTimeout},
		{"store.timeout", c.Store.Timeout},
		{"stats_interval", c.StatsInterval},
	} {
		if d.v == nil || *d.v == "" {
			continue
		}
		if parsed, err := time.ParseDuration(*d.v); err != nil || parsed <= 0 {
			fail("invalid %s %q: must be a positive duration", d.name, *d.v)
		}
	}

	if c.Mirror.Host != nil && *c.Mirror.Host != "" {
		if c.Mirror.Port == nil || *c.Mirror.Port <= 0 || *c.Mirror.Port > 65535 {
			fail("mirror port is required when mirror host is set")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
