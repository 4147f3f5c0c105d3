package config

import (
	"strings"
	"time"

	"github.com/banshee-data/deflection/internal/calibration"
	"github.com/banshee-data/deflection/internal/publish"
	"github.com/banshee-data/deflection/internal/sensor"
)

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetSensorTransport returns "tcp" unless the file selects "serial".
func (c *Config) GetSensorTransport() string {
	return strings.ToLower(stringOr(c.Sensor.Transport, sensor.TransportTCP))
}

func (c *Config) GetSensorHost() string {
	return stringOr(c.Sensor.Host, "")
}

// GetSensorPort returns the stream port or the IF1032/ETH default 10001.
func (c *Config) GetSensorPort() int {
	return intOr(c.Sensor.Port, sensor.DefaultPort)
}

// GetChannel returns the frame channel carrying the reading (default 3).
func (c *Config) GetChannel() int {
	return intOr(c.Sensor.Channel, 3)
}

func (c *Config) GetDialTimeout() time.Duration {
	return parseDuration(c.Sensor.DialTimeout, sensor.DefaultDialTimeout)
}

// SerialOptions returns the serial line settings as given; sensor applies
// the defaults.
func (c *Config) SerialOptions() sensor.PortOptions {
	return sensor.PortOptions{
		BaudRate: intOr(c.Sensor.BaudRate, 0),
		DataBits: intOr(c.Sensor.DataBits, 0),
		StopBits: intOr(c.Sensor.StopBits, 0),
		Parity:   stringOr(c.Sensor.Parity, ""),
	}
}

// SensorEndpoint assembles the dialer parameters.
func (c *Config) SensorEndpoint() sensor.Endpoint {
	return sensor.Endpoint{
		Transport:   c.GetSensorTransport(),
		Host:        c.GetSensorHost(),
		Port:        c.GetSensorPort(),
		DialTimeout: c.GetDialTimeout(),
		SerialPort:  stringOr(c.Sensor.SerialPort, ""),
		Serial:      c.SerialOptions(),
	}
}

// CalibrationConfig returns the conversion constants; unset values are zero.
func (c *Config) CalibrationConfig() calibration.Config {
	get := func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	}
	return calibration.Config{
		RangeMax:     get(c.Calibration.RangeMax),
		RangeMin:     get(c.Calibration.RangeMin),
		MeasureRange: get(c.Calibration.MeasureRange),
		Offset:       get(c.Calibration.Offset),
	}
}

// GetStoreTransport returns "udp" unless the file selects "http".
func (c *Config) GetStoreTransport() string {
	return strings.ToLower(stringOr(c.Store.Transport, publish.TransportUDP))
}

func (c *Config) GetStoreHost() string {
	return stringOr(c.Store.Host, defaultStoreHost)
}

func (c *Config) GetStorePort() int {
	return intOr(c.Store.Port, defaultStorePort)
}

func (c *Config) GetDatabase() string {
	return stringOr(c.Store.Database, "")
}

// PublishTarget assembles the publisher parameters. For udp the datagram
// port is the store's udp_port; for http it is the HTTP API port.
func (c *Config) PublishTarget() publish.Target {
	t := publish.Target{
		Transport:   c.GetStoreTransport(),
		Host:        c.GetStoreHost(),
		Port:        c.GetStorePort(),
		Database:    c.GetDatabase(),
		Username:    stringOr(c.Store.Username, ""),
		Password:    stringOr(c.Store.Password, ""),
		Timeout:     parseDuration(c.Store.Timeout, publish.DefaultTimeout),
		Location:    stringOr(c.Store.Location, publish.DefaultLocation),
		Measurement: stringOr(c.Store.Measurement, publish.DefaultMeasurement),
	}
	if t.Transport == publish.TransportUDP {
		t.Port = intOr(c.Store.UDPPort, 0)
	}
	return t
}

// MirrorAddress returns the frame mirror destination and whether the mirror
// is enabled.
func (c *Config) MirrorAddress() (host string, port int, ok bool) {
	host = stringOr(c.Mirror.Host, "")
	if host == "" {
		return "", 0, false
	}
	return host, intOr(c.Mirror.Port, 0), true
}

// GetJournalPath returns the sqlite journal path; empty disables the journal.
func (c *Config) GetJournalPath() string {
	return stringOr(c.JournalPath, "")
}

// GetDebugListen returns the debug HTTP listen address; empty disables it.
func (c *Config) GetDebugListen() string {
	return stringOr(c.DebugListen, "")
}

func (c *Config) GetStatsInterval() time.Duration {
	return parseDuration(c.StatsInterval, defaultStatsInterval)
}

// GetLogFile returns the extra log file path; empty logs to stderr only.
func (c *Config) GetLogFile() string {
	return stringOr(c.LogFile, "")
}
