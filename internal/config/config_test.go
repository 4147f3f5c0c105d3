package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/deflection/internal/calibration"
	"github.com/banshee-data/deflection/internal/publish"
	"github.com/banshee-data/deflection/internal/sensor"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const fullJSON = `{
  "sensor": {"host": "10.0.0.5", "port": 10002, "channel": 2, "dial_timeout": "2s"},
  "calibration": {"range_max": 20000, "range_min": 0, "measure_range": 50, "offset": 1.5},
  "store": {"transport": "http", "host": "influx", "port": 8087, "database": "ship",
            "username": "u", "password": "p", "timeout": "3s", "location": "bow"},
  "mirror": {"host": "127.0.0.1", "port": 9000},
  "journal_path": "/var/lib/deflection/journal.db",
  "debug_listen": "localhost:8080",
  "stats_interval": "30s",
  "log_file": "/tmp/deflection.log"
}`

func TestLoad_JSON(t *testing.T) {
	cfg, err := Load(writeFile(t, "deflection.json", fullJSON))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	want := sensor.Endpoint{
		Transport:   "tcp",
		Host:        "10.0.0.5",
		Port:        10002,
		DialTimeout: 2 * time.Second,
	}
	if diff := cmp.Diff(want, cfg.SensorEndpoint()); diff != "" {
		t.Errorf("SensorEndpoint mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, cfg.GetChannel())
	assert.Equal(t, calibration.Config{RangeMax: 20000, RangeMin: 0, MeasureRange: 50, Offset: 1.5}, cfg.CalibrationConfig())

	wantTarget := publish.Target{
		Transport:   "http",
		Host:        "influx",
		Port:        8087,
		Database:    "ship",
		Username:    "u",
		Password:    "p",
		Timeout:     3 * time.Second,
		Location:    "bow",
		Measurement: "deflection",
	}
	if diff := cmp.Diff(wantTarget, cfg.PublishTarget()); diff != "" {
		t.Errorf("PublishTarget mismatch (-want +got):\n%s", diff)
	}

	host, port, ok := cfg.MirrorAddress()
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 9000, port)
	assert.Equal(t, "/var/lib/deflection/journal.db", cfg.GetJournalPath())
	assert.Equal(t, "localhost:8080", cfg.GetDebugListen())
	assert.Equal(t, 30*time.Second, cfg.GetStatsInterval())
	assert.Equal(t, "/tmp/deflection.log", cfg.GetLogFile())
}

func TestLoad_YAML(t *testing.T) {
	body := `
sensor:
  transport: serial
  serial_port: /dev/ttyUSB0
  baud_rate: 921600
  parity: even
calibration:
  range_max: 65535
  range_min: 0
  measure_range: 10
store:
  udp_port: 8089
`
	cfg, err := Load(writeFile(t, "deflection.yml", body))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	ep := cfg.SensorEndpoint()
	assert.Equal(t, sensor.TransportSerial, ep.Transport)
	assert.Equal(t, "/dev/ttyUSB0", ep.SerialPort)
	assert.Equal(t, 921600, ep.Serial.BaudRate)
	assert.Equal(t, "even", ep.Serial.Parity)

	target := cfg.PublishTarget()
	assert.Equal(t, publish.TransportUDP, target.Transport)
	assert.Equal(t, 8089, target.Port)
	assert.Equal(t, "localhost", target.Host)
	assert.Equal(t, "hull", target.Location)
}

func TestLoad_Legacy(t *testing.T) {
	body := `{"NCDT": {"IP": "192.168.1.10",
	  "conversion": {"DRANGEMAX": 20000, "DRANGEMIN": 0, "MEASRANGE": 50, "OFFSET": 0},
	  "dbConf": {"udp_port": 8089}}}`
	cfg, err := Load(writeFile(t, "conf.json", body))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "192.168.1.10", cfg.GetSensorHost())
	assert.Equal(t, 10001, cfg.GetSensorPort())
	assert.Equal(t, 3, cfg.GetChannel())
	assert.Equal(t, 8089, cfg.PublishTarget().Port)

	model, err := calibration.NewModel(cfg.CalibrationConfig())
	require.NoError(t, err)
	assert.Equal(t, 25.0, model.Convert(10000))
}

func TestLoad_ModernFieldsWinOverLegacy(t *testing.T) {
	body := `{"sensor": {"host": "new"}, "NCDT": {"IP": "old", "dbConf": {"udp_port": 1}}, "store": {"udp_port": 2}}`
	cfg, err := Load(writeFile(t, "conf.json", body))
	require.NoError(t, err)
	assert.Equal(t, "new", cfg.GetSensorHost())
	assert.Equal(t, 2, *cfg.Store.UDPPort)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(writeFile(t, "conf.toml", "x = 1"))
	assert.ErrorContains(t, err, "extension")

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "stat")

	_, err = Load(writeFile(t, "bad.json", "{"))
	assert.ErrorContains(t, err, "parse config JSON")

	_, err = Load(writeFile(t, "bad.yaml", "sensor: [unclosed"))
	assert.ErrorContains(t, err, "parse config YAML")

	big := writeFile(t, "big.json", `{"log_file":"`+strings.Repeat("x", maxFileSize)+`"}`)
	_, err = Load(big)
	assert.ErrorContains(t, err, "too large")
}

func (c *Config) setCalibration(rangeMax, rangeMin, measureRange, offset float64) {
	c.Calibration = CalibrationConfig{
		RangeMax:     ptrFloat64(rangeMax),
		RangeMin:     ptrFloat64(rangeMin),
		MeasureRange: ptrFloat64(measureRange),
		Offset:       ptrFloat64(offset),
	}
}

func validConfig() *Config {
	c := &Config{}
	c.Sensor.Host = ptrString("10.0.0.5")
	c.Store.UDPPort = ptrInt(8089)
	c.setCalibration(20000, 0, 50, 0)
	return c
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing host", func(c *Config) { c.Sensor.Host = nil }, "sensor host is required"},
		{"bad sensor port", func(c *Config) { c.Sensor.Port = ptrInt(0) }, "sensor port"},
		{"unknown sensor transport", func(c *Config) { c.Sensor.Transport = ptrString("can") }, "sensor transport"},
		{"serial without path", func(c *Config) { c.Sensor.Transport = ptrString("serial") }, "serial_port"},
		{"serial bad parity", func(c *Config) {
			c.Sensor.Transport = ptrString("serial")
			c.Sensor.SerialPort = ptrString("/dev/ttyUSB0")
			c.Sensor.Parity = ptrString("mark")
		}, "parity"},
		{"channel zero", func(c *Config) { c.Sensor.Channel = ptrInt(0) }, "channel"},
		{"channel four", func(c *Config) { c.Sensor.Channel = ptrInt(4) }, "channel"},
		{"missing calibration", func(c *Config) { c.Calibration = CalibrationConfig{} }, "calibration range_max"},
		{"degenerate calibration", func(c *Config) { c.setCalibration(100, 100, 50, 0) }, "calibration"},
		{"udp without port", func(c *Config) { c.Store.UDPPort = nil }, "udp_port"},
		{"http without database", func(c *Config) { c.Store.Transport = ptrString("http") }, "database"},
		{"unknown store transport", func(c *Config) { c.Store.Transport = ptrString("grpc") }, "store transport"},
		{"bad timeout", func(c *Config) { c.Store.Timeout = ptrString("soon") }, "store.timeout"},
		{"negative stats interval", func(c *Config) { c.StatsInterval = ptrString("-1s") }, "stats_interval"},
		{"mirror without port", func(c *Config) { c.Mirror.Host = ptrString("127.0.0.1") }, "mirror port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestDefaults(t *testing.T) {
	c := &Config{}
	assert.Equal(t, "tcp", c.GetSensorTransport())
	assert.Equal(t, 10001, c.GetSensorPort())
	assert.Equal(t, 3, c.GetChannel())
	assert.Equal(t, 5*time.Second, c.GetDialTimeout())
	assert.Equal(t, "udp", c.GetStoreTransport())
	assert.Equal(t, "localhost", c.GetStoreHost())
	assert.Equal(t, 8086, c.GetStorePort())
	assert.Equal(t, 60*time.Second, c.GetStatsInterval())
	assert.Equal(t, "", c.GetDebugListen())
	_, _, ok := c.MirrorAddress()
	assert.False(t, ok)

	c.StatsInterval = ptrString("garbage")
	assert.Equal(t, 60*time.Second, c.GetStatsInterval(), "default on parse error")
}

func parseOverrides(t *testing.T, args ...string) *Overrides {
	t.Helper()
	fs := flag.NewFlagSet("deflection", flag.ContinueOnError)
	o := &Overrides{}
	o.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	o.Capture(fs)
	return o
}

func TestOverrides_Apply(t *testing.T) {
	c := validConfig()
	c.Store.Transport = ptrString("udp")

	o := parseOverrides(t, "-ip", "10.0.0.9", "-port", "2000", "-http", "-db-name", "ship",
		"-db-host", "influx", "-db-port", "8087", "-channel", "1", "-journal", "j.db",
		"-debug-listen", ":8080", "-log-file", "x.log")
	assert.True(t, o.Any())
	require.NoError(t, o.Apply(c))
	require.NoError(t, c.Validate())

	assert.Equal(t, "10.0.0.9", c.GetSensorHost())
	assert.Equal(t, 2000, c.GetSensorPort())
	assert.Equal(t, 1, c.GetChannel())

	target := c.PublishTarget()
	assert.Equal(t, publish.TransportHTTP, target.Transport)
	assert.Equal(t, "influx", target.Host)
	assert.Equal(t, 8087, target.Port)
	assert.Equal(t, "ship", target.Database)
	assert.Equal(t, "j.db", c.GetJournalPath())
	assert.Equal(t, ":8080", c.GetDebugListen())
	assert.Equal(t, "x.log", c.GetLogFile())
}

func TestOverrides_AnyIgnoresForeignFlags(t *testing.T) {
	fs := flag.NewFlagSet("deflection", flag.ContinueOnError)
	o := &Overrides{}
	o.RegisterFlags(fs)
	verbose := fs.Bool("v", false, "")
	require.NoError(t, fs.Parse([]string{"-v", "-config", "x.json"}))
	o.Capture(fs)

	assert.True(t, *verbose)
	assert.False(t, o.Any())
}

func TestOverrides_UnsetFlagsKeepFile(t *testing.T) {
	c := validConfig()
	c.Sensor.Port = ptrInt(10005)

	o := parseOverrides(t, "-config", "x.json")
	assert.False(t, o.Any())
	require.NoError(t, o.Apply(c))
	assert.Equal(t, 10005, c.GetSensorPort(), "flag default must not clobber the file")
	assert.Equal(t, "10.0.0.5", c.GetSensorHost())
}

func TestOverrides_ConflictingTransports(t *testing.T) {
	o := parseOverrides(t, "-http", "-udp")
	err := o.Apply(validConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOverrides_OnlyFlags(t *testing.T) {
	// The original tool could run from flags alone.
	c := &Config{}
	c.setCalibration(20000, 0, 50, 0)
	o := parseOverrides(t, "-ip", "10.0.0.5", "-udp", "-udp-port", "8089")
	require.NoError(t, o.Apply(c))
	require.NoError(t, c.Validate())
	assert.Equal(t, 8089, c.PublishTarget().Port)
}
