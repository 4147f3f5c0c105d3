package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/banshee-data/deflection/internal/publish"
)

// Overrides carries command-line values that take precedence over the file.
// Only flags the user actually set are applied.
type Overrides struct {
	ConfigPath string

	IP          string
	Port        int
	HTTP        bool
	UDP         bool
	DBHost      string
	DBPort      int
	DBName      string
	UDPPort     int
	Channel     int
	DebugListen string
	Journal     string
	LogFile     string

	set map[string]bool
}

var overrideFlags = []string{
	"ip", "port", "http", "udp", "db-host", "db-port", "db-name", "udp-port",
	"channel", "debug-listen", "journal", "log-file",
}

// RegisterFlags defines the override flags on fs.
func (o *Overrides) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.ConfigPath, "config", "", "Path to a JSON or YAML configuration file (default "+DefaultLegacyPath+" when present)")
	fs.StringVar(&o.IP, "ip", "", "IP address of the IF1032/ETH module")
	fs.IntVar(&o.Port, "port", 10001, "Port of the IF1032/ETH stream server")
	fs.BoolVar(&o.HTTP, "http", false, "Send samples to InfluxDB over HTTP")
	fs.BoolVar(&o.UDP, "udp", false, "Send samples to InfluxDB over UDP (default transport)")
	fs.StringVar(&o.DBHost, "db-host", "localhost", "InfluxDB host")
	fs.IntVar(&o.DBPort, "db-port", 8086, "InfluxDB HTTP port")
	fs.StringVar(&o.DBName, "db-name", "", "InfluxDB database (required for -http)")
	fs.IntVar(&o.UDPPort, "udp-port", 0, "InfluxDB UDP listener port (required for -udp)")
	fs.IntVar(&o.Channel, "channel", 3, "Frame channel carrying the measurement (1-3)")
	fs.StringVar(&o.DebugListen, "debug-listen", "", "Listen address for the debug HTTP server, e.g. localhost:8080")
	fs.StringVar(&o.Journal, "journal", "", "Path to the sqlite fault journal")
	fs.StringVar(&o.LogFile, "log-file", "", "Also append log output to this file")
}

// Capture records which flags were set explicitly. Call after fs.Parse.
func (o *Overrides) Capture(fs *flag.FlagSet) {
	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
}

// IsSet reports whether the named flag was given on the command line.
func (o *Overrides) IsSet(name string) bool {
	return o.set[name]
}

// Any reports whether any override other than -config was given. Flags the
// caller registered itself do not count.
func (o *Overrides) Any() bool {
	for _, name := range overrideFlags {
		if o.set[name] {
			return true
		}
	}
	return false
}

// Apply copies the explicitly set flags into c.
func (o *Overrides) Apply(c *Config) error {
	if o.IsSet("http") && o.IsSet("udp") && o.HTTP && o.UDP {
		return fmt.Errorf("%w: -http and -udp are mutually exclusive", ErrInvalidConfig)
	}

	if o.IsSet("ip") {
		c.Sensor.Host = ptrString(strings.TrimSpace(o.IP))
	}
	if o.IsSet("port") {
		c.Sensor.Port = ptrInt(o.Port)
	}
	if o.IsSet("channel") {
		c.Sensor.Channel = ptrInt(o.Channel)
	}
	if o.IsSet("http") && o.HTTP {
		c.Store.Transport = ptrString(publish.TransportHTTP)
	}
	if o.IsSet("udp") && o.UDP {
		c.Store.Transport = ptrString(publish.TransportUDP)
	}
	if o.IsSet("db-host") {
		c.Store.Host = ptrString(o.DBHost)
	}
	if o.IsSet("db-port") {
		c.Store.Port = ptrInt(o.DBPort)
	}
	if o.IsSet("db-name") {
		c.Store.Database = ptrString(o.DBName)
	}
	if o.IsSet("udp-port") {
		c.Store.UDPPort = ptrInt(o.UDPPort)
	}
	if o.IsSet("debug-listen") {
		c.DebugListen = ptrString(o.DebugListen)
	}
	if o.IsSet("journal") {
		c.JournalPath = ptrString(o.Journal)
	}
	if o.IsSet("log-file") {
		c.LogFile = ptrString(o.LogFile)
	}
	return nil
}
