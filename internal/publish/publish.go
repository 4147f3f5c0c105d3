// Package publish delivers calibrated samples to an InfluxDB 1.x store over
// one of two transports: fire-and-forget UDP datagrams or synchronous HTTP
// writes. The transport is chosen once at startup through New.
package publish

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
)

const (
	TransportUDP  = "udp"  // Datagram variant
	TransportHTTP = "http" // Transactional variant

	DefaultMeasurement = "deflection"
	DefaultLocation    = "hull"
	DefaultTimeout     = 5 * time.Second
)

var (
	ErrUnknownTransport = errors.New("unknown publish transport")
	ErrMissingParameter = errors.New("missing publish parameter")
)

// Sample is one calibrated measurement ready for the store.
type Sample struct {
	Value  float64   // Displacement in millimetres
	Status int16     // Status word of the frame the value came from
	Time   time.Time // Capture instant
}

// Publisher sends samples to the metrics store. Implementations are not safe
// for concurrent use; the acquisition loop calls them from a single goroutine.
type Publisher interface {
	// Publish makes exactly one delivery attempt for s. Failures are returned
	// as *PublishError and never retried internally.
	Publish(s Sample) error
	// Close releases the underlying client.
	Close() error
	// Transport names the active variant (TransportUDP or TransportHTTP).
	Transport() string
}

// PublishError wraps a failed delivery with the transport that attempted it.
type PublishError struct {
	Transport string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish via %s failed: %v", e.Transport, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Target selects and parameterises the publisher variant.
type Target struct {
	Transport string
	Host      string
	Port      int
	Database  string // Required for TransportHTTP, ignored for TransportUDP
	Username  string
	Password  string
	Timeout   time.Duration

	Measurement string // Defaults to DefaultMeasurement
	Location    string // Value of the "loc" tag, defaults to DefaultLocation
}

// Normalize validates the target and fills in defaults.
func (t Target) Normalize() (Target, error) {
	out := t
	out.Transport = strings.ToLower(strings.TrimSpace(t.Transport))
	out.Host = strings.TrimSpace(t.Host)

	switch out.Transport {
	case TransportUDP, TransportHTTP:
	case "":
		return out, fmt.Errorf("%w: transport", ErrMissingParameter)
	default:
		return out, fmt.Errorf("%w %q: expected %q or %q", ErrUnknownTransport, t.Transport, TransportUDP, TransportHTTP)
	}

	if out.Host == "" {
		return out, fmt.Errorf("%w: host", ErrMissingParameter)
	}
	if out.Port <= 0 || out.Port > 65535 {
		return out, fmt.Errorf("%w: %s port (got %d)", ErrMissingParameter, out.Transport, out.Port)
	}
	if out.Transport == TransportHTTP && strings.TrimSpace(out.Database) == "" {
		return out, fmt.Errorf("%w: database name is required for %s", ErrMissingParameter, TransportHTTP)
	}

	if out.Measurement == "" {
		out.Measurement = DefaultMeasurement
	}
	if out.Location == "" {
		out.Location = DefaultLocation
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	return out, nil
}

// Address returns host:port for the target.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// New constructs the publisher variant described by t. A construction error
// is fatal for the process: no samples may be published without a client.
func New(t Target) (Publisher, error) {
	t, err := t.Normalize()
	if err != nil {
		return nil, err
	}

	switch t.Transport {
	case TransportUDP:
		return NewDatagram(t)
	default:
		return NewTransactional(t)
	}
}

// Point returns the tag and field sets shared by both variants.
func Point(location string, s Sample) (map[string]string, map[string]interface{}) {
	tags := map[string]string{"loc": location}
	fields := map[string]interface{}{
		"value":  s.Value,
		"status": int64(s.Status),
	}
	return tags, fields
}

// newBatch wraps s in a single-point batch.
func newBatch(t Target, database string, s Sample) (client.BatchPoints, error) {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  database,
		Precision: "ns",
	})
	if err != nil {
		return nil, err
	}

	tags, fields := Point(t.Location, s)
	pt, err := client.NewPoint(t.Measurement, tags, fields, s.Time.UTC())
	if err != nil {
		return nil, err
	}
	bp.AddPoint(pt)
	return bp, nil
}
