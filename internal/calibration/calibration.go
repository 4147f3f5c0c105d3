// Package calibration converts raw optoNCDT channel readings into millimetres.
package calibration

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDegenerateRange is returned when RangeMax equals RangeMin, which would
	// make every conversion divide by zero.
	ErrDegenerateRange = errors.New("calibration range_max must differ from range_min")
	// ErrInvalidConstant is returned when a constant is NaN or infinite.
	ErrInvalidConstant = errors.New("calibration constant must be finite")
)

// Config holds the four constants of the linear conversion. RangeMin and
// RangeMax are in raw sensor units, MeasureRange and Offset in millimetres.
type Config struct {
	RangeMax     float64 `json:"range_max" yaml:"range_max"`
	RangeMin     float64 `json:"range_min" yaml:"range_min"`
	MeasureRange float64 `json:"measure_range" yaml:"measure_range"`
	Offset       float64 `json:"offset" yaml:"offset"`
}

// Validate checks that the constants describe a usable transform.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"range_max":     c.RangeMax,
		"range_min":     c.RangeMin,
		"measure_range": c.MeasureRange,
		"offset":        c.Offset,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidConstant, name, v)
		}
	}
	if c.RangeMax == c.RangeMin {
		return fmt.Errorf("%w: both are %v", ErrDegenerateRange, c.RangeMax)
	}
	return nil
}

// Model is an immutable raw-to-millimetre transform.
type Model struct {
	cfg  Config
	span float64
}

// NewModel validates cfg and returns a Model. Degenerate constants are a
// startup error; Convert itself never fails.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Model{cfg: cfg, span: cfg.RangeMax - cfg.RangeMin}, nil
}

// Convert maps a raw channel value to millimetres:
//
//	((raw - RangeMin) * MeasureRange) / (RangeMax - RangeMin) + Offset
//
// raw is promoted to float64 before the subtraction, which is exact for every
// uint32, so the subtraction cannot wrap the way unsigned arithmetic would.
func (m *Model) Convert(raw uint32) float64 {
	return ((float64(raw)-m.cfg.RangeMin)*m.cfg.MeasureRange)/m.span + m.cfg.Offset
}

// Config returns the constants the model was built from.
func (m *Model) Config() Config {
	return m.cfg
}
