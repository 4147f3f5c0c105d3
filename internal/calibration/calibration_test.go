package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModel_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"valid", Config{RangeMax: 20000, RangeMin: 0, MeasureRange: 50}, nil},
		{"inverted span is allowed", Config{RangeMax: 0, RangeMin: 20000, MeasureRange: 50}, nil},
		{"degenerate span", Config{RangeMax: 100, RangeMin: 100, MeasureRange: 50}, ErrDegenerateRange},
		{"all zero", Config{}, ErrDegenerateRange},
		{"nan offset", Config{RangeMax: 1, Offset: math.NaN()}, ErrInvalidConstant},
		{"inf range", Config{RangeMax: math.Inf(1)}, ErrInvalidConstant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewModel(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg, m.Config())
		})
	}
}

func TestConvert_ReferencePoint(t *testing.T) {
	m, err := NewModel(Config{RangeMin: 0, RangeMax: 20000, MeasureRange: 50, Offset: 0})
	require.NoError(t, err)

	assert.Equal(t, 25.0, m.Convert(10000))
	assert.Equal(t, 0.0, m.Convert(0))
	assert.Equal(t, 50.0, m.Convert(20000))
}

func TestConvert_MatchesFormula(t *testing.T) {
	cfg := Config{RangeMin: 98, RangeMax: 65520, MeasureRange: 10, Offset: -2.5}
	m, err := NewModel(cfg)
	require.NoError(t, err)

	for _, raw := range []uint32{0, 1, 97, 98, 32768, 65520, 1 << 20, math.MaxUint32} {
		want := ((float64(raw)-cfg.RangeMin)*cfg.MeasureRange)/(cfg.RangeMax-cfg.RangeMin) + cfg.Offset
		assert.Equal(t, want, m.Convert(raw), "raw=%d", raw)
	}
}

func TestConvert_BelowRangeMinDoesNotWrap(t *testing.T) {
	m, err := NewModel(Config{RangeMin: 1000, RangeMax: 2000, MeasureRange: 10})
	require.NoError(t, err)

	assert.Equal(t, -10.0, m.Convert(0))
}

func TestConvert_Pure(t *testing.T) {
	m, err := NewModel(Config{RangeMin: 3, RangeMax: 7919, MeasureRange: 2, Offset: 0.1})
	require.NoError(t, err)

	first := m.Convert(4242)
	for i := 0; i < 100; i++ {
		got := m.Convert(4242)
		if math.Float64bits(got) != math.Float64bits(first) {
			t.Fatalf("Convert(4242) changed between calls: %v != %v", got, first)
		}
	}
	assert.Equal(t, Config{RangeMin: 3, RangeMax: 7919, MeasureRange: 2, Offset: 0.1}, m.Config())
}
