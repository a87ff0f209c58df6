package clock

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ParsesMHz(t *testing.T) {
	n, err := New("1000")
	require.NoError(t, err)
	assert.Equal(t, 1.0, n.GHz())
	assert.Equal(t, uint64(3000), n.ToNs(3000))

	n, err = New(" 2000 ")
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), n.ToNs(3000))

	n, err = New("50")
	require.NoError(t, err)
	assert.Equal(t, uint64(20000), n.ToNs(1000))
}

func TestNew_RejectsInvalid(t *testing.T) {
	for _, freq := range []string{"", "abc", "0", "-100", "NaN"} {
		_, err := New(freq)
		assert.ErrorIs(t, err, ErrInvalidFrequency, "frequency %q", freq)
	}
}

func TestToNs_ExactPastFloatPrecision(t *testing.T) {
	tests := []struct {
		freq   string
		cycles uint64
		want   uint64
	}{
		{"1000", 1<<53 + 1, 1<<53 + 1},
		{"1000", math.MaxUint64, math.MaxUint64},
		{"2000", 1<<60 + 3, (1<<60 + 3) / 2},
		{"1800", 1<<55 + 7, (1<<55+7)/1800*1000 + (1<<55+7)%1800*1000/1800},
		{"500", 1 << 62, 1 << 63},
	}
	for _, tt := range tests {
		n, err := New(tt.freq)
		require.NoError(t, err)
		assert.Equal(t, tt.want, n.ToNs(tt.cycles), "%s MHz, %d cycles", tt.freq, tt.cycles)
	}
}

func TestToNs_FractionalFrequency(t *testing.T) {
	n, err := New("1800.5")
	require.NoError(t, err)
	assert.InDelta(t, 999.7, float64(n.ToNs(1800)), 1)
}
