// Package clock converts device cycle counts into nanoseconds.
package clock

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// ErrInvalidFrequency is returned for a frequency that does not parse or is not positive.
var ErrInvalidFrequency = errors.New("invalid clock frequency")

const mhzPerGHz = 1000.0

// Normalizer holds a frequency ratio in GHz, fixed at construction.
type Normalizer struct {
	ghz float64
	mhz uint64 // integral frequency, 0 when fractional
}

// New parses a frequency given in MHz (for example "1000" or "1800.5").
func New(freqMHz string) (*Normalizer, error) {
	mhz, err := strconv.ParseFloat(strings.TrimSpace(freqMHz), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidFrequency, freqMHz, err)
	}
	ghz := mhz / mhzPerGHz
	if !(ghz > 0) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFrequency, freqMHz)
	}
	n := &Normalizer{ghz: ghz}
	if mhz == math.Trunc(mhz) && mhz < 1<<53 {
		n.mhz = uint64(mhz)
	}
	return n, nil
}

// GHz returns the frequency ratio.
func (n *Normalizer) GHz() float64 {
	return n.ghz
}

// ToNs converts a raw cycle count to nanoseconds. Integral frequencies are
// exact over the whole cycle range.
func (n *Normalizer) ToNs(cycles uint64) uint64 {
	if n.mhz != 0 {
		hi, lo := bits.Mul64(cycles, 1000)
		if hi < n.mhz {
			q, _ := bits.Div64(hi, lo, n.mhz)
			return q
		}
	}
	return uint64(float64(cycles) / n.ghz)
}
