package random

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mathrand "math/rand"
	"strings"
	"time"
)

// randomSource abstracts the random number generator behind the simulator.
type randomSource interface {
	Float64() (float64, error)
}

// pseudoSource wraps math/rand. A fixed seed makes the stream reproducible.
type pseudoSource struct {
	rng *mathrand.Rand
}

func newPseudoSource(seed *int64) *pseudoSource {
	var src mathrand.Source
	if seed != nil {
		src = mathrand.NewSource(*seed)
	} else {
		src = mathrand.NewSource(time.Now().UnixNano())
	}
	return &pseudoSource{rng: mathrand.New(src)}
}

func (s *pseudoSource) Float64() (float64, error) {
	return s.rng.Float64(), nil
}

// secureSource draws from crypto/rand and ignores seeds.
type secureSource struct{}

func (secureSource) Float64() (float64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("secure source: %w", err)
	}
	// 53 bits fill the mantissa of a float64 in [0, 1).
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53), nil
}

func newRandomSource(source string, seed *int64) (randomSource, error) {
	switch strings.TrimSpace(strings.ToLower(source)) {
	case "", "pseudo", "math":
		return newPseudoSource(seed), nil
	case "secure", "crypto":
		return secureSource{}, nil
	default:
		return nil, fmt.Errorf("unknown random source %q", source)
	}
}

func uniform(src randomSource, min, max float64) (float64, error) {
	if min == max {
		return min, nil
	}
	if max < min {
		return 0, fmt.Errorf("invalid range [%g, %g]", min, max)
	}
	sample, err := src.Float64()
	if err != nil {
		return 0, err
	}
	return min + (max-min)*sample, nil
}

func chance(src randomSource, probability float64) (bool, error) {
	if probability <= 0 {
		return false, nil
	}
	if probability >= 1 {
		return true, nil
	}
	sample, err := src.Float64()
	if err != nil {
		return false, err
	}
	return sample < probability, nil
}

// walk is a bounded random walk. Each step moves the value by at most step.
type walk struct {
	value, min, max, step float64
}

func newWalk(src randomSource, min, max, step float64) (walk, error) {
	start, err := uniform(src, min, max)
	if err != nil {
		return walk{}, err
	}
	return walk{value: start, min: min, max: max, step: step}, nil
}

func (w *walk) next(src randomSource) (float64, error) {
	delta, err := uniform(src, -w.step, w.step)
	if err != nil {
		return 0, err
	}
	w.value = math.Max(w.min, math.Min(w.max, w.value+delta))
	return w.value, nil
}

func (w *walk) int() int64 {
	return int64(math.Round(w.value))
}
