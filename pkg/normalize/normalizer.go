// Package normalize implements percentile-based intensity scaling of a single
// fluorescence channel.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"virtualhe/internal/models"
)

// DefaultPercentile saturates roughly one additional pixel per 100,000
const DefaultPercentile = 99.999

// ErrEmptyChannel is returned for a channel without samples
var ErrEmptyChannel = errors.New("channel has no samples")

// DegenerateImageError reports a normalization denominator that cannot be used
// to scale the channel (NaN, infinite or negative).
type DegenerateImageError struct {
	Channel   string
	Threshold float64
}

func (e *DegenerateImageError) Error() string {
	return fmt.Sprintf("degenerate image %q: percentile threshold is %v", e.Channel, e.Threshold)
}

// Percentile returns the p-th percentile (0 <= p <= 100) of all samples in the
// channel, interpolating linearly between the two closest ranks.
// Zero background pixels take part in the ranking like any other value.
// A channel holding NaN samples yields NaN.
func Percentile(ch *models.Channel, p float64) (float64, error) {
	if math.IsNaN(p) || p < 0 || p > 100 {
		return 0, fmt.Errorf("percentile %v out of range [0, 100]", p)
	}
	if ch == nil || ch.Data == nil || ch.Len() == 0 {
		return 0, ErrEmptyChannel
	}

	values := ch.Values()
	if floats.HasNaN(values) {
		return math.NaN(), nil
	}
	slices.Sort(values)
	return percentileSorted(values, p), nil
}

// percentileSorted computes the percentile of ascending values using
// rank = p/100 * (n-1).
func percentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	if frac == 0 {
		return sorted[lo]
	}

	// interpolate from the nearer neighbour like NumPy's lerp; the
	// float64 conversions keep the products from being fused
	a, b := sorted[lo], sorted[lo+1]
	diff := b - a
	if frac >= 0.5 {
		return b - float64(diff*(1-frac))
	}
	return a + float64(diff*frac)
}

// Normalize rescales the channel so the p-th percentile maps to 1.0 and
// clips every sample into [0, 1]. The input is left untouched.
func Normalize(ch *models.Channel, p float64) (*models.Channel, error) {
	maxIntensity, err := Percentile(ch, p)
	if err != nil {
		return nil, fmt.Errorf("normalize %q: %w", channelName(ch), err)
	}
	return Scale(ch, maxIntensity)
}

// Scale divides every sample by maxIntensity and clips into [0, 1].
//
// A zero maxIntensity does not divide: zero samples stay 0 and positive
// samples saturate at 1, so an all-zero channel comes back all-zero.
// NaN, infinite or negative values return a *DegenerateImageError.
func Scale(ch *models.Channel, maxIntensity float64) (*models.Channel, error) {
	if ch == nil || ch.Data == nil || ch.Len() == 0 {
		return nil, ErrEmptyChannel
	}
	if math.IsNaN(maxIntensity) || math.IsInf(maxIntensity, 0) || maxIntensity < 0 {
		return nil, &DegenerateImageError{Channel: ch.Name, Threshold: maxIntensity}
	}

	rows, cols := ch.Data.Dims()
	out := &models.Channel{
		Data: mat.NewDense(rows, cols, nil),
		Name: ch.Name,
	}

	if maxIntensity == 0 {
		out.Data.Apply(func(_, _ int, v float64) float64 {
			if v > 0 {
				return 1
			}
			return 0
		}, ch.Data)
		return out, nil
	}

	out.Data.Apply(func(_, _ int, v float64) float64 {
		return clip(v / maxIntensity)
	}, ch.Data)
	return out, nil
}

// SaturatedFraction returns the fraction of samples at or above 1.0
func SaturatedFraction(ch *models.Channel) float64 {
	if ch == nil || ch.Data == nil || ch.Len() == 0 {
		return 0
	}
	values := ch.Values()
	n := floats.Count(func(v float64) bool { return v >= 1 }, values)
	return float64(n) / float64(len(values))
}

func clip(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

func channelName(ch *models.Channel) string {
	if ch == nil {
		return ""
	}
	return ch.Name
}
