// Package stats holds the small numeric helpers shared by the aggregator and
// the anomaly detector.
package stats

import (
	"math"
	"sort"
	"time"
)

// Point is a single timestamped observation.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStdDev uses the n-1 denominator and returns 0 below two values.
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// Values extracts the values of points.
func Values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// Median returns the median of values without modifying them.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Regression is an ordinary least-squares fit of value against seconds since
// Origin.
type Regression struct {
	Origin    time.Time
	Slope     float64 // per second
	Intercept float64
	R2        float64
	N         int
	MeanX     float64
	Sxx       float64
	// Sigma is the residual standard error (n-2 denominator).
	Sigma float64
}

// At evaluates the fitted line at t.
func (r Regression) At(t time.Time) float64 {
	return r.Intercept + r.Slope*t.Sub(r.Origin).Seconds()
}

// X converts t into the regression's x axis.
func (r Regression) X(t time.Time) float64 {
	return t.Sub(r.Origin).Seconds()
}

// LinearRegression fits points, which must be sorted by time. With fewer than
// two points, or no time span, the slope is zero and the intercept is the mean.
func LinearRegression(points []Point) Regression {
	if len(points) == 0 {
		return Regression{}
	}
	origin := points[0].Timestamp
	n := float64(len(points))

	var sumX, sumY float64
	for _, p := range points {
		sumX += p.Timestamp.Sub(origin).Seconds()
		sumY += p.Value
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy, syy float64
	for _, p := range points {
		dx := p.Timestamp.Sub(origin).Seconds() - meanX
		dy := p.Value - meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}

	res := Regression{Origin: origin, N: len(points), MeanX: meanX, Sxx: sxx, Intercept: meanY}
	if len(points) < 2 || sxx < 1e-10 {
		return res
	}

	res.Slope = sxy / sxx
	res.Intercept = meanY - res.Slope*meanX

	var ssRes float64
	for _, p := range points {
		e := p.Value - res.At(p.Timestamp)
		ssRes += e * e
	}
	if syy > 0 {
		res.R2 = math.Max(0, 1-ssRes/syy)
	}
	if len(points) > 2 {
		res.Sigma = math.Sqrt(ssRes / (n - 2))
	}
	return res
}

// PercentChange returns the relative change from prev to cur in percent.
// ok is false when prev is zero.
func PercentChange(prev, cur float64) (pct float64, ok bool) {
	if prev == 0 {
		return 0, false
	}
	return (cur - prev) / math.Abs(prev) * 100, true
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
