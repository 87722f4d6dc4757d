package anomaly

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rish2jain/consultantOS-sub009/internal/stats"
)

// ForecastPoint is one predicted value with its prediction interval.
type ForecastPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Forecast  float64   `json:"forecast"`
	Lower     float64   `json:"lower_bound"`
	Upper     float64   `json:"upper_bound"`
}

// HalfWidth is the distance from the forecast to either bound.
func (p ForecastPoint) HalfWidth() float64 {
	return (p.Upper - p.Lower) / 2
}

// Model is a fitted forecaster state.
type Model interface {
	// LastObserved is the timestamp of the newest point the model saw.
	LastObserved() time.Time
	// Step is the typical spacing between observations.
	Step() time.Duration
}

// Forecaster fits a model to a prepared series and projects it forward.
// Implementations receive series already filtered and gap-filled.
type Forecaster interface {
	Fit(series []stats.Point) (Model, error)
	Predict(model Model, at []time.Time) []ForecastPoint
}

// ErrSeriesTooShort is returned by a Forecaster that cannot fit its input.
var ErrSeriesTooShort = errors.New("series too short to fit")

// LinearModel is the state of a LinearForecaster fit.
type LinearModel struct {
	Regression stats.Regression
	Sigma      float64
	step       time.Duration
	last       time.Time
}

func (m *LinearModel) LastObserved() time.Time { return m.last }
func (m *LinearModel) Step() time.Duration     { return m.step }

// LinearForecaster fits a least-squares trend and widens the interval with
// distance from the fitted data.
type LinearForecaster struct {
	Z float64
}

var _ Forecaster = LinearForecaster{}

// NewLinearForecaster uses the interval width of sensitivity.
func NewLinearForecaster(s Sensitivity) LinearForecaster {
	return LinearForecaster{Z: s.Z()}
}

// Fit needs at least three points so the residual deviation is defined.
func (f LinearForecaster) Fit(series []stats.Point) (Model, error) {
	if len(series) < 3 {
		return nil, fmt.Errorf("%w: %d points", ErrSeriesTooShort, len(series))
	}
	reg := stats.LinearRegression(series)

	values := stats.Values(series)
	sigma := reg.Sigma
	// a perfectly flat series would give a zero-width interval
	floor := math.Max(1e-3*math.Abs(stats.Mean(values)), 1e-9)
	if sigma < floor {
		sigma = floor
	}

	return &LinearModel{
		Regression: reg,
		Sigma:      sigma,
		step:       medianStep(series),
		last:       series[len(series)-1].Timestamp,
	}, nil
}

// Predict returns one point per timestamp in at. Models from other
// forecasters yield nil.
func (f LinearForecaster) Predict(model Model, at []time.Time) []ForecastPoint {
	m, ok := model.(*LinearModel)
	if !ok {
		return nil
	}
	reg := m.Regression
	n := float64(reg.N)

	out := make([]ForecastPoint, 0, len(at))
	for _, ts := range at {
		widen := 1 + 1/n
		if reg.Sxx > 0 {
			dx := reg.X(ts) - reg.MeanX
			widen += dx * dx / reg.Sxx
		}
		half := f.Z * m.Sigma * math.Sqrt(widen)
		forecast := reg.At(ts)
		out = append(out, ForecastPoint{
			Timestamp: ts,
			Forecast:  forecast,
			Lower:     forecast - half,
			Upper:     forecast + half,
		})
	}
	return out
}

func medianStep(series []stats.Point) time.Duration {
	if len(series) < 2 {
		return 0
	}
	deltas := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		deltas = append(deltas, float64(series[i].Timestamp.Sub(series[i-1].Timestamp)))
	}
	return time.Duration(stats.Median(deltas))
}
