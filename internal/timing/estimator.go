// Package timing maintains the smoothed round-trip latency estimate that
// drives dynamic push timeouts.
package timing

import (
	"math"
	"time"
)

const (
	// DefaultAverage seeds a fresh estimate so the first dynamic timeout
	// is sane before any observation has arrived.
	DefaultAverage = 100 * time.Millisecond
	// DefaultAlpha is the smoothing factor: how much weight one new
	// observation carries against the running average.
	DefaultAlpha = 0.2
)

// Data is an exponential-moving-average latency estimate. It is a value
// type: Update returns a new Data and never mutates the receiver, so the
// owning worker decides when to store the result.
type Data struct {
	Average time.Duration
	Alpha   float64
}

// New returns an estimate seeded with the defaults. Average is always > 0.
func New() Data {
	return Data{Average: DefaultAverage, Alpha: DefaultAlpha}
}

// Update folds one observed round trip into the average:
//
//	avg' = alpha*observed + (1-alpha)*avg
//
// Negative observations are clamped to zero. Observations are not otherwise
// validated; a clock-skewed caller can skew the average.
func (d Data) Update(observed time.Duration) Data {
	if observed < 0 {
		observed = 0
	}
	avg := time.Duration(math.Round(d.Alpha*float64(observed) + (1-d.Alpha)*float64(d.Average)))
	if avg <= 0 {
		avg = time.Duration(1)
	}
	return Data{Average: avg, Alpha: d.Alpha}
}

// AverageMs reports the current estimate in whole milliseconds.
func (d Data) AverageMs() int64 {
	return d.Average.Milliseconds()
}

// DynamicTimeout is the effective synchronous-push timeout derived from the
// current estimate: twice the average round trip.
func (d Data) DynamicTimeout() time.Duration {
	return 2 * d.Average
}
