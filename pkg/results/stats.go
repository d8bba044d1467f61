package results

import (
	"math"
	"slices"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// Stats summarizes a set of measurements. Throughput figures cover the
// passed measurements only.
type Stats struct {
	Count  int     `json:"count"`
	Passed int     `json:"passed"`
	Failed int     `json:"failed"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
}

// PassRate returns the passed share in percent, or 0 for an empty set.
func (s Stats) PassRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Count) * 100
}

// Compute derives Stats from ms.
func Compute(ms []model.Measurement) Stats {
	s := Stats{Count: len(ms)}
	values := make([]float64, 0, len(ms))
	for _, m := range ms {
		if m.Failed {
			s.Failed++
			continue
		}
		s.Passed++
		values = append(values, m.Mbps)
	}
	if len(values) == 0 {
		return s
	}

	slices.Sort(values)
	s.Min = values[0]
	s.Max = values[len(values)-1]

	var sum float64
	for _, v := range values {
		sum += v
	}
	s.Mean = sum / float64(len(values))

	if n := len(values); n%2 == 1 {
		s.Median = values[n/2]
	} else {
		s.Median = (values[n/2-1] + values[n/2]) / 2
	}

	// Sample standard deviation; a single value has none.
	if len(values) > 1 {
		var sq float64
		for _, v := range values {
			sq += (v - s.Mean) * (v - s.Mean)
		}
		s.StdDev = math.Sqrt(sq / float64(len(values)-1))
	}
	return s
}
