package results

import "strings"

// Class is the speed class of a throughput value.
type Class string

const (
	ClassExcellent Class = "excellent"
	ClassGood      Class = "good"
	ClassPoor      Class = "poor"
)

// Threshold holds the lower bounds, in Mbit/s, of the excellent and good
// classes.
type Threshold struct {
	Excellent float64 `yaml:"excellent"`
	Good      float64 `yaml:"good"`
}

// Classify returns the class of mbps.
func (t Threshold) Classify(mbps float64) Class {
	switch {
	case mbps >= t.Excellent:
		return ClassExcellent
	case mbps >= t.Good:
		return ClassGood
	default:
		return ClassPoor
	}
}

// Thresholds maps a standard key (e.g. "11ac") to its threshold.
type Thresholds map[string]Threshold

// DefaultThreshold applies to standards without an entry.
var DefaultThreshold = Threshold{Excellent: 100, Good: 50}

// DefaultThresholds returns the built-in per-standard thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		"11b":  {Excellent: 6, Good: 5},
		"11g":  {Excellent: 22, Good: 18},
		"11a":  {Excellent: 22, Good: 18},
		"11n":  {Excellent: 80, Good: 50},
		"11ac": {Excellent: 450, Good: 300},
		"11ax": {Excellent: 120, Good: 80},
	}
}

// For returns the threshold for a mode standard string such as "11a/n/ac".
func (t Thresholds) For(standard string) Threshold {
	if th, ok := t[StandardKey(standard)]; ok {
		return th
	}
	return DefaultThreshold
}

// Classify classifies mbps measured under standard.
func (t Thresholds) Classify(standard string, mbps float64) Class {
	return t.For(standard).Classify(mbps)
}

var generation = map[string]int{"b": 1, "a": 2, "g": 3, "n": 4, "ac": 5, "ax": 6, "be": 7}

// StandardKey reduces a combined standard string to its newest
// generation: "11b/g/n" is "11n", "11a/n/ac" is "11ac". Unknown tokens are
// ignored; a string without known tokens is returned unchanged.
func StandardKey(standard string) string {
	best, rank := "", 0
	for _, tok := range strings.Split(standard, "/") {
		tok = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tok)), "11")
		if r := generation[tok]; r > rank {
			best, rank = tok, r
		}
	}
	if rank == 0 {
		return standard
	}
	return "11" + best
}
