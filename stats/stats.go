// Package stats computes pulse-width, period, and duty-cycle statistics
// over a decoded annotation row. It consumes lanalyzer.Annotation slices
// after a run completes; it is not part of the decoder core.
package stats

import (
	"math"
	"sort"

	"github.com/hdlbus/lanalyzer"
)

// Summary reports aggregate timing statistics over a set of annotations of
// a single kind, in sample units. Callers divide by sample rate themselves
// to get seconds.
type Summary struct {
	Count        int
	MinWidth     uint64
	MaxWidth     uint64
	MeanWidth    float64
	StdDevWidth  float64
	MinPeriod    uint64
	MaxPeriod    uint64
	MeanPeriod   float64
}

// width returns an annotation's sample span.
func width(a lanalyzer.Annotation) uint64 {
	if a.EndSample < a.StartSample {
		return 0
	}
	return a.EndSample - a.StartSample
}

// Widths computes Summary.{Min,Max,Mean,StdDev}Width over anns, ignoring
// period (the gap between consecutive starts). anns need not be pre-sorted.
func Widths(anns []lanalyzer.Annotation) Summary {
	if len(anns) == 0 {
		return Summary{}
	}
	widths := make([]uint64, len(anns))
	for i, a := range anns {
		widths[i] = width(a)
	}
	return Summary{
		Count:       len(anns),
		MinWidth:    minU64(widths),
		MaxWidth:    maxU64(widths),
		MeanWidth:   meanU64(widths),
		StdDevWidth: stddevU64(widths),
	}
}

// Periods computes period statistics (start-to-start distance between
// consecutive annotations) in addition to width statistics. anns is sorted
// by StartSample internally; the input slice is not mutated.
func Periods(anns []lanalyzer.Annotation) Summary {
	s := Widths(anns)
	if len(anns) < 2 {
		return s
	}
	sorted := append([]lanalyzer.Annotation(nil), anns...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartSample < sorted[j].StartSample })

	periods := make([]uint64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		periods = append(periods, sorted[i].StartSample-sorted[i-1].StartSample)
	}
	s.MinPeriod = minU64(periods)
	s.MaxPeriod = maxU64(periods)
	s.MeanPeriod = meanU64(periods)
	return s
}

// DutyCycle returns the summed width of highAnns divided by totalSamples,
// or 0 when totalSamples is 0. highAnns should be the subset of a row's annotations representing
// the "high" or "active" phase of a periodic signal.
func DutyCycle(highAnns []lanalyzer.Annotation, totalSamples uint64) float64 {
	if totalSamples == 0 {
		return 0
	}
	var highSamples uint64
	for _, a := range highAnns {
		highSamples += width(a)
	}
	return float64(highSamples) / float64(totalSamples)
}

func minU64(xs []uint64) uint64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxU64(xs []uint64) uint64 {
	var m uint64
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

func meanU64(xs []uint64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum uint64
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func stddevU64(xs []uint64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := meanU64(xs)
	var sumSq float64
	for _, x := range xs {
		d := float64(x) - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
