package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hdlbus/lanalyzer"
)

func pulses(widths ...uint64) []lanalyzer.Annotation {
	var out []lanalyzer.Annotation
	cursor := uint64(0)
	for _, w := range widths {
		out = append(out, lanalyzer.Annotation{StartSample: cursor, EndSample: cursor + w})
		cursor += w + 10
	}
	return out
}

func TestWidths(t *testing.T) {
	s := Widths(pulses(10, 20, 30))
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, uint64(10), s.MinWidth)
	assert.Equal(t, uint64(30), s.MaxWidth)
	assert.InDelta(t, 20, s.MeanWidth, 0.001)
}

func TestPeriods(t *testing.T) {
	s := Periods(pulses(10, 10, 10))
	assert.Equal(t, uint64(20), s.MinPeriod)
	assert.Equal(t, uint64(20), s.MaxPeriod)
}

func TestDutyCycle(t *testing.T) {
	d := DutyCycle(pulses(10, 10), 100)
	assert.InDelta(t, 0.2, d, 0.001)
}
