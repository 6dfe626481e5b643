package lanalyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdlbus/lanalyzer/internal/bitset"
)

type fakeSource struct {
	bits map[uint16][]uint8
}

func (f *fakeSource) Bit(channel uint16, i uint64) uint8 {
	b := f.bits[channel]
	if i >= uint64(len(b)) {
		return 1
	}
	return b[i]
}

func (f *fakeSource) Len(channel uint16) uint64 {
	return uint64(len(f.bits[channel]))
}

func (f *fakeSource) EdgeAfter(channel uint16, from uint64, polarity bitset.Polarity) (uint64, bool) {
	return 0, false
}

func (f *fakeSource) LevelRun(channel uint16, from uint64, level uint8) uint64 {
	return 0
}

func TestWaitFindsRisingEdge(t *testing.T) {
	src := &fakeSource{bits: map[uint16][]uint8{0: {0, 0, 1, 1, 0, 1}}}
	w := NewWaiter(src)
	outcome, err := w.Wait(Cond(0, RisingEdge))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), outcome.SampleIndex)

	outcome, err = w.Wait(Cond(0, RisingEdge))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), outcome.SampleIndex)

	_, err = w.Wait(Cond(0, RisingEdge))
	assert.Equal(t, ErrEndOfSamples, err)
}

func TestWaitMultipleAlternatives(t *testing.T) {
	src := &fakeSource{bits: map[uint16][]uint8{
		0: {1, 1, 1, 1},
		1: {0, 0, 1, 0},
	}}
	w := NewWaiter(src)
	outcome, err := w.Wait(Cond(1, High), Cond(0, Low))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), outcome.SampleIndex)
	assert.Equal(t, uint64(1), outcome.Matched) // only alt 0 (Cond(1,High)) holds
}

func TestWaitSkipN(t *testing.T) {
	src := &fakeSource{bits: map[uint16][]uint8{0: {1, 1, 1, 1, 1, 1}}}
	w := NewWaiter(src)
	outcome, err := w.Wait(SkipN(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), outcome.SampleIndex)
}

func TestWaitIsDeterministic(t *testing.T) {
	src := &fakeSource{bits: map[uint16][]uint8{0: {0, 1, 0, 1}}}
	w1 := NewWaiter(src)
	w2 := NewWaiter(src)
	o1, err1 := w1.Wait(Cond(0, RisingEdge))
	o2, err2 := w2.Wait(Cond(0, RisingEdge))
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, o1, o2)
}
