// Package gpio adapts a set of Linux GPIO character-device lines into a
// lanalyzer.SampleSource, letting the decoder core run directly against a
// live signal instead of only a pre-recorded capture.
package gpio

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"

	"github.com/hdlbus/lanalyzer"
	"github.com/hdlbus/lanalyzer/internal/bitset"
)

// LiveSource polls a fixed set of gpiocdev lines at a configured sample
// rate, appending each poll's levels to an in-memory, ever-growing bitset
// per channel. It implements lanalyzer.SampleSource directly: a decoder can
// run Wait against it while Poll is still appending new samples, the same
// way it would against a finished CaptureSampleSource, except Len grows as
// more samples are polled.
type LiveSource struct {
	mu       sync.RWMutex
	chip     *gpiocdev.Chip
	lines    map[uint16]*gpiocdev.Line
	buffers  map[uint16]*bitset.Set
	capacity uint64
}

// NewLiveSource opens chipName (e.g. "gpiochip0") and requests offset as an
// input line for each entry in channels, keyed by the logical channel
// number the decoder core will address it as. capacityHint is stored on the
// source; each per-channel buffer starts empty and grows by one sample per
// PollOnce.
func NewLiveSource(chipName string, channels map[uint16]int, capacityHint uint64) (*LiveSource, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, errors.Wrapf(err, "gpio: opening chip %q", chipName)
	}
	s := &LiveSource{
		chip:     chip,
		lines:    make(map[uint16]*gpiocdev.Line, len(channels)),
		buffers:  make(map[uint16]*bitset.Set, len(channels)),
		capacity: capacityHint,
	}
	for ch, offset := range channels {
		line, err := chip.RequestLine(offset, gpiocdev.AsInput)
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "gpio: requesting line %d for channel %d", offset, ch)
		}
		s.lines[ch] = line
		s.buffers[ch] = bitset.New(0)
	}
	return s, nil
}

// Close releases every requested line and the chip handle.
func (s *LiveSource) Close() error {
	var firstErr error
	for _, line := range s.lines {
		if err := line.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PollOnce reads every line's current value and appends it as the next
// sample on each channel's buffer.
func (s *LiveSource) PollOnce() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch, line := range s.lines {
		v, err := line.Value()
		if err != nil {
			return errors.Wrapf(err, "gpio: reading channel %d", ch)
		}
		buf := s.buffers[ch]
		idx := buf.Len()
		grown := bitset.New(idx + 1)
		for i := uint64(0); i < idx; i++ {
			grown.Set(i, buf.Get(i))
		}
		grown.Set(idx, uint8(v))
		s.buffers[ch] = grown
	}
	return nil
}

// Run calls PollOnce at the given period until stop is closed.
func (s *LiveSource) Run(period time.Duration, stop <-chan struct{}) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			if err := s.PollOnce(); err != nil {
				return err
			}
		}
	}
}

func (s *LiveSource) Bit(channel uint16, sampleIndex uint64) uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[channel]
	if !ok {
		return 1
	}
	return buf.Get(sampleIndex)
}

func (s *LiveSource) Len(channel uint16) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[channel]
	if !ok {
		return 0
	}
	return buf.Len()
}

func (s *LiveSource) EdgeAfter(channel uint16, from uint64, polarity bitset.Polarity) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[channel]
	if !ok {
		return 0, false
	}
	return buf.EdgeAfter(from, polarity)
}

func (s *LiveSource) LevelRun(channel uint16, sampleIndex uint64, level uint8) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.buffers[channel]
	if !ok {
		return 0
	}
	return buf.LevelRun(sampleIndex, level)
}

var _ lanalyzer.SampleSource = (*LiveSource)(nil)
