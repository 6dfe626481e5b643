package lanalyzer

import "github.com/hdlbus/lanalyzer/internal/bitset"

// SampleSource answers bit and edge queries against a fixed window of
// recorded samples. Inverted channels are resolved internally; every caller,
// including the Wait primitive, sees only logical values.
//
// ref: spec.md §4.1 (C1)
type SampleSource interface {
	// Bit returns the logical value of the given channel at sampleIndex.
	// Out-of-range reads return 1 (idle-high), matching the convention UART
	// decoding depends on.
	Bit(channel uint16, sampleIndex uint64) uint8

	// Len returns the number of samples available on channel.
	Len(channel uint16) uint64

	// EdgeAfter returns the first sample index, strictly greater than from,
	// at which channel's logical value makes a transition matching
	// polarity. ok is false if no such transition occurs before the source
	// is exhausted.
	EdgeAfter(channel uint16, from uint64, polarity bitset.Polarity) (index uint64, ok bool)

	// LevelRun returns the length of the run of level starting at
	// sampleIndex (inclusive).
	LevelRun(channel uint16, sampleIndex uint64, level uint8) uint64
}

// CaptureSampleSource is a SampleSource backed directly by a CaptureSession's
// channel buffers.
type CaptureSampleSource struct {
	session *CaptureSession
}

// NewCaptureSampleSource returns a SampleSource over session. The session
// must already satisfy CaptureSession.Validate.
func NewCaptureSampleSource(session *CaptureSession) *CaptureSampleSource {
	return &CaptureSampleSource{session: session}
}

func (s *CaptureSampleSource) Bit(channel uint16, sampleIndex uint64) uint8 {
	c := s.session.Channel(channel)
	if c == nil {
		return 1
	}
	return c.Sample(sampleIndex)
}

func (s *CaptureSampleSource) Len(channel uint16) uint64 {
	c := s.session.Channel(channel)
	if c == nil {
		return 0
	}
	return c.Len()
}

func (s *CaptureSampleSource) EdgeAfter(channel uint16, from uint64, polarity bitset.Polarity) (uint64, bool) {
	c := s.session.Channel(channel)
	if c == nil {
		return 0, false
	}
	return edgeAfterLogical(c, from, polarity)
}

func (s *CaptureSampleSource) LevelRun(channel uint16, sampleIndex uint64, level uint8) uint64 {
	c := s.session.Channel(channel)
	if c == nil {
		return 0
	}
	return levelRunLogical(c, sampleIndex, level)
}

// edgeAfterLogical and levelRunLogical resolve a channel's inversion before
// delegating to the underlying bit-packed scan. When a channel is not
// inverted this is exactly bitset.Set.EdgeAfter/LevelRun; when it is
// inverted, polarity and level are flipped instead of materializing an
// inverted copy of the buffer.
func edgeAfterLogical(c *Channel, from uint64, polarity bitset.Polarity) (uint64, bool) {
	p := polarity
	if c.Inverted {
		switch polarity {
		case bitset.Rising:
			p = bitset.Falling
		case bitset.Falling:
			p = bitset.Rising
		}
	}
	return c.samples.EdgeAfter(from, p)
}

func levelRunLogical(c *Channel, from uint64, level uint8) uint64 {
	l := level
	if c.Inverted {
		l ^= 1
	}
	return c.samples.LevelRun(from, l)
}

// WindowSampleSource restricts another SampleSource to a half-open sample
// range [offset, offset+length), translating indices so that a decoder
// fed this window sees sample 0 as the window's start. It is what the
// Streaming Executor hands to a decoder for each chunk.
type WindowSampleSource struct {
	base   SampleSource
	offset uint64
	length uint64
}

// NewWindowSampleSource returns a SampleSource presenting samples
// [offset, offset+length) of base as samples [0, length).
func NewWindowSampleSource(base SampleSource, offset, length uint64) *WindowSampleSource {
	return &WindowSampleSource{base: base, offset: offset, length: length}
}

func (w *WindowSampleSource) Bit(channel uint16, sampleIndex uint64) uint8 {
	if sampleIndex >= w.length {
		return 1
	}
	return w.base.Bit(channel, w.offset+sampleIndex)
}

func (w *WindowSampleSource) Len(channel uint16) uint64 {
	total := w.base.Len(channel)
	if total <= w.offset {
		return 0
	}
	remaining := total - w.offset
	if remaining > w.length {
		return w.length
	}
	return remaining
}

func (w *WindowSampleSource) EdgeAfter(channel uint16, from uint64, polarity bitset.Polarity) (uint64, bool) {
	idx, ok := w.base.EdgeAfter(channel, w.offset+from, polarity)
	if !ok || idx < w.offset || idx-w.offset >= w.length {
		return 0, false
	}
	return idx - w.offset, true
}

func (w *WindowSampleSource) LevelRun(channel uint16, sampleIndex uint64, level uint8) uint64 {
	if sampleIndex >= w.length {
		return 0
	}
	run := w.base.LevelRun(channel, w.offset+sampleIndex, level)
	if sampleIndex+run > w.length {
		return w.length - sampleIndex
	}
	return run
}
