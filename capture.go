package lanalyzer

import (
	"github.com/pkg/errors"

	"github.com/hdlbus/lanalyzer/internal/bitset"
)

// TriggerKind identifies the edge or level a capture was armed to trigger
// on. The core treats trigger metadata as opaque identity carried alongside
// a session; it performs no triggering itself.
type TriggerKind uint8

// Trigger kinds recognized by the capture model.
const (
	TriggerEdge TriggerKind = iota
	TriggerLevel
	TriggerPulseWidth
	TriggerComplex
)

// Trigger describes the condition a capture device was armed with. It is
// carried through to persistence (§6) but not interpreted by the decoder
// core.
type Trigger struct {
	Channel  uint16
	Kind     TriggerKind
	Inverted bool
	Value    uint8
}

// Channel is a single logically contiguous sequence of samples, addressed by
// a stable channel number unique within its capture.
//
// ref: spec.md §3 "Channel descriptor"
type Channel struct {
	Number   uint16
	Name     string
	Hidden   bool
	Inverted bool
	samples  *bitset.Set
}

// NewChannel returns a Channel with a freshly allocated, all-zero sample
// buffer of length n.
func NewChannel(number uint16, name string, n uint64) *Channel {
	return &Channel{
		Number:  number,
		Name:    name,
		samples: bitset.New(n),
	}
}

// Len returns the number of recorded samples on the channel.
func (c *Channel) Len() uint64 {
	return c.samples.Len()
}

// SetSample assigns the physical (pre-inversion) value of sample i.
func (c *Channel) SetSample(i uint64, v uint8) {
	c.samples.Set(i, v)
}

// Sample returns the logical value of sample i: the physical value resolved
// against Inverted. Consumers of Channel never need to resolve inversion
// themselves; see SampleSource. Out-of-range reads return the idle-high
// default 1 unconditionally — inversion only applies to an in-range
// physical value, never to the out-of-range default itself.
func (c *Channel) Sample(i uint64) uint8 {
	if i >= c.samples.Len() {
		return 1
	}
	v := c.samples.Get(i)
	if c.Inverted {
		return v ^ 1
	}
	return v
}

// RawSample returns the physical (pre-inversion) value of sample i, as
// stored. Persistence code round-trips through this rather than Sample so
// that toggling Inverted after a load doesn't change what was captured.
func (c *Channel) RawSample(i uint64) uint8 {
	return c.samples.Get(i)
}

// CaptureSession is the owning aggregate of a capture: sample rate,
// pre/post-trigger sample counts, trigger metadata, and the ordered set of
// channels.
//
// ref: spec.md §3 "Capture session"
type CaptureSession struct {
	// Name and DeviceVersion/DeviceSerial are opaque identity fields; the
	// core never interprets them.
	Name          string
	DeviceVersion string
	DeviceSerial  string

	SampleRateHz uint64
	PreTrigger   uint64
	PostTrigger  uint64
	Trigger      Trigger
	Channels     []*Channel
}

// TotalSamples returns PreTrigger + PostTrigger, the length every enabled
// channel's sample buffer must have.
func (s *CaptureSession) TotalSamples() uint64 {
	return s.PreTrigger + s.PostTrigger
}

// Channel returns the channel with the given channel number, or nil if none
// matches.
func (s *CaptureSession) Channel(number uint16) *Channel {
	for _, c := range s.Channels {
		if c.Number == number {
			return c
		}
	}
	return nil
}

// Validate checks the invariants spec.md §3 places on a capture session:
// every channel's sample buffer matches PreTrigger+PostTrigger in length,
// the trigger references an existing channel, and the sample rate is
// nonzero. It does not validate decoder-specific channel mappings; see
// Descriptor.ValidateMapping for that.
func (s *CaptureSession) Validate() error {
	if s.SampleRateHz == 0 {
		return errors.New("lanalyzer: capture session has zero sample rate")
	}
	total := s.TotalSamples()
	seen := make(map[uint16]bool, len(s.Channels))
	for _, c := range s.Channels {
		if seen[c.Number] {
			return errors.Errorf("lanalyzer: duplicate channel number %d", c.Number)
		}
		seen[c.Number] = true
		if c.Len() != total {
			return errors.Errorf("lanalyzer: channel %d has %d samples, want %d (pre+post trigger)", c.Number, c.Len(), total)
		}
	}
	if !seen[s.Trigger.Channel] {
		return errors.Errorf("lanalyzer: trigger references unknown channel %d", s.Trigger.Channel)
	}
	return nil
}
