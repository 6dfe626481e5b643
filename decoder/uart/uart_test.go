package uart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdlbus/lanalyzer"
)

// buildSource encodes one 8N1 byte (0x41 'A', LSB-first) on RX, idle-high
// elsewhere: a minimal S3-style worked example.
func buildSource(t *testing.T, sampleRate, baud uint64, value uint8) lanalyzer.SampleSource {
	t.Helper()
	bitWidth := sampleRate / baud
	n := bitWidth * 20
	session := &lanalyzer.CaptureSession{SampleRateHz: sampleRate, PreTrigger: 0, PostTrigger: n}
	rx := lanalyzer.NewChannel(0, "RX", n)
	for i := uint64(0); i < n; i++ {
		rx.SetSample(i, 1)
	}
	session.Channels = []*lanalyzer.Channel{rx}

	start := bitWidth * 2
	for s := uint64(0); s < bitWidth; s++ {
		rx.SetSample(start+s, 0) // start bit
	}
	for i := 0; i < 8; i++ {
		bit := (value >> uint(i)) & 1
		for s := uint64(0); s < bitWidth; s++ {
			rx.SetSample(start+bitWidth*uint64(i+1)+s, bit)
		}
	}
	// stop bit: idle-high already set.
	return lanalyzer.NewCaptureSampleSource(session)
}

func TestUARTDecodesOneByte(t *testing.T) {
	const sampleRate, baud = uint64(1_000_000), uint64(9600)
	source := buildSource(t, sampleRate, baud, 0x41)
	dec := New()
	cfg := lanalyzer.Config{
		SampleRateHz: sampleRate,
		Mapping:      lanalyzer.ChannelMapping{"rx": 0},
		Options: lanalyzer.OptionBindings{
			"baudrate": int(baud), "data_bits": 8, "parity": "none",
			"stop_bits": 1.0, "bit_order": "lsb-first", "sample_point": 50,
		},
		Source: source,
	}
	require.NoError(t, dec.Validate(cfg))

	buf := lanalyzer.NewBuffer(nil)
	require.NoError(t, dec.Execute(cfg, buf))

	data := buf.Filter(KindData)
	require.NotEmpty(t, data)
	assert.Equal(t, uint8(0x41), data[0].Raw.Byte)
}

func TestUARTDecodesDataValueWithoutHexPrefix(t *testing.T) {
	const sampleRate, baud = uint64(1_000_000), uint64(9600)
	source := buildSource(t, sampleRate, baud, 0x41)
	dec := New()
	cfg := lanalyzer.Config{
		SampleRateHz: sampleRate,
		Mapping:      lanalyzer.ChannelMapping{"rx": 0},
		Options: lanalyzer.OptionBindings{
			"baudrate": int(baud), "data_bits": 8, "parity": "none",
			"stop_bits": 1.0, "bit_order": "lsb-first", "sample_point": 50,
		},
		Source: source,
	}
	require.NoError(t, dec.Validate(cfg))

	buf := lanalyzer.NewBuffer(nil)
	require.NoError(t, dec.Execute(cfg, buf))

	data := buf.Filter(KindData)
	require.NotEmpty(t, data)
	assert.Equal(t, "41", data[0].Values[0])
}

// buildTwoByteSource encodes two 8N1 bytes on RX separated by an idle gap
// much longer than one bit period, to exercise idle-annotation emission
// between frames.
func buildTwoByteSource(t *testing.T, sampleRate, baud uint64, a, b uint8) lanalyzer.SampleSource {
	t.Helper()
	bitWidth := sampleRate / baud
	n := bitWidth * 60
	session := &lanalyzer.CaptureSession{SampleRateHz: sampleRate, PreTrigger: 0, PostTrigger: n}
	rx := lanalyzer.NewChannel(0, "RX", n)
	for i := uint64(0); i < n; i++ {
		rx.SetSample(i, 1)
	}
	session.Channels = []*lanalyzer.Channel{rx}

	writeFrame := func(start uint64, value uint8) uint64 {
		for s := uint64(0); s < bitWidth; s++ {
			rx.SetSample(start+s, 0) // start bit
		}
		for i := 0; i < 8; i++ {
			bit := (value >> uint(i)) & 1
			for s := uint64(0); s < bitWidth; s++ {
				rx.SetSample(start+bitWidth*uint64(i+1)+s, bit)
			}
		}
		return start + bitWidth*10 // start + 8 data bits + stop bit
	}

	firstEnd := writeFrame(bitWidth*2, a)
	writeFrame(firstEnd+bitWidth*10, b) // ten bit-periods of idle between frames
	return lanalyzer.NewCaptureSampleSource(session)
}

func TestUARTEmitsIdleBetweenFrames(t *testing.T) {
	const sampleRate, baud = uint64(1_000_000), uint64(9600)
	source := buildTwoByteSource(t, sampleRate, baud, 0x41, 0x42)
	dec := New()
	cfg := lanalyzer.Config{
		SampleRateHz: sampleRate,
		Mapping:      lanalyzer.ChannelMapping{"rx": 0},
		Options: lanalyzer.OptionBindings{
			"baudrate": int(baud), "data_bits": 8, "parity": "none",
			"stop_bits": 1.0, "bit_order": "lsb-first", "sample_point": 50,
		},
		Source: source,
	}
	require.NoError(t, dec.Validate(cfg))

	buf := lanalyzer.NewBuffer(nil)
	require.NoError(t, dec.Execute(cfg, buf))

	idle := buf.Filter(KindIdle)
	assert.NotEmpty(t, idle, "expected an idle annotation for the gap between the two frames")

	data := buf.Filter(KindData)
	require.Len(t, data, 2)
	assert.Equal(t, uint8(0x41), data[0].Raw.Byte)
	assert.Equal(t, uint8(0x42), data[1].Raw.Byte)
}

func TestUARTRejectsZeroBaud(t *testing.T) {
	dec := New()
	cfg := lanalyzer.Config{
		SampleRateHz: 1_000_000,
		Mapping:      lanalyzer.ChannelMapping{"rx": 0},
		Options:      lanalyzer.OptionBindings{"baudrate": 0},
	}
	err := dec.Validate(cfg)
	require.Error(t, err)
}

func TestClampSamplePoint(t *testing.T) {
	v, clamped := clampSamplePoint(100)
	assert.Equal(t, 99, v)
	assert.True(t, clamped)

	v, clamped = clampSamplePoint(50)
	assert.Equal(t, 50, v)
	assert.False(t, clamped)
}
