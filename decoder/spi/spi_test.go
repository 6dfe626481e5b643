package spi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdlbus/lanalyzer"
)

// buildSource encodes one 8-bit MOSI-only word, CPOL=0/CPHA=0 (sample on
// falling CLK), no CS channel: word boundaries are purely by bit count.
func buildSource(t *testing.T, value uint8) lanalyzer.SampleSource {
	t.Helper()
	const clkCh, mosiCh = 0, 1
	n := uint64(400)
	session := &lanalyzer.CaptureSession{SampleRateHz: 1_000_000, PreTrigger: 0, PostTrigger: n}
	clk := lanalyzer.NewChannel(clkCh, "CLK", n)
	mosi := lanalyzer.NewChannel(mosiCh, "MOSI", n)
	session.Channels = []*lanalyzer.Channel{clk, mosi}

	bitPeriod := uint64(20)
	cursor := uint64(10)
	for i := 7; i >= 0; i-- {
		bit := (value >> uint(i)) & 1
		for s := cursor; s < cursor+bitPeriod; s++ {
			mosi.SetSample(s, bit)
		}
		clk.SetSample(cursor+5, 1)
		cursor += bitPeriod
	}
	return lanalyzer.NewCaptureSampleSource(session)
}

func TestSPIDecodesOneWord(t *testing.T) {
	source := buildSource(t, 0x3C)
	dec := New()
	cfg := lanalyzer.Config{
		SampleRateHz: 1_000_000,
		Mapping:      lanalyzer.ChannelMapping{"clk": 0, "mosi": 1},
		Options:      lanalyzer.OptionBindings{"word_size": 8},
		Source:       source,
	}
	require.NoError(t, dec.Validate(cfg))

	buf := lanalyzer.NewBuffer(nil)
	require.NoError(t, dec.Execute(cfg, buf))

	data := buf.Filter(KindDataMOSI)
	require.Len(t, data, 1)
	assert.Equal(t, uint8(0x3C), data[0].Raw.Byte)

	frames := buf.Filter(KindFrame)
	assert.Len(t, frames, 1)
}

func TestSPIRequiresAtLeastOneDataLine(t *testing.T) {
	dec := New()
	cfg := lanalyzer.Config{
		SampleRateHz: 1_000_000,
		Mapping:      lanalyzer.ChannelMapping{"clk": 0},
	}
	err := dec.Validate(cfg)
	require.Error(t, err)
}
