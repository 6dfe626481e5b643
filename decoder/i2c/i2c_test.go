package i2c

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdlbus/lanalyzer"
)

// buildSource encodes an I²C write of address 0x50 with data byte 0xA5,
// each ACKed, terminated by a STOP: a minimal S1-style worked example.
func buildSource(t *testing.T) lanalyzer.SampleSource {
	t.Helper()
	const sclCh, sdaCh = 0, 1
	n := uint64(400)
	session := &lanalyzer.CaptureSession{SampleRateHz: 1_000_000, PreTrigger: 0, PostTrigger: n}
	scl := lanalyzer.NewChannel(sclCh, "SCL", n)
	sda := lanalyzer.NewChannel(sdaCh, "SDA", n)
	for i := uint64(0); i < n; i++ {
		scl.SetSample(i, 1)
		sda.SetSample(i, 1)
	}
	session.Channels = []*lanalyzer.Channel{scl, sda}

	// START: SCL high, SDA falling at sample 10.
	for s := uint64(10); s < 20; s++ {
		sda.SetSample(s, 0)
	}

	bitPeriod := uint64(20)
	writeBits := func(startSample uint64, value uint8, bits int) uint64 {
		cursor := startSample
		for i := bits - 1; i >= 0; i-- {
			bit := (value >> uint(i)) & 1
			cursor += bitPeriod
			for s := cursor - 10; s < cursor; s++ {
				scl.SetSample(s, 0)
			}
			for s := cursor - 5; s < cursor+10; s++ {
				sda.SetSample(s, bit)
			}
		}
		return cursor
	}

	// address byte: 0x50<<1 | 0 (write) = 0xA0
	cursor := writeBits(10, 0xA0, 8)
	// ACK: SCL rising with SDA=0
	cursor += bitPeriod
	for s := cursor - 10; s < cursor; s++ {
		scl.SetSample(s, 0)
	}
	for s := cursor - 5; s < cursor+10; s++ {
		sda.SetSample(s, 0)
	}

	// data byte 0xA5
	cursor = writeBits(cursor, 0xA5, 8)
	// ACK
	cursor += bitPeriod
	for s := cursor - 10; s < cursor; s++ {
		scl.SetSample(s, 0)
	}
	for s := cursor - 5; s < cursor+10; s++ {
		sda.SetSample(s, 0)
	}

	// STOP: SCL high, SDA rising.
	cursor += bitPeriod
	for s := cursor - 10; s < cursor-5; s++ {
		scl.SetSample(s, 0)
	}
	for s := cursor - 10; s < cursor; s++ {
		sda.SetSample(s, 0)
	}

	return lanalyzer.NewCaptureSampleSource(session)
}

func TestI2CDecodesWriteTransfer(t *testing.T) {
	source := buildSource(t)
	dec := New()
	cfg := lanalyzer.Config{
		SampleRateHz: 1_000_000,
		Mapping:      lanalyzer.ChannelMapping{"scl": 0, "sda": 1},
		Options:      lanalyzer.OptionBindings{},
		Source:       source,
	}
	require.NoError(t, dec.Validate(cfg))

	buf := lanalyzer.NewBuffer(nil)
	err := dec.Execute(cfg, buf)
	require.NoError(t, err)

	addrData := buf.Row(rowAddrData)
	require.NotEmpty(t, addrData)
	assert.Equal(t, KindStart, addrData[0].Kind)

	var sawWrite, sawData, sawStop bool
	for _, a := range addrData {
		switch a.Kind {
		case KindAddressWrite:
			sawWrite = true
			assert.Equal(t, uint16(0x50), a.Raw.Address)
		case KindDataWrite:
			sawData = true
			assert.Equal(t, uint8(0xA5), a.Raw.Byte)
		case KindStop:
			sawStop = true
		}
	}
	assert.True(t, sawWrite, "expected an address-write annotation")
	assert.True(t, sawData, "expected a data-write annotation")
	assert.True(t, sawStop, "expected a stop annotation")
}

// buildTenBitZeroSource encodes a 10-bit-address write where A9=A8=0, so the
// first address byte is 0xF0 — indistinguishable from "no 10-bit address in
// progress" if that state were tracked via slaveAddr10's zero value instead
// of an explicit flag.
func buildTenBitZeroSource(t *testing.T) lanalyzer.SampleSource {
	t.Helper()
	const sclCh, sdaCh = 0, 1
	n := uint64(600)
	session := &lanalyzer.CaptureSession{SampleRateHz: 1_000_000, PreTrigger: 0, PostTrigger: n}
	scl := lanalyzer.NewChannel(sclCh, "SCL", n)
	sda := lanalyzer.NewChannel(sdaCh, "SDA", n)
	for i := uint64(0); i < n; i++ {
		scl.SetSample(i, 1)
		sda.SetSample(i, 1)
	}
	session.Channels = []*lanalyzer.Channel{scl, sda}

	for s := uint64(10); s < 20; s++ { // START
		sda.SetSample(s, 0)
	}

	bitPeriod := uint64(20)
	writeBits := func(startSample uint64, value uint8, bits int) uint64 {
		cursor := startSample
		for i := bits - 1; i >= 0; i-- {
			bit := (value >> uint(i)) & 1
			cursor += bitPeriod
			for s := cursor - 10; s < cursor; s++ {
				scl.SetSample(s, 0)
			}
			for s := cursor - 5; s < cursor+10; s++ {
				sda.SetSample(s, bit)
			}
		}
		return cursor
	}
	ack := func(cursor uint64) uint64 {
		cursor += bitPeriod
		for s := cursor - 10; s < cursor; s++ {
			scl.SetSample(s, 0)
		}
		for s := cursor - 5; s < cursor+10; s++ {
			sda.SetSample(s, 0)
		}
		return cursor
	}

	// first address byte: 0b11110 00 0 (A9=A8=0, write) = 0xF0
	cursor := writeBits(10, 0xF0, 8)
	cursor = ack(cursor)
	// second address byte: A7..A0 = 0x00
	cursor = writeBits(cursor, 0x00, 8)
	cursor = ack(cursor)
	// data byte
	cursor = writeBits(cursor, 0x5A, 8)
	cursor = ack(cursor)

	// STOP: SCL high, SDA rising.
	cursor += bitPeriod
	for s := cursor - 10; s < cursor-5; s++ {
		scl.SetSample(s, 0)
	}
	for s := cursor - 10; s < cursor; s++ {
		sda.SetSample(s, 0)
	}

	return lanalyzer.NewCaptureSampleSource(session)
}

func TestI2CDecodesTenBitAddressWithZeroUpperBits(t *testing.T) {
	source := buildTenBitZeroSource(t)
	dec := New()
	cfg := lanalyzer.Config{
		SampleRateHz: 1_000_000,
		Mapping:      lanalyzer.ChannelMapping{"scl": 0, "sda": 1},
		Options:      lanalyzer.OptionBindings{},
		Source:       source,
	}
	require.NoError(t, dec.Validate(cfg))

	buf := lanalyzer.NewBuffer(nil)
	require.NoError(t, dec.Execute(cfg, buf))

	addrData := buf.Row(rowAddrData)
	var addrAnns []lanalyzer.Annotation
	var sawData bool
	for _, a := range addrData {
		switch a.Kind {
		case KindAddressWrite, KindAddressRead:
			addrAnns = append(addrAnns, a)
		case KindDataWrite:
			sawData = true
			assert.Equal(t, uint8(0x5A), a.Raw.Byte)
		}
	}
	require.Len(t, addrAnns, 2, "expected one annotation per 10-bit address byte")
	for _, a := range addrAnns {
		assert.Equal(t, uint16(0x000), a.Raw.Address, "10-bit address with A9=A8=0 must decode to 0x000, not fall back to a 7-bit re-interpretation")
	}
	assert.True(t, sawData, "expected a data-write annotation after the two address bytes")
}

func TestI2CBadConfigMissingChannel(t *testing.T) {
	dec := New()
	cfg := lanalyzer.Config{
		SampleRateHz: 1_000_000,
		Mapping:      lanalyzer.ChannelMapping{"scl": 0},
	}
	err := dec.Validate(cfg)
	require.Error(t, err)
	var bce *lanalyzer.BadConfigError
	assert.ErrorAs(t, err, &bce)
}
