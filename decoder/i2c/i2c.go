// Package i2c decodes an I²C bus from two logic channels (SCL, SDA) into
// start/stop/address/data/ack annotations.
package i2c

import (
	"fmt"

	"github.com/hdlbus/lanalyzer"
)

// Annotation kinds, per the descriptor's annotation table.
const (
	KindStart        uint16 = 0
	KindRepeatStart  uint16 = 1
	KindStop         uint16 = 2
	KindACK          uint16 = 3
	KindNACK         uint16 = 4
	KindBit          uint16 = 5
	KindAddressRead  uint16 = 6
	KindAddressWrite uint16 = 7
	KindDataRead     uint16 = 8
	KindDataWrite    uint16 = 9
	KindWarning      uint16 = 10
)

const (
	rowBits     = "bits"
	rowAddrData = "addr-data"
	rowWarnings = "warnings"
)

// AddressFormat selects how a decoded 7-bit address is rendered in an
// address annotation's display value.
type AddressFormat string

// Recognized address_format option values.
const (
	Shifted   AddressFormat = "shifted"
	Unshifted AddressFormat = "unshifted"
)

func descriptor() *lanalyzer.Descriptor {
	return &lanalyzer.Descriptor{
		ID:          "i2c",
		Name:        "I2C",
		LongName:    "Inter-Integrated Circuit",
		Description: "Two-wire, multi-master, serial bus",
		License:     "gplv2+",
		Inputs:      []string{"logic"},
		Outputs:     []string{"i2c"},
		Tags:        []string{"embedded/industrial"},
		Channels: []lanalyzer.ChannelRole{
			{ID: "scl", Name: "SCL", Desc: "Clock line", Required: true, Index: 0},
			{ID: "sda", Name: "SDA", Desc: "Data line", Required: true, Index: 1},
		},
		Options: []lanalyzer.OptionSchema{
			{
				ID: "address_format", Desc: "Displayed slave address format",
				Kind: lanalyzer.OptionString, Default: string(Shifted),
				AllowedValues: []interface{}{string(Shifted), string(Unshifted)},
			},
		},
		Annotations: []lanalyzer.AnnotationKindInfo{
			{Short: "Start", Long: "Start condition"},
			{Short: "Repeat start", Long: "Repeated start condition"},
			{Short: "Stop", Long: "Stop condition"},
			{Short: "ACK", Long: "ACK"},
			{Short: "NACK", Long: "NACK"},
			{Short: "Bit", Long: "Data/address bit"},
			{Short: "Address read", Long: "Address (read)"},
			{Short: "Address write", Long: "Address (write)"},
			{Short: "Data read", Long: "Data (read)"},
			{Short: "Data write", Long: "Data (write)"},
			{Short: "Warning", Long: "Warning"},
		},
		Rows: []lanalyzer.AnnotationRow{
			{ID: rowBits, Name: "Bits", Kinds: []uint16{KindBit}},
			{ID: rowAddrData, Name: "Address/Data", Kinds: []uint16{
				KindStart, KindRepeatStart, KindStop, KindACK, KindNACK,
				KindAddressRead, KindAddressWrite, KindDataRead, KindDataWrite,
			}},
			{ID: rowWarnings, Name: "Warnings", Kinds: []uint16{KindWarning}},
		},
	}
}

// direction tracks the in-progress transfer's read/write sense; unknown
// until the first address byte's R/W bit is observed.
type direction uint8

const (
	dirUnknown direction = iota
	dirRead
	dirWrite
)

// Decoder implements lanalyzer.Decoder for the I²C protocol.
//
// ref: spec.md §4.5 (C5)
type Decoder struct {
	scl, sda uint16

	addressFormat AddressFormat

	waiter *lanalyzer.Waiter

	// Per-transfer state (§4.5's state machine variables).
	pduStart             uint64
	pduBits              uint64
	isWrite              direction
	remainingAddrBytes   int
	slaveAddr7           uint8
	slaveAddr10          uint16
	in10BitAddress       bool
	isRepeat             bool
	dataBits             []uint8
	bitWidth             uint64
	lastRisingEdgeSample uint64
	haveLastRising       bool
	collectingAddress    bool
}

// New returns a fresh, reset I²C decoder instance.
func New() lanalyzer.Decoder { return &Decoder{} }

func (d *Decoder) Describe() *lanalyzer.Descriptor { return descriptor() }

func (d *Decoder) Validate(cfg lanalyzer.Config) error {
	desc := d.Describe()
	if err := lanalyzer.RequireMapping("i2c", desc, cfg.Mapping); err != nil {
		return err
	}
	if cfg.SampleRateHz == 0 {
		return &lanalyzer.BadConfigError{Decoder: "i2c", Reason: "sample rate must be nonzero"}
	}
	v, err := lanalyzer.OptionValue(desc, cfg.Options, "address_format")
	if err != nil {
		return &lanalyzer.BadConfigError{Decoder: "i2c", Reason: err.Error()}
	}
	switch AddressFormat(fmt.Sprint(v)) {
	case Shifted, Unshifted:
	default:
		return &lanalyzer.BadConfigError{Decoder: "i2c", Reason: "address_format must be shifted or unshifted"}
	}
	return nil
}

func (d *Decoder) Reset() {
	*d = Decoder{}
}

// Execute runs the I²C state machine over cfg.Source to completion.
func (d *Decoder) Execute(cfg lanalyzer.Config, buf *lanalyzer.Buffer) error {
	d.scl = cfg.Mapping["scl"]
	d.sda = cfg.Mapping["sda"]
	if v, err := lanalyzer.OptionValue(d.Describe(), cfg.Options, "address_format"); err == nil {
		d.addressFormat = AddressFormat(fmt.Sprint(v))
	} else {
		d.addressFormat = Shifted
	}
	d.waiter = lanalyzer.NewWaiter(cfg.Source)
	d.isRepeat = false

	for {
		if err := d.idleUntilStart(cfg, buf); err != nil {
			if err == lanalyzer.ErrEndOfSamples {
				return nil
			}
			return err
		}
		if err := d.runTransfer(cfg, buf); err != nil {
			if err == lanalyzer.ErrEndOfSamples {
				return nil
			}
			return err
		}
	}
}

// idleUntilStart implements state IDLE: wait for SCL high + SDA falling.
func (d *Decoder) idleUntilStart(cfg lanalyzer.Config, buf *lanalyzer.Buffer) error {
	_, err := d.waiter.Wait(lanalyzer.Cond(d.scl, lanalyzer.High).With(d.sda, lanalyzer.FallingEdge))
	if err != nil {
		return err
	}
	d.handleStart(buf)
	return nil
}

func (d *Decoder) handleStart(buf *lanalyzer.Buffer) {
	kind := KindStart
	label := "start"
	if d.isRepeat {
		kind = KindRepeatStart
		label = "repeat-start"
	}
	cursor := d.waiter.Cursor()
	buf.Put(lanalyzer.Annotation{StartSample: cursor, EndSample: cursor, Row: rowAddrData, Kind: kind, Values: []string{label}})

	d.pduStart = cursor
	d.pduBits = 0
	d.isWrite = dirUnknown
	d.remainingAddrBytes = 0
	d.slaveAddr7 = 0
	d.slaveAddr10 = 0
	d.in10BitAddress = false
	d.dataBits = nil
	d.bitWidth = 0
	d.haveLastRising = false
	d.collectingAddress = true
	d.remainingAddrBytes = 1 // at least one address byte always follows a start
	d.isRepeat = true
}

// runTransfer collects bytes and ACK/NACKs until a STOP or EndOfSamples.
func (d *Decoder) runTransfer(cfg lanalyzer.Config, buf *lanalyzer.Buffer) error {
	for {
		if err := d.collectByte(buf); err != nil {
			return err
		}
		if d.collectingAddress {
			d.emitAddressByte(buf)
		} else {
			d.emitDataByte(buf)
		}

		outcome, err := d.waiter.Wait(
			lanalyzer.Cond(d.scl, lanalyzer.RisingEdge),
			lanalyzer.Cond(d.scl, lanalyzer.High).With(d.sda, lanalyzer.FallingEdge),
			lanalyzer.Cond(d.scl, lanalyzer.High).With(d.sda, lanalyzer.RisingEdge),
		)
		if err != nil {
			return err
		}
		switch {
		case outcome.Matched&(1<<1) != 0: // START
			d.handleStart(buf)
			continue
		case outcome.Matched&(1<<2) != 0: // STOP
			d.handleStop(cfg, buf)
			return nil
		default: // ACK/NACK
			d.handleAckNack(buf, outcome)
		}
	}
}

// collectByte implements "collecting byte" (§4.5 item 3): accumulate 8 bits
// MSB-first over 8 SCL rising edges, sampling SDA at each.
func (d *Decoder) collectByte(buf *lanalyzer.Buffer) error {
	d.dataBits = nil
	var edges []uint64
	for len(d.dataBits) < 8 {
		outcome, err := d.waiter.Wait(lanalyzer.Cond(d.scl, lanalyzer.RisingEdge))
		if err != nil {
			if err == lanalyzer.ErrEndOfSamples && len(d.dataBits) == 8 {
				break
			}
			return err
		}
		k := outcome.SampleIndex
		bit := d.waiter.Source.Bit(d.sda, k)
		endSample := k
		edges = append(edges, k)
		if len(edges) >= 2 {
			d.bitWidth = edges[len(edges)-1] - edges[len(edges)-2]
			endSample = k + d.bitWidth
		}
		buf.Put(lanalyzer.Annotation{
			StartSample: k, EndSample: endSample, Row: rowBits, Kind: KindBit,
			Values: []string{fmt.Sprint(bit)},
			Raw:    lanalyzer.RawData{Kind: lanalyzer.RawBit, Bit: bit},
		})
		d.dataBits = append(d.dataBits, bit)
		d.pduBits++
	}
	return nil
}

func bitsToByte(bits []uint8) uint8 {
	var v uint8
	for _, b := range bits {
		v = v<<1 | b
	}
	return v
}

func (d *Decoder) emitAddressByte(buf *lanalyzer.Buffer) {
	byteVal := bitsToByte(d.dataBits)
	start := d.pduStart
	if len(d.dataBits) > 0 {
		start = d.waiter.Cursor()
	}
	end := d.waiter.Cursor()

	if d.remainingAddrBytes == 1 && !d.in10BitAddress && byteVal&0xF8 == 0xF0 {
		// 10-bit address, first byte: top 5 bits == 0b11110. A9/A8 may both
		// be zero (byteVal == 0xF0), so in10BitAddress — not slaveAddr10's
		// value — is what marks this transfer as 10-bit.
		d.remainingAddrBytes = 2
		d.in10BitAddress = true
		d.slaveAddr10 = uint16(byteVal&0x06) << 7
		if d.isWrite == dirUnknown {
			d.setDirection(byteVal & 1)
		}
	} else if d.in10BitAddress {
		d.slaveAddr10 |= uint16(byteVal)
		d.remainingAddrBytes--
	} else {
		d.slaveAddr7 = byteVal >> 1
		d.remainingAddrBytes = 1
		if d.isWrite == dirUnknown {
			d.setDirection(byteVal & 1)
		}
	}

	display := d.displayAddress(byteVal)
	kind := KindAddressWrite
	label := "write"
	if d.isWrite == dirRead {
		kind = KindAddressRead
		label = "read"
	}
	buf.Put(lanalyzer.Annotation{
		StartSample: start, EndSample: end, Row: rowAddrData, Kind: kind,
		Values: []string{fmt.Sprintf("address-%s: 0x%03X", label, display)},
		Raw:    lanalyzer.RawData{Kind: lanalyzer.RawAddress, Address: display, ReadWrite: d.isWrite == dirRead},
	})

	if d.remainingAddrBytes <= 0 {
		d.collectingAddress = false
	}
}

func (d *Decoder) setDirection(rwBit uint8) {
	if rwBit == 1 {
		d.isWrite = dirRead
	} else {
		d.isWrite = dirWrite
	}
}

func (d *Decoder) displayAddress(lastByte uint8) uint16 {
	if d.in10BitAddress {
		return d.slaveAddr10
	}
	switch d.addressFormat {
	case Unshifted:
		return uint16(d.slaveAddr7)<<1 | uint16(lastByte&1)
	default:
		return uint16(d.slaveAddr7)
	}
}

func (d *Decoder) emitDataByte(buf *lanalyzer.Buffer) {
	byteVal := bitsToByte(d.dataBits)
	end := d.waiter.Cursor()
	kind := KindDataWrite
	label := "write"
	if d.isWrite == dirRead {
		kind = KindDataRead
		label = "read"
	}
	buf.Put(lanalyzer.Annotation{
		StartSample: end, EndSample: end, Row: rowAddrData, Kind: kind,
		Values: []string{fmt.Sprintf("data-%s: 0x%02X", label, byteVal)},
		Raw:    lanalyzer.RawData{Kind: lanalyzer.RawByte, Byte: byteVal},
	})
}

func (d *Decoder) handleAckNack(buf *lanalyzer.Buffer, outcome lanalyzer.WaitOutcome) {
	bit := outcome.Pins[d.sda]
	k := outcome.SampleIndex
	kind := KindACK
	label := "ACK"
	if bit == 1 {
		kind = KindNACK
		label = "NACK"
	}
	buf.Put(lanalyzer.Annotation{StartSample: k, EndSample: k, Row: rowAddrData, Kind: kind, Values: []string{label}})

	if d.remainingAddrBytes > 0 {
		d.remainingAddrBytes--
	}
	if d.remainingAddrBytes <= 0 {
		d.collectingAddress = false
	}
	d.dataBits = nil
}

func (d *Decoder) handleStop(cfg lanalyzer.Config, buf *lanalyzer.Buffer) {
	k := d.waiter.Cursor()
	elapsedSamples := k - d.pduStart + 1
	var bitrate float64
	if cfg.SampleRateHz > 0 && elapsedSamples > 0 {
		elapsedSeconds := float64(elapsedSamples) / float64(cfg.SampleRateHz)
		if elapsedSeconds > 0 {
			bitrate = float64(d.pduBits) / elapsedSeconds
		}
	}
	buf.Put(lanalyzer.Annotation{
		StartSample: k, EndSample: k, Row: rowAddrData, Kind: KindStop,
		Values: []string{fmt.Sprintf("stop (%.0f bit/s)", bitrate)},
	})
	d.isRepeat = false
}
