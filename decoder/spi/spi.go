// Package spi decodes an SPI bus (CLK, optional CS, MOSI and/or MISO) into
// per-word data and frame annotations.
package spi

import (
	"fmt"

	"github.com/hdlbus/lanalyzer"
)

// Annotation kinds.
const (
	KindDataMOSI uint16 = 0
	KindDataMISO uint16 = 1
	KindFrame    uint16 = 2
	KindWarning  uint16 = 3
)

const (
	rowData     = "data"
	rowFrame    = "frame"
	rowWarnings = "warnings"
)

// BitOrder selects which end of a word is captured first.
type BitOrder string

// Recognized bit_order option values.
const (
	MSBFirst BitOrder = "msb-first"
	LSBFirst BitOrder = "lsb-first"
)

// CSPolarity selects which CS level selects the device.
type CSPolarity string

// Recognized cs_polarity option values.
const (
	ActiveLow  CSPolarity = "active-low"
	ActiveHigh CSPolarity = "active-high"
)

func descriptor() *lanalyzer.Descriptor {
	return &lanalyzer.Descriptor{
		ID:          "spi",
		Name:        "SPI",
		LongName:    "Serial Peripheral Interface",
		Description: "Full-duplex, synchronous, serial bus",
		License:     "gplv2+",
		Inputs:      []string{"logic"},
		Outputs:     []string{"spi"},
		Tags:        []string{"embedded/industrial"},
		Channels: []lanalyzer.ChannelRole{
			{ID: "clk", Name: "CLK", Desc: "Clock", Required: true, Index: 0},
			{ID: "cs", Name: "CS#", Desc: "Chip select", Required: false, Index: 1},
			{ID: "mosi", Name: "MOSI", Desc: "Master out, slave in", Required: false, Index: 2},
			{ID: "miso", Name: "MISO", Desc: "Master in, slave out", Required: false, Index: 3},
		},
		Options: []lanalyzer.OptionSchema{
			{ID: "cpol", Desc: "Clock polarity", Kind: lanalyzer.OptionInt, Default: 0, AllowedValues: []interface{}{0, 1}},
			{ID: "cpha", Desc: "Clock phase", Kind: lanalyzer.OptionInt, Default: 0, AllowedValues: []interface{}{0, 1}},
			{ID: "bit_order", Desc: "Bit order", Kind: lanalyzer.OptionString, Default: string(MSBFirst),
				AllowedValues: []interface{}{string(MSBFirst), string(LSBFirst)}},
			{ID: "word_size", Desc: "Word size in bits", Kind: lanalyzer.OptionInt, Default: 8},
			{ID: "cs_polarity", Desc: "Chip select polarity", Kind: lanalyzer.OptionString, Default: string(ActiveLow),
				AllowedValues: []interface{}{string(ActiveLow), string(ActiveHigh)}},
		},
		Annotations: []lanalyzer.AnnotationKindInfo{
			{Short: "MOSI", Long: "MOSI data"},
			{Short: "MISO", Long: "MISO data"},
			{Short: "Frame", Long: "Word frame"},
			{Short: "Warning", Long: "Warning"},
		},
		Rows: []lanalyzer.AnnotationRow{
			{ID: rowData, Name: "Data", Kinds: []uint16{KindDataMOSI, KindDataMISO}},
			{ID: rowFrame, Name: "Frame", Kinds: []uint16{KindFrame}},
			{ID: rowWarnings, Name: "Warnings", Kinds: []uint16{KindWarning}},
		},
	}
}

// Decoder implements lanalyzer.Decoder for SPI.
//
// ref: spec.md §4.6 (C6)
type Decoder struct {
	clk, cs, mosi, miso uint16
	haveCS, haveMOSI, haveMISO bool

	cpol, cpha  int
	bitOrder    BitOrder
	wordSize    int
	csPolarity  CSPolarity

	waiter *lanalyzer.Waiter

	mosiBits, misoBits []uint8
	wordStart          uint64
	csActive           bool
}

// New returns a fresh, reset SPI decoder instance.
func New() lanalyzer.Decoder { return &Decoder{} }

func (d *Decoder) Describe() *lanalyzer.Descriptor { return descriptor() }

func (d *Decoder) Validate(cfg lanalyzer.Config) error {
	desc := d.Describe()
	if _, ok := cfg.Mapping["clk"]; !ok {
		return &lanalyzer.BadConfigError{Decoder: "spi", Reason: "missing required channel role clk"}
	}
	_, hasMOSI := cfg.Mapping["mosi"]
	_, hasMISO := cfg.Mapping["miso"]
	if !hasMOSI && !hasMISO {
		return &lanalyzer.BadConfigError{Decoder: "spi", Reason: "at least one of mosi or miso must be mapped"}
	}
	if res := lanalyzer.ValidateChannelMapping(desc, cfg.Mapping); len(res.Conflicts) > 0 {
		return &lanalyzer.BadConfigError{Decoder: "spi", Reason: res.Conflicts[0]}
	}
	wordSize, err := lanalyzer.OptionValue(desc, cfg.Options, "word_size")
	if err != nil {
		return &lanalyzer.BadConfigError{Decoder: "spi", Reason: err.Error()}
	}
	if ws := toInt(wordSize); ws < 4 || ws > 32 {
		return &lanalyzer.BadConfigError{Decoder: "spi", Reason: "word_size must be within [4,32]"}
	}
	return nil
}

func (d *Decoder) Reset() { *d = Decoder{} }

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Execute runs the SPI state machine to completion.
func (d *Decoder) Execute(cfg lanalyzer.Config, buf *lanalyzer.Buffer) error {
	desc := d.Describe()
	d.clk = cfg.Mapping["clk"]
	if ch, ok := cfg.Mapping["cs"]; ok {
		d.cs, d.haveCS = ch, true
	}
	if ch, ok := cfg.Mapping["mosi"]; ok {
		d.mosi, d.haveMOSI = ch, true
	}
	if ch, ok := cfg.Mapping["miso"]; ok {
		d.miso, d.haveMISO = ch, true
	}

	if v, err := lanalyzer.OptionValue(desc, cfg.Options, "cpol"); err == nil {
		d.cpol = toInt(v)
	}
	if v, err := lanalyzer.OptionValue(desc, cfg.Options, "cpha"); err == nil {
		d.cpha = toInt(v)
	}
	if v, err := lanalyzer.OptionValue(desc, cfg.Options, "bit_order"); err == nil {
		d.bitOrder = BitOrder(fmt.Sprint(v))
	} else {
		d.bitOrder = MSBFirst
	}
	if v, err := lanalyzer.OptionValue(desc, cfg.Options, "word_size"); err == nil {
		d.wordSize = toInt(v)
	} else {
		d.wordSize = 8
	}
	if v, err := lanalyzer.OptionValue(desc, cfg.Options, "cs_polarity"); err == nil {
		d.csPolarity = CSPolarity(fmt.Sprint(v))
	} else {
		d.csPolarity = ActiveLow
	}

	// spec.md §4.6: edge_polarity = cpol XOR cpha drives the capture edge,
	// rising if the result is 1, else falling.
	captureEdge := lanalyzer.FallingEdge
	if (d.cpol ^ d.cpha) == 1 {
		captureEdge = lanalyzer.RisingEdge
	}

	d.waiter = lanalyzer.NewWaiter(cfg.Source)
	d.csActive = !d.haveCS // no CS: always "active"
	d.resetWord()

	for {
		if d.haveCS {
			outcome, err := d.waiter.Wait(
				lanalyzer.Cond(d.clk, captureEdge),
				d.csTransitionTerm(),
			)
			if err != nil {
				return d.flushEndOfSamples(err, buf)
			}
			if outcome.Matched&(1<<1) != 0 {
				d.handleCSTransition(cfg, buf, outcome)
				continue
			}
			if !d.csActive {
				continue
			}
			d.sampleBit(cfg, outcome)
		} else {
			outcome, err := d.waiter.Wait(lanalyzer.Cond(d.clk, captureEdge))
			if err != nil {
				return d.flushEndOfSamples(err, buf)
			}
			d.sampleBit(cfg, outcome)
		}
		if len(d.mosiBits) >= d.wordSize || len(d.misoBits) >= d.wordSize {
			d.emitWord(cfg, buf, false)
			d.resetWord()
		}
	}
}

func (d *Decoder) csTransitionTerm() lanalyzer.Conjunction {
	return lanalyzer.Cond(d.cs, lanalyzer.EitherEdge)
}

func (d *Decoder) csIsActive(v uint8) bool {
	if d.csPolarity == ActiveHigh {
		return v == 1
	}
	return v == 0
}

func (d *Decoder) handleCSTransition(cfg lanalyzer.Config, buf *lanalyzer.Buffer, outcome lanalyzer.WaitOutcome) {
	v := outcome.Pins[d.cs]
	nowActive := d.csIsActive(v)
	if nowActive && !d.csActive {
		d.csActive = true
		d.resetWord()
	} else if !nowActive && d.csActive {
		if len(d.mosiBits) > 0 || len(d.misoBits) > 0 {
			buf.Put(lanalyzer.Annotation{
				StartSample: d.wordStart, EndSample: outcome.SampleIndex, Row: rowWarnings, Kind: KindWarning,
				Values: []string{"short word"},
			})
		}
		d.csActive = false
	}
}

func (d *Decoder) sampleBit(cfg lanalyzer.Config, outcome lanalyzer.WaitOutcome) {
	if len(d.mosiBits) == 0 && len(d.misoBits) == 0 {
		d.wordStart = outcome.SampleIndex
	}
	if d.haveMOSI {
		d.mosiBits = append(d.mosiBits, d.waiter.Source.Bit(d.mosi, outcome.SampleIndex))
	}
	if d.haveMISO {
		d.misoBits = append(d.misoBits, d.waiter.Source.Bit(d.miso, outcome.SampleIndex))
	}
}

func (d *Decoder) resetWord() {
	d.mosiBits = nil
	d.misoBits = nil
}

func assemble(bits []uint8, order BitOrder) uint32 {
	var v uint32
	if order == LSBFirst {
		for i := len(bits) - 1; i >= 0; i-- {
			v = v<<1 | uint32(bits[i])
		}
	} else {
		for _, b := range bits {
			v = v<<1 | uint32(b)
		}
	}
	return v
}

func (d *Decoder) emitWord(cfg lanalyzer.Config, buf *lanalyzer.Buffer, partial bool) {
	end := d.waiter.Cursor()
	if d.haveMOSI && len(d.mosiBits) > 0 {
		v := assemble(d.mosiBits, d.bitOrder)
		buf.Put(lanalyzer.Annotation{
			StartSample: d.wordStart, EndSample: end, Row: rowData, Kind: KindDataMOSI,
			Values: []string{fmt.Sprintf("MOSI: 0x%X", v)},
			Raw:    lanalyzer.RawData{Kind: lanalyzer.RawByte, Byte: uint8(v)},
		})
	}
	if d.haveMISO && len(d.misoBits) > 0 {
		v := assemble(d.misoBits, d.bitOrder)
		buf.Put(lanalyzer.Annotation{
			StartSample: d.wordStart, EndSample: end, Row: rowData, Kind: KindDataMISO,
			Values: []string{fmt.Sprintf("MISO: 0x%X", v)},
			Raw:    lanalyzer.RawData{Kind: lanalyzer.RawByte, Byte: uint8(v)},
		})
	}
	buf.Put(lanalyzer.Annotation{
		StartSample: d.wordStart, EndSample: end, Row: rowFrame, Kind: KindFrame,
		Values: []string{"frame"},
	})
}

func (d *Decoder) flushEndOfSamples(err error, buf *lanalyzer.Buffer) error {
	if err != lanalyzer.ErrEndOfSamples {
		return err
	}
	if len(d.mosiBits) > 0 || len(d.misoBits) > 0 {
		buf.Put(lanalyzer.Annotation{
			StartSample: d.wordStart, EndSample: d.waiter.Cursor(), Row: rowWarnings, Kind: KindWarning,
			Values: []string{"short word"},
		})
	}
	return nil
}
