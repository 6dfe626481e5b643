// Package uart decodes one or two independent asynchronous serial lines
// (RX and/or TX) into frame, data, parity, stop, break, idle, and packet
// annotations.
package uart

import (
	"fmt"
	"math"

	"github.com/hdlbus/lanalyzer"
)

// Annotation kinds.
const (
	KindStartBit uint16 = 0
	KindDataBit  uint16 = 1
	KindData     uint16 = 2
	KindParityOK uint16 = 3
	KindParityErr uint16 = 4
	KindStop     uint16 = 5
	KindWarning  uint16 = 6
	KindBreak    uint16 = 7
	KindIdle     uint16 = 8
	KindPacket   uint16 = 9
)

// Parity selects the parity scheme a line is decoded with.
type Parity string

// Recognized parity option values.
const (
	ParityNone   Parity = "none"
	ParityOdd    Parity = "odd"
	ParityEven   Parity = "even"
	ParityZero   Parity = "zero"
	ParityOne    Parity = "one"
	ParityIgnore Parity = "ignore"
)

// BitOrder selects which end of a data word is transmitted first.
type BitOrder string

// Recognized bit_order option values.
const (
	LSBFirst BitOrder = "lsb-first"
	MSBFirst BitOrder = "msb-first"
)

func descriptor() *lanalyzer.Descriptor {
	return &lanalyzer.Descriptor{
		ID:          "uart",
		Name:        "UART",
		LongName:    "Universal Asynchronous Receiver/Transmitter",
		Description: "Asynchronous, serial bus",
		License:     "gplv2+",
		Inputs:      []string{"logic"},
		Outputs:     []string{"uart"},
		Tags:        []string{"embedded/industrial"},
		Channels: []lanalyzer.ChannelRole{
			{ID: "rx", Name: "RX", Desc: "Receive line", Required: false, Index: 0},
			{ID: "tx", Name: "TX", Desc: "Transmit line", Required: false, Index: 1},
		},
		Options: []lanalyzer.OptionSchema{
			{ID: "baudrate", Desc: "Baud rate", Kind: lanalyzer.OptionInt, Default: 115200},
			{ID: "data_bits", Desc: "Data bits", Kind: lanalyzer.OptionInt, Default: 8},
			{ID: "parity", Desc: "Parity", Kind: lanalyzer.OptionString, Default: string(ParityNone),
				AllowedValues: []interface{}{string(ParityNone), string(ParityOdd), string(ParityEven), string(ParityZero), string(ParityOne), string(ParityIgnore)}},
			{ID: "stop_bits", Desc: "Stop bits", Kind: lanalyzer.OptionFloat, Default: 1.0},
			{ID: "bit_order", Desc: "Bit order", Kind: lanalyzer.OptionString, Default: string(LSBFirst),
				AllowedValues: []interface{}{string(LSBFirst), string(MSBFirst)}},
			{ID: "invert_rx", Desc: "Invert RX", Kind: lanalyzer.OptionBool, Default: false},
			{ID: "invert_tx", Desc: "Invert TX", Kind: lanalyzer.OptionBool, Default: false},
			{ID: "sample_point", Desc: "Sample point, percent of bit period", Kind: lanalyzer.OptionInt, Default: 50},
			{ID: "packet_word_count", Desc: "Words per packet", Kind: lanalyzer.OptionInt, Default: 16},
		},
		Annotations: []lanalyzer.AnnotationKindInfo{
			{Short: "Start", Long: "Start bit"},
			{Short: "Bit", Long: "Data bit"},
			{Short: "Data", Long: "Data word"},
			{Short: "Parity OK", Long: "Parity OK"},
			{Short: "Parity error", Long: "Parity error"},
			{Short: "Stop", Long: "Stop bit"},
			{Short: "Warning", Long: "Warning"},
			{Short: "Break", Long: "Break condition"},
			{Short: "Idle", Long: "Idle"},
			{Short: "Packet", Long: "Packet"},
		},
		Rows: []lanalyzer.AnnotationRow{
			{ID: "rx", Name: "RX", Kinds: []uint16{KindStartBit, KindDataBit, KindData, KindParityOK, KindParityErr, KindStop, KindWarning, KindBreak, KindIdle, KindPacket}},
			{ID: "tx", Name: "TX", Kinds: []uint16{KindStartBit, KindDataBit, KindData, KindParityOK, KindParityErr, KindStop, KindWarning, KindBreak, KindIdle, KindPacket}},
		},
	}
}

type lineState uint8

const (
	waitStart lineState = iota
	getStart
	getData
	getParity
	getStop
)

// lineDecoder runs one RX or TX line's independent state machine.
type lineDecoder struct {
	name    string
	channel uint16
	invert  bool

	bitWidth          float64
	samplePointFrac   float64
	dataBits          int
	parity            Parity
	stopBitCount      float64
	bitOrder          BitOrder
	frameLengthSamples uint64
	breakMinSamples    uint64
	packetWordCount    int

	state        lineState
	frameStart   uint64
	bitIndex     int
	dataValues   []uint8
	stopsLeft    int
	frameInvalid bool

	idleStart      uint64
	haveIdleStart  bool
	packetWords    int
	packetStart    uint64
	havePacketStart bool
}

func (ln *lineDecoder) bit(w *lanalyzer.Waiter, raw uint8) uint8 {
	if ln.invert {
		return raw ^ 1
	}
	return raw
}

func (ln *lineDecoder) term(base lanalyzer.Term) lanalyzer.Term {
	if !ln.invert {
		return base
	}
	switch base {
	case lanalyzer.High:
		return lanalyzer.Low
	case lanalyzer.Low:
		return lanalyzer.High
	case lanalyzer.RisingEdge:
		return lanalyzer.FallingEdge
	case lanalyzer.FallingEdge:
		return lanalyzer.RisingEdge
	default:
		return base
	}
}

// targetSample returns the rounded absolute sample index for bitIndex
// (0-based from the start bit), per spec.md §4.7 item 2.
func (ln *lineDecoder) targetSample(bitIndex int) uint64 {
	t := float64(ln.frameStart) + (float64(bitIndex)+ln.samplePointFrac)*ln.bitWidth
	return uint64(math.Round(t))
}

func (ln *lineDecoder) run(w *lanalyzer.Waiter, buf *lanalyzer.Buffer) error {
	for {
		switch ln.state {
		case waitStart:
			if err := ln.doWaitStart(w, buf); err != nil {
				return err
			}
		case getStart:
			if err := ln.doGetStart(w, buf); err != nil {
				return err
			}
		case getData:
			if err := ln.doGetData(w, buf); err != nil {
				return err
			}
		case getParity:
			if err := ln.doGetParity(w, buf); err != nil {
				return err
			}
		case getStop:
			if err := ln.doGetStop(w, buf); err != nil {
				return err
			}
		}
	}
}

func (ln *lineDecoder) doWaitStart(w *lanalyzer.Waiter, buf *lanalyzer.Buffer) error {
	outcome, err := w.Wait(lanalyzer.Cond(ln.channel, ln.term(lanalyzer.FallingEdge)))
	if err != nil {
		return err
	}
	// Break detection: a continuously low run of >= breakMinSamples
	// starting here preempts normal framing.
	run := runLength(w, ln.channel, outcome.SampleIndex, ln.invert)
	if run >= ln.breakMinSamples {
		buf.Put(lanalyzer.Annotation{
			StartSample: outcome.SampleIndex, EndSample: outcome.SampleIndex + run,
			Row: ln.name, Kind: KindBreak, Values: []string{"break"},
		})
		ln.closePacket(buf, outcome.SampleIndex+run)
		// Skip past the break run before re-arming.
		if _, err := w.Wait(lanalyzer.SkipN(run)); err != nil {
			return err
		}
		return nil
	}
	if ln.haveIdleStart && outcome.SampleIndex > ln.idleStart {
		buf.Put(lanalyzer.Annotation{
			StartSample: ln.idleStart, EndSample: outcome.SampleIndex,
			Row: ln.name, Kind: KindIdle, Values: []string{"idle"},
		})
	}
	ln.haveIdleStart = false

	ln.frameStart = outcome.SampleIndex
	ln.bitIndex = 0
	ln.dataValues = nil
	ln.frameInvalid = false
	ln.state = getStart
	return nil
}

func runLength(w *lanalyzer.Waiter, ch uint16, from uint64, invert bool) uint64 {
	level := uint8(0)
	if invert {
		level = 1
	}
	return w.Source.LevelRun(ch, from, level)
}

func (ln *lineDecoder) advanceTo(w *lanalyzer.Waiter, target uint64) (lanalyzer.WaitOutcome, error) {
	cur := w.Cursor()
	var n uint64
	if target > cur {
		n = target - cur
	} else {
		n = 1
	}
	return w.Wait(lanalyzer.SkipN(n))
}

func (ln *lineDecoder) doGetStart(w *lanalyzer.Waiter, buf *lanalyzer.Buffer) error {
	target := ln.targetSample(0)
	outcome, err := ln.advanceTo(w, target)
	if err != nil {
		return err
	}
	v := ln.bit(w, w.Source.Bit(ln.channel, outcome.SampleIndex))
	if v != 0 {
		buf.Put(lanalyzer.Annotation{
			StartSample: ln.frameStart, EndSample: outcome.SampleIndex, Row: ln.name, Kind: KindWarning,
			Values: []string{"warning: frame-error"},
		})
		ln.closePacket(buf, outcome.SampleIndex)
		ln.state = waitStart
		return nil
	}
	half := uint64(ln.bitWidth / 2)
	buf.Put(lanalyzer.Annotation{
		StartSample: subSat(outcome.SampleIndex, half), EndSample: outcome.SampleIndex + half,
		Row: ln.name, Kind: KindStartBit, Values: []string{"start"},
	})
	ln.state = getData
	return nil
}

func subSat(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func (ln *lineDecoder) doGetData(w *lanalyzer.Waiter, buf *lanalyzer.Buffer) error {
	target := ln.targetSample(1 + ln.bitIndex)
	outcome, err := ln.advanceTo(w, target)
	if err != nil {
		return err
	}
	v := ln.bit(w, w.Source.Bit(ln.channel, outcome.SampleIndex))
	half := uint64(ln.bitWidth / 2)
	buf.Put(lanalyzer.Annotation{
		StartSample: subSat(outcome.SampleIndex, half), EndSample: outcome.SampleIndex + half,
		Row: ln.name, Kind: KindDataBit, Values: []string{fmt.Sprint(v)},
	})
	ln.dataValues = append(ln.dataValues, v)
	ln.bitIndex++
	if ln.bitIndex >= ln.dataBits {
		word := assemble(ln.dataValues, ln.bitOrder)
		start := ln.targetSample(1) - uint64(ln.bitWidth/2)
		buf.Put(lanalyzer.Annotation{
			StartSample: start, EndSample: outcome.SampleIndex + half, Row: ln.name, Kind: KindData,
			Values: []string{fmt.Sprintf("%X", word)},
			Raw:    lanalyzer.RawData{Kind: lanalyzer.RawByte, Byte: word},
		})
		if ln.parity == ParityNone {
			ln.state = getStop
			ln.stopsLeft = int(math.Ceil(ln.stopBitCount))
		} else {
			ln.state = getParity
		}
	}
	return nil
}

func assemble(bits []uint8, order BitOrder) uint8 {
	var v uint8
	if order == MSBFirst {
		for _, b := range bits {
			v = v<<1 | b
		}
	} else {
		for i := len(bits) - 1; i >= 0; i-- {
			v = v<<1 | bits[i]
		}
	}
	return v
}

func (ln *lineDecoder) doGetParity(w *lanalyzer.Waiter, buf *lanalyzer.Buffer) error {
	target := ln.targetSample(1 + ln.dataBits)
	outcome, err := ln.advanceTo(w, target)
	if err != nil {
		return err
	}
	v := ln.bit(w, w.Source.Bit(ln.channel, outcome.SampleIndex))
	ok := ln.parityHolds(v)
	kind := KindParityOK
	label := "parity-ok"
	if !ok {
		kind = KindParityErr
		label = "parity-error"
		ln.frameInvalid = true
	}
	half := uint64(ln.bitWidth / 2)
	buf.Put(lanalyzer.Annotation{
		StartSample: subSat(outcome.SampleIndex, half), EndSample: outcome.SampleIndex + half,
		Row: ln.name, Kind: kind, Values: []string{label},
	})
	ln.state = getStop
	ln.stopsLeft = int(math.Ceil(ln.stopBitCount))
	return nil
}

func (ln *lineDecoder) parityHolds(parityBit uint8) bool {
	ones := 0
	for _, b := range ln.dataValues {
		if b == 1 {
			ones++
		}
	}
	switch ln.parity {
	case ParityIgnore:
		return true
	case ParityZero:
		return parityBit == 0
	case ParityOne:
		return parityBit == 1
	case ParityOdd:
		return (ones+int(parityBit))%2 == 1
	case ParityEven:
		return (ones+int(parityBit))%2 == 0
	default:
		return true
	}
}

func (ln *lineDecoder) doGetStop(w *lanalyzer.Waiter, buf *lanalyzer.Buffer) error {
	stopIndex := int(math.Ceil(ln.stopBitCount)) - ln.stopsLeft
	target := ln.targetSample(1 + ln.dataBits + boolToInt(ln.parity != ParityNone) + stopIndex)
	outcome, err := ln.advanceTo(w, target)
	if err != nil {
		return err
	}
	v := ln.bit(w, w.Source.Bit(ln.channel, outcome.SampleIndex))
	if v != 1 {
		buf.Put(lanalyzer.Annotation{
			StartSample: outcome.SampleIndex, EndSample: outcome.SampleIndex, Row: ln.name, Kind: KindWarning,
			Values: []string{"warning: frame-error"},
		})
		ln.frameInvalid = true
	} else {
		half := uint64(ln.bitWidth / 2)
		buf.Put(lanalyzer.Annotation{
			StartSample: subSat(outcome.SampleIndex, half), EndSample: outcome.SampleIndex + half,
			Row: ln.name, Kind: KindStop, Values: []string{"stop"},
		})
	}
	ln.stopsLeft--
	if ln.stopsLeft <= 0 {
		ln.finishFrame(buf, outcome.SampleIndex)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (ln *lineDecoder) finishFrame(buf *lanalyzer.Buffer, frameEnd uint64) {
	if !ln.havePacketStart {
		ln.packetStart = ln.frameStart
		ln.havePacketStart = true
	}
	ln.packetWords++
	if ln.frameInvalid || ln.packetWords >= ln.packetWordCount {
		ln.closePacket(buf, frameEnd)
	}
	ln.idleStart = frameEnd
	ln.haveIdleStart = true
	ln.state = waitStart
}

func (ln *lineDecoder) closePacket(buf *lanalyzer.Buffer, end uint64) {
	if ln.packetWords == 0 {
		return
	}
	buf.Put(lanalyzer.Annotation{
		StartSample: ln.packetStart, EndSample: end, Row: ln.name, Kind: KindPacket,
		Values: []string{fmt.Sprintf("packet (%d words)", ln.packetWords)},
	})
	ln.packetWords = 0
	ln.havePacketStart = false
}

// Decoder implements lanalyzer.Decoder for UART: up to two independent
// lineDecoders (RX, TX), each run to completion over its own Waiter.
//
// ref: spec.md §4.7 (C7)
type Decoder struct {
	lines []*lineDecoder
}

// New returns a fresh, reset UART decoder instance.
func New() lanalyzer.Decoder { return &Decoder{} }

func (d *Decoder) Describe() *lanalyzer.Descriptor { return descriptor() }

func clampSamplePoint(v int) (int, bool) {
	if v >= 100 {
		return 99, true
	}
	if v < 1 {
		return 1, true
	}
	return v, false
}

func (d *Decoder) Validate(cfg lanalyzer.Config) error {
	desc := d.Describe()
	_, hasRX := cfg.Mapping["rx"]
	_, hasTX := cfg.Mapping["tx"]
	if !hasRX && !hasTX {
		return &lanalyzer.BadConfigError{Decoder: "uart", Reason: "at least one of rx or tx must be mapped"}
	}
	baud, err := lanalyzer.OptionValue(desc, cfg.Options, "baudrate")
	if err != nil {
		return &lanalyzer.BadConfigError{Decoder: "uart", Reason: err.Error()}
	}
	if toInt(baud) <= 0 {
		return &lanalyzer.BadConfigError{Decoder: "uart", Reason: "baudrate must be > 0"}
	}
	db, _ := lanalyzer.OptionValue(desc, cfg.Options, "data_bits")
	if n := toInt(db); n < 5 || n > 9 {
		return &lanalyzer.BadConfigError{Decoder: "uart", Reason: "data_bits must be within [5,9]"}
	}
	if cfg.SampleRateHz == 0 {
		return &lanalyzer.BadConfigError{Decoder: "uart", Reason: "sample rate must be nonzero"}
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

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// Execute runs each mapped line's state machine to completion over its own
// Waiter, RX first, then TX. RX and TX are decoded independently (spec.md
// §4.7: "per line, identical logic") so there is no need to interleave them
// on a shared cursor.
func (d *Decoder) Execute(cfg lanalyzer.Config, buf *lanalyzer.Buffer) error {
	desc := d.Describe()
	baud, _ := lanalyzer.OptionValue(desc, cfg.Options, "baudrate")
	dataBits, _ := lanalyzer.OptionValue(desc, cfg.Options, "data_bits")
	parityV, _ := lanalyzer.OptionValue(desc, cfg.Options, "parity")
	stopBitsV, _ := lanalyzer.OptionValue(desc, cfg.Options, "stop_bits")
	bitOrderV, _ := lanalyzer.OptionValue(desc, cfg.Options, "bit_order")
	invertRX, _ := lanalyzer.OptionValue(desc, cfg.Options, "invert_rx")
	invertTX, _ := lanalyzer.OptionValue(desc, cfg.Options, "invert_tx")
	samplePointV, _ := lanalyzer.OptionValue(desc, cfg.Options, "sample_point")
	packetWordsV, _ := lanalyzer.OptionValue(desc, cfg.Options, "packet_word_count")

	bitWidth := float64(cfg.SampleRateHz) / float64(toInt(baud))
	samplePoint, clamped := clampSamplePoint(toInt(samplePointV))
	if clamped {
		buf.Put(lanalyzer.Annotation{
			StartSample: 0, EndSample: 0, Row: "rx", Kind: KindWarning,
			Values: []string{"warning: sample_point clamped to valid range"},
		})
	}
	stopBits := toFloat(stopBitsV)
	parity := Parity(fmt.Sprint(parityV))
	frameBits := 1 + float64(toInt(dataBits)) + boolFloat(parity != ParityNone) + stopBits
	frameLength := uint64(math.Ceil(frameBits * bitWidth))

	newLine := func(name string, ch uint16, invert bool) *lineDecoder {
		return &lineDecoder{
			name: name, channel: ch, invert: invert,
			bitWidth: bitWidth, samplePointFrac: float64(samplePoint) / 100,
			dataBits: toInt(dataBits), parity: parity, stopBitCount: stopBits,
			bitOrder: BitOrder(fmt.Sprint(bitOrderV)),
			frameLengthSamples: frameLength, breakMinSamples: frameLength,
			packetWordCount: toInt(packetWordsV),
		}
	}

	if ch, ok := cfg.Mapping["rx"]; ok {
		d.lines = append(d.lines, newLine("rx", ch, toBool(invertRX)))
	}
	if ch, ok := cfg.Mapping["tx"]; ok {
		d.lines = append(d.lines, newLine("tx", ch, toBool(invertTX)))
	}

	for _, ln := range d.lines {
		w := lanalyzer.NewWaiter(cfg.Source)
		if err := ln.run(w, buf); err != nil && err != lanalyzer.ErrEndOfSamples {
			return err
		}
		ln.closePacket(buf, w.Cursor())
	}
	return nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func toBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
