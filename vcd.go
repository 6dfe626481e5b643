package lanalyzer

import (
	"fmt"
	"io"
)

// ChangePoint is one recorded transition: channel's value at sampleIndex
// differs from its value at sampleIndex-1 (or, at sample 0, is simply its
// initial value).
//
// ref: spec.md §4.10 (C10)
type ChangePoint struct {
	SampleIndex uint64
	Channel     uint16
	Value       uint8
}

// ExtractChanges enumerates the change points of channels within session,
// ordered by sample index and, within a sample index, by the order
// channels was given in. Every selected channel always contributes a point
// at sample 0, even if its value happens to equal some notional "before
// start" default, since there is no sample -1 to compare against.
func ExtractChanges(session *CaptureSession, channels []uint16) []ChangePoint {
	var out []ChangePoint
	total := session.TotalSamples()
	if total == 0 {
		return out
	}
	last := make(map[uint16]uint8, len(channels))
	for _, num := range channels {
		ch := session.Channel(num)
		if ch == nil {
			continue
		}
		last[num] = ch.Sample(0)
		out = append(out, ChangePoint{SampleIndex: 0, Channel: num, Value: last[num]})
	}
	for i := uint64(1); i < total; i++ {
		for _, num := range channels {
			ch := session.Channel(num)
			if ch == nil {
				continue
			}
			v := ch.Sample(i)
			if v != last[num] {
				out = append(out, ChangePoint{SampleIndex: i, Channel: num, Value: v})
				last[num] = v
			}
		}
	}
	return out
}

// vcdIDAlphabet is the printable-ASCII range VCD variable identifiers are
// drawn from: '!' (0x21) through '~' (0x7E), 94 symbols.
const vcdIDAlphabet = "!\"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~"

// AssignVariableIDs gives the i-th channel in order a single-character VCD
// identifier; once the alphabet of 94 symbols is exhausted (i >= 94) it
// switches to two-character identifiers composed of (i/94, i%94) over the
// same alphabet.
func AssignVariableIDs(channels []uint16) map[uint16]string {
	ids := make(map[uint16]string, len(channels))
	n := len(vcdIDAlphabet)
	for i, ch := range channels {
		if i < n {
			ids[ch] = string(vcdIDAlphabet[i])
			continue
		}
		hi := i / n
		lo := i % n
		ids[ch] = string([]byte{vcdIDAlphabet[hi], vcdIDAlphabet[lo]})
	}
	return ids
}

// WriteVCD writes an IEEE 1364 Value Change Dump of the given channels of
// session to w.
//
// ref: spec.md §6 "VCD format"
func WriteVCD(w io.Writer, session *CaptureSession, channels []uint16) error {
	ids := AssignVariableIDs(channels)
	timescaleNs := uint64(1)
	if session.SampleRateHz > 0 {
		timescaleNs = uint64((1e9/float64(session.SampleRateHz))+0.5)
		if timescaleNs == 0 {
			timescaleNs = 1
		}
	}

	if _, err := fmt.Fprintf(w, "$date\n\t%s\n$end\n", "generated by lanalyzer"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "$version\n\tlanalyzer\n$end\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "$timescale %dns $end\n", timescaleNs); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "$scope module logic_analyzer $end\n"); err != nil {
		return err
	}
	for _, num := range channels {
		ch := session.Channel(num)
		name := fmt.Sprintf("ch%d", num)
		if ch != nil && ch.Name != "" {
			name = ch.Name
		}
		if _, err := fmt.Fprintf(w, "$var wire 1 %s %s $end\n", ids[num], name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "$upscope $end\n$enddefinitions $end\n"); err != nil {
		return err
	}

	changes := ExtractChanges(session, channels)

	// Sample 0's points are every selected channel's initial value; they
	// belong in $dumpvars, not behind a "#0" time marker.
	if _, err := fmt.Fprintf(w, "$dumpvars\n"); err != nil {
		return err
	}
	i := 0
	for i < len(changes) && changes[i].SampleIndex == 0 {
		if _, err := fmt.Fprintf(w, "%d%s\n", changes[i].Value, ids[changes[i].Channel]); err != nil {
			return err
		}
		i++
	}
	if _, err := fmt.Fprintf(w, "$end\n"); err != nil {
		return err
	}

	var curStamp uint64
	wroteMarker := false
	for ; i < len(changes); i++ {
		c := changes[i]
		if !wroteMarker || c.SampleIndex != curStamp {
			curStamp = c.SampleIndex
			if _, err := fmt.Fprintf(w, "#%d\n", curStamp); err != nil {
				return err
			}
			wroteMarker = true
		}
		if _, err := fmt.Fprintf(w, "%d%s\n", c.Value, ids[c.Channel]); err != nil {
			return err
		}
	}
	return nil
}
