// Package lac reads and writes the LAC capture session persistence format:
// a JSON document describing a lanalyzer.CaptureSession, with each
// channel's sample buffer packed as a bitstream rather than one JSON number
// per sample.
package lac

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/icza/bitio"
	"github.com/mewkiz/pkg/errutil"
	"github.com/mewkiz/pkg/hashutil/crc16"

	"github.com/hdlbus/lanalyzer"
)

// samplesTag is the typed-tag wrapper spec.md requires around a channel's
// packed sample data: {"type": "bits", "data": <base64>, "length": N}.
type samplesTag struct {
	Type   string `json:"type"`
	Data   []byte `json:"data"`
	Length uint64 `json:"length"`
}

type channelDoc struct {
	ChannelNumber uint16     `json:"channelNumber"`
	ChannelName   string     `json:"channelName"`
	Hidden        bool       `json:"hidden"`
	Inverted      bool       `json:"inverted"`
	Samples       samplesTag `json:"samples"`
}

type sessionDoc struct {
	Name          string `json:"name,omitempty"`
	DeviceVersion string `json:"deviceVersion,omitempty"`
	DeviceSerial  string `json:"deviceSerial,omitempty"`

	Frequency          uint64 `json:"frequency"`
	PreTriggerSamples  uint64 `json:"preTriggerSamples"`
	PostTriggerSamples uint64 `json:"postTriggerSamples"`

	TriggerType      uint8  `json:"triggerType"`
	TriggerChannel   uint16 `json:"triggerChannel"`
	TriggerInverted  bool   `json:"triggerInverted"`
	TriggerValue     uint8  `json:"triggerValue"`

	CaptureChannels []channelDoc `json:"captureChannels"`

	// Checksum is a CRC-16/IBM of the document's other fields, encoded with
	// the checksum field itself held empty. It is a lanalyzer addition atop
	// the legacy format: readers of older documents that lack it skip the
	// check rather than failing.
	Checksum uint16 `json:"checksum,omitempty"`
}

// legacyDoc is the wrapper shape readers must also accept, per spec.md §6:
// `{ settings: <CaptureSession>, selectedRegions?: [...] }`.
type legacyDoc struct {
	Settings        *sessionDoc       `json:"settings"`
	SelectedRegions []json.RawMessage `json:"selectedRegions,omitempty"`
}

// Write serializes session as a LAC document to w.
func Write(w io.Writer, session *lanalyzer.CaptureSession) error {
	doc, err := toDoc(session)
	if err != nil {
		return errutil.Err(err)
	}
	doc.Checksum = checksumOf(doc)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return errutil.Err(err)
	}
	return nil
}

// Read parses a LAC document from r, accepting both the current top-level
// shape and the legacy `{settings: ...}` wrapper. A checksum present on the
// document is verified; a mismatch returns an error. Documents without a
// checksum (pre-lanalyzer captures) are accepted unconditionally.
func Read(r io.Reader) (*lanalyzer.CaptureSession, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errutil.Err(err)
	}

	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, errutil.Err(err)
	}

	if doc.Checksum != 0 {
		want := doc.Checksum
		doc.Checksum = 0
		got := checksumOf(doc)
		if got != want {
			return nil, errutil.Newf("lac: checksum mismatch: document reports 0x%04X, computed 0x%04X", want, got)
		}
	}

	return fromDoc(doc)
}

func decodeDoc(raw []byte) (*sessionDoc, error) {
	var legacy legacyDoc
	if err := json.Unmarshal(raw, &legacy); err == nil && legacy.Settings != nil {
		return legacy.Settings, nil
	}
	var doc sessionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// checksumOf computes the CRC-16/IBM checksum of doc's canonical JSON
// encoding with Checksum forced to zero, mirroring the frame-footer CRC-16
// check a FLAC frame carries.
func checksumOf(doc *sessionDoc) uint16 {
	cp := *doc
	cp.Checksum = 0
	body, err := json.Marshal(cp)
	if err != nil {
		return 0
	}
	return crc16.ChecksumIBM(body)
}

func toDoc(session *lanalyzer.CaptureSession) (*sessionDoc, error) {
	doc := &sessionDoc{
		Name:               session.Name,
		DeviceVersion:      session.DeviceVersion,
		DeviceSerial:       session.DeviceSerial,
		Frequency:          session.SampleRateHz,
		PreTriggerSamples:  session.PreTrigger,
		PostTriggerSamples: session.PostTrigger,
		TriggerType:        uint8(session.Trigger.Kind),
		TriggerChannel:     session.Trigger.Channel,
		TriggerInverted:    session.Trigger.Inverted,
		TriggerValue:       session.Trigger.Value,
	}
	for _, ch := range session.Channels {
		packed, err := packChannel(ch)
		if err != nil {
			return nil, err
		}
		doc.CaptureChannels = append(doc.CaptureChannels, channelDoc{
			ChannelNumber: ch.Number,
			ChannelName:   ch.Name,
			Hidden:        ch.Hidden,
			Inverted:      ch.Inverted,
			Samples:       packed,
		})
	}
	return doc, nil
}

func fromDoc(doc *sessionDoc) (*lanalyzer.CaptureSession, error) {
	session := &lanalyzer.CaptureSession{
		Name:          doc.Name,
		DeviceVersion: doc.DeviceVersion,
		DeviceSerial:  doc.DeviceSerial,
		SampleRateHz:  doc.Frequency,
		PreTrigger:    doc.PreTriggerSamples,
		PostTrigger:   doc.PostTriggerSamples,
		Trigger: lanalyzer.Trigger{
			Channel:  doc.TriggerChannel,
			Kind:     lanalyzer.TriggerKind(doc.TriggerType),
			Inverted: doc.TriggerInverted,
			Value:    doc.TriggerValue,
		},
	}
	for _, cd := range doc.CaptureChannels {
		ch := lanalyzer.NewChannel(cd.ChannelNumber, cd.ChannelName, cd.Samples.Length)
		ch.Hidden = cd.Hidden
		ch.Inverted = cd.Inverted
		if err := unpackChannel(ch, cd.Samples); err != nil {
			return nil, err
		}
		session.Channels = append(session.Channels, ch)
	}
	return session, nil
}

// packChannel serializes a channel's sample buffer as a tightly packed
// bitstream, one bit per sample, MSB-first within each byte — the same
// convention bitio.Writer uses for bitio.Writer.WriteBits.
func packChannel(ch *lanalyzer.Channel) (samplesTag, error) {
	var buf bytes.Buffer
	bw := bitio.NewWriter(&buf)
	n := ch.Len()
	for i := uint64(0); i < n; i++ {
		if err := bw.WriteBool(ch.RawSample(i) != 0); err != nil {
			return samplesTag{}, err
		}
	}
	if err := bw.Close(); err != nil {
		return samplesTag{}, err
	}
	return samplesTag{Type: "bits", Data: buf.Bytes(), Length: n}, nil
}

func unpackChannel(ch *lanalyzer.Channel, tag samplesTag) error {
	br := bitio.NewReader(bytes.NewReader(tag.Data))
	for i := uint64(0); i < tag.Length; i++ {
		bit, err := br.ReadBool()
		if err != nil {
			return err
		}
		if bit {
			ch.SetSample(i, 1)
		} else {
			ch.SetSample(i, 0)
		}
	}
	return nil
}
