package lanalyzer

import "github.com/pkg/errors"

// ChannelRole describes one channel slot a decoder's descriptor declares,
// e.g. SCL on the I²C decoder.
type ChannelRole struct {
	ID       string
	Name     string
	Desc     string
	Required bool
	// Index is the role's position within Descriptor.Channels.
	// Registry.AutoAssign walks Descriptor.Channels in slice order and does
	// not read Index.
	Index int
}

// OptionKind identifies the shape of an OptionSchema's allowed values.
type OptionKind uint8

// Recognized option value kinds.
const (
	OptionString OptionKind = iota
	OptionInt
	OptionFloat
	OptionBool
)

// OptionSchema describes one decoder-specific option, e.g. I²C's
// address_format.
type OptionSchema struct {
	ID            string
	Desc          string
	Kind          OptionKind
	Default       interface{}
	AllowedValues []interface{}
}

// AnnotationKindInfo documents one annotation kind a decoder emits.
type AnnotationKindInfo struct {
	Short string
	Long  string
	Abbr  string
}

// AnnotationRow groups annotation kinds that share a UI-facing row and thus
// the Buffer's per-row non-overlap invariant.
type AnnotationRow struct {
	ID    string
	Name  string
	Kinds []uint16
}

// Descriptor is a decoder's read-only self-description.
//
// ref: spec.md §6 "Decoder descriptor surface"
type Descriptor struct {
	ID          string
	Name        string
	LongName    string
	Description string
	License     string
	Inputs      []string
	Outputs     []string
	Tags        []string
	Channels    []ChannelRole
	Options     []OptionSchema
	Annotations []AnnotationKindInfo
	Rows        []AnnotationRow
}

// RequiredChannels returns the subset of Descriptor.Channels with
// Required set.
func (d *Descriptor) RequiredChannels() []ChannelRole {
	var out []ChannelRole
	for _, c := range d.Channels {
		if c.Required {
			out = append(out, c)
		}
	}
	return out
}

// ChannelMapping assigns a capture channel number to each role ID a
// decoder's descriptor declares. A role absent from the map is unmapped.
type ChannelMapping map[string]uint16

// OptionBindings holds the caller-supplied value for each option ID a
// decoder's descriptor declares. An option absent from the map takes its
// schema default.
type OptionBindings map[string]interface{}

// Config bundles everything Decoder.Validate and Decoder.Execute need: the
// capture's sample rate, the channel/option bindings, and the sample source
// to run against.
type Config struct {
	SampleRateHz uint64
	Mapping      ChannelMapping
	Options      OptionBindings
	Source       SampleSource
}

// Decoder is the contract every protocol decoder satisfies (§4.3). A
// Decoder instance is single-run: Reset must be called, implicitly or
// explicitly, before reuse.
type Decoder interface {
	// Describe returns the decoder's descriptor. It never changes across
	// the lifetime of a Decoder value.
	Describe() *Descriptor

	// Validate checks cfg against Describe() and returns a *BadConfigError
	// naming the first violated constraint, or nil.
	Validate(cfg Config) error

	// Reset returns the decoder to its just-constructed state. After Reset
	// and before the first call to Execute, the decoder must produce no
	// annotations.
	Reset()

	// Execute runs the decoder's wait loop against cfg.Source to
	// completion (EndOfSamples), emitting annotations into buf. It
	// returns a non-nil error only for failures other than exhausting the
	// sample source, which is the decoder's normal termination condition.
	Execute(cfg Config, buf *Buffer) error
}

// Factory constructs a fresh, just-reset Decoder instance. Registries hold
// factories rather than shared Decoder values because Decoder state is
// owned exclusively by a single run (spec.md §5).
type Factory func() Decoder

// ValidateMappingResult is Registry.ValidateMapping's structured verdict.
type ValidateMappingResult struct {
	OK              bool
	MissingRequired []string
	Conflicts       []string
	Warnings        []string
}

// ValidateChannelMapping checks mapping against d's declared roles:
// every required role must be present, and no two roles may share a
// channel number. It is the shared logic behind Registry.ValidateMapping
// and the BadConfig check every decoder's Validate performs on its own
// descriptor.
func ValidateChannelMapping(d *Descriptor, mapping ChannelMapping) ValidateMappingResult {
	res := ValidateMappingResult{OK: true}
	assigned := make(map[uint16]string)
	for _, role := range d.Channels {
		ch, ok := mapping[role.ID]
		if !ok {
			if role.Required {
				res.MissingRequired = append(res.MissingRequired, role.ID)
				res.OK = false
			}
			continue
		}
		if other, used := assigned[ch]; used {
			res.Conflicts = append(res.Conflicts, role.ID+" and "+other+" both map to the same channel")
			res.OK = false
			continue
		}
		assigned[ch] = role.ID
	}
	for roleID := range mapping {
		found := false
		for _, role := range d.Channels {
			if role.ID == roleID {
				found = true
				break
			}
		}
		if !found {
			res.Warnings = append(res.Warnings, "mapping references unknown role "+roleID)
		}
	}
	return res
}

// RequireMapping is the BadConfig-raising form of ValidateChannelMapping,
// used by a decoder's own Validate method.
func RequireMapping(decoderID string, d *Descriptor, mapping ChannelMapping) error {
	res := ValidateChannelMapping(d, mapping)
	if len(res.MissingRequired) > 0 {
		return &BadConfigError{Decoder: decoderID, Reason: "missing required channel role " + res.MissingRequired[0]}
	}
	if len(res.Conflicts) > 0 {
		return &BadConfigError{Decoder: decoderID, Reason: res.Conflicts[0]}
	}
	return nil
}

// OptionValue returns the bound value for optID, falling back to its
// schema default, or an error if optID names no option on d.
func OptionValue(d *Descriptor, opts OptionBindings, optID string) (interface{}, error) {
	for _, schema := range d.Options {
		if schema.ID != optID {
			continue
		}
		if v, ok := opts[optID]; ok {
			return v, nil
		}
		return schema.Default, nil
	}
	return nil, errors.Errorf("lanalyzer: unknown option %q", optID)
}
