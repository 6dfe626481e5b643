package lanalyzer

import "github.com/rs/zerolog"

// RawKind discriminates the payload carried by Annotation.Raw. The teacher
// domain's equivalent field is an untyped map (`rawData: any`); spec.md §9
// calls for replacing that with a sum type keyed per annotation kind.
type RawKind uint8

// Recognized raw payload shapes.
const (
	RawNone RawKind = iota
	RawByte
	RawBit
	RawAddress
)

// RawData is the typed payload attached to an Annotation. Exactly one of
// the fields is meaningful, selected by Kind.
type RawData struct {
	Kind RawKind
	// Byte holds the decoded byte value for RawByte.
	Byte uint8
	// Bit holds the decoded bit value (0 or 1) for RawBit.
	Bit uint8
	// Address and ReadWrite hold a decoded bus address and its direction for
	// RawAddress; ReadWrite is true for a read, false for a write.
	Address   uint16
	ReadWrite bool
}

// Annotation is one decoded event: a sample range, a kind, and
// human-readable values ordered from most to least verbose.
//
// ref: spec.md §3 "Annotation"
type Annotation struct {
	StartSample uint64
	EndSample   uint64
	Row         string
	Kind        uint16
	Values      []string
	Raw         RawData
}

// Buffer is an append-only sink for a single decoder run, indexed by
// annotation row. It enforces the per-row invariants from spec.md §4.4:
// non-decreasing start sample and non-overlapping ranges. A violation is a
// decoder bug, not a caller error: the offending annotation is dropped and a
// warning annotation is appended in its place, rather than the run aborting.
type Buffer struct {
	rows map[string][]Annotation
	// order preserves row-discovery order for deterministic iteration.
	order []string
	log   *zerolog.Logger
}

// NewBuffer returns an empty Buffer. A nil logger disables warning logging;
// the buffer behaves identically otherwise.
func NewBuffer(log *zerolog.Logger) *Buffer {
	return &Buffer{rows: make(map[string][]Annotation), log: log}
}

// Put appends ann to its row, unless doing so would violate the
// non-decreasing-start or non-overlap invariant, in which case a warning
// annotation replaces it and the original is dropped.
func (b *Buffer) Put(ann Annotation) {
	row := b.rows[ann.Row]
	if len(row) > 0 {
		last := row[len(row)-1]
		if ann.StartSample < last.StartSample || ann.StartSample < last.EndSample {
			if b.log != nil {
				b.log.Warn().
					Str("row", ann.Row).
					Uint64("start_sample", ann.StartSample).
					Uint64("prior_end_sample", last.EndSample).
					Msg("dropping overlapping annotation")
			}
			b.rows[ann.Row] = append(row, Annotation{
				StartSample: last.EndSample,
				EndSample:   last.EndSample,
				Row:         ann.Row,
				Kind:        ann.Kind,
				Values:      []string{"warning: overlapping annotation dropped"},
			})
			return
		}
	}
	if _, ok := b.rows[ann.Row]; !ok {
		b.order = append(b.order, ann.Row)
	}
	b.rows[ann.Row] = append(row, ann)
}

// Rows returns the row names in discovery order.
func (b *Buffer) Rows() []string {
	return append([]string(nil), b.order...)
}

// Row returns every annotation appended to the given row, in append order.
func (b *Buffer) Row(row string) []Annotation {
	return append([]Annotation(nil), b.rows[row]...)
}

// All returns every annotation across every row, ordered by row-discovery
// order and then by append order within a row. Callers needing a single
// chronological stream across rows should sort the result by StartSample;
// All itself makes no cross-row ordering guarantee, matching spec.md §4.4's
// "ordered; non-overlapping per row" — ordering is a per-row invariant, not
// a whole-buffer one.
func (b *Buffer) All() []Annotation {
	var out []Annotation
	for _, row := range b.order {
		out = append(out, b.rows[row]...)
	}
	return out
}

// Filter returns every annotation, across all rows, whose Kind is in kinds.
func (b *Buffer) Filter(kinds ...uint16) []Annotation {
	want := make(map[uint16]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []Annotation
	for _, row := range b.order {
		for _, a := range b.rows[row] {
			if want[a.Kind] {
				out = append(out, a)
			}
		}
	}
	return out
}
