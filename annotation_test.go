package lanalyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferDropsOverlap(t *testing.T) {
	buf := NewBuffer(nil)
	buf.Put(Annotation{StartSample: 0, EndSample: 10, Row: "r"})
	buf.Put(Annotation{StartSample: 5, EndSample: 8, Row: "r"}) // overlaps; should be replaced with a warning

	row := buf.Row("r")
	assert.Len(t, row, 2)
	assert.Contains(t, row[1].Values[0], "warning")
}

func TestBufferFilterByKind(t *testing.T) {
	buf := NewBuffer(nil)
	buf.Put(Annotation{StartSample: 0, EndSample: 1, Row: "r", Kind: 1})
	buf.Put(Annotation{StartSample: 2, EndSample: 3, Row: "r", Kind: 2})
	buf.Put(Annotation{StartSample: 4, EndSample: 5, Row: "r", Kind: 1})

	got := buf.Filter(1)
	assert.Len(t, got, 2)
}

func TestBufferRowsPreservesDiscoveryOrder(t *testing.T) {
	buf := NewBuffer(nil)
	buf.Put(Annotation{StartSample: 0, EndSample: 1, Row: "b"})
	buf.Put(Annotation{StartSample: 0, EndSample: 1, Row: "a"})
	assert.Equal(t, []string{"b", "a"}, buf.Rows())
}
