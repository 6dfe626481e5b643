package lanalyzer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractChangesEmitsInitialAndTransitions(t *testing.T) {
	session := &CaptureSession{SampleRateHz: 1000, PreTrigger: 0, PostTrigger: 4}
	ch := NewChannel(0, "A", 4)
	ch.SetSample(0, 0)
	ch.SetSample(1, 0)
	ch.SetSample(2, 1)
	ch.SetSample(3, 1)
	session.Channels = []*Channel{ch}

	changes := ExtractChanges(session, []uint16{0})
	require.Len(t, changes, 2)
	assert.Equal(t, uint64(0), changes[0].SampleIndex)
	assert.Equal(t, uint8(0), changes[0].Value)
	assert.Equal(t, uint64(2), changes[1].SampleIndex)
	assert.Equal(t, uint8(1), changes[1].Value)
}

func TestAssignVariableIDsSingleAndDoubleChar(t *testing.T) {
	channels := make([]uint16, 95)
	for i := range channels {
		channels[i] = uint16(i)
	}
	ids := AssignVariableIDs(channels)
	assert.Equal(t, "!", ids[0])
	assert.Len(t, ids[94], 2)
}

func TestWriteVCDProducesWellFormedSections(t *testing.T) {
	session := &CaptureSession{SampleRateHz: 1_000_000, PreTrigger: 0, PostTrigger: 4}
	ch := NewChannel(0, "CLK", 4)
	ch.SetSample(0, 0)
	ch.SetSample(1, 1)
	ch.SetSample(2, 1)
	ch.SetSample(3, 0)
	session.Channels = []*Channel{ch}

	var buf bytes.Buffer
	require.NoError(t, WriteVCD(&buf, session, []uint16{0}))
	out := buf.String()

	assert.True(t, strings.Contains(out, "$timescale 1000ns $end"))
	assert.True(t, strings.Contains(out, "$var wire 1 ! CLK $end"))
	assert.True(t, strings.Contains(out, "$dumpvars"))
	assert.True(t, strings.Contains(out, "#1"))
}
