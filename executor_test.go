package lanalyzer

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdlbus/lanalyzer/internal/bitset"
)

type constSource struct{ n uint64 }

func (c *constSource) Bit(channel uint16, i uint64) uint8 { return 1 }
func (c *constSource) Len(channel uint16) uint64          { return c.n }
func (c *constSource) EdgeAfter(channel uint16, from uint64, polarity bitset.Polarity) (uint64, bool) {
	return 0, false
}
func (c *constSource) LevelRun(channel uint16, from uint64, level uint8) uint64 { return 0 }

// chunkCounter records the chunk offsets it was invoked with and returns one
// annotation per chunk, starting at that chunk's offset.
type chunkCounter struct {
	seen []uint64
}

func (c *chunkCounter) ProcessChunk(chunk SampleSource, sampleRateHz uint64, opts OptionBindings, mapping ChannelMapping, chunkOffset uint64) ([]Annotation, error) {
	c.seen = append(c.seen, chunkOffset)
	return []Annotation{{StartSample: chunkOffset, EndSample: chunkOffset, Row: "r"}}, nil
}

func TestPlanChunksOverlap(t *testing.T) {
	spans := planChunks(25, 10)
	require.NotEmpty(t, spans)
	assert.Equal(t, uint64(0), spans[0].offset)
	assert.Equal(t, uint64(10), spans[0].length)
	// overlap = min(1000, 10/10) = 1
	assert.Equal(t, uint64(9), spans[1].offset)
}

func TestStreamingExecutorProducesOrderedResults(t *testing.T) {
	exec := NewStreamingExecutor()
	dec := &chunkCounter{}
	src := &constSource{n: 100}
	cfg := Config{SampleRateHz: 1000, Mapping: ChannelMapping{"a": 0}, Source: src}
	sc := StreamingConfig{ChunkSize: 30, MaxConcurrentChunks: 4}

	result := exec.StreamingDecode(context.Background(), dec, cfg, sc, nil)
	require.NoError(t, result.Err)
	assert.True(t, result.OK)
	for i := 1; i < len(result.Annotations); i++ {
		assert.LessOrEqual(t, result.Annotations[i-1].StartSample, result.Annotations[i].StartSample)
	}
}

// cancelAfterFirst cancels its own context during its first invocation, so
// with sequential dispatch (MaxConcurrentChunks: 1) every later chunk sees
// the cancelled context and no further ProcessChunk call starts.
type cancelAfterFirst struct {
	cancel context.CancelFunc
	called int32
}

func (c *cancelAfterFirst) ProcessChunk(chunk SampleSource, sampleRateHz uint64, opts OptionBindings, mapping ChannelMapping, chunkOffset uint64) ([]Annotation, error) {
	if atomic.AddInt32(&c.called, 1) == 1 {
		c.cancel()
	}
	return []Annotation{{StartSample: chunkOffset, EndSample: chunkOffset, Row: "r"}}, nil
}

func TestStreamingExecutorKeepsPartialAnnotationsOnCancel(t *testing.T) {
	exec := NewStreamingExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	dec := &cancelAfterFirst{cancel: cancel}
	src := &constSource{n: 100}
	cfg := Config{SampleRateHz: 1000, Mapping: ChannelMapping{"a": 0}, Source: src}
	sc := StreamingConfig{ChunkSize: 10, MaxConcurrentChunks: 1}

	result := exec.StreamingDecode(ctx, dec, cfg, sc, nil)
	assert.Equal(t, ErrCancelled, result.Err)
	assert.NotEmpty(t, result.Annotations, "annotations flushed before the cut must not be discarded")
}

func TestStreamingExecutorRejectsConcurrentRuns(t *testing.T) {
	exec := NewStreamingExecutor()
	exec.busy = 1
	dec := &chunkCounter{}
	src := &constSource{n: 10}
	cfg := Config{SampleRateHz: 1000, Mapping: ChannelMapping{"a": 0}, Source: src}
	result := exec.StreamingDecode(context.Background(), dec, cfg, StreamingConfig{ChunkSize: 5}, nil)
	assert.Equal(t, ErrBusy, result.Err)
}
