package lanalyzer

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ChunkDecoder is the per-chunk hook a decoder supplies the Streaming
// Executor. Unlike Decoder.Execute, which runs a decoder to completion over
// a whole capture, ProcessChunk is called once per chunk and is expected to
// carry its own cross-chunk state internally (the executor does not
// snapshot or merge decoder state between chunks — spec.md §4.8).
type ChunkDecoder interface {
	ProcessChunk(chunk SampleSource, sampleRateHz uint64, opts OptionBindings, mapping ChannelMapping, chunkOffset uint64) ([]Annotation, error)
}

// StreamingConfig configures a StreamingExecutor run.
type StreamingConfig struct {
	ChunkSize            uint64
	ProcessingIntervalMs int
	MaxConcurrentChunks  int
	ProgressEnabled      bool
}

// Progress reports one chunk's completion. It is delivered from that chunk's
// goroutine as the chunk finishes, so reports arrive in completion order and,
// with MaxConcurrentChunks > 1, onProgress may be called concurrently.
type Progress struct {
	TotalSamples          uint64
	ProcessedSamples      uint64
	ProgressPercent       float64
	CurrentChunk          int
	TotalChunks           int
	ResultCount           int
	ProcessingSpeed       float64 // samples per second
	EstimatedTimeRemainMs float64
}

// StreamingStats summarizes a completed streaming_decode call.
type StreamingStats struct {
	TotalSamples      uint64
	TotalResults      int
	ProcessingTimeMs  float64
	AverageSpeed      float64
	ChunksProcessed   int
}

// StreamingResult is streaming_decode's return value.
type StreamingResult struct {
	OK          bool
	Annotations []Annotation
	Stats       StreamingStats
	Err         error
}

// StreamingExecutor chunks a sample source across bounded concurrency,
// enforcing at most one active decode per instance.
//
// ref: spec.md §4.8 (C8)
type StreamingExecutor struct {
	busy int32
}

// NewStreamingExecutor returns an idle StreamingExecutor.
func NewStreamingExecutor() *StreamingExecutor {
	return &StreamingExecutor{}
}

// chunkOverlap returns min(1000, chunkSize/10), the overlap spec.md §4.8
// mandates between consecutive chunks.
func chunkOverlap(chunkSize uint64) uint64 {
	o := chunkSize / 10
	if o > 1000 {
		return 1000
	}
	return o
}

type chunkSpan struct {
	offset uint64
	length uint64
}

func planChunks(totalSamples, chunkSize uint64) []chunkSpan {
	if chunkSize == 0 {
		return nil
	}
	overlap := chunkOverlap(chunkSize)
	var spans []chunkSpan
	var start uint64
	for start < totalSamples {
		length := chunkSize
		if start+length > totalSamples {
			length = totalSamples - start
		}
		spans = append(spans, chunkSpan{offset: start, length: length})
		if start+chunkSize >= totalSamples {
			break
		}
		start += chunkSize - overlap
	}
	return spans
}

// StreamingDecode chunks cfg.Source into StreamingConfig.ChunkSize-sample
// windows with cross-chunk overlap, dispatches up to
// StreamingConfig.MaxConcurrentChunks of them concurrently via dec, reports
// progress as each chunk completes, and returns the results sorted by
// StartSample. onProgress and ctx
// may be nil; a cancelled ctx stops further dispatch and causes
// StreamingDecode to return ErrCancelled, discarding any results from
// chunks that had not yet completed at the moment of cancellation.
func (e *StreamingExecutor) StreamingDecode(
	ctx context.Context,
	dec ChunkDecoder,
	cfg Config,
	sc StreamingConfig,
	onProgress func(Progress),
) StreamingResult {
	if !atomic.CompareAndSwapInt32(&e.busy, 0, 1) {
		return StreamingResult{Err: ErrBusy}
	}
	defer atomic.StoreInt32(&e.busy, 0)

	if ctx == nil {
		ctx = context.Background()
	}

	totalSamples := sourceTotalLen(cfg.Source, cfg.Mapping)
	spans := planChunks(totalSamples, sc.ChunkSize)
	totalChunks := len(spans)

	results := make([][]Annotation, totalChunks)
	errs := make([]error, totalChunks)

	concurrency := sc.MaxConcurrentChunks
	if concurrency < 1 {
		concurrency = 1
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(concurrency)

	start := time.Now()
	var processed uint64
	var mu sync.Mutex

	for i, span := range spans {
		i, span := i, span
		grp.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			window := NewWindowSampleSource(cfg.Source, span.offset, span.length)
			anns, err := dec.ProcessChunk(window, cfg.SampleRateHz, cfg.Options, cfg.Mapping, span.offset)
			results[i] = anns
			errs[i] = err

			mu.Lock()
			processed += span.length
			done := processed
			mu.Unlock()

			if sc.ProgressEnabled && onProgress != nil {
				elapsed := time.Since(start).Seconds()
				speed := 0.0
				if elapsed > 0 {
					speed = float64(done) / elapsed
				}
				remainMs := 0.0
				if speed > 0 {
					remainMs = float64(totalSamples-done) / speed * 1000
				}
				pct := 0.0
				if totalSamples > 0 {
					pct = float64(done) / float64(totalSamples) * 100
				}
				onProgress(Progress{
					TotalSamples:          totalSamples,
					ProcessedSamples:      done,
					ProgressPercent:        pct,
					CurrentChunk:          i + 1,
					TotalChunks:           totalChunks,
					ResultCount:           len(anns),
					ProcessingSpeed:       speed,
					EstimatedTimeRemainMs: remainMs,
				})
			}

			if sc.ProcessingIntervalMs > 0 {
				select {
				case <-time.After(time.Duration(sc.ProcessingIntervalMs) * time.Millisecond):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	waitErr := grp.Wait()
	elapsedMs := float64(time.Since(start).Milliseconds())

	// Chunks that completed before the cut already wrote their annotations
	// into results[i]; collect those regardless of waitErr so a cancelled or
	// failed run still returns its partial progress (errors.go: "whatever
	// annotations were flushed before the cut remain valid").
	var all []Annotation
	for _, r := range results {
		all = append(all, r...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].StartSample < all[j].StartSample })

	if waitErr != nil {
		return StreamingResult{Annotations: all, Err: ErrCancelled}
	}

	for _, err := range errs {
		if err != nil {
			return StreamingResult{Annotations: all, Err: err}
		}
	}

	avgSpeed := 0.0
	if elapsedMs > 0 {
		avgSpeed = float64(totalSamples) / (elapsedMs / 1000)
	}

	return StreamingResult{
		OK:          true,
		Annotations: all,
		Stats: StreamingStats{
			TotalSamples:     totalSamples,
			TotalResults:     len(all),
			ProcessingTimeMs: elapsedMs,
			AverageSpeed:     avgSpeed,
			ChunksProcessed:  totalChunks,
		},
	}
}

// sourceTotalLen returns the length of the longest channel mapped, the same
// notion of "stream length" Waiter.maxChannelLen uses.
func sourceTotalLen(src SampleSource, mapping ChannelMapping) uint64 {
	var max uint64
	for _, ch := range mapping {
		if l := src.Len(ch); l > max {
			max = l
		}
	}
	return max
}
