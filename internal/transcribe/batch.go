// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     transcribe
// Description: Concurrent chunk transcription with a bounded worker pool
// Author:      Mike Stoffels with Claude
// Created:     2026-07-11
// License:     MIT
// ============================================================================

package transcribe

import (
	"context"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/msto63/mSW/internal/decode"
	"github.com/msto63/mSW/internal/model"
	"github.com/msto63/mSW/internal/segment"
	"github.com/msto63/mSW/internal/vad"
)

// DefaultWorkerCount sizes the chunk pool by physical cores, since the
// decode hot path is compute bound and gains nothing from SMT siblings.
func DefaultWorkerCount() int {
	count, err := cpu.Counts(false)
	if err != nil || count < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return count
}

// TranscribeChunks decodes independent audio chunks concurrently with a
// bounded worker pool and returns the results in chunk order, each
// shifted to its chunk's position in the original audio. The model
// collaborators must tolerate concurrent Predict and encode calls.
//
// The first chunk error cancels the remaining work and is returned.
func (t *Transcriber) TranscribeChunks(ctx context.Context, chunks []vad.Chunk, opts decode.Options, workers int) ([]*TranscriptionResult, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = DefaultWorkerCount()
	}
	if workers > len(chunks) {
		workers = len(chunks)
	}
	t.log.Debug("chunk pool started", "chunks", len(chunks), "workers", workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type job struct {
		index int
		chunk vad.Chunk
	}
	jobs := make(chan job)
	results := make([]*TranscriptionResult, len(chunks))
	errs := make([]error, len(chunks))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res, err := t.Transcribe(ctx, j.chunk.Samples, opts)
				if err != nil {
					errs[j.index] = err
					cancel()
					continue
				}
				shiftResult(res, j.chunk.Offset)
				results[j.index] = res
			}
		}()
	}
	for i, chunk := range chunks {
		jobs <- job{index: i, chunk: chunk}
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// TranscribeLong splits long audio at silence boundaries and decodes the
// chunks concurrently. Audio that fits a single model window skips the
// splitter entirely.
func (t *Transcriber) TranscribeLong(ctx context.Context, samples []float32, opts decode.Options, workers int) (*TranscriptionResult, error) {
	windowSamples := t.model.FeatureExtractor.WindowSamples()
	if len(samples) <= windowSamples {
		return t.Transcribe(ctx, samples, opts)
	}

	chunker := vad.NewChunker(vad.ChunkerConfig{Logger: t.log})
	chunks, err := chunker.Split(samples, windowSamples)
	if err != nil {
		return nil, err
	}

	results, err := t.TranscribeChunks(ctx, chunks, opts, workers)
	if err != nil {
		return nil, err
	}
	return mergeResults(results, len(samples)), nil
}

// shiftResult moves a chunk-local result to its absolute position in the
// original audio.
func shiftResult(res *TranscriptionResult, offsetSamples int) {
	offsetSeconds := float32(offsetSamples) / model.SampleRate
	for i := range res.Segments {
		seg := &res.Segments[i]
		seg.Seek += offsetSamples
		seg.Start += offsetSeconds
		seg.End += offsetSeconds
		for w := range seg.Words {
			seg.Words[w].Start += offsetSeconds
			seg.Words[w].End += offsetSeconds
		}
	}
}

// mergeResults concatenates ordered chunk results into one transcript.
func mergeResults(results []*TranscriptionResult, totalSamples int) *TranscriptionResult {
	merged := &TranscriptionResult{
		Duration: float32(totalSamples) / model.SampleRate,
	}

	var segments []segment.Segment
	for _, res := range results {
		if res == nil {
			continue
		}
		merged.Text += res.Text
		if merged.Language == "" {
			merged.Language = res.Language
		}
		merged.Timings.Merge(&res.Timings)
		segments = append(segments, res.Segments...)
	}
	for i := range segments {
		segments[i].ID = i
	}
	merged.Segments = segments
	return merged
}
