// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     transcribe
// Description: Transcription orchestrator: window loop, batch, job files
// Author:      Mike Stoffels with Claude
// Created:     2026-07-10
// License:     MIT
// ============================================================================

// Package transcribe drives full transcriptions: it slides the model
// window across the input, runs decode-with-fallback per window, turns
// token streams into timed segments and accumulates the final
// transcript. Batch helpers decode independent chunks concurrently.
package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/msto63/mSW/internal/audio"
	"github.com/msto63/mSW/internal/decode"
	"github.com/msto63/mSW/internal/model"
	"github.com/msto63/mSW/internal/segment"
	"github.com/msto63/mSW/pkg/core/logging"
)

// windowPadding is the minimum leftover audio worth decoding: one second.
// A window loop stops when less than this remains.
const windowPadding = model.SampleRate

// TranscriptionResult is the final output of one transcription.
type TranscriptionResult struct {
	// Text is the full transcript, all segments concatenated.
	Text string

	// Segments are ordered by start time; ids are contiguous from 0.
	Segments []segment.Segment

	// Language is the detected or declared ISO 639-1 code.
	Language string

	// Duration is the input audio length in seconds.
	Duration float32

	// Timings carries the accumulated pipeline telemetry.
	Timings model.TranscriptionTimings
}

// AllWords flattens the word timings of every segment.
func (r *TranscriptionResult) AllWords() []segment.WordTiming {
	var words []segment.WordTiming
	for _, seg := range r.Segments {
		words = append(words, seg.Words...)
	}
	return words
}

// Callbacks carries the optional observer hooks of one transcription.
type Callbacks struct {
	// Progress receives per-step decoding progress; returning decode.Stop
	// ends the current window's decode early.
	Progress decode.ProgressFunc

	// SegmentDiscovery receives each window's surviving segments as they
	// are found.
	SegmentDiscovery func(segments []segment.Segment)
}

// TranscriberConfig wires the transcriber's collaborators.
type TranscriberConfig struct {
	// Model is the full collaborator set; all four parts are required.
	Model *model.Model

	// SamplerSeed fixes the stochastic sampling draws; zero keeps them
	// random.
	SamplerSeed int64

	Logger *logging.Logger
}

// Transcriber owns the outer per-window transcription loop.
type Transcriber struct {
	model   *model.Model
	engine  *decode.Engine
	seeker  *segment.Seeker
	aligner *segment.WordAligner
	log     *logging.Logger
}

// NewTranscriber builds the full pipeline on top of the given model.
func NewTranscriber(cfg TranscriberConfig) (*Transcriber, error) {
	if err := cfg.Model.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New("transcribe")
	}

	engine, err := decode.NewEngine(decode.EngineConfig{
		Decoder:     cfg.Model.TextDecoder,
		Tokenizer:   cfg.Model.Tokenizer,
		SamplerSeed: cfg.SamplerSeed,
	})
	if err != nil {
		return nil, err
	}
	seeker, err := segment.NewSeeker(segment.SeekerConfig{Tokenizer: cfg.Model.Tokenizer})
	if err != nil {
		return nil, err
	}
	aligner, err := segment.NewWordAligner(segment.WordAlignerConfig{Tokenizer: cfg.Model.Tokenizer})
	if err != nil {
		return nil, err
	}

	return &Transcriber{
		model:   cfg.Model,
		engine:  engine,
		seeker:  seeker,
		aligner: aligner,
		log:     log,
	}, nil
}

// Tokenizer returns the vocabulary the pipeline decodes with.
func (t *Transcriber) Tokenizer() model.Tokenizer {
	return t.model.Tokenizer
}

// Transcribe converts one audio sample array into a transcript.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, opts decode.Options) (*TranscriptionResult, error) {
	return t.TranscribeWithCallbacks(ctx, samples, opts, Callbacks{})
}

// TranscribeWithCallbacks is Transcribe with per-step and per-window
// observer hooks.
func (t *Transcriber) TranscribeWithCallbacks(ctx context.Context, samples []float32, opts decode.Options, cb Callbacks) (*TranscriptionResult, error) {
	return t.run(ctx, samples, opts, cb, &model.TranscriptionTimings{})
}

// TranscribeFile loads a WAV file and transcribes it.
func (t *Transcriber) TranscribeFile(ctx context.Context, path string, opts decode.Options) (*TranscriptionResult, error) {
	timings := &model.TranscriptionTimings{}

	loadStart := time.Now()
	samples, err := audio.LoadWAV(path)
	if err != nil {
		return nil, err
	}
	timings.AudioLoading = time.Since(loadStart)

	t.log.Info("audio file loaded",
		"file", path,
		"seconds", audio.Duration(len(samples), model.SampleRate))
	return t.run(ctx, samples, opts, Callbacks{}, timings)
}

// run is the orchestrator: for every seek clip it slides the model
// window over the audio, decodes it with the temperature ladder, cuts
// the token stream into segments and advances the seek cursor until
// less than one padding of audio remains.
func (t *Transcriber) run(ctx context.Context, samples []float32, opts decode.Options, cb Callbacks, timings *model.TranscriptionTimings) (*TranscriptionResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("transcription options: %w", err)
	}

	start := time.Now()
	windowSamples := t.model.FeatureExtractor.WindowSamples()
	inputs := model.NewDecodingInputs(t.model.TextDecoder.EmbedDim(), t.model.TextDecoder.MaxContext())

	var (
		allSegments []segment.Segment
		allTokens   []int
		language    string
	)

	runOpts := opts
	for _, clip := range seekClips(opts.ClipTimestamps, len(samples)) {
		seek := clip.start
		for clip.end-seek >= windowPadding {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", model.ErrCancelled, err)
			}

			segmentSize := clip.end - seek
			if segmentSize > windowSamples {
				segmentSize = windowSamples
			}

			padStart := time.Now()
			window := audio.PadOrTrim(samples[seek:seek+segmentSize], windowSamples)
			timings.AudioProcessing += time.Since(padStart)

			melStart := time.Now()
			features, err := t.model.FeatureExtractor.LogMelSpectrogram(ctx, window)
			timings.LogMels += time.Since(melStart)
			timings.TotalLogMelRuns++
			if err != nil {
				return nil, t.stageError(ctx, "log mel extraction", err)
			}

			encStart := time.Now()
			encoderOutput, err := t.model.AudioEncoder.EncodeFeatures(ctx, features)
			timings.Encoding += time.Since(encStart)
			timings.TotalEncodingRuns++
			if err != nil {
				return nil, t.stageError(ctx, "encoding", err)
			}

			result, err := t.engine.DecodeWithFallback(ctx, encoderOutput, inputs, runOpts, cb.Progress, timings)
			if err != nil {
				return nil, err
			}
			if language == "" {
				language = result.Language
			}
			if runOpts.Language == "" {
				// Later windows reuse the detected language instead of
				// re-running detection
				runOpts.Language = result.Language
			}

			windowStart := time.Now()
			newSeek, segments := t.seeker.FindSeekPointAndSegments(result, runOpts, seek, segmentSize, len(allSegments))

			timeOffset := float32(seek) / model.SampleRate
			if runOpts.WordTimestamps && len(segments) > 0 {
				segments = t.aligner.AddWordTimestamps(segments, result, result.Language, timeOffset, timings)
			}
			segments = dropEmptySegments(segments, len(allSegments))

			seek = nextSeek(newSeek, segments, runOpts.WordTimestamps)
			for _, seg := range segments {
				allTokens = append(allTokens, seg.Tokens...)
			}
			allSegments = append(allSegments, segments...)
			if cb.SegmentDiscovery != nil && len(segments) > 0 {
				cb.SegmentDiscovery(segments)
			}

			// Next window decodes from a fresh prompt; stale cache
			// columns are masked out by the reset
			inputs.InitialPrompt = nil
			inputs.Reset(0)

			timings.DecodingWindowing += time.Since(windowStart)
			timings.TotalDecodingWindows++
			t.log.Debug("window decoded",
				"seek", seek,
				"segments", len(segments),
				"temperature", result.Temperature,
				"language", result.Language)
		}
	}

	if language == "" {
		language = opts.Language
	}
	if language == "" {
		language = "en"
	}

	timings.FullPipeline = time.Since(start)
	result := &TranscriptionResult{
		Text:     t.model.Tokenizer.Decode(allTokens),
		Segments: allSegments,
		Language: language,
		Duration: audio.Duration(len(samples), model.SampleRate),
		Timings:  *timings,
	}

	t.log.Info("transcription finished",
		"segments", len(allSegments),
		"language", language,
		"audioSeconds", result.Duration,
		"windows", timings.TotalDecodingWindows)
	return result, nil
}

// stageError distinguishes cooperative cancellation from a stage failure.
func (t *Transcriber) stageError(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", model.ErrCancelled, ctxErr)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// nextSeek advances the cursor to the later of the seeker's position and
// the last aligned word's end, which is the more accurate boundary when
// word timestamps are on.
func nextSeek(newSeek int, segments []segment.Segment, wordTimestamps bool) int {
	if !wordTimestamps || len(segments) == 0 {
		return newSeek
	}
	words := segments[len(segments)-1].Words
	if len(words) == 0 {
		return newSeek
	}
	wordEnd := int(words[len(words)-1].End * model.SampleRate)
	if wordEnd > newSeek {
		return wordEnd
	}
	return newSeek
}

// dropEmptySegments removes zero-length segments and renumbers the rest
// so segment ids stay contiguous.
func dropEmptySegments(segments []segment.Segment, firstID int) []segment.Segment {
	kept := segments[:0]
	for _, seg := range segments {
		if seg.End <= seg.Start {
			continue
		}
		seg.ID = firstID + len(kept)
		kept = append(kept, seg)
	}
	return kept
}

// clipRange is one seek clip in samples.
type clipRange struct {
	start, end int
}

// seekClips converts the option's clip seconds into sample ranges,
// clamped to the input. No clips means the full input.
func seekClips(clips []float32, contentSamples int) []clipRange {
	if len(clips) == 0 {
		return []clipRange{{0, contentSamples}}
	}

	out := make([]clipRange, 0, (len(clips)+1)/2)
	for i := 0; i < len(clips); i += 2 {
		start := int(clips[i] * model.SampleRate)
		end := contentSamples
		if i+1 < len(clips) {
			end = int(clips[i+1] * model.SampleRate)
		}
		if start < 0 {
			start = 0
		}
		if end > contentSamples {
			end = contentSamples
		}
		if start < end {
			out = append(out, clipRange{start: start, end: end})
		}
	}
	return out
}
