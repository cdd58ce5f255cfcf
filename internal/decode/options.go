// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     decode
// Description: Decoding options and temperature ladder
// Author:      Mike Stoffels with Claude
// Created:     2026-07-04
// License:     MIT
// ============================================================================

package decode

import (
	"fmt"
	"strings"
)

// Task selects the decoding objective.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// Options is the immutable per-call decoding configuration. Threshold
// pointers are optional; nil disables the corresponding quality check.
type Options struct {
	// Task is transcribe or translate.
	Task Task

	// Language is the ISO 639-1 code of the spoken language. Empty enables
	// detection when DetectLanguage is set, otherwise English is assumed.
	Language string

	// Temperature is the base sampling temperature; 0 decodes greedily.
	Temperature float32

	// TemperatureIncrement and TemperatureFallbackCount define the
	// fallback ladder: fallbackCount+1 attempts in increment steps.
	TemperatureIncrement     float32
	TemperatureFallbackCount int

	// SampleLength bounds the decoding loop iterations per window.
	SampleLength int

	// TopK restricts stochastic sampling to the k most probable tokens.
	TopK int

	// UsePrefillPrompt forces the task prompt at the start of the decode.
	UsePrefillPrompt bool

	// DetectLanguage runs a language-detection pass before decoding when no
	// language is given and the model is multilingual.
	DetectLanguage bool

	// WithoutTimestamps suppresses timestamp token generation.
	WithoutTimestamps bool

	// WordTimestamps enables word-level alignment after segmentation.
	WordTimestamps bool

	// MaxInitialTimestamp bounds the first timestamp token, in seconds.
	// Values <= 0 leave the first timestamp unbounded.
	MaxInitialTimestamp float32

	// ClipTimestamps lists seek clip boundaries in seconds: start or
	// start,end pairs. Empty transcribes the full input.
	ClipTimestamps []float32

	// PromptTokens is previous-context injected before the transcript
	// start token.
	PromptTokens []int

	// SuppressBlank suppresses blank output on the first sampled token.
	SuppressBlank bool

	// SuppressTokens lists token ids suppressed at every step.
	SuppressTokens []int

	// Quality thresholds for the fallback verdict.
	CompressionRatioThreshold  *float32
	LogProbThreshold           *float32
	FirstTokenLogProbThreshold *float32
	NoSpeechThreshold          *float32
}

// DefaultOptions returns the decoding configuration of the released models.
func DefaultOptions() Options {
	return Options{
		Task:                       TaskTranscribe,
		Temperature:                0,
		TemperatureIncrement:       0.2,
		TemperatureFallbackCount:   5,
		SampleLength:               224,
		TopK:                       5,
		UsePrefillPrompt:           true,
		SuppressBlank:              true,
		MaxInitialTimestamp:        1.0,
		CompressionRatioThreshold:  Float32(2.4),
		LogProbThreshold:           Float32(-1.0),
		FirstTokenLogProbThreshold: Float32(-1.5),
		NoSpeechThreshold:          Float32(0.6),
	}
}

// Float32 returns a pointer to v, for the optional threshold fields.
func Float32(v float32) *float32 { return &v }

// Validate checks the option invariants.
func (o Options) Validate() error {
	if o.Task != TaskTranscribe && o.Task != TaskTranslate {
		return fmt.Errorf("invalid task %q", o.Task)
	}
	if o.Temperature < 0 {
		return fmt.Errorf("temperature %v must not be negative", o.Temperature)
	}
	if o.TemperatureFallbackCount < 0 {
		return fmt.Errorf("temperature fallback count %d must not be negative", o.TemperatureFallbackCount)
	}
	if o.TemperatureIncrement < 0 {
		return fmt.Errorf("temperature increment %v must not be negative", o.TemperatureIncrement)
	}
	if o.SampleLength < 1 {
		return fmt.Errorf("sample length %d must be positive", o.SampleLength)
	}
	if o.TopK < 1 {
		return fmt.Errorf("top-k %d must be positive", o.TopK)
	}
	// Clips are start,end pairs; a trailing start without end runs to the
	// end of the input.
	for i := 0; i+1 < len(o.ClipTimestamps); i += 2 {
		if o.ClipTimestamps[i] > o.ClipTimestamps[i+1] {
			return fmt.Errorf("clip start %v after clip end %v", o.ClipTimestamps[i], o.ClipTimestamps[i+1])
		}
	}
	return nil
}

// Temperatures builds the fallback ladder: the base temperature followed by
// TemperatureFallbackCount escalations.
func (o Options) Temperatures() []float32 {
	ladder := make([]float32, o.TemperatureFallbackCount+1)
	for i := range ladder {
		ladder[i] = o.Temperature + float32(i)*o.TemperatureIncrement
	}
	return ladder
}

// Signature renders the result-relevant option fields as a stable string,
// used for result cache keys.
func (o Options) Signature() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%s:t%.2f+%.2fx%d:l%d:k%d",
		o.Task, o.Language, o.Temperature, o.TemperatureIncrement,
		o.TemperatureFallbackCount, o.SampleLength, o.TopK)
	if o.WithoutTimestamps {
		b.WriteString(":nots")
	}
	if o.WordTimestamps {
		b.WriteString(":words")
	}
	if o.DetectLanguage {
		b.WriteString(":detect")
	}
	return b.String()
}
