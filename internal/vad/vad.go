// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     vad
// Description: Voice activity detection, utterance endpointing, chunking
// Author:      Mike Stoffels with Claude
// Created:     2026-07-07
// License:     MIT
// ============================================================================

// Package vad decides where speech starts and stops. It provides a
// simple energy detector, a WebRTC-based detector, an utterance tracker
// for the live path and a chunker that splits long recordings at silence
// so every piece fits one model window.
package vad

import (
	"math"
	"time"

	"github.com/msto63/mSW/internal/model"
)

// Detector classifies audio frames as speech or silence.
type Detector interface {
	// Process reports whether the frame contains speech. Samples are
	// mono float32 in [-1, 1].
	Process(samples []float32) (bool, error)

	// ProcessInt16 reports whether the 16-bit PCM frame contains speech.
	ProcessInt16(samples []int16) (bool, error)

	// Close releases detector resources.
	Close() error
}

// Config holds detection and endpointing parameters.
type Config struct {
	// SampleRate of the incoming audio. WebRTC detection supports
	// 8000, 16000, 32000 and 48000 Hz.
	SampleRate int

	// Mode is the WebRTC aggressiveness (0-3, higher filters more).
	Mode int

	// EnergyThreshold is the RMS level above which a frame counts as
	// speech for the energy detector.
	EnergyThreshold float32

	// SilenceDuration is how much silence ends an utterance.
	SilenceDuration time.Duration

	// MinSpeechDuration is the shortest speech run worth transcribing.
	MinSpeechDuration time.Duration
}

// DefaultConfig returns endpointing parameters tuned for live
// transcription.
func DefaultConfig() Config {
	return Config{
		SampleRate:        model.SampleRate,
		Mode:              2,
		EnergyThreshold:   0.02,
		SilenceDuration:   700 * time.Millisecond,
		MinSpeechDuration: 300 * time.Millisecond,
	}
}

// EnergyDetector classifies frames by RMS energy. It has no external
// dependencies and is the default detector for chunking.
type EnergyDetector struct {
	threshold float32
}

// NewEnergyDetector creates an energy detector. Non-positive thresholds
// fall back to the default.
func NewEnergyDetector(threshold float32) *EnergyDetector {
	if threshold <= 0 {
		threshold = DefaultConfig().EnergyThreshold
	}
	return &EnergyDetector{threshold: threshold}
}

// Process reports whether the frame's RMS energy exceeds the threshold.
func (d *EnergyDetector) Process(samples []float32) (bool, error) {
	if len(samples) == 0 {
		return false, nil
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return rms > float64(d.threshold), nil
}

// ProcessInt16 reports speech for a 16-bit PCM frame.
func (d *EnergyDetector) ProcessInt16(samples []int16) (bool, error) {
	if len(samples) == 0 {
		return false, nil
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return rms > float64(d.threshold), nil
}

// Close implements Detector. Nothing to release.
func (d *EnergyDetector) Close() error { return nil }

// SpeechState is the tracker's view of the current utterance.
type SpeechState struct {
	// IsSpeaking is true from the first speech frame until silence has
	// lasted SilenceDuration.
	IsSpeaking bool

	// SpeechDuration is the accumulated speech time of the utterance.
	SpeechDuration time.Duration

	// SilenceDuration is the silence run since the last speech frame.
	SilenceDuration time.Duration
}

// SpeechTracker turns per-frame detector verdicts into utterance
// boundaries. It counts audio time, not wall time, so bursty frame
// delivery over the network does not distort endpointing.
type SpeechTracker struct {
	config        Config
	speechStarted bool
	state         SpeechState
}

// NewSpeechTracker creates a tracker with the given endpointing
// parameters.
func NewSpeechTracker(cfg Config) *SpeechTracker {
	return &SpeechTracker{config: cfg}
}

// Update advances the tracker by one analysed frame of the given audio
// duration and returns the new state.
func (t *SpeechTracker) Update(isSpeech bool, frame time.Duration) SpeechState {
	if isSpeech {
		t.speechStarted = true
		t.state.IsSpeaking = true
		t.state.SpeechDuration += frame
		t.state.SilenceDuration = 0
		return t.state
	}

	if t.speechStarted {
		t.state.SilenceDuration += frame
		if t.state.SilenceDuration >= t.config.SilenceDuration {
			t.state.IsSpeaking = false
		}
	}
	return t.state
}

// ShouldEndUtterance reports whether enough speech was followed by
// enough silence to close the utterance and hand it to the decoder.
func (t *SpeechTracker) ShouldEndUtterance() bool {
	return t.speechStarted &&
		t.state.SilenceDuration >= t.config.SilenceDuration &&
		t.state.SpeechDuration >= t.config.MinSpeechDuration
}

// IsValidSpeech reports whether the utterance carries enough speech to
// be worth transcribing. Short blips below MinSpeechDuration are
// discarded by the caller.
func (t *SpeechTracker) IsValidSpeech() bool {
	return t.state.SpeechDuration >= t.config.MinSpeechDuration
}

// Reset clears the tracker for the next utterance.
func (t *SpeechTracker) Reset() {
	t.speechStarted = false
	t.state = SpeechState{}
}

// State returns the current speech state.
func (t *SpeechTracker) State() SpeechState {
	return t.state
}
