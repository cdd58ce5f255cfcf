// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     vad
// Description: WebRTC voice activity detector
// Author:      Mike Stoffels with Claude
// Created:     2026-07-07
// License:     MIT
// ============================================================================

package vad

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// WebRTCDetector wraps the WebRTC voice activity detector. It is more
// robust against background noise than the energy detector and is used
// on the live transcription path.
type WebRTCDetector struct {
	vad        *webrtcvad.VAD
	sampleRate int
	mode       int
}

// NewWebRTCDetector creates a WebRTC detector for cfg.SampleRate. The
// aggressiveness mode is clamped to the valid 0-3 range.
func NewWebRTCDetector(cfg Config) (*WebRTCDetector, error) {
	switch cfg.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("webrtc vad: unsupported sample rate %d", cfg.SampleRate)
	}

	mode := cfg.Mode
	if mode < 0 {
		mode = 0
	}
	if mode > 3 {
		mode = 3
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", mode, err)
	}

	return &WebRTCDetector{
		vad:        v,
		sampleRate: cfg.SampleRate,
		mode:       mode,
	}, nil
}

// Process converts the samples to 16-bit PCM and runs detection.
func (w *WebRTCDetector) Process(samples []float32) (bool, error) {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		pcm[i] = int16(s * 32767)
	}
	return w.ProcessInt16(pcm)
}

// ProcessInt16 runs detection over the frame in 10 ms steps and reports
// speech when any step is active. Input shorter than one step is zero
// padded.
func (w *WebRTCDetector) ProcessInt16(samples []int16) (bool, error) {
	step := w.sampleRate / 100

	if len(samples) < step {
		padded := make([]int16, step)
		copy(padded, samples)
		samples = padded
	}

	for i := 0; i+step <= len(samples); i += step {
		active, err := w.vad.Process(w.sampleRate, pcmBytes(samples[i:i+step]))
		if err != nil {
			return false, fmt.Errorf("webrtc vad: %w", err)
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

// pcmBytes converts samples to little-endian bytes as the WebRTC VAD
// expects them.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Close implements Detector. The WebRTC VAD needs no explicit cleanup.
func (w *WebRTCDetector) Close() error { return nil }

// SetMode changes the aggressiveness mode (0-3).
func (w *WebRTCDetector) SetMode(mode int) error {
	if mode < 0 || mode > 3 {
		return fmt.Errorf("webrtc vad: mode %d out of range", mode)
	}
	if err := w.vad.SetMode(mode); err != nil {
		return fmt.Errorf("webrtc vad: %w", err)
	}
	w.mode = mode
	return nil
}

// Mode returns the current aggressiveness mode.
func (w *WebRTCDetector) Mode() int { return w.mode }

// SampleRate returns the rate the detector was created for.
func (w *WebRTCDetector) SampleRate() int { return w.sampleRate }
