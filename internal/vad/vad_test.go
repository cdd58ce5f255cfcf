package vad

import (
	"testing"
	"time"
)

func speechSamples(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 0.5
		} else {
			out[i] = -0.5
		}
	}
	return out
}

func TestEnergyDetector_Process(t *testing.T) {
	d := NewEnergyDetector(0.02)

	tests := []struct {
		name    string
		samples []float32
		want    bool
	}{
		{"speech", speechSamples(160), true},
		{"silence", make([]float32, 160), false},
		{"quiet noise", func() []float32 {
			out := make([]float32, 160)
			for i := range out {
				out[i] = 0.01
			}
			return out
		}(), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Process(tt.samples)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Process() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnergyDetector_ProcessInt16(t *testing.T) {
	d := NewEnergyDetector(0.02)

	loud := make([]int16, 160)
	for i := range loud {
		if i%2 == 0 {
			loud[i] = 16000
		} else {
			loud[i] = -16000
		}
	}
	got, err := d.ProcessInt16(loud)
	if err != nil {
		t.Fatalf("ProcessInt16() error = %v", err)
	}
	if !got {
		t.Error("ProcessInt16(loud) = false, want true")
	}

	got, err = d.ProcessInt16(make([]int16, 160))
	if err != nil {
		t.Fatalf("ProcessInt16() error = %v", err)
	}
	if got {
		t.Error("ProcessInt16(silence) = true, want false")
	}
}

func TestEnergyDetector_DefaultThreshold(t *testing.T) {
	d := NewEnergyDetector(0)
	quiet := make([]float32, 160)
	for i := range quiet {
		quiet[i] = 0.005
	}
	got, err := d.Process(quiet)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got {
		t.Error("Process(quiet) = true, want false with default threshold")
	}
}

func TestSpeechTracker_EndsUtteranceAfterSilence(t *testing.T) {
	tr := NewSpeechTracker(DefaultConfig())
	frame := 100 * time.Millisecond

	for i := 0; i < 5; i++ {
		tr.Update(true, frame)
	}
	state := tr.State()
	if !state.IsSpeaking {
		t.Error("IsSpeaking = false during speech, want true")
	}
	if state.SpeechDuration != 500*time.Millisecond {
		t.Errorf("SpeechDuration = %v, want 500ms", state.SpeechDuration)
	}

	for i := 0; i < 6; i++ {
		tr.Update(false, frame)
	}
	if tr.ShouldEndUtterance() {
		t.Error("ShouldEndUtterance() = true at 600ms silence, want false")
	}

	state = tr.Update(false, frame)
	if !tr.ShouldEndUtterance() {
		t.Error("ShouldEndUtterance() = false at 700ms silence, want true")
	}
	if state.IsSpeaking {
		t.Error("IsSpeaking = true after silence threshold, want false")
	}
}

func TestSpeechTracker_ShortBlipIsInvalid(t *testing.T) {
	tr := NewSpeechTracker(DefaultConfig())
	frame := 100 * time.Millisecond

	tr.Update(true, frame)
	tr.Update(true, frame)
	for i := 0; i < 7; i++ {
		tr.Update(false, frame)
	}

	if tr.ShouldEndUtterance() {
		t.Error("ShouldEndUtterance() = true for 200ms blip, want false")
	}
	if tr.IsValidSpeech() {
		t.Error("IsValidSpeech() = true for 200ms blip, want false")
	}
	if tr.State().IsSpeaking {
		t.Error("IsSpeaking = true after blip faded, want false")
	}
}

func TestSpeechTracker_SilenceBeforeSpeechIgnored(t *testing.T) {
	tr := NewSpeechTracker(DefaultConfig())

	for i := 0; i < 20; i++ {
		tr.Update(false, 100*time.Millisecond)
	}
	state := tr.State()
	if state.SilenceDuration != 0 {
		t.Errorf("SilenceDuration = %v before any speech, want 0", state.SilenceDuration)
	}
	if tr.ShouldEndUtterance() {
		t.Error("ShouldEndUtterance() = true before any speech, want false")
	}
}

func TestSpeechTracker_SpeechClearsSilence(t *testing.T) {
	tr := NewSpeechTracker(DefaultConfig())
	frame := 100 * time.Millisecond

	tr.Update(true, frame)
	tr.Update(false, frame)
	tr.Update(false, frame)
	state := tr.Update(true, frame)

	if state.SilenceDuration != 0 {
		t.Errorf("SilenceDuration = %v after speech resumed, want 0", state.SilenceDuration)
	}
	if !state.IsSpeaking {
		t.Error("IsSpeaking = false after speech resumed, want true")
	}
}

func TestSpeechTracker_Reset(t *testing.T) {
	tr := NewSpeechTracker(DefaultConfig())
	frame := 100 * time.Millisecond

	for i := 0; i < 5; i++ {
		tr.Update(true, frame)
	}
	for i := 0; i < 8; i++ {
		tr.Update(false, frame)
	}
	tr.Reset()

	state := tr.State()
	if state.IsSpeaking || state.SpeechDuration != 0 || state.SilenceDuration != 0 {
		t.Errorf("State() after Reset = %+v, want zero", state)
	}
	if tr.ShouldEndUtterance() {
		t.Error("ShouldEndUtterance() = true after Reset, want false")
	}
}

func TestWebRTCDetector_InvalidSampleRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 44100
	if _, err := NewWebRTCDetector(cfg); err == nil {
		t.Error("NewWebRTCDetector(44100) error = nil, want error")
	}
}

func TestWebRTCDetector_ClampsMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = 9
	d, err := NewWebRTCDetector(cfg)
	if err != nil {
		t.Fatalf("NewWebRTCDetector() error = %v", err)
	}
	defer d.Close()
	if got := d.Mode(); got != 3 {
		t.Errorf("Mode() = %d, want 3", got)
	}

	cfg.Mode = -2
	d2, err := NewWebRTCDetector(cfg)
	if err != nil {
		t.Fatalf("NewWebRTCDetector() error = %v", err)
	}
	defer d2.Close()
	if got := d2.Mode(); got != 0 {
		t.Errorf("Mode() = %d, want 0", got)
	}
}

func TestWebRTCDetector_SetMode(t *testing.T) {
	d, err := NewWebRTCDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewWebRTCDetector() error = %v", err)
	}
	defer d.Close()

	if err := d.SetMode(4); err == nil {
		t.Error("SetMode(4) error = nil, want error")
	}
	if err := d.SetMode(1); err != nil {
		t.Errorf("SetMode(1) error = %v", err)
	}
	if got := d.Mode(); got != 1 {
		t.Errorf("Mode() = %d, want 1", got)
	}
}

func TestWebRTCDetector_SilenceOnZeros(t *testing.T) {
	d, err := NewWebRTCDetector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewWebRTCDetector() error = %v", err)
	}
	defer d.Close()

	got, err := d.Process(make([]float32, 1600))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got {
		t.Error("Process(zeros) = true, want false")
	}
}
