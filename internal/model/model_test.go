package model

import (
	"context"
	"errors"
	"testing"
)

func TestModel_Validate(t *testing.T) {
	complete := StubModel()
	if err := complete.Validate(); err != nil {
		t.Errorf("Validate() on complete model = %v, want nil", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Model)
		wantErr error
	}{
		{"missing extractor", func(m *Model) { m.FeatureExtractor = nil }, ErrModelUnavailable},
		{"missing encoder", func(m *Model) { m.AudioEncoder = nil }, ErrModelUnavailable},
		{"missing decoder", func(m *Model) { m.TextDecoder = nil }, ErrModelUnavailable},
		{"missing tokenizer", func(m *Model) { m.Tokenizer = nil }, ErrTokenizerUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := StubModel()
			tt.mutate(m)
			if err := m.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	var nilModel *Model
	if err := nilModel.Validate(); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("Validate() on nil model = %v, want ErrModelUnavailable", err)
	}
}

func TestValidatePrediction(t *testing.T) {
	good := &Prediction{
		Logits:      make([]float32, 10),
		KeyUpdate:   make([]float32, 4),
		ValueUpdate: make([]float32, 4),
	}
	if err := ValidatePrediction(good, 10, 4); err != nil {
		t.Errorf("ValidatePrediction() = %v, want nil", err)
	}

	tests := []struct {
		name string
		p    *Prediction
	}{
		{"nil prediction", nil},
		{"nil logits", &Prediction{KeyUpdate: make([]float32, 4), ValueUpdate: make([]float32, 4)}},
		{"short logits", &Prediction{Logits: make([]float32, 3), KeyUpdate: make([]float32, 4), ValueUpdate: make([]float32, 4)}},
		{"short key update", &Prediction{Logits: make([]float32, 10), KeyUpdate: make([]float32, 1), ValueUpdate: make([]float32, 4)}},
		{"missing value update", &Prediction{Logits: make([]float32, 10), KeyUpdate: make([]float32, 4)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidatePrediction(tt.p, 10, 4); !errors.Is(err, ErrLogitsDecodeFailed) {
				t.Errorf("ValidatePrediction() error = %v, want ErrLogitsDecodeFailed", err)
			}
		})
	}
}

func TestStubTextDecoder_Predict_FollowsScript(t *testing.T) {
	st := MultilingualTokens()
	script := StubScript{
		Marker: 0.5,
		Tokens: []int{st.StartOfTranscript, 50261, st.Transcribe, 1000, 1001, st.EndOfText},
	}
	dec := NewStubTextDecoder(script)

	enc := NewTensor(FramesPerWindow, stubEncoderDim)
	enc.Data[0] = 0.5

	for step := 0; step+1 < len(script.Tokens); step++ {
		p, err := dec.Predict(context.Background(), script.Tokens[step], step, nil, enc)
		if err != nil {
			t.Fatalf("Predict(step %d) error = %v", step, err)
		}
		if err := ValidatePrediction(p, dec.VocabSize(), dec.EmbedDim()); err != nil {
			t.Fatalf("prediction at step %d invalid: %v", step, err)
		}
		want := script.Tokens[step+1]
		best := argmax(p.Logits)
		if best != want {
			t.Errorf("step %d argmax = %d, want %d", step, best, want)
		}
	}
}

func TestStubTextDecoder_Predict_UnknownMarker(t *testing.T) {
	st := MultilingualTokens()
	dec := NewStubTextDecoder(StubScript{Marker: 0.5, Tokens: []int{st.StartOfTranscript, 1000}})

	enc := NewTensor(8, stubEncoderDim)
	enc.Data[0] = 0.9

	p, err := dec.Predict(context.Background(), st.StartOfTranscript, 0, nil, enc)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if best := argmax(p.Logits); best != st.EndOfText {
		t.Errorf("argmax = %d, want end-of-text for unmatched window", best)
	}
}

func TestStubTokenizer_Decode(t *testing.T) {
	tok := NewStubTokenizer()
	st := tok.SpecialTokens()

	got := tok.Decode([]int{st.StartOfTranscript, 1000, 1001, st.EndOfText})
	if got != " hallo welt" {
		t.Errorf("Decode() = %q, want %q", got, " hallo welt")
	}

	if got := tok.Decode(nil); got != "" {
		t.Errorf("Decode(nil) = %q, want empty", got)
	}
}

func TestStubTokenizer_ConvertTokenToID(t *testing.T) {
	tok := NewStubTokenizer()

	id, ok := tok.ConvertTokenToID(" ")
	if !ok || id != 220 {
		t.Errorf("ConvertTokenToID(\" \") = %d, %v, want 220, true", id, ok)
	}

	if _, ok := tok.ConvertTokenToID("nie gesehen"); ok {
		t.Error("ConvertTokenToID() should miss an unregistered surface")
	}
}

func TestStubFeatureExtractor_LogMelSpectrogram(t *testing.T) {
	e := NewStubFeatureExtractor()

	samples := make([]float32, WindowSamples)
	samples[0] = 0.25
	features, err := e.LogMelSpectrogram(context.Background(), samples)
	if err != nil {
		t.Fatalf("LogMelSpectrogram() error = %v", err)
	}
	if got := features.Dim(0); got != FramesPerWindow {
		t.Errorf("frames = %d, want %d", got, FramesPerWindow)
	}
	if features.Data[0] != 0.25 {
		t.Errorf("marker = %v, want 0.25", features.Data[0])
	}
}

func argmax(logits []float32) int {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}
