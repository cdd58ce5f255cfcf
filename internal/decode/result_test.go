package decode

import (
	"math"
	"testing"

	"github.com/msto63/mSW/internal/model"
)

func TestEvaluateFallback_Priority(t *testing.T) {
	opts := DefaultOptions()

	tests := []struct {
		name         string
		firstTooLow  bool
		noSpeechProb float32
		ratio        float32
		avgLogProb   float32
		wantReason   string
		wantNeeds    bool
		wantNil      bool
	}{
		{
			name:        "all thresholds breached",
			firstTooLow: true, noSpeechProb: 0.9, ratio: 5, avgLogProb: -3,
			wantReason: "firstTokenLogProbThreshold", wantNeeds: true,
		},
		{
			name:         "silence wins over quality checks",
			noSpeechProb: 0.9, ratio: 5, avgLogProb: -3,
			wantReason: "silence", wantNeeds: false,
		},
		{
			name:  "repetition before low confidence",
			ratio: 5, avgLogProb: -3,
			wantReason: "compressionRatioThreshold", wantNeeds: true,
		},
		{
			name:       "low confidence alone",
			avgLogProb: -3,
			wantReason: "logProbThreshold", wantNeeds: true,
		},
		{
			name:         "clean decode",
			noSpeechProb: 0.1, ratio: 1.2, avgLogProb: -0.3,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateFallback(opts, tt.firstTooLow, tt.noSpeechProb, tt.ratio, tt.avgLogProb)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("EvaluateFallback() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("EvaluateFallback() = nil, want verdict")
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if got.NeedsFallback != tt.wantNeeds {
				t.Errorf("NeedsFallback = %v, want %v", got.NeedsFallback, tt.wantNeeds)
			}
		})
	}
}

func TestEvaluateFallback_DisabledThresholds(t *testing.T) {
	// Nil thresholds switch the corresponding checks off entirely
	opts := DefaultOptions()
	opts.NoSpeechThreshold = nil
	opts.CompressionRatioThreshold = nil
	opts.LogProbThreshold = nil

	if got := EvaluateFallback(opts, false, 0.99, 100, -100); got != nil {
		t.Errorf("EvaluateFallback() = %+v, want nil", got)
	}
}

func TestCompressionRatio_Repetitive(t *testing.T) {
	tokens := make([]int, 100)
	for i := range tokens {
		tokens[i] = 7
	}

	ratio := CompressionRatio(tokens)
	if ratio <= 2.4 {
		t.Errorf("CompressionRatio(repetitive) = %v, want > 2.4", ratio)
	}
}

func TestCompressionRatio_Varied(t *testing.T) {
	tokens := make([]int, 100)
	for i := range tokens {
		tokens[i] = (i*7919 + 13) % 50000
	}

	ratio := CompressionRatio(tokens)
	if ratio > 2.4 {
		t.Errorf("CompressionRatio(varied) = %v, want <= 2.4", ratio)
	}
}

func TestCompressionRatio_Empty(t *testing.T) {
	if got := CompressionRatio(nil); !math.IsInf(float64(got), 1) {
		t.Errorf("CompressionRatio(nil) = %v, want +Inf", got)
	}
}

func TestTextTokens(t *testing.T) {
	st := model.MultilingualTokens()
	in := []int{st.StartOfTranscript, 1000, st.TimeTokenBegin, 1001, st.EndOfText}

	got := textTokens(in, st)
	if len(got) != 2 || got[0] != 1000 || got[1] != 1001 {
		t.Errorf("textTokens() = %v, want [1000 1001]", got)
	}
}

func BenchmarkCompressionRatio(b *testing.B) {
	tokens := make([]int, 200)
	for i := range tokens {
		tokens[i] = (i * 31) % 1000
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CompressionRatio(tokens)
	}
}
