package decode

import (
	"math"
	"testing"

	"github.com/msto63/mSW/internal/model"
)

// filterSpecials is a compact token layout for grammar tests: text ids
// 0-9, special ids 10-19, timestamps 20-29.
func filterSpecials() model.SpecialTokens {
	return model.SpecialTokens{
		EndOfText:         10,
		StartOfTranscript: 11,
		LanguageBegin:     12,
		Languages:         3,
		Translate:         15,
		Transcribe:        16,
		StartOfPrev:       17,
		NoSpeech:          18,
		NoTimestamps:      19,
		TimeTokenBegin:    20,
		SpecialTokenBegin: 10,
		Whitespace:        5,
	}
}

func flatLogits(n int) []float32 {
	return make([]float32, n)
}

func checkSuppressed(t *testing.T, logits []float32, ids ...int) {
	t.Helper()
	for _, id := range ids {
		if !math.IsInf(float64(logits[id]), -1) {
			t.Errorf("logits[%d] = %v, want -Inf", id, logits[id])
		}
	}
}

func checkAlive(t *testing.T, logits []float32, ids ...int) {
	t.Helper()
	for _, id := range ids {
		if math.IsInf(float64(logits[id]), -1) {
			t.Errorf("logits[%d] suppressed, want finite", id)
		}
	}
}

func TestSuppressTokensFilter(t *testing.T) {
	f := NewSuppressTokensFilter([]int{2, 5, -1, 99})
	logits := f.Filter(flatLogits(10), []int{0, 1, 2})

	checkSuppressed(t, logits, 2, 5)
	checkAlive(t, logits, 0, 1, 3, 4, 6, 7, 8, 9)
}

func TestSuppressBlankFilter(t *testing.T) {
	tok := model.NewStubTokenizer()
	st := tok.SpecialTokens()
	f := NewSuppressBlankFilter(tok, 3)

	// At the first sampled position both whitespace and end-of-text are
	// blocked
	logits := f.Filter(flatLogits(st.EndOfText+1), []int{1, 2, 3})
	checkSuppressed(t, logits, st.Whitespace, st.EndOfText)

	// Later positions pass through untouched
	logits = f.Filter(flatLogits(st.EndOfText+1), []int{1, 2, 3, 4})
	checkAlive(t, logits, st.Whitespace, st.EndOfText)
}

func TestTimestampRulesFilter_NoTimestampsAlwaysSuppressed(t *testing.T) {
	st := filterSpecials()
	f := NewTimestampRulesFilter(st, 2, 0)

	logits := f.Filter(flatLogits(30), []int{11, 14, 21, 3})
	checkSuppressed(t, logits, st.NoTimestamps)
}

func TestTimestampRulesFilter_FirstSampleForcesTimestamp(t *testing.T) {
	st := filterSpecials()
	// 0.04s at 0.02s per token allows indices 0..2
	f := NewTimestampRulesFilter(st, 2, 0.04)

	logits := f.Filter(flatLogits(30), []int{11, 16})

	checkSuppressed(t, logits, 0, 5, 9, st.EndOfText, st.StartOfTranscript)
	checkAlive(t, logits, 20, 21, 22)
	checkSuppressed(t, logits, 23, 29)
}

func TestTimestampRulesFilter_FirstSampleUnbounded(t *testing.T) {
	st := filterSpecials()
	f := NewTimestampRulesFilter(st, 2, 0)

	logits := f.Filter(flatLogits(30), []int{11, 16})

	checkSuppressed(t, logits, 0, 9)
	checkAlive(t, logits, 20, 29)
}

func TestTimestampRulesFilter_ClosedPairForcesText(t *testing.T) {
	st := filterSpecials()
	f := NewTimestampRulesFilter(st, 2, 0)

	// Sampled suffix ends in a lone timestamp opening a segment; text
	// must follow
	logits := flatLogits(30)
	logits[3] = 5
	f.Filter(logits, []int{11, 16, 21})

	checkSuppressed(t, logits, 20, 29)
	checkAlive(t, logits, 3, 7)
}

func TestTimestampRulesFilter_OpenPairBlocksText(t *testing.T) {
	st := filterSpecials()
	f := NewTimestampRulesFilter(st, 2, 0)

	// After <|ts|> text <|ts|> the pair must close with a timestamp or
	// end-of-text; the closing timestamp may repeat the opening one
	logits := flatLogits(30)
	logits[st.EndOfText] = 5
	f.Filter(logits, []int{11, 16, 21, 3, 24})

	checkSuppressed(t, logits, 0, 9)
	checkAlive(t, logits, st.EndOfText)
	checkSuppressed(t, logits, 20, 23)
	checkAlive(t, logits, 24, 29)
}

func TestTimestampRulesFilter_NextOpeningMustAdvance(t *testing.T) {
	st := filterSpecials()
	f := NewTimestampRulesFilter(st, 2, 0)

	// A closed pair at <|24|>; the next opening timestamp has to move
	// past it
	logits := flatLogits(30)
	logits[7] = 5
	f.Filter(logits, []int{11, 16, 21, 3, 24, 24, 7})

	checkSuppressed(t, logits, 20, 24)
	checkAlive(t, logits, 25, 29)
	checkAlive(t, logits, 7)
}

func TestTimestampRulesFilter_ProbSumForcesTimestamp(t *testing.T) {
	st := filterSpecials()
	f := NewTimestampRulesFilter(st, 2, 0)

	// Timestamp mass outweighs the best text token, so text is cut off
	logits := flatLogits(30)
	for i := 22; i < 30; i++ {
		logits[i] = 2
	}
	f.Filter(logits, []int{11, 16, 21, 3})

	checkSuppressed(t, logits, 0, 9)
	checkAlive(t, logits, 22, 29)
}

func TestTimestampRulesFilter_ProbSumKeepsDominantText(t *testing.T) {
	st := filterSpecials()
	f := NewTimestampRulesFilter(st, 2, 0)

	logits := flatLogits(30)
	logits[3] = 10
	for i := 22; i < 30; i++ {
		logits[i] = 2
	}
	f.Filter(logits, []int{11, 16, 21, 4})

	checkAlive(t, logits, 3)
}

func TestLanguageFilter(t *testing.T) {
	st := filterSpecials()
	f := NewLanguageFilter(st, 1)

	logits := f.Filter(flatLogits(30), []int{11})
	checkAlive(t, logits, 12, 13, 14)
	checkSuppressed(t, logits, 0, 11)
	checkSuppressed(t, logits, 15, 29)

	// Only the detection position is filtered
	logits = f.Filter(flatLogits(30), []int{11, 12})
	checkAlive(t, logits, 0, 29)
}

func TestLogSumExp(t *testing.T) {
	got := logSumExp([]float64{math.Log(0.25), math.Log(0.25)})
	if math.Abs(got-math.Log(0.5)) > 1e-9 {
		t.Errorf("logSumExp = %v, want %v", got, math.Log(0.5))
	}

	if got := logSumExp(nil); !math.IsInf(got, -1) {
		t.Errorf("logSumExp(nil) = %v, want -Inf", got)
	}
	if got := logSumExp([]float64{math.Inf(-1), math.Inf(-1)}); !math.IsInf(got, -1) {
		t.Errorf("logSumExp(all -Inf) = %v, want -Inf", got)
	}
}

func BenchmarkTimestampRulesFilter(b *testing.B) {
	st := model.MultilingualTokens()
	f := NewTimestampRulesFilter(st, 3, 1.0)
	tokens := []int{st.StartOfTranscript, st.LanguageBegin, st.Transcribe, st.TimeTokenBegin, 1000}
	logits := make([]float32, 51865)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range logits {
			logits[j] = float32(j%89) / 89
		}
		f.Filter(logits, tokens)
	}
}
