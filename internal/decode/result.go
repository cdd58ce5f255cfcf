package decode

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/klauspost/compress/zlib"

	"github.com/msto63/mSW/internal/model"
)

// Fallback is the quality verdict of one decode attempt.
type Fallback struct {
	// NeedsFallback requests a retry at the next higher temperature.
	NeedsFallback bool

	// Reason names the failed threshold, or "silence".
	Reason string
}

// Result is the output of one decode attempt. Tokens span the transcript
// start token through the end token inclusive.
type Result struct {
	Language      string
	LanguageProbs map[string]float32

	Tokens   []int
	LogProbs []float32
	Text     string

	AvgLogProb       float32
	NoSpeechProb     float32
	Temperature      float32
	CompressionRatio float32

	// Alignment holds one cross-attention row per generated token, in
	// generation order, for word-level timing. Empty when the model does
	// not expose attention weights.
	Alignment [][]float32

	// SampleBegin is the index into Tokens of the first sampled token;
	// Alignment row i belongs to Tokens[SampleBegin+i].
	SampleBegin int

	// Fallback is nil when every quality check passed.
	Fallback *Fallback
}

// EvaluateFallback derives the quality verdict for one decode attempt.
// Checks run in priority order: first-token confidence beats everything,
// then silence (which suppresses the retry), then repetition, then average
// confidence. Nil means all checks passed.
func EvaluateFallback(opts Options, firstTokenLogProbTooLow bool, noSpeechProb, compressionRatio, avgLogProb float32) *Fallback {
	switch {
	case firstTokenLogProbTooLow:
		return &Fallback{NeedsFallback: true, Reason: "firstTokenLogProbThreshold"}
	case opts.NoSpeechThreshold != nil && noSpeechProb > *opts.NoSpeechThreshold:
		// Silence is not recoverable by reheating; the seeker skips the
		// window instead
		return &Fallback{NeedsFallback: false, Reason: "silence"}
	case opts.CompressionRatioThreshold != nil && compressionRatio > *opts.CompressionRatioThreshold:
		return &Fallback{NeedsFallback: true, Reason: "compressionRatioThreshold"}
	case opts.LogProbThreshold != nil && avgLogProb < *opts.LogProbThreshold:
		return &Fallback{NeedsFallback: true, Reason: "logProbThreshold"}
	default:
		return nil
	}
}

// CompressionRatio measures repetitiveness as the ratio of raw to
// zlib-compressed size of the token ids. Highly repetitive output
// compresses well and yields a high ratio. An empty sequence reports
// +Inf, so degenerate decodes fail the compression check.
func CompressionRatio(tokens []int) float32 {
	if len(tokens) == 0 {
		return float32(math.Inf(1))
	}

	raw := make([]byte, 0, len(tokens)*4)
	var scratch [4]byte
	for _, t := range tokens {
		binary.LittleEndian.PutUint32(scratch[:], uint32(int32(t)))
		raw = append(raw, scratch[:]...)
	}

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return float32(math.Inf(1))
	}
	if err := w.Close(); err != nil {
		return float32(math.Inf(1))
	}
	return float32(len(raw)) / float32(compressed.Len())
}

// textTokens filters a token sequence down to text vocabulary entries.
func textTokens(tokens []int, special model.SpecialTokens) []int {
	out := make([]int, 0, len(tokens))
	for _, t := range tokens {
		if !special.IsSpecial(t) {
			out = append(out, t)
		}
	}
	return out
}
