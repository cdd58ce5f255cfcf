// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     decode
// Description: Logits filter pipeline for token suppression and the
//              timestamp grammar
// Author:      Mike Stoffels with Claude
// Created:     2026-07-04
// License:     MIT
// ============================================================================

package decode

import (
	"math"

	"github.com/msto63/mSW/internal/model"
)

var negInf = float32(math.Inf(-1))

// LogitsFilter suppresses disallowed tokens before sampling. Filters mutate
// the logits buffer in place and return it for chaining.
type LogitsFilter interface {
	Filter(logits []float32, tokens []int) []float32
}

// SuppressTokensFilter unconditionally suppresses a fixed token list.
type SuppressTokensFilter struct {
	tokens []int
}

func NewSuppressTokensFilter(tokens []int) *SuppressTokensFilter {
	return &SuppressTokensFilter{tokens: tokens}
}

func (f *SuppressTokensFilter) Filter(logits []float32, tokens []int) []float32 {
	for _, id := range f.tokens {
		if id >= 0 && id < len(logits) {
			logits[id] = negInf
		}
	}
	return logits
}

// SuppressBlankFilter suppresses blank output, but only on the very first
// sampled token.
type SuppressBlankFilter struct {
	suppress    []int
	sampleBegin int
}

// NewSuppressBlankFilter resolves the whitespace token through the
// tokenizer and suppresses it together with end-of-text at the first
// sampled position.
func NewSuppressBlankFilter(tokenizer model.Tokenizer, sampleBegin int) *SuppressBlankFilter {
	st := tokenizer.SpecialTokens()
	whitespace := st.Whitespace
	if id, ok := tokenizer.ConvertTokenToID(" "); ok {
		whitespace = id
	}
	return &SuppressBlankFilter{
		suppress:    []int{whitespace, st.EndOfText},
		sampleBegin: sampleBegin,
	}
}

func (f *SuppressBlankFilter) Filter(logits []float32, tokens []int) []float32 {
	if len(tokens) != f.sampleBegin {
		return logits
	}
	for _, id := range f.suppress {
		if id >= 0 && id < len(logits) {
			logits[id] = negInf
		}
	}
	return logits
}

// TimestampRulesFilter enforces the timestamp grammar over the sampled
// suffix of the token history:
//
//   - timestamps come in pairs, except directly before end-of-text
//   - timestamps never decrease
//   - the first sampled token is a timestamp, bounded by the maximum
//     initial timestamp
//   - when the summed timestamp probability outweighs every text token,
//     the next token must be a timestamp
type TimestampRulesFilter struct {
	special                  model.SpecialTokens
	sampleBegin              int
	maxInitialTimestampIndex int
}

// NewTimestampRulesFilter creates the grammar filter. maxInitialTimestamp
// is in seconds; values <= 0 leave the initial timestamp unbounded.
func NewTimestampRulesFilter(special model.SpecialTokens, sampleBegin int, maxInitialTimestamp float32) *TimestampRulesFilter {
	maxIndex := -1
	if maxInitialTimestamp > 0 {
		// Round instead of truncating; 1.0s must map to index 50 despite
		// 1.0/0.02 landing just below 50 in float arithmetic
		maxIndex = int(math.Round(float64(maxInitialTimestamp) / model.SecondsPerTimeToken))
	}
	return &TimestampRulesFilter{
		special:                  special,
		sampleBegin:              sampleBegin,
		maxInitialTimestampIndex: maxIndex,
	}
}

func (f *TimestampRulesFilter) Filter(logits []float32, tokens []int) []float32 {
	ttb := f.special.TimeTokenBegin

	// Timestamp generation is steered here, never by sampling the
	// no-timestamps token directly.
	if id := f.special.NoTimestamps; id >= 0 && id < len(logits) {
		logits[id] = negInf
	}

	var sampled []int
	if len(tokens) >= f.sampleBegin {
		sampled = tokens[f.sampleBegin:]
	}

	lastWasTimestamp := len(sampled) >= 1 && sampled[len(sampled)-1] >= ttb
	penultimateWasTimestamp := len(sampled) < 2 || sampled[len(sampled)-2] >= ttb

	if lastWasTimestamp {
		if penultimateWasTimestamp {
			// A closed pair: the next token has to be text
			fillRange(logits, ttb, len(logits), negInf)
		} else {
			// An open pair: the next token cannot be text
			fillRange(logits, 0, f.special.EndOfText, negInf)
		}
	}

	// Timestamps never decrease. A closing timestamp may repeat the
	// opening one, but the next opening timestamp must advance past the
	// closed pair so segments keep a nonzero length
	if last, ok := lastTimestamp(sampled, ttb); ok {
		limit := last + 1
		if lastWasTimestamp && !penultimateWasTimestamp {
			limit = last
		}
		fillRange(logits, ttb, limit, negInf)
	}

	if len(tokens) == f.sampleBegin {
		// The first sampled token is a timestamp
		fillRange(logits, 0, ttb, negInf)
		if f.maxInitialTimestampIndex >= 0 {
			lastAllowed := ttb + f.maxInitialTimestampIndex
			fillRange(logits, lastAllowed+1, len(logits), negInf)
		}
	}

	// When the total timestamp probability outweighs the best text token,
	// force a timestamp
	if ttb < len(logits) {
		logProbs := logSoftmax(logits)
		timestampLogProb := logSumExp(logProbs[ttb:])
		maxTextLogProb := math.Inf(-1)
		for _, lp := range logProbs[:ttb] {
			if lp > maxTextLogProb {
				maxTextLogProb = lp
			}
		}
		if timestampLogProb > maxTextLogProb {
			fillRange(logits, 0, ttb, negInf)
		}
	}

	return logits
}

// LanguageFilter restricts sampling to language tags, used by the
// language-detection pass.
type LanguageFilter struct {
	special     model.SpecialTokens
	sampleBegin int
}

func NewLanguageFilter(special model.SpecialTokens, sampleBegin int) *LanguageFilter {
	return &LanguageFilter{special: special, sampleBegin: sampleBegin}
}

func (f *LanguageFilter) Filter(logits []float32, tokens []int) []float32 {
	if len(tokens) != f.sampleBegin {
		return logits
	}
	for id := range logits {
		if !f.special.IsLanguage(id) {
			logits[id] = negInf
		}
	}
	return logits
}

func fillRange(logits []float32, from, to int, value float32) {
	if from < 0 {
		from = 0
	}
	if to > len(logits) {
		to = len(logits)
	}
	for i := from; i < to; i++ {
		logits[i] = value
	}
}

func lastTimestamp(sampled []int, timeTokenBegin int) (int, bool) {
	for i := len(sampled) - 1; i >= 0; i-- {
		if sampled[i] >= timeTokenBegin {
			return sampled[i], true
		}
	}
	return 0, false
}

// logSoftmax computes log probabilities in float64.
func logSoftmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - maxLogit))
	}
	logSum := math.Log(sum)
	for i, v := range logits {
		out[i] = float64(v-maxLogit) - logSum
	}
	return out
}

// logSumExp folds log probabilities into the log of their summed
// probability.
func logSumExp(logProbs []float64) float64 {
	if len(logProbs) == 0 {
		return math.Inf(-1)
	}
	maxLP := logProbs[0]
	for _, v := range logProbs[1:] {
		if v > maxLP {
			maxLP = v
		}
	}
	if math.IsInf(maxLP, -1) {
		return maxLP
	}
	var sum float64
	for _, v := range logProbs {
		sum += math.Exp(v - maxLP)
	}
	return maxLP + math.Log(sum)
}
