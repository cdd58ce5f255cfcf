// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     segment
// Description: Word-level timestamp alignment over token attention
//              weights via dynamic time warping
// Author:      Mike Stoffels with Claude
// Created:     2026-07-09
// License:     MIT
// ============================================================================

package segment

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/msto63/mSW/internal/decode"
	"github.com/msto63/mSW/internal/model"
	"github.com/msto63/mSW/pkg/core/logging"
)

const (
	prependPunctuations = "\"'“¿([{-"
	appendPunctuations  = "\"'.。,，!！?？:：”)]}、"

	// maxWordDurationMedian bounds the median used for duration capping,
	// so a single window of slow speech cannot stretch the cap past
	// 2 x 0.7s.
	maxWordDurationMedian = 0.7
)

// noSpaceLanguages write without spaces between words; their token
// stream is split at every decodable unicode boundary instead.
var noSpaceLanguages = map[string]bool{
	"zh": true, "ja": true, "th": true, "lo": true, "my": true, "yue": true,
}

// WordAlignerConfig wires the aligner's collaborators.
type WordAlignerConfig struct {
	// Tokenizer is required for per-token surface forms.
	Tokenizer model.Tokenizer

	// Logger defaults to a component logger named "segment".
	Logger *logging.Logger
}

// WordAligner maps the decoder's per-token attention rows onto word
// boundaries, producing word-level timestamps.
type WordAligner struct {
	tokenizer model.Tokenizer
	special   model.SpecialTokens
	log       *logging.Logger
}

// NewWordAligner creates a word aligner.
func NewWordAligner(cfg WordAlignerConfig) (*WordAligner, error) {
	if cfg.Tokenizer == nil {
		return nil, model.ErrTokenizerUnavailable
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New("segment")
	}
	return &WordAligner{
		tokenizer: cfg.Tokenizer,
		special:   cfg.Tokenizer.SpecialTokens(),
		log:       log,
	}, nil
}

// AddWordTimestamps aligns the window's attention rows to words and
// distributes the resulting timings over the segments. Segments pass
// through unchanged when the result carries no alignment rows.
func (a *WordAligner) AddWordTimestamps(segments []Segment, result *decode.Result, language string, timeOffset float32, timings *model.TranscriptionTimings) []Segment {
	if len(segments) == 0 {
		return segments
	}
	if len(result.Alignment) == 0 {
		a.log.Debug("no alignment rows in result, skipping word timestamps")
		return segments
	}
	start := time.Now()

	words := a.alignWords(result, language, timeOffset)
	if timings != nil {
		timings.WordTimestamps += time.Since(start)
		timings.TotalWordAlignmentRuns++
	}
	if len(words) == 0 {
		return segments
	}

	wi := 0
	for si := range segments {
		var segWords []WordTiming
		for wi < len(words) {
			mid := (words[wi].Start + words[wi].End) / 2
			if si < len(segments)-1 && mid >= segments[si].End {
				break
			}
			segWords = append(segWords, words[wi])
			wi++
		}
		segments[si].Words = segWords
	}
	return segments
}

// alignWords runs the full alignment pipeline: select text tokens and
// their attention rows, warp tokens onto frames, split into words, merge
// punctuation and cap runaway durations.
func (a *WordAligner) alignWords(result *decode.Result, language string, timeOffset float32) []WordTiming {
	rows := len(result.Alignment)
	begin := result.SampleBegin
	if begin < 0 || begin+rows > len(result.Tokens) {
		return nil
	}

	// One attention row per committed sampled token; keep the text rows
	var (
		matrix   [][]float32
		tokens   []int
		logProbs []float32
	)
	for i := 0; i < rows; i++ {
		tok := result.Tokens[begin+i]
		if tok >= a.special.SpecialTokenBegin {
			continue
		}
		matrix = append(matrix, result.Alignment[i])
		tokens = append(tokens, tok)
		logProbs = append(logProbs, result.LogProbs[begin+i])
	}
	if len(matrix) == 0 {
		return nil
	}

	textIndices, timeIndices := dynamicTimeWarp(matrix)

	// The first frame of each token on the warping path
	tokenFrames := make([]int, len(tokens))
	prev := -1
	for k := range textIndices {
		if textIndices[k] != prev {
			tokenFrames[textIndices[k]] = timeIndices[k]
			prev = textIndices[k]
		}
	}

	frames := len(matrix[0])
	tokenStart := make([]float32, len(tokens))
	tokenEnd := make([]float32, len(tokens))
	for i := range tokens {
		tokenStart[i] = float32(tokenFrames[i]) * float32(model.SecondsPerTimeToken)
		if i+1 < len(tokens) {
			tokenEnd[i] = float32(tokenFrames[i+1]) * float32(model.SecondsPerTimeToken)
		} else {
			tokenEnd[i] = float32(frames) * float32(model.SecondsPerTimeToken)
		}
	}

	spans := a.splitToWordTokens(tokens, language)

	words := make([]WordTiming, 0, len(spans))
	for _, span := range spans {
		if span.first > span.last {
			continue
		}
		var sumLP float64
		for i := span.first; i <= span.last; i++ {
			sumLP += float64(logProbs[i])
		}
		count := span.last - span.first + 1
		words = append(words, WordTiming{
			Word:        span.word,
			Tokens:      append([]int(nil), tokens[span.first:span.last+1]...),
			Start:       timeOffset + tokenStart[span.first],
			End:         timeOffset + tokenEnd[span.last],
			Probability: float32(math.Exp(sumLP / float64(count))),
		})
	}

	words = mergePunctuations(words)
	capWordDurations(words)
	return words
}

// tokenSpan is a word candidate: its surface and the inclusive token
// index range it was decoded from.
type tokenSpan struct {
	word  string
	first int
	last  int
}

func (a *WordAligner) splitToWordTokens(tokens []int, language string) []tokenSpan {
	spans := a.splitTokensOnUnicode(tokens)
	if noSpaceLanguages[language] {
		return spans
	}
	return mergeSpansOnSpaces(spans)
}

// splitTokensOnUnicode accumulates tokens until they decode to a valid
// unicode surface, so multi-token code points stay in one span.
func (a *WordAligner) splitTokensOnUnicode(tokens []int) []tokenSpan {
	var spans []tokenSpan
	start := 0
	for i := range tokens {
		decoded := a.tokenizer.Decode(tokens[start : i+1])
		if decoded == "" || strings.ContainsRune(decoded, utf8.RuneError) {
			continue
		}
		spans = append(spans, tokenSpan{word: decoded, first: start, last: i})
		start = i + 1
	}
	if start < len(tokens) {
		spans = append(spans, tokenSpan{
			word:  a.tokenizer.Decode(tokens[start:]),
			first: start,
			last:  len(tokens) - 1,
		})
	}
	return spans
}

// mergeSpansOnSpaces joins subword spans into space-delimited words: a
// span starts a new word when it begins with a space or is pure
// punctuation.
func mergeSpansOnSpaces(spans []tokenSpan) []tokenSpan {
	var words []tokenSpan
	for _, span := range spans {
		startsNew := strings.HasPrefix(span.word, " ") ||
			isPunctuation(strings.TrimSpace(span.word)) ||
			len(words) == 0
		if startsNew {
			words = append(words, span)
			continue
		}
		last := &words[len(words)-1]
		last.word += span.word
		last.last = span.last
	}
	return words
}

func isPunctuation(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

// mergePunctuations folds opening punctuation into the following word
// and closing punctuation into the preceding one.
func mergePunctuations(words []WordTiming) []WordTiming {
	// Prepended: walk backwards so chains like `¿"` collapse fully
	i, j := len(words)-2, len(words)-1
	for i >= 0 {
		prev := &words[i]
		foll := &words[j]
		trimmed := strings.TrimSpace(prev.Word)
		if strings.HasPrefix(prev.Word, " ") && trimmed != "" && strings.Contains(prependPunctuations, trimmed) {
			foll.Word = prev.Word + foll.Word
			foll.Tokens = append(append([]int(nil), prev.Tokens...), foll.Tokens...)
			foll.Start = prev.Start
			prev.Word = ""
			prev.Tokens = nil
		} else {
			j = i
		}
		i--
	}

	// Appended: walk forwards
	i, j = 0, 1
	for j < len(words) {
		prev := &words[i]
		foll := &words[j]
		trimmed := strings.TrimSpace(foll.Word)
		if !strings.HasSuffix(prev.Word, " ") && prev.Word != "" && trimmed != "" && strings.Contains(appendPunctuations, trimmed) {
			prev.Word += foll.Word
			prev.Tokens = append(prev.Tokens, foll.Tokens...)
			prev.End = foll.End
			foll.Word = ""
			foll.Tokens = nil
		} else {
			i = j
		}
		j++
	}

	out := words[:0]
	for _, w := range words {
		if w.Word != "" {
			out = append(out, w)
		}
	}
	return out
}

// capWordDurations truncates words that run past twice the median word
// duration. Capping is stable: a second pass changes nothing.
func capWordDurations(words []WordTiming) {
	var durations []float64
	for i := range words {
		if d := words[i].Duration(); d > 0 {
			durations = append(durations, float64(d))
		}
	}
	if len(durations) == 0 {
		return
	}
	sort.Float64s(durations)
	median := durations[len(durations)/2]
	if median > maxWordDurationMedian {
		median = maxWordDurationMedian
	}
	maxDuration := float32(2 * median)
	for i := range words {
		if words[i].Duration() > maxDuration {
			words[i].End = words[i].Start + maxDuration
		}
	}
}

// dynamicTimeWarp finds the minimum-cost monotonic path through the
// attention matrix, maximizing the attended weight. It returns the text
// and time index of every path step in forward order.
func dynamicTimeWarp(matrix [][]float32) (textIndices, timeIndices []int) {
	n := len(matrix)
	m := len(matrix[0])

	inf := math.Inf(1)
	cost := make([][]float64, n+1)
	trace := make([][]int8, n+1)
	for i := 0; i <= n; i++ {
		cost[i] = make([]float64, m+1)
		trace[i] = make([]int8, m+1)
		for j := 0; j <= m; j++ {
			cost[i][j] = inf
		}
		trace[i][0] = 1
	}
	for j := 0; j <= m; j++ {
		trace[0][j] = 2
	}
	cost[0][0] = 0

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			c0 := cost[i-1][j-1]
			c1 := cost[i-1][j]
			c2 := cost[i][j-1]

			best, dir := c0, int8(0)
			if c1 < best {
				best, dir = c1, 1
			}
			if c2 < best {
				best, dir = c2, 2
			}
			cost[i][j] = -float64(matrix[i-1][j-1]) + best
			trace[i][j] = dir
		}
	}

	i, j := n, m
	for i > 0 || j > 0 {
		textIndices = append(textIndices, i-1)
		timeIndices = append(timeIndices, j-1)
		switch trace[i][j] {
		case 0:
			i--
			j--
		case 1:
			i--
		default:
			j--
		}
	}

	reverseInts(textIndices)
	reverseInts(timeIndices)
	return textIndices, timeIndices
}

func reverseInts(s []int) {
	for a, b := 0, len(s)-1; a < b; a, b = a+1, b-1 {
		s[a], s[b] = s[b], s[a]
	}
}
