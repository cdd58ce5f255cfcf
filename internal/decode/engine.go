// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     decode
// Description: Autoregressive decoding loop with KV cache management
// Author:      Mike Stoffels with Claude
// Created:     2026-07-04
// License:     MIT
// ============================================================================

package decode

import (
	"context"
	"fmt"
	"time"

	"github.com/msto63/mSW/internal/model"
	"github.com/msto63/mSW/pkg/core/logging"
)

// Verdict is a progress callback's opinion on continuing the decode.
type Verdict int

const (
	// Continue keeps decoding.
	Continue Verdict = iota

	// Stop requests an early stop after the current step.
	Stop

	// NoOpinion defers to the engine, which keeps decoding.
	NoOpinion
)

// Progress reports one committed decoding step.
type Progress struct {
	// Text is the partial transcript decoded so far.
	Text string

	// TokenCount is the token history length including the prompt.
	TokenCount int

	AvgLogProb       float32
	CompressionRatio float32
}

// ProgressFunc receives per-step progress. Returning Stop ends the decode
// early; prefill steps cannot be stopped.
type ProgressFunc func(Progress) Verdict

// EngineConfig wires the decoding engine.
type EngineConfig struct {
	// Decoder and Tokenizer are required.
	Decoder   model.TextDecoder
	Tokenizer model.Tokenizer

	// Logger defaults to a component logger named "decode".
	Logger *logging.Logger

	// NewSampler overrides the sampler, defaulting to the greedy
	// temperature sampler.
	NewSampler func(temperature float32, topK, eotToken int) TokenSampler

	// SamplerSeed, when nonzero, seeds the stochastic draw for
	// reproducible fallback attempts.
	SamplerSeed int64
}

// Engine drives the autoregressive decoding loop over one encoded audio
// window. It owns all writes into the DecodingInputs caches and masks.
type Engine struct {
	decoder     model.TextDecoder
	tokenizer   model.Tokenizer
	log         *logging.Logger
	newSampler  func(temperature float32, topK, eotToken int) TokenSampler
	samplerSeed int64
}

// NewEngine creates a decoding engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("%w: text decoder missing", model.ErrModelUnavailable)
	}
	if cfg.Tokenizer == nil {
		return nil, model.ErrTokenizerUnavailable
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New("decode")
	}
	return &Engine{
		decoder:     cfg.Decoder,
		tokenizer:   cfg.Tokenizer,
		log:         log,
		newSampler:  cfg.NewSampler,
		samplerSeed: cfg.SamplerSeed,
	}, nil
}

// BuildPrompt assembles the forced decoder prompt for the given options:
// optional previous-window context, the transcript start token, language
// and task tags on multilingual models, and the no-timestamps marker.
func (e *Engine) BuildPrompt(opts Options) []int {
	st := e.tokenizer.SpecialTokens()

	if !opts.UsePrefillPrompt {
		return []int{st.StartOfTranscript}
	}

	prompt := make([]int, 0, len(opts.PromptTokens)+5)
	if len(opts.PromptTokens) > 0 {
		prev := opts.PromptTokens
		if max := e.decoder.MaxContext()/2 - 1; len(prev) > max {
			prev = prev[len(prev)-max:]
		}
		prompt = append(prompt, st.StartOfPrev)
		prompt = append(prompt, prev...)
	}
	prompt = append(prompt, st.StartOfTranscript)
	if e.decoder.IsMultilingual() {
		lang := opts.Language
		if lang == "" {
			lang = "en"
		}
		if id, ok := st.TokenForLanguage(lang); ok {
			prompt = append(prompt, id)
		}
		if opts.Task == TaskTranslate {
			prompt = append(prompt, st.Translate)
		} else {
			prompt = append(prompt, st.Transcribe)
		}
	}
	if opts.WithoutTimestamps {
		prompt = append(prompt, st.NoTimestamps)
	}
	return prompt
}

// DecodeText runs one full decode over an encoded window: predict, filter,
// sample per step, with targeted KV cache column writes for every committed
// step. The loop ends on the end-of-text token, an exhausted context, a
// failed first-token confidence check or an early stop from the progress
// callback.
func (e *Engine) DecodeText(ctx context.Context, encoderOutput *model.Tensor, inputs *model.DecodingInputs, opts Options, progress ProgressFunc, timings *model.TranscriptionTimings) (*Result, error) {
	loopStart := time.Now()
	st := e.tokenizer.SpecialTokens()

	prompt := inputs.InitialPrompt
	if len(prompt) == 0 {
		prompt = e.BuildPrompt(opts)
		inputs.InitialPrompt = prompt
	}
	sampleBegin := len(prompt)

	tokens := make([]int, sampleBegin, sampleBegin+opts.SampleLength+1)
	copy(tokens, prompt)
	logProbs := make([]float32, sampleBegin, sampleBegin+opts.SampleLength+1)

	sampler := e.makeSampler(opts)
	filters := e.buildFilters(opts, sampleBegin)

	loopEnd := opts.SampleLength
	if max := e.decoder.MaxContext() - 1; loopEnd > max {
		loopEnd = max
	}

	var (
		noSpeechProb     float32
		firstTokenTooLow bool
		completed        bool
		alignment        [][]float32
	)

	for t := inputs.PrefillLength; t < loopEnd && t < len(tokens); t++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrCancelled, err)
		}
		inputToken := tokens[t]

		predictStart := time.Now()
		p, err := e.decoder.Predict(ctx, inputToken, t, inputs, encoderOutput)
		if timings != nil {
			timings.DecodingPredictions += time.Since(predictStart)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: %w", model.ErrCancelled, ctxErr)
			}
			return nil, fmt.Errorf("predict at position %d: %w", t, err)
		}
		if err := model.ValidatePrediction(p, e.decoder.VocabSize(), e.decoder.EmbedDim()); err != nil {
			return nil, err
		}

		// Silence probability is scored from the raw logits at the
		// transcript start position, before any filter runs
		if inputToken == st.StartOfTranscript {
			noSpeechProb = softmaxProbAt(p.Logits, st.NoSpeech)
		}

		forced := t+1 < sampleBegin
		if !forced {
			filterStart := time.Now()
			logits := p.Logits
			for _, f := range filters {
				logits = f.Filter(logits, tokens)
			}
			if timings != nil {
				timings.DecodingFiltering += time.Since(filterStart)
			}

			sampleStart := time.Now()
			res := sampler.Update(tokens, logits, logProbs)
			tokens, logProbs, completed = res.Tokens, res.LogProbs, res.Completed
			if timings != nil {
				timings.DecodingSampling += time.Since(sampleStart)
			}

			if t == sampleBegin-1 && opts.FirstTokenLogProbThreshold != nil &&
				logProbs[sampleBegin] < *opts.FirstTokenLogProbThreshold {
				firstTokenTooLow = true
				completed = true
			}
		}

		if timings != nil {
			timings.TotalDecodingLoops++
		}
		if completed {
			// The terminal step's cache update is not committed
			break
		}

		kvStart := time.Now()
		if err := inputs.WriteCacheColumn(t, p.KeyUpdate, p.ValueUpdate); err != nil {
			return nil, err
		}
		inputs.AdvanceMasks(t)
		if timings != nil {
			timings.DecodingKVCaching += time.Since(kvStart)
			timings.TotalKVUpdateRuns++
		}

		if !forced {
			if len(p.Alignment) > 0 {
				alignment = append(alignment, append([]float32(nil), p.Alignment...))
			}
			if progress != nil {
				pr := Progress{
					Text:             e.tokenizer.Decode(tokens),
					TokenCount:       len(tokens),
					AvgLogProb:       averageLogProb(logProbs),
					CompressionRatio: CompressionRatio(textTokens(tokens, st)),
				}
				if progress(pr) == Stop {
					break
				}
			}
		}
	}

	final := sampler.Finalize(tokens, logProbs)
	tokens, logProbs = final.Tokens, final.LogProbs

	// Trim to the span from the transcript start token through the end
	// token, both inclusive
	start := 0
	if i := indexOfToken(tokens, st.StartOfTranscript); i >= 0 {
		start = i
	}
	end := len(tokens) - 1
	if i := indexOfToken(tokens, st.EndOfText); i >= 0 {
		end = i
	}
	trimmed := tokens[start : end+1]
	trimmedLP := logProbs[start : end+1]

	avg := averageLogProb(trimmedLP)
	ratio := CompressionRatio(textTokens(trimmed, st))

	result := &Result{
		Language:         e.resultLanguage(trimmed, opts, st),
		Tokens:           append([]int(nil), trimmed...),
		LogProbs:         append([]float32(nil), trimmedLP...),
		Text:             e.tokenizer.Decode(trimmed),
		AvgLogProb:       avg,
		NoSpeechProb:     noSpeechProb,
		Temperature:      opts.Temperature,
		CompressionRatio: ratio,
		Alignment:        alignment,
		SampleBegin:      sampleBegin - start,
		Fallback:         EvaluateFallback(opts, firstTokenTooLow, noSpeechProb, ratio, avg),
	}
	if timings != nil {
		timings.DecodingLoop += time.Since(loopStart)
	}
	return result, nil
}

// DetectLanguage runs a single filtered prediction over the encoded window
// and returns the most probable language code with the full language
// probability distribution. It commits nothing to the caches.
func (e *Engine) DetectLanguage(ctx context.Context, encoderOutput *model.Tensor, inputs *model.DecodingInputs) (string, map[string]float32, error) {
	if !e.decoder.IsMultilingual() {
		return "", nil, fmt.Errorf("language detection requires a multilingual model")
	}
	if err := ctx.Err(); err != nil {
		return "", nil, fmt.Errorf("%w: %w", model.ErrCancelled, err)
	}
	st := e.tokenizer.SpecialTokens()

	p, err := e.decoder.Predict(ctx, st.StartOfTranscript, inputs.PrefillLength, inputs, encoderOutput)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", nil, fmt.Errorf("%w: %w", model.ErrCancelled, ctxErr)
		}
		return "", nil, fmt.Errorf("language detection predict: %w", err)
	}
	if err := model.ValidatePrediction(p, e.decoder.VocabSize(), e.decoder.EmbedDim()); err != nil {
		return "", nil, err
	}

	filter := NewLanguageFilter(st, 1)
	logits := filter.Filter(p.Logits, []int{st.StartOfTranscript})

	best := argmax(logits)
	code, ok := st.LanguageForToken(best)
	if !ok {
		return "", nil, fmt.Errorf("%w: language detection picked token %d", model.ErrLogitsDecodeFailed, best)
	}

	probs := softmaxProbs(logits)
	langProbs := make(map[string]float32, st.Languages)
	for i := 0; i < st.Languages; i++ {
		id := st.LanguageBegin + i
		if id >= len(probs) {
			break
		}
		if lang, ok := st.LanguageForToken(id); ok {
			langProbs[lang] = float32(probs[id])
		}
	}
	e.log.Debug("language detected", "language", code, "probability", langProbs[code])
	return code, langProbs, nil
}

func (e *Engine) makeSampler(opts Options) TokenSampler {
	st := e.tokenizer.SpecialTokens()
	if e.newSampler != nil {
		return e.newSampler(opts.Temperature, opts.TopK, st.EndOfText)
	}
	s := NewGreedyTokenSampler(opts.Temperature, opts.TopK, st.EndOfText)
	if e.samplerSeed != 0 {
		s.Seed(e.samplerSeed)
	}
	return s
}

func (e *Engine) buildFilters(opts Options, sampleBegin int) []LogitsFilter {
	st := e.tokenizer.SpecialTokens()
	var filters []LogitsFilter

	// Task and meta tokens are never valid transcript output; user
	// suppressions come on top
	suppress := []int{
		st.StartOfTranscript, st.StartOfPrev, st.NoSpeech,
		st.Translate, st.Transcribe,
	}
	suppress = append(suppress, opts.SuppressTokens...)
	filters = append(filters, NewSuppressTokensFilter(suppress))

	if opts.SuppressBlank {
		filters = append(filters, NewSuppressBlankFilter(e.tokenizer, sampleBegin))
	}
	if !opts.WithoutTimestamps {
		filters = append(filters, NewTimestampRulesFilter(st, sampleBegin, opts.MaxInitialTimestamp))
	}
	return filters
}

// resultLanguage prefers the language tag found in the decoded tokens over
// the declared option, falling back to English.
func (e *Engine) resultLanguage(tokens []int, opts Options, st model.SpecialTokens) string {
	for _, t := range tokens {
		if code, ok := st.LanguageForToken(t); ok {
			return code
		}
	}
	if opts.Language != "" {
		return opts.Language
	}
	return "en"
}

func indexOfToken(tokens []int, id int) int {
	for i, t := range tokens {
		if t == id {
			return i
		}
	}
	return -1
}
