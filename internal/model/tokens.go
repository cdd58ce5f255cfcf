// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     model
// Description: Special token layout and language token mapping
// Author:      Mike Stoffels with Claude
// Created:     2026-07-02
// License:     MIT
// ============================================================================

package model

// Audio and token timing constants shared across the pipeline.
const (
	// SampleRate is the sample rate every model input is resampled to.
	SampleRate = 16000

	// WindowSeconds is the fixed audio window length fed to the encoder.
	WindowSeconds = 30

	// WindowSamples is the number of samples in one encoder window.
	WindowSamples = SampleRate * WindowSeconds

	// SecondsPerTimeToken is the time resolution of timestamp tokens.
	SecondsPerTimeToken = 0.02

	// SamplesPerTimeToken is the audio span of one timestamp step.
	SamplesPerTimeToken = 320

	// FramesPerWindow is the number of encoder time steps per window.
	FramesPerWindow = WindowSamples / SamplesPerTimeToken

	// DefaultMaxContext is the decoder text context of the released models.
	DefaultMaxContext = 448
)

// SpecialTokens describes the fixed special token ids of a model vocabulary.
// Real tokenizers supply their own layout; MultilingualTokens returns the
// layout shared by all released multilingual models.
type SpecialTokens struct {
	// EndOfText terminates every decoded sequence.
	EndOfText int

	// StartOfTranscript opens the forced decoder prompt.
	StartOfTranscript int

	// LanguageBegin is the id of the first language tag; the tags for all
	// Languages codes follow contiguously.
	LanguageBegin int

	// Languages is the number of language tags, 0 for monolingual models.
	Languages int

	// Translate and Transcribe select the decoding task.
	Translate  int
	Transcribe int

	// StartOfPrev introduces context tokens from the previous window.
	StartOfPrev int

	// NoSpeech is scored during decoding to estimate silence probability.
	NoSpeech int

	// NoTimestamps disables timestamp token generation when forced.
	NoTimestamps int

	// TimeTokenBegin is the id of timestamp <|0.00|>; later timestamps
	// follow in SecondsPerTimeToken steps.
	TimeTokenBegin int

	// SpecialTokenBegin is the first non-text token id; everything at or
	// above it is excluded from decoded text.
	SpecialTokenBegin int

	// Whitespace is the id of the single-space token, used by blank
	// suppression when the tokenizer cannot resolve " " itself.
	Whitespace int
}

// MultilingualTokens returns the special token layout of the multilingual
// model family.
func MultilingualTokens() SpecialTokens {
	return SpecialTokens{
		EndOfText:         50257,
		StartOfTranscript: 50258,
		LanguageBegin:     50259,
		Languages:         len(languageCodes),
		Translate:         50358,
		Transcribe:        50359,
		StartOfPrev:       50361,
		NoSpeech:          50362,
		NoTimestamps:      50363,
		TimeTokenBegin:    50364,
		SpecialTokenBegin: 50257,
		Whitespace:        220,
	}
}

// IsTimestamp reports whether id is a timestamp token.
func (st SpecialTokens) IsTimestamp(id int) bool {
	return id >= st.TimeTokenBegin
}

// IsSpecial reports whether id is outside the text vocabulary.
func (st SpecialTokens) IsSpecial(id int) bool {
	return id >= st.SpecialTokenBegin
}

// IsLanguage reports whether id is a language tag.
func (st SpecialTokens) IsLanguage(id int) bool {
	return st.Languages > 0 && id >= st.LanguageBegin && id < st.LanguageBegin+st.Languages
}

// TimestampSeconds converts a timestamp token id to seconds.
func (st SpecialTokens) TimestampSeconds(id int) float64 {
	return float64(id-st.TimeTokenBegin) * SecondsPerTimeToken
}

// TimestampToken converts seconds to the timestamp token id at or below the
// given time.
func (st SpecialTokens) TimestampToken(seconds float64) int {
	return st.TimeTokenBegin + int(seconds/SecondsPerTimeToken)
}

// TokenForLanguage resolves an ISO 639-1 style code ("de", "en") to its
// language tag token.
func (st SpecialTokens) TokenForLanguage(code string) (int, bool) {
	if st.Languages == 0 {
		return 0, false
	}
	idx, ok := languageIndex[code]
	if !ok || idx >= st.Languages {
		return 0, false
	}
	return st.LanguageBegin + idx, true
}

// LanguageForToken resolves a language tag token back to its code.
func (st SpecialTokens) LanguageForToken(id int) (string, bool) {
	if !st.IsLanguage(id) {
		return "", false
	}
	return languageCodes[id-st.LanguageBegin], true
}

// LanguageCodes returns the supported language codes in vocabulary order.
func LanguageCodes() []string {
	out := make([]string, len(languageCodes))
	copy(out, languageCodes)
	return out
}

// languageCodes lists the language tags in vocabulary order, starting at
// LanguageBegin.
var languageCodes = []string{
	"en", "zh", "de", "es", "ru", "ko", "fr", "ja", "pt", "tr",
	"pl", "ca", "nl", "ar", "sv", "it", "id", "hi", "fi", "vi",
	"he", "uk", "el", "ms", "cs", "ro", "da", "hu", "ta", "no",
	"th", "ur", "hr", "bg", "lt", "la", "mi", "ml", "cy", "sk",
	"te", "fa", "lv", "bn", "sr", "az", "sl", "kn", "et", "mk",
	"br", "eu", "is", "hy", "ne", "mn", "bs", "kk", "sq", "sw",
	"gl", "mr", "pa", "si", "km", "sn", "yo", "so", "af", "oc",
	"ka", "be", "tg", "sd", "gu", "am", "yi", "lo", "uz", "fo",
	"ht", "ps", "tk", "nn", "mt", "sa", "lb", "my", "bo", "tl",
	"mg", "as", "tt", "haw", "ln", "ha", "ba", "jw", "su",
}

var languageIndex = func() map[string]int {
	m := make(map[string]int, len(languageCodes))
	for i, code := range languageCodes {
		m[code] = i
	}
	return m
}()
