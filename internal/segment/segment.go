// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     segment
// Description: Segment extraction from decoded windows and word-level
//              timestamp alignment
// Author:      Mike Stoffels with Claude
// Created:     2026-07-08
// License:     MIT
// ============================================================================

// Package segment turns decoded token streams into timed transcript
// segments. The seeker splits a window's tokens at timestamp pairs and
// decides how far the transcriber advances into the audio; the word
// aligner distributes per-token attention timings onto words.
package segment

// Segment is one timed span of transcript within the audio.
type Segment struct {
	// ID numbers segments consecutively across the whole transcription.
	ID int

	// Seek is the sample offset of the window this segment was decoded
	// from.
	Seek int

	// Start and End are absolute times in seconds.
	Start float32
	End   float32

	// Text is the decoded transcript of this segment.
	Text string

	// Tokens spans the segment including its timestamp tokens.
	Tokens []int

	// TokenLogProbs aligns with Tokens.
	TokenLogProbs []float32

	// Temperature is the sampling temperature of the attempt that
	// produced this segment.
	Temperature float32

	// AvgLogProb, CompressionRatio and NoSpeechProb carry the window's
	// quality measures.
	AvgLogProb       float32
	CompressionRatio float32
	NoSpeechProb     float32

	// Words holds word-level timings when word timestamps were requested.
	Words []WordTiming
}

// Duration returns the segment length in seconds.
func (s *Segment) Duration() float32 {
	return s.End - s.Start
}

// WordTiming is one aligned word with its time span.
type WordTiming struct {
	// Word is the decoded surface, usually with a leading space.
	Word string

	// Tokens are the vocabulary ids the word was decoded from.
	Tokens []int

	// Start and End are absolute times in seconds.
	Start float32
	End   float32

	// Probability is the mean token probability of the word.
	Probability float32
}

// Duration returns the word length in seconds.
func (w *WordTiming) Duration() float32 {
	return w.End - w.Start
}
