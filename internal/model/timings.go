package model

import "time"

// TranscriptionTimings accumulates wall-clock totals and run counters per
// pipeline stage. The struct is observability state only: it is threaded by
// reference through the pipeline, owned by one transcription at a time, and
// never read for control flow.
type TranscriptionTimings struct {
	AudioLoading    time.Duration
	AudioProcessing time.Duration
	LogMels         time.Duration
	Encoding        time.Duration

	DecodingLoop        time.Duration
	DecodingPredictions time.Duration
	DecodingFiltering   time.Duration
	DecodingSampling    time.Duration
	DecodingKVCaching   time.Duration
	DecodingFallback    time.Duration
	DecodingWindowing   time.Duration
	WordTimestamps      time.Duration
	FullPipeline        time.Duration

	TotalLogMelRuns        int
	TotalEncodingRuns      int
	TotalDecodingLoops     int
	TotalKVUpdateRuns      int
	TotalDecodingFallbacks int
	TotalDecodingWindows   int
	TotalWordAlignmentRuns int
}

// TokensPerSecond reports the decoding loop throughput.
func (t *TranscriptionTimings) TokensPerSecond() float64 {
	if t == nil || t.DecodingLoop <= 0 {
		return 0
	}
	return float64(t.TotalDecodingLoops) / t.DecodingLoop.Seconds()
}

// RealTimeFactor relates processing time to audio duration; values below 1
// mean faster than real time.
func (t *TranscriptionTimings) RealTimeFactor(audioSeconds float64) float64 {
	if t == nil || audioSeconds <= 0 {
		return 0
	}
	return t.FullPipeline.Seconds() / audioSeconds
}

// Merge adds another accumulation into t, used when combining per-chunk
// timings of a batch.
func (t *TranscriptionTimings) Merge(other *TranscriptionTimings) {
	if t == nil || other == nil {
		return
	}
	t.AudioLoading += other.AudioLoading
	t.AudioProcessing += other.AudioProcessing
	t.LogMels += other.LogMels
	t.Encoding += other.Encoding
	t.DecodingLoop += other.DecodingLoop
	t.DecodingPredictions += other.DecodingPredictions
	t.DecodingFiltering += other.DecodingFiltering
	t.DecodingSampling += other.DecodingSampling
	t.DecodingKVCaching += other.DecodingKVCaching
	t.DecodingFallback += other.DecodingFallback
	t.DecodingWindowing += other.DecodingWindowing
	t.WordTimestamps += other.WordTimestamps
	t.FullPipeline += other.FullPipeline
	t.TotalLogMelRuns += other.TotalLogMelRuns
	t.TotalEncodingRuns += other.TotalEncodingRuns
	t.TotalDecodingLoops += other.TotalDecodingLoops
	t.TotalKVUpdateRuns += other.TotalKVUpdateRuns
	t.TotalDecodingFallbacks += other.TotalDecodingFallbacks
	t.TotalDecodingWindows += other.TotalDecodingWindows
	t.TotalWordAlignmentRuns += other.TotalWordAlignmentRuns
}
