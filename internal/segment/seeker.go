package segment

import (
	"fmt"

	"github.com/msto63/mSW/internal/decode"
	"github.com/msto63/mSW/internal/model"
	"github.com/msto63/mSW/pkg/core/logging"
)

// SeekerConfig wires the seeker's collaborators.
type SeekerConfig struct {
	// Tokenizer is required for segment text and special token layout.
	Tokenizer model.Tokenizer

	// Logger defaults to a component logger named "segment".
	Logger *logging.Logger
}

// Seeker splits one decoded window into timed segments and computes the
// next seek position within the audio.
type Seeker struct {
	tokenizer model.Tokenizer
	special   model.SpecialTokens
	log       *logging.Logger
}

// NewSeeker creates a segment seeker.
func NewSeeker(cfg SeekerConfig) (*Seeker, error) {
	if cfg.Tokenizer == nil {
		return nil, model.ErrTokenizerUnavailable
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New("segment")
	}
	return &Seeker{
		tokenizer: cfg.Tokenizer,
		special:   cfg.Tokenizer.SpecialTokens(),
		log:       log,
	}, nil
}

// FindSeekPointAndSegments converts a window's decoding result into
// segments and returns the sample position the transcriber continues
// from. seek is the window's start sample, segmentSize the number of
// samples the window covers and segmentCount the number of segments
// already emitted, used for consecutive ids.
//
// A window judged silent is skipped in full and yields no segments,
// unless its average log probability is high enough to overrule the
// no-speech signal. Windows whose tokens contain closed timestamp pairs
// advance only to the last closed timestamp, so speech running into the
// window boundary is re-decoded in the next window.
func (s *Seeker) FindSeekPointAndSegments(result *decode.Result, opts decode.Options, seek, segmentSize, segmentCount int) (int, []Segment) {
	timeOffset := float32(seek) / model.SampleRate

	if s.shouldSkip(result, opts) {
		s.log.Debug("skipping window without speech",
			"seek", seek,
			"noSpeechProb", result.NoSpeechProb,
			"avgLogProb", result.AvgLogProb)
		return seek + segmentSize, nil
	}

	tokens, logProbs := sampledTokens(result, s.special)
	if len(tokens) == 0 {
		return seek + segmentSize, nil
	}

	ttb := s.special.TimeTokenBegin
	isTimestamp := make([]bool, len(tokens))
	for i, t := range tokens {
		isTimestamp[i] = t >= ttb
	}

	// Indexes one past each closed timestamp pair
	var slices []int
	for i := 1; i < len(tokens); i++ {
		if isTimestamp[i] && isTimestamp[i-1] {
			slices = append(slices, i)
		}
	}

	singleTimestampEnding := len(tokens) >= 2 &&
		isTimestamp[len(tokens)-1] && !isTimestamp[len(tokens)-2]

	var segments []Segment
	newSeek := seek + segmentSize

	if len(slices) > 0 {
		if singleTimestampEnding {
			slices = append(slices, len(tokens))
		}

		lastSlice := 0
		for _, current := range slices {
			seg := s.newSegment(result, tokens[lastSlice:current], logProbs[lastSlice:current], seek, timeOffset)
			seg.ID = segmentCount + len(segments)
			segments = append(segments, seg)
			lastSlice = current
		}

		if !singleTimestampEnding {
			// Speech continues past the last closed pair; rewind to the
			// pair boundary and decode the remainder again
			lastTimestampPos := tokens[lastSlice-1] - ttb
			newSeek = seek + lastTimestampPos*model.SamplesPerTimeToken
		}
	} else {
		// No closed pair in the window: one segment, full advance. The
		// end time shrinks to the last timestamp when one was decoded.
		duration := float32(segmentSize) / model.SampleRate
		lastTs := -1
		for i := len(tokens) - 1; i >= 0; i-- {
			if isTimestamp[i] {
				lastTs = tokens[i]
				break
			}
		}
		if lastTs > ttb {
			duration = float32(lastTs-ttb) * float32(model.SecondsPerTimeToken)
		}

		seg := s.newSegment(result, tokens, logProbs, seek, timeOffset)
		seg.ID = segmentCount
		seg.Start = timeOffset
		seg.End = timeOffset + duration
		segments = append(segments, seg)
	}

	// The seek point always moves forward, even against a degenerate
	// zero-advance timestamp sequence
	if newSeek <= seek {
		newSeek = seek + segmentSize
	}
	return newSeek, segments
}

func (s *Seeker) shouldSkip(result *decode.Result, opts decode.Options) bool {
	if opts.NoSpeechThreshold == nil || result.NoSpeechProb <= *opts.NoSpeechThreshold {
		return false
	}
	// Confident text overrules the no-speech signal
	if opts.LogProbThreshold != nil && result.AvgLogProb > *opts.LogProbThreshold {
		return false
	}
	return true
}

// newSegment builds a segment over a token slice, taking its start and
// end from the first and last timestamp token of the slice.
func (s *Seeker) newSegment(result *decode.Result, tokens []int, logProbs []float32, seek int, timeOffset float32) Segment {
	ttb := s.special.TimeTokenBegin
	start := timeOffset
	end := timeOffset
	if len(tokens) > 0 {
		if tokens[0] >= ttb {
			start = timeOffset + float32(tokens[0]-ttb)*float32(model.SecondsPerTimeToken)
		}
		if last := tokens[len(tokens)-1]; last >= ttb {
			end = timeOffset + float32(last-ttb)*float32(model.SecondsPerTimeToken)
		}
	}

	return Segment{
		Seek:             seek,
		Start:            start,
		End:              end,
		Text:             s.tokenizer.Decode(tokens),
		Tokens:           append([]int(nil), tokens...),
		TokenLogProbs:    append([]float32(nil), logProbs...),
		Temperature:      result.Temperature,
		AvgLogProb:       result.AvgLogProb,
		CompressionRatio: result.CompressionRatio,
		NoSpeechProb:     result.NoSpeechProb,
	}
}

// sampledTokens cuts the decoding result down to the sampled suffix
// without the terminal end-of-text token.
func sampledTokens(result *decode.Result, special model.SpecialTokens) ([]int, []float32) {
	begin := result.SampleBegin
	if begin < 0 || begin > len(result.Tokens) {
		begin = 0
	}
	tokens := result.Tokens[begin:]
	logProbs := result.LogProbs[begin:]
	for len(tokens) > 0 && tokens[len(tokens)-1] == special.EndOfText {
		tokens = tokens[:len(tokens)-1]
		logProbs = logProbs[:len(logProbs)-1]
	}
	return tokens, logProbs
}

// FormatTimestamp renders seconds as [hh:]mm:ss.mmm for logs and reports.
func FormatTimestamp(seconds float32) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds * 1000)
	ms := total % 1000
	sec := total / 1000 % 60
	min := total / 60000 % 60
	hour := total / 3600000
	if hour > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%03d", hour, min, sec, ms)
	}
	return fmt.Sprintf("%02d:%02d.%03d", min, sec, ms)
}
