package vad

import (
	"fmt"

	"github.com/msto63/mSW/pkg/core/logging"
)

// DefaultFrameSamples is the chunker's analysis frame: 100 ms at the
// model rate.
const DefaultFrameSamples = 1600

// Chunk is one piece of a long recording. Samples alias the input
// slice; Offset is the piece's position in the source audio in samples.
type Chunk struct {
	Samples []float32
	Offset  int
}

// ChunkerConfig wires the chunker's collaborators.
type ChunkerConfig struct {
	// Detector classifies frames. Defaults to an energy detector.
	Detector Detector

	// FrameSamples is the analysis frame length. Defaults to
	// DefaultFrameSamples.
	FrameSamples int

	Logger *logging.Logger
}

// Chunker splits long audio into model-window-sized pieces, preferring
// to cut inside the longest silent stretch near each boundary so words
// are not sliced in half.
type Chunker struct {
	detector     Detector
	frameSamples int
	logger       *logging.Logger
}

// NewChunker creates a chunker, filling in defaults for missing
// collaborators.
func NewChunker(cfg ChunkerConfig) *Chunker {
	detector := cfg.Detector
	if detector == nil {
		detector = NewEnergyDetector(0)
	}
	frame := cfg.FrameSamples
	if frame <= 0 {
		frame = DefaultFrameSamples
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("vad")
	}
	return &Chunker{
		detector:     detector,
		frameSamples: frame,
		logger:       logger,
	}
}

// Split cuts samples into chunks of at most maxSamples. Boundaries land
// in the middle of the longest silence found in the second half of each
// full window; a window without silence is cut at maxSamples.
func (c *Chunker) Split(samples []float32, maxSamples int) ([]Chunk, error) {
	if maxSamples < c.frameSamples {
		return nil, fmt.Errorf("chunker: max %d samples below analysis frame %d", maxSamples, c.frameSamples)
	}

	var chunks []Chunk
	start := 0
	for start < len(samples) {
		remaining := len(samples) - start
		if remaining <= maxSamples {
			chunks = append(chunks, Chunk{Samples: samples[start:], Offset: start})
			break
		}

		window := samples[start : start+maxSamples]
		cut, err := c.cutPoint(window)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, Chunk{Samples: window[:cut], Offset: start})
		start += cut
	}

	c.logger.Debug("audio split into chunks",
		"samples", len(samples),
		"chunks", len(chunks))
	return chunks, nil
}

// cutPoint returns the sample index to end the current chunk at: the
// middle of the longest silent run in the window's second half, or the
// full window when that half holds no silence.
func (c *Chunker) cutPoint(window []float32) (int, error) {
	searchStart := len(window) / 2
	frames := (len(window) - searchStart) / c.frameSamples

	bestStart, bestLen := -1, 0
	runStart, runLen := 0, 0
	for f := 0; f < frames; f++ {
		off := searchStart + f*c.frameSamples
		active, err := c.detector.Process(window[off : off+c.frameSamples])
		if err != nil {
			return 0, fmt.Errorf("chunker: %w", err)
		}
		if active {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = f
		}
		runLen++
		if runLen > bestLen {
			bestStart, bestLen = runStart, runLen
		}
	}

	if bestLen == 0 {
		return len(window), nil
	}
	cut := searchStart + bestStart*c.frameSamples + bestLen*c.frameSamples/2
	if cut <= 0 {
		return len(window), nil
	}
	return cut, nil
}
