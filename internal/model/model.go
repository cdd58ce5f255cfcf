// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     model
// Description: Collaborator contracts for the transcription pipeline
// Author:      Mike Stoffels with Claude
// Created:     2026-07-02
// License:     MIT
// ============================================================================

package model

import (
	"context"
	"fmt"
)

// Tensor is a dense row-major float32 tensor with an explicit shape. The
// pipeline treats feature and encoder tensors as opaque; only their shape is
// inspected.
type Tensor struct {
	Data  []float32
	Shape []int
}

// NewTensor allocates a zero tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Data: make([]float32, n), Shape: shape}
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Dim returns the size of dimension i, or 0 when i is out of range.
func (t *Tensor) Dim(i int) int {
	if t == nil || i < 0 || i >= len(t.Shape) {
		return 0
	}
	return t.Shape[i]
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Data)
}

// FeatureExtractor converts a fixed-length audio window into a log-mel
// feature tensor of shape [frames, bins].
type FeatureExtractor interface {
	// LogMelSpectrogram computes features for one audio window. The window
	// must hold exactly WindowSamples() samples.
	LogMelSpectrogram(ctx context.Context, samples []float32) (*Tensor, error)

	// WindowSamples returns the fixed input window length in samples.
	WindowSamples() int
}

// AudioEncoder runs the encoder forward pass, producing a tensor of shape
// [frames, dim] consumed opaquely by the text decoder.
type AudioEncoder interface {
	EncodeFeatures(ctx context.Context, features *Tensor) (*Tensor, error)
}

// Prediction is the output of one decoder step.
type Prediction struct {
	// Logits holds one score per vocabulary entry for the next token.
	Logits []float32

	// KeyUpdate and ValueUpdate are the cache columns for the current
	// position, EmbedDim values each.
	KeyUpdate   []float32
	ValueUpdate []float32

	// Alignment optionally holds cross-attention weights over the encoder
	// frames, used for word-level timing. Nil when the model does not
	// expose them.
	Alignment []float32
}

// TextDecoder runs one autoregressive decoder step. Implementations read the
// caches and masks from inputs and must not mutate them; the decoding loop
// owns all cache writes.
type TextDecoder interface {
	// Predict scores the next token given the current token and the cache
	// state of length cacheLength.
	Predict(ctx context.Context, token, cacheLength int, inputs *DecodingInputs, encoderOutput *Tensor) (*Prediction, error)

	// EmbedDim is the row count of the key/value caches.
	EmbedDim() int

	// MaxContext is the maximum decodable sequence length.
	MaxContext() int

	// VocabSize is the logits vector length.
	VocabSize() int

	// IsMultilingual reports whether the model carries language tags.
	IsMultilingual() bool
}

// Tokenizer maps between token ids and text.
type Tokenizer interface {
	// Decode renders token ids as text, skipping special tokens. Partial
	// byte sequences render as the Unicode replacement character.
	Decode(tokens []int) string

	// ConvertTokenToID resolves a single surface token to its id.
	ConvertTokenToID(token string) (int, bool)

	// SpecialTokens returns the special token layout of the vocabulary.
	SpecialTokens() SpecialTokens
}

// Model bundles the collaborator set required by the transcription pipeline.
type Model struct {
	FeatureExtractor FeatureExtractor
	AudioEncoder     AudioEncoder
	TextDecoder      TextDecoder
	Tokenizer        Tokenizer
}

// Validate reports whether all collaborators are present.
func (m *Model) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: no model configured", ErrModelUnavailable)
	}
	if m.FeatureExtractor == nil {
		return fmt.Errorf("%w: feature extractor missing", ErrModelUnavailable)
	}
	if m.AudioEncoder == nil {
		return fmt.Errorf("%w: audio encoder missing", ErrModelUnavailable)
	}
	if m.TextDecoder == nil {
		return fmt.Errorf("%w: text decoder missing", ErrModelUnavailable)
	}
	if m.Tokenizer == nil {
		return ErrTokenizerUnavailable
	}
	return nil
}

// ValidatePrediction checks a decoder prediction for structural integrity
// before its values are consumed.
func ValidatePrediction(p *Prediction, vocabSize, embedDim int) error {
	if p == nil || p.Logits == nil {
		return fmt.Errorf("%w: prediction without logits", ErrLogitsDecodeFailed)
	}
	if len(p.Logits) != vocabSize {
		return fmt.Errorf("%w: logits length %d, want vocabulary size %d", ErrLogitsDecodeFailed, len(p.Logits), vocabSize)
	}
	if len(p.KeyUpdate) != embedDim || len(p.ValueUpdate) != embedDim {
		return fmt.Errorf("%w: cache update length %d/%d, want embedding size %d", ErrLogitsDecodeFailed, len(p.KeyUpdate), len(p.ValueUpdate), embedDim)
	}
	return nil
}
