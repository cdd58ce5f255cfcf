package model

import "errors"

// Sentinel errors for the transcription pipeline. Callers match with
// errors.Is; lower layers wrap these with fmt.Errorf("%w: ...") to add
// context without losing the category.
var (
	// ErrModelUnavailable signals that a required model collaborator
	// (feature extractor, encoder or decoder) is missing or not loaded.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrTokenizerUnavailable signals a missing tokenizer.
	ErrTokenizerUnavailable = errors.New("tokenizer unavailable")

	// ErrLogitsDecodeFailed signals a structural failure in a decoder
	// prediction (nil logits, mismatched tensor shapes). Not retryable.
	ErrLogitsDecodeFailed = errors.New("logits decode failed")

	// ErrDecodingFailed signals that every temperature in the fallback
	// ladder was exhausted without an acceptable result.
	ErrDecodingFailed = errors.New("decoding failed")

	// ErrCancelled signals cooperative cancellation of a running
	// transcription. It is not an application-level failure.
	ErrCancelled = errors.New("transcription cancelled")
)
