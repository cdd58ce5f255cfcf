package model

import "fmt"

// maskIgnore is the key-padding mask value for positions the decoder must
// not attend to.
const maskIgnore float32 = -1e4

// DecodingInputs is the mutable per-window decoding state: the key/value
// caches, the masks steering cache writes and attention, and the forced
// prompt. One instance is exclusively owned by one decode at a time; the
// decoding loop mutates it in place and no other component holds a
// competing reference.
//
// Caches are flat row-major [embedDim x maxContext] tensors; column t holds
// the cache entries written at sequence position t.
type DecodingInputs struct {
	// InitialPrompt is the forced token sequence opening the decode.
	InitialPrompt []int

	// KeyCache and ValueCache retain per-position decoder state across
	// autoregressive steps.
	KeyCache   []float32
	ValueCache []float32

	// UpdateMask is one-hot at the position the next prediction writes.
	UpdateMask []float32

	// KeyPaddingMask is 0 at attendable positions and a large negative
	// value everywhere else.
	KeyPaddingMask []float32

	// CacheLength counts the live cache columns.
	CacheLength int

	// PrefillLength is the cache length Reset rewinds to.
	PrefillLength int

	embedDim   int
	maxContext int
}

// NewDecodingInputs allocates decoding state for a decoder with the given
// cache row count and context length.
func NewDecodingInputs(embedDim, maxContext int) *DecodingInputs {
	d := &DecodingInputs{
		KeyCache:       make([]float32, embedDim*maxContext),
		ValueCache:     make([]float32, embedDim*maxContext),
		UpdateMask:     make([]float32, maxContext),
		KeyPaddingMask: make([]float32, maxContext),
		embedDim:       embedDim,
		maxContext:     maxContext,
	}
	d.Reset(0)
	return d
}

// EmbedDim returns the cache row count.
func (d *DecodingInputs) EmbedDim() int { return d.embedDim }

// MaxContext returns the cache column count.
func (d *DecodingInputs) MaxContext() int { return d.maxContext }

// Reset rewinds the mask state to the prefill boundary for a fresh decode
// attempt. Cache contents are left untouched; stale columns are masked out
// and overwritten as the next attempt advances.
func (d *DecodingInputs) Reset(prefillLength int) {
	if prefillLength < 0 {
		prefillLength = 0
	}
	if prefillLength >= d.maxContext {
		prefillLength = d.maxContext - 1
	}
	d.PrefillLength = prefillLength
	d.CacheLength = prefillLength

	for i := range d.UpdateMask {
		d.UpdateMask[i] = 0
	}
	d.UpdateMask[prefillLength] = 1

	for i := range d.KeyPaddingMask {
		if i <= prefillLength {
			d.KeyPaddingMask[i] = 0
		} else {
			d.KeyPaddingMask[i] = maskIgnore
		}
	}
}

// WriteCacheColumn writes the key/value cache columns for position t. The
// write is a targeted per-row update; no other column is touched. Rows are
// disjoint slices, so callers may split the row range across workers
// without overlap.
func (d *DecodingInputs) WriteCacheColumn(t int, key, value []float32) error {
	if t < 0 || t >= d.maxContext {
		return fmt.Errorf("%w: cache position %d outside context %d", ErrLogitsDecodeFailed, t, d.maxContext)
	}
	if len(key) != d.embedDim || len(value) != d.embedDim {
		return fmt.Errorf("%w: cache column length %d/%d, want %d", ErrLogitsDecodeFailed, len(key), len(value), d.embedDim)
	}
	for row := 0; row < d.embedDim; row++ {
		idx := row*d.maxContext + t
		d.KeyCache[idx] = key[row]
		d.ValueCache[idx] = value[row]
	}
	return nil
}

// KeyColumn returns a copy of key cache column t.
func (d *DecodingInputs) KeyColumn(t int) []float32 {
	return d.cacheColumn(d.KeyCache, t)
}

// ValueColumn returns a copy of value cache column t.
func (d *DecodingInputs) ValueColumn(t int) []float32 {
	return d.cacheColumn(d.ValueCache, t)
}

func (d *DecodingInputs) cacheColumn(cache []float32, t int) []float32 {
	if t < 0 || t >= d.maxContext {
		return nil
	}
	col := make([]float32, d.embedDim)
	for row := 0; row < d.embedDim; row++ {
		col[row] = cache[row*d.maxContext+t]
	}
	return col
}

// AdvanceMasks commits position t: the update mask moves to t+1 and the
// padding mask opens t+1 for attention. Calling it at the last context
// position is a no-op since no further step can follow.
func (d *DecodingInputs) AdvanceMasks(t int) {
	if t < 0 || t+1 >= d.maxContext {
		return
	}
	d.UpdateMask[t] = 0
	d.UpdateMask[t+1] = 1
	d.KeyPaddingMask[t+1] = 0
	d.CacheLength = t + 1
}
