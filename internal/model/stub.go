package model

import (
	"context"
	"sort"
	"strings"
)

// Stub collaborator wiring. The stub model is a deterministic in-memory
// stand-in for the neural network backends: the decoder replays scripted
// token sequences keyed by an audio marker, the extractor and encoder pass
// that marker through. It backs the test suite and the offline demo mode;
// it performs no recognition.

const (
	stubEmbedDim   = 8
	stubVocabSize  = 51865
	stubFeatureDim = 80
	stubEncoderDim = 8

	// stubScriptLogit dominates the softmax so greedy sampling always
	// follows the script.
	stubScriptLogit = 12.0
)

// StubScript binds a full token sequence, prompt included, to the audio
// window whose first sample equals Marker.
type StubScript struct {
	Marker float32
	Tokens []int

	// NoSpeechLogit raises the scored no-speech probability; leave zero
	// for speech windows.
	NoSpeechLogit float32
}

// StubModel returns a fully wired deterministic model. Scripts map audio
// windows to token sequences; a window matching no script decodes straight
// to end-of-text.
func StubModel(scripts ...StubScript) *Model {
	return &Model{
		FeatureExtractor: NewStubFeatureExtractor(),
		AudioEncoder:     &StubAudioEncoder{Dim: stubEncoderDim},
		TextDecoder:      NewStubTextDecoder(scripts...),
		Tokenizer:        NewStubTokenizer(),
	}
}

// StubFeatureExtractor produces a zero mel tensor carrying the window
// marker in its first element.
type StubFeatureExtractor struct {
	Window int
}

func NewStubFeatureExtractor() *StubFeatureExtractor {
	return &StubFeatureExtractor{Window: WindowSamples}
}

func (e *StubFeatureExtractor) WindowSamples() int { return e.Window }

func (e *StubFeatureExtractor) LogMelSpectrogram(ctx context.Context, samples []float32) (*Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := len(samples) / SamplesPerTimeToken
	if frames < 1 {
		frames = 1
	}
	t := NewTensor(frames, stubFeatureDim)
	if len(samples) > 0 {
		t.Data[0] = samples[0]
	}
	return t, nil
}

// StubAudioEncoder forwards the marker and frame count.
type StubAudioEncoder struct {
	Dim int
}

func (e *StubAudioEncoder) EncodeFeatures(ctx context.Context, features *Tensor) (*Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := features.Dim(0)
	if frames < 1 {
		frames = 1
	}
	t := NewTensor(frames, e.Dim)
	if features.Len() > 0 {
		t.Data[0] = features.Data[0]
	}
	return t, nil
}

// StubTextDecoder replays scripts: at cache length t it scores the script
// token at position t+1 highest, so greedy decoding reproduces the script
// exactly. Past the script end it scores end-of-text.
type StubTextDecoder struct {
	Scripts []StubScript

	// EmitAlignment adds a synthetic monotonic attention row per step.
	EmitAlignment bool

	// PredictHook, when set, replaces the scripted prediction entirely.
	PredictHook func(token, cacheLength int) (*Prediction, error)

	special SpecialTokens
}

func NewStubTextDecoder(scripts ...StubScript) *StubTextDecoder {
	return &StubTextDecoder{Scripts: scripts, special: MultilingualTokens()}
}

func (d *StubTextDecoder) EmbedDim() int        { return stubEmbedDim }
func (d *StubTextDecoder) MaxContext() int      { return DefaultMaxContext }
func (d *StubTextDecoder) VocabSize() int       { return stubVocabSize }
func (d *StubTextDecoder) IsMultilingual() bool { return true }

func (d *StubTextDecoder) Predict(ctx context.Context, token, cacheLength int, inputs *DecodingInputs, encoderOutput *Tensor) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.PredictHook != nil {
		return d.PredictHook(token, cacheLength)
	}

	script := d.findScript(encoderOutput)
	next := d.special.EndOfText
	if script != nil && cacheLength+1 < len(script.Tokens) {
		next = script.Tokens[cacheLength+1]
	}

	p := &Prediction{
		Logits:      make([]float32, stubVocabSize),
		KeyUpdate:   make([]float32, stubEmbedDim),
		ValueUpdate: make([]float32, stubEmbedDim),
	}
	p.Logits[next] = stubScriptLogit
	if script != nil && script.NoSpeechLogit != 0 {
		p.Logits[d.special.NoSpeech] = script.NoSpeechLogit
	}
	for row := 0; row < stubEmbedDim; row++ {
		p.KeyUpdate[row] = float32(token)/1000 + float32(row)/100
		p.ValueUpdate[row] = float32(cacheLength)/100 + float32(row)/100
	}
	if d.EmitAlignment {
		p.Alignment = stubAlignmentRow(encoderOutput.Dim(0), cacheLength, scriptLen(script))
	}
	return p, nil
}

func (d *StubTextDecoder) findScript(encoderOutput *Tensor) *StubScript {
	if encoderOutput == nil || encoderOutput.Len() == 0 {
		if len(d.Scripts) == 1 {
			return &d.Scripts[0]
		}
		return nil
	}
	marker := encoderOutput.Data[0]
	for i := range d.Scripts {
		diff := d.Scripts[i].Marker - marker
		if diff < 0 {
			diff = -diff
		}
		if diff < 1e-4 {
			return &d.Scripts[i]
		}
	}
	return nil
}

func scriptLen(s *StubScript) int {
	if s == nil {
		return 1
	}
	return len(s.Tokens)
}

// stubAlignmentRow peaks at a frame advancing linearly with the step, so
// dynamic time warping recovers a monotonic token-to-time mapping.
func stubAlignmentRow(frames, step, steps int) []float32 {
	if frames < 1 {
		frames = 1
	}
	if steps < 1 {
		steps = 1
	}
	center := step * frames / steps
	row := make([]float32, frames)
	for f := range row {
		dist := f - center
		if dist < 0 {
			dist = -dist
		}
		row[f] = 1 / float32(1+dist)
	}
	return row
}

// StubTokenizer maps a small fixed vocabulary of German tokens. Unknown and
// special ids decode to nothing.
type StubTokenizer struct {
	vocab   map[int]string
	reverse map[string]int
	special SpecialTokens
}

func NewStubTokenizer() *StubTokenizer {
	t := &StubTokenizer{
		vocab:   make(map[int]string),
		reverse: make(map[string]int),
		special: MultilingualTokens(),
	}
	for id, s := range map[int]string{
		220:  " ",
		1000: " hallo",
		1001: " welt",
		1002: " dies",
		1003: " ist",
		1004: " ein",
		1005: " test",
		1006: " danke",
		1007: " sehr",
		1008: " gut",
		1009: ".",
		1010: ",",
		1011: "-",
		1012: "!",
		1013: " und",
		1014: " weiter",
	} {
		t.Add(id, s)
	}
	return t
}

// Add registers one token surface.
func (t *StubTokenizer) Add(id int, surface string) {
	t.vocab[id] = surface
	t.reverse[surface] = id
}

// IDs returns the registered text token ids in ascending order.
func (t *StubTokenizer) IDs() []int {
	ids := make([]int, 0, len(t.vocab))
	for id := range t.vocab {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (t *StubTokenizer) Decode(tokens []int) string {
	var b strings.Builder
	for _, id := range tokens {
		if t.special.IsSpecial(id) {
			continue
		}
		b.WriteString(t.vocab[id])
	}
	return b.String()
}

func (t *StubTokenizer) ConvertTokenToID(token string) (int, bool) {
	id, ok := t.reverse[token]
	return id, ok
}

func (t *StubTokenizer) SpecialTokens() SpecialTokens { return t.special }
