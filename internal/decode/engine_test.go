package decode

import (
	"context"
	"errors"
	"testing"

	"github.com/msto63/mSW/internal/model"
)

// helloScript is the canonical two-word decode used across the engine
// tests: <|sot|><|de|><|transcribe|><|0.00|> hallo welt<|2.00|><|eot|>
func helloScript() model.StubScript {
	st := model.MultilingualTokens()
	de, _ := st.TokenForLanguage("de")
	return model.StubScript{
		Marker: 0.5,
		Tokens: []int{
			st.StartOfTranscript, de, st.Transcribe,
			st.TimeTokenBegin, 1000, 1001, st.TimeTokenBegin + 100,
			st.EndOfText,
		},
	}
}

func newScriptedEngine(t *testing.T, scripts ...model.StubScript) (*Engine, *model.StubTextDecoder) {
	t.Helper()
	dec := model.NewStubTextDecoder(scripts...)
	e, err := NewEngine(EngineConfig{Decoder: dec, Tokenizer: model.NewStubTokenizer()})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e, dec
}

func encoderWindow(marker float32) *model.Tensor {
	tensor := model.NewTensor(model.FramesPerWindow, 8)
	tensor.Data[0] = marker
	return tensor
}

func freshInputs(dec model.TextDecoder) *model.DecodingInputs {
	return model.NewDecodingInputs(dec.EmbedDim(), dec.MaxContext())
}

func germanOptions() Options {
	opts := DefaultOptions()
	opts.Language = "de"
	return opts
}

func TestNewEngine_MissingParts(t *testing.T) {
	_, err := NewEngine(EngineConfig{Tokenizer: model.NewStubTokenizer()})
	if !errors.Is(err, model.ErrModelUnavailable) {
		t.Errorf("NewEngine without decoder: error = %v, want ErrModelUnavailable", err)
	}

	_, err = NewEngine(EngineConfig{Decoder: model.NewStubTextDecoder()})
	if !errors.Is(err, model.ErrTokenizerUnavailable) {
		t.Errorf("NewEngine without tokenizer: error = %v, want ErrTokenizerUnavailable", err)
	}
}

func TestEngine_BuildPrompt(t *testing.T) {
	st := model.MultilingualTokens()
	de, _ := st.TokenForLanguage("de")
	e, _ := newScriptedEngine(t)

	tests := []struct {
		name string
		mod  func(*Options)
		want []int
	}{
		{
			name: "transcribe german",
			mod:  func(o *Options) {},
			want: []int{st.StartOfTranscript, de, st.Transcribe},
		},
		{
			name: "no prefill",
			mod:  func(o *Options) { o.UsePrefillPrompt = false },
			want: []int{st.StartOfTranscript},
		},
		{
			name: "translate task",
			mod:  func(o *Options) { o.Task = TaskTranslate },
			want: []int{st.StartOfTranscript, de, st.Translate},
		},
		{
			name: "without timestamps",
			mod:  func(o *Options) { o.WithoutTimestamps = true },
			want: []int{st.StartOfTranscript, de, st.Transcribe, st.NoTimestamps},
		},
		{
			name: "previous window context",
			mod:  func(o *Options) { o.PromptTokens = []int{1004, 1005} },
			want: []int{st.StartOfPrev, 1004, 1005, st.StartOfTranscript, de, st.Transcribe},
		},
		{
			name: "unknown language tag skipped",
			mod:  func(o *Options) { o.Language = "xx" },
			want: []int{st.StartOfTranscript, st.Transcribe},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := germanOptions()
			tt.mod(&opts)
			got := e.BuildPrompt(opts)
			if len(got) != len(tt.want) {
				t.Fatalf("BuildPrompt() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("BuildPrompt()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEngine_BuildPrompt_TrimsLongContext(t *testing.T) {
	e, dec := newScriptedEngine(t)

	long := make([]int, 300)
	for i := range long {
		long[i] = 1000 + i
	}
	opts := germanOptions()
	opts.PromptTokens = long

	got := e.BuildPrompt(opts)

	keep := dec.MaxContext()/2 - 1
	wantLen := 1 + keep + 3
	if len(got) != wantLen {
		t.Fatalf("len(BuildPrompt()) = %d, want %d", len(got), wantLen)
	}
	// The tail of the context survives, the head is cut
	if got[1] != long[len(long)-keep] {
		t.Errorf("first kept context token = %d, want %d", got[1], long[len(long)-keep])
	}
}

func TestEngine_DecodeText_FollowsScript(t *testing.T) {
	script := helloScript()
	e, _ := newScriptedEngine(t, script)
	dec := e.decoder

	timings := &model.TranscriptionTimings{}
	res, err := e.DecodeText(context.Background(), encoderWindow(script.Marker), freshInputs(dec), germanOptions(), nil, timings)
	if err != nil {
		t.Fatalf("DecodeText() error = %v", err)
	}

	if len(res.Tokens) != len(script.Tokens) {
		t.Fatalf("Tokens = %v, want %v", res.Tokens, script.Tokens)
	}
	for i, want := range script.Tokens {
		if res.Tokens[i] != want {
			t.Errorf("Tokens[%d] = %d, want %d", i, res.Tokens[i], want)
		}
	}

	if res.Text != " hallo welt" {
		t.Errorf("Text = %q, want %q", res.Text, " hallo welt")
	}
	if res.Language != "de" {
		t.Errorf("Language = %q, want %q", res.Language, "de")
	}
	if res.SampleBegin != 3 {
		t.Errorf("SampleBegin = %d, want 3", res.SampleBegin)
	}
	if res.Fallback != nil {
		t.Errorf("Fallback = %+v, want nil", res.Fallback)
	}
	if len(res.LogProbs) != len(res.Tokens) {
		t.Errorf("len(LogProbs) = %d, want %d", len(res.LogProbs), len(res.Tokens))
	}
	for i := 0; i < res.SampleBegin; i++ {
		if res.LogProbs[i] != 0 {
			t.Errorf("forced LogProbs[%d] = %v, want 0", i, res.LogProbs[i])
		}
	}

	// Seven loop steps, the terminal end-of-text step uncommitted
	if timings.TotalDecodingLoops != 7 {
		t.Errorf("TotalDecodingLoops = %d, want 7", timings.TotalDecodingLoops)
	}
	if timings.TotalKVUpdateRuns != 6 {
		t.Errorf("TotalKVUpdateRuns = %d, want 6", timings.TotalKVUpdateRuns)
	}
}

func TestEngine_DecodeText_Deterministic(t *testing.T) {
	script := helloScript()
	e, _ := newScriptedEngine(t, script)
	dec := e.decoder

	first, err := e.DecodeText(context.Background(), encoderWindow(script.Marker), freshInputs(dec), germanOptions(), nil, nil)
	if err != nil {
		t.Fatalf("first DecodeText() error = %v", err)
	}
	second, err := e.DecodeText(context.Background(), encoderWindow(script.Marker), freshInputs(dec), germanOptions(), nil, nil)
	if err != nil {
		t.Fatalf("second DecodeText() error = %v", err)
	}

	if first.Text != second.Text || len(first.Tokens) != len(second.Tokens) {
		t.Fatalf("runs diverged: %q vs %q", first.Text, second.Text)
	}
	for i := range first.Tokens {
		if first.Tokens[i] != second.Tokens[i] {
			t.Errorf("Tokens[%d] = %d vs %d", i, first.Tokens[i], second.Tokens[i])
		}
	}
}

func TestEngine_DecodeText_TrimsToTranscript(t *testing.T) {
	st := model.MultilingualTokens()
	de, _ := st.TokenForLanguage("de")
	script := model.StubScript{
		Marker: 0.25,
		Tokens: []int{
			st.StartOfPrev, 1004, 1005,
			st.StartOfTranscript, de, st.Transcribe,
			st.TimeTokenBegin, 1006, st.TimeTokenBegin + 50,
			st.EndOfText,
		},
	}
	e, _ := newScriptedEngine(t, script)

	opts := germanOptions()
	opts.PromptTokens = []int{1004, 1005}

	res, err := e.DecodeText(context.Background(), encoderWindow(script.Marker), freshInputs(e.decoder), opts, nil, nil)
	if err != nil {
		t.Fatalf("DecodeText() error = %v", err)
	}

	// The previous-window context is cut away, the transcript span stays
	if res.Tokens[0] != st.StartOfTranscript {
		t.Errorf("Tokens[0] = %d, want start of transcript", res.Tokens[0])
	}
	if res.Tokens[len(res.Tokens)-1] != st.EndOfText {
		t.Errorf("last token = %d, want end of text", res.Tokens[len(res.Tokens)-1])
	}
	if len(res.Tokens) != 7 {
		t.Errorf("len(Tokens) = %d, want 7", len(res.Tokens))
	}
	if res.SampleBegin != 3 {
		t.Errorf("SampleBegin = %d, want 3", res.SampleBegin)
	}
	if res.Text != " danke" {
		t.Errorf("Text = %q, want %q", res.Text, " danke")
	}
}

func TestEngine_DecodeText_FinalizeOnExhaustedBudget(t *testing.T) {
	script := helloScript()
	e, _ := newScriptedEngine(t, script)
	st := model.MultilingualTokens()

	opts := germanOptions()
	opts.SampleLength = 5

	res, err := e.DecodeText(context.Background(), encoderWindow(script.Marker), freshInputs(e.decoder), opts, nil, nil)
	if err != nil {
		t.Fatalf("DecodeText() error = %v", err)
	}

	// The budget ends mid-script; the sequence is still terminated
	if got := res.Tokens[len(res.Tokens)-1]; got != st.EndOfText {
		t.Errorf("last token = %d, want end of text", got)
	}
	if len(res.Tokens) != 7 {
		t.Errorf("len(Tokens) = %d, want 7", len(res.Tokens))
	}
}

func TestEngine_DecodeText_Cancelled(t *testing.T) {
	script := helloScript()
	e, _ := newScriptedEngine(t, script)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.DecodeText(ctx, encoderWindow(script.Marker), freshInputs(e.decoder), germanOptions(), nil, nil)
	if !errors.Is(err, model.ErrCancelled) {
		t.Errorf("DecodeText(cancelled) error = %v, want ErrCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("DecodeText(cancelled) error = %v, want wrapped context.Canceled", err)
	}
}

func TestEngine_DecodeText_MalformedPrediction(t *testing.T) {
	e, dec := newScriptedEngine(t, helloScript())
	dec.PredictHook = func(token, cacheLength int) (*model.Prediction, error) {
		return &model.Prediction{
			Logits:      make([]float32, 10),
			KeyUpdate:   make([]float32, dec.EmbedDim()),
			ValueUpdate: make([]float32, dec.EmbedDim()),
		}, nil
	}

	_, err := e.DecodeText(context.Background(), encoderWindow(0.5), freshInputs(dec), germanOptions(), nil, nil)
	if !errors.Is(err, model.ErrLogitsDecodeFailed) {
		t.Errorf("DecodeText(short logits) error = %v, want ErrLogitsDecodeFailed", err)
	}
}

func TestEngine_DecodeText_FirstTokenConfidence(t *testing.T) {
	st := model.MultilingualTokens()
	de, _ := st.TokenForLanguage("de")
	prompt := []int{st.StartOfTranscript, de, st.Transcribe}

	e, dec := newScriptedEngine(t)
	// Prompt steps follow the script; the first sampled step sees flat
	// logits, so no token can clear the confidence threshold
	dec.PredictHook = func(token, cacheLength int) (*model.Prediction, error) {
		p := &model.Prediction{
			Logits:      make([]float32, dec.VocabSize()),
			KeyUpdate:   make([]float32, dec.EmbedDim()),
			ValueUpdate: make([]float32, dec.EmbedDim()),
		}
		if cacheLength+1 < len(prompt) {
			p.Logits[prompt[cacheLength+1]] = 12
		}
		return p, nil
	}

	res, err := e.DecodeText(context.Background(), encoderWindow(0.5), freshInputs(dec), germanOptions(), nil, nil)
	if err != nil {
		t.Fatalf("DecodeText() error = %v", err)
	}

	if res.Fallback == nil {
		t.Fatal("Fallback = nil, want firstTokenLogProbThreshold verdict")
	}
	if res.Fallback.Reason != "firstTokenLogProbThreshold" {
		t.Errorf("Reason = %q, want firstTokenLogProbThreshold", res.Fallback.Reason)
	}
	if !res.Fallback.NeedsFallback {
		t.Error("NeedsFallback = false, want true")
	}
	if got := res.Tokens[len(res.Tokens)-1]; got != st.EndOfText {
		t.Errorf("last token = %d, want end of text", got)
	}
}

func TestEngine_DecodeText_SilenceVerdict(t *testing.T) {
	st := model.MultilingualTokens()
	de, _ := st.TokenForLanguage("de")
	script := model.StubScript{
		Marker:        0.75,
		Tokens:        []int{st.StartOfTranscript, de, st.Transcribe, st.EndOfText},
		NoSpeechLogit: 15,
	}
	e, _ := newScriptedEngine(t, script)

	opts := germanOptions()
	opts.FirstTokenLogProbThreshold = nil

	res, err := e.DecodeText(context.Background(), encoderWindow(script.Marker), freshInputs(e.decoder), opts, nil, nil)
	if err != nil {
		t.Fatalf("DecodeText() error = %v", err)
	}

	if res.NoSpeechProb < 0.9 {
		t.Errorf("NoSpeechProb = %v, want > 0.9", res.NoSpeechProb)
	}
	if res.Fallback == nil {
		t.Fatal("Fallback = nil, want silence verdict")
	}
	if res.Fallback.Reason != "silence" {
		t.Errorf("Reason = %q, want silence", res.Fallback.Reason)
	}
	if res.Fallback.NeedsFallback {
		t.Error("NeedsFallback = true, want false for silence")
	}
}

func TestEngine_DecodeText_ProgressStop(t *testing.T) {
	script := helloScript()
	e, _ := newScriptedEngine(t, script)
	st := model.MultilingualTokens()

	var calls int
	progress := func(p Progress) Verdict {
		calls++
		if p.TokenCount >= 5 {
			return Stop
		}
		return Continue
	}

	res, err := e.DecodeText(context.Background(), encoderWindow(script.Marker), freshInputs(e.decoder), germanOptions(), progress, nil)
	if err != nil {
		t.Fatalf("DecodeText() error = %v", err)
	}

	if calls != 2 {
		t.Errorf("progress calls = %d, want 2", calls)
	}
	if res.Text != " hallo" {
		t.Errorf("Text = %q, want %q", res.Text, " hallo")
	}
	if got := res.Tokens[len(res.Tokens)-1]; got != st.EndOfText {
		t.Errorf("last token = %d, want end of text after early stop", got)
	}
}

func TestEngine_DecodeText_CollectsAlignment(t *testing.T) {
	script := helloScript()
	e, dec := newScriptedEngine(t, script)
	dec.EmitAlignment = true

	res, err := e.DecodeText(context.Background(), encoderWindow(script.Marker), freshInputs(dec), germanOptions(), nil, nil)
	if err != nil {
		t.Fatalf("DecodeText() error = %v", err)
	}

	// One attention row per committed sampled token; the uncommitted
	// end-of-text step has none
	sampled := len(script.Tokens) - 3 - 1
	if len(res.Alignment) != sampled {
		t.Errorf("len(Alignment) = %d, want %d", len(res.Alignment), sampled)
	}
	for i, row := range res.Alignment {
		if len(row) != model.FramesPerWindow {
			t.Errorf("Alignment[%d] has %d frames, want %d", i, len(row), model.FramesPerWindow)
		}
	}
}

func TestEngine_DetectLanguage(t *testing.T) {
	script := helloScript()
	e, _ := newScriptedEngine(t, script)

	code, probs, err := e.DetectLanguage(context.Background(), encoderWindow(script.Marker), freshInputs(e.decoder))
	if err != nil {
		t.Fatalf("DetectLanguage() error = %v", err)
	}
	if code != "de" {
		t.Errorf("language = %q, want %q", code, "de")
	}
	if probs["de"] < 0.9 {
		t.Errorf("probs[de] = %v, want > 0.9", probs["de"])
	}
	if _, ok := probs["en"]; !ok {
		t.Error("probs missing entry for en")
	}
}

func TestEngine_DetectLanguage_Cancelled(t *testing.T) {
	e, _ := newScriptedEngine(t, helloScript())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := e.DetectLanguage(ctx, encoderWindow(0.5), freshInputs(e.decoder))
	if !errors.Is(err, model.ErrCancelled) {
		t.Errorf("DetectLanguage(cancelled) error = %v, want ErrCancelled", err)
	}
}
