package integration

import (
	"context"
	"testing"
	"time"

	"github.com/msto63/mSW/internal/audio"
	"github.com/msto63/mSW/internal/decode"
	"github.com/msto63/mSW/internal/model"
	"github.com/msto63/mSW/internal/transcribe"
)

var special = model.MultilingualTokens()

func tsToken(index int) int {
	return special.TimeTokenBegin + index
}

// germanScript prefixes the forced prompt the engine builds for German
// transcription.
func germanScript(t *testing.T, marker float32, body ...int) model.StubScript {
	t.Helper()
	de, ok := special.TokenForLanguage("de")
	if !ok {
		t.Fatal("no language token for de")
	}
	tokens := append([]int{special.StartOfTranscript, de, special.Transcribe}, body...)
	return model.StubScript{Marker: marker, Tokens: tokens}
}

func newStubTranscriber(t *testing.T, scripts ...model.StubScript) (*transcribe.Transcriber, *model.Model) {
	t.Helper()
	m := model.StubModel(scripts...)
	tr, err := transcribe.NewTranscriber(transcribe.TranscriberConfig{Model: m})
	if err != nil {
		t.Fatalf("NewTranscriber() error = %v", err)
	}
	return tr, m
}

// writeTestWAV renders a 16 kHz mono recording whose first sample
// carries the script marker.
func writeTestWAV(t *testing.T, path string, seconds float32, marker float32) {
	t.Helper()
	samples := make([]float32, int(seconds*model.SampleRate))
	samples[0] = marker
	if err := audio.WriteWAVFile(path, samples, model.SampleRate); err != nil {
		t.Fatalf("WriteWAVFile() error = %v", err)
	}
}

func germanOptions() decode.Options {
	opts := decode.DefaultOptions()
	opts.Language = "de"
	return opts
}

func testContext(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), timeout)
}

func requireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}
