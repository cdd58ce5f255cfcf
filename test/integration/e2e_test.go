package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/msto63/mSW/internal/model"
	"github.com/msto63/mSW/internal/transcribe"
)

// TestE2E_FileToReports covers the full local flow: WAV file in, decoded
// transcription out, every report format written to disk.
func TestE2E_FileToReports(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "aufnahme.wav")
	writeTestWAV(t, input, 10, 0.5)

	tr, _ := newStubTranscriber(t, germanScript(t, 0.5, tsToken(0), 1000, 1001, tsToken(225)))

	ctx, cancel := testContext(t, 30*time.Second)
	defer cancel()

	t.Log("Step 1: Transcribing file...")
	result, err := tr.TranscribeFile(ctx, input, germanOptions())
	requireNoError(t, err, "TranscribeFile failed")

	if result.Text != "hallo welt" {
		t.Errorf("Text = %q, want %q", result.Text, "hallo welt")
	}
	if result.Language != "de" {
		t.Errorf("Language = %q, want %q", result.Language, "de")
	}
	if len(result.Segments) != 1 {
		t.Fatalf("len(Segments) = %d, want 1", len(result.Segments))
	}
	seg := result.Segments[0]
	if seg.Start != 0 || seg.End != 4.5 {
		t.Errorf("segment spans [%v, %v], want [0, 4.5]", seg.Start, seg.End)
	}

	t.Log("Step 2: Writing reports...")
	outDir := filepath.Join(dir, "out")
	cases := []struct {
		format   transcribe.Format
		wantExt  string
		contains string
	}{
		{transcribe.FormatText, ".txt", "hallo welt\n"},
		{transcribe.FormatJSON, ".json", `"text": "hallo welt"`},
		{transcribe.FormatSRT, ".srt", "1\n00:00:00,000 --> 00:00:04,500\nhallo welt"},
		{transcribe.FormatVTT, ".vtt", "WEBVTT\n\n00:00:00.000 --> 00:00:04.500\nhallo welt"},
	}
	for _, tc := range cases {
		path, err := transcribe.WriteReportFile(outDir, "aufnahme", tc.format, result)
		requireNoError(t, err, fmt.Sprintf("WriteReportFile(%s) failed", tc.format))
		if filepath.Ext(path) != tc.wantExt {
			t.Errorf("%s report path = %q, want extension %q", tc.format, path, tc.wantExt)
		}
		data, err := os.ReadFile(path)
		requireNoError(t, err, "reading report")
		if !strings.Contains(string(data), tc.contains) {
			t.Errorf("%s report missing %q:\n%s", tc.format, tc.contains, data)
		}
	}
}

// TestE2E_WordAlignment runs the word-timestamp path end to end and
// checks that the words reach the JSON report.
func TestE2E_WordAlignment(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "aufnahme.wav")
	writeTestWAV(t, input, 10, 0.5)

	tr, m := newStubTranscriber(t,
		germanScript(t, 0.5, tsToken(0), 1000, 1001, 1002, 1003, tsToken(250)))
	m.TextDecoder.(*model.StubTextDecoder).EmitAlignment = true

	ctx, cancel := testContext(t, 30*time.Second)
	defer cancel()

	opts := germanOptions()
	opts.WordTimestamps = true
	result, err := tr.TranscribeFile(ctx, input, opts)
	requireNoError(t, err, "TranscribeFile failed")

	words := result.AllWords()
	if len(words) != 4 {
		t.Fatalf("len(AllWords()) = %d, want 4", len(words))
	}
	for i := 1; i < len(words); i++ {
		if words[i].Start < words[i-1].End {
			t.Errorf("word %d starts at %v before previous end %v", i, words[i].Start, words[i-1].End)
		}
	}

	path, err := transcribe.WriteReportFile(dir, "aufnahme", transcribe.FormatJSON, result)
	requireNoError(t, err, "WriteReportFile failed")
	data, err := os.ReadFile(path)
	requireNoError(t, err, "reading report")
	if !strings.Contains(string(data), `"words"`) {
		t.Errorf("JSON report has no words block:\n%s", data)
	}
}

// TestE2E_JobFile loads a YAML job from disk and runs it through the
// pipeline, the way the watch mode does for every dropped-in file.
func TestE2E_JobFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "besprechung.wav")
	writeTestWAV(t, input, 10, 0.5)
	outDir := filepath.Join(dir, "out")

	jobPath := filepath.Join(dir, "auftrag.yaml")
	jobYAML := fmt.Sprintf(
		"name: besprechung\ninput: %s\noutput_dir: %s\nformats:\n  - text\n  - srt\nlanguage: de\n",
		input, outDir)
	requireNoError(t, os.WriteFile(jobPath, []byte(jobYAML), 0o644), "writing job file")

	tr, _ := newStubTranscriber(t, germanScript(t, 0.5, tsToken(0), 1000, 1001, tsToken(225)))

	ctx, cancel := testContext(t, 30*time.Second)
	defer cancel()

	t.Log("Step 1: Loading job...")
	job, err := transcribe.LoadJob(jobPath)
	requireNoError(t, err, "LoadJob failed")
	if job.Name != "besprechung" {
		t.Errorf("job.Name = %q, want %q", job.Name, "besprechung")
	}

	t.Log("Step 2: Running job...")
	written, err := tr.RunJob(ctx, job)
	requireNoError(t, err, "RunJob failed")
	if len(written) != 2 {
		t.Fatalf("len(written) = %d, want 2: %v", len(written), written)
	}

	for _, path := range written {
		data, err := os.ReadFile(path)
		requireNoError(t, err, "reading report")
		if !strings.Contains(string(data), "hallo welt") {
			t.Errorf("report %s missing transcript:\n%s", path, data)
		}
	}
}
