// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     transcribe
// Description: Transcript output writers: text, JSON, SRT and WebVTT
// Author:      Mike Stoffels with Claude
// Created:     2026-07-12
// License:     MIT
// ============================================================================

package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format names a transcript output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
)

// ParseFormat resolves a format name, case-insensitively.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatSRT:
		return FormatSRT, nil
	case FormatVTT:
		return FormatVTT, nil
	}
	return "", fmt.Errorf("%w: %q", ErrJobInvalidFormat, name)
}

// Extension returns the file extension of the format, with dot.
func (f Format) Extension() string {
	if f == FormatText {
		return ".txt"
	}
	return "." + string(f)
}

// WriteReport renders the result in the given format.
func WriteReport(w io.Writer, format Format, result *TranscriptionResult) error {
	switch format {
	case FormatText:
		return writeText(w, result)
	case FormatJSON:
		return writeJSON(w, result)
	case FormatSRT:
		return writeSRT(w, result)
	case FormatVTT:
		return writeVTT(w, result)
	}
	return fmt.Errorf("%w: %q", ErrJobInvalidFormat, format)
}

// WriteReportFile renders the result into dir/<name>.<format>.
func WriteReportFile(dir, name string, format Format, result *TranscriptionResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+format.Extension())
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := WriteReport(f, format, result); err != nil {
		return "", err
	}
	return path, nil
}

func writeText(w io.Writer, result *TranscriptionResult) error {
	_, err := fmt.Fprintln(w, strings.TrimSpace(result.Text))
	return err
}

// jsonReport is the JSON rendering of a transcription result.
type jsonReport struct {
	Language string        `json:"language"`
	Duration float32       `json:"duration"`
	Text     string        `json:"text"`
	Segments []jsonSegment `json:"segments"`
}

type jsonSegment struct {
	ID               int        `json:"id"`
	Seek             int        `json:"seek"`
	Start            float32    `json:"start"`
	End              float32    `json:"end"`
	Text             string     `json:"text"`
	Tokens           []int      `json:"tokens"`
	Temperature      float32    `json:"temperature"`
	AvgLogProb       float32    `json:"avg_logprob"`
	CompressionRatio float32    `json:"compression_ratio"`
	NoSpeechProb     float32    `json:"no_speech_prob"`
	Words            []jsonWord `json:"words,omitempty"`
}

type jsonWord struct {
	Word        string  `json:"word"`
	Start       float32 `json:"start"`
	End         float32 `json:"end"`
	Probability float32 `json:"probability"`
}

func writeJSON(w io.Writer, result *TranscriptionResult) error {
	report := jsonReport{
		Language: result.Language,
		Duration: result.Duration,
		Text:     strings.TrimSpace(result.Text),
		Segments: make([]jsonSegment, 0, len(result.Segments)),
	}
	for _, seg := range result.Segments {
		js := jsonSegment{
			ID:               seg.ID,
			Seek:             seg.Seek,
			Start:            seg.Start,
			End:              seg.End,
			Text:             seg.Text,
			Tokens:           seg.Tokens,
			Temperature:      seg.Temperature,
			AvgLogProb:       seg.AvgLogProb,
			CompressionRatio: seg.CompressionRatio,
			NoSpeechProb:     seg.NoSpeechProb,
		}
		for _, word := range seg.Words {
			js.Words = append(js.Words, jsonWord{
				Word:        word.Word,
				Start:       word.Start,
				End:         word.End,
				Probability: word.Probability,
			})
		}
		report.Segments = append(report.Segments, js)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeSRT(w io.Writer, result *TranscriptionResult) error {
	for i, seg := range result.Segments {
		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			i+1,
			clockTimestamp(seg.Start, ","),
			clockTimestamp(seg.End, ","),
			strings.TrimSpace(seg.Text))
		if err != nil {
			return err
		}
	}
	return nil
}

func writeVTT(w io.Writer, result *TranscriptionResult) error {
	if _, err := fmt.Fprint(w, "WEBVTT\n\n"); err != nil {
		return err
	}
	for _, seg := range result.Segments {
		_, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n",
			clockTimestamp(seg.Start, "."),
			clockTimestamp(seg.End, "."),
			strings.TrimSpace(seg.Text))
		if err != nil {
			return err
		}
	}
	return nil
}

// clockTimestamp renders seconds as HH:MM:SS<sep>mmm, the subtitle clock
// form. SRT separates milliseconds with a comma, WebVTT with a dot.
func clockTimestamp(seconds float32, sep string) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds * 1000)
	ms := total % 1000
	sec := total / 1000 % 60
	min := total / 60000 % 60
	hour := total / 3600000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hour, min, sec, sep, ms)
}

// RunJob transcribes every input of a job and writes all requested
// report formats. It returns the paths of the written reports.
func (t *Transcriber) RunJob(ctx context.Context, job *Job) ([]string, error) {
	formats, err := job.ReportFormats()
	if err != nil {
		return nil, err
	}
	opts := job.Options()

	var written []string
	inputs := job.InputFiles()
	for _, input := range inputs {
		result, err := t.TranscribeFile(ctx, input, opts)
		if err != nil {
			return written, fmt.Errorf("%s: %w", input, err)
		}

		name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		if len(inputs) == 1 && job.Name != "" {
			name = job.Name
		}
		for _, format := range formats {
			path, err := WriteReportFile(job.OutputDir, name, format, result)
			if err != nil {
				return written, err
			}
			written = append(written, path)
			t.log.Info("report written", "file", path, "format", string(format))
		}
	}
	return written, nil
}
