// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     remote
// Description: HTTP client for OpenAI-compatible transcription servers
// Author:      Mike Stoffels with Claude
// Created:     2026-07-21
// License:     MIT
// ============================================================================

// Package remote transcribes against a running transcription server
// instead of a local engine. It speaks the OpenAI audio API, so it works
// against msw serve as well as other Whisper servers.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/msto63/mSW/internal/audio"
	"github.com/msto63/mSW/internal/decode"
	"github.com/msto63/mSW/internal/model"
	"github.com/msto63/mSW/internal/segment"
	"github.com/msto63/mSW/internal/transcribe"
)

// Config holds client configuration
type Config struct {
	// BaseURL is the server root, for example "http://localhost:50060".
	BaseURL string

	// Timeout bounds one request including the decode on the server.
	Timeout time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:50060",
		Timeout: 60 * time.Second,
	}
}

// Client is an HTTP transcription client
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a new transcription client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Transcribe sends audio samples as an in-memory WAV body. Options
// travel in the query string.
func (c *Client) Transcribe(ctx context.Context, samples []float32, opts decode.Options) (*transcribe.TranscriptionResult, error) {
	var buf bytes.Buffer
	if err := audio.WriteWAV(&buf, samples, model.SampleRate); err != nil {
		return nil, fmt.Errorf("failed to create WAV: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(string(opts.Task)), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.URL.RawQuery = optionValues(opts).Encode()

	return c.do(req)
}

// TranscribeFile uploads an audio file as a multipart form. The server
// keeps the file name as the archive source.
func (c *Client) TranscribeFile(ctx context.Context, path string, opts decode.Options) (*transcribe.TranscriptionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	for key, values := range optionValues(opts) {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, fmt.Errorf("failed to build form: %w", err)
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(string(opts.Task)), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req)
}

// Health returns the server's aggregated health status.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// An unhealthy server answers 503 but still carries the report.
	var report struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if report.Status == "" {
		return "", fmt.Errorf("server returned %d without a status", resp.StatusCode)
	}
	return report.Status, nil
}

func (c *Client) endpoint(task string) string {
	if task == "translate" {
		return c.baseURL + "/v1/audio/translations"
	}
	return c.baseURL + "/v1/audio/transcriptions"
}

// optionValues maps decoding options onto the request parameters. The
// verbose_json format is always requested so segments and words survive
// the round trip.
func optionValues(opts decode.Options) url.Values {
	v := url.Values{}
	v.Set("response_format", "verbose_json")
	if !opts.DetectLanguage && opts.Language != "" {
		v.Set("language", opts.Language)
	}
	if opts.Temperature > 0 {
		v.Set("temperature", strconv.FormatFloat(float64(opts.Temperature), 'g', -1, 32))
	}
	if opts.WordTimestamps {
		v.Add("timestamp_granularities[]", "word")
	}
	return v
}

func (c *Client) do(req *http.Request) (*transcribe.TranscriptionResult, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var wire wireTranscription
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return wire.toResult(), nil
}

// responseError turns an error response into a readable error,
// preferring the structured message when the body carries one.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// wireTranscription mirrors the verbose_json response shape.
type wireTranscription struct {
	Task     string        `json:"task"`
	Language string        `json:"language"`
	Duration float32       `json:"duration"`
	Text     string        `json:"text"`
	Segments []wireSegment `json:"segments"`
}

type wireSegment struct {
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
	Words            []wireWord `json:"words,omitempty"`
}

type wireWord struct {
	Word        string  `json:"word"`
	Start       float32 `json:"start"`
	End         float32 `json:"end"`
	Probability float32 `json:"probability"`
}

func (wt *wireTranscription) toResult() *transcribe.TranscriptionResult {
	result := &transcribe.TranscriptionResult{
		Text:     wt.Text,
		Language: wt.Language,
		Duration: wt.Duration,
	}
	for _, ws := range wt.Segments {
		seg := segment.Segment{
			ID:               ws.ID,
			Seek:             ws.Seek,
			Start:            ws.Start,
			End:              ws.End,
			Text:             ws.Text,
			Tokens:           ws.Tokens,
			Temperature:      ws.Temperature,
			AvgLogProb:       ws.AvgLogProb,
			CompressionRatio: ws.CompressionRatio,
			NoSpeechProb:     ws.NoSpeechProb,
		}
		for _, wd := range ws.Words {
			seg.Words = append(seg.Words, segment.WordTiming{
				Word:        wd.Word,
				Start:       wd.Start,
				End:         wd.End,
				Probability: wd.Probability,
			})
		}
		result.Segments = append(result.Segments, seg)
	}
	return result
}
