// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     serve
// Description: REST handlers for transcription, archive and health
// Author:      Mike Stoffels with Claude
// Created:     2026-07-18
// License:     MIT
// ============================================================================

package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/msto63/mSW/internal/audio"
	"github.com/msto63/mSW/internal/decode"
	"github.com/msto63/mSW/internal/model"
	"github.com/msto63/mSW/internal/segment"
	"github.com/msto63/mSW/internal/store"
	"github.com/msto63/mSW/internal/transcribe"
	"github.com/msto63/mSW/pkg/core/cache"
	"github.com/msto63/mSW/pkg/core/health"
	"github.com/msto63/mSW/pkg/core/logging"
)

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// TranscriptionResponse is the default json body of a finished
// transcription
type TranscriptionResponse struct {
	Text     string         `json:"text"`
	LogProbs []TokenLogProb `json:"logprobs,omitempty"`
}

// TokenLogProb pairs a decoded token with its sampling log probability
type TokenLogProb struct {
	Token   string  `json:"token"`
	LogProb float32 `json:"logprob"`
}

// VerboseTranscriptionResponse is the verbose_json body with per-segment
// detail
type VerboseTranscriptionResponse struct {
	Task     string           `json:"task"`
	Language string           `json:"language"`
	Duration float32          `json:"duration"`
	Text     string           `json:"text"`
	Segments []VerboseSegment `json:"segments"`
}

// VerboseSegment mirrors one decoded segment on the wire
type VerboseSegment struct {
	ID               int           `json:"id"`
	Seek             int           `json:"seek"`
	Start            float32       `json:"start"`
	End              float32       `json:"end"`
	Text             string        `json:"text"`
	Tokens           []int         `json:"tokens"`
	Temperature      float32       `json:"temperature"`
	AvgLogProb       float32       `json:"avg_logprob"`
	CompressionRatio float32       `json:"compression_ratio"`
	NoSpeechProb     float32       `json:"no_speech_prob"`
	Words            []VerboseWord `json:"words,omitempty"`
}

// VerboseWord is one aligned word inside a segment
type VerboseWord struct {
	Word        string  `json:"word"`
	Start       float32 `json:"start"`
	End         float32 `json:"end"`
	Probability float32 `json:"probability"`
}

// ModelInfo describes one servable engine
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse lists the servable engines
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// TranscriptsResponse lists archived transcripts
type TranscriptsResponse struct {
	Transcripts []*store.Record `json:"transcripts"`
	Total       int             `json:"total"`
}

// Handler handles the REST endpoints of the transcription server
type Handler struct {
	config      Config
	transcriber *transcribe.Transcriber
	archive     store.TranscriptStore
	results     *cache.ResultsCache
	health      *health.Registry
	logger      *logging.Logger
	startTime   time.Time
}

// NewHandler creates a new REST handler
func NewHandler(cfg Config, transcriber *transcribe.Transcriber, archive store.TranscriptStore, results *cache.ResultsCache, registry *health.Registry) *Handler {
	return &Handler{
		config:      cfg,
		transcriber: transcriber,
		archive:     archive,
		results:     results,
		health:      registry,
		logger:      logging.New("msw-handler"),
		startTime:   time.Now(),
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Add CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	path := r.URL.Path
	switch {
	case path == "/" || path == "":
		h.handleRoot(w, r)
	case path == "/health" || path == "/health/":
		h.handleHealth(w, r)
	case path == "/v1/models":
		h.handleModels(w, r)
	case path == "/v1/audio/transcriptions":
		h.handleAudio(w, r, "transcribe")
	case path == "/v1/audio/translations":
		h.handleAudio(w, r, "translate")
	case path == "/v1/transcripts":
		h.handleTranscripts(w, r)
	case strings.HasPrefix(path, "/v1/transcripts/"):
		h.handleTranscriptByID(w, r)
	default:
		h.writeError(w, http.StatusNotFound, "not_found", "Endpoint not found", "")
	}
}

// handleRoot describes the API
func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":    "meinSPRACHWERK API",
		"version": h.config.Version,
		"endpoints": map[string][]string{
			"core": {
				"GET  /health",
				"GET  /v1/models",
			},
			"audio": {
				"POST /v1/audio/transcriptions",
				"POST /v1/audio/translations",
				"WS   /ws/v1/audio/transcriptions",
			},
			"archive": {
				"GET    /v1/transcripts",
				"GET    /v1/transcripts/{id}",
				"DELETE /v1/transcripts/{id}",
			},
		},
	}
	h.writeJSON(w, http.StatusOK, info)
}

// handleHealth runs the registered health checks
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}

	report := h.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, report)
}

// handleModels lists the loaded engine
func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}

	h.writeJSON(w, http.StatusOK, ModelsResponse{
		Object: "list",
		Data: []ModelInfo{{
			ID:      h.config.ModelID,
			Object:  "model",
			Created: h.startTime.Unix(),
			OwnedBy: "msto63",
		}},
	})
}

// audioRequest is a parsed transcription or translation request
type audioRequest struct {
	samples         []float32
	source          string
	opts            decode.Options
	responseFormat  string
	stream          bool
	includeLogProbs bool
}

// handleAudio serves /v1/audio/transcriptions and /v1/audio/translations
func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request, task string) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST", "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)

	req, err := h.readAudioRequest(r, task)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large", "Audio upload exceeds the size limit", "")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid audio request", err.Error())
		return
	}

	// Byte-identical uploads with identical options skip the decode
	sum := store.FingerprintSum(req.samples)
	fingerprint := fmt.Sprintf("%x", sum)
	cacheKey := h.results.Key(sum, req.opts.Signature())

	if req.stream {
		h.streamTranscription(w, r, req, cacheKey, fingerprint)
		return
	}

	if cached, ok := h.results.Get(cacheKey); ok {
		if result, ok := cached.(*transcribe.TranscriptionResult); ok {
			h.logger.Debug("serving transcription from cache", "source", req.source)
			h.writeTranscription(w, req, result)
			return
		}
	}

	result, err := h.transcriber.Transcribe(r.Context(), req.samples, req.opts)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Transcription failed", err.Error())
		return
	}

	h.results.Put(cacheKey, result)
	h.archiveResult(r.Context(), req, fingerprint, result)
	h.writeTranscription(w, req, result)
}

// readAudioRequest parses a multipart upload or a raw WAV body into
// samples and decoding options. Raw bodies carry their options in the
// query string, the format the voice assistant clients send.
func (h *Handler) readAudioRequest(r *http.Request, task string) (*audioRequest, error) {
	req := &audioRequest{
		source:         "upload",
		responseFormat: "json",
	}

	var (
		data          []byte
		language      string
		temperature   string
		format        string
		stream        string
		granularities []string
		include       []string
	)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, fmt.Errorf("invalid multipart form: %w", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("file field is required")
		}
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			return nil, fmt.Errorf("reading upload: %w", err)
		}
		if header.Filename != "" {
			req.source = filepath.Base(header.Filename)
		}
		if m := r.FormValue("model"); m != "" && m != h.config.ModelID {
			return nil, fmt.Errorf("unknown model %q", m)
		}
		language = r.FormValue("language")
		temperature = r.FormValue("temperature")
		format = r.FormValue("response_format")
		stream = r.FormValue("stream")
		granularities = r.MultipartForm.Value["timestamp_granularities[]"]
		include = r.MultipartForm.Value["include[]"]
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading upload: %w", err)
		}
		data = body
		q := r.URL.Query()
		language = q.Get("language")
		temperature = q.Get("temperature")
		format = q.Get("response_format")
		stream = q.Get("stream")
		granularities = q["timestamp_granularities[]"]
		include = q["include[]"]
	}

	samples, rate, err := audio.ReadWAV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding WAV: %w", err)
	}
	if rate != model.SampleRate {
		samples = audio.Resample(samples, rate, model.SampleRate)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("audio file contains no samples")
	}
	req.samples = samples

	opts := decode.DefaultOptions()
	opts.Task = decode.Task(task)
	if language != "" {
		opts.Language = language
	} else {
		opts.DetectLanguage = true
	}
	if temperature != "" {
		v, err := strconv.ParseFloat(temperature, 32)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid temperature %q", temperature)
		}
		opts.Temperature = float32(v)
	}
	for _, g := range granularities {
		switch g {
		case "word":
			opts.WordTimestamps = true
		case "segment":
			// segment timestamps are always produced
		default:
			return nil, fmt.Errorf("unknown timestamp granularity %q", g)
		}
	}
	for _, inc := range include {
		if inc == "logprobs" {
			req.includeLogProbs = true
		}
	}
	req.opts = opts

	if format != "" {
		switch format {
		case "json", "verbose_json", "text", "srt", "vtt":
			req.responseFormat = format
		default:
			return nil, fmt.Errorf("unknown response format %q", format)
		}
	}
	req.stream = stream == "true" || stream == "1"

	return req, nil
}

// streamTranscription serves the decode as SSE events, one delta per
// discovered segment
func (h *Handler) streamTranscription(w http.ResponseWriter, r *http.Request, req *audioRequest, cacheKey, fingerprint string) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Streaming not supported", "")
		return
	}

	cb := transcribe.Callbacks{
		SegmentDiscovery: func(segments []segment.Segment) {
			for _, seg := range segments {
				payload, _ := json.Marshal(map[string]string{"delta": seg.Text})
				fmt.Fprintf(w, "event: transcript.text.delta\ndata: %s\n\n", payload)
			}
			flusher.Flush()
		},
	}

	result, err := h.transcriber.TranscribeWithCallbacks(r.Context(), req.samples, req.opts, cb)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
		flusher.Flush()
		return
	}

	h.results.Put(cacheKey, result)
	h.archiveResult(r.Context(), req, fingerprint, result)

	payload, _ := json.Marshal(TranscriptionResponse{Text: strings.TrimSpace(result.Text)})
	fmt.Fprintf(w, "event: transcript.text.done\ndata: %s\n\n", payload)
	flusher.Flush()
}

// archiveResult persists a finished transcription; failures are logged,
// not returned
func (h *Handler) archiveResult(ctx context.Context, req *audioRequest, fingerprint string, result *transcribe.TranscriptionResult) {
	if h.archive == nil {
		return
	}
	text := strings.TrimSpace(result.Text)
	if text == "" && len(result.Segments) == 0 {
		return
	}

	rec := &store.Record{
		Fingerprint: fingerprint,
		Source:      req.source,
		Language:    result.Language,
		Task:        string(req.opts.Task),
		Text:        text,
		Duration:    result.Duration,
		Segments:    result.Segments,
	}
	if err := h.archive.Save(ctx, rec); err != nil {
		h.logger.Warn("failed to archive transcript", "source", req.source, "error", err)
	}
}

// writeTranscription renders a result in the requested response format
func (h *Handler) writeTranscription(w http.ResponseWriter, req *audioRequest, result *transcribe.TranscriptionResult) {
	text := strings.TrimSpace(result.Text)

	switch req.responseFormat {
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, text)
	case "srt":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		transcribe.WriteReport(w, transcribe.FormatSRT, result)
	case "vtt":
		w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
		transcribe.WriteReport(w, transcribe.FormatVTT, result)
	case "verbose_json":
		h.writeJSON(w, http.StatusOK, verboseTranscription(string(req.opts.Task), result))
	default:
		resp := TranscriptionResponse{Text: text}
		if req.includeLogProbs {
			resp.LogProbs = h.tokenLogProbs(result)
		}
		h.writeJSON(w, http.StatusOK, resp)
	}
}

// verboseTranscription maps a result onto the verbose_json wire shape
func verboseTranscription(task string, result *transcribe.TranscriptionResult) VerboseTranscriptionResponse {
	resp := VerboseTranscriptionResponse{
		Task:     task,
		Language: result.Language,
		Duration: result.Duration,
		Text:     strings.TrimSpace(result.Text),
		Segments: make([]VerboseSegment, 0, len(result.Segments)),
	}
	for _, seg := range result.Segments {
		vs := VerboseSegment{
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
		for _, wd := range seg.Words {
			vs.Words = append(vs.Words, VerboseWord{
				Word:        wd.Word,
				Start:       wd.Start,
				End:         wd.End,
				Probability: wd.Probability,
			})
		}
		resp.Segments = append(resp.Segments, vs)
	}
	return resp
}

// tokenLogProbs flattens the per-token log probabilities of all text
// tokens, skipping timestamps and other specials
func (h *Handler) tokenLogProbs(result *transcribe.TranscriptionResult) []TokenLogProb {
	tokenizer := h.transcriber.Tokenizer()
	special := tokenizer.SpecialTokens()

	var out []TokenLogProb
	for _, seg := range result.Segments {
		for i, id := range seg.Tokens {
			if i >= len(seg.TokenLogProbs) {
				break
			}
			if id >= special.SpecialTokenBegin {
				continue
			}
			out = append(out, TokenLogProb{
				Token:   tokenizer.Decode([]int{id}),
				LogProb: seg.TokenLogProbs[i],
			})
		}
	}
	return out
}

// handleTranscripts lists archived transcripts
func (h *Handler) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}
	if h.archive == nil {
		h.writeError(w, http.StatusServiceUnavailable, "service_unavailable", "Archive not available", "")
		return
	}

	q := r.URL.Query()
	filter := store.Filter{
		Language: q.Get("language"),
		Source:   q.Get("source"),
		Search:   q.Get("q"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	records, err := h.archive.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list transcripts", err.Error())
		return
	}
	if records == nil {
		records = []*store.Record{}
	}
	h.writeJSON(w, http.StatusOK, TranscriptsResponse{Transcripts: records, Total: len(records)})
}

// handleTranscriptByID serves and deletes single archived transcripts
func (h *Handler) handleTranscriptByID(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		h.writeError(w, http.StatusServiceUnavailable, "service_unavailable", "Archive not available", "")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/transcripts/")
	if id == "" || strings.Contains(id, "/") {
		h.writeError(w, http.StatusNotFound, "not_found", "Endpoint not found", "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := h.archive.Get(r.Context(), id)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load transcript", err.Error())
			return
		}
		if rec == nil {
			h.writeError(w, http.StatusNotFound, "not_found", "Transcript not found", "")
			return
		}
		h.writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		if err := h.archive.Delete(r.Context(), id); err != nil {
			h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete transcript", err.Error())
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "id": id})
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET or DELETE", "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	resp := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}
	h.writeJSON(w, status, resp)
}
