// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     serve
// Description: WebSocket endpoint for live transcription
// Author:      Mike Stoffels with Claude
// Created:     2026-07-19
// License:     MIT
// ============================================================================

package serve

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/msto63/mSW/internal/audio"
	"github.com/msto63/mSW/internal/decode"
	"github.com/msto63/mSW/internal/model"
	"github.com/msto63/mSW/internal/transcribe"
	"github.com/msto63/mSW/internal/vad"
	"github.com/msto63/mSW/pkg/core/logging"
)

const (
	// liveReadTimeout closes sessions that stop sending frames and pongs.
	liveReadTimeout = 120 * time.Second

	// prerollSamples of audio are kept before speech onset so the first
	// word is not clipped.
	prerollSamples = model.SampleRate / 2

	// maxUtteranceSamples forces a decode when speech runs longer than
	// one model window without a pause.
	maxUtteranceSamples = model.WindowSamples
)

// WebSocket upgrader with permissive settings for local development
var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage represents a control message from the client
type WSMessage struct {
	Type    string          `json:"type"` // "start", "stop", "ping"
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSStartPayload configures a live session
type WSStartPayload struct {
	Language       string  `json:"language,omitempty"`
	Task           string  `json:"task,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	WordTimestamps bool    `json:"word_timestamps,omitempty"`
}

// WSResponse represents a server message
type WSResponse struct {
	Type    string      `json:"type"` // "started", "speech", "transcript", "done", "error", "pong"
	Payload interface{} `json:"payload,omitempty"`
}

// WSSpeechPayload signals speech onset and offset
type WSSpeechPayload struct {
	Active bool `json:"active"`
}

// WSTranscriptPayload carries one transcribed utterance
type WSTranscriptPayload struct {
	Text     string        `json:"text"`
	Language string        `json:"language,omitempty"`
	Duration float32       `json:"duration"`
	Words    []VerboseWord `json:"words,omitempty"`
}

// WSErrorPayload represents an error payload
type WSErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LiveConfig configures the live transcription endpoint
type LiveConfig struct {
	Transcriber *transcribe.Transcriber

	// VAD holds the endpointing parameters. Zero value means defaults.
	VAD vad.Config

	// NewDetector overrides detector construction, mainly for tests.
	NewDetector func() (vad.Detector, error)

	Logger *logging.Logger
}

// LiveHandler upgrades connections and runs live transcription
// sessions. Clients send 16-bit little-endian PCM mono frames at the
// model rate as binary messages; control messages are JSON text frames.
type LiveHandler struct {
	transcriber *transcribe.Transcriber
	vadConfig   vad.Config
	newDetector func() (vad.Detector, error)
	logger      *logging.Logger
}

// NewLiveHandler creates a new live transcription handler
func NewLiveHandler(cfg LiveConfig) *LiveHandler {
	log := cfg.Logger
	if log == nil {
		log = logging.New("msw-live")
	}

	vadCfg := cfg.VAD
	if vadCfg.SampleRate == 0 {
		vadCfg = vad.DefaultConfig()
	}

	newDetector := cfg.NewDetector
	if newDetector == nil {
		newDetector = func() (vad.Detector, error) {
			if d, err := vad.NewWebRTCDetector(vadCfg); err == nil {
				return d, nil
			}
			// Energy detection works at any rate and mode
			return vad.NewEnergyDetector(vadCfg.EnergyThreshold), nil
		}
	}

	return &LiveHandler{
		transcriber: cfg.Transcriber,
		vadConfig:   vadCfg,
		newDetector: newDetector,
		logger:      log,
	}
}

// ServeHTTP handles WebSocket upgrade and connections
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	detector, err := h.newDetector()
	if err != nil {
		h.logger.Error("VAD detector unavailable", "error", err)
		conn.Close()
		return
	}

	opts := decode.DefaultOptions()
	opts.DetectLanguage = true

	s := &liveSession{
		conn:        conn,
		transcriber: h.transcriber,
		detector:    detector,
		tracker:     vad.NewSpeechTracker(h.vadConfig),
		preroll:     audio.NewRingBuffer(prerollSamples),
		utterance:   audio.NewSampleBuffer(),
		opts:        opts,
		log:         h.logger,
	}
	s.run()
}

// liveSession is the per-connection state of the live path
type liveSession struct {
	conn        *websocket.Conn
	transcriber *transcribe.Transcriber
	detector    vad.Detector
	tracker     *vad.SpeechTracker
	preroll     *audio.RingBuffer
	utterance   *audio.SampleBuffer
	opts        decode.Options
	log         *logging.Logger
	speaking    bool
}

// run reads frames and control messages until the connection closes
func (s *liveSession) run() {
	defer s.conn.Close()
	defer s.detector.Close()

	s.log.Info("live session established", "remote", s.conn.RemoteAddr().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set read deadline for ping/pong
	s.conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
		return nil
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Error("live session read error", "error", err)
			} else {
				s.log.Info("live session closed")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(liveReadTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			s.handleFrame(ctx, data)

		case websocket.TextMessage:
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.sendError("invalid_message", "Invalid JSON message")
				continue
			}

			switch msg.Type {
			case "start":
				s.handleStart(msg.Payload)
			case "stop":
				s.finishUtterance(ctx, true)
				s.sendResponse(WSResponse{Type: "done"})
				return
			case "ping":
				s.sendResponse(WSResponse{Type: "pong"})
			default:
				s.sendError("unknown_type", "Unknown message type: "+msg.Type)
			}
		}
	}
}

// handleStart applies session options and resets all utterance state
func (s *liveSession) handleStart(raw json.RawMessage) {
	var payload WSStartPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			s.sendError("invalid_payload", "Invalid start payload")
			return
		}
	}

	opts := decode.DefaultOptions()
	if payload.Task == "translate" {
		opts.Task = "translate"
	}
	if payload.Language != "" {
		opts.Language = payload.Language
	} else {
		opts.DetectLanguage = true
	}
	if payload.Temperature > 0 {
		opts.Temperature = float32(payload.Temperature)
	}
	opts.WordTimestamps = payload.WordTimestamps
	s.opts = opts

	s.resetUtterance()
	s.preroll.Clear()
	s.sendResponse(WSResponse{Type: "started"})
}

// handleFrame feeds one PCM frame through VAD and utterance assembly
func (s *liveSession) handleFrame(ctx context.Context, data []byte) {
	if len(data) < 2 {
		return
	}
	samples := audio.DecodePCM16(data)
	frame := time.Duration(float64(len(samples)) / float64(model.SampleRate) * float64(time.Second))

	speech, err := s.detector.Process(samples)
	if err != nil {
		s.log.Warn("VAD error, treating frame as speech", "error", err)
		speech = true
	}
	state := s.tracker.Update(speech, frame)

	if s.utterance.Len() > 0 || speech {
		if s.utterance.Len() == 0 {
			// Speech onset: pull in the pre-roll so the first word is
			// not clipped
			s.utterance.Append(s.preroll.Drain())
			s.setSpeaking(true)
		}
		s.utterance.Append(samples)

		if s.utterance.Len() >= maxUtteranceSamples {
			// No pause for a full model window, decode what we have
			s.finishUtterance(ctx, true)
			return
		}
	} else {
		s.preroll.Write(samples)
	}

	if s.utterance.Len() > 0 && !state.IsSpeaking {
		if s.tracker.IsValidSpeech() {
			s.finishUtterance(ctx, false)
		} else {
			// A blip below the minimum speech duration is discarded
			s.resetUtterance()
		}
	}
}

// finishUtterance decodes the assembled utterance and sends the
// transcript. With flush set, the minimum speech duration check is
// skipped.
func (s *liveSession) finishUtterance(ctx context.Context, flush bool) {
	if s.utterance.Len() == 0 {
		s.resetUtterance()
		return
	}
	if !flush && !s.tracker.IsValidSpeech() {
		s.resetUtterance()
		return
	}

	samples := s.utterance.Samples()
	s.resetUtterance()

	start := time.Now()
	result, err := s.transcriber.Transcribe(ctx, samples, s.opts)
	if err != nil {
		s.log.Error("live transcription failed", "error", err)
		s.sendError("transcription_failed", "Transcription failed: "+err.Error())
		return
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return
	}

	payload := WSTranscriptPayload{
		Text:     text,
		Language: result.Language,
		Duration: result.Duration,
	}
	for _, wd := range result.AllWords() {
		payload.Words = append(payload.Words, VerboseWord{
			Word:        wd.Word,
			Start:       wd.Start,
			End:         wd.End,
			Probability: wd.Probability,
		})
	}

	s.log.Debug("live utterance transcribed",
		"audio_seconds", result.Duration,
		"elapsed", time.Since(start),
	)
	s.sendResponse(WSResponse{Type: "transcript", Payload: payload})
}

// resetUtterance clears the assembly state for the next utterance
func (s *liveSession) resetUtterance() {
	s.utterance.Clear()
	s.tracker.Reset()
	s.setSpeaking(false)
}

// setSpeaking sends a speech event on every onset/offset transition
func (s *liveSession) setSpeaking(active bool) {
	if s.speaking == active {
		return
	}
	s.speaking = active
	s.sendResponse(WSResponse{Type: "speech", Payload: WSSpeechPayload{Active: active}})
}

// sendResponse sends a response message via WebSocket
func (s *liveSession) sendResponse(resp WSResponse) {
	if err := s.conn.WriteJSON(resp); err != nil {
		s.log.Error("live session send error", "error", err)
	}
}

// sendError sends an error response via WebSocket
func (s *liveSession) sendError(code, message string) {
	s.sendResponse(WSResponse{Type: "error", Payload: WSErrorPayload{Code: code, Message: message}})
}
