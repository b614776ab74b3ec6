// Package session handles capture client websocket connections: it accepts
// raw audio from the client, drives the live transcription connection, and
// streams transcript and analysis updates back.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/veridict/fact-gateway/internal/analysis"
	"github.com/veridict/fact-gateway/internal/audio"
	"github.com/veridict/fact-gateway/internal/auditlog"
	"github.com/veridict/fact-gateway/internal/config"
	"github.com/veridict/fact-gateway/internal/events"
	"github.com/veridict/fact-gateway/internal/live"
	"github.com/veridict/fact-gateway/internal/observability"
	"github.com/veridict/fact-gateway/internal/resilience"
	"github.com/veridict/fact-gateway/internal/transcript"
)

// transcribeCostPerMinute is a rough usage estimate for audit reporting,
// not a billing source of truth
const transcribeCostPerMinute = 0.006

// sampleBufferSeconds sizes the ring buffer between the client's submission
// cadence and the outbound frame cadence
const sampleBufferSeconds = 10

var (
	errSessionStarted        = errors.New("session already started")
	errBadSampleRate         = errors.New("sampleRate must be positive")
	errTranscribeUnavailable = errors.New("transcription service unavailable")
)

// Handler accepts capture client connections on /streams/live
type Handler struct {
	cfg       *config.Config
	verifier  analysis.Verifier
	audit     *auditlog.Client
	publisher *events.Publisher
	logger    zerolog.Logger

	// dialer overrides the live connection's transport; nil means websocket
	dialer live.Dialer

	upgrader websocket.Upgrader
}

// NewHandler creates a session handler
func NewHandler(cfg *config.Config, verifier analysis.Verifier, audit *auditlog.Client, publisher *events.Publisher, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		verifier:  verifier,
		audit:     audit,
		publisher: publisher,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Capture clients connect from arbitrary origins (browser extensions,
			// desktop apps); authentication is handled upstream of this service
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// clientMessage is one inbound message from the capture client
type clientMessage struct {
	Type string `json:"type"` // "start", "audio", "stop"

	// start fields
	SampleRate int               `json:"sampleRate,omitempty"`
	Mode       string            `json:"mode,omitempty"`
	History    []analysis.Result `json:"history,omitempty"` // Prior results to seed the session with

	// audio fields
	Data string `json:"data,omitempty"` // Base64 little-endian float32 samples
}

// serverMessage is one outbound message to the capture client
type serverMessage struct {
	Type       string            `json:"type"` // "status", "transcript", "analysis", "error"
	State      string            `json:"state,omitempty"`
	Transcript *transcript.Event `json:"transcript,omitempty"`
	Result     *analysis.Result  `json:"result,omitempty"`
	Message    string            `json:"message,omitempty"`
}

// HandleLiveStream upgrades the request and runs one capture session to
// completion
func (h *Handler) HandleLiveStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade capture connection")
		observability.RecordError("upgrade_error", "session")
		return
	}

	s := &session{
		id:        observability.NewID(),
		handler:   h,
		ws:        conn,
		startTime: time.Now(),
	}
	s.logger = observability.WithSession(s.id)

	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Capture client connected")
	s.run()
}

// session is one capture client connection and everything it owns
type session struct {
	id        string
	handler   *Handler
	ws        *websocket.Conn
	logger    zerolog.Logger
	startTime time.Time

	writeMu sync.Mutex

	// Populated by the start message
	started    bool
	sampleRate int
	metrics    *observability.SessionMetrics
	buffer     *audio.SampleBuffer
	meter      *audio.LevelMeter
	dispatcher *analysis.Dispatcher
	liveConn   *live.Connection
	auditID    string

	// assembler is driven from the live receive loop and flushed from status
	// callbacks; tokenMu serializes those paths
	tokenMu   sync.Mutex
	assembler *transcript.Assembler

	samplesSent int64
}

func (s *session) run() {
	defer s.teardown()

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("Capture connection lost")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("unparseable message")
			continue
		}

		switch msg.Type {
		case "start":
			if err := s.handleStart(&msg); err != nil {
				s.sendError(err.Error())
			}
		case "audio":
			s.handleAudio(&msg)
		case "stop":
			s.logger.Info().Msg("Capture client requested stop")
			return
		default:
			s.sendError("unknown message type: " + msg.Type)
		}
	}
}

// handleStart builds the session pipeline and opens the live connection
func (s *session) handleStart(msg *clientMessage) error {
	if s.started {
		return errSessionStarted
	}
	if msg.SampleRate <= 0 {
		return errBadSampleRate
	}

	cfg := s.handler.cfg
	s.sampleRate = msg.SampleRate
	s.buffer = audio.NewSampleBuffer(msg.SampleRate * sampleBufferSeconds)
	s.meter = audio.NewLevelMeter(&audio.LevelConfig{
		Threshold:   cfg.LevelThreshold,
		QuietFrames: cfg.LevelQuietFrames,
	})

	s.metrics = observability.NewSessionMetrics(s.id)
	s.metrics.RecordSessionStart()

	history := analysis.NewHistory(msg.History)
	breaker := resilience.NewCircuitBreaker("verifier",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)

	s.dispatcher = analysis.NewDispatcher(history, s.handler.verifier, breaker,
		s.onAnalysisUpdate, s.metrics, s.logger, analysis.DispatcherConfig{
			MinSegmentLen:   cfg.MinSegmentLen,
			ContextSegments: cfg.ContextSegments,
			VerifyTimeout:   time.Duration(cfg.VerifyTimeout) * time.Second,
		})

	s.assembler = transcript.New(cfg.MaxPartialLen, s.onTranscriptEvent)

	opts := live.OptionsFromConfig(cfg)
	opts.Dialer = s.handler.dialer
	opts.Logger = s.logger
	opts.OnToken = func(token string) {
		s.tokenMu.Lock()
		s.assembler.OnToken(token)
		s.tokenMu.Unlock()
	}
	opts.OnStatus = s.onConnectionState
	s.liveConn = live.NewConnection(opts)

	if err := s.liveConn.Connect(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to open live connection")
		observability.RecordError("connect_error", "session")
		s.metrics.RecordSessionEnd()
		s.metrics = nil
		return errTranscribeUnavailable
	}

	mode := msg.Mode
	if mode == "" {
		mode = "live"
	}
	s.auditID = s.handler.audit.StartSession(context.Background(), mode)

	s.started = true
	s.logger.Info().
		Int("sample_rate", s.sampleRate).
		Str("mode", mode).
		Int("seeded_results", history.Len()).
		Msg("Capture session started")
	return nil
}

// handleAudio buffers submitted samples and forwards full frames upstream
func (s *session) handleAudio(msg *clientMessage) {
	if !s.started {
		s.sendError("session not started")
		return
	}

	raw, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		s.sendError("undecodable audio payload")
		observability.RecordError("audio_decode_error", "session")
		return
	}
	samples, err := audio.DecodeFloat32(raw)
	if err != nil {
		s.sendError("malformed audio payload")
		observability.RecordError("audio_decode_error", "session")
		return
	}
	observability.RecordAudioBytesIn(len(raw))

	if written := s.buffer.Write(samples); written < len(samples) {
		s.logger.Warn().Int("dropped", len(samples)-written).Msg("Sample buffer full, dropping samples")
		observability.RecordFrameDropped("buffer_full")
	}

	for {
		frame, ok := s.buffer.ReadFrame(s.handler.cfg.FrameSize)
		if !ok {
			break
		}
		_, started, ended := s.meter.Process(frame)
		if started {
			s.logger.Debug().Float64("rms", s.meter.LastRMS()).Msg("Speech level rose")
		}
		if ended {
			s.logger.Debug().Msg("Speech level fell")
		}
		s.liveConn.SendFrame(frame, s.sampleRate)
		s.samplesSent += int64(len(frame))
	}
}

// onTranscriptEvent forwards assembler events to the client and dispatches
// final segments for verification
func (s *session) onTranscriptEvent(ev transcript.Event) {
	observability.RecordTranscriptEvent(ev.IsFinal)
	s.send(serverMessage{Type: "transcript", Transcript: &ev})

	if ev.IsFinal {
		segmentID := s.dispatcher.OnFinalSegment(ev.Text)
		if segmentID != "" {
			s.handler.publisher.PublishTranscript(context.Background(), s.id, segmentID, ev.Text)
		}
	}
}

// onAnalysisUpdate forwards every history update to the client and reports
// resolved entries to the collaborators
func (s *session) onAnalysisUpdate(result analysis.Result) {
	s.send(serverMessage{Type: "analysis", Result: &result})

	if !result.Pending {
		// Collaborator reporting happens off the resolution path
		go func() {
			s.handler.audit.LogAnalysis(context.Background(), s.auditID, result)
			s.handler.publisher.PublishAnalysis(context.Background(), s.id, result)
		}()
	}
}

// onConnectionState reports live connection transitions to the client.
// A reconnect drops any half-assembled utterance: its audio is gone, so the
// next token stream starts clean.
func (s *session) onConnectionState(state live.State) {
	if s.metrics != nil {
		s.metrics.RecordConnectionState(int(state))
	}
	if state == live.StateConnecting && s.assembler != nil {
		s.tokenMu.Lock()
		s.assembler.Flush()
		s.tokenMu.Unlock()
	}
	s.send(serverMessage{Type: "status", State: state.String()})
}

func (s *session) teardown() {
	if s.started {
		// Push out whatever is still buffered before closing
		if rest := s.buffer.Drain(); len(rest) > 0 {
			s.liveConn.SendFrame(rest, s.sampleRate)
			s.samplesSent += int64(len(rest))
		}
		s.liveConn.Disconnect()

		audioMinutes := float64(s.samplesSent) / float64(s.sampleRate) / 60
		s.handler.audit.EndSession(context.Background(), s.auditID,
			audioMinutes*transcribeCostPerMinute, time.Since(s.startTime).Seconds())

		s.metrics.RecordSessionEnd()
	}

	_ = s.ws.Close()
	s.logger.Info().
		Dur("duration", time.Since(s.startTime)).
		Msg("Capture session closed")
}

// send writes one message to the capture client. Writes come from the read
// loop, the live receive loop and verification goroutines; writeMu serializes
// them. A failed write is logged and dropped; the read loop notices the dead
// connection on its own.
func (s *session) send(msg serverMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ws.WriteJSON(msg); err != nil {
		s.logger.Debug().Err(err).Str("type", msg.Type).Msg("Failed to write to capture client")
	}
}

func (s *session) sendError(message string) {
	s.send(serverMessage{Type: "error", Message: message})
}
