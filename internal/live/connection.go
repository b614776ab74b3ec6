// Package live maintains the duplex connection to the speech transcription
// service: it streams encoded audio frames upstream and normalizes the
// service's transcription messages into text tokens.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/veridict/fact-gateway/internal/audio"
	"github.com/veridict/fact-gateway/internal/config"
	"github.com/veridict/fact-gateway/internal/observability"
	"github.com/veridict/fact-gateway/internal/resilience"
)

// State is the lifecycle state of a live connection
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateClosing
	StateFaulted
)

// String returns the wire name of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateClosing:
		return "closing"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Options configures a live connection
type Options struct {
	URL      string
	APIKey   string
	Model    string
	Language string

	TargetSampleRate int
	Gain             float64

	// CloseDelay applies after a clean upstream close, ErrorDelay after a
	// transport error. Both precede the first reconnection attempt.
	CloseDelay time.Duration
	ErrorDelay time.Duration
	MaxBackoff time.Duration

	Dialer   Dialer
	OnToken  func(token string)
	OnStatus func(state State)
	Logger   zerolog.Logger
}

// OptionsFromConfig builds connection options from service configuration.
// Dialer and callbacks are left for the caller to fill in.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:              cfg.TranscribeURL,
		APIKey:           cfg.TranscribeAPIKey,
		Model:            cfg.TranscribeModel,
		Language:         cfg.TranscribeLanguage,
		TargetSampleRate: cfg.TargetSampleRate,
		Gain:             cfg.CaptureGain,
		CloseDelay:       time.Duration(cfg.ReconnectCloseDelay) * time.Millisecond,
		ErrorDelay:       time.Duration(cfg.ReconnectErrorDelay) * time.Millisecond,
		MaxBackoff:       time.Duration(cfg.ReconnectMaxBackoff) * time.Millisecond,
	}
}

// Connection owns one logical transcription session. The underlying
// transport may be replaced many times over the connection's life: every
// non-operator close is followed by a reconnection attempt for as long as
// the operator wants the session up.
type Connection struct {
	opts     Options
	dialer   Dialer
	onToken  func(string)
	onStatus func(State)
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	transport      Transport
	generation     int
	shouldMaintain bool

	writeMu sync.Mutex
}

// NewConnection creates a connection; no transport is opened until Connect
func NewConnection(opts Options) *Connection {
	if opts.Dialer == nil {
		opts.Dialer = &WebsocketDialer{}
	}
	if opts.OnToken == nil {
		opts.OnToken = func(string) {}
	}
	if opts.OnStatus == nil {
		opts.OnStatus = func(State) {}
	}
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = time.Second
	}
	if opts.ErrorDelay <= 0 {
		opts.ErrorDelay = 3 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Connection{
		opts:     opts,
		dialer:   opts.Dialer,
		onToken:  opts.OnToken,
		onStatus: opts.OnStatus,
		logger:   opts.Logger,
		state:    StateDisconnected,
	}
}

// State returns the current connection state
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect marks the session as wanted and opens the first transport.
// An error here means the first attempt failed; the session does not retry
// until it has been up at least once, so the caller can surface setup
// problems immediately.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.shouldMaintain {
		c.mu.Unlock()
		return errors.New("connection already active")
	}
	c.shouldMaintain = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	if err := c.connectOnce(); err != nil {
		c.mu.Lock()
		c.shouldMaintain = false
		c.cancel()
		c.mu.Unlock()
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

// Disconnect clears the session intent and tears down the transport. Any
// pending reconnection backoff is canceled; no further attempts are made.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if !c.shouldMaintain {
		c.mu.Unlock()
		return
	}
	c.shouldMaintain = false
	if c.cancel != nil {
		c.cancel()
	}
	transport := c.transport
	c.transport = nil
	c.generation++ // Invalidate the receive loop so it does not trigger a reconnect
	c.mu.Unlock()

	c.setState(StateClosing)
	if transport != nil {
		if err := transport.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Error closing live transport")
		}
	}
	c.setState(StateDisconnected)
	c.logger.Info().Msg("Live connection closed by operator")
}

// SendFrame encodes one frame of float samples and transmits it. Frames are
// fire and forget: when the connection is not listening, or the write fails,
// the frame is dropped and the error is absorbed. Continuity comes from
// reconnection, not retransmission.
func (c *Connection) SendFrame(samples []float32, sourceRate int) {
	c.mu.Lock()
	transport := c.transport
	listening := c.state == StateListening
	c.mu.Unlock()

	if !listening || transport == nil {
		observability.RecordFrameDropped("not_listening")
		return
	}

	chunk, err := audio.EncodeFrame(samples, sourceRate, c.opts.TargetSampleRate, c.opts.Gain)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to encode audio frame, dropping")
		observability.RecordFrameDropped("encode_error")
		return
	}

	msg := clientMessage{
		RealtimeInput: &realtimeInput{MediaChunks: []audio.Chunk{chunk}},
	}

	c.writeMu.Lock()
	err = transport.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send audio frame, dropping")
		observability.RecordFrameDropped("send_error")
		return
	}
	observability.RecordFrameSent(len(chunk.Data))
}

// connectOnce opens one transport, sends the setup message and starts the
// receive loop. The connection reports Listening once the service confirms
// the setup.
func (c *Connection) connectOnce() error {
	c.setState(StateConnecting)

	url := c.opts.URL
	if c.opts.APIKey != "" {
		url += "?key=" + c.opts.APIKey
	}

	transport, err := c.dialer.Dial(c.ctx, url)
	if err != nil {
		return err
	}

	setup := clientMessage{
		Setup: &setupPayload{
			Model: c.opts.Model,
			GenerationConfig: &generationConfig{
				ResponseModalities: []string{"TEXT"},
			},
			SystemInstruction: &content{
				Parts: []part{{
					Text: "Transcribe the incoming audio to " + c.opts.Language +
						" text. Respond only with the literal transcription, nothing else.",
				}},
			},
		},
	}
	if err := transport.WriteJSON(setup); err != nil {
		_ = transport.Close()
		return err
	}

	c.mu.Lock()
	c.transport = transport
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.logger.Info().Str("model", c.opts.Model).Msg("Live transport established, awaiting setup confirmation")

	go c.receiveLoop(gen, transport)
	return nil
}

// receiveLoop reads inbound messages until the transport fails. It belongs
// to one transport generation; when a newer transport exists its events are
// ignored.
func (c *Connection) receiveLoop(gen int, transport Transport) {
	for {
		data, err := transport.ReadMessage()
		if err != nil {
			c.handleClosed(gen, err)
			return
		}

		if !c.isCurrent(gen) {
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Unparseable message from transcription service")
			observability.RecordError("decode_error", "live")
			continue
		}

		if msg.SetupComplete != nil {
			c.setStateIfCurrent(gen, StateListening)
			c.logger.Info().Msg("Transcription session ready")
			continue
		}

		for _, token := range extractTokens(&msg) {
			c.onToken(token)
		}
	}
}

// handleClosed reacts to a transport failure: a clean close gets a short
// delay before reconnecting, an error a longer one. When the operator has
// already cleared the session intent nothing happens.
func (c *Connection) handleClosed(gen int, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	maintain := c.shouldMaintain
	c.mu.Unlock()

	if !maintain {
		c.setState(StateDisconnected)
		return
	}

	delay := c.opts.ErrorDelay
	trigger := "error"
	next := StateFaulted
	if isCleanClose(err) {
		delay = c.opts.CloseDelay
		trigger = "close"
		next = StateClosing
	}

	c.logger.Warn().
		Err(err).
		Str("trigger", trigger).
		Dur("delay", delay).
		Msg("Live transport lost, scheduling reconnect")
	c.setState(next)
	observability.RecordReconnect(trigger)

	go c.reconnect(delay)
}

// reconnect waits out the initial delay and then retries the connection
// until it succeeds or the session intent is cleared
func (c *Connection) reconnect(delay time.Duration) {
	select {
	case <-c.ctx.Done():
		c.setState(StateDisconnected)
		return
	case <-time.After(delay):
	}

	err := resilience.Reconnect(c.ctx, c.connectOnce, &resilience.ReconnectConfig{
		MaxAttempts: 0,
		Backoff:     delay,
		Multiplier:  2.0,
		MaxBackoff:  c.opts.MaxBackoff,
	})
	if err != nil {
		// Only cancellation gets here; the retry loop itself is unbounded
		c.setState(StateDisconnected)
	}
}

func (c *Connection) isCurrent(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.onStatus(s)
	}
}

func (c *Connection) setStateIfCurrent(gen int, s State) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.onStatus(s)
	}
}

// isCleanClose reports whether the transport ended with an orderly close
// rather than a failure
func isCleanClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var netErr *net.OpError
	return errors.As(err, &netErr) && netErr.Err.Error() == "use of closed network connection"
}
