// Package transcript reconstructs sentence-like segments from the token
// stream delivered by the transcription service.
package transcript

import (
	"strings"
)

// Event is one transcript update. A partial event replaces the caller's view
// of the utterance in progress; a final event is a commit point ending one
// segment, after which the internal buffer starts fresh.
type Event struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// DefaultMaxPartialLen bounds how long an utterance can grow without
// punctuation before it is force-finalized. This is a latency ceiling, not a
// sentence-boundary rule, and is tunable via configuration.
const DefaultMaxPartialLen = 80

// EmitFunc receives assembler events in token-arrival order
type EmitFunc func(Event)

// Assembler accumulates tokens into a working utterance buffer and decides
// when the buffer becomes a final segment.
//
// It is not safe for concurrent use: it is driven only from the live
// connection's receive loop, which delivers tokens one at a time.
type Assembler struct {
	maxPartialLen int
	buffer        string
	emit          EmitFunc
}

// New creates an assembler that reports events through emit
func New(maxPartialLen int, emit EmitFunc) *Assembler {
	if maxPartialLen <= 0 {
		maxPartialLen = DefaultMaxPartialLen
	}
	return &Assembler{
		maxPartialLen: maxPartialLen,
		emit:          emit,
	}
}

// OnToken appends one incoming token to the working buffer.
// Every non-empty token produces a partial event; a token that pushes the
// buffer past the length ceiling or ends in sentence-terminal punctuation
// additionally produces a final event and resets the buffer.
func (a *Assembler) OnToken(token string) {
	normalized := normalize(token)
	if normalized == "" {
		return
	}

	if a.buffer == "" {
		a.buffer = normalized
	} else {
		a.buffer += " " + normalized
	}

	a.emit(Event{Text: a.buffer, IsFinal: false})

	if len(a.buffer) > a.maxPartialLen || endsSentence(normalized) {
		a.emit(Event{Text: a.buffer, IsFinal: true})
		a.buffer = ""
	}
}

// Flush discards any in-flight partial text without emitting a final event.
// It is called on reconnect so the next token stream starts a clean
// utterance. Interrupted partial text is intentionally dropped rather than
// force-finalized: a half-sentence cut off by a transport failure is not a
// claim worth verifying.
func (a *Assembler) Flush() {
	a.buffer = ""
}

// Pending returns the current in-progress utterance text
func (a *Assembler) Pending() string {
	return a.buffer
}

// normalize collapses consecutive whitespace and trims the token
func normalize(token string) string {
	return strings.Join(strings.Fields(token), " ")
}

// endsSentence reports whether the token ends in sentence-terminal punctuation
func endsSentence(token string) bool {
	switch token[len(token)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
