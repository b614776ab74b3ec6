// Package analysis owns the ordered result history and the per-segment
// verification dispatch protocol.
package analysis

import (
	"context"
	"time"
)

// Verdict classifies a verified segment
type Verdict string

const (
	VerdictTrue         Verdict = "TRUE"
	VerdictFalse        Verdict = "FALSE"
	VerdictMisleading   Verdict = "MISLEADING"
	VerdictOpinion      Verdict = "OPINION"
	VerdictUnverifiable Verdict = "UNVERIFIABLE"
)

// PendingExplanation is the placeholder text shown while a verification call
// is in flight
const PendingExplanation = "analyzing"

// FailureExplanation is the terminal explanation applied when a verification
// call fails; the verdict stays UNVERIFIABLE and the segment is not retried
const FailureExplanation = "verification failed due to a technical error"

// Fallacy is a named rhetorical fallacy detected in a segment
type Fallacy struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Source is an external reference supporting a verdict
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Result is one entry in the result history. It is created pending the
// instant its segment is known and mutated exactly once in place when the
// verification call resolves.
type Result struct {
	SegmentID       string    `json:"segmentId"`
	Text            string    `json:"text"`
	Verdict         Verdict   `json:"verdict"`
	Confidence      float64   `json:"confidence"`
	Explanation     string    `json:"explanation"`
	CounterEvidence string    `json:"counterEvidence,omitempty"`
	SentimentScore  float64   `json:"sentimentScore"`
	Fallacies       []Fallacy `json:"fallacies"`
	Sources         []Source  `json:"sources"`
	Pending         bool      `json:"pending"`
	CreatedAt       time.Time `json:"createdAt"`
	ResolvedAt      time.Time `json:"resolvedAt,omitempty"`
}

// Outcome is the delivered payload of a successful verification call
type Outcome struct {
	Verdict         Verdict
	Confidence      float64
	Explanation     string
	CounterEvidence string
	SentimentScore  float64
	Fallacies       []Fallacy
	Sources         []Source
}

// Request carries one segment to the verification service together with
// recent conversational context
type Request struct {
	SegmentID string
	Text      string
	Context   []string // Up to N prior segment texts, oldest first
}

// Verifier is the verification service boundary
type Verifier interface {
	Verify(ctx context.Context, req Request) (*Outcome, error)
}
