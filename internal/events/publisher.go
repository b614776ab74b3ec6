// Package events publishes final transcripts and resolved analyses to Kafka
// for downstream consumers. Publishing is optional and best effort: the
// gateway's own behavior never depends on a broker being reachable.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/veridict/fact-gateway/internal/analysis"
	"github.com/veridict/fact-gateway/internal/config"
	"github.com/veridict/fact-gateway/internal/observability"
)

// Publisher writes gateway events to Kafka. A disabled publisher accepts
// every call and does nothing.
type Publisher struct {
	enabled          bool
	writer           *kafka.Writer
	topicTranscripts string
	topicAnalyses    string
	logger           zerolog.Logger
}

// TranscriptEvent is the payload published for each final transcript segment
type TranscriptEvent struct {
	SessionID string    `json:"sessionId"`
	SegmentID string    `json:"segmentId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalysisEvent is the payload published for each resolved analysis
type AnalysisEvent struct {
	SessionID string          `json:"sessionId"`
	Result    analysis.Result `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewPublisher creates a publisher from service configuration
func NewPublisher(cfg *config.Config, logger zerolog.Logger) *Publisher {
	p := &Publisher{
		enabled:          cfg.KafkaEnabled,
		topicTranscripts: cfg.KafkaTopicTranscripts,
		topicAnalyses:    cfg.KafkaTopicAnalyses,
		logger:           logger.With().Str("component", "events").Logger(),
	}
	if !p.enabled {
		return p
	}

	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokerList()...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		BatchTimeout:           10 * time.Millisecond,
	}
	p.logger.Info().
		Strs("brokers", cfg.KafkaBrokerList()).
		Str("topic_transcripts", p.topicTranscripts).
		Str("topic_analyses", p.topicAnalyses).
		Msg("Kafka publisher enabled")
	return p
}

// Enabled reports whether events are actually published
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishTranscript publishes one final transcript segment
func (p *Publisher) PublishTranscript(ctx context.Context, sessionID, segmentID, text string) {
	if !p.enabled {
		return
	}
	p.publish(ctx, p.topicTranscripts, sessionID, TranscriptEvent{
		SessionID: sessionID,
		SegmentID: segmentID,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}

// PublishAnalysis publishes one resolved analysis
func (p *Publisher) PublishAnalysis(ctx context.Context, sessionID string, result analysis.Result) {
	if !p.enabled || result.Pending {
		return
	}
	p.publish(ctx, p.topicAnalyses, sessionID, AnalysisEvent{
		SessionID: sessionID,
		Result:    result,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, topic, key string, payload interface{}) {
	value, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	observability.RecordKafkaPublish(topic, err)
	if err != nil {
		p.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to publish event")
		return
	}
	p.logger.Debug().Str("topic", topic).Int("bytes", len(value)).Msg("Event published")
}

// Close flushes and closes the underlying writer
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
