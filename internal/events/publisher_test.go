package events

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/veridict/fact-gateway/internal/analysis"
	"github.com/veridict/fact-gateway/internal/config"
)

func TestPublisher_DisabledIsNoop(t *testing.T) {
	p := NewPublisher(&config.Config{KafkaEnabled: false}, zerolog.Nop())

	if p.Enabled() {
		t.Error("Expected publisher to be disabled")
	}
	if p.writer != nil {
		t.Error("Expected no writer for disabled publisher")
	}

	// Safe without a broker
	p.PublishTranscript(context.Background(), "s1", "seg1", "O PIB cresceu.")
	p.PublishAnalysis(context.Background(), "s1", analysis.Result{SegmentID: "seg1"})
	if err := p.Close(); err != nil {
		t.Errorf("Expected nil close error, got %v", err)
	}
}

func TestPublisher_SkipsPendingAnalyses(t *testing.T) {
	// Enabled but never reaches the writer for pending entries
	p := &Publisher{enabled: true, logger: zerolog.Nop()}
	p.PublishAnalysis(context.Background(), "s1", analysis.Result{SegmentID: "seg1", Pending: true})
}
