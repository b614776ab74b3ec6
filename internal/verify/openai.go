// Package verify implements the fact-verification service boundary.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/veridict/fact-gateway/internal/analysis"
	"github.com/veridict/fact-gateway/internal/config"
)

const systemPrompt = `You are a rigorous real-time fact checker for live political debate.
You receive one spoken claim plus up to three prior claims as context.
Respond with a single JSON object, nothing else, with exactly these fields:
{
  "verdict": "TRUE" | "FALSE" | "MISLEADING" | "OPINION" | "UNVERIFIABLE",
  "confidence": number between 0 and 1,
  "explanation": short explanation in the language of the claim,
  "counterEvidence": optional string, empty when not applicable,
  "sentimentScore": number between -1 and 1,
  "fallacies": array of {"name": string, "description": string},
  "sources": array of {"uri": string, "title": string}
}`

// OpenAIVerifier implements analysis.Verifier using OpenAI chat completions
type OpenAIVerifier struct {
	client *openai.Client
	model  string
}

// NewOpenAIVerifier creates a new verification client
func NewOpenAIVerifier(cfg *config.Config) *OpenAIVerifier {
	return &OpenAIVerifier{
		client: openai.NewClient(cfg.OpenAIAPIKey),
		model:  cfg.VerifyModel,
	}
}

// Verify sends one segment for verification and parses the structured reply.
// A malformed reply is reported as an error; the caller treats it the same
// as a transport failure.
func (v *OpenAIVerifier) Verify(ctx context.Context, req analysis.Request) (*analysis.Outcome, error) {
	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("verification request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("verification response contained no choices")
	}

	return parseOutcome(resp.Choices[0].Message.Content)
}

// buildUserPrompt renders the claim and its context window
func buildUserPrompt(req analysis.Request) string {
	var b strings.Builder
	if len(req.Context) > 0 {
		b.WriteString("Prior claims, oldest first:\n")
		for i, c := range req.Context {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Claim to verify: %s", req.Text)
	return b.String()
}

// outcomePayload is the wire shape of the verification reply
type outcomePayload struct {
	Verdict         string  `json:"verdict"`
	Confidence      float64 `json:"confidence"`
	Explanation     string  `json:"explanation"`
	CounterEvidence string  `json:"counterEvidence"`
	SentimentScore  float64 `json:"sentimentScore"`
	Fallacies       []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"fallacies"`
	Sources []struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"sources"`
}

// parseOutcome validates and converts a reply into an analysis outcome
func parseOutcome(raw string) (*analysis.Outcome, error) {
	var payload outcomePayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return nil, fmt.Errorf("malformed verification response: %w", err)
	}

	verdict := analysis.Verdict(strings.ToUpper(strings.TrimSpace(payload.Verdict)))
	switch verdict {
	case analysis.VerdictTrue, analysis.VerdictFalse, analysis.VerdictMisleading,
		analysis.VerdictOpinion, analysis.VerdictUnverifiable:
	default:
		return nil, fmt.Errorf("unknown verdict %q in verification response", payload.Verdict)
	}

	if payload.Explanation == "" {
		return nil, fmt.Errorf("verification response missing explanation")
	}

	outcome := &analysis.Outcome{
		Verdict:         verdict,
		Confidence:      clamp(payload.Confidence, 0, 1),
		Explanation:     payload.Explanation,
		CounterEvidence: payload.CounterEvidence,
		SentimentScore:  clamp(payload.SentimentScore, -1, 1),
	}
	for _, f := range payload.Fallacies {
		outcome.Fallacies = append(outcome.Fallacies, analysis.Fallacy{Name: f.Name, Description: f.Description})
	}
	for _, s := range payload.Sources {
		outcome.Sources = append(outcome.Sources, analysis.Source{URI: s.URI, Title: s.Title})
	}
	return outcome, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
