package live

import (
	"encoding/json"

	"github.com/veridict/fact-gateway/internal/audio"
)

// clientMessage is the outbound wire envelope. Exactly one field is set per
// message.
type clientMessage struct {
	Setup         *setupPayload  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
}

// setupPayload fixes the session configuration at connect time
type setupPayload struct {
	Model             string            `json:"model"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type realtimeInput struct {
	MediaChunks []audio.Chunk `json:"mediaChunks"`
}

// serverMessage is the inbound wire envelope. The service delivers
// transcription text either as plain server content or as a structured
// function call requesting text submission; extractTokens normalizes both
// shapes before anything downstream sees them.
type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	ToolCall      *toolCall      `json:"toolCall,omitempty"`
}

type serverContent struct {
	ModelTurn    *content `json:"modelTurn,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
}

type toolCall struct {
	FunctionCalls []functionCall `json:"functionCalls,omitempty"`
}

type functionCall struct {
	Name string          `json:"name,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
}

// functionArgs is the args shape of a text-submission function call
type functionArgs struct {
	Text string `json:"text"`
}

// extractTokens returns the zero or more text tokens carried by one inbound
// message, regardless of which wire shape delivered them
func extractTokens(msg *serverMessage) []string {
	var tokens []string

	if msg.ServerContent != nil && msg.ServerContent.ModelTurn != nil {
		for _, p := range msg.ServerContent.ModelTurn.Parts {
			if p.Text != "" {
				tokens = append(tokens, p.Text)
			}
		}
	}

	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			if len(fc.Args) == 0 {
				continue
			}
			var args functionArgs
			if err := json.Unmarshal(fc.Args, &args); err != nil {
				continue
			}
			if args.Text != "" {
				tokens = append(tokens, args.Text)
			}
		}
	}

	return tokens
}
