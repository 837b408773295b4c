package llm

import (
	"encoding/json"

	"github.com/pkoukk/tiktoken-go"
)

const (
	systemMessageOverhead = 2
	perMessageOverhead    = 4
)

// EstimateContextTokens returns the estimated token usage for a request
// context and whether the estimate is approximate (no exact encoding for the
// model was available).
func EstimateContextTokens(modelID, systemPrompt string, messages []*Message) (int, bool) {
	encoder, approx := encodingForModel(modelID)

	total := tokenCount(encoder, systemPrompt)
	if systemPrompt != "" {
		total += systemMessageOverhead
	}

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		total += tokenCount(encoder, msg.Content) + perMessageOverhead
		if msg.ToolCallID != "" {
			total += tokenCount(encoder, msg.ToolCallID)
		}
		if msg.Name != "" {
			total += tokenCount(encoder, msg.Name)
		}
		if len(msg.ToolCalls) > 0 {
			if data, err := json.Marshal(msg.ToolCalls); err == nil {
				total += tokenCount(encoder, string(data))
			}
		}
	}

	return total, approx
}

func encodingForModel(modelID string) (*tiktoken.Tiktoken, bool) {
	encoder, err := tiktoken.EncodingForModel(modelID)
	if err == nil {
		return encoder, false
	}

	fallback, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, true
	}

	return fallback, true
}

func tokenCount(encoder *tiktoken.Tiktoken, text string) int {
	if text == "" {
		return 0
	}

	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}

	// Rough chars/4 fallback when no encoding is available
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
