// Package history keeps conversation context inside a token budget.
//
// Token counts are estimates (one token per four bytes of content), cheap
// enough to compute on every request and stable across providers. They
// are never sent to a model endpoint.
package history

import "github.com/kaustubhduse/support-agent/internal/llm"

// EstimateTokens approximates the token count of text as
// ceil(len(text) / 4). The empty string is zero tokens.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// TotalTokens sums EstimateTokens over every message's content.
func TotalTokens(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	return total
}
