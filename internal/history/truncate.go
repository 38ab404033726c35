package history

import "github.com/kaustubhduse/support-agent/internal/llm"

// DefaultMaxTokens is the context budget for conversation history. It
// leaves room for the model's reply inside an 8k window.
const DefaultMaxTokens = 6000

// TruncationNotice replaces discarded history.
const TruncationNotice = "[Earlier conversation history truncated to save tokens]"

// Truncate fits msgs into maxTokens (DefaultMaxTokens when <= 0).
//
// Input already within budget is returned as is. Otherwise every system
// message is kept in order, followed by the longest run of most recent
// non-system messages that fits. When anything was dropped, a single
// TruncationNotice system message sits between the two blocks.
//
// The newest non-system message is always kept, even if it alone is over
// budget, so the limit is a soft ceiling. Truncating an already truncated
// sequence with the same limit returns it unchanged.
//
// The caller's slice is never modified.
func Truncate(msgs []llm.Message, maxTokens int) []llm.Message {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if TotalTokens(msgs) <= maxTokens {
		return msgs
	}

	var system, rest []llm.Message
	hasNotice := false
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			system = append(system, m)
			if m.Content == TruncationNotice {
				hasNotice = true
			}
			continue
		}
		rest = append(rest, m)
	}

	// Budget the notice up front so the result stays stable when
	// truncated again.
	used := TotalTokens(system)
	if !hasNotice {
		used += EstimateTokens(TruncationNotice)
	}

	keepFrom := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := EstimateTokens(rest[i].Content)
		if i < len(rest)-1 && used+cost > maxTokens {
			break
		}
		used += cost
		keepFrom = i
	}
	dropped := keepFrom > 0

	out := make([]llm.Message, 0, len(system)+1+len(rest)-keepFrom)
	out = append(out, system...)
	if dropped && !hasNotice {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: TruncationNotice})
	}
	out = append(out, rest[keepFrom:]...)
	return out
}
