package history

import (
	"log/slog"
	"math"

	"github.com/kaustubhduse/support-agent/internal/llm"
)

// Stats describes how much of the context budget a sequence uses.
type Stats struct {
	TotalMessages      int `json:"totalMessages"`
	TotalTokens        int `json:"totalTokens"`
	MaxTokens          int `json:"maxTokens"`
	UtilizationPercent int `json:"utilizationPercent"`
	Remaining          int `json:"remaining"`
}

// ContextStats measures msgs against maxTokens (DefaultMaxTokens when <= 0).
// Remaining goes negative when the sequence is over budget.
func ContextStats(msgs []llm.Message, maxTokens int) Stats {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	total := TotalTokens(msgs)
	return Stats{
		TotalMessages:      len(msgs),
		TotalTokens:        total,
		MaxTokens:          maxTokens,
		UtilizationPercent: int(math.Round(float64(total) / float64(maxTokens) * 100)),
		Remaining:          maxTokens - total,
	}
}

// LogValue implements slog.LogValuer.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("messages", s.TotalMessages),
		slog.Int("tokens", s.TotalTokens),
		slog.Int("max_tokens", s.MaxTokens),
		slog.Int("utilization_pct", s.UtilizationPercent),
		slog.Int("remaining", s.Remaining),
	)
}
