package stage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dotcommander/loom/internal/core"
)

// cleanJSON strips markdown code fences that generation models wrap around
// JSON payloads even when asked not to.
func cleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// decode parses a generation response into out. Malformed output is
// retryable: a fresh generation usually produces valid JSON.
func decode(op, raw string, out any) error {
	if err := json.Unmarshal([]byte(cleanJSON(raw)), out); err != nil {
		return core.Transient(op, fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

// failure converts an expected content-level fault into the terminal delta
// every stage uses for it.
func failure(agent, msg string) core.Delta {
	return core.Delta{
		Status: core.StatusError,
		Log: []core.LogEntry{{
			Type:    core.LogError,
			Agent:   agent,
			Content: msg,
		}},
	}
}

func step(agent, content string) core.LogEntry {
	return core.LogEntry{Type: core.LogAgentStep, Agent: agent, Content: content}
}
