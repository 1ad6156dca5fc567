package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MeGallin/ai-chat-bot-api/pkg/realtime"
)

// boundTool pairs a tool definition with the handler bound to one relay.
type boundTool struct {
	def     realtime.ToolDefinition
	handler realtime.ToolHandler
}

// builtinTools returns the tools registered on every upstream session. Each
// handler is bound to its relay at registration time, so a tool call always
// reads the state of the connection that triggered it.
func builtinTools(r *Relay) []boundTool {
	return []boundTool{
		{
			def: realtime.ToolDefinition{
				Name:        "get_current_time",
				Description: "Get the current date and time.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"format": map[string]any{
							"type":        "string",
							"enum":        []string{"full", "time", "date"},
							"description": "How much of the timestamp to return.",
						},
					},
				},
			},
			handler: r.currentTimeTool,
		},
		{
			def: realtime.ToolDefinition{
				Name:        "analyze_conversation_metrics",
				Description: "Analyze metrics about the current conversation, such as duration, message counts, and interruptions.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			handler: r.conversationMetricsTool,
		},
	}
}

// currentTimeTool reports the server's current time. An unknown or missing
// format falls back to "full".
func (r *Relay) currentTimeTool(ctx context.Context, args string) (string, error) {
	var params struct {
		Format string `json:"format"`
	}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", fmt.Errorf("relay: decode get_current_time arguments: %w", err)
		}
	}
	defer r.obs.RecordToolCall(ctx, "get_current_time", "ok")

	now := time.Now()
	var formatted string
	switch params.Format {
	case "time":
		formatted = now.Format("3:04:05 PM")
	case "date":
		formatted = now.Format("Monday, January 2, 2006")
	default:
		formatted = now.Format("Monday, January 2, 2006 3:04:05 PM MST")
	}

	zone, _ := now.Zone()
	result, err := json.Marshal(map[string]any{
		"current_time": formatted,
		"timezone":     zone,
	})
	if err != nil {
		return "", fmt.Errorf("relay: encode get_current_time result: %w", err)
	}
	return string(result), nil
}

// conversationMetricsTool summarises the calling connection's counters so the
// model can talk about the conversation itself.
func (r *Relay) conversationMetricsTool(ctx context.Context, _ string) (string, error) {
	defer r.obs.RecordToolCall(ctx, "analyze_conversation_metrics", "ok")

	snap := r.metrics.Snapshot()
	durationSeconds := r.metrics.Elapsed().Seconds()

	avgTurn := 0.0
	if snap.ConversationTurns > 0 {
		avgTurn = durationSeconds / float64(snap.ConversationTurns)
	}

	result, err := json.Marshal(map[string]any{
		"conversation_duration_seconds": int64(durationSeconds),
		"total_messages":                snap.MessagesReceived + snap.MessagesSent,
		"interruptions":                 snap.Interruptions,
		"conversation_turns":            snap.ConversationTurns,
		"average_turn_duration":         avgTurn,
	})
	if err != nil {
		return "", fmt.Errorf("relay: encode analyze_conversation_metrics result: %w", err)
	}
	return string(result), nil
}
