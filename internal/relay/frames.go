package relay

import (
	"encoding/json"
	"time"

	"github.com/MeGallin/ai-chat-bot-api/pkg/realtime"
)

// Client frame types accepted over the WebSocket. Every inbound frame is a
// JSON object with a mandatory "type" discriminator.
const (
	FrameInputAudio     = "input_audio"
	FrameCreateResponse = "create_response"
	FrameCancelResponse = "cancel_response"
	FrameUserMessage    = "user_message"
	FrameUpdateSession  = "update_session"
	FrameGetMetrics     = "get_metrics"
)

// Outbound frame types sent to the client.
const (
	FrameConnected       = "connected"
	FrameConnectionError = "connection_error"
	FrameError           = "error"
	FrameInterrupted     = "conversation_interrupted"
	FrameUpdate          = "conversation_update"
	FrameItemCompleted   = "conversation_item_completed"
	FrameRealtimeEvent   = "realtime_event"
	FrameMetricsResponse = "metrics_response"
)

// ClientFrame is the decoded form of an inbound client message. Only the
// fields relevant to the frame's type are populated.
type ClientFrame struct {
	Type string `json:"type"`

	// AudioData carries raw PCM16 samples for input_audio frames.
	AudioData []int16 `json:"audio_data,omitempty"`

	// ResponseID and SampleCount parameterise cancel_response frames.
	// SampleCount is the number of output samples already played back.
	ResponseID  string `json:"response_id,omitempty"`
	SampleCount int    `json:"sample_count,omitempty"`

	// Text carries the message body for user_message frames.
	Text string `json:"text,omitempty"`

	// SessionConfig is the partial configuration for update_session frames.
	SessionConfig map[string]any `json:"session_config,omitempty"`
}

// connectedFrame confirms a successful upstream session open.
type connectedFrame struct {
	Type      string `json:"type"`
	ClientID  string `json:"client_id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message,omitempty"`
}

// errorFrame reports an upstream or connection failure to the client.
type errorFrame struct {
	Type      string `json:"type"`
	Error     any    `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// interruptedFrame signals that an in-flight response was cut short.
type interruptedFrame struct {
	Type      string             `json:"type"`
	Timestamp int64              `json:"timestamp"`
	Metrics   interruptedMetrics `json:"metrics"`
}

type interruptedMetrics struct {
	TotalInterruptions int64 `json:"total_interruptions"`
}

// updateFrame carries one streaming delta plus a full item-list snapshot.
// Forwarding the whole list on every delta mirrors the relay's observed
// contract; clients reconcile against the snapshot rather than patching.
type updateFrame struct {
	Type              string          `json:"type"`
	Item              *realtime.Item  `json:"item"`
	Delta             *realtime.Delta `json:"delta"`
	ConversationItems []realtime.Item `json:"conversation_items"`
	Timestamp         int64           `json:"timestamp"`
	HasAudio          bool            `json:"has_audio,omitempty"`
	AudioLength       int             `json:"audio_length,omitempty"`
}

// itemCompletedFrame marks one conversation turn as finished.
type itemCompletedFrame struct {
	Type      string               `json:"type"`
	Item      *realtime.Item       `json:"item"`
	Timestamp int64                `json:"timestamp"`
	Metrics   itemCompletedMetrics `json:"metrics"`
}

type itemCompletedMetrics struct {
	ConversationTurns int64 `json:"conversation_turns"`
}

// realtimeEventFrame forwards an allow-listed raw upstream event.
type realtimeEventFrame struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	EventData json.RawMessage `json:"event_data"`
}

// metricsResponseFrame is the synchronous reply to a get_metrics frame.
type metricsResponseFrame struct {
	Type      string          `json:"type"`
	Metrics   metricsWithMeta `json:"metrics"`
	Timestamp int64           `json:"timestamp"`
}

type metricsWithMeta struct {
	Snapshot
	DurationSeconds  int64 `json:"duration_seconds"`
	ConnectionActive bool  `json:"connection_active"`
}

// nowMillis returns the current time as epoch milliseconds, the timestamp
// format used on every outbound frame.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
