// Package realtime defines the client abstraction for bidirectional realtime
// conversational APIs.
//
// A realtime session is a long-lived, stateful connection to a hosted voice
// model: the caller appends raw audio and text turns, and the provider streams
// back conversation items, synthesised audio, and tool calls. The central
// abstraction is [Session], a handle over one such connection.
//
// Unlike callback-registration designs, a Session surfaces everything that
// happens upstream as a single ordered stream of tagged-union [Event] values.
// Consumers dispatch with one switch over [Event.Type], which keeps ordering
// obvious and exhaustiveness checkable.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// EventType discriminates the payload carried by an [Event].
type EventType string

const (
	// EventError is a non-fatal error reported by the provider. Err is set.
	EventError EventType = "error"

	// EventInterrupted signals that an in-progress model response was cut
	// short, either by user speech (barge-in) or an explicit cancel.
	EventInterrupted EventType = "interrupted"

	// EventItemUpdated is a streaming delta on a conversation item.
	// Item and Delta are set.
	EventItemUpdated EventType = "item.updated"

	// EventItemCompleted marks a conversation item as finished. Item is set.
	EventItemCompleted EventType = "item.completed"

	// EventRaw is the undecoded provider event, emitted for every server
	// message in addition to any typed event above. Raw is set.
	EventRaw EventType = "raw"
)

// Event is one occurrence on the upstream session, delivered in the order the
// provider produced it. Exactly the payload fields implied by Type are
// non-nil; all others are nil.
type Event struct {
	Type EventType

	Err   *ErrorDetail
	Item  *Item
	Delta *Delta
	Raw   *RawEvent
}

// ErrorDetail describes a provider-reported error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Delta is the incremental part of an EventItemUpdated. At most one of the
// fields is populated per event.
type Delta struct {
	// Text is an incremental text fragment of the item's content.
	Text string `json:"text,omitempty"`

	// Transcript is an incremental fragment of the item's audio transcript.
	Transcript string `json:"transcript,omitempty"`

	// Audio is a decoded PCM16 chunk of synthesised output audio.
	Audio []byte `json:"-"`
}

// Item is a snapshot of one conversation turn as tracked by the session.
// Items are immutable facts from the consumer's point of view: each update or
// completion event carries a fresh copy.
type Item struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status"`

	// Text is the accumulated text content of the item so far.
	Text string `json:"text,omitempty"`

	// Transcript is the accumulated audio transcript of the item so far.
	Transcript string `json:"transcript,omitempty"`

	// AudioBytes counts the synthesised PCM16 bytes produced for this item.
	AudioBytes int `json:"audio_bytes,omitempty"`
}

// RawEvent is an undecoded provider event.
type RawEvent struct {
	// Type is the provider's event type string
	// (e.g. "input_audio_buffer.speech_started").
	Type string

	// Payload is the full JSON event as received from the provider.
	Payload json.RawMessage

	// Time is when the event was read from the wire.
	Time time.Time
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	// Type is "server_vad" or "none".
	Type string `json:"type"`

	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// SessionConfig is the initial configuration pushed when a session opens.
type SessionConfig struct {
	// Instructions is the system-level prompt for the model.
	Instructions string

	// Voice selects the synthesised output voice (e.g. "alloy").
	Voice string

	// InputAudioFormat and OutputAudioFormat name the wire audio encoding
	// (e.g. "pcm16"). Empty values fall back to the provider default.
	InputAudioFormat  string
	OutputAudioFormat string

	// InputTranscriptionModel enables transcription of user speech when
	// non-empty (e.g. "whisper-1").
	InputTranscriptionModel string

	// TurnDetection configures voice activity detection. Nil leaves the
	// provider default in place.
	TurnDetection *TurnDetection

	// Temperature is the sampling temperature. Zero means provider default.
	Temperature float64

	// MaxResponseTokens caps response length. Zero means provider default.
	MaxResponseTokens int
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolHandler is invoked when the model calls a tool. It receives the
// JSON-encoded arguments and returns a JSON-encoded result (or an error,
// which is reported back to the model as an error result). Handlers run on
// the session's receive goroutine and must not call blocking session methods.
type ToolHandler func(ctx context.Context, args string) (string, error)

// Session is an open realtime session. Callers own the handle and must call
// Close when done; Close is idempotent.
//
// Mutating methods (UpdateSession, AppendAudio, ...) are fire-and-forget:
// they return once the request is written, without waiting for the provider
// to acknowledge. Effects surface asynchronously on the Events stream.
type Session interface {
	// UpdateSession merges the given partial configuration into the current
	// session configuration and pushes the result to the provider.
	UpdateSession(patch map[string]any) error

	// AppendAudio delivers a raw PCM16 chunk to the provider's input buffer.
	AppendAudio(pcm []byte) error

	// CreateResponse asks the model to produce a response now.
	CreateResponse() error

	// CancelResponse cancels the in-flight response with the given id.
	// sampleCount, when positive, is the number of output samples already
	// played back; the provider truncates the cancelled turn at that point.
	CancelResponse(responseID string, sampleCount int) error

	// SendUserText injects text as a user conversation turn.
	SendUserText(text string) error

	// AddTool registers a tool definition and its handler and pushes the
	// updated tool set to the provider.
	AddTool(def ToolDefinition, handler ToolHandler) error

	// Items returns a snapshot of all conversation items tracked so far, in
	// creation order.
	Items() []Item

	// Events returns the ordered stream of session events. The channel is
	// closed when the session ends; consumers must drain it promptly.
	Events() <-chan Event

	// Close terminates the session and closes the Events channel.
	// Safe to call more than once.
	Close() error
}

// Client opens realtime sessions against one provider.
//
// Implementations must be safe for concurrent use; the server opens one
// session per connected client.
type Client interface {
	// Connect establishes a new session with the given configuration. The
	// returned Session is ready to accept audio immediately.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
