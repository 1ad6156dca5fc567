// Package openai implements the realtime.Client interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio travels as base64-encoded PCM16 chunks; tool calls round-trip through
// registered handlers; response cancellation supports precise truncation at
// the already-played sample count via conversation.item.truncate.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MeGallin/ai-chat-bot-api/pkg/realtime"
)

// Compile-time assertions that Client and session satisfy the realtime interfaces.
var _ realtime.Client = (*Client)(nil)
var _ realtime.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// outputSampleRate is the PCM16 sample rate of synthesised audio, used to
	// convert a played-sample count into a truncation offset in milliseconds.
	outputSampleRate = 24_000
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client implements realtime.Client for OpenAI's Realtime API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime client with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect establishes a new OpenAI Realtime session with the given
// configuration. The returned Session is ready to accept audio immediately
// after the initial session.update is sent.
func (c *Client) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan realtime.Event, 64),
		state:  configToState(cfg),
		items:  make(map[string]*realtime.Item),
		tools:  make(map[string]realtime.ToolHandler),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.pushSessionState(); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// configToState converts the initial SessionConfig into the mutable session
// state map that session.update events are built from.
func configToState(cfg realtime.SessionConfig) map[string]any {
	state := map[string]any{
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
	}
	if cfg.InputAudioFormat != "" {
		state["input_audio_format"] = cfg.InputAudioFormat
	}
	if cfg.OutputAudioFormat != "" {
		state["output_audio_format"] = cfg.OutputAudioFormat
	}
	if cfg.Instructions != "" {
		state["instructions"] = cfg.Instructions
	}
	if cfg.Voice != "" {
		state["voice"] = cfg.Voice
	}
	if cfg.InputTranscriptionModel != "" {
		state["input_audio_transcription"] = map[string]any{"model": cfg.InputTranscriptionModel}
	}
	if cfg.TurnDetection != nil {
		td := map[string]any{"type": cfg.TurnDetection.Type}
		if cfg.TurnDetection.Threshold != 0 {
			td["threshold"] = cfg.TurnDetection.Threshold
		}
		if cfg.TurnDetection.PrefixPaddingMs != 0 {
			td["prefix_padding_ms"] = cfg.TurnDetection.PrefixPaddingMs
		}
		if cfg.TurnDetection.SilenceDurationMs != 0 {
			td["silence_duration_ms"] = cfg.TurnDetection.SilenceDurationMs
		}
		state["turn_detection"] = td
	}
	if cfg.Temperature != 0 {
		state["temperature"] = cfg.Temperature
	}
	if cfg.MaxResponseTokens != 0 {
		state["max_response_output_tokens"] = cfg.MaxResponseTokens
	}
	return state
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type cancelResponseMessage struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

type truncateItemMessage struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.*.delta / conversation.item.input_audio_transcription.completed
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// conversation.item.created / response.output_item.{added,done}
	Item *wireItem `json:"item,omitempty"`

	// response.created / response.done
	Response *wireResponse `json:"response,omitempty"`

	// error event
	Error *realtime.ErrorDetail `json:"error,omitempty"`
}

type wireItem struct {
	ID      string     `json:"id"`
	Type    string     `json:"type"`
	Role    string     `json:"role,omitempty"`
	Status  string     `json:"status,omitempty"`
	Content []wirePart `json:"content,omitempty"`
}

type wirePart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type wireResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan realtime.Event

	mu        sync.Mutex
	state     map[string]any // current session configuration
	items     map[string]*realtime.Item
	itemOrder []string
	toolDefs  []realtime.ToolDefinition
	tools     map[string]realtime.ToolHandler
	closed    bool

	// responseActive tracks whether a model response is in flight, to turn a
	// speech_started event into an interruption.
	responseActive bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// pushSessionState sends a session.update event carrying the full current
// configuration, including the registered tools.
func (s *session) pushSessionState() error {
	s.mu.Lock()
	payload := make(map[string]any, len(s.state)+1)
	for k, v := range s.state {
		payload[k] = v
	}
	if len(s.toolDefs) > 0 {
		payload["tools"] = toOAITools(s.toolDefs)
	}
	s.mu.Unlock()

	return s.writeJSON(map[string]any{"type": "session.update", "session": payload})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// the events channel: it closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.emit(realtime.Event{Type: realtime.EventRaw, Raw: &realtime.RawEvent{
			Type:    evt.Type,
			Payload: json.RawMessage(data),
			Time:    time.Now(),
		}})

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "error":
		detail := evt.Error
		if detail == nil {
			detail = &realtime.ErrorDetail{Message: "unknown error"}
		}
		s.emit(realtime.Event{Type: realtime.EventError, Err: detail})

	case "conversation.item.created", "response.output_item.added":
		if evt.Item == nil {
			return
		}
		item := s.upsertItem(evt.Item)
		s.emit(realtime.Event{Type: realtime.EventItemUpdated, Item: item, Delta: &realtime.Delta{}})

	case "response.text.delta":
		item := s.applyDelta(evt.ItemID, func(it *realtime.Item) { it.Text += evt.Delta })
		if item == nil {
			return
		}
		s.emit(realtime.Event{Type: realtime.EventItemUpdated, Item: item, Delta: &realtime.Delta{Text: evt.Delta}})

	case "response.audio_transcript.delta":
		item := s.applyDelta(evt.ItemID, func(it *realtime.Item) { it.Transcript += evt.Delta })
		if item == nil {
			return
		}
		s.emit(realtime.Event{Type: realtime.EventItemUpdated, Item: item, Delta: &realtime.Delta{Transcript: evt.Delta}})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		item := s.applyDelta(evt.ItemID, func(it *realtime.Item) { it.AudioBytes += len(pcm) })
		if item == nil {
			return
		}
		s.emit(realtime.Event{Type: realtime.EventItemUpdated, Item: item, Delta: &realtime.Delta{Audio: pcm}})

	case "conversation.item.input_audio_transcription.completed":
		item := s.applyDelta(evt.ItemID, func(it *realtime.Item) { it.Transcript = evt.Transcript })
		if item == nil {
			return
		}
		s.emit(realtime.Event{Type: realtime.EventItemUpdated, Item: item, Delta: &realtime.Delta{Transcript: evt.Transcript}})

	case "response.output_item.done":
		if evt.Item == nil {
			return
		}
		item := s.upsertItem(evt.Item)
		if item.Status == "" || item.Status == "in_progress" {
			item.Status = "completed"
		}
		s.emit(realtime.Event{Type: realtime.EventItemCompleted, Item: item})

	case "response.function_call_arguments.done":
		s.handleFunctionCall(evt)

	case "input_audio_buffer.speech_started":
		s.mu.Lock()
		active := s.responseActive
		s.mu.Unlock()
		if active {
			s.emit(realtime.Event{Type: realtime.EventInterrupted})
		}

	case "response.created":
		s.mu.Lock()
		s.responseActive = true
		s.mu.Unlock()

	case "response.done":
		s.mu.Lock()
		s.responseActive = false
		s.mu.Unlock()
		if evt.Response != nil && evt.Response.Status == "cancelled" {
			s.emit(realtime.Event{Type: realtime.EventInterrupted})
		}
	}
}

// upsertItem merges a wire item into the tracked item set and returns a copy.
func (s *session) upsertItem(wi *wireItem) *realtime.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[wi.ID]
	if !ok {
		it = &realtime.Item{ID: wi.ID}
		s.items[wi.ID] = it
		s.itemOrder = append(s.itemOrder, wi.ID)
	}
	if wi.Type != "" {
		it.Type = wi.Type
	}
	if wi.Role != "" {
		it.Role = wi.Role
	}
	if wi.Status != "" {
		it.Status = wi.Status
	}
	for _, part := range wi.Content {
		if part.Text != "" && it.Text == "" {
			it.Text = part.Text
		}
		if part.Transcript != "" && it.Transcript == "" {
			it.Transcript = part.Transcript
		}
	}
	cp := *it
	return &cp
}

// applyDelta mutates the tracked item with the given id and returns a copy,
// or nil if the item is unknown.
func (s *session) applyDelta(itemID string, mutate func(*realtime.Item)) *realtime.Item {
	if itemID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[itemID]
	if !ok {
		it = &realtime.Item{ID: itemID, Type: "message", Status: "in_progress"}
		s.items[itemID] = it
		s.itemOrder = append(s.itemOrder, itemID)
	}
	mutate(it)
	cp := *it
	return &cp
}

func (s *session) handleFunctionCall(evt *serverEvent) {
	s.mu.Lock()
	handler := s.tools[evt.Name]
	s.mu.Unlock()

	if handler == nil {
		return
	}

	result, callErr := handler(s.ctx, evt.Arguments)
	if callErr != nil {
		result = fmt.Sprintf(`{"error": %q}`, callErr.Error())
	}

	// Return the tool result and trigger the next model response.
	_ = s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: evt.CallID,
			Output: result,
		},
	})
	_ = s.writeJSON(map[string]string{"type": "response.create"})
}

// emit delivers an event unless the session is shutting down.
func (s *session) emit(ev realtime.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// toOAITools converts tool definitions to the OpenAI Realtime tool format.
func toOAITools(tools []realtime.ToolDefinition) []oaiTool {
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ── Session methods ────────────────────────────────────────────────────────────

// UpdateSession merges the patch into the current configuration and pushes a
// session.update event carrying the merged state.
func (s *session) UpdateSession(patch map[string]any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	for k, v := range patch {
		s.state[k] = v
	}
	s.mu.Unlock()

	return s.pushSessionState()
}

// AppendAudio delivers a raw PCM16 chunk to the input audio buffer.
func (s *session) AppendAudio(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CreateResponse asks the model to produce a response.
func (s *session) CreateResponse() error {
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// CancelResponse sends a response.cancel event and, when a played sample
// count is supplied, truncates the in-progress assistant item at that point
// so the conversation record matches what the user actually heard.
func (s *session) CancelResponse(responseID string, sampleCount int) error {
	if err := s.writeJSON(cancelResponseMessage{Type: "response.cancel", ResponseID: responseID}); err != nil {
		return err
	}

	if sampleCount <= 0 {
		return nil
	}
	itemID := s.lastAssistantItemID()
	if itemID == "" {
		return nil
	}
	return s.writeJSON(truncateItemMessage{
		Type:         "conversation.item.truncate",
		ItemID:       itemID,
		ContentIndex: 0,
		AudioEndMs:   sampleCount * 1000 / outputSampleRate,
	})
}

// lastAssistantItemID returns the id of the most recent assistant message
// item, or "" when none exists.
func (s *session) lastAssistantItemID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.itemOrder) - 1; i >= 0; i-- {
		it := s.items[s.itemOrder[i]]
		if it.Role == "assistant" && it.Type == "message" {
			return it.ID
		}
	}
	return ""
}

// SendUserText injects text as a user conversation turn.
func (s *session) SendUserText(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	})
}

// AddTool registers a tool and pushes the updated tool set upstream.
func (s *session) AddTool(def realtime.ToolDefinition, handler realtime.ToolHandler) error {
	if def.Name == "" {
		return fmt.Errorf("openai: tool name must not be empty")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.toolDefs = append(s.toolDefs, def)
	s.tools[def.Name] = handler
	s.mu.Unlock()

	return s.pushSessionState()
}

// Items returns a snapshot of all tracked conversation items in creation order.
func (s *session) Items() []realtime.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]realtime.Item, 0, len(s.itemOrder))
	for _, id := range s.itemOrder {
		out = append(out, *s.items[id])
	}
	return out
}

// Events returns the session event stream.
func (s *session) Events() <-chan realtime.Event { return s.events }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
