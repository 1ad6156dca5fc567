// Package mock provides test doubles for the realtime package interfaces.
//
// Use Client to verify Connect calls and hand out controlled sessions.
// Use Session to script upstream events through EventCh and inspect which
// methods the relay invoked.
//
// Example:
//
//	sess := mock.NewSession()
//	client := &mock.Client{Session: sess}
//	handle, _ := client.Connect(ctx, cfg)
//	sess.EventCh <- realtime.Event{Type: realtime.EventInterrupted}
package mock

import (
	"context"
	"sync"

	"github.com/MeGallin/ai-chat-bot-api/pkg/realtime"
)

// ConnectCall records a single invocation of Client.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg realtime.SessionConfig
}

// Client is a mock implementation of realtime.Client.
type Client struct {
	mu sync.Mutex

	// Session is the Session returned by Connect. If nil, Connect returns a
	// new default Session.
	Session realtime.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (c *Client) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectCalls = append(c.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if c.ConnectErr != nil {
		return nil, c.ConnectErr
	}
	if c.Session != nil {
		return c.Session, nil
	}
	return NewSession(), nil
}

// Ensure Client implements realtime.Client at compile time.
var _ realtime.Client = (*Client)(nil)

// AddToolCall records a single invocation of Session.AddTool.
type AddToolCall struct {
	// Def is the tool definition passed to AddTool.
	Def realtime.ToolDefinition
	// Handler is the handler passed to AddTool.
	Handler realtime.ToolHandler
}

// CancelResponseCall records a single invocation of Session.CancelResponse.
type CancelResponseCall struct {
	ResponseID  string
	SampleCount int
}

// Session is a mock implementation of realtime.Session. Tests script upstream
// events by sending on EventCh and close it to signal end-of-session.
type Session struct {
	mu sync.Mutex

	// EventCh is the channel returned by Events(). Callers own this channel.
	EventCh chan realtime.Event

	// ItemList is returned by Items().
	ItemList []realtime.Item

	// --- Configurable errors ---

	UpdateSessionErr  error
	AppendAudioErr    error
	CreateResponseErr error
	CancelResponseErr error
	SendUserTextErr   error
	AddToolErr        error
	CloseErr          error

	// --- Call records ---

	// UpdateSessionCalls records the patch passed to each UpdateSession call.
	UpdateSessionCalls []map[string]any

	// AppendAudioCalls records a copy of the bytes passed to each AppendAudio call.
	AppendAudioCalls [][]byte

	// CreateResponseCount is the number of times CreateResponse was called.
	CreateResponseCount int

	// CancelResponseCalls records every call to CancelResponse in order.
	CancelResponseCalls []CancelResponseCall

	// SendUserTextCalls records the text passed to each SendUserText call.
	SendUserTextCalls []string

	// AddToolCalls records every call to AddTool in order.
	AddToolCalls []AddToolCall

	// CloseCount is the number of times Close was called.
	CloseCount int
}

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{EventCh: make(chan realtime.Event, 64)}
}

// UpdateSession records the call and returns UpdateSessionErr.
func (s *Session) UpdateSession(patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]any, len(patch))
	for k, v := range patch {
		cp[k] = v
	}
	s.UpdateSessionCalls = append(s.UpdateSessionCalls, cp)
	return s.UpdateSessionErr
}

// AppendAudio records the call and returns AppendAudioErr.
func (s *Session) AppendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.AppendAudioCalls = append(s.AppendAudioCalls, cp)
	return s.AppendAudioErr
}

// CreateResponse records the call and returns CreateResponseErr.
func (s *Session) CreateResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateResponseCount++
	return s.CreateResponseErr
}

// CancelResponse records the call and returns CancelResponseErr.
func (s *Session) CancelResponse(responseID string, sampleCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelResponseCalls = append(s.CancelResponseCalls, CancelResponseCall{
		ResponseID:  responseID,
		SampleCount: sampleCount,
	})
	return s.CancelResponseErr
}

// SendUserText records the call and returns SendUserTextErr.
func (s *Session) SendUserText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendUserTextCalls = append(s.SendUserTextCalls, text)
	return s.SendUserTextErr
}

// AddTool records the call and returns AddToolErr.
func (s *Session) AddTool(def realtime.ToolDefinition, handler realtime.ToolHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AddToolCalls = append(s.AddToolCalls, AddToolCall{Def: def, Handler: handler})
	return s.AddToolErr
}

// Tool returns the handler registered under name, or nil. Useful in tests to
// invoke a registered tool directly.
func (s *Session) Tool(name string) realtime.ToolHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, call := range s.AddToolCalls {
		if call.Def.Name == name {
			return call.Handler
		}
	}
	return nil
}

// Items returns ItemList.
func (s *Session) Items() []realtime.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.Item, len(s.ItemList))
	copy(out, s.ItemList)
	return out
}

// Events returns EventCh.
func (s *Session) Events() <-chan realtime.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventCh
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return s.CloseErr
}

// Ensure Session implements realtime.Session at compile time.
var _ realtime.Session = (*Session)(nil)
