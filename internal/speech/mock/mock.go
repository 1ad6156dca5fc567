// Package mock provides a test double for the speech.Pipeline interface.
//
// Use Pipeline to return controlled audio bytes from handlers under test and
// to verify the prompt text that reached the pipeline.
package mock

import (
	"context"
	"sync"

	"github.com/MeGallin/ai-chat-bot-api/internal/speech"
)

// RenderCall records a single invocation of Render.
type RenderCall struct {
	// Ctx is the context passed to Render.
	Ctx context.Context
	// Text is the prompt passed to Render.
	Text string
}

// Pipeline is a mock implementation of speech.Pipeline.
type Pipeline struct {
	mu sync.Mutex

	// RenderResult is the audio returned by Render.
	RenderResult []byte

	// RenderErr, if non-nil, is returned as the error from Render.
	RenderErr error

	// RenderCalls records every call to Render in order.
	RenderCalls []RenderCall
}

var _ speech.Pipeline = (*Pipeline)(nil)

// Render implements speech.Pipeline.
func (p *Pipeline) Render(ctx context.Context, text string) ([]byte, error) {
	p.mu.Lock()
	p.RenderCalls = append(p.RenderCalls, RenderCall{Ctx: ctx, Text: text})
	p.mu.Unlock()

	if p.RenderErr != nil {
		return nil, p.RenderErr
	}
	return p.RenderResult, nil
}

// Calls returns a copy of the recorded Render calls.
func (p *Pipeline) Calls() []RenderCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RenderCall, len(p.RenderCalls))
	copy(out, p.RenderCalls)
	return out
}
