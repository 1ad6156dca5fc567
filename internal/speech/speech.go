// Package speech implements the one-shot text-to-spoken-answer pipeline
// behind the legacy HTTP endpoint: a chat completion generates the reply text
// and a text-to-speech call renders it as MP3 audio.
package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/MeGallin/ai-chat-bot-api/internal/observe"
	"github.com/MeGallin/ai-chat-bot-api/internal/resilience"
)

// Pipeline turns a user prompt into spoken audio.
type Pipeline interface {
	// Render generates an answer to text and returns it as encoded MP3.
	Render(ctx context.Context, text string) ([]byte, error)
}

// OpenAI is a Pipeline backed by the OpenAI chat and speech APIs. A circuit
// breaker guards the upstream so repeated API failures fail fast instead of
// holding request handlers on timeouts.
type OpenAI struct {
	client    oai.Client
	chatModel string
	ttsModel  string
	voice     string
	obs       *observe.Metrics
	breaker   *resilience.CircuitBreaker
}

// config holds optional configuration for the pipeline.
type config struct {
	baseURL   string
	timeout   time.Duration
	chatModel string
	ttsModel  string
	voice     string
	obs       *observe.Metrics
}

// Option is a functional option for OpenAI.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithChatModel overrides the chat completion model.
func WithChatModel(model string) Option {
	return func(c *config) {
		c.chatModel = model
	}
}

// WithTTSModel overrides the speech synthesis model.
func WithTTSModel(model string) Option {
	return func(c *config) {
		c.ttsModel = model
	}
}

// WithVoice overrides the synthesised voice.
func WithVoice(voice string) Option {
	return func(c *config) {
		c.voice = voice
	}
}

// WithObserve sets the observability instruments to record stage latencies
// into. Defaults to [observe.DefaultMetrics].
func WithObserve(obs *observe.Metrics) Option {
	return func(c *config) {
		c.obs = obs
	}
}

// New constructs an OpenAI pipeline.
func New(apiKey string, opts ...Option) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("speech: apiKey must not be empty")
	}

	cfg := &config{
		timeout:   30 * time.Second,
		chatModel: "gpt-4",
		ttsModel:  "tts-1",
		voice:     "alloy",
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	obs := cfg.obs
	if obs == nil {
		obs = observe.DefaultMetrics()
	}

	return &OpenAI{
		client:    oai.NewClient(reqOpts...),
		chatModel: cfg.chatModel,
		ttsModel:  cfg.ttsModel,
		voice:     cfg.voice,
		obs:       obs,
		breaker:   resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "openai-speech"}),
	}, nil
}

// Render implements Pipeline.
func (p *OpenAI) Render(ctx context.Context, text string) ([]byte, error) {
	var audio []byte
	err := p.breaker.Execute(func() error {
		reply, err := p.respond(ctx, text)
		if err != nil {
			return err
		}
		audio, err = p.speak(ctx, reply)
		return err
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// respond generates the reply text via a chat completion.
func (p *OpenAI) respond(ctx context.Context, text string) (string, error) {
	start := time.Now()
	defer func() {
		p.obs.ChatDuration.Record(ctx, time.Since(start).Seconds())
	}()

	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.chatModel),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(text),
		},
	})
	if err != nil {
		return "", fmt.Errorf("speech: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("speech: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// speak renders reply as MP3 audio.
func (p *OpenAI) speak(ctx context.Context, reply string) ([]byte, error) {
	start := time.Now()
	defer func() {
		p.obs.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}()

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model: oai.SpeechModel(p.ttsModel),
		Voice: oai.AudioSpeechNewParamsVoice(p.voice),
		Input: reply,
	})
	if err != nil {
		return nil, fmt.Errorf("speech: synthesis: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read synthesis response: %w", err)
	}
	return audio, nil
}
