// Package relay implements the WebSocket relay between browser clients and a
// hosted realtime voice model.
//
// Each accepted socket gets one [Relay]: it opens an upstream
// [realtime.Session], forwards typed client frames upstream, and fans the
// session's event stream back to the client as JSON frames. A [Registry]
// tracks all live relays for the stats endpoint and for graceful shutdown.
//
// A relay moves through three states: connecting (socket accepted, upstream
// session being opened), active (both legs up, frames flowing), and closed.
// Teardown is single-shot and runs exactly once regardless of which leg fails
// first.
package relay

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MeGallin/ai-chat-bot-api/internal/observe"
	"github.com/MeGallin/ai-chat-bot-api/pkg/realtime"
)

// State is a relay's lifecycle phase.
type State string

const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosed     State = "closed"
)

// rawForwardTypes is the closed set of upstream event types forwarded to
// clients verbatim as realtime_event frames. Everything else upstream is
// either mapped to a typed frame or dropped.
var rawForwardTypes = map[string]bool{
	"input_audio_buffer.speech_started": true,
	"input_audio_buffer.speech_stopped": true,
	"response.created":                  true,
	"response.done":                     true,
}

// Relay bridges one client WebSocket to one upstream realtime session.
type Relay struct {
	id      string
	sock    *websocket.Conn
	client  realtime.Client
	reg     *Registry
	log     *slog.Logger
	obs     *observe.Metrics
	metrics *Metrics
	initCfg realtime.SessionConfig

	mu      sync.Mutex
	state   State
	session realtime.Session

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Option customises a Relay.
type Option func(*Relay)

// WithLogger sets the relay's logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(r *Relay) { r.log = log }
}

// WithObserve sets the observability instruments to record into. Defaults to
// [observe.DefaultMetrics].
func WithObserve(obs *observe.Metrics) Option {
	return func(r *Relay) { r.obs = obs }
}

// WithSessionConfig overrides the initial upstream session configuration.
func WithSessionConfig(cfg realtime.SessionConfig) Option {
	return func(r *Relay) { r.initCfg = cfg }
}

// New creates a Relay for an accepted socket. The upstream session is not
// opened until [Relay.Run].
func New(sock *websocket.Conn, client realtime.Client, reg *Registry, opts ...Option) *Relay {
	r := &Relay{
		id:      newClientID(),
		sock:    sock,
		client:  client,
		reg:     reg,
		log:     slog.Default(),
		metrics: NewMetrics(),
		initCfg: DefaultSessionConfig(),
		state:   StateConnecting,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.obs == nil {
		r.obs = observe.DefaultMetrics()
	}
	r.log = r.log.With("client_id", r.id)
	return r
}

// newClientID builds a connection id from the accept time and a random
// base36 suffix, e.g. "client_1718000000000_k3j9x0q2m".
func newClientID() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return fmt.Sprintf("client_%d_%s", time.Now().UnixMilli(), suffix)
}

// DefaultSessionConfig returns the upstream configuration applied to every
// new connection before any update_session frame arrives.
func DefaultSessionConfig() realtime.SessionConfig {
	return realtime.SessionConfig{
		Instructions: "You are a helpful AI assistant. Respond naturally and " +
			"conversationally. Keep your responses concise but informative.",
		Voice:                   "alloy",
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputTranscriptionModel: "whisper-1",
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 800,
		},
		Temperature:       0.8,
		MaxResponseTokens: 1000,
	}
}

// ID returns the relay's connection id.
func (r *Relay) ID() string { return r.id }

// State returns the relay's current lifecycle phase.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Metrics returns the relay's per-connection counter record.
func (r *Relay) Metrics() *Metrics { return r.metrics }

// Run registers the relay, opens the upstream session, and pumps frames in
// both directions until either leg closes. It blocks for the lifetime of the
// connection and always tears the relay down before returning.
func (r *Relay) Run(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	if err := r.reg.Register(r); err != nil {
		r.cancel()
		r.sock.Close(websocket.StatusInternalError, "registration failed")
		return fmt.Errorf("relay: %w", err)
	}
	r.obs.ActiveConnections.Add(r.ctx, 1)
	defer r.Close()

	session, err := r.client.Connect(r.ctx, r.initCfg)
	if err != nil {
		r.log.Error("upstream connect failed", "error", err)
		r.obs.RecordUpstreamError(r.ctx, "connect")
		r.sendJSON(errorFrame{
			Type:      FrameConnectionError,
			Error:     "Failed to connect to AI service",
			Timestamp: nowMillis(),
		})
		return fmt.Errorf("relay: connect upstream: %w", err)
	}
	r.mu.Lock()
	r.session = session
	r.state = StateActive
	r.mu.Unlock()

	for _, tool := range builtinTools(r) {
		if err := session.AddTool(tool.def, tool.handler); err != nil {
			r.log.Warn("tool registration failed", "tool", tool.def.Name, "error", err)
		}
	}

	r.sendJSON(connectedFrame{
		Type:      FrameConnected,
		ClientID:  r.id,
		Timestamp: nowMillis(),
		Message:   "Connected to realtime voice service",
	})
	r.log.Info("relay active")

	go r.eventLoop(session)
	r.readLoop()
	return nil
}

// readLoop consumes client frames until the socket closes or the relay is
// cancelled. Runs on the Run goroutine.
func (r *Relay) readLoop() {
	for {
		_, data, err := r.sock.Read(r.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				r.log.Info("client disconnected")
			} else if r.ctx.Err() == nil {
				r.log.Warn("socket read failed", "error", err)
			}
			return
		}
		r.handleClientFrame(data)
	}
}

// handleClientFrame decodes and dispatches one inbound frame. Valid frames of
// a known type count towards messages_received; unknown types are logged and
// ignored, and malformed JSON counts as an error.
func (r *Relay) handleClientFrame(data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.metrics.IncrErrors()
		r.log.Warn("malformed client frame", "error", err)
		r.sendJSON(errorFrame{
			Type:      FrameError,
			Error:     "Invalid message format",
			Timestamp: nowMillis(),
		})
		return
	}

	session := r.currentSession()
	if session == nil {
		return
	}

	var err error
	switch frame.Type {
	case FrameInputAudio:
		r.metrics.IncrReceived()
		r.obs.RecordWSMessage(r.ctx, "in")
		err = session.AppendAudio(pcm16Bytes(frame.AudioData))
	case FrameCreateResponse:
		r.metrics.IncrReceived()
		r.obs.RecordWSMessage(r.ctx, "in")
		err = session.CreateResponse()
	case FrameCancelResponse:
		r.metrics.IncrReceived()
		r.obs.RecordWSMessage(r.ctx, "in")
		// Without a target id there is nothing to cancel; forwarding an empty
		// id upstream would cancel the most recent response instead.
		if frame.ResponseID != "" {
			r.metrics.IncrInterruptions()
			r.obs.Interruptions.Add(r.ctx, 1)
			err = session.CancelResponse(frame.ResponseID, frame.SampleCount)
		}
	case FrameUserMessage:
		r.metrics.IncrReceived()
		r.obs.RecordWSMessage(r.ctx, "in")
		if frame.Text != "" {
			err = session.SendUserText(frame.Text)
		}
	case FrameUpdateSession:
		r.metrics.IncrReceived()
		r.obs.RecordWSMessage(r.ctx, "in")
		err = session.UpdateSession(frame.SessionConfig)
	case FrameGetMetrics:
		r.metrics.IncrReceived()
		r.obs.RecordWSMessage(r.ctx, "in")
		r.sendMetrics()
	default:
		r.log.Debug("unknown client frame type", "frame_type", frame.Type)
	}
	if err != nil {
		r.metrics.IncrErrors()
		r.log.Warn("upstream send failed", "frame_type", frame.Type, "error", err)
	}
}

// sendMetrics replies to a get_metrics frame with the connection's counter
// snapshot plus derived fields.
func (r *Relay) sendMetrics() {
	r.sendJSON(metricsResponseFrame{
		Type: FrameMetricsResponse,
		Metrics: metricsWithMeta{
			Snapshot:         r.metrics.Snapshot(),
			DurationSeconds:  int64(r.metrics.Elapsed().Seconds()),
			ConnectionActive: r.State() == StateActive,
		},
		Timestamp: nowMillis(),
	})
}

// eventLoop fans the upstream event stream out to the client. Runs on its own
// goroutine; exits when the session's event channel closes, then tears the
// relay down so the client socket does not outlive its upstream session.
func (r *Relay) eventLoop(session realtime.Session) {
	for ev := range session.Events() {
		switch ev.Type {
		case realtime.EventError:
			r.metrics.IncrErrors()
			r.obs.RecordUpstreamError(r.ctx, "session")
			r.log.Warn("upstream error", "error", ev.Err.Message, "code", ev.Err.Code)
			r.sendJSON(errorFrame{
				Type:      FrameError,
				Error:     ev.Err,
				Timestamp: nowMillis(),
			})

		case realtime.EventInterrupted:
			total := r.metrics.IncrInterruptions()
			r.obs.Interruptions.Add(r.ctx, 1)
			r.sendJSON(interruptedFrame{
				Type:      FrameInterrupted,
				Timestamp: nowMillis(),
				Metrics:   interruptedMetrics{TotalInterruptions: total},
			})

		case realtime.EventItemUpdated:
			r.metrics.IncrSent()
			r.obs.RecordWSMessage(r.ctx, "out")
			audioLen := 0
			if ev.Delta != nil {
				audioLen = len(ev.Delta.Audio)
			}
			r.sendJSON(updateFrame{
				Type:              FrameUpdate,
				Item:              ev.Item,
				Delta:             ev.Delta,
				ConversationItems: session.Items(),
				Timestamp:         nowMillis(),
				HasAudio:          audioLen > 0,
				AudioLength:       audioLen,
			})

		case realtime.EventItemCompleted:
			r.metrics.IncrSent()
			r.obs.RecordWSMessage(r.ctx, "out")
			turns := r.metrics.Turns()
			if ev.Item != nil && ev.Item.Role == "assistant" {
				turns = r.metrics.IncrTurns()
			}
			r.sendJSON(itemCompletedFrame{
				Type:      FrameItemCompleted,
				Item:      ev.Item,
				Timestamp: nowMillis(),
				Metrics:   itemCompletedMetrics{ConversationTurns: turns},
			})

		case realtime.EventRaw:
			if !rawForwardTypes[ev.Raw.Type] {
				continue
			}
			r.sendJSON(realtimeEventFrame{
				Type:      FrameRealtimeEvent,
				EventType: ev.Raw.Type,
				Timestamp: nowMillis(),
				EventData: ev.Raw.Payload,
			})
		}
	}
	r.Close()
}

// sendJSON marshals v and writes it as a text frame. Write errors are logged,
// not returned: a failed write means the socket is going away and the read
// loop will observe that independently.
func (r *Relay) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.log.Error("frame marshal failed", "error", err)
		return
	}
	if err := r.sock.Write(r.ctx, websocket.MessageText, data); err != nil {
		if r.ctx.Err() == nil {
			r.log.Debug("socket write failed", "error", err)
		}
	}
}

// currentSession returns the upstream session, or nil while connecting or
// after close.
func (r *Relay) currentSession() realtime.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Close tears the relay down: upstream session closed, registry entry
// removed, client socket closed. Idempotent and safe to call from any
// goroutine, including during graceful shutdown.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		session := r.session
		r.state = StateClosed
		r.mu.Unlock()

		if session != nil {
			if err := session.Close(); err != nil {
				r.log.Debug("upstream close failed", "error", err)
			}
		}
		r.reg.Unregister(r.id)
		r.obs.ActiveConnections.Add(context.Background(), -1)
		r.sock.Close(websocket.StatusNormalClosure, "relay closed")
		if r.cancel != nil {
			r.cancel()
		}
		close(r.done)
		r.log.Info("relay closed", "metrics", r.metrics.Snapshot())
	})
}

// Done is closed when the relay has fully shut down.
func (r *Relay) Done() <-chan struct{} { return r.done }

// pcm16Bytes encodes little-endian PCM16 samples as the byte stream the
// upstream audio buffer expects.
func pcm16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
