package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MeGallin/ai-chat-bot-api/internal/config"
	"github.com/MeGallin/ai-chat-bot-api/internal/relay"
	rtmock "github.com/MeGallin/ai-chat-bot-api/pkg/realtime/mock"

	speechmock "github.com/MeGallin/ai-chat-bot-api/internal/speech/mock"
)

// freePort reserves an ephemeral TCP port and releases it for the server
// under test to bind.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestRun_StopsCleanlyOnCancel(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.OpenAI.APIKey = "test-key"
	cfg.Server.Port = 0 // pick a free port
	reg := relay.NewRegistry()
	s := New(cfg, reg, &rtmock.Client{}, &speechmock.Pipeline{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	// Give the listener a moment to come up, then trigger shutdown.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v; want nil on graceful shutdown", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_ShutdownClosesOpenConnections(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.OpenAI.APIKey = "test-key"
	cfg.Server.Port = freePort(t)
	reg := relay.NewRegistry()
	s := New(cfg, reg, &rtmock.Client{}, &speechmock.Pipeline{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	url := fmt.Sprintf("ws://127.0.0.1:%d/realtime", cfg.Server.Port)
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dialCancel()

	// Open three connections, retrying the first dial until the listener is up.
	conns := make([]*websocket.Conn, 0, 3)
	for len(conns) < 3 {
		conn, _, err := websocket.Dial(dialCtx, url, nil)
		if err != nil {
			if dialCtx.Err() != nil {
				t.Fatalf("dial: %v", err)
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		conns = append(conns, conn)
	}
	t.Cleanup(func() {
		for _, conn := range conns {
			conn.Close(websocket.StatusNormalClosure, "test done")
		}
	})

	// Wait for each relay to finish its handshake before shutting down.
	for _, conn := range conns {
		_, data, err := conn.Read(dialCtx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if frame["type"] != "connected" {
			t.Fatalf("first frame = %v; want connected", frame["type"])
		}
	}
	if reg.Len() != 3 {
		t.Fatalf("registry len = %d; want 3", reg.Len())
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v; want nil on graceful shutdown", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Every client socket observes the close initiated by the server.
	for i, conn := range conns {
		readCtx, readCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if _, _, err := conn.Read(readCtx); err == nil {
			t.Errorf("connection %d still open after shutdown", i)
		}
		readCancel()
	}
	if reg.Len() != 0 {
		t.Errorf("registry len = %d after shutdown; want 0", reg.Len())
	}
}

func TestNew_AppliesOptions(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.OpenAI.APIKey = "test-key"
	reg := relay.NewRegistry()
	s := New(cfg, reg, &rtmock.Client{}, &speechmock.Pipeline{})

	if s.log == nil {
		t.Error("logger not defaulted")
	}
	if s.obs == nil {
		t.Error("observability metrics not defaulted")
	}
	if s.httpSrv.Addr != ":8000" {
		t.Errorf("addr = %q; want :8000 from default config", s.httpSrv.Addr)
	}
	if len(s.originPatterns) != len(cfg.Server.AllowedOrigins) {
		t.Errorf("origin patterns = %v; want one per allowed origin", s.originPatterns)
	}
}
