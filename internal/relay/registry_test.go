package relay_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MeGallin/ai-chat-bot-api/internal/relay"
	"github.com/MeGallin/ai-chat-bot-api/pkg/realtime/mock"
)

func newTestRelay(reg *relay.Registry) *relay.Relay {
	return relay.New(nil, &mock.Client{}, reg)
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	r := newTestRelay(reg)

	if err := reg.Register(r); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := reg.Len(); got != 1 {
		t.Errorf("Len = %d; want 1", got)
	}
	if got, ok := reg.Lookup(r.ID()); !ok || got != r {
		t.Errorf("Lookup(%q) = %v, %v; want the registered relay", r.ID(), got, ok)
	}
	if _, ok := reg.Lookup("client_0_missing"); ok {
		t.Error("Lookup of unknown id reported ok")
	}
}

func TestRegistry_DuplicateIDRejected(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	r := newTestRelay(reg)

	if err := reg.Register(r); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := reg.Register(r)
	if err == nil {
		t.Fatal("second Register with same id succeeded")
	}
	if !strings.Contains(err.Error(), r.ID()) {
		t.Errorf("error %q does not name the duplicate id", err)
	}
	if got := reg.Len(); got != 1 {
		t.Errorf("Len after duplicate = %d; want 1", got)
	}
}

func TestRegistry_TotalServedCountsAllAttempts(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	a := newTestRelay(reg)
	b := newTestRelay(reg)

	if err := reg.Register(a); err != nil {
		t.Fatalf("Register a: %v", err)
	}
	if err := reg.Register(b); err != nil {
		t.Fatalf("Register b: %v", err)
	}
	reg.Unregister(a.ID())

	if got := reg.TotalServed(); got != 2 {
		t.Errorf("TotalServed = %d; want 2", got)
	}
	if got := reg.Len(); got != 1 {
		t.Errorf("Len = %d; want 1", got)
	}
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	r := newTestRelay(reg)

	if err := reg.Register(r); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg.Unregister(r.ID())
	reg.Unregister(r.ID())
	reg.Unregister("client_0_never_registered")

	if got := reg.Len(); got != 0 {
		t.Errorf("Len = %d; want 0", got)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	a := newTestRelay(reg)
	b := newTestRelay(reg)
	if err := reg.Register(a); err != nil {
		t.Fatalf("Register a: %v", err)
	}
	if err := reg.Register(b); err != nil {
		t.Fatalf("Register b: %v", err)
	}

	a.Metrics().IncrReceived()
	a.Metrics().IncrReceived()
	a.Metrics().IncrSent()

	snaps := reg.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("Snapshot len = %d; want 2", len(snaps))
	}

	byID := make(map[string]relay.ConnSnapshot, len(snaps))
	for _, s := range snaps {
		byID[s.ClientID] = s
	}
	sa, ok := byID[a.ID()]
	if !ok {
		t.Fatalf("snapshot missing relay %q", a.ID())
	}
	if sa.Metrics.MessagesReceived != 2 || sa.Metrics.MessagesSent != 1 {
		t.Errorf("snapshot metrics = %+v; want received 2, sent 1", sa.Metrics)
	}
	if sa.ConnectedDuration < 0 {
		t.Errorf("connected_duration = %d; want >= 0", sa.ConnectedDuration)
	}
}

func TestRegistry_Uptime(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	if reg.StartedAt().IsZero() {
		t.Error("StartedAt is zero")
	}
	if reg.Uptime() < 0 {
		t.Errorf("Uptime = %v; want >= 0", reg.Uptime())
	}
	if reg.Uptime() > time.Minute {
		t.Errorf("Uptime = %v; implausibly large for a fresh registry", reg.Uptime())
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	t.Parallel()

	sessA := mock.NewSession()
	sessB := mock.NewSession()
	reg := relay.NewRegistry()

	connA, relA := startRelay(t, &mock.Client{Session: sessA}, reg)
	connB, relB := startRelay(t, &mock.Client{Session: sessB}, reg)
	waitFrame(t, connA, "connected")
	waitFrame(t, connB, "connected")

	reg.CloseAll()

	for _, rel := range []*relay.Relay{relA, relB} {
		select {
		case <-rel.Done():
		case <-time.After(3 * time.Second):
			t.Fatal("relay did not close")
		}
	}
	if got := reg.Len(); got != 0 {
		t.Errorf("Len after CloseAll = %d; want 0", got)
	}
	if sessA.CloseCount == 0 || sessB.CloseCount == 0 {
		t.Error("upstream sessions were not closed")
	}
}
