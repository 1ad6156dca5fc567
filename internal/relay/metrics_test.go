package relay_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/MeGallin/ai-chat-bot-api/internal/relay"
)

func TestMetrics_CountersAccumulate(t *testing.T) {
	t.Parallel()

	m := relay.NewMetrics()
	m.IncrReceived()
	m.IncrReceived()
	m.IncrSent()
	m.IncrErrors()

	if got := m.IncrInterruptions(); got != 1 {
		t.Errorf("IncrInterruptions = %d; want 1", got)
	}
	if got := m.IncrTurns(); got != 1 {
		t.Errorf("IncrTurns = %d; want 1", got)
	}
	if got := m.IncrTurns(); got != 2 {
		t.Errorf("second IncrTurns = %d; want 2", got)
	}
	if got := m.Turns(); got != 2 {
		t.Errorf("Turns = %d; want 2", got)
	}

	snap := m.Snapshot()
	if snap.MessagesReceived != 2 || snap.MessagesSent != 1 {
		t.Errorf("snapshot = %+v; want received 2, sent 1", snap)
	}
	if snap.Interruptions != 1 || snap.ConversationTurns != 2 || snap.Errors != 1 {
		t.Errorf("snapshot = %+v; want interruptions 1, turns 2, errors 1", snap)
	}
}

func TestMetrics_SnapshotCarriesStartTime(t *testing.T) {
	t.Parallel()

	before := time.Now().UnixMilli()
	m := relay.NewMetrics()
	after := time.Now().UnixMilli()

	snap := m.Snapshot()
	if snap.StartTime < before || snap.StartTime > after {
		t.Errorf("StartTime = %d; want within [%d, %d]", snap.StartTime, before, after)
	}
	if m.StartedAt().UnixMilli() != snap.StartTime {
		t.Errorf("StartedAt = %d; snapshot StartTime = %d", m.StartedAt().UnixMilli(), snap.StartTime)
	}
	if m.Elapsed() < 0 {
		t.Errorf("Elapsed = %v; want >= 0", m.Elapsed())
	}
}

func TestMetrics_SnapshotJSONFieldNames(t *testing.T) {
	t.Parallel()

	m := relay.NewMetrics()
	m.IncrReceived()

	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{
		"start_time", "messages_received", "messages_sent",
		"interruptions", "conversation_turns", "errors",
	} {
		if _, ok := fields[key]; !ok {
			t.Errorf("snapshot JSON missing key %q: %s", key, data)
		}
	}
}

func TestMetrics_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	m := relay.NewMetrics()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.IncrReceived()
				m.IncrSent()
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.MessagesReceived != 1000 || snap.MessagesSent != 1000 {
		t.Errorf("snapshot = %+v; want 1000 received and sent", snap)
	}
}
