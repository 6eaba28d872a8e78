package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sweetpy/intelXv2-sub001/internal/audit/domain"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []domain.Entry
}

func (s *recordingSink) Export(ctx context.Context, e domain.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func TestLogger_LogEvent_Success(t *testing.T) {
	sink := &recordingSink{}
	logger := NewLogger(10, sink, func(ctx context.Context) string { return "192.168.1.1" })
	ctx := context.Background()

	logger.LogEvent(ctx, "user-1", ActionLoginSuccess, ResourceAuth, true, map[string]any{"method": "demo"})

	logs := logger.GetLogs("")
	if len(logs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(logs))
	}
	entry := logs[0]
	if entry.UserID != "user-1" {
		t.Errorf("user_id = %q, want %q", entry.UserID, "user-1")
	}
	if entry.Action != ActionLoginSuccess {
		t.Errorf("action = %q, want %q", entry.Action, ActionLoginSuccess)
	}
	if entry.Resource != ResourceAuth {
		t.Errorf("resource = %q, want %q", entry.Resource, ResourceAuth)
	}
	if !entry.Success {
		t.Error("success should be true")
	}
	if entry.IP != "192.168.1.1" {
		t.Errorf("ip = %q, want %q", entry.IP, "192.168.1.1")
	}
	if entry.Details["method"] != "demo" {
		t.Errorf("details = %v, want method=demo", entry.Details)
	}
	if entry.ID == "" {
		t.Error("entry ID should be set")
	}
	if entry.Timestamp.IsZero() {
		t.Error("entry Timestamp should be set")
	}
	if len(sink.entries) != 1 || sink.entries[0].ID != entry.ID {
		t.Errorf("sink entries = %+v, want the logged entry", sink.entries)
	}
}

func TestLogger_NilSinkAndExtractor(t *testing.T) {
	logger := NewLogger(0, nil, nil)
	logger.LogEvent(context.Background(), "", ActionLoginFailed, ResourceAuth, false, nil)
	if logger.Len() != 1 {
		t.Fatalf("Len = %d, want 1", logger.Len())
	}
	if logger.Capacity() != DefaultCapacity {
		t.Errorf("Capacity = %d, want %d", logger.Capacity(), DefaultCapacity)
	}
	if ip := logger.GetLogs("")[0].IP; ip != "" {
		t.Errorf("ip = %q, want empty", ip)
	}
}

func TestLogger_CapacityEvictsOldestFirst(t *testing.T) {
	logger := NewLogger(DefaultCapacity, nil, nil)
	ctx := context.Background()
	for i := 1; i <= 1001; i++ {
		logger.LogEvent(ctx, "u", fmt.Sprintf("EVENT_%d", i), "test", true, nil)
	}

	logs := logger.GetLogs("")
	if len(logs) != 1000 {
		t.Fatalf("len = %d, want 1000", len(logs))
	}
	if logs[0].Action != "EVENT_2" {
		t.Errorf("oldest = %q, want EVENT_2", logs[0].Action)
	}
	if logs[len(logs)-1].Action != "EVENT_1001" {
		t.Errorf("newest = %q, want EVENT_1001", logs[len(logs)-1].Action)
	}
	for _, e := range logs {
		if e.Action == "EVENT_1" {
			t.Fatal("EVENT_1 should have been evicted")
		}
	}
}

func TestLogger_GetLogsFiltersByUser(t *testing.T) {
	logger := NewLogger(10, nil, nil)
	ctx := context.Background()
	logger.LogEvent(ctx, "alice", "A1", "test", true, nil)
	logger.LogEvent(ctx, "bob", "B1", "test", true, nil)
	logger.LogEvent(ctx, "alice", "A2", "test", false, nil)

	logs := logger.GetLogs("alice")
	if len(logs) != 2 {
		t.Fatalf("len = %d, want 2", len(logs))
	}
	if logs[0].Action != "A1" || logs[1].Action != "A2" {
		t.Errorf("actions = %q, %q; want A1, A2", logs[0].Action, logs[1].Action)
	}
	if got := logger.GetLogs("nobody"); len(got) != 0 {
		t.Errorf("unknown user: len = %d, want 0", len(got))
	}
}

func TestLogger_GetLogsReturnsSnapshot(t *testing.T) {
	logger := NewLogger(10, nil, nil)
	details := map[string]any{"attempts": 1}
	logger.LogEvent(context.Background(), "u", ActionLoginFailed, ResourceAuth, false, details)

	details["attempts"] = 99
	logs := logger.GetLogs("")
	if logs[0].Details["attempts"] != 1 {
		t.Errorf("stored details changed with caller's map: %v", logs[0].Details)
	}
	logs[0].Details["attempts"] = 42
	logs[0].Action = "MUTATED"
	again := logger.GetLogs("")
	if again[0].Details["attempts"] != 1 || again[0].Action != ActionLoginFailed {
		t.Errorf("snapshot aliases storage: %+v", again[0])
	}
}

func TestLogger_Concurrent(t *testing.T) {
	logger := NewLogger(100, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.LogEvent(context.Background(), "u", "E", "test", true, nil)
				_ = logger.GetLogs("u")
			}
		}()
	}
	wg.Wait()
	if logger.Len() != 100 {
		t.Errorf("Len = %d, want 100", logger.Len())
	}
}
