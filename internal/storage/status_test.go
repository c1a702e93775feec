package storage

import (
	"sync"
	"testing"
	"time"
)

func TestStatusMapLastWriteWins(t *testing.T) {
	m := NewStatusMap(time.Hour)
	m.Set("req-1", "pending", "")
	m.SetMessageID("req-1", "row-1")
	m.Set("req-1", "failed", "provider down")

	got, ok := m.Get("req-1")
	if !ok {
		t.Fatal("expected entry")
	}
	if got.Status != "failed" || got.Error != "provider down" || got.MessageID != "row-1" {
		t.Fatalf("unexpected attempt: %+v", got)
	}
	if _, ok := m.Get("missing"); ok {
		t.Fatal("expected no entry for unknown request")
	}
}

func TestStatusMapSweepsExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewStatusMap(time.Minute)
	m.now = func() time.Time { return now }

	m.Set("old", "sent", "")
	now = now.Add(2 * time.Minute)
	m.Set("new", "pending", "")

	if _, ok := m.Get("old"); ok {
		t.Fatal("expected expired entry to be swept")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", m.Len())
	}
}

func TestStatusMapConcurrentWrites(t *testing.T) {
	m := NewStatusMap(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Set("shared", "pending", "")
			m.Set("shared", "sent", "")
		}()
	}
	wg.Wait()
	got, _ := m.Get("shared")
	if got.Status != "sent" && got.Status != "pending" {
		t.Fatalf("unexpected status %q", got.Status)
	}
}
