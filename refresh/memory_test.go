package refresh

import (
	"context"
	"testing"
	"time"
)

func TestMemorySweepKeepsLiveRecords(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	live, _ := newRecord(t, "alice", time.Hour)
	dead, _ := newRecord(t, "alice", time.Hour)
	dead.IssuedAt = now.Add(-2 * time.Hour)
	dead.ExpiresAt = now.Add(-time.Hour)
	revoked, _ := newRecord(t, "bob", time.Hour)
	for _, r := range []Record{live, dead, revoked} {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.Revoke(ctx, revoked.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if n := s.Sweep(now); n != 1 {
		t.Fatalf("expected one expired record swept, got %d", n)
	}
	if s.Len() != 2 {
		t.Fatalf("expected live and revoked records to remain, got %d", s.Len())
	}
}

func TestMemoryHonoursContext(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, _ := newRecord(t, "alice", time.Hour)
	if err := s.Save(ctx, rec); err == nil {
		t.Fatal("expected cancelled context to abort save")
	}
}
