package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

// exerciseStorage checks the GetItem/SetItem/RemoveItem contract shared by every backend.
func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.GetItem(ctx, "missing"); err != nil || ok {
		t.Fatalf("GetItem(missing) = %v, %v; want false, nil", ok, err)
	}
	if err := s.SetItem(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetItem() error = %v", err)
	}
	if err := s.SetItem(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetItem() overwrite error = %v", err)
	}
	got, ok, err := s.GetItem(ctx, "k")
	if err != nil || !ok || got != "v2" {
		t.Fatalf("GetItem(k) = %q, %v, %v; want v2", got, ok, err)
	}
	if err := s.RemoveItem(ctx, "k"); err != nil {
		t.Fatalf("RemoveItem() error = %v", err)
	}
	if err := s.RemoveItem(ctx, "k"); err != nil {
		t.Fatalf("RemoveItem() on absent key error = %v", err)
	}
	if _, ok, _ := s.GetItem(ctx, "k"); ok {
		t.Error("GetItem after RemoveItem ok = true")
	}
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemoryStorage(0))
}

func TestMemoryStorage_TTL(t *testing.T) {
	s := NewMemoryStorage(10 * time.Millisecond)
	ctx := context.Background()
	_ = s.SetItem(ctx, "k", "v")
	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := s.GetItem(ctx, "k"); ok {
		t.Error("item should expire after ttl")
	}
}

func TestMemoryStorage_SetItemTTL(t *testing.T) {
	s := NewMemoryStorage(0)
	ctx := context.Background()
	_ = s.SetItem(ctx, "kept", "v")
	_ = s.SetItemTTL(ctx, "short", "v", 10*time.Millisecond)
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := s.GetItem(ctx, "short"); ok {
		t.Error("item stored with ttl should expire")
	}
	if _, ok, _ := s.GetItem(ctx, "kept"); !ok {
		t.Error("item stored without ttl should be kept")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (expired items not counted)", s.Len())
	}
}

func TestMemoryStorage_CancelledContext(t *testing.T) {
	s := NewMemoryStorage(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.SetItem(ctx, "k", "v"); err == nil {
		t.Error("SetItem with cancelled context should fail")
	}
}

func TestSQLiteStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slot.db")
	s, err := NewSQLiteStorage(context.Background(), path)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	defer s.Close()

	exerciseStorage(t, s)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

// TestSQLiteStorage_SurvivesReopen verifies that the slot persists across process restarts.
func TestSQLiteStorage_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "slot.db")

	s, err := NewSQLiteStorage(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	c := NewResultCache(s, "", 0, nil)
	c.Store(ctx, madrid)
	_ = s.Close()

	s2, err := NewSQLiteStorage(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()
	got, ok := NewResultCache(s2, "", 0, nil).Load(ctx, "Madrid")
	if !ok || got != madrid {
		t.Errorf("Load() after reopen = %+v, %v", got, ok)
	}
}

func TestSQLiteStorage_ItemTTL(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStorage(ctx, filepath.Join(t.TempDir(), "slot.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	defer s.Close()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.SetItem(ctx, "kept", "v")
	_ = s.SetItemTTL(ctx, "session", "Tokyo", time.Minute)
	if got, ok, _ := s.GetItem(ctx, "session"); !ok || got != "Tokyo" {
		t.Fatalf("GetItem(session) = %q, %v", got, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.GetItem(ctx, "session"); ok {
		t.Error("GetItem(session) after ttl ok = true")
	}
	sweep := NewExpirySweep(s, time.Minute, zap.NewNop())
	if n := sweep.RunOnce(ctx); n != 1 {
		t.Errorf("RunOnce() deleted %d, want 1", n)
	}
	if n := sweep.RunOnce(ctx); n != 0 {
		t.Errorf("second RunOnce() deleted %d, want 0", n)
	}
	if _, ok, _ := s.GetItem(ctx, "kept"); !ok {
		t.Error("item without ttl was swept")
	}

	// Overwriting an expiring item with SetItem clears its expiry.
	_ = s.SetItemTTL(ctx, "session", "Lima", time.Minute)
	_ = s.SetItem(ctx, "session", "Lima")
	now = now.Add(time.Hour)
	if _, ok, _ := s.GetItem(ctx, "session"); !ok {
		t.Error("SetItem did not clear the previous expiry")
	}
}

// TestSQLiteStorage_UpgradesOldTable verifies a database written before items could
// expire is opened and keeps its rows.
func TestSQLiteStorage_UpgradesOldTable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE kv_items (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TEXT NOT NULL)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO kv_items VALUES ('k', 'v', '2024-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = db.Close()

	for i := 0; i < 2; i++ {
		s, err := NewSQLiteStorage(ctx, path)
		if err != nil {
			t.Fatalf("NewSQLiteStorage() open %d error = %v", i+1, err)
		}
		if got, ok, _ := s.GetItem(ctx, "k"); !ok || got != "v" {
			t.Errorf("GetItem(k) = %q, %v after upgrade", got, ok)
		}
		_ = s.Close()
	}
}

func TestExpirationFor(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{500 * time.Millisecond, 1},
		{time.Minute, 60},
		{90*time.Second + time.Millisecond, 91},
		{30 * 24 * time.Hour, maxRelativeExp},
		{31 * 24 * time.Hour, int32(now.Add(31 * 24 * time.Hour).Unix())},
	}
	for _, tt := range tests {
		if got := expirationFor(tt.ttl, now); got != tt.want {
			t.Errorf("expirationFor(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" a:1, ,b:2 ")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Errorf("parseAddrs() = %v", got)
	}
}

func TestCategorizeStorageError(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"i/o timeout", "timeout"},
		{"context deadline exceeded", "timeout"},
		{"dial tcp: connection refused", "connection"},
		{"disk full", "unknown"},
	}
	for _, tt := range tests {
		if got := categorizeStorageError(errString(tt.msg)); got != tt.want {
			t.Errorf("categorizeStorageError(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
	if got := categorizeStorageError(nil); got != "unknown" {
		t.Errorf("categorizeStorageError(nil) = %q", got)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
