package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-dashboard-service/internal/models"
)

// failingStorage wraps a Storage and fails selected operations.
type failingStorage struct {
	Storage
	getErr, setErr, removeErr error
	removes                   int
}

func (f *failingStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	return f.Storage.GetItem(ctx, key)
}

func (f *failingStorage) SetItem(ctx context.Context, key, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.Storage.SetItem(ctx, key, value)
}

func (f *failingStorage) RemoveItem(ctx context.Context, key string) error {
	f.removes++
	if f.removeErr != nil {
		return f.removeErr
	}
	return f.Storage.RemoveItem(ctx, key)
}

var madrid = models.Weather{
	Location:    "Madrid",
	Temperature: 21,
	Humidity:    55,
	WeatherDesc: "MainlyClear",
	WeatherType: "Cloudy",
	FeelsLike:   21,
	Wind:        11.5,
	Units:       models.Units{Temp: "°C", Wind: "km/h"},
}

// newTestCache returns a cache over in-memory storage with a controllable clock.
func newTestCache() (*ResultCache, *MemoryStorage, *time.Time) {
	storage := NewMemoryStorage(0)
	c := NewResultCache(storage, "", 0, zap.NewNop())
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	return c, storage, &clock
}

func TestResultCache_RoundTrip(t *testing.T) {
	c, _, clock := newTestCache()
	ctx := context.Background()

	c.Store(ctx, madrid)
	*clock = clock.Add(9 * time.Minute)

	got, ok := c.Load(ctx, "")
	if !ok {
		t.Fatal("Load() ok = false, want true")
	}
	if got != madrid {
		t.Errorf("Load() = %+v, want %+v", got, madrid)
	}
	if got, ok := c.Load(ctx, "Madrid"); !ok || got != madrid {
		t.Errorf("Load(Madrid) = %+v, %v", got, ok)
	}
}

func TestResultCache_SerializedShape(t *testing.T) {
	c, storage, clock := newTestCache()
	c.Store(context.Background(), madrid)

	raw, ok, err := storage.GetItem(context.Background(), DefaultKey)
	if err != nil || !ok {
		t.Fatalf("GetItem(%q) = %v, %v", DefaultKey, ok, err)
	}
	var decoded struct {
		Data      map[string]interface{} `json:"data"`
		Timestamp int64                  `json:"timestamp"`
		Location  string                 `json:"location"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("slot is not JSON: %v", err)
	}
	if decoded.Timestamp != clock.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", decoded.Timestamp, clock.UnixMilli())
	}
	if decoded.Location != "Madrid" || decoded.Data["weather_type"] != "Cloudy" {
		t.Errorf("slot = %s", raw)
	}
}

func TestResultCache_ExpiresAfterMaxAge(t *testing.T) {
	tests := []struct {
		name   string
		age    time.Duration
		wantOK bool
	}{
		{"exactly ten minutes", DefaultMaxAge, true},
		{"ten minutes and one millisecond", DefaultMaxAge + time.Millisecond, false},
		{"an hour", time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, storage, clock := newTestCache()
			ctx := context.Background()
			c.Store(ctx, madrid)
			*clock = clock.Add(tt.age)

			_, ok := c.Load(ctx, "")
			if ok != tt.wantOK {
				t.Fatalf("Load() ok = %v, want %v", ok, tt.wantOK)
			}
			_, present, _ := storage.GetItem(ctx, DefaultKey)
			if present != tt.wantOK {
				t.Errorf("slot present = %v, want %v", present, tt.wantOK)
			}
		})
	}
}

func TestResultCache_LocationMismatchPurges(t *testing.T) {
	c, storage, _ := newTestCache()
	ctx := context.Background()
	c.Store(ctx, madrid)

	if _, ok := c.Load(ctx, "Paris"); ok {
		t.Fatal("Load(Paris) ok = true, want false")
	}
	if _, present, _ := storage.GetItem(ctx, DefaultKey); present {
		t.Error("mismatched load should clear the slot")
	}
	if _, ok := c.Load(ctx, ""); ok {
		t.Error("slot should stay empty after mismatch purge")
	}
}

func TestResultCache_SingleSlotOverwrites(t *testing.T) {
	c, storage, _ := newTestCache()
	ctx := context.Background()
	paris := madrid
	paris.Location = "Paris"

	c.Store(ctx, madrid)
	c.Store(ctx, paris)

	if got, ok := c.Load(ctx, ""); !ok || got.Location != "Paris" {
		t.Errorf("Load() = %+v, %v; want Paris", got, ok)
	}
	if storage.Len() != 1 {
		t.Errorf("storage items = %d, want 1", storage.Len())
	}
}

func TestResultCache_PurgeIsIdempotent(t *testing.T) {
	c, _, _ := newTestCache()
	ctx := context.Background()
	c.Store(ctx, madrid)
	c.Purge(ctx)
	c.Purge(ctx)
	if _, ok := c.Load(ctx, ""); ok {
		t.Error("Load() after Purge ok = true")
	}
}

func TestResultCache_StoreSkippedForFinishedContext(t *testing.T) {
	c, storage, _ := newTestCache()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Store(ctx, madrid)
	if storage.Len() != 0 {
		t.Error("Store with cancelled context wrote the slot")
	}
}

func TestResultCache_StorageFailuresAreMisses(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	inner := NewMemoryStorage(0)
	fs := &failingStorage{Storage: inner}
	c := NewResultCache(fs, "", 0, zap.New(core))
	ctx := context.Background()

	fs.setErr = errors.New("quota exceeded")
	c.Store(ctx, madrid)
	if fs.removes == 0 {
		t.Error("failed Store should clear the slot")
	}
	if logs.FilterMessage("cache storage failure, treating as miss").Len() == 0 {
		t.Error("expected a warning for the failed set")
	}

	fs.setErr = nil
	c.Store(ctx, madrid)
	fs.getErr = errors.New("connection refused")
	if _, ok := c.Load(ctx, ""); ok {
		t.Error("Load() ok = true on storage error")
	}
	fs.getErr = nil
	if _, present, _ := inner.GetItem(ctx, DefaultKey); present {
		t.Error("failed Load should clear the slot")
	}

	fs.removeErr = errors.New("network down")
	c.Purge(ctx)
	if logs.FilterMessage("cache purge failed").Len() != 1 {
		t.Error("expected a warning for the failed purge")
	}
}

func TestResultCache_CorruptEntryIsMiss(t *testing.T) {
	c, storage, _ := newTestCache()
	ctx := context.Background()
	_ = storage.SetItem(ctx, DefaultKey, "{not json")

	if _, ok := c.Load(ctx, ""); ok {
		t.Fatal("Load() ok = true for corrupt entry")
	}
	if _, present, _ := storage.GetItem(ctx, DefaultKey); present {
		t.Error("corrupt entry should be purged")
	}
}

func TestResultCache_CustomKeyAndMaxAge(t *testing.T) {
	storage := NewMemoryStorage(0)
	c := NewResultCache(storage, "panel", time.Minute, nil)
	ctx := context.Background()
	c.Store(ctx, madrid)

	if _, ok, _ := storage.GetItem(ctx, "panel"); !ok {
		t.Error("entry not written under custom key")
	}
	if c.MaxAge() != time.Minute {
		t.Errorf("MaxAge() = %v, want 1m", c.MaxAge())
	}
}
