package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard-service/internal/models"
)

type countingRefresh struct {
	result  models.Weather
	err     error
	calls   int
	current models.Weather
}

func (c *countingRefresh) fn(ctx context.Context, current models.Weather) (models.Weather, error) {
	c.calls++
	c.current = current
	return c.result, c.err
}

func TestRefresher_RunOnce(t *testing.T) {
	updated := madrid
	updated.Temperature = 25
	paris := madrid
	paris.Location = "Paris"
	madridF := madrid
	madridF.Temperature = 70
	madridF.Units = models.Units{Temp: "°F", Wind: "mph"}
	updatedF := madridF
	updatedF.Temperature = 77

	tests := []struct {
		name      string
		store     bool
		stored    *models.Weather
		age       time.Duration
		refresh   *countingRefresh
		wantCalls int
		wantTemp  int
		wantLoc   string
		wantEmpty bool
	}{
		{name: "empty slot", store: false, refresh: &countingRefresh{result: updated}, wantCalls: 0, wantEmpty: true},
		{name: "recent entry left alone", store: true, age: time.Minute, refresh: &countingRefresh{result: updated}, wantCalls: 0, wantTemp: 21, wantLoc: "Madrid"},
		{name: "aging entry refreshed", store: true, age: 8 * time.Minute, refresh: &countingRefresh{result: updated}, wantCalls: 1, wantTemp: 25, wantLoc: "Madrid"},
		{name: "refresh error keeps slot", store: true, age: 8 * time.Minute, refresh: &countingRefresh{err: errors.New("upstream down")}, wantCalls: 1, wantTemp: 21, wantLoc: "Madrid"},
		{name: "different location discarded", store: true, age: 8 * time.Minute, refresh: &countingRefresh{result: paris}, wantCalls: 1, wantTemp: 21, wantLoc: "Madrid"},
		{name: "fahrenheit slot refreshed in fahrenheit", store: true, stored: &madridF, age: 8 * time.Minute, refresh: &countingRefresh{result: updatedF}, wantCalls: 1, wantTemp: 77, wantLoc: "Madrid"},
		{name: "different units discarded", store: true, stored: &madridF, age: 8 * time.Minute, refresh: &countingRefresh{result: updated}, wantCalls: 1, wantTemp: 70, wantLoc: "Madrid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, clock := newTestCache()
			ctx := context.Background()
			stored := madrid
			if tt.stored != nil {
				stored = *tt.stored
			}
			if tt.store {
				c.Store(ctx, stored)
			}
			*clock = clock.Add(tt.age)

			r := NewRefresher(c, tt.refresh.fn, 5*time.Minute, time.Second, zap.NewNop())
			r.RunOnce(ctx)

			if tt.refresh.calls != tt.wantCalls {
				t.Errorf("refresh calls = %d, want %d", tt.refresh.calls, tt.wantCalls)
			}
			if tt.wantCalls > 0 && tt.refresh.current != stored {
				t.Errorf("refresh given %+v, want the stored %+v", tt.refresh.current, stored)
			}
			got, ok := c.Load(ctx, "")
			if tt.wantEmpty {
				if ok {
					t.Errorf("slot = %+v, want empty", got)
				}
				return
			}
			if !ok {
				t.Fatal("slot empty after RunOnce")
			}
			if got.Temperature != tt.wantTemp || got.Location != tt.wantLoc {
				t.Errorf("slot = %+v, want %s at %d", got, tt.wantLoc, tt.wantTemp)
			}
		})
	}
}

func TestRefresher_StartRejectsZeroInterval(t *testing.T) {
	c, _, _ := newTestCache()
	r := NewRefresher(c, (&countingRefresh{}).fn, 0, 0, nil)
	if err := r.Start(); err == nil {
		r.Stop()
		t.Fatal("Start() with zero interval should fail")
	}
}

func TestRefresher_StartStop(t *testing.T) {
	c, _, _ := newTestCache()
	r := NewRefresher(c, (&countingRefresh{}).fn, time.Hour, 0, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.Stop()
}
