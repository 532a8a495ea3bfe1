package lifecycle

import (
	"testing"
	"time"
)

func TestIsShuttingDown_DefaultFalse(t *testing.T) {
	Reset()
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
}

func TestBeginShutdown_KeepsFirstReason(t *testing.T) {
	Reset()
	defer Reset()
	BeginShutdown("signal")
	BeginShutdown("second")
	if !IsShuttingDown() {
		t.Fatal("IsShuttingDown() = false after BeginShutdown")
	}
	if got := ShutdownReason(); got != "signal" {
		t.Errorf("ShutdownReason() = %q, want signal", got)
	}
}

func TestUptime(t *testing.T) {
	Reset()
	if Uptime() != 0 {
		t.Error("Uptime() before MarkStarted should be 0")
	}
	MarkStarted(time.Now().Add(-time.Minute))
	if up := Uptime(); up < time.Minute {
		t.Errorf("Uptime() = %v, want >= 1m", up)
	}
}
