package monitor

import (
	"io"
	"log/slog"
	"testing"
)

func newTestAlertManager() *AlertManager {
	return NewAlertManager([]string{"log"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFireDeduplicatesActiveAlerts(t *testing.T) {
	am := newTestAlertManager()

	am.Fire(AlertLevelP1, "venue_disconnected.CoinRoom", "lost connectivity", "quoting suspended")
	am.Fire(AlertLevelP1, "venue_disconnected.CoinRoom", "lost connectivity", "quoting suspended")

	if got := len(am.ActiveAlerts()); got != 1 {
		t.Errorf("active alerts = %d, want 1", got)
	}
}

func TestResolveClearsAndAllowsRefire(t *testing.T) {
	am := newTestAlertManager()

	am.Fire(AlertLevelP1, "venue_disconnected.CoinRoom", "lost connectivity", "quoting suspended")
	am.Resolve("venue_disconnected.CoinRoom")

	if got := len(am.ActiveAlerts()); got != 0 {
		t.Fatalf("active alerts after resolve = %d, want 0", got)
	}

	am.Fire(AlertLevelP1, "venue_disconnected.CoinRoom", "lost connectivity", "quoting suspended")
	if got := len(am.ActiveAlerts()); got != 1 {
		t.Errorf("active alerts after refire = %d, want 1", got)
	}
}

func TestResolveUnknownNameIsNoOp(t *testing.T) {
	am := newTestAlertManager()
	am.Resolve("never_fired")

	if got := len(am.ActiveAlerts()); got != 0 {
		t.Errorf("active alerts = %d, want 0", got)
	}
}
