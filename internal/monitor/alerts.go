package monitor

import (
	"log/slog"
	"sync"
	"time"
)

type AlertLevel string

const (
	AlertLevelP1 AlertLevel = "P1"
	AlertLevelP2 AlertLevel = "P2"
)

type Alert struct {
	Level      AlertLevel
	Name       string
	Condition  string
	Message    string
	FiredAt    time.Time
	ResolvedAt *time.Time
}

// AlertManager collects operational alerts (venue disconnects, sustained
// rate-limit breaches) and dispatches them to the configured channels.
// Refiring an alert that is already active is a no-op, so a flapping venue
// produces one alert per outage rather than one per reconnect attempt.
type AlertManager struct {
	mu       sync.Mutex
	active   map[string]*Alert
	history  []Alert
	channels []string
	logger   *slog.Logger
}

func NewAlertManager(channels []string, logger *slog.Logger) *AlertManager {
	return &AlertManager{
		active:   make(map[string]*Alert),
		channels: channels,
		logger:   logger,
	}
}

func (am *AlertManager) Fire(level AlertLevel, name, condition, message string) {
	am.mu.Lock()
	if _, already := am.active[name]; already {
		am.mu.Unlock()
		return
	}
	alert := &Alert{
		Level:     level,
		Name:      name,
		Condition: condition,
		Message:   message,
		FiredAt:   time.Now(),
	}
	am.active[name] = alert
	am.mu.Unlock()

	am.logger.Error("ALERT FIRED",
		"level", string(level),
		"name", name,
		"condition", condition,
		"message", message,
	)

	am.dispatch(*alert)
}

// Resolve closes an active alert. Unknown names are ignored so callers can
// resolve unconditionally on recovery events.
func (am *AlertManager) Resolve(name string) {
	am.mu.Lock()
	alert, ok := am.active[name]
	if !ok {
		am.mu.Unlock()
		return
	}
	now := time.Now()
	alert.ResolvedAt = &now
	am.history = append(am.history, *alert)
	delete(am.active, name)
	am.mu.Unlock()

	am.logger.Info("alert resolved", "name", name, "duration", now.Sub(alert.FiredAt).String())
}

func (am *AlertManager) dispatch(alert Alert) {
	for _, ch := range am.channels {
		am.logger.Info("alert dispatched",
			"channel", ch,
			"level", string(alert.Level),
			"name", alert.Name,
		)
	}
}

func (am *AlertManager) ActiveAlerts() []Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	active := make([]Alert, 0, len(am.active))
	for _, a := range am.active {
		active = append(active, *a)
	}
	return active
}
