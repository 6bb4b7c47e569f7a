package session

import (
	"context"
	"log/slog"
)

// LogNotifier writes debug alerts to the log when no alert channel is wired
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs message as an alert
func (n LogNotifier) Notify(_ context.Context, message string) {
	n.Logger.Info("alert", "title", "LOCAL TRANSPORT", "message", message)
}
