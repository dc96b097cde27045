// ABOUTME: Transport decorator that debug-logs every outgoing activity
// ABOUTME: Logs after delivery so the transport's activity id is included

package transport

import (
	"context"
	"encoding/json"
	"log/slog"
)

// loggingTransport wraps a Transport and logs what it sends.
type loggingTransport struct {
	Transport
	logger *slog.Logger
}

// WithLogging returns t with outgoing activities logged at debug level.
func WithLogging(t Transport, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingTransport{Transport: t, logger: logger.With("component", "outbound")}
}

func (l *loggingTransport) SendActivity(ctx context.Context, ref ConversationRef, activity *Activity) (string, error) {
	id, err := l.Transport.SendActivity(ctx, ref, activity)
	if !l.logger.Enabled(ctx, slog.LevelDebug) {
		return id, err
	}

	body, _ := json.Marshal(activity)
	if err != nil {
		l.logger.Debug("outgoing activity failed", "conversation_id", ref.ID, "activity", string(body), "error", err)
		return id, err
	}
	l.logger.Debug("outgoing activity", "conversation_id", ref.ID, "activity_id", id, "activity", string(body))
	return id, nil
}
