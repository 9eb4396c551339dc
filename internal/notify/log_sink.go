package notify

import (
	"context"

	"gridcore/internal/corelog"
	"gridcore/internal/domain"
)

// LogAppender is the minimal persistence capability LogSink needs; the
// concrete store (internal/store) satisfies it. Kept as a narrow
// interface here so internal/notify does not import internal/store.
type LogAppender interface {
	AppendLog(ctx context.Context, log *domain.Log) error
}

// LogSink writes every event to the structured logger and the logs table,
// giving the external chat surface a queryable audit trail even when no
// other sink is configured. It is always registered by cmd/gridbotd.
type LogSink struct {
	logger corelog.Logger
	store  LogAppender
}

func NewLogSink(logger corelog.Logger, store LogAppender) *LogSink {
	return &LogSink{logger: logger.WithField("component", "notify_log_sink"), store: store}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, event Event) error {
	level := domain.LogInfo
	switch event.Kind {
	case KindCredentialError, KindHealthIssue:
		level = domain.LogError
	case KindOrphanRepair, KindBotStopped:
		level = domain.LogWarning
	}

	switch level {
	case domain.LogError:
		s.logger.Error(event.Message, "kind", event.Kind, "bot_id", event.BotID, "user_id", event.UserID)
	case domain.LogWarning:
		s.logger.Warn(event.Message, "kind", event.Kind, "bot_id", event.BotID, "user_id", event.UserID)
	default:
		s.logger.Info(event.Message, "kind", event.Kind, "bot_id", event.BotID, "user_id", event.UserID)
	}

	if s.store == nil {
		return nil
	}
	botID := event.BotID
	return s.store.AppendLog(ctx, &domain.Log{
		UserID:  event.UserID,
		BotID:   &botID,
		Level:   level,
		Message: event.Message,
	})
}
