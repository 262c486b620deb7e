package middleware

import (
	"context"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	"github.com/noah-isme/olympiad-registration-bot/internal/service"
)

// UpdateHandler processes one inbound bot event.
type UpdateHandler func(ctx context.Context, ev models.Event)

// UpdateFilter wraps an UpdateHandler. A filter may drop an event by not
// calling next.
type UpdateFilter func(next UpdateHandler) UpdateHandler

// Chain applies filters so that the first one runs outermost.
func Chain(h UpdateHandler, filters ...UpdateFilter) UpdateHandler {
	for i := len(filters) - 1; i >= 0; i-- {
		h = filters[i](h)
	}
	return h
}

type throttleStore interface {
	Allow(ctx context.Context, accountID int64, interval time.Duration) (bool, error)
}

// Throttle drops events arriving less than interval after the previous
// accepted event of the same account. Store failures let the event through.
func Throttle(store throttleStore, interval time.Duration, metrics *service.MetricsService, logger *zap.Logger) UpdateFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next UpdateHandler) UpdateHandler {
		return func(ctx context.Context, ev models.Event) {
			if interval > 0 && store != nil {
				allowed, err := store.Allow(ctx, ev.AccountID, interval)
				if err != nil {
					logger.Warn("throttle check failed", zap.Int64("account", ev.AccountID), zap.Error(err))
				} else if !allowed {
					metrics.UpdateThrottled()
					logger.Debug("update throttled", zap.Int64("account", ev.AccountID), zap.String("kind", string(ev.Kind)))
					return
				}
			}
			next(ctx, ev)
		}
	}
}

// UpdateLogging logs every event with a short summary of what the user did.
func UpdateLogging(logger *zap.Logger) UpdateFilter {
	return func(next UpdateHandler) UpdateHandler {
		return func(ctx context.Context, ev models.Event) {
			start := time.Now()
			next(ctx, ev)
			logger.Info("bot_update",
				zap.Int64("account", ev.AccountID),
				zap.String("handle", ev.AccountHandle),
				zap.Int64("chat_id", ev.ChatID),
				zap.String("kind", string(ev.Kind)),
				zap.String("action", summarize(ev)),
				zap.Duration("latency", time.Since(start)))
		}
	}
}

func summarize(ev models.Event) string {
	switch ev.Kind {
	case models.EventCommand:
		return "/" + ev.Command
	case models.EventAction:
		return "button:" + ev.Payload
	case models.EventContact:
		return "contact"
	case models.EventImage:
		return "image"
	case models.EventText:
		// Free text is personal data; keep only its length.
		return "text:" + strconv.Itoa(utf8.RuneCountInString(ev.Text))
	}
	return string(ev.Kind)
}
