package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
)

type updateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Poller long-polls Telegram and hands every supported update to a sink.
type Poller struct {
	source  updateSource
	timeout int
	logger  *zap.Logger
}

// NewPoller builds a Poller with a long-poll timeout in seconds.
func NewPoller(source updateSource, timeout int, logger *zap.Logger) *Poller {
	if timeout <= 0 {
		timeout = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{source: source, timeout: timeout, logger: logger}
}

// Run blocks until ctx is cancelled or the update channel closes.
func (p *Poller) Run(ctx context.Context, sink func(models.Event)) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = p.timeout
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	updates := p.source.GetUpdatesChan(cfg)
	p.logger.Info("telegram polling started", zap.Int("timeout_seconds", p.timeout))

	for {
		select {
		case <-ctx.Done():
			p.source.StopReceivingUpdates()
			p.logger.Info("telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			ev, supported := ToEvent(update)
			if !supported {
				p.logger.Debug("ignoring update", zap.Int("update_id", update.UpdateID))
				continue
			}
			sink(ev)
		}
	}
}
