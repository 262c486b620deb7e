package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/middleware"
	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	"github.com/noah-isme/olympiad-registration-bot/internal/service"
	"github.com/noah-isme/olympiad-registration-bot/pkg/jobs"
)

type conversation interface {
	Respond(ctx context.Context, ev models.Event, deliver service.DeliverFunc) error
}

type replySender interface {
	Send(ctx context.Context, replies ...models.Reply) error
	AnswerCallback(id string) error
}

// BotRouterConfig sizes the dispatch pool.
type BotRouterConfig struct {
	Workers    int
	BufferSize int
}

// BotRouter routes inbound events to admin commands or the registration
// conversation and delivers the replies. Events of one session are handled
// one at a time and in arrival order.
type BotRouter struct {
	conversation conversation
	admin        *AdminCommands
	sender       replySender
	metrics      *service.MetricsService
	logger       *zap.Logger

	handle middleware.UpdateHandler
	queue  *jobs.Queue
}

// NewBotRouter wires the router. filters run ahead of routing, outermost
// first.
func NewBotRouter(conv conversation, admin *AdminCommands, sender replySender, metrics *service.MetricsService, logger *zap.Logger, cfg BotRouterConfig, filters ...middleware.UpdateFilter) *BotRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &BotRouter{
		conversation: conv,
		admin:        admin,
		sender:       sender,
		metrics:      metrics,
		logger:       logger,
	}
	r.handle = middleware.Chain(r.route, filters...)
	r.queue = jobs.NewQueue("bot-updates", r.process, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: -1,
		Logger:     logger,
	})
	return r
}

// Start launches the dispatch workers.
func (r *BotRouter) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop waits for the workers to exit.
func (r *BotRouter) Stop() {
	r.queue.Stop()
}

// Dispatch queues ev behind earlier events of the same session.
func (r *BotRouter) Dispatch(ev models.Event) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Key:     fmt.Sprintf("%d:%d", ev.AccountID, ev.ChatID),
		Type:    string(ev.Kind),
		Payload: ev,
	}
	if err := r.queue.Enqueue(job); err != nil {
		r.logger.Warn("failed to dispatch update", zap.Int64("account", ev.AccountID), zap.Error(err))
	}
}

func (r *BotRouter) process(ctx context.Context, job jobs.Job) error {
	ev, ok := job.Payload.(models.Event)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	r.Handle(ctx, ev)
	return nil
}

// Handle processes ev synchronously.
func (r *BotRouter) Handle(ctx context.Context, ev models.Event) {
	if ev.CallbackID != "" {
		if err := r.sender.AnswerCallback(ev.CallbackID); err != nil {
			r.logger.Debug("failed to answer callback", zap.Error(err))
		}
	}
	r.handle(ctx, ev)
}

func (r *BotRouter) route(ctx context.Context, ev models.Event) {
	start := time.Now()
	defer func() { r.metrics.ObserveUpdate(string(ev.Kind), time.Since(start)) }()

	if ev.Kind == models.EventCommand && r.admin != nil && r.admin.Handles(ev.Command) {
		replies, err := r.admin.Handle(ctx, ev)
		if err != nil {
			r.logFailure(ev, err)
		}
		if len(replies) > 0 {
			if err := r.deliver(ctx, replies); err != nil {
				r.logger.Warn("failed to deliver replies", zap.Int64("chat_id", ev.ChatID), zap.Error(err))
			}
		}
		return
	}
	if err := r.conversation.Respond(ctx, ev, r.deliver); err != nil {
		r.logFailure(ev, err)
	}
}

func (r *BotRouter) deliver(ctx context.Context, replies []models.Reply) error {
	return r.sender.Send(ctx, replies...)
}

func (r *BotRouter) logFailure(ev models.Event, err error) {
	r.logger.Error("update handling failed",
		zap.Int64("account", ev.AccountID),
		zap.String("kind", string(ev.Kind)),
		zap.String("command", ev.Command),
		zap.Error(err))
}
