package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/catalog"
	"github.com/noah-isme/olympiad-registration-bot/internal/middleware"
	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	"github.com/noah-isme/olympiad-registration-bot/internal/repository"
	"github.com/noah-isme/olympiad-registration-bot/internal/service"
)

type conversationStub struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (c *conversationStub) Respond(ctx context.Context, ev models.Event, deliver service.DeliverFunc) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	err := c.err
	c.mu.Unlock()
	if sendErr := deliver(ctx, []models.Reply{{ChatID: ev.ChatID, PromptKey: "echo", Raw: ev.Text}}); sendErr != nil && err == nil {
		err = sendErr
	}
	return err
}

func (c *conversationStub) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Text)
	}
	return out
}

type senderStub struct {
	mu        sync.Mutex
	replies   []models.Reply
	callbacks []string
	err       error
}

func (s *senderStub) Send(_ context.Context, replies ...models.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
	return s.err
}

func (s *senderStub) AnswerCallback(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, id)
	return nil
}

func (s *senderStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

func TestBotRouterRoutesAdminCommands(t *testing.T) {
	f := newAdminFixture(t)
	conv := &conversationStub{}
	sender := &senderStub{}
	router := NewBotRouter(conv, f.commands, sender, service.NewMetricsService(), zap.NewNop(), BotRouterConfig{})

	router.Handle(context.Background(), adminCommand(5, CommandMyID, ""))
	router.Handle(context.Background(), models.Event{Kind: models.EventCommand, Command: "start", AccountID: 5, ChatID: 5})

	require.Len(t, sender.replies, 2)
	assert.Equal(t, "your_id", sender.replies[0].PromptKey)
	assert.Equal(t, "echo", sender.replies[1].PromptKey)
	require.Len(t, conv.events, 1)
	assert.Equal(t, "start", conv.events[0].Command)
}

func TestBotRouterAnswersCallbacksAndSendsErrorReplies(t *testing.T) {
	conv := &conversationStub{err: errors.New("store down")}
	sender := &senderStub{}
	router := NewBotRouter(conv, nil, sender, nil, zap.NewNop(), BotRouterConfig{})

	router.Handle(context.Background(), models.Event{Kind: models.EventAction, CallbackID: "cb-1", Payload: "payment_done"})

	assert.Equal(t, []string{"cb-1"}, sender.callbacks)
	assert.Len(t, sender.replies, 1)
}

func TestBotRouterAppliesThrottleFilter(t *testing.T) {
	conv := &conversationStub{}
	sender := &senderStub{}
	throttle := middleware.Throttle(repository.NewMemoryThrottleRepository(), time.Minute, nil, zap.NewNop())
	router := NewBotRouter(conv, nil, sender, nil, zap.NewNop(), BotRouterConfig{}, throttle)

	router.Handle(context.Background(), models.Event{Kind: models.EventText, AccountID: 1, Text: "first"})
	router.Handle(context.Background(), models.Event{Kind: models.EventText, AccountID: 1, Text: "second"})

	assert.Equal(t, []string{"first"}, conv.texts())
}

func TestBotRouterDispatchKeepsSessionOrder(t *testing.T) {
	conv := &conversationStub{}
	sender := &senderStub{}
	router := NewBotRouter(conv, nil, sender, nil, zap.NewNop(), BotRouterConfig{Workers: 4})
	router.Start(context.Background())
	defer router.Stop()

	want := []string{"a", "b", "c", "d", "e"}
	for _, text := range want {
		router.Dispatch(models.Event{Kind: models.EventText, AccountID: 3, ChatID: 3, Text: text})
	}

	require.Eventually(t, func() bool { return sender.count() == len(want) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, conv.texts())
}

func newRouterConversation(t *testing.T, sessions *repository.MemorySessionRepository) *service.ConversationService {
	t.Helper()
	cat, err := catalog.New(models.FallbackLanguage)
	require.NoError(t, err)
	validator := service.NewFieldValidator(nil, 1, 8)
	registrations := service.NewRegistrationService(repository.NewMemoryRegistrationRepository(), validator, nil, nil, zap.NewNop())
	return service.NewConversationService(sessions, registrations, validator, cat, service.ConversationConfig{
		MerchantID:      "merchant-1",
		Price:           50000,
		DefaultLanguage: models.LanguageEnglish,
	}, nil, zap.NewNop())
}

func TestBotRouterKeepsStepWhenDeliveryFails(t *testing.T) {
	ctx := context.Background()
	sessions := repository.NewMemorySessionRepository(time.Hour)
	key := models.SessionKey{AccountID: 11, ChatID: 11}
	require.NoError(t, sessions.Save(ctx, &models.Session{
		Key:       key,
		Step:      models.StepGuardianName,
		Language:  models.LanguageEnglish,
		AttemptID: "attempt-1",
	}))

	sender := &senderStub{err: errors.New("telegram down")}
	router := NewBotRouter(newRouterConversation(t, sessions), nil, sender, nil, zap.NewNop(), BotRouterConfig{})
	ev := models.Event{Kind: models.EventText, AccountID: 11, ChatID: 11, Text: "Ivanov Petr"}

	router.Handle(ctx, ev)
	sess, err := sessions.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.StepGuardianName, sess.Step)
	assert.Empty(t, sess.Draft.GuardianName)

	sender.err = nil
	router.Handle(ctx, ev)
	sess, err = sessions.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.StepContactEmail, sess.Step)
	assert.Equal(t, "Ivanov Petr", sess.Draft.GuardianName)
	assert.Equal(t, "ask_email", sender.replies[len(sender.replies)-1].PromptKey)
}

func TestBotRouterDropsNewSessionWhenStartIsUndelivered(t *testing.T) {
	ctx := context.Background()
	sessions := repository.NewMemorySessionRepository(time.Hour)
	sender := &senderStub{err: errors.New("telegram down")}
	router := NewBotRouter(newRouterConversation(t, sessions), nil, sender, nil, zap.NewNop(), BotRouterConfig{})

	router.Handle(ctx, models.Event{Kind: models.EventCommand, Command: "start", AccountID: 12, ChatID: 12})

	_, err := sessions.Get(ctx, models.SessionKey{AccountID: 12, ChatID: 12})
	require.Error(t, err)
}
