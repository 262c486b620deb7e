package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
	"github.com/noah-isme/olympiad-registration-bot/pkg/telemetry"
)

type sessionRepository interface {
	Get(ctx context.Context, key models.SessionKey) (*models.Session, error)
	Save(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, key models.SessionKey) error
}

type registrar interface {
	Register(ctx context.Context, in models.NewRegistration) (*models.Registration, error)
	ConfirmPayment(ctx context.Context, id int64, proofRef string) (*models.Registration, error)
}

// phrasebook is the part of the text catalog the conversation needs to
// understand free text.
type phrasebook interface {
	IsCancel(text string) bool
	Match(hint string) models.Language
}

// ConversationConfig carries the payment and language settings.
type ConversationConfig struct {
	MerchantID      string
	Price           int64
	CheckoutOrigin  string
	DefaultLanguage models.Language
}

// transitions lists the legal successors of every step. The empty step is
// the state before a session exists.
var transitions = map[models.Step][]models.Step{
	"":                              {models.StepLanguageSelect, models.StepGuardianName},
	models.StepLanguageSelect:       {models.StepGuardianName, models.StepCancelled},
	models.StepGuardianName:         {models.StepContactEmail, models.StepCancelled},
	models.StepContactEmail:         {models.StepParticipantSurname, models.StepCancelled},
	models.StepParticipantSurname:   {models.StepParticipantGivenName, models.StepCancelled},
	models.StepParticipantGivenName: {models.StepGrade, models.StepCancelled},
	models.StepGrade:                {models.StepSchool, models.StepCancelled},
	models.StepSchool:               {models.StepPhone, models.StepCancelled},
	models.StepPhone:                {models.StepAwaitingPaymentAck, models.StepCancelled},
	models.StepAwaitingPaymentAck:   {models.StepProofUpload, models.StepCancelled},
	models.StepProofUpload:          {models.StepComplete, models.StepCancelled},
	models.StepComplete:             {models.StepGuardianName},
	models.StepCancelled:            {},
}

// CanTransition reports whether from → to is a legal step change.
func CanTransition(from, to models.Step) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ConversationService drives the registration wizard. It turns one inbound
// event into the replies to send and never renders user-facing text itself.
type ConversationService struct {
	sessions      sessionRepository
	registrations registrar
	validator     *FieldValidator
	phrases       phrasebook
	cfg           ConversationConfig
	metrics       *MetricsService
	logger        *zap.Logger
	newAttemptID  func() string
	now           func() time.Time
	locks         *sessionLocks
}

// NewConversationService wires the state machine.
func NewConversationService(sessions sessionRepository, registrations registrar, validator *FieldValidator, phrases phrasebook, cfg ConversationConfig, metrics *MetricsService, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NewFieldValidator(nil, 0, 0)
	}
	if !cfg.DefaultLanguage.Valid() {
		cfg.DefaultLanguage = models.FallbackLanguage
	}
	return &ConversationService{
		sessions:      sessions,
		registrations: registrations,
		validator:     validator,
		phrases:       phrases,
		cfg:           cfg,
		metrics:       metrics,
		logger:        logger,
		newAttemptID:  uuid.NewString,
		now:           func() time.Time { return time.Now().UTC() },
		locks:         newSessionLocks(),
	}
}

// Handle processes ev and returns the replies for the user. Events of one
// session are handled one at a time. The returned error is for logging only;
// the replies already contain the user-facing error message.
func (s *ConversationService) Handle(ctx context.Context, ev models.Event) ([]models.Reply, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "conversation.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.kind", string(ev.Kind)),
		attribute.Int64("account.id", ev.AccountID),
	)

	unlock := s.locks.lock(ev.Key())
	defer unlock()

	replies, err := s.handle(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return replies, err
}

// DeliverFunc sends the replies produced for one event.
type DeliverFunc func(ctx context.Context, replies []models.Reply) error

// Respond handles ev and delivers its replies while the session is still
// locked. When delivery fails the session is put back to what it was before
// ev, so the user's next attempt repeats the same step. The handling error,
// if any, is returned ahead of a delivery error.
func (s *ConversationService) Respond(ctx context.Context, ev models.Event, deliver DeliverFunc) error {
	ctx, span := telemetry.Tracer().Start(ctx, "conversation.respond")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.kind", string(ev.Kind)),
		attribute.Int64("account.id", ev.AccountID),
	)

	unlock := s.locks.lock(ev.Key())
	defer unlock()

	before, err := s.snapshot(ctx, ev.Key())
	if err != nil {
		s.logger.Warn("failed to snapshot session", zap.Int64("account", ev.AccountID), zap.Error(err))
	}

	replies, handleErr := s.handle(ctx, ev)
	if handleErr != nil {
		span.RecordError(handleErr)
		span.SetStatus(codes.Error, handleErr.Error())
	}
	if len(replies) == 0 || deliver == nil {
		return handleErr
	}

	sendErr := deliver(ctx, replies)
	if sendErr == nil {
		return handleErr
	}
	span.RecordError(sendErr)
	if err == nil {
		if rbErr := s.restore(ctx, ev.Key(), before); rbErr != nil {
			s.logger.Error("failed to roll back session after delivery failure",
				zap.Int64("account", ev.AccountID), zap.Error(rbErr))
		}
	}
	if handleErr != nil {
		return handleErr
	}
	return appErrors.Wrap(sendErr, appErrors.ErrTransportUnavailable.Code, appErrors.ErrTransportUnavailable.Status, "failed to deliver replies")
}

// snapshot returns a copy of the stored session, or nil when there is none.
func (s *ConversationService) snapshot(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	sess, err := s.sessions.Get(ctx, key)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	copied := *sess
	return &copied, nil
}

func (s *ConversationService) restore(ctx context.Context, key models.SessionKey, before *models.Session) error {
	if before == nil {
		return s.sessions.Delete(ctx, key)
	}
	return s.sessions.Save(ctx, before)
}

func (s *ConversationService) handle(ctx context.Context, ev models.Event) ([]models.Reply, error) {
	if ev.Kind == models.EventCommand {
		switch ev.Command {
		case "start":
			return s.start(ctx, ev)
		case "cancel":
			return s.cancel(ctx, ev)
		}
	}

	sess, err := s.loadSession(ctx, ev.Key())
	if err != nil {
		return s.failure(ev, s.fallbackLanguage(ev), err)
	}

	if ev.Kind == models.EventCommand {
		return []models.Reply{s.reply(ev.ChatID, s.sessionLanguage(sess, ev), "help", nil)}, nil
	}
	if ev.Kind == models.EventText && s.phrases != nil && s.phrases.IsCancel(ev.Text) {
		return s.cancel(ctx, ev)
	}
	if ev.Kind == models.EventAction {
		return s.action(ctx, ev, sess)
	}
	if sess == nil || sess.Step == models.StepComplete {
		return []models.Reply{s.reply(ev.ChatID, s.sessionLanguage(sess, ev), "help", nil)}, nil
	}

	switch sess.Step {
	case models.StepLanguageSelect:
		return []models.Reply{s.languagePrompt(ev.ChatID, s.sessionLanguage(sess, ev))}, nil
	case models.StepPhone:
		return s.phone(ctx, ev, sess)
	case models.StepAwaitingPaymentAck:
		if ev.Kind == models.EventImage {
			return s.proof(ctx, ev, sess)
		}
		return []models.Reply{s.paymentPrompt(sess, "payment_reminder")}, nil
	case models.StepProofUpload:
		if ev.Kind == models.EventImage {
			return s.proof(ctx, ev, sess)
		}
		return []models.Reply{s.reply(ev.ChatID, sess.Language, "invalid_screenshot", nil)}, nil
	}

	step, ok := textSteps[sess.Step]
	if !ok {
		return s.failure(ev, sess.Language, appErrors.Clone(appErrors.ErrIllegalTransition, "no handler for step "+string(sess.Step)))
	}
	if ev.Kind != models.EventText {
		return []models.Reply{s.stepReply(ev.ChatID, sess, step.invalid)}, nil
	}
	draft := sess.Draft
	if err := step.accept(s.validator, &draft, ev.Text); err != nil {
		return []models.Reply{s.stepReply(ev.ChatID, sess, step.invalid)}, nil
	}
	sess.Draft = draft
	if err := s.advance(ctx, sess, step.next); err != nil {
		return s.failure(ev, sess.Language, err)
	}
	return []models.Reply{s.prompt(ev.ChatID, sess)}, nil
}

// start opens a fresh attempt at language selection, replacing any session
// in progress.
func (s *ConversationService) start(ctx context.Context, ev models.Event) ([]models.Reply, error) {
	sess := &models.Session{
		Key:       ev.Key(),
		AttemptID: s.newAttemptID(),
	}
	if err := s.advance(ctx, sess, models.StepLanguageSelect); err != nil {
		return s.failure(ev, s.fallbackLanguage(ev), err)
	}
	return []models.Reply{s.languagePrompt(ev.ChatID, s.fallbackLanguage(ev))}, nil
}

func (s *ConversationService) cancel(ctx context.Context, ev models.Event) ([]models.Reply, error) {
	sess, err := s.loadSession(ctx, ev.Key())
	if err != nil {
		return s.failure(ev, s.fallbackLanguage(ev), err)
	}
	lang := s.sessionLanguage(sess, ev)
	if sess != nil && !sess.Step.Terminal() {
		if !CanTransition(sess.Step, models.StepCancelled) {
			return s.failure(ev, lang, illegalTransition(sess.Step, models.StepCancelled))
		}
		s.metrics.ObserveTransition(string(sess.Step), string(models.StepCancelled))
	}
	if sess != nil {
		if err := s.sessions.Delete(ctx, ev.Key()); err != nil {
			return s.failure(ev, lang, err)
		}
	}
	reply := s.reply(ev.ChatID, lang, "cancelled", nil)
	reply.Keyboard = models.KeyboardRemove
	return []models.Reply{reply}, nil
}

func (s *ConversationService) action(ctx context.Context, ev models.Event, sess *models.Session) ([]models.Reply, error) {
	switch {
	case strings.HasPrefix(ev.Payload, models.PayloadLanguagePrefix):
		lang, ok := models.ParseLanguage(strings.TrimPrefix(ev.Payload, models.PayloadLanguagePrefix))
		if !ok {
			lang = s.cfg.DefaultLanguage
		}
		if sess == nil || sess.Step != models.StepLanguageSelect {
			return nil, nil
		}
		sess.Language = lang
		if err := s.advance(ctx, sess, models.StepGuardianName); err != nil {
			return s.failure(ev, lang, err)
		}
		return []models.Reply{
			s.reply(ev.ChatID, lang, "language_selected", nil),
			s.reply(ev.ChatID, lang, "welcome", nil),
			s.prompt(ev.ChatID, sess),
		}, nil

	case ev.Payload == models.PayloadPaymentDone:
		if sess == nil {
			return nil, nil
		}
		switch sess.Step {
		case models.StepAwaitingPaymentAck:
			if err := s.advance(ctx, sess, models.StepProofUpload); err != nil {
				return s.failure(ev, sess.Language, err)
			}
			return []models.Reply{s.reply(ev.ChatID, sess.Language, "ask_screenshot", nil)}, nil
		case models.StepProofUpload:
			return []models.Reply{s.reply(ev.ChatID, sess.Language, "ask_screenshot", nil)}, nil
		}
		return nil, nil

	case ev.Payload == models.PayloadRegisterAnother:
		if sess != nil && sess.Step != models.StepComplete {
			return nil, nil
		}
		lang := s.sessionLanguage(sess, ev)
		next := &models.Session{Key: ev.Key(), Language: lang, AttemptID: s.newAttemptID()}
		if sess != nil {
			next.Step = sess.Step
		}
		if err := s.advance(ctx, next, models.StepGuardianName); err != nil {
			return s.failure(ev, lang, err)
		}
		return []models.Reply{s.prompt(ev.ChatID, next)}, nil
	}
	return nil, nil
}

// phone persists the registration once the contact is shared and presents
// the checkout link.
func (s *ConversationService) phone(ctx context.Context, ev models.Event, sess *models.Session) ([]models.Reply, error) {
	if ev.Kind != models.EventContact || ev.ContactPhone == "" ||
		(ev.ContactOwner != 0 && ev.ContactOwner != ev.AccountID) {
		return []models.Reply{s.stepReply(ev.ChatID, sess, "invalid_phone")}, nil
	}

	draft := sess.Draft
	draft.ContactPhone = strings.TrimSpace(ev.ContactPhone)

	in := models.NewRegistration{
		AccountRef:           ev.AccountID,
		GuardianName:         draft.GuardianName,
		ContactEmail:         draft.ContactEmail,
		ContactPhone:         draft.ContactPhone,
		ParticipantSurname:   draft.ParticipantSurname,
		ParticipantGivenName: draft.ParticipantGivenName,
		Grade:                draft.Grade,
		School:               draft.School,
		Language:             sess.Language,
		AttemptID:            sess.AttemptID,
	}
	if handle := strings.TrimSpace(ev.AccountHandle); handle != "" {
		in.AccountHandle = &handle
	}

	reg, err := s.registrations.Register(ctx, in)
	if err != nil {
		return s.failure(ev, sess.Language, err)
	}

	sess.Draft = draft
	sess.RegistrationID = reg.ID
	sess.ChargeReference = reg.ChargeRef()
	if err := s.advance(ctx, sess, models.StepAwaitingPaymentAck); err != nil {
		return s.failure(ev, sess.Language, err)
	}

	s.logger.Info("registration pending payment",
		zap.Int64("account", ev.AccountID),
		zap.Int64("registration_id", reg.ID),
		zap.String("charge_reference", reg.ChargeRef()))
	return []models.Reply{s.paymentPrompt(sess, "payment_info")}, nil
}

// proof marks the pending registration paid. An image sent before the
// "I have paid" button counts as the acknowledgement too.
func (s *ConversationService) proof(ctx context.Context, ev models.Event, sess *models.Session) ([]models.Reply, error) {
	if ev.ImageRef == "" {
		return []models.Reply{s.reply(ev.ChatID, sess.Language, "invalid_screenshot", nil)}, nil
	}

	reg, err := s.registrations.ConfirmPayment(ctx, sess.RegistrationID, ev.ImageRef)
	if err != nil {
		return s.failure(ev, sess.Language, err)
	}

	if sess.Step == models.StepAwaitingPaymentAck {
		if !CanTransition(sess.Step, models.StepProofUpload) {
			return s.failure(ev, sess.Language, illegalTransition(sess.Step, models.StepProofUpload))
		}
		s.metrics.ObserveTransition(string(sess.Step), string(models.StepProofUpload))
		sess.Step = models.StepProofUpload
	}

	sess.Draft = models.Draft{}
	sess.RegistrationID = 0
	sess.ChargeReference = ""
	if err := s.advance(ctx, sess, models.StepComplete); err != nil {
		return s.failure(ev, sess.Language, err)
	}

	summary := s.reply(ev.ChatID, sess.Language, "registration_complete", s.completionVars(reg))
	summary.Keyboard = models.KeyboardRemove
	another := s.reply(ev.ChatID, sess.Language, "register_another_prompt", nil)
	another.Buttons = [][]models.Button{{{LabelKey: "register_another", Payload: models.PayloadRegisterAnother}}}
	return []models.Reply{summary, another}, nil
}

// advance moves sess to next after checking the transition table and saves it.
func (s *ConversationService) advance(ctx context.Context, sess *models.Session, next models.Step) error {
	if !CanTransition(sess.Step, next) {
		return illegalTransition(sess.Step, next)
	}
	prev := sess.Step
	sess.Step = next
	sess.UpdatedAt = s.now()
	if err := s.sessions.Save(ctx, sess); err != nil {
		sess.Step = prev
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to save session")
	}
	s.metrics.ObserveTransition(string(prev), string(next))
	return nil
}

func (s *ConversationService) loadSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	sess, err := s.sessions.Get(ctx, key)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load session")
	}
	if sess.Step == models.StepCancelled {
		return nil, nil
	}
	return sess, nil
}

// failure logs err and answers with the single generic error message.
func (s *ConversationService) failure(ev models.Event, lang models.Language, err error) ([]models.Reply, error) {
	appErr := appErrors.FromError(err)
	s.logger.Error("conversation step failed",
		zap.Int64("account", ev.AccountID),
		zap.Int64("chat", ev.ChatID),
		zap.String("event", string(ev.Kind)),
		zap.String("code", appErr.Code),
		zap.Error(err))
	return []models.Reply{s.reply(ev.ChatID, lang, "error_occurred", nil)}, err
}

func (s *ConversationService) sessionLanguage(sess *models.Session, ev models.Event) models.Language {
	if sess != nil && sess.Language.Valid() {
		return sess.Language
	}
	return s.fallbackLanguage(ev)
}

func (s *ConversationService) fallbackLanguage(ev models.Event) models.Language {
	if s.phrases != nil && ev.LanguageHint != "" {
		return s.phrases.Match(ev.LanguageHint)
	}
	return s.cfg.DefaultLanguage
}

func illegalTransition(from, to models.Step) error {
	return appErrors.Clone(appErrors.ErrIllegalTransition, "illegal transition "+string(from)+" -> "+string(to))
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// sessionLocks hands out one mutex per session key and forgets it once no
// goroutine holds or waits for it.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[models.SessionKey]*sessionLock
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[models.SessionKey]*sessionLock)}
}

func (l *sessionLocks) lock(key models.SessionKey) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &sessionLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
