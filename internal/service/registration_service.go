package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
)

// StatsCacheKey is the cache entry holding the latest statistics snapshot.
const StatsCacheKey = "olympiad:stats:detailed"

type registrationRepository interface {
	Create(ctx context.Context, in models.NewRegistration) (*models.Registration, error)
	SetChargeReference(ctx context.Context, id int64, value string) error
	MarkPaid(ctx context.Context, id int64, proofRef string) error
	GetByID(ctx context.Context, id int64) (*models.Registration, error)
	GetByChargeReference(ctx context.Context, value string) (*models.Registration, error)
	GetByAttempt(ctx context.Context, attemptID string) (*models.Registration, error)
	ListByAccount(ctx context.Context, accountRef int64) ([]models.Registration, error)
	ListAll(ctx context.Context) ([]models.Registration, error)
	CountByAccount(ctx context.Context, accountRef int64) (int, error)
}

// RegistrationService owns the create → assign reference → mark paid
// lifecycle of registration rows.
type RegistrationService struct {
	repo      registrationRepository
	validator *FieldValidator
	cache     *CacheService
	metrics   *MetricsService
	archiver  proofArchiver
	logger    *zap.Logger
}

type proofArchiver interface {
	Archive(reg *models.Registration)
}

// NewRegistrationService constructs the service. cache and metrics may be nil.
func NewRegistrationService(repo registrationRepository, validator *FieldValidator, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NewFieldValidator(nil, 0, 0)
	}
	return &RegistrationService{repo: repo, validator: validator, cache: cache, metrics: metrics, logger: logger}
}

// SetProofArchiver hands every newly paid registration to a.
func (s *RegistrationService) SetProofArchiver(a proofArchiver) {
	s.archiver = a
}

// Register persists in and assigns its charge reference. Calling it again
// with the same AttemptID returns the row created by the first call instead
// of inserting another one, so a failed attempt can simply be retried.
func (s *RegistrationService) Register(ctx context.Context, in models.NewRegistration) (*models.Registration, error) {
	if in.AttemptID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attempt id is required")
	}
	min, max := s.validator.GradeBounds()
	if in.Grade < min || in.Grade > max {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grade out of range")
	}

	reg, created, err := s.findOrCreate(ctx, in)
	if err != nil {
		return nil, err
	}

	if reg.ChargeReference == nil {
		ref := GenerateChargeReference(reg.ID, reg.ParticipantSurname, reg.ParticipantGivenName, reg.Grade)
		start := time.Now()
		err := s.repo.SetChargeReference(ctx, reg.ID, ref)
		s.metrics.ObserveStoreOperation("set_charge_reference", err, time.Since(start))
		if err != nil {
			if errors.Is(err, appErrors.ErrConflict) {
				s.logger.Error("charge reference collision",
					zap.Int64("registration_id", reg.ID),
					zap.String("charge_reference", ref),
					zap.Error(err))
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "charge reference collision")
			}
			return nil, storeError(err, "failed to assign charge reference")
		}
		reg.ChargeReference = &ref
	}

	if created {
		s.metrics.RegistrationCreated()
		s.invalidateStats(ctx)
		s.logRepeatRegistrant(ctx, reg)
	}
	return reg, nil
}

func (s *RegistrationService) findOrCreate(ctx context.Context, in models.NewRegistration) (*models.Registration, bool, error) {
	existing, err := s.repo.GetByAttempt(ctx, in.AttemptID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, appErrors.ErrNotFound) {
		return nil, false, storeError(err, "failed to look up registration attempt")
	}

	start := time.Now()
	reg, err := s.repo.Create(ctx, in)
	s.metrics.ObserveStoreOperation("create", err, time.Since(start))
	if err == nil {
		return reg, true, nil
	}
	if !errors.Is(err, appErrors.ErrConflict) {
		return nil, false, storeError(err, "failed to create registration")
	}

	// Lost a race with a concurrent create for the same attempt.
	existing, err = s.repo.GetByAttempt(ctx, in.AttemptID)
	if err != nil {
		return nil, false, storeError(err, "failed to load registration attempt")
	}
	return existing, false, nil
}

func (s *RegistrationService) logRepeatRegistrant(ctx context.Context, reg *models.Registration) {
	count, err := s.repo.CountByAccount(ctx, reg.AccountRef)
	if err != nil {
		s.logger.Warn("failed to count account registrations", zap.Int64("account", reg.AccountRef), zap.Error(err))
		return
	}
	if count > 1 {
		s.logger.Info("repeat registrant",
			zap.Int64("account", reg.AccountRef),
			zap.String("handle", reg.Handle()),
			zap.Int("registrations", count))
	}
}

// ConfirmPayment records the proof and marks the registration paid. Repeating
// it for an already paid row is a no-op.
func (s *RegistrationService) ConfirmPayment(ctx context.Context, id int64, proofRef string) (*models.Registration, error) {
	if proofRef == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "proof reference is required")
	}

	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = s.repo.MarkPaid(ctx, id, proofRef)
	s.metrics.ObserveStoreOperation("mark_paid", err, time.Since(start))
	if err != nil {
		return nil, storeError(err, "failed to mark registration paid")
	}

	reg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !before.PaymentConfirmed {
		s.metrics.PaymentConfirmed()
		s.invalidateStats(ctx)
		s.logger.Info("payment confirmed",
			zap.Int64("registration_id", reg.ID),
			zap.String("charge_reference", reg.ChargeRef()))
		if s.archiver != nil {
			s.archiver.Archive(reg)
		}
	}
	return reg, nil
}

// Get returns a single registration.
func (s *RegistrationService) Get(ctx context.Context, id int64) (*models.Registration, error) {
	reg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "failed to load registration")
	}
	return reg, nil
}

// GetByChargeReference resolves a payment reconciliation key.
func (s *RegistrationService) GetByChargeReference(ctx context.Context, ref string) (*models.Registration, error) {
	reg, err := s.repo.GetByChargeReference(ctx, ref)
	if err != nil {
		return nil, storeError(err, "failed to load registration")
	}
	return reg, nil
}

// ListByAccount returns the account's registrations, newest first.
func (s *RegistrationService) ListByAccount(ctx context.Context, accountRef int64) ([]models.Registration, error) {
	items, err := s.repo.ListByAccount(ctx, accountRef)
	if err != nil {
		return nil, storeError(err, "failed to list registrations")
	}
	return items, nil
}

// ListAll returns every registration, newest first.
func (s *RegistrationService) ListAll(ctx context.Context) ([]models.Registration, error) {
	items, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list registrations")
	}
	return items, nil
}

func (s *RegistrationService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, StatsCacheKey)
}

// storeError keeps typed NotFound/Conflict errors and maps anything else to
// StoreUnavailable.
func storeError(err error, message string) error {
	if errors.Is(err, appErrors.ErrNotFound) || errors.Is(err, appErrors.ErrConflict) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, message)
}
