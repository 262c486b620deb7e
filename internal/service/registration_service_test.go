package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	"github.com/noah-isme/olympiad-registration-bot/internal/repository"
	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
)

// stubRegistrationRepo wraps the in-memory store and fails selected calls.
type stubRegistrationRepo struct {
	*repository.MemoryRegistrationRepository
	creates        int
	failCreate     error
	failSetRef     error
	failMarkPaid   error
	failGetAttempt error
	conflictRef    bool
}

func newStubRegistrationRepo() *stubRegistrationRepo {
	return &stubRegistrationRepo{MemoryRegistrationRepository: repository.NewMemoryRegistrationRepository()}
}

func (m *stubRegistrationRepo) Create(ctx context.Context, in models.NewRegistration) (*models.Registration, error) {
	if m.failCreate != nil {
		return nil, m.failCreate
	}
	m.creates++
	return m.MemoryRegistrationRepository.Create(ctx, in)
}

func (m *stubRegistrationRepo) SetChargeReference(ctx context.Context, id int64, value string) error {
	if m.conflictRef {
		return appErrors.Clone(appErrors.ErrConflict, "charge reference already in use")
	}
	if m.failSetRef != nil {
		err := m.failSetRef
		m.failSetRef = nil
		return err
	}
	return m.MemoryRegistrationRepository.SetChargeReference(ctx, id, value)
}

func (m *stubRegistrationRepo) MarkPaid(ctx context.Context, id int64, proofRef string) error {
	if m.failMarkPaid != nil {
		return m.failMarkPaid
	}
	return m.MemoryRegistrationRepository.MarkPaid(ctx, id, proofRef)
}

func (m *stubRegistrationRepo) GetByAttempt(ctx context.Context, attemptID string) (*models.Registration, error) {
	if m.failGetAttempt != nil {
		return nil, m.failGetAttempt
	}
	return m.MemoryRegistrationRepository.GetByAttempt(ctx, attemptID)
}

func newTestRegistrationService(repo registrationRepository) *RegistrationService {
	return NewRegistrationService(repo, NewFieldValidator(nil, 1, 8), nil, NewMetricsService(), zap.NewNop())
}

func sampleRegistrationInput(attempt string) models.NewRegistration {
	return models.NewRegistration{
		AccountRef:           5001,
		GuardianName:         "Ivanov Petr",
		ContactEmail:         "a@b.com",
		ContactPhone:         "+998901234567",
		ParticipantSurname:   "Иванов",
		ParticipantGivenName: "Иван",
		Grade:                5,
		School:               "School 12",
		Language:             models.LanguageRussian,
		AttemptID:            attempt,
	}
}

func TestRegisterAssignsChargeReference(t *testing.T) {
	repo := newStubRegistrationRepo()
	svc := newTestRegistrationService(repo)

	reg, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), reg.ID)
	assert.Equal(t, "1_Ivanov_Ivan_5", reg.ChargeRef())
	assert.False(t, reg.PaymentConfirmed)

	stored, err := repo.GetByChargeReference(context.Background(), "1_Ivanov_Ivan_5")
	require.NoError(t, err)
	assert.Equal(t, reg.ID, stored.ID)
}

func TestRegisterSameAccountTwice(t *testing.T) {
	repo := newStubRegistrationRepo()
	svc := newTestRegistrationService(repo)

	first, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-1"))
	require.NoError(t, err)
	second, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-2"))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.ChargeRef(), second.ChargeRef())
	assert.Equal(t, first.AccountRef, second.AccountRef)

	count, err := repo.CountByAccount(context.Background(), 5001)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRegisterRetryAfterReferenceFailureDoesNotDuplicate(t *testing.T) {
	repo := newStubRegistrationRepo()
	repo.failSetRef = errors.New("connection reset")
	svc := newTestRegistrationService(repo)

	_, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrStoreUnavailable))

	reg, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, repo.creates)
	assert.Equal(t, "1_Ivanov_Ivan_5", reg.ChargeRef())
}

func TestRegisterIsIdempotentPerAttempt(t *testing.T) {
	repo := newStubRegistrationRepo()
	svc := newTestRegistrationService(repo)

	first, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-1"))
	require.NoError(t, err)
	again, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, repo.creates)
}

func TestRegisterStoreUnavailable(t *testing.T) {
	repo := newStubRegistrationRepo()
	repo.failCreate = errors.New("dial tcp: refused")
	svc := newTestRegistrationService(repo)

	_, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrStoreUnavailable))

	repo.failCreate = nil
	repo.failGetAttempt = errors.New("dial tcp: refused")
	_, err = svc.Register(context.Background(), sampleRegistrationInput("attempt-1"))
	assert.True(t, errors.Is(err, appErrors.ErrStoreUnavailable))
}

func TestRegisterReferenceConflictIsInternal(t *testing.T) {
	repo := newStubRegistrationRepo()
	repo.conflictRef = true
	svc := newTestRegistrationService(repo)

	_, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErr.Code)
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	svc := newTestRegistrationService(newStubRegistrationRepo())

	in := sampleRegistrationInput("attempt-1")
	in.Grade = 9
	_, err := svc.Register(context.Background(), in)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Register(context.Background(), sampleRegistrationInput(""))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	repo := newStubRegistrationRepo()
	svc := newTestRegistrationService(repo)

	reg, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-1"))
	require.NoError(t, err)

	paid, err := svc.ConfirmPayment(context.Background(), reg.ID, "photo-1")
	require.NoError(t, err)
	assert.True(t, paid.PaymentConfirmed)
	require.NotNil(t, paid.ProofImageRef)
	assert.Equal(t, "photo-1", *paid.ProofImageRef)
	assert.Equal(t, reg.ChargeRef(), paid.ChargeRef())

	again, err := svc.ConfirmPayment(context.Background(), reg.ID, "photo-2")
	require.NoError(t, err)
	assert.True(t, again.PaymentConfirmed)
	assert.Equal(t, "photo-1", *again.ProofImageRef)
}

func TestConfirmPaymentErrors(t *testing.T) {
	repo := newStubRegistrationRepo()
	svc := newTestRegistrationService(repo)

	_, err := svc.ConfirmPayment(context.Background(), 99, "photo")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	reg, err := svc.Register(context.Background(), sampleRegistrationInput("attempt-1"))
	require.NoError(t, err)
	repo.failMarkPaid = errors.New("disk I/O error")
	_, err = svc.ConfirmPayment(context.Background(), reg.ID, "photo")
	assert.True(t, errors.Is(err, appErrors.ErrStoreUnavailable))

	_, err = svc.ConfirmPayment(context.Background(), reg.ID, "")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
