package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
)

// MemoryRegistrationRepository keeps registrations in process memory. It
// honours the same contract as the SQL store and backs DB_DRIVER=memory.
type MemoryRegistrationRepository struct {
	mu        sync.RWMutex
	nextID    int64
	rows      map[int64]*models.Registration
	byRef     map[string]int64
	byAttempt map[string]int64
	now       func() time.Time
}

// NewMemoryRegistrationRepository constructs an empty in-memory store.
func NewMemoryRegistrationRepository() *MemoryRegistrationRepository {
	return &MemoryRegistrationRepository{
		rows:      make(map[int64]*models.Registration),
		byRef:     make(map[string]int64),
		byAttempt: make(map[string]int64),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRegistrationRepository) Create(_ context.Context, in models.NewRegistration) (*models.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if in.AttemptID != "" {
		if _, ok := r.byAttempt[in.AttemptID]; ok {
			return nil, appErrors.Clone(appErrors.ErrConflict, "registration attempt already stored")
		}
	}

	r.nextID++
	reg := &models.Registration{
		ID:                   r.nextID,
		AccountRef:           in.AccountRef,
		AccountHandle:        in.AccountHandle,
		GuardianName:         in.GuardianName,
		ContactEmail:         in.ContactEmail,
		ContactPhone:         in.ContactPhone,
		ParticipantSurname:   in.ParticipantSurname,
		ParticipantGivenName: in.ParticipantGivenName,
		Grade:                in.Grade,
		School:               in.School,
		Language:             in.Language,
		CreatedAt:            r.now(),
	}
	if in.AttemptID != "" {
		attempt := in.AttemptID
		reg.AttemptID = &attempt
		r.byAttempt[attempt] = reg.ID
	}
	r.rows[reg.ID] = reg

	out := *reg
	return &out, nil
}

func (r *MemoryRegistrationRepository) SetChargeReference(_ context.Context, id int64, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.rows[id]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
	}
	if owner, taken := r.byRef[value]; taken && owner != id {
		return appErrors.Clone(appErrors.ErrConflict, "charge reference already in use")
	}
	if reg.ChargeReference != nil {
		if *reg.ChargeReference == value {
			return nil
		}
		return appErrors.Clone(appErrors.ErrConflict, "registration already has a charge reference")
	}
	ref := value
	reg.ChargeReference = &ref
	r.byRef[value] = id
	return nil
}

func (r *MemoryRegistrationRepository) MarkPaid(_ context.Context, id int64, proofRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.rows[id]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
	}
	if reg.PaymentConfirmed {
		return nil
	}
	proof := proofRef
	paidAt := r.now()
	reg.PaymentConfirmed = true
	reg.ProofImageRef = &proof
	reg.PaidAt = &paidAt
	return nil
}

func (r *MemoryRegistrationRepository) GetByID(_ context.Context, id int64) (*models.Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyOf(id)
}

func (r *MemoryRegistrationRepository) GetByChargeReference(_ context.Context, value string) (*models.Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRef[value]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
	}
	return r.copyOf(id)
}

func (r *MemoryRegistrationRepository) GetByAttempt(_ context.Context, attemptID string) (*models.Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAttempt[attemptID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
	}
	return r.copyOf(id)
}

func (r *MemoryRegistrationRepository) ListByAccount(_ context.Context, accountRef int64) ([]models.Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(func(reg *models.Registration) bool { return reg.AccountRef == accountRef }), nil
}

func (r *MemoryRegistrationRepository) ListAll(_ context.Context) ([]models.Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(func(*models.Registration) bool { return true }), nil
}

func (r *MemoryRegistrationRepository) CountByAccount(_ context.Context, accountRef int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, reg := range r.rows {
		if reg.AccountRef == accountRef {
			count++
		}
	}
	return count, nil
}

// Ping always succeeds.
func (r *MemoryRegistrationRepository) Ping(context.Context) error {
	return nil
}

func (r *MemoryRegistrationRepository) copyOf(id int64) (*models.Registration, error) {
	reg, ok := r.rows[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
	}
	out := *reg
	return &out, nil
}

func (r *MemoryRegistrationRepository) sorted(keep func(*models.Registration) bool) []models.Registration {
	out := make([]models.Registration, 0, len(r.rows))
	for _, reg := range r.rows {
		if keep(reg) {
			out = append(out, *reg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
