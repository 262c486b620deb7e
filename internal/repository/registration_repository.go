package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
)

const registrationColumns = `id, account_ref, account_handle, guardian_name, contact_email, contact_phone,
        participant_surname, participant_given_name, grade, school, charge_reference, language_tag,
        payment_confirmed, proof_image_ref, attempt_id, created_at, paid_at`

// RegistrationRepository persists registrations in PostgreSQL or SQLite.
// Queries are written with ? placeholders and rebound for the driver.
type RegistrationRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new unpaid registration and returns it with its id.
func (r *RegistrationRepository) Create(ctx context.Context, in models.NewRegistration) (*models.Registration, error) {
	reg := &models.Registration{
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
	}

	query := r.db.Rebind(`INSERT INTO registrations (account_ref, account_handle, guardian_name, contact_email, contact_phone,
        participant_surname, participant_given_name, grade, school, language_tag, payment_confirmed, attempt_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := r.db.GetContext(ctx, &reg.ID, query,
		reg.AccountRef, reg.AccountHandle, reg.GuardianName, reg.ContactEmail, reg.ContactPhone,
		reg.ParticipantSurname, reg.ParticipantGivenName, reg.Grade, reg.School, reg.Language,
		false, reg.AttemptID, reg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "registration attempt already stored")
		}
		return nil, fmt.Errorf("create registration: %w", err)
	}
	return reg, nil
}

// SetChargeReference assigns value to the registration once. Assigning the
// same value again is a no-op; any other value conflicts.
func (r *RegistrationRepository) SetChargeReference(ctx context.Context, id int64, value string) error {
	query := r.db.Rebind(`UPDATE registrations SET charge_reference = ?
        WHERE id = ? AND (charge_reference IS NULL OR charge_reference = ?)`)
	res, err := r.db.ExecContext(ctx, query, value, id, value)
	if err != nil {
		if isUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "charge reference already in use")
		}
		return fmt.Errorf("set charge reference: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set charge reference rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if err := r.ensureExists(ctx, id); err != nil {
		return err
	}
	return appErrors.Clone(appErrors.ErrConflict, "registration already has a charge reference")
}

// MarkPaid flips the payment flag and records the proof. Calling it again on
// a paid registration leaves the first proof in place.
func (r *RegistrationRepository) MarkPaid(ctx context.Context, id int64, proofRef string) error {
	query := r.db.Rebind(`UPDATE registrations SET payment_confirmed = ?, proof_image_ref = ?, paid_at = ?
        WHERE id = ? AND payment_confirmed = ?`)
	res, err := r.db.ExecContext(ctx, query, true, proofRef, r.now(), id, false)
	if err != nil {
		return fmt.Errorf("mark registration paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark registration paid rows: %w", err)
	}
	if affected > 0 {
		return nil
	}
	return r.ensureExists(ctx, id)
}

// GetByID fetches one registration.
func (r *RegistrationRepository) GetByID(ctx context.Context, id int64) (*models.Registration, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByChargeReference fetches the registration owning value.
func (r *RegistrationRepository) GetByChargeReference(ctx context.Context, value string) (*models.Registration, error) {
	return r.getOne(ctx, "charge_reference = ?", value)
}

// GetByAttempt fetches the registration created by a conversation attempt.
func (r *RegistrationRepository) GetByAttempt(ctx context.Context, attemptID string) (*models.Registration, error) {
	return r.getOne(ctx, "attempt_id = ?", attemptID)
}

// ListByAccount returns an account's registrations, newest first.
func (r *RegistrationRepository) ListByAccount(ctx context.Context, accountRef int64) ([]models.Registration, error) {
	query := r.db.Rebind(fmt.Sprintf(`SELECT %s FROM registrations WHERE account_ref = ? ORDER BY created_at DESC, id DESC`, registrationColumns))
	var regs []models.Registration
	if err := r.db.SelectContext(ctx, &regs, query, accountRef); err != nil {
		return nil, fmt.Errorf("list registrations by account: %w", err)
	}
	return regs, nil
}

// ListAll returns every registration, newest first.
func (r *RegistrationRepository) ListAll(ctx context.Context) ([]models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations ORDER BY created_at DESC, id DESC`, registrationColumns)
	var regs []models.Registration
	if err := r.db.SelectContext(ctx, &regs, query); err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// CountByAccount counts the registrations submitted by an account.
func (r *RegistrationRepository) CountByAccount(ctx context.Context, accountRef int64) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM registrations WHERE account_ref = ?`), accountRef); err != nil {
		return 0, fmt.Errorf("count registrations by account: %w", err)
	}
	return count, nil
}

// Ping reports whether the database is reachable.
func (r *RegistrationRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *RegistrationRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.Registration, error) {
	query := r.db.Rebind(fmt.Sprintf(`SELECT %s FROM registrations WHERE %s`, registrationColumns, where))
	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &reg, nil
}

func (r *RegistrationRepository) ensureExists(ctx context.Context, id int64) error {
	var exists int
	err := r.db.GetContext(ctx, &exists, r.db.Rebind(`SELECT 1 FROM registrations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
	}
	if err != nil {
		return fmt.Errorf("check registration: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
