package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
	"github.com/noah-isme/olympiad-registration-bot/pkg/export"
	"github.com/noah-isme/olympiad-registration-bot/pkg/storage"
)

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportXLSX ExportFormat = "xlsx"
	ExportCSV  ExportFormat = "csv"
	ExportPDF  ExportFormat = "pdf"
)

// ParseExportFormat maps a command argument onto a format. Empty means xlsx.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ExportXLSX:
		return ExportXLSX, nil
	case ExportCSV:
		return ExportCSV, nil
	case ExportPDF:
		return ExportPDF, nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format "+raw)
}

var exportHeaders = []string{
	"id", "account_ref", "account_handle", "guardian_name", "contact_email", "contact_phone",
	"participant_surname", "participant_given_name", "grade", "school", "charge_reference",
	"language", "payment_confirmed", "proof_image_ref", "created_at", "paid_at",
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type tableRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	PublicBaseURL string
	ResultTTL     time.Duration
	Location      *time.Location
}

// ExportResult captures a rendered export and where it was stored.
type ExportResult struct {
	FileName     string
	RelativePath string
	Token        string
	URL          string
	Format       ExportFormat
	ExpiresAt    time.Time
	Rows         int
	Data         []byte
}

// ExportService renders all registrations for admins and keeps the files
// on disk behind signed download links.
type ExportService struct {
	repo    registrationLister
	storage fileStorage
	xlsx    tableRenderer
	csv     tableRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService. storage and signer may be nil,
// in which case files are only returned, not kept.
func NewExportService(repo registrationLister, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ExportService{
		repo:    repo,
		storage: store,
		xlsx:    export.NewXLSXExporter("Registrations"),
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(pdfText),
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Registrations renders every registration in format. It fails with
// NotFound when there is nothing to export.
func (s *ExportService) Registrations(ctx context.Context, format ExportFormat) (*ExportResult, error) {
	items, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, storeError(err, "failed to load registrations for export")
	}
	if len(items) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no registrations to export")
	}

	dataset := s.dataset(items)
	var payload []byte
	switch format {
	case ExportXLSX:
		payload, err = s.xlsx.Render(dataset)
	case ExportCSV:
		payload, err = s.csv.Render(dataset)
	case ExportPDF:
		payload, err = s.pdf.Render(dataset, "Olympiad registrations")
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format "+string(format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	now := s.now().In(s.cfg.Location)
	result := &ExportResult{
		FileName: fmt.Sprintf("olympiad_registrations_%s.%s", now.Format("20060102_150405"), format),
		Format:   format,
		Rows:     len(items),
		Data:     payload,
	}
	if s.storage == nil {
		return result, nil
	}

	relPath, err := s.storage.Save(result.FileName, payload)
	if err != nil {
		s.logger.Warn("failed to keep export on disk", zap.String("file", result.FileName), zap.Error(err))
		return result, nil
	}
	result.RelativePath = relPath

	if s.signer != nil {
		token, expiresAt, err := s.signer.Generate(uuid.NewString(), relPath)
		if err != nil {
			s.logger.Warn("failed to sign export link", zap.String("file", relPath), zap.Error(err))
			return result, nil
		}
		result.Token = token
		result.ExpiresAt = expiresAt
		if base := strings.TrimRight(s.cfg.PublicBaseURL, "/"); base != "" {
			result.URL = base + "/exports/" + token
		}
	}
	return result, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string) (relPath string, expiresAt time.Time, err error) {
	if s.signer == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "export downloads disabled")
	}
	_, relPath, expiresAt, err = s.signer.Parse(token, false)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid export token")
	}
	return relPath, expiresAt, nil
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	if s.storage == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export storage disabled")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export not found")
	}
	return file, nil
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if s.storage == nil {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) dataset(items []models.Registration) export.Dataset {
	rows := make([]map[string]string, 0, len(items))
	for i := range items {
		reg := &items[i]
		rows = append(rows, map[string]string{
			"id":                     strconv.FormatInt(reg.ID, 10),
			"account_ref":            strconv.FormatInt(reg.AccountRef, 10),
			"account_handle":         reg.Handle(),
			"guardian_name":          reg.GuardianName,
			"contact_email":          reg.ContactEmail,
			"contact_phone":          reg.ContactPhone,
			"participant_surname":    reg.ParticipantSurname,
			"participant_given_name": reg.ParticipantGivenName,
			"grade":                  strconv.Itoa(reg.Grade),
			"school":                 reg.School,
			"charge_reference":       reg.ChargeRef(),
			"language":               string(reg.Language),
			"payment_confirmed":      strconv.FormatBool(reg.PaymentConfirmed),
			"proof_image_ref":        deref(reg.ProofImageRef),
			"created_at":             s.formatTime(&reg.CreatedAt),
			"paid_at":                s.formatTime(reg.PaidAt),
		})
	}
	return export.Dataset{
		Headers: exportHeaders,
		Rows:    rows,
		Numeric: []string{"id", "account_ref", "grade"},
	}
}

func (s *ExportService) formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(s.cfg.Location).Format("2006-01-02 15:04:05")
}

// pdfText transliterates Cyrillic and encodes the rest as cp1252 so the PDF
// core fonts can draw it.
func pdfText(value string) string {
	encoder := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())
	out, err := encoder.String(Transliterate(value))
	if err != nil {
		return Transliterate(value)
	}
	return out
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
