package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
	"github.com/noah-isme/olympiad-registration-bot/pkg/storage"
)

func exportFixtureRows() []models.Registration {
	ref := "1_Ivanov_Ivan_5"
	proof := "photo-1"
	paidAt := time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC)
	return []models.Registration{{
		ID:                   1,
		AccountRef:           5001,
		GuardianName:         "Иванов Пётр",
		ContactEmail:         "a@b.com",
		ContactPhone:         "+998901234567",
		ParticipantSurname:   "Иванов",
		ParticipantGivenName: "Иван",
		Grade:                5,
		School:               "School 12",
		ChargeReference:      &ref,
		Language:             models.LanguageRussian,
		PaymentConfirmed:     true,
		ProofImageRef:        &proof,
		CreatedAt:            time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		PaidAt:               &paidAt,
	}}
}

func newExportServiceForTest(t *testing.T, items []models.Registration) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	cfg := ExportConfig{PublicBaseURL: "https://bot.example.org/", ResultTTL: time.Hour}
	svc := NewExportService(&staticLister{items: items}, store, signer, cfg, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 12, 30, 45, 0, time.UTC) }
	return svc, store
}

func TestExportRegistrationsXLSX(t *testing.T) {
	svc, store := newExportServiceForTest(t, exportFixtureRows())

	result, err := svc.Registrations(context.Background(), ExportXLSX)
	require.NoError(t, err)
	assert.Equal(t, "olympiad_registrations_20260310_123045.xlsx", result.FileName)
	assert.Equal(t, 1, result.Rows)
	assert.Contains(t, result.URL, "https://bot.example.org/exports/")

	book, err := excelize.OpenReader(bytes.NewReader(result.Data))
	require.NoError(t, err)
	rows, err := book.GetRows("Registrations")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, exportHeaders, rows[0])
	assert.Equal(t, "Иванов", rows[1][6])
	assert.Equal(t, "1_Ivanov_Ivan_5", rows[1][10])

	_, err = os.Stat(store.Path(result.RelativePath))
	require.NoError(t, err)

	relPath, _, err := svc.ParseToken(result.Token)
	require.NoError(t, err)
	file, err := svc.Open(relPath)
	require.NoError(t, err)
	defer file.Close()
	stored, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, result.Data, stored)
}

func TestExportRegistrationsCSVAndPDF(t *testing.T) {
	svc, _ := newExportServiceForTest(t, exportFixtureRows())

	csvResult, err := svc.Registrations(context.Background(), ExportCSV)
	require.NoError(t, err)
	assert.Contains(t, string(csvResult.Data), "Иванов Пётр")
	assert.Contains(t, string(csvResult.Data), "2026-03-10 10:05:00")

	pdfResult, err := svc.Registrations(context.Background(), ExportPDF)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdfResult.Data, []byte("%PDF")))
}

func TestExportRegistrationsEmpty(t *testing.T) {
	svc, _ := newExportServiceForTest(t, nil)
	_, err := svc.Registrations(context.Background(), ExportXLSX)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestExportParseTokenRejectsGarbage(t *testing.T) {
	svc, _ := newExportServiceForTest(t, nil)
	_, _, err := svc.ParseToken("not-a-token")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestParseExportFormat(t *testing.T) {
	for raw, want := range map[string]ExportFormat{"": ExportXLSX, "XLSX": ExportXLSX, " csv ": ExportCSV, "pdf": ExportPDF} {
		got, err := ParseExportFormat(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseExportFormat("docx")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestPDFTextTransliterates(t *testing.T) {
	assert.Equal(t, "Ivanov Pyotr", pdfText("Иванов Пётр"))
	assert.Equal(t, "Caf\xe9", pdfText("Café"))
}
