package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/catalog"
	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	"github.com/noah-isme/olympiad-registration-bot/internal/repository"
	"github.com/noah-isme/olympiad-registration-bot/internal/service"
	"github.com/noah-isme/olympiad-registration-bot/pkg/storage"
)

const testAdminID = 900

type adminFixture struct {
	commands      *AdminCommands
	registrations *service.RegistrationService
	exports       *service.ExportService
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	cat, err := catalog.New(models.FallbackLanguage)
	require.NoError(t, err)

	repo := repository.NewMemoryRegistrationRepository()
	registrations := service.NewRegistrationService(repo, service.NewFieldValidator(nil, 1, 8), nil, nil, zap.NewNop())
	stats := service.NewStatsService(repo, nil, time.Minute, 50000, time.UTC, zap.NewNop())

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	exports := service.NewExportService(repo, store, storage.NewSignedURLSigner("secret", time.Hour),
		service.ExportConfig{PublicBaseURL: "https://bot.example.org"}, zap.NewNop())

	return &adminFixture{
		commands:      NewAdminCommands([]int64{testAdminID}, exports, stats, registrations, cat, time.UTC, zap.NewNop()),
		registrations: registrations,
		exports:       exports,
	}
}

func (f *adminFixture) register(t *testing.T, attempt string, grade int) *models.Registration {
	t.Helper()
	reg, err := f.registrations.Register(context.Background(), models.NewRegistration{
		AccountRef:           5001,
		GuardianName:         "Ivanov Petr",
		ContactEmail:         "a@b.com",
		ContactPhone:         "+998901234567",
		ParticipantSurname:   "Ivanov",
		ParticipantGivenName: "Ivan",
		Grade:                grade,
		School:               "School <12>",
		Language:             models.LanguageUzbek,
		AttemptID:            attempt,
	})
	require.NoError(t, err)
	return reg
}

func adminCommand(account int64, command, args string) models.Event {
	return models.Event{Kind: models.EventCommand, AccountID: account, ChatID: account, Command: command, Args: args, LanguageHint: "en"}
}

func TestAdminCommandsMyIDIsOpenToEveryone(t *testing.T) {
	f := newAdminFixture(t)
	replies, err := f.commands.Handle(context.Background(), adminCommand(77, CommandMyID, ""))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "your_id", replies[0].PromptKey)
	assert.Equal(t, int64(77), replies[0].Vars["user_id"])
}

func TestAdminCommandsDenyNonAdmins(t *testing.T) {
	f := newAdminFixture(t)
	for _, command := range []string{CommandExport, CommandNews, CommandView} {
		replies, err := f.commands.Handle(context.Background(), adminCommand(77, command, "1"))
		require.NoError(t, err)
		require.Len(t, replies, 1)
		assert.Equal(t, "admin_access_denied", replies[0].PromptKey, command)
	}
}

func TestAdminExport(t *testing.T) {
	f := newAdminFixture(t)

	replies, err := f.commands.Handle(context.Background(), adminCommand(testAdminID, CommandExport, ""))
	require.NoError(t, err)
	assert.Equal(t, "admin_export_empty", replies[0].PromptKey)

	replies, err = f.commands.Handle(context.Background(), adminCommand(testAdminID, CommandExport, "docx"))
	require.NoError(t, err)
	assert.Equal(t, "admin_export_usage", replies[0].PromptKey)

	f.register(t, "a-1", 5)
	replies, err = f.commands.Handle(context.Background(), adminCommand(testAdminID, CommandExport, "csv"))
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, models.ReplyDocument, replies[0].Kind)
	assert.Contains(t, replies[0].FileName, ".csv")
	assert.Contains(t, string(replies[0].FileBytes), "Ivanov")
	assert.Equal(t, "admin_export_link", replies[1].PromptKey)
	assert.Contains(t, replies[1].Vars["url"], "https://bot.example.org/exports/")
}

func TestAdminView(t *testing.T) {
	f := newAdminFixture(t)
	reg := f.register(t, "a-1", 5)

	replies, _ := f.commands.Handle(context.Background(), adminCommand(testAdminID, CommandView, "abc"))
	assert.Equal(t, "admin_view_usage", replies[0].PromptKey)

	replies, _ = f.commands.Handle(context.Background(), adminCommand(testAdminID, CommandView, "999"))
	assert.Equal(t, "admin_view_not_found", replies[0].PromptKey)
	assert.Equal(t, int64(999), replies[0].Vars["id"])

	replies, err := f.commands.Handle(context.Background(), adminCommand(testAdminID, CommandView, "1"))
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, "admin_view_card", replies[0].PromptKey)
	assert.Equal(t, reg.ChargeRef(), replies[0].Vars["charge_id"])
	assert.Equal(t, catalog.Raw("⏳ unpaid"), replies[0].Vars["status"])
	assert.Equal(t, "admin_view_no_proof", replies[1].PromptKey)

	_, err = f.registrations.ConfirmPayment(context.Background(), reg.ID, "photo-9")
	require.NoError(t, err)
	replies, err = f.commands.Handle(context.Background(), adminCommand(testAdminID, CommandView, " 1 "))
	require.NoError(t, err)
	assert.Equal(t, catalog.Raw("✅ paid"), replies[0].Vars["status"])
	assert.Equal(t, models.ReplyImage, replies[1].Kind)
	assert.Equal(t, "photo-9", replies[1].ImageRef)
}

func TestAdminViewResendsDocumentProofAsDocument(t *testing.T) {
	f := newAdminFixture(t)
	reg := f.register(t, "attempt-doc", 4)
	_, err := f.registrations.ConfirmPayment(context.Background(), reg.ID, models.DocumentProofRef("doc-3"))
	require.NoError(t, err)

	replies, err := f.commands.Handle(context.Background(), adminCommand(testAdminID, CommandView, "1"))
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, models.ReplyDocument, replies[1].Kind)
	assert.Equal(t, "doc-3", replies[1].ImageRef)
	assert.Equal(t, reg.ChargeRef(), replies[1].Raw)
}

func TestAdminNews(t *testing.T) {
	f := newAdminFixture(t)

	replies, err := f.commands.Handle(context.Background(), adminCommand(testAdminID, CommandNews, ""))
	require.NoError(t, err)
	assert.Equal(t, "admin_stats", replies[0].PromptKey)
	assert.Equal(t, catalog.Raw("—"), replies[0].Vars["by_grade"])

	reg := f.register(t, "a-1", 5)
	f.register(t, "a-2", 7)
	_, err = f.registrations.ConfirmPayment(context.Background(), reg.ID, "photo-1")
	require.NoError(t, err)

	replies, err = f.commands.Handle(context.Background(), adminCommand(testAdminID, CommandNews, ""))
	require.NoError(t, err)
	vars := replies[0].Vars
	assert.Equal(t, 2, vars["total"])
	assert.Equal(t, 1, vars["paid"])
	assert.Equal(t, "50.0", vars["payment_rate"])
	assert.Equal(t, catalog.Raw("• 5: 1 (1)\n• 7: 1 (0)"), vars["by_grade"])
	assert.Equal(t, catalog.Raw("1. School &lt;12&gt;: 2"), vars["top_schools"])
	assert.Contains(t, string(vars["by_language"].(catalog.Raw)), "O'zbekcha: 2")
	assert.Equal(t, catalog.Number(1000), vars["revenue_potential"])
	assert.Equal(t, catalog.Number(500), vars["revenue_actual"])
}
