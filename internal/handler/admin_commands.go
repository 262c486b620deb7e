package handler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/catalog"
	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	"github.com/noah-isme/olympiad-registration-bot/internal/service"
	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
)

// Commands served outside the registration conversation.
const (
	CommandExport = "export"
	CommandNews   = "news"
	CommandView   = "view"
	CommandMyID   = "myid"
)

type registrationExporter interface {
	Registrations(ctx context.Context, format service.ExportFormat) (*service.ExportResult, error)
}

type statsProvider interface {
	Detailed(ctx context.Context) (*models.DetailedStats, bool, error)
}

type registrationReader interface {
	Get(ctx context.Context, id int64) (*models.Registration, error)
}

type adminTexts interface {
	Lookup(key string, lang models.Language, vars map[string]interface{}) string
	Match(hint string) models.Language
}

// AdminCommands answers /export, /news, /view and /myid.
type AdminCommands struct {
	admins        map[int64]struct{}
	exports       registrationExporter
	stats         statsProvider
	registrations registrationReader
	texts         adminTexts
	location      *time.Location
	logger        *zap.Logger
}

// NewAdminCommands constructs the admin command set.
func NewAdminCommands(adminIDs []int64, exports registrationExporter, stats statsProvider, registrations registrationReader, texts adminTexts, location *time.Location, logger *zap.Logger) *AdminCommands {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminCommands{
		admins:        admins,
		exports:       exports,
		stats:         stats,
		registrations: registrations,
		texts:         texts,
		location:      location,
		logger:        logger,
	}
}

// Handles reports whether command belongs to this set.
func (a *AdminCommands) Handles(command string) bool {
	switch command {
	case CommandExport, CommandNews, CommandView, CommandMyID:
		return true
	}
	return false
}

// IsAdmin reports whether accountID is on the allow-list.
func (a *AdminCommands) IsAdmin(accountID int64) bool {
	_, ok := a.admins[accountID]
	return ok
}

// Handle runs one command. The returned error is for logging only; the
// replies already tell the user what happened.
func (a *AdminCommands) Handle(ctx context.Context, ev models.Event) ([]models.Reply, error) {
	lang := a.texts.Match(ev.LanguageHint)
	if ev.Command == CommandMyID {
		return []models.Reply{a.text(ev.ChatID, lang, "your_id", map[string]interface{}{"user_id": ev.AccountID})}, nil
	}
	if !a.IsAdmin(ev.AccountID) {
		a.logger.Warn("admin command denied", zap.Int64("account", ev.AccountID), zap.String("command", ev.Command))
		return []models.Reply{a.text(ev.ChatID, lang, "admin_access_denied", nil)}, nil
	}

	switch ev.Command {
	case CommandExport:
		return a.export(ctx, ev, lang)
	case CommandNews:
		return a.news(ctx, ev, lang)
	case CommandView:
		return a.view(ctx, ev, lang)
	}
	return nil, fmt.Errorf("unknown admin command %q", ev.Command)
}

func (a *AdminCommands) export(ctx context.Context, ev models.Event, lang models.Language) ([]models.Reply, error) {
	format, err := service.ParseExportFormat(ev.Args)
	if err != nil {
		return []models.Reply{a.text(ev.ChatID, lang, "admin_export_usage", nil)}, nil
	}
	result, err := a.exports.Registrations(ctx, format)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return []models.Reply{a.text(ev.ChatID, lang, "admin_export_empty", nil)}, nil
		}
		return []models.Reply{a.text(ev.ChatID, lang, "error_occurred", nil)}, err
	}

	replies := []models.Reply{{
		Kind:      models.ReplyDocument,
		ChatID:    ev.ChatID,
		Language:  lang,
		PromptKey: "admin_export_success",
		FileName:  result.FileName,
		FileBytes: result.Data,
	}}
	if result.URL != "" {
		replies = append(replies, a.text(ev.ChatID, lang, "admin_export_link", map[string]interface{}{
			"expires": a.formatTime(result.ExpiresAt),
			"url":     result.URL,
		}))
	}
	a.logger.Info("registrations exported",
		zap.Int64("account", ev.AccountID),
		zap.String("format", string(format)),
		zap.Int("rows", result.Rows))
	return replies, nil
}

func (a *AdminCommands) news(ctx context.Context, ev models.Event, lang models.Language) ([]models.Reply, error) {
	stats, _, err := a.stats.Detailed(ctx)
	if err != nil {
		return []models.Reply{a.text(ev.ChatID, lang, "error_occurred", nil)}, err
	}
	return []models.Reply{a.text(ev.ChatID, lang, "admin_stats", a.statsVars(stats, lang))}, nil
}

func (a *AdminCommands) view(ctx context.Context, ev models.Event, lang models.Language) ([]models.Reply, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(ev.Args), 10, 64)
	if err != nil || id <= 0 {
		return []models.Reply{a.text(ev.ChatID, lang, "admin_view_usage", nil)}, nil
	}
	reg, err := a.registrations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return []models.Reply{a.text(ev.ChatID, lang, "admin_view_not_found", map[string]interface{}{"id": id})}, nil
		}
		return []models.Reply{a.text(ev.ChatID, lang, "error_occurred", nil)}, err
	}

	replies := []models.Reply{a.text(ev.ChatID, lang, "admin_view_card", a.cardVars(reg, lang))}
	if reg.ProofImageRef != nil && *reg.ProofImageRef != "" {
		fileID, document := models.SplitProofRef(*reg.ProofImageRef)
		kind := models.ReplyImage
		if document {
			kind = models.ReplyDocument
		}
		replies = append(replies, models.Reply{
			Kind:     kind,
			ChatID:   ev.ChatID,
			Language: lang,
			Raw:      reg.ChargeRef(),
			ImageRef: fileID,
		})
	} else {
		replies = append(replies, a.text(ev.ChatID, lang, "admin_view_no_proof", nil))
	}
	return replies, nil
}

func (a *AdminCommands) text(chatID int64, lang models.Language, key string, vars map[string]interface{}) models.Reply {
	return models.Reply{Kind: models.ReplyText, ChatID: chatID, Language: lang, PromptKey: key, Vars: vars}
}

func (a *AdminCommands) cardVars(reg *models.Registration, lang models.Language) map[string]interface{} {
	status := "status_unpaid"
	if reg.PaymentConfirmed {
		status = "status_paid"
	}
	handle := ""
	if h := reg.Handle(); h != "" {
		handle = "@" + h
	}
	return map[string]interface{}{
		"id":          reg.ID,
		"surname":     reg.ParticipantSurname,
		"name":        reg.ParticipantGivenName,
		"grade":       reg.Grade,
		"school":      reg.School,
		"parent_name": reg.GuardianName,
		"email":       reg.ContactEmail,
		"phone":       reg.ContactPhone,
		"language":    catalog.Raw(a.texts.Lookup("language_name", reg.Language, nil)),
		"account":     reg.AccountRef,
		"handle":      handle,
		"charge_id":   reg.ChargeRef(),
		"status":      catalog.Raw(a.texts.Lookup(status, lang, nil)),
		"created":     a.formatTime(reg.CreatedAt),
	}
}

func (a *AdminCommands) statsVars(s *models.DetailedStats, lang models.Language) map[string]interface{} {
	empty := a.texts.Lookup("stats_empty_list", lang, nil)

	paidByGrade := make(map[string]int, len(s.PaidByGrade))
	for _, e := range s.PaidByGrade {
		paidByGrade[e.Label] = e.Count
	}
	grades := make([]string, 0, len(s.ByGrade))
	for _, e := range s.ByGrade {
		grades = append(grades, fmt.Sprintf("• %s: %d (%d)", html.EscapeString(e.Label), e.Count, paidByGrade[e.Label]))
	}

	languages := make([]string, 0, len(s.ByLanguage))
	for _, e := range s.ByLanguage {
		label := html.EscapeString(e.Label)
		if parsed, ok := models.ParseLanguage(e.Label); ok {
			label = a.texts.Lookup("language_name", parsed, nil)
		}
		languages = append(languages, fmt.Sprintf("• %s: %d", label, e.Count))
	}

	schools := make([]string, 0, len(s.TopSchools))
	for i, e := range s.TopSchools {
		schools = append(schools, fmt.Sprintf("%d. %s: %d", i+1, html.EscapeString(e.Label), e.Count))
	}

	daily := make([]string, 0, len(s.Daily))
	for _, d := range s.Daily {
		daily = append(daily, fmt.Sprintf("• %s: %d (%d)", d.Day.In(a.location).Format("02.01"), d.Total, d.Paid))
	}

	return map[string]interface{}{
		"total":             s.Total,
		"unique_users":      s.UniqueAccounts,
		"paid":              s.Paid,
		"unpaid":            s.Unpaid,
		"payment_rate":      strconv.FormatFloat(s.PaymentRate, 'f', 1, 64),
		"screenshots":       s.ProofsUploaded,
		"today":             s.Today,
		"today_paid":        s.TodayPaid,
		"week":              s.LastWeek,
		"week_paid":         s.LastWeekPaid,
		"by_grade":          joinOr(grades, empty),
		"by_language":       joinOr(languages, empty),
		"top_schools":       joinOr(schools, empty),
		"daily":             joinOr(daily, empty),
		"avg_per_user":      strconv.FormatFloat(s.AvgPerAccount, 'f', 2, 64),
		"multi_users":       s.MultiRegistrants,
		"first":             a.formatTimePtr(s.FirstRegistration, empty),
		"last":              a.formatTimePtr(s.LastRegistration, empty),
		"revenue_potential": catalog.Number(s.PotentialRevenue / 100),
		"revenue_actual":    catalog.Number(s.ActualRevenue / 100),
		"revenue_pending":   catalog.Number(s.PendingRevenue / 100),
	}
}

func (a *AdminCommands) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(a.location).Format("2006-01-02 15:04")
}

func (a *AdminCommands) formatTimePtr(t *time.Time, empty string) interface{} {
	if t == nil {
		return catalog.Raw(empty)
	}
	return a.formatTime(*t)
}

// joinOr joins pre-escaped lines, or returns empty when there are none.
func joinOr(lines []string, empty string) catalog.Raw {
	if len(lines) == 0 {
		return catalog.Raw(empty)
	}
	return catalog.Raw(strings.Join(lines, "\n"))
}
