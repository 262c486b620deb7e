package service

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
)

const (
	topSchoolsLimit = 10
	dailyWindow     = 7
)

type registrationLister interface {
	ListAll(ctx context.Context) ([]models.Registration, error)
}

// StatsService aggregates registrations for the admin statistics report.
type StatsService struct {
	repo     registrationLister
	cache    *CacheService
	cacheTTL time.Duration
	price    int64
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// NewStatsService constructs the service. Day boundaries are computed in loc.
func NewStatsService(repo registrationLister, cache *CacheService, cacheTTL time.Duration, price int64, loc *time.Location, logger *zap.Logger) *StatsService {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		price:    price,
		location: loc,
		logger:   logger,
		now:      time.Now,
	}
}

// Detailed returns the statistics snapshot. The boolean reports whether it
// was served from cache.
func (s *StatsService) Detailed(ctx context.Context) (*models.DetailedStats, bool, error) {
	var cached models.DetailedStats
	if hit, err := s.cache.Get(ctx, StatsCacheKey, &cached); err == nil && hit {
		return &cached, true, nil
	}

	items, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, false, storeError(err, "failed to load registrations for statistics")
	}
	stats := s.Aggregate(items)

	if err := s.cache.Set(ctx, StatsCacheKey, stats, s.cacheTTL); err != nil {
		s.logger.Warn("cache statistics", zap.Error(err))
	}
	return stats, false, nil
}

// Aggregate computes the statistics over items.
func (s *StatsService) Aggregate(items []models.Registration) *models.DetailedStats {
	now := s.now().In(s.location)
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	weekAgo := now.Add(-dailyWindow * 24 * time.Hour)

	stats := &models.DetailedStats{Total: len(items), GeneratedAt: now}

	perAccount := map[int64]int{}
	byGrade := map[int]int{}
	paidByGrade := map[int]int{}
	byLanguage := map[string]int{}
	bySchool := map[string]int{}

	daily := make([]models.DailyCount, dailyWindow)
	for i := range daily {
		daily[i].Day = todayStart.AddDate(0, 0, -i)
	}

	for i := range items {
		reg := &items[i]
		created := reg.CreatedAt.In(s.location)

		perAccount[reg.AccountRef]++
		byGrade[reg.Grade]++
		byLanguage[string(reg.Language)]++
		bySchool[reg.School]++
		if reg.PaymentConfirmed {
			stats.Paid++
			paidByGrade[reg.Grade]++
		}
		if reg.ProofImageRef != nil {
			stats.ProofsUploaded++
		}

		if !created.Before(todayStart) {
			stats.Today++
			if reg.PaymentConfirmed {
				stats.TodayPaid++
			}
		}
		if !created.Before(weekAgo) {
			stats.LastWeek++
			if reg.PaymentConfirmed {
				stats.LastWeekPaid++
			}
		}
		for d := range daily {
			if !created.Before(daily[d].Day) && created.Before(daily[d].Day.AddDate(0, 0, 1)) {
				daily[d].Total++
				if reg.PaymentConfirmed {
					daily[d].Paid++
				}
				break
			}
		}

		if stats.FirstRegistration == nil || created.Before(*stats.FirstRegistration) {
			first := created
			stats.FirstRegistration = &first
		}
		if stats.LastRegistration == nil || created.After(*stats.LastRegistration) {
			last := created
			stats.LastRegistration = &last
		}
	}

	stats.Unpaid = stats.Total - stats.Paid
	stats.UniqueAccounts = len(perAccount)
	for _, count := range perAccount {
		if count > 1 {
			stats.MultiRegistrants++
		}
	}
	if stats.Total > 0 {
		stats.PaymentRate = round(float64(stats.Paid)/float64(stats.Total)*100, 1)
	}
	if stats.UniqueAccounts > 0 {
		stats.AvgPerAccount = round(float64(stats.Total)/float64(stats.UniqueAccounts), 2)
	}

	stats.ByGrade = gradeEntries(byGrade)
	stats.PaidByGrade = gradeEntries(paidByGrade)
	stats.ByLanguage = rankedEntries(byLanguage, 0)
	stats.TopSchools = rankedEntries(bySchool, topSchoolsLimit)
	stats.Daily = daily

	stats.PotentialRevenue = int64(stats.Total) * s.price
	stats.ActualRevenue = int64(stats.Paid) * s.price
	stats.PendingRevenue = int64(stats.Unpaid) * s.price
	return stats
}

func gradeEntries(counts map[int]int) []models.CountEntry {
	grades := make([]int, 0, len(counts))
	for grade := range counts {
		grades = append(grades, grade)
	}
	sort.Ints(grades)
	out := make([]models.CountEntry, 0, len(grades))
	for _, grade := range grades {
		out = append(out, models.CountEntry{Label: strconv.Itoa(grade), Count: counts[grade]})
	}
	return out
}

// rankedEntries orders by count descending, then label. limit <= 0 keeps all.
func rankedEntries(counts map[string]int, limit int) []models.CountEntry {
	out := make([]models.CountEntry, 0, len(counts))
	for label, count := range counts {
		out = append(out, models.CountEntry{Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Label < out[j].Label
		}
		return out[i].Count > out[j].Count
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func round(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
