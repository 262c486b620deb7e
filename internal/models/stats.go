package models

import "time"

// CountEntry is one labelled count in a breakdown.
type CountEntry struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// DailyCount is the registration volume of one day.
type DailyCount struct {
	Day   time.Time `json:"day"`
	Total int       `json:"total"`
	Paid  int       `json:"paid"`
}

// DetailedStats aggregates registrations for the admin report.
type DetailedStats struct {
	Total             int          `json:"total"`
	UniqueAccounts    int          `json:"unique_accounts"`
	Paid              int          `json:"paid"`
	Unpaid            int          `json:"unpaid"`
	PaymentRate       float64      `json:"payment_rate"`
	ProofsUploaded    int          `json:"proofs_uploaded"`
	ByGrade           []CountEntry `json:"by_grade"`
	PaidByGrade       []CountEntry `json:"paid_by_grade"`
	ByLanguage        []CountEntry `json:"by_language"`
	Today             int          `json:"today"`
	TodayPaid         int          `json:"today_paid"`
	LastWeek          int          `json:"last_week"`
	LastWeekPaid      int          `json:"last_week_paid"`
	Daily             []DailyCount `json:"daily"`
	TopSchools        []CountEntry `json:"top_schools"`
	AvgPerAccount     float64      `json:"avg_per_account"`
	MultiRegistrants  int          `json:"multi_registrants"`
	FirstRegistration *time.Time   `json:"first_registration,omitempty"`
	LastRegistration  *time.Time   `json:"last_registration,omitempty"`
	PotentialRevenue  int64        `json:"potential_revenue"`
	ActualRevenue     int64        `json:"actual_revenue"`
	PendingRevenue    int64        `json:"pending_revenue"`
	GeneratedAt       time.Time    `json:"generated_at"`
}
