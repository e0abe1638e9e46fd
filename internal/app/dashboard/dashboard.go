// Package dashboard derives the operational overview from a ledger snapshot.
package dashboard

import (
	"sort"
	"time"

	"github.com/agenda-it/agenda/internal/domain"
)

// RevenueWindow is the number of most recent dates kept in RevenueByDate.
const RevenueWindow = 7

// DailyRevenue is the summed ticket cost for one scheduled date.
type DailyRevenue struct {
	Date   string       `json:"date"`
	Amount domain.Money `json:"amount"`
}

// Summary is the overview shown on the dashboard.
type Summary struct {
	Date                 string         `json:"date"`
	TodayCount           int            `json:"today_count"`
	PendingCount         int            `json:"pending_count"`
	ProjectedDailyIncome domain.Money   `json:"projected_daily_income"`
	Receivables          domain.Money   `json:"receivables"`
	UnpaidInvoices       int            `json:"unpaid_invoices"`
	TotalInvoiced        domain.Money   `json:"total_invoiced"`
	RevenueByDate        []DailyRevenue `json:"revenue_by_date"`
}

// Compute builds the summary for the calendar day of today.
func Compute(snap domain.Snapshot, today time.Time) Summary {
	day := today.Format(time.DateOnly)
	s := Summary{Date: day, RevenueByDate: []DailyRevenue{}}

	byDate := make(map[string]domain.Money)
	for _, t := range snap.Tickets {
		if t.ScheduledDate == day {
			s.TodayCount++
			s.ProjectedDailyIncome += domain.Cost(t.EstimatedHours)
		}
		if t.Status == domain.TicketPending || t.Status == domain.TicketInProgress {
			s.PendingCount++
		}
		byDate[t.ScheduledDate] += t.Cost
	}

	for _, inv := range snap.Invoices {
		s.TotalInvoiced += inv.Amount
		if !inv.IsPaid {
			s.Receivables += inv.Amount
			s.UnpaidInvoices++
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	if len(dates) > RevenueWindow {
		dates = dates[len(dates)-RevenueWindow:]
	}
	for _, d := range dates {
		s.RevenueByDate = append(s.RevenueByDate, DailyRevenue{Date: d, Amount: byDate[d]})
	}
	return s
}
