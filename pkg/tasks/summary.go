package tasks

import (
	"sort"
	"strings"
)

// Totals are the financial sums for one currency
type Totals struct {
	TotalInitialDemand   float64 `json:"totalInitialDemand"`
	TotalOfficialPayment float64 `json:"totalOfficialPayment"`
	TotalMotivation      float64 `json:"totalMotivation"`
	// GrandTotal is official payment plus motivation
	GrandTotal float64 `json:"grandTotal"`
}

// Summary maps currency codes to totals
type Summary map[string]Totals

// Currencies returns the summary's currency codes in sorted order
func (s Summary) Currencies() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// SummaryFilter narrows the tasks that are summed. Zero values match all.
type SummaryFilter struct {
	Year     int
	Statuses []Status
	Labels   []string
}

// Matches reports whether t passes the filter. The year is taken from the
// entry date, falling back to the creation date.
func (f SummaryFilter) Matches(t Task) bool {
	if f.Year != 0 {
		ts := t.EntryDate
		if ts == nil {
			ts = t.CreatedAt
		}
		if ts == nil || ts.Year() != f.Year {
			return false
		}
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
		return false
	}
	if len(f.Labels) > 0 && !containsFold(f.Labels, t.Label) {
		return false
	}
	return true
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Summarize totals the three amount fields of tasks per currency. Each
// amount is counted under its own currency, USD when unset; zero amounts
// are skipped. An empty result reports USD with all zeros.
func Summarize(tasks []Task, filter SummaryFilter) Summary {
	s := Summary{}
	add := func(currency string, apply func(*Totals)) {
		if currency == "" {
			currency = DefaultCurrency
		}
		totals := s[currency]
		apply(&totals)
		s[currency] = totals
	}

	for _, t := range tasks {
		if !filter.Matches(t) {
			continue
		}
		if t.InitialDemand != 0 {
			amount := t.InitialDemand
			add(t.InitialDemandCurrency, func(tt *Totals) { tt.TotalInitialDemand += amount })
		}
		if t.OfficialSettlement != 0 {
			amount := t.OfficialSettlement
			add(t.OfficialSettlementCurrency, func(tt *Totals) { tt.TotalOfficialPayment += amount })
		}
		if t.Motivation != 0 {
			amount := t.Motivation
			add(t.MotivationCurrency, func(tt *Totals) { tt.TotalMotivation += amount })
		}
	}

	if len(s) == 0 {
		s[DefaultCurrency] = Totals{}
	}
	for c, totals := range s {
		totals.GrandTotal = totals.TotalOfficialPayment + totals.TotalMotivation
		s[c] = totals
	}
	return s
}
