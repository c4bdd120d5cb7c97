package model

import (
	"slices"
	"strings"
	"time"
)

// RenewalDateLayout is the layout oracles are asked to use for renewal dates.
const RenewalDateLayout = "2006-01-02"

// SubscriptionQuery selects and orders subscriptions for display.
type SubscriptionQuery struct {
	Type   SubscriptionType // empty means all types
	Search string           // case-insensitive name substring
	Sort   string           // "name", "price", "renewal"; empty keeps input order
}

// Apply returns the subscriptions matching q, sorted as requested. The input
// slice is not modified.
func (q SubscriptionQuery) Apply(subs []SubscriptionRecord) []SubscriptionRecord {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]SubscriptionRecord, 0, len(subs))
	for _, s := range subs {
		if q.Type != "" && s.Type != q.Type {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(s.Name), search) {
			continue
		}
		out = append(out, s)
	}

	switch q.Sort {
	case "name":
		slices.SortStableFunc(out, func(a, b SubscriptionRecord) int {
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		})
	case "price":
		// Most expensive first; records without a price go last.
		slices.SortStableFunc(out, func(a, b SubscriptionRecord) int {
			switch {
			case a.Price == nil && b.Price == nil:
				return 0
			case a.Price == nil:
				return 1
			case b.Price == nil:
				return -1
			case *a.Price > *b.Price:
				return -1
			case *a.Price < *b.Price:
				return 1
			}
			return 0
		})
	case "renewal":
		slices.SortStableFunc(out, func(a, b SubscriptionRecord) int {
			ta, okA := ParseRenewalDate(a.RenewalDate)
			tb, okB := ParseRenewalDate(b.RenewalDate)
			switch {
			case !okA && !okB:
				return 0
			case !okA:
				return 1
			case !okB:
				return -1
			}
			return ta.Compare(tb)
		})
	}
	return out
}

// ParseRenewalDate parses a renewal date in YYYY-MM-DD form. Oracles do not
// always honor the format, so callers must handle ok == false.
func ParseRenewalDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(RenewalDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RenewalSchedule groups paid subscriptions by how soon they renew.
type RenewalSchedule struct {
	Upcoming  []SubscriptionRecord `json:"upcoming"`   // within the next 7 days
	ThisMonth []SubscriptionRecord `json:"this_month"` // later this calendar month
	Later     []SubscriptionRecord `json:"later"`
}

// Renewals builds a RenewalSchedule relative to now. Only paid subscriptions
// with a parseable renewal date on or after today are included; each group is
// sorted by date.
func Renewals(subs []SubscriptionRecord, now time.Time) RenewalSchedule {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	nextWeek := today.AddDate(0, 0, 7)
	monthEnd := time.Date(today.Year(), today.Month()+1, 0, 0, 0, 0, 0, time.UTC)

	paid := SubscriptionQuery{Type: SubscriptionPaid, Sort: "renewal"}.Apply(subs)

	var sched RenewalSchedule
	for _, s := range paid {
		d, ok := ParseRenewalDate(s.RenewalDate)
		if !ok || d.Before(today) {
			continue
		}
		switch {
		case !d.After(nextWeek):
			sched.Upcoming = append(sched.Upcoming, s)
		case !d.After(monthEnd):
			sched.ThisMonth = append(sched.ThisMonth, s)
		default:
			sched.Later = append(sched.Later, s)
		}
	}
	return sched
}

// SubscriptionSummary holds dashboard totals.
type SubscriptionSummary struct {
	Total        int                      `json:"total"`
	ByType       map[SubscriptionType]int `json:"by_type"`
	MonthlySpend float64                  `json:"monthly_spend"`
}

// Summarize counts subscriptions per type and totals the monthly price of the
// paid ones.
func Summarize(subs []SubscriptionRecord) SubscriptionSummary {
	sum := SubscriptionSummary{
		Total:  len(subs),
		ByType: make(map[SubscriptionType]int, 3),
	}
	for _, s := range subs {
		sum.ByType[s.Type]++
		if s.Type == SubscriptionPaid {
			sum.MonthlySpend += s.PriceValue()
		}
	}
	return sum
}
