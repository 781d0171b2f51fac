package scheduling

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Availability maps a date (DateLayout) to the ordered time labels a doctor
// offers that day. A date with no entry is unconstrained: any label may be
// booked.
type Availability map[string][]string

// Dates returns the declared dates in ascending order.
func (a Availability) Dates() []string {
	dates := make([]string, 0, len(a))
	for d := range a {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Offers reports whether time may be booked on date.
func (a Availability) Offers(date, label string) bool {
	return labelAllowed(a[date], label)
}

// Outside returns the sorted dates of a that are not in [from, to).
func (a Availability) Outside(from, to string) []string {
	var out []string
	for d := range a {
		if d < from || d >= to {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// Within returns the entries with from <= date < to.
func (a Availability) Within(from, to string) Availability {
	out := make(Availability)
	for d, labels := range a {
		if d >= from && d < to {
			out[d] = labels
		}
	}
	return out
}

func labelAllowed(offered []string, label string) bool {
	if len(offered) == 0 {
		return true
	}
	for _, l := range offered {
		if l == label {
			return true
		}
	}
	return false
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// CleanLabels trims every label, drops empty ones and removes duplicates,
// keeping the first occurrence.
func CleanLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// ParseSlotList splits comma separated form input such as "09:00, 10:00,,".
func ParseSlotList(s string) []string {
	return CleanLabels(strings.Split(s, ","))
}

// NormalizeAvailability validates the date keys of raw and cleans each label
// list with CleanLabels. Dates left without labels are dropped, so the result
// never stores an empty list.
func NormalizeAvailability(raw map[string][]string) (Availability, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Availability, len(raw))
	for _, k := range keys {
		t, err := ParseDate(k)
		if err != nil {
			return nil, err
		}
		date := t.Format(DateLayout)
		labels := CleanLabels(append(out[date], raw[k]...))
		if len(labels) == 0 {
			continue
		}
		out[date] = labels
	}
	return out, nil
}

// window returns [today, today+days) as DateLayout strings.
func window(now time.Time, days int) (string, string) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today.Format(DateLayout), today.AddDate(0, 0, days).Format(DateLayout)
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
