package entities

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const monthPattern = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var (
	numericDateRE  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2}|\d{4}))?\b`)
	monthDayRE     = regexp.MustCompile(`\b` + monthPattern + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s*(\d{4})\b)?`)
	dayAfterRE     = regexp.MustCompile(`\bday after tomorrow\b`)
	todayRE        = regexp.MustCompile(`\b(today|tonight|this (?:morning|afternoon|evening))\b`)
	tomorrowRE     = regexp.MustCompile(`\b(tomorrow|tmrw|tmr)\b`)
	weekendRE      = regexp.MustCompile(`\b(?:(this|next)\s+)?weekend\b`)
	nextPeriodRE   = regexp.MustCompile(`\bnext\s+(week|month|year)\b`)
	inDurationRE   = regexp.MustCompile(`\b(?:in|within|after)\s+(?:about\s+|around\s+)?(\d{1,3}|an?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|(?:a\s+)?couple(?:\s+of)?|(?:a\s+)?few)\s+(day|week|month|year)s?\b`)
	weekdayRE      = regexp.MustCompile(`\b(?:(this|next|on|coming)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tues?|thurs?|fri)\b`)
	seasonRE       = regexp.MustCompile(`\b(?:(this|next|in the|by|late|early|until|after)\s+)?(spring|summer|autumn|winter|fall)\b`)
	monthByName    = map[string]time.Month{"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April, "may": time.May, "jun": time.June, "jul": time.July, "aug": time.August, "sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December}
	weekdayByName  = map[string]time.Weekday{"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday}
	seasonStartMon = map[string]time.Month{"spring": time.March, "summer": time.June, "fall": time.September, "autumn": time.September, "winter": time.December}
)

type dateRule struct {
	re      *regexp.Regexp
	resolve func(m []string, today time.Time) (time.Time, bool)
}

// Rules run in order; a later rule never claims text an earlier one matched.
var dateRules = []dateRule{
	{numericDateRE, resolveNumericDate},
	{monthDayRE, resolveMonthDay},
	{dayAfterRE, func(_ []string, today time.Time) (time.Time, bool) { return today.AddDate(0, 0, 2), true }},
	{todayRE, func(_ []string, today time.Time) (time.Time, bool) { return today, true }},
	{tomorrowRE, func(_ []string, today time.Time) (time.Time, bool) { return today.AddDate(0, 0, 1), true }},
	{weekendRE, resolveWeekend},
	{nextPeriodRE, resolveNextPeriod},
	{inDurationRE, resolveInDuration},
	{weekdayRE, resolveWeekday},
	{seasonRE, resolveSeason},
}

func extractDates(lower string, now time.Time) []DateMention {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	type hit struct {
		start int
		date  DateMention
	}
	var hits []hit
	claimed := lower
	for _, rule := range dateRules {
		for _, idx := range rule.re.FindAllStringSubmatchIndex(claimed, -1) {
			m := submatches(claimed, idx)
			at, ok := rule.resolve(m, today)
			if !ok {
				continue
			}
			hits = append(hits, hit{start: idx[0], date: DateMention{Phrase: strings.TrimSpace(lower[idx[0]:idx[1]]), At: at}})
			claimed = blank(claimed, idx[0], idx[1])
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	out := make([]DateMention, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.date)
	}
	return out
}

func submatches(s string, idx []int) []string {
	m := make([]string, len(idx)/2)
	for i := range m {
		if idx[2*i] >= 0 {
			m[i] = s[idx[2*i]:idx[2*i+1]]
		}
	}
	return m
}

// rollForward moves a date without an explicit year into the future.
func rollForward(t, today time.Time) time.Time {
	if t.Before(today) {
		return t.AddDate(1, 0, 0)
	}
	return t
}

func validDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if t.Month() != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func resolveNumericDate(m []string, today time.Time) (time.Time, bool) {
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year := today.Year()
	explicitYear := m[3] != ""
	if explicitYear {
		year, _ = strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
	}
	t, ok := validDate(year, time.Month(month), day, today.Location())
	if !ok {
		return time.Time{}, false
	}
	if !explicitYear {
		t = rollForward(t, today)
	}
	return t, true
}

func resolveMonthDay(m []string, today time.Time) (time.Time, bool) {
	month, ok := monthByName[m[1][:3]]
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[2])
	year := today.Year()
	if m[3] != "" {
		year, _ = strconv.Atoi(m[3])
	}
	t, ok := validDate(year, month, day, today.Location())
	if !ok {
		return time.Time{}, false
	}
	if m[3] == "" {
		t = rollForward(t, today)
	}
	return t, true
}

func resolveWeekend(m []string, today time.Time) (time.Time, bool) {
	wd := today.Weekday()
	if m[1] == "next" {
		ahead := (int(time.Saturday) - int(wd) + 7) % 7
		switch wd {
		case time.Saturday:
			ahead = 7
		case time.Sunday:
			ahead = 6
		default:
			ahead += 7
		}
		return today.AddDate(0, 0, ahead), true
	}
	if wd == time.Saturday || wd == time.Sunday {
		return today, true
	}
	return today.AddDate(0, 0, int(time.Saturday)-int(wd)), true
}

func resolveNextPeriod(m []string, today time.Time) (time.Time, bool) {
	switch m[1] {
	case "week":
		ahead := (int(time.Monday) - int(today.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return today.AddDate(0, 0, ahead), true
	case "month":
		return time.Date(today.Year(), today.Month()+1, 1, 0, 0, 0, 0, today.Location()), true
	case "year":
		return time.Date(today.Year()+1, time.January, 1, 0, 0, 0, 0, today.Location()), true
	}
	return time.Time{}, false
}

func resolveInDuration(m []string, today time.Time) (time.Time, bool) {
	n, ok := parseCount(m[1])
	if !ok || n <= 0 {
		return time.Time{}, false
	}
	switch m[2] {
	case "day":
		return today.AddDate(0, 0, n), true
	case "week":
		return today.AddDate(0, 0, 7*n), true
	case "month":
		return today.AddDate(0, n, 0), true
	case "year":
		return today.AddDate(n, 0, 0), true
	}
	return time.Time{}, false
}

// resolveWeekday picks the nearest future occurrence. A bare weekday equal to
// today means a week from today; "this <today>" means today.
func resolveWeekday(m []string, today time.Time) (time.Time, bool) {
	target, ok := weekdayByName[m[2][:3]]
	if !ok {
		return time.Time{}, false
	}
	ahead := (int(target) - int(today.Weekday()) + 7) % 7
	if ahead == 0 && m[1] != "this" {
		ahead = 7
	}
	return today.AddDate(0, 0, ahead), true
}

func resolveSeason(m []string, today time.Time) (time.Time, bool) {
	prefix, season := m[1], m[2]
	if season == "fall" && prefix == "" {
		return time.Time{}, false
	}
	startMonth := seasonStartMon[season]
	start := time.Date(today.Year(), startMonth, 1, 0, 0, 0, 0, today.Location())
	if prefix != "next" && inSeason(today.Month(), startMonth) {
		return today, true
	}
	if !start.After(today) {
		start = start.AddDate(1, 0, 0)
	}
	return start, true
}

func inSeason(current, start time.Month) bool {
	offset := (int(current) - int(start) + 12) % 12
	return offset < 3
}
