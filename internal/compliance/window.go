package compliance

import (
	"fmt"
	"strings"
	"time"
)

// SendWindow is the part of the week when automated messages may go out: a
// daily quiet-hours window (local time) and the set of allowed weekdays.
type SendWindow struct {
	QuietStartMinutes int
	QuietEndMinutes   int
	location          *time.Location
	days              [7]bool
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseSendWindow builds a window from HH:MM quiet-hour bounds, an IANA
// timezone and weekday names. An empty day list allows every day; equal quiet
// bounds disable quiet hours.
func ParseSendWindow(quietStart, quietEnd, tz string, days []string) (SendWindow, error) {
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return SendWindow{}, fmt.Errorf("compliance: load send window tz: %w", err)
		}
	}
	startMin, err := parseClock(quietStart)
	if err != nil {
		return SendWindow{}, fmt.Errorf("compliance: parse quiet hours start: %w", err)
	}
	endMin, err := parseClock(quietEnd)
	if err != nil {
		return SendWindow{}, fmt.Errorf("compliance: parse quiet hours end: %w", err)
	}

	w := SendWindow{QuietStartMinutes: startMin, QuietEndMinutes: endMin, location: loc}
	if len(days) == 0 {
		for i := range w.days {
			w.days[i] = true
		}
		return w, nil
	}
	for _, d := range days {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return SendWindow{}, fmt.Errorf("compliance: unknown send day %q", d)
		}
		w.days[wd] = true
	}
	return w, nil
}

// AlwaysOpen returns a window with no quiet hours and every day allowed.
func AlwaysOpen() SendWindow {
	w := SendWindow{location: time.UTC}
	for i := range w.days {
		w.days[i] = true
	}
	return w
}

func parseClock(v string) (int, error) {
	if v == "" {
		return 0, fmt.Errorf("empty clock")
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the timezone the window is evaluated in.
func (w SendWindow) Location() *time.Location {
	if w.location == nil {
		return time.UTC
	}
	return w.location
}

// Quiet reports whether now falls inside quiet hours.
func (w SendWindow) Quiet(now time.Time) bool {
	if w.QuietStartMinutes == w.QuietEndMinutes {
		return false
	}
	local := now.In(w.Location())
	minutes := local.Hour()*60 + local.Minute()
	if w.QuietStartMinutes < w.QuietEndMinutes {
		return minutes >= w.QuietStartMinutes && minutes < w.QuietEndMinutes
	}
	// Window crosses midnight.
	return minutes >= w.QuietStartMinutes || minutes < w.QuietEndMinutes
}

// DayAllowed reports whether sends are allowed on the local weekday of now.
func (w SendWindow) DayAllowed(now time.Time) bool {
	return w.days[now.In(w.Location()).Weekday()]
}

// Open reports whether a send at now is allowed.
func (w SendWindow) Open(now time.Time) bool {
	return w.DayAllowed(now) && !w.Quiet(now)
}

// NextOpen returns the earliest moment at or after now when the window is
// open. It returns the zero time when no day is allowed.
func (w SendWindow) NextOpen(now time.Time) time.Time {
	anyDay := false
	for _, ok := range w.days {
		anyDay = anyDay || ok
	}
	if !anyDay {
		return time.Time{}
	}

	loc := w.Location()
	at := now.In(loc)
	for i := 0; i < 16; i++ {
		switch {
		case w.Quiet(at):
			at = w.quietEndAfter(at)
		case !w.DayAllowed(at):
			y, m, d := at.Date()
			at = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
		default:
			return at
		}
	}
	return at
}

// quietEndAfter returns the first quiet-hours end boundary after at.
func (w SendWindow) quietEndAfter(at time.Time) time.Time {
	y, m, d := at.Date()
	end := time.Date(y, m, d, w.QuietEndMinutes/60, w.QuietEndMinutes%60, 0, 0, at.Location())
	if !end.After(at) {
		end = time.Date(y, m, d+1, w.QuietEndMinutes/60, w.QuietEndMinutes%60, 0, 0, at.Location())
	}
	return end
}
