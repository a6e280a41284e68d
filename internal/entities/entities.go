// Package entities pulls structured values out of free-form lead messages.
//
// Extraction is pure: no I/O, no shared state, and unrecognized text yields an
// empty Set rather than an error.
package entities

import (
	"strings"
	"time"
)

// Answer is a normalized yes/no/maybe reply.
type Answer string

const (
	AnswerNone  Answer = ""
	AnswerYes   Answer = "yes"
	AnswerNo    Answer = "no"
	AnswerMaybe Answer = "maybe"
)

// Financing describes how a lead intends to pay.
type Financing string

const (
	FinancingUnknown     Financing = ""
	FinancingCash        Financing = "cash"
	FinancingPreapproved Financing = "preapproved"
	FinancingNeeded      Financing = "needs_financing"
)

// DateMention is a resolved calendar date plus the phrase it came from.
type DateMention struct {
	Phrase string    `json:"phrase"`
	At     time.Time `json:"at"`
}

// PriceRange is a budget in whole dollars. Zero means unbounded on that side.
type PriceRange struct {
	Min int64 `json:"min,omitempty"`
	Max int64 `json:"max,omitempty"`
}

// BedroomRange is a bedroom count range. Zero means unbounded on that side.
type BedroomRange struct {
	Min int `json:"min,omitempty"`
	Max int `json:"max,omitempty"`
}

// Set holds everything recognized in one message.
type Set struct {
	Dates      []DateMention `json:"dates,omitempty"`
	Phones     []string      `json:"phones,omitempty"`
	Answer     Answer        `json:"answer,omitempty"`
	Price      *PriceRange   `json:"price,omitempty"`
	Bedrooms   *BedroomRange `json:"bedrooms,omitempty"`
	Financing  Financing     `json:"financing,omitempty"`
	Areas      []string      `json:"areas,omitempty"`
	Urgent     bool          `json:"urgent,omitempty"`
	Correction bool          `json:"correction,omitempty"`
}

// Extract recognizes dates, phone numbers, yes/no/maybe answers, price and
// bedroom ranges, financing status, preferred areas and correction markers.
// Relative and ambiguous dates resolve against now, in now's location.
func Extract(text string, now time.Time) Set {
	var set Set
	text = strings.TrimSpace(text)
	if text == "" {
		return set
	}
	lower := strings.ToLower(text)

	// Phones and bedroom counts are blanked out before prices so that
	// "555-123-4567" or "3-4 bedrooms" never reads as a dollar range.
	set.Phones, lower = extractPhones(lower)
	set.Bedrooms, lower = extractBedrooms(lower)
	set.Price = extractPrice(lower)
	set.Dates = extractDates(lower, now)
	set.Answer = extractAnswer(lower)
	set.Financing = extractFinancing(lower)
	set.Areas = extractAreas(text)
	set.Urgent = urgentRE.MatchString(lower)
	set.Correction = correctionRE.MatchString(lower)
	return set
}

// Empty reports whether nothing was recognized.
func (s Set) Empty() bool {
	return len(s.Dates) == 0 && len(s.Phones) == 0 && s.Answer == AnswerNone &&
		s.Price == nil && s.Bedrooms == nil && s.Financing == FinancingUnknown &&
		len(s.Areas) == 0 && !s.Urgent && !s.Correction
}

// FirstFutureDate returns the earliest mentioned date that is after now.
func (s Set) FirstFutureDate(now time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, d := range s.Dates {
		if !d.At.After(now) {
			continue
		}
		if !found || d.At.Before(best) {
			best = d.At
			found = true
		}
	}
	return best, found
}

// HasQualificationData reports whether the set answers any qualification field.
func (s Set) HasQualificationData() bool {
	return s.Price != nil || s.Bedrooms != nil || s.Financing != FinancingUnknown ||
		len(s.Areas) > 0 || len(s.Dates) > 0 || s.Urgent
}

// AsMap flattens the set into string keys for logging and prompt building.
func (s Set) AsMap() map[string]any {
	out := make(map[string]any)
	if len(s.Dates) > 0 {
		dates := make([]string, 0, len(s.Dates))
		for _, d := range s.Dates {
			dates = append(dates, d.At.Format("2006-01-02"))
		}
		out["dates"] = dates
	}
	if len(s.Phones) > 0 {
		out["phones"] = s.Phones
	}
	if s.Answer != AnswerNone {
		out["answer"] = string(s.Answer)
	}
	if s.Price != nil {
		if s.Price.Min > 0 {
			out["price_min"] = s.Price.Min
		}
		if s.Price.Max > 0 {
			out["price_max"] = s.Price.Max
		}
	}
	if s.Bedrooms != nil {
		if s.Bedrooms.Min > 0 {
			out["bedrooms_min"] = s.Bedrooms.Min
		}
		if s.Bedrooms.Max > 0 {
			out["bedrooms_max"] = s.Bedrooms.Max
		}
	}
	if s.Financing != FinancingUnknown {
		out["financing"] = string(s.Financing)
	}
	if len(s.Areas) > 0 {
		out["areas"] = s.Areas
	}
	if s.Urgent {
		out["urgent"] = true
	}
	if s.Correction {
		out["correction"] = true
	}
	return out
}

// blank replaces the byte span [start,end) with spaces so later passes skip it
// while offsets stay stable.
func blank(s string, start, end int) string {
	return s[:start] + strings.Repeat(" ", end-start) + s[end:]
}
