package leads

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/wolfman30/lead-reengage/internal/entities"
)

// Qualification field names, used in required-field configuration.
const (
	FieldBudget    = "budget"
	FieldTimeline  = "timeline"
	FieldFinancing = "financing"
	FieldAreas     = "areas"
	FieldBedrooms  = "bedrooms"
)

// KnownFields lists the qualification fields a policy may require.
var KnownFields = []string{FieldBudget, FieldTimeline, FieldFinancing, FieldAreas, FieldBedrooms}

// ValidateFields checks a required-field list against KnownFields. A typo
// would otherwise leave every lead short of QUALIFIED forever.
func ValidateFields(fields []string) error {
	for _, f := range fields {
		if !slices.Contains(KnownFields, f) {
			return fmt.Errorf("%w: %q", ErrUnknownField, f)
		}
	}
	return nil
}

// Timeline is when the lead wants to buy or move.
type Timeline struct {
	Text   string    `json:"text,omitempty"`
	Target time.Time `json:"target,omitempty"`
	Urgent bool      `json:"urgent,omitempty"`
}

func (t *Timeline) rank() int {
	switch {
	case t == nil:
		return 0
	case !t.Target.IsZero():
		return 2
	default:
		return 1
	}
}

// Qualification accumulates structured answers. Every field starts empty and
// is filled incrementally.
type Qualification struct {
	Budget    *entities.PriceRange   `json:"budget,omitempty"`
	Bedrooms  *entities.BedroomRange `json:"bedrooms,omitempty"`
	Timeline  *Timeline              `json:"timeline,omitempty"`
	Financing entities.Financing     `json:"financing,omitempty"`
	Areas     []string               `json:"areas,omitempty"`
}

// Has reports whether a named field is filled.
func (q Qualification) Has(field string) bool {
	switch field {
	case FieldBudget:
		return q.Budget != nil
	case FieldTimeline:
		return q.Timeline != nil
	case FieldFinancing:
		return q.Financing != entities.FinancingUnknown
	case FieldAreas:
		return len(q.Areas) > 0
	case FieldBedrooms:
		return q.Bedrooms != nil
	}
	return false
}

// Missing returns the required fields that are still empty, in order.
func (q Qualification) Missing(required []string) []string {
	var out []string
	for _, f := range required {
		if !q.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Complete reports whether every required field is filled.
func (q Qualification) Complete(required []string) bool {
	return len(q.Missing(required)) == 0
}

// MergeOptions controls how an extracted entity set is folded in.
type MergeOptions struct {
	// Correction lets new values replace existing ones regardless of specificity.
	Correction bool
	// DatesAsTimeline treats mentioned dates as the purchase timeline. Callers
	// disable it when the dates refer to a showing or a callback.
	DatesAsTimeline bool
}

// Merge folds extracted entities into q and returns the names of the fields
// that changed. A filled field is only replaced by strictly more specific
// information, unless opts.Correction is set.
func (q *Qualification) Merge(set entities.Set, opts MergeOptions) []string {
	var changed []string

	if set.Price != nil {
		if merged, ok := mergePrice(q.Budget, set.Price, opts.Correction); ok {
			q.Budget = merged
			changed = append(changed, FieldBudget)
		}
	}
	if set.Bedrooms != nil {
		if merged, ok := mergeBedrooms(q.Bedrooms, set.Bedrooms, opts.Correction); ok {
			q.Bedrooms = merged
			changed = append(changed, FieldBedrooms)
		}
	}
	if tl := timelineFrom(set, opts.DatesAsTimeline); tl != nil {
		if opts.Correction || tl.rank() > q.Timeline.rank() {
			q.Timeline = tl
			changed = append(changed, FieldTimeline)
		}
	}
	if set.Financing != entities.FinancingUnknown && set.Financing != q.Financing {
		progress := q.Financing == entities.FinancingNeeded && set.Financing == entities.FinancingPreapproved
		if q.Financing == entities.FinancingUnknown || opts.Correction || progress {
			q.Financing = set.Financing
			changed = append(changed, FieldFinancing)
		}
	}
	if len(set.Areas) > 0 {
		if opts.Correction {
			q.Areas = append([]string(nil), set.Areas...)
			changed = append(changed, FieldAreas)
		} else if added := q.addAreas(set.Areas); added {
			changed = append(changed, FieldAreas)
		}
	}
	return changed
}

func (q *Qualification) addAreas(areas []string) bool {
	added := false
	for _, a := range areas {
		dup := false
		for _, existing := range q.Areas {
			if strings.EqualFold(existing, a) {
				dup = true
				break
			}
		}
		if !dup {
			q.Areas = append(q.Areas, a)
			added = true
		}
	}
	return added
}

func timelineFrom(set entities.Set, datesAsTimeline bool) *Timeline {
	if datesAsTimeline && len(set.Dates) > 0 {
		d := set.Dates[0]
		return &Timeline{Text: d.Phrase, Target: d.At, Urgent: set.Urgent}
	}
	if set.Urgent {
		return &Timeline{Text: "asap", Urgent: true}
	}
	return nil
}

// within reports whether [lo, hi] sits inside [oldLo, oldHi]. A zero bound is
// open.
func within(lo, hi, oldLo, oldHi float64) bool {
	if oldLo > 0 && lo < oldLo {
		return false
	}
	if oldHi > 0 && (hi <= 0 || hi > oldHi) {
		return false
	}
	return true
}

// width is the size of a range; an open side makes it infinitely wide.
func width(lo, hi float64) float64 {
	if lo <= 0 || hi <= 0 {
		return math.Inf(1)
	}
	return hi - lo
}

func mergePrice(old, incoming *entities.PriceRange, correction bool) (*entities.PriceRange, bool) {
	next := *incoming
	if old == nil || correction {
		return &next, old == nil || *old != next
	}
	// Complementary open bounds combine: "over 400k" then "under 500k".
	if old.Max == 0 && old.Min > 0 && next.Min == 0 && next.Max >= old.Min {
		return &entities.PriceRange{Min: old.Min, Max: next.Max}, true
	}
	if old.Min == 0 && old.Max > 0 && next.Max == 0 && next.Min > 0 && next.Min <= old.Max {
		return &entities.PriceRange{Min: next.Min, Max: old.Max}, true
	}
	if narrows(float64(next.Min), float64(next.Max), float64(old.Min), float64(old.Max)) {
		return &next, true
	}
	return old, false
}

func mergeBedrooms(old, incoming *entities.BedroomRange, correction bool) (*entities.BedroomRange, bool) {
	next := *incoming
	if old == nil || correction {
		return &next, old == nil || *old != next
	}
	if old.Max == 0 && next.Min == 0 && next.Max >= old.Min {
		return &entities.BedroomRange{Min: old.Min, Max: next.Max}, true
	}
	if narrows(float64(next.Min), float64(next.Max), float64(old.Min), float64(old.Max)) {
		return &next, true
	}
	return old, false
}

// narrows reports whether the new range refines the old one: it must fit
// inside it and be strictly tighter. A range elsewhere needs a correction.
func narrows(lo, hi, oldLo, oldHi float64) bool {
	return within(lo, hi, oldLo, oldHi) && width(lo, hi) < width(oldLo, oldHi)
}
