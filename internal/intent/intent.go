// Package intent classifies inbound lead messages into a fixed intent taxonomy.
package intent

import "github.com/wolfman30/lead-reengage/internal/entities"

// Intent is one value of the fixed intent taxonomy.
type Intent string

const (
	Greeting         Intent = "GREETING"
	ShowingRequest   Intent = "SHOWING_REQUEST"
	PriceQuestion    Intent = "PRICE_QUESTION"
	Objection        Intent = "OBJECTION"
	OptOut           Intent = "OPT_OUT"
	DeferredFollowup Intent = "DEFERRED_FOLLOWUP"
	AgentRequest     Intent = "AGENT_REQUEST"
	Affirmation      Intent = "AFFIRMATION"
	Negation         Intent = "NEGATION"
	Unknown          Intent = "UNKNOWN"
)

// All lists the taxonomy in declaration order.
var All = []Intent{Greeting, ShowingRequest, PriceQuestion, Objection, OptOut, DeferredFollowup, AgentRequest, Affirmation, Negation, Unknown}

// Valid reports whether i is part of the taxonomy.
func (i Intent) Valid() bool {
	for _, known := range All {
		if i == known {
			return true
		}
	}
	return false
}

func (i Intent) String() string { return string(i) }

// MatchKind is how specifically a rule matched. It determines confidence.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchFuzzy
	MatchKeyword
	MatchPhrase
	MatchExact
)

// Confidence maps a match kind to a fixed score.
func (k MatchKind) Confidence() float64 {
	switch k {
	case MatchExact:
		return 1.0
	case MatchPhrase:
		return 0.9
	case MatchKeyword:
		return 0.75
	case MatchFuzzy:
		return 0.55
	}
	return 0
}

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchPhrase:
		return "phrase"
	case MatchKeyword:
		return "keyword"
	case MatchFuzzy:
		return "fuzzy"
	}
	return "none"
}

// Candidate is one scored intent considered during detection.
type Candidate struct {
	Intent     Intent    `json:"intent"`
	Confidence float64   `json:"confidence"`
	Kind       MatchKind `json:"kind"`
	Matched    string    `json:"matched,omitempty"`
}

// Detected is the classification result for one message.
type Detected struct {
	Intent     Intent       `json:"intent"`
	Confidence float64      `json:"confidence"`
	Entities   entities.Set `json:"entities"`
	Matched    string       `json:"matched,omitempty"`
	Candidates []Candidate  `json:"candidates,omitempty"`
}

// IsOptOut is shorthand used by callers that gate on opt-out.
func (d Detected) IsOptOut() bool { return d.Intent == OptOut }
