package intent

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/xrash/smetrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/lead-reengage/internal/entities"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

var detectorTracer = otel.Tracer("reengage/intent")

// DefaultThreshold is the minimum confidence a candidate needs to win.
const DefaultThreshold = 0.5

// Hint carries conversation context used for disambiguation.
type Hint struct {
	// State is the lead's current conversation state, informational only.
	State string
	// AwaitingAnswer is true when the last outbound message asked a question,
	// which makes a bare yes/no a direct answer.
	AwaitingAnswer bool
	// Now anchors relative dates. Zero means time.Now().
	Now time.Time
}

// priority breaks confidence ties between intents in the same tier.
var priority = map[Intent]int{
	OptOut:           0,
	AgentRequest:     1,
	ShowingRequest:   2,
	Objection:        3,
	PriceQuestion:    4,
	DeferredFollowup: 5,
	Affirmation:      6,
	Negation:         7,
	Greeting:         8,
}

// Detector classifies messages with a fixed, ordered rule list.
type Detector struct {
	threshold float64
	logger    *logging.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithThreshold sets the minimum winning confidence, clamped to [0,1].
func WithThreshold(threshold float64) Option {
	return func(d *Detector) {
		if threshold < 0 {
			threshold = 0
		}
		if threshold > 1 {
			threshold = 1
		}
		d.threshold = threshold
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDetector returns a detector with the default threshold.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{threshold: DefaultThreshold, logger: logging.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Threshold returns the configured minimum confidence.
func (d *Detector) Threshold() float64 { return d.threshold }

// Detect classifies text. Opt-out rules are evaluated as their own tier and
// win on any match regardless of the threshold, followed by agent requests
// and then domain intents. Nothing clearing the threshold yields Unknown.
func (d *Detector) Detect(ctx context.Context, text string, hint Hint) Detected {
	_, span := detectorTracer.Start(ctx, "intent.detect")
	defer span.End()

	now := hint.Now
	if now.IsZero() {
		now = time.Now()
	}
	result := Detected{Intent: Unknown, Entities: entities.Extract(text, now)}

	norm := normalize(text)
	if norm == "" {
		span.SetAttributes(attribute.String("intent", string(Unknown)))
		return result
	}

	candidates := d.score(text, norm, result.Entities, hint)
	result.Candidates = candidates

	for _, t := range tierOrder {
		for _, c := range candidates {
			if tierOf(c.Intent) != t || (t != tierOptOut && c.Confidence < d.threshold) {
				continue
			}
			// Candidates are sorted, so the first eligible one wins its tier.
			result.Intent = c.Intent
			result.Confidence = c.Confidence
			result.Matched = c.Matched
			break
		}
		if result.Intent != Unknown {
			break
		}
	}

	span.SetAttributes(
		attribute.String("intent", string(result.Intent)),
		attribute.Float64("confidence", result.Confidence),
		attribute.Int("candidates", len(candidates)),
	)
	d.logger.Debug("intent detected",
		"intent", result.Intent,
		"confidence", result.Confidence,
		"matched", result.Matched,
	)
	return result
}

// score collects the best candidate per intent, sorted by confidence then priority.
func (d *Detector) score(text, norm string, ents entities.Set, hint Hint) []Candidate {
	best := make(map[Intent]Candidate)
	consider := func(c Candidate) {
		if cur, ok := best[c.Intent]; !ok || c.Confidence > cur.Confidence {
			best[c.Intent] = c
		}
	}

	for _, set := range exactMessages {
		for _, phrase := range set.phrases {
			if norm == phrase {
				consider(Candidate{Intent: set.intent, Confidence: MatchExact.Confidence(), Kind: MatchExact, Matched: phrase})
				break
			}
		}
	}

	for _, r := range rules {
		if r.re.MatchString(text) {
			consider(Candidate{Intent: r.intent, Confidence: r.kind.Confidence(), Kind: r.kind, Matched: r.keyword})
		}
	}

	answerKind := MatchKeyword
	if hint.AwaitingAnswer {
		answerKind = MatchPhrase
	}
	switch ents.Answer {
	case entities.AnswerYes:
		consider(Candidate{Intent: Affirmation, Confidence: answerKind.Confidence(), Kind: answerKind, Matched: "yes answer"})
	case entities.AnswerNo:
		consider(Candidate{Intent: Negation, Confidence: answerKind.Confidence(), Kind: answerKind, Matched: "no answer"})
	}

	for _, token := range strings.Fields(norm) {
		if len(token) < 5 {
			continue
		}
		for _, fw := range fuzzyVocabulary {
			if _, ok := best[fw.intent]; ok {
				continue
			}
			if dist := smetrics.WagnerFischer(token, fw.word, 1, 1, 1); dist > 0 && dist <= maxEdits(fw.word) {
				consider(Candidate{Intent: fw.intent, Confidence: MatchFuzzy.Confidence(), Kind: MatchFuzzy, Matched: fw.word})
			}
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return priority[out[i].Intent] < priority[out[j].Intent]
	})
	return out
}

func maxEdits(word string) int {
	if len(word) >= 9 {
		return 2
	}
	return 1
}

// normalize lowercases, strips punctuation other than apostrophes and
// collapses whitespace so exact phrases compare cleanly.
func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
