package response

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/internal/nba"
)

// OptOutFooter is appended to the first automated SMS a lead receives.
const OptOutFooter = "Reply STOP to opt out."

// Templates renders deterministic replies. They are used when generation
// fails and for actions that never call a generator.
type Templates struct {
	Brand    string
	Location *time.Location
}

func (t Templates) brand() string {
	if strings.TrimSpace(t.Brand) == "" {
		return "our team"
	}
	return t.Brand
}

func (t Templates) location() *time.Location {
	if t.Location == nil {
		return time.UTC
	}
	return t.Location
}

func firstName(p leads.Profile) string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return "there"
	}
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}

var qualifyingQuestions = map[string]string{
	leads.FieldBudget:    "what price range are you comfortable with?",
	leads.FieldTimeline:  "when are you hoping to move?",
	leads.FieldFinancing: "are you paying cash, already pre-approved, or still working on financing?",
	leads.FieldAreas:     "which neighborhoods are you most interested in?",
	leads.FieldBedrooms:  "how many bedrooms do you need?",
}

// Question returns the qualifying question for a field.
func Question(field string) string {
	if q, ok := qualifyingQuestions[field]; ok {
		return q
	}
	return "is there anything specific you're looking for?"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Render returns the template reply for an action.
func (t Templates) Render(lc *leads.ConversationContext, action nba.Action) string {
	interest := ""
	if p := strings.TrimSpace(lc.Profile.PropertyInterest); p != "" {
		interest = " " + p
	}
	return t.render(lc, action, interest)
}

// RenderWithin is Render capped at maxChars runes. The property interest is
// dropped first; a reply still too long is cut at a word boundary.
func (t Templates) RenderWithin(lc *leads.ConversationContext, action nba.Action, maxChars int) string {
	text := t.Render(lc, action)
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	text = t.render(lc, action, "")
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	return clip(text, maxChars)
}

func clip(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	if maxChars <= 3 {
		return string(runes[:maxChars])
	}
	cut := string(runes[:maxChars-3])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.") + "..."
}

func (t Templates) render(lc *leads.ConversationContext, action nba.Action, interest string) string {
	name := firstName(lc.Profile)

	switch action.Goal {
	case nba.GoalQualify:
		return fmt.Sprintf("Thanks, %s! To help narrow things down, %s", name, Question(action.AskField))
	case nba.GoalScheduleShowing:
		if interest != "" {
			return fmt.Sprintf("I'd be happy to set up a showing of%s. What day and time work best for you?", interest)
		}
		return "I'd be happy to set up a showing. What day and time work best for you?"
	case nba.GoalProposeShowing:
		return fmt.Sprintf("Thanks, %s, that gives me what I need. Would you like to tour a few homes that fit? Just send me a day that works.", name)
	case nba.GoalAnswerPrice:
		return "Great question. I'll pull the latest pricing and send it over. Is there a price range you'd like me to stay within?"
	case nba.GoalAddressObjection:
		return "I understand, and thanks for being upfront. If anything changes or you'd like me to look at other options, just let me know."
	case nba.GoalAskFollowupTime:
		return "No problem at all. When would be a better time for me to check back in?"
	case nba.GoalConfirmFollowup:
		if action.DueAt.IsZero() {
			return fmt.Sprintf("Sounds good, %s. I'll check back in soon.", name)
		}
		return fmt.Sprintf("Sounds good, %s. I'll reach back out on %s.", name, action.DueAt.In(t.location()).Format("Monday, January 2"))
	case nba.GoalHandoff:
		return fmt.Sprintf("Thanks, %s. I'm connecting you with one of our agents at %s, who will reach out shortly.", name, t.brand())
	case nba.GoalFollowUp:
		if action.AskField != "" {
			return fmt.Sprintf("Hi %s, just following up on your home search. %s", name, capitalize(Question(action.AskField)))
		}
		return fmt.Sprintf("Hi %s, just following up on your home search. Are you still looking?", name)
	case nba.GoalReengage:
		if interest != "" {
			return fmt.Sprintf("Hi %s, it's %s checking in. Are you still interested in%s or homes like it? Happy to help whenever you're ready.", name, t.brand(), interest)
		}
		return fmt.Sprintf("Hi %s, it's %s checking in. Are you still thinking about a move? Happy to help whenever you're ready.", name, t.brand())
	}
	return fmt.Sprintf("Thanks for the update, %s! Let me know if there's anything I can help with in your search.", name)
}

