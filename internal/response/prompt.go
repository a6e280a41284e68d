package response

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/lead-reengage/internal/intent"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/internal/nba"
)

var goalGuidance = map[nba.Goal]string{
	nba.GoalQualify:          "Acknowledge what the lead said, then ask one short question: %s",
	nba.GoalScheduleShowing:  "The lead wants to see a property. Offer to set up a showing and ask which day and time work. Do not confirm a specific time yourself.",
	nba.GoalProposeShowing:   "The lead is qualified. Suggest touring homes that match and ask for a day that works.",
	nba.GoalAnswerPrice:      "The lead asked about price. Do not quote numbers you were not given; offer to send current pricing and ask about their range.",
	nba.GoalAddressObjection: "The lead raised a concern. Acknowledge it respectfully without pressure and leave the door open.",
	nba.GoalAskFollowupTime:  "The lead is not ready. Be gracious and ask when would be a better time to check back.",
	nba.GoalFollowUp:         "This is a scheduled follow-up. Briefly check in on their home search. %s",
	nba.GoalReengage:         "The lead has been quiet. Write a short, friendly check-in asking whether they are still looking.",
	nba.GoalAcknowledge:      "Acknowledge the message briefly and offer further help.",
}

// BuildPrompt assembles a bounded generation request: profile, the last
// historyK history entries, the qualification snapshot and the action goal.
func BuildPrompt(lc *leads.ConversationContext, action nba.Action, det intent.Detected, historyK int, brand string, maxChars int, loc *time.Location) Prompt {
	if loc == nil {
		loc = time.UTC
	}
	if strings.TrimSpace(brand) == "" {
		brand = "our team"
	}

	system := []string{
		fmt.Sprintf("You are a friendly real-estate assistant writing on behalf of %s to a home buyer. "+
			"Keep replies short, warm and specific. Never invent listing details, prices or availability. "+
			"Never describe neighborhoods or buyers by protected characteristics. "+
			"Reply with the message text only, in plain text, at most %d characters, with no placeholders.", brand, maxChars),
		profileSnapshot(lc.Profile),
		qualificationSnapshot(lc, loc),
	}
	if g := guidance(action); g != "" {
		system = append(system, "Goal: "+g)
	}
	if det.Intent != "" && det.Intent != intent.Unknown {
		system = append(system, "The lead's latest message was classified as "+string(det.Intent)+".")
	}

	var msgs []Message
	for _, e := range lc.RecentHistory(historyK) {
		role := RoleUser
		if e.Direction == leads.Outbound {
			role = RoleAssistant
		}
		msgs = appendTurn(msgs, role, e.Text)
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != RoleUser {
		msgs = appendTurn(msgs, RoleUser, "(No new message from the lead. Write the outreach message now.)")
	}
	if msgs[0].Role != RoleUser {
		msgs = append([]Message{{Role: RoleUser, Content: "(Earlier messages were sent by us.)"}}, msgs...)
	}
	return Prompt{System: system, Messages: msgs}
}

// appendTurn merges consecutive turns from the same role; providers expect
// alternating roles.
func appendTurn(msgs []Message, role, text string) []Message {
	text = strings.TrimSpace(text)
	if text == "" {
		return msgs
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		msgs[n-1].Content += "\n" + text
		return msgs
	}
	return append(msgs, Message{Role: role, Content: text})
}

func guidance(action nba.Action) string {
	g, ok := goalGuidance[action.Goal]
	if !ok {
		return ""
	}
	switch action.Goal {
	case nba.GoalQualify:
		return fmt.Sprintf(g, Question(action.AskField))
	case nba.GoalFollowUp:
		if action.AskField != "" {
			return fmt.Sprintf(g, "If it fits, ask: "+Question(action.AskField))
		}
		return fmt.Sprintf(g, "")
	}
	return g
}

func profileSnapshot(p leads.Profile) string {
	var b strings.Builder
	b.WriteString("Lead profile:")
	if p.Name != "" {
		b.WriteString(" name=" + p.Name + ";")
	}
	if p.Source != "" {
		b.WriteString(" source=" + p.Source + ";")
	}
	if p.PropertyInterest != "" {
		b.WriteString(" interested in=" + p.PropertyInterest + ";")
	}
	if b.Len() == len("Lead profile:") {
		b.WriteString(" unknown")
	}
	return b.String()
}

func qualificationSnapshot(lc *leads.ConversationContext, loc *time.Location) string {
	q := lc.Qualification
	var known []string
	if q.Budget != nil {
		known = append(known, "budget "+formatRange(q.Budget.Min, q.Budget.Max, "$"))
	}
	if q.Bedrooms != nil {
		known = append(known, fmt.Sprintf("bedrooms %s", formatRange(int64(q.Bedrooms.Min), int64(q.Bedrooms.Max), "")))
	}
	if q.Timeline != nil {
		tl := q.Timeline.Text
		if !q.Timeline.Target.IsZero() {
			tl += " (" + q.Timeline.Target.In(loc).Format("Jan 2, 2006") + ")"
		}
		known = append(known, "timeline "+strings.TrimSpace(tl))
	}
	if q.Financing != "" {
		known = append(known, "financing "+string(q.Financing))
	}
	if len(q.Areas) > 0 {
		known = append(known, "areas "+strings.Join(q.Areas, ", "))
	}
	if len(known) == 0 {
		return "Known qualification: none yet. Conversation state: " + string(lc.State) + "."
	}
	return "Known qualification: " + strings.Join(known, "; ") + ". Conversation state: " + string(lc.State) + "."
}

func formatRange(lo, hi int64, prefix string) string {
	switch {
	case lo > 0 && hi > 0 && lo == hi:
		return fmt.Sprintf("%s%d", prefix, lo)
	case lo > 0 && hi > 0:
		return fmt.Sprintf("%s%d-%s%d", prefix, lo, prefix, hi)
	case hi > 0:
		return fmt.Sprintf("up to %s%d", prefix, hi)
	case lo > 0:
		return fmt.Sprintf("at least %s%d", prefix, lo)
	}
	return "unspecified"
}
