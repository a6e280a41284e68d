package intent

import "regexp"

// tier orders rule groups. A match in a lower tier always beats any match in a
// higher one, so nothing can shadow an opt-out.
type tier int

const (
	tierOptOut tier = iota
	tierAgent
	tierDomain
)

var tierOrder = []tier{tierOptOut, tierAgent, tierDomain}

type rule struct {
	intent  Intent
	tier    tier
	kind    MatchKind
	re      *regexp.Regexp
	keyword string
}

type exactSet struct {
	intent  Intent
	tier    tier
	phrases []string
}

type fuzzyWord struct {
	intent Intent
	tier   tier
	word   string
}

func tierOf(i Intent) tier {
	switch i {
	case OptOut:
		return tierOptOut
	case AgentRequest:
		return tierAgent
	}
	return tierDomain
}

// exactMessages match the whole normalized message.
var exactMessages = []exactSet{
	{OptOut, tierOptOut, []string{"stop", "stop all", "stopall", "unsubscribe", "cancel", "end", "quit", "opt out", "optout", "remove me", "stop texting me", "stop texting"}},
	{AgentRequest, tierAgent, []string{"agent", "human", "representative", "operator", "real person", "live person", "call me", "talk to an agent"}},
	{Affirmation, tierDomain, []string{"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "k", "absolutely", "definitely", "sounds good", "that works", "perfect", "great", "yes please"}},
	{Negation, tierDomain, []string{"no", "nope", "nah", "no thanks", "no thank you", "not really"}},
	{Greeting, tierDomain, []string{"hi", "hello", "hey", "hey there", "hi there", "hello there", "howdy", "good morning", "good afternoon", "good evening"}},
}

// Rules are evaluated in declaration order; within a tier, equal confidence
// goes to the earlier rule.
var rules = []rule{
	// Opt-out.
	{OptOut, tierOptOut, MatchPhrase, regexp.MustCompile(`(?i)\b(stop (?:texting|messaging|contacting|calling|sending|emailing)|opt(?:[- ])?out|remove me|take me off|do not (?:text|contact|message|email)|don'?t (?:text|contact|message|email) me|leave me alone|lose my number)\b`), "opt-out phrase"},
	{OptOut, tierOptOut, MatchPhrase, regexp.MustCompile(`(?i)^(?:please\s+)?(stop|stopall|unsubscribe)\b`), "leading stop"},
	{OptOut, tierOptOut, MatchKeyword, regexp.MustCompile(`(?i)\b(stop|stopall|unsubscribe)\b`), "stop keyword"},

	// Agent / handoff.
	{AgentRequest, tierAgent, MatchPhrase, regexp.MustCompile(`(?i)\b(?:talk|speak|chat) (?:to|with) (?:a |an |the |your |my )?(?:real |actual |live )?(?:person|human|agent|realtor|someone|broker|representative|rep)\b`), "talk to a person"},
	{AgentRequest, tierAgent, MatchPhrase, regexp.MustCompile(`(?i)\b(?:have|can|could) (?:an? |the |your |my )?(?:agent|realtor|broker|someone) (?:call|contact|reach out to|text) (?:me|us)\b`), "agent call back"},
	{AgentRequest, tierAgent, MatchPhrase, regexp.MustCompile(`(?i)\b(?:are you a (?:bot|robot|real person|human)|is this a (?:bot|robot|real person)|(?:real|actual|live) (?:person|human) please|give me a call|call me (?:back|now|today|please))\b`), "human please"},

	// Domain.
	{ShowingRequest, tierDomain, MatchPhrase, regexp.MustCompile(`(?i)\b(?:see|view|tour|visit|look at|check out|walk ?through) (?:the |this |that |a |your |it )?(?:house|home|place|property|listing|condo|apartment|unit|townhouse|it)\b`), "see the home"},
	{ShowingRequest, tierDomain, MatchPhrase, regexp.MustCompile(`(?i)\b(?:schedule|book|set up|arrange|get) (?:a |an )?(?:showing|tour|viewing|visit|walk-?through)\b|\bopen house\b|\bcan (?:we|i) (?:come|stop) by\b`), "book a showing"},
	{ShowingRequest, tierDomain, MatchKeyword, regexp.MustCompile(`(?i)\b(showing|tour|viewing|walk-?through)s?\b`), "showing keyword"},

	{Objection, tierDomain, MatchPhrase, regexp.MustCompile(`(?i)\b(?:not interested|no longer interested|already (?:bought|found|purchased|closed|have an? (?:agent|realtor)|working with)|too (?:expensive|pricey|much|far|small|big)|out of (?:my|our) (?:budget|price range)|bad timing?|changed (?:my|our) minds?|decided (?:not|against)|not (?:looking|buying|moving) (?:anymore|right now)|can'?t afford)\b`), "objection phrase"},
	{Objection, tierDomain, MatchKeyword, regexp.MustCompile(`(?i)\b(overpriced|pricey|hesitant|worried|concerned|skeptical)\b`), "objection keyword"},

	{PriceQuestion, tierDomain, MatchPhrase, regexp.MustCompile(`(?i)\b(?:how much|what(?:'s| is) the (?:price|asking|cost)|asking price|price (?:drop|reduction|range|cut)|hoa fees?|property tax(?:es)?|monthly payment|what (?:are|do) (?:they|homes|houses) (?:go|sell|going|selling) for)\b`), "price phrase"},
	{PriceQuestion, tierDomain, MatchKeyword, regexp.MustCompile(`(?i)\b(price|priced|pricing|cost|costs|afford|budget|expensive)\b`), "price keyword"},

	{DeferredFollowup, tierDomain, MatchPhrase, regexp.MustCompile(`(?i)\b(?:not (?:right )?now|maybe later|(?:check|circle|reach|get) back|follow up|(?:contact|text|call|reach out to|message) (?:me|us) (?:later|next|in|after|around)|busy (?:right now|this week|until|at the moment)|after the holidays|in a (?:few|couple)|next (?:week|month|year|spring|summer|fall|winter))\b`), "defer phrase"},
	{DeferredFollowup, tierDomain, MatchKeyword, regexp.MustCompile(`(?i)\b(later|busy|eventually|someday)\b`), "defer keyword"},

	{Greeting, tierDomain, MatchKeyword, regexp.MustCompile(`(?i)^\W*(hi|hello|hey|howdy|good (?:morning|afternoon|evening))\b`), "greeting"},
}

// fuzzyVocabulary catches misspellings of distinctive long words.
var fuzzyVocabulary = []fuzzyWord{
	{OptOut, tierOptOut, "unsubscribe"},
	{ShowingRequest, tierDomain, "viewing"},
	{ShowingRequest, tierDomain, "walkthrough"},
	{PriceQuestion, tierDomain, "pricing"},
	{Objection, tierDomain, "overpriced"},
}
