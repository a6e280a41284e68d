package entities

import (
	"regexp"
	"strings"
)

var (
	maybeRE = regexp.MustCompile(`^\W*(maybe|possibly|perhaps|not sure|unsure|might|probably|i think so|we'?ll see|depends)\b`)
	yesRE   = regexp.MustCompile(`^\W*(yes|yeah|yea|yep|yup|ya|sure|absolutely|definitely|of course|ok|okay|k|correct|that works|sounds good|sounds great|please do|i am|i do|we are|we do)\b`)
	noRE    = regexp.MustCompile(`^\W*(no|nope|nah|not really|not now|not yet|not interested|no thanks|never|i'?m not|i am not|we'?re not|we are not|i don'?t|we don'?t)\b`)

	cashRE           = regexp.MustCompile(`\b(all[- ]?cash|cash buyers?|paying (?:in )?cash|pay (?:in )?cash|cash offer)\b|^\W*cash\W*$`)
	preapprovedRE    = regexp.MustCompile(`\b(pre-?approved|pre-?qualified|preapproval (?:letter|in hand)|already approved|have (?:a |our )?(?:mortgage|loan) (?:approval|lined up))\b`)
	needsFinancingRE = regexp.MustCompile(`\b(not (?:yet )?(?:pre-?approved|approved|pre-?qualified)|need(?:s)? (?:a |to get (?:a )?)?(?:mortgage|loan|financing|pre-?approval|pre-?approved)|looking for (?:a )?(?:lender|mortgage))\b`)

	areaRE = regexp.MustCompile(`\b(?:in|near|around|by)\s+((?:[A-Z][a-zA-Z'.-]+)(?:\s+[A-Z][a-zA-Z'.-]+){0,2})`)

	urgentRE     = regexp.MustCompile(`\b(asap|as soon as possible|right away|immediately|urgent(?:ly)?|right now)\b`)
	correctionRE = regexp.MustCompile(`\b(actually|i meant|i mean|correction|scratch that|let me correct|change (?:that|it) to|not .{1,30} but)\b`)
)

// notAreas are capitalized words that follow "in"/"near" but name times, not places.
var notAreas = map[string]bool{
	"january": true, "february": true, "march": true, "april": true, "may": true, "june": true,
	"july": true, "august": true, "september": true, "october": true, "november": true, "december": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true, "saturday": true, "sunday": true,
	"spring": true, "summer": true, "fall": true, "autumn": true, "winter": true,
	"i": true, "a": true, "the": true, "an": true,
}

func extractAnswer(lower string) Answer {
	switch {
	case maybeRE.MatchString(lower):
		return AnswerMaybe
	case noRE.MatchString(lower):
		return AnswerNo
	case yesRE.MatchString(lower):
		return AnswerYes
	}
	return AnswerNone
}

func extractFinancing(lower string) Financing {
	switch {
	case needsFinancingRE.MatchString(lower):
		return FinancingNeeded
	case preapprovedRE.MatchString(lower):
		return FinancingPreapproved
	case cashRE.MatchString(lower):
		return FinancingCash
	}
	return FinancingUnknown
}

func extractAreas(original string) []string {
	var areas []string
	seen := make(map[string]bool)
	for _, m := range areaRE.FindAllStringSubmatch(original, -1) {
		name := strings.TrimRight(m[1], ".'-")
		words := strings.Fields(name)
		for len(words) > 0 && notAreas[strings.ToLower(words[len(words)-1])] {
			words = words[:len(words)-1]
		}
		if len(words) == 0 || notAreas[strings.ToLower(words[0])] {
			continue
		}
		name = strings.Join(words, " ")
		key := strings.ToLower(name)
		if !seen[key] {
			areas = append(areas, name)
			seen[key] = true
		}
	}
	return areas
}
