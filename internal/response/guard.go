package response

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrEmptyDraft     = errors.New("response: draft is empty")
	ErrDraftTooLong   = errors.New("response: draft exceeds channel limit")
	ErrDisallowed     = errors.New("response: draft contains disallowed content")
	ErrUnfilledMarker = errors.New("response: draft contains template markers")
)

// GuardResult contains the result of scanning an outbound draft.
type GuardResult struct {
	// Blocked is true when the draft cannot be sent even after sanitizing.
	Blocked bool
	// Reasons lists the detection signals that fired.
	Reasons []string
	// Sanitized is the cleaned draft when it was salvageable.
	Sanitized string
}

type guardPattern struct {
	re     *regexp.Regexp
	reason string
	block  bool // if false the matching sentence is removed instead
}

var guardPatterns = []guardPattern{
	// Prompt and instruction leaks
	{regexp.MustCompile(`(?i)my (system\s+)?prompt\s+(is|says|tells|instructs)`), "leak:system_prompt_disclosure", true},
	{regexp.MustCompile(`(?i)my instructions?\s+(are|say|tell|include|require)`), "leak:instructions_disclosure", true},
	{regexp.MustCompile(`(?i)(here are|these are|the following are)\s+(my )?(system )?(instructions|rules|guidelines|prompts)`), "leak:rules_listing", true},
	{regexp.MustCompile(`(?i)(powered by|built on|running on)\s+(Claude|GPT|OpenAI|Anthropic|Bedrock|Gemini)`), "leak:tech_stack", true},

	// Credentials and infrastructure
	{regexp.MustCompile(`(?i)(api[_\s]?key|secret[_\s]?key|access[_\s]?token|bearer\s+token)\s*[:=]\s*\S+`), "leak:credential", true},
	{regexp.MustCompile(`AKIA[A-Z0-9]{16}`), "leak:aws_key", true},
	{regexp.MustCompile(`(?i)(postgres|mysql|redis)://\S+`), "leak:database_url", true},

	// Fair housing: steering language and protected-class references
	{regexp.MustCompile(`(?i)\b(perfect|ideal|great) for (young )?(families|couples|singles|retirees)\b`), "fair_housing:familial_status", true},
	{regexp.MustCompile(`(?i)\b(no|not for) (kids|children|families)\b`), "fair_housing:familial_status", true},
	{regexp.MustCompile(`(?i)\b(christian|jewish|muslim|catholic|white|black|hispanic|asian) (neighborhood|community|area)\b`), "fair_housing:steering", true},

	// Unverifiable promises
	{regexp.MustCompile(`(?i)\bguarantee[ds]?\b.{0,40}\b(appreciat|return|approv|value)`), "claim:guarantee", true},

	// Self-disclosure that reads as robotic; removable
	{regexp.MustCompile(`(?i)\bi('m| am) (a|an) (AI|artificial intelligence|language model|LLM|chatbot)\b`), "style:ai_identity", false},
}

var (
	markerRE         = regexp.MustCompile(`\{\{|\}\}|\[(Name|NAME|Agent|AGENT|Address|ADDRESS|Date|DATE)[^\]]*\]|<[A-Z_]{3,}>`)
	aiSentenceRE     = regexp.MustCompile(`(?i)[^.!?]*\bi('m| am) (a|an) (AI|artificial intelligence|language model|LLM|chatbot)\b[^.!?]*[.!?]?\s*`)
	wrappingQuotesRE = regexp.MustCompile(`^["'“]+|["'”]+$`)
)

// Scan checks a draft for disallowed content.
func Scan(draft string) GuardResult {
	var reasons []string
	block := false
	for _, p := range guardPatterns {
		if p.re.MatchString(draft) {
			reasons = append(reasons, p.reason)
			block = block || p.block
		}
	}
	if block {
		return GuardResult{Blocked: true, Reasons: reasons}
	}
	if len(reasons) == 0 {
		return GuardResult{Sanitized: draft}
	}
	return GuardResult{Reasons: reasons, Sanitized: strings.TrimSpace(aiSentenceRE.ReplaceAllString(draft, ""))}
}

// Validate normalizes a draft and checks it against the channel limit and the
// content guard. It returns the text to send or an error naming the failure.
func Validate(draft string, maxChars int) (string, GuardResult, error) {
	text := strings.TrimSpace(wrappingQuotesRE.ReplaceAllString(strings.TrimSpace(draft), ""))
	if text == "" {
		return "", GuardResult{}, ErrEmptyDraft
	}
	if markerRE.MatchString(text) {
		return "", GuardResult{Blocked: true, Reasons: []string{"template_marker"}}, ErrUnfilledMarker
	}
	res := Scan(text)
	if res.Blocked {
		return "", res, ErrDisallowed
	}
	text = res.Sanitized
	if text == "" {
		return "", res, ErrEmptyDraft
	}
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		return "", res, ErrDraftTooLong
	}
	return text, res, nil
}
