package entities

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var wordNumbers = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

// parseCount reads "3", "three", "a couple of" or "a few" as an integer.
func parseCount(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n, true
	}
	if n, ok := wordNumbers[raw]; ok {
		return n, true
	}
	switch {
	case strings.Contains(raw, "couple"):
		return 2, true
	case strings.Contains(raw, "few"):
		return 3, true
	}
	return 0, false
}

const (
	amountPattern = `(\d{1,3}(?:,\d{3})+|\d+(?:\.\d+)?)`
	scalePattern  = `(k|mm|m|mil|thousand|million)?`
	bedCount      = `(\d{1,2}|one|two|three|four|five|six|seven)`
	bedWord       = `(?:bed(?:room)?s?|bdrms?|br|bd)\b`
)

var (
	priceRangeRE = regexp.MustCompile(`(?:between\s+)?(\$)?\s?` + amountPattern + `\s*` + scalePattern + `\s*(?:-|–|to|and)\s*(\$)?\s?` + amountPattern + `\s*` + scalePattern + `\b`)
	priceMaxRE   = regexp.MustCompile(`\b(?:under|below|less than|no more than|not more than|max(?:imum)?(?: of)?|up to|at most|tops)\s+(\$)?\s?` + amountPattern + `\s*` + scalePattern + `\b`)
	priceMinRE   = regexp.MustCompile(`\b(?:over|above|more than|at least|minimum(?: of)?|starting at|from)\s+(\$)?\s?` + amountPattern + `\s*` + scalePattern + `\b`)
	priceDollarRE = regexp.MustCompile(`(\$)\s?` + amountPattern + `\s*` + scalePattern + `\b`)
	priceScaledRE = regexp.MustCompile(`()\b` + amountPattern + `\s*(k|mm|m|mil|thousand|million)\b`)

	bedRangeRE = regexp.MustCompile(`\b` + bedCount + `\s*(?:-|–|to|or)\s*` + bedCount + `\s*-?\s*` + bedWord)
	bedMinRE   = regexp.MustCompile(`\b(?:at least|minimum(?: of)?|min\.?)\s*` + bedCount + `\s*-?\s*` + bedWord + `|\b` + bedCount + `\+\s*` + bedWord)
	bedExactRE = regexp.MustCompile(`\b` + bedCount + `\s*-?\s*` + bedWord)

	phoneRE = regexp.MustCompile(`(?:^|[^\d$])((?:\+?1[\s.-]?)?\(?(\d{3})\)?[\s.-]?(\d{3})[\s.-]?(\d{4}))\b`)
)

// minPlausiblePrice keeps bare numbers like "2 to 3" from reading as a budget.
const minPlausiblePrice = 10000

func scaleOf(s string) float64 {
	switch s {
	case "k", "thousand":
		return 1e3
	case "m", "mm", "mil", "million":
		return 1e6
	}
	return 1
}

func parseAmount(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func plausible(dollar, scale string, value float64) bool {
	return dollar != "" || scale != "" || value >= minPlausiblePrice
}

func extractPrice(lower string) *PriceRange {
	if m := priceRangeRE.FindStringSubmatch(lower); m != nil {
		if pr, ok := priceRangeFrom(m); ok {
			return pr
		}
	}
	if m := priceMaxRE.FindStringSubmatch(lower); m != nil {
		if v, ok := priceValue(m[1], m[2], m[3]); ok {
			return &PriceRange{Max: v}
		}
	}
	if m := priceMinRE.FindStringSubmatch(lower); m != nil {
		if v, ok := priceValue(m[1], m[2], m[3]); ok {
			return &PriceRange{Min: v}
		}
	}
	for _, re := range []*regexp.Regexp{priceDollarRE, priceScaledRE} {
		if m := re.FindStringSubmatch(lower); m != nil {
			if v, ok := priceValue(m[1], m[2], m[3]); ok {
				return &PriceRange{Min: v, Max: v}
			}
		}
	}
	return nil
}

func priceValue(dollar, amount, scale string) (int64, bool) {
	v, ok := parseAmount(amount)
	if !ok {
		return 0, false
	}
	v *= scaleOf(scale)
	if !plausible(dollar, scale, v) {
		return 0, false
	}
	return int64(math.Round(v)), true
}

// priceRangeFrom handles a shared scale suffix: "450-500k" is 450k to 500k.
func priceRangeFrom(m []string) (*PriceRange, bool) {
	lo, ok1 := parseAmount(m[2])
	hi, ok2 := parseAmount(m[5])
	if !ok1 || !ok2 {
		return nil, false
	}
	loScale, hiScale := m[3], m[6]
	hiValue := hi * scaleOf(hiScale)
	loValue := lo * scaleOf(loScale)
	if loScale == "" && hiScale != "" {
		loValue = lo * scaleOf(hiScale)
		if loValue > hiValue {
			loValue = lo * 1e3
		}
	}
	dollar := m[1] + m[4]
	scale := loScale + hiScale
	if !plausible(dollar, scale, hiValue) {
		return nil, false
	}
	if loValue > hiValue {
		loValue, hiValue = hiValue, loValue
	}
	return &PriceRange{Min: int64(math.Round(loValue)), Max: int64(math.Round(hiValue))}, true
}

// extractBedrooms returns the first bedroom range and the text with it blanked.
func extractBedrooms(lower string) (*BedroomRange, string) {
	if idx := bedRangeRE.FindStringSubmatchIndex(lower); idx != nil {
		m := submatches(lower, idx)
		lo, ok1 := parseCount(m[1])
		hi, ok2 := parseCount(m[2])
		if ok1 && ok2 {
			if lo > hi {
				lo, hi = hi, lo
			}
			return &BedroomRange{Min: lo, Max: hi}, blank(lower, idx[0], idx[1])
		}
	}
	if idx := bedMinRE.FindStringSubmatchIndex(lower); idx != nil {
		m := submatches(lower, idx)
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if n, ok := parseCount(raw); ok {
			return &BedroomRange{Min: n}, blank(lower, idx[0], idx[1])
		}
	}
	if idx := bedExactRE.FindStringSubmatchIndex(lower); idx != nil {
		m := submatches(lower, idx)
		if n, ok := parseCount(m[1]); ok {
			return &BedroomRange{Min: n, Max: n}, blank(lower, idx[0], idx[1])
		}
	}
	return nil, lower
}

// extractPhones normalizes NANP numbers to E.164 and blanks them out.
func extractPhones(lower string) ([]string, string) {
	var phones []string
	seen := make(map[string]bool)
	for _, idx := range phoneRE.FindAllStringSubmatchIndex(lower, -1) {
		m := submatches(lower, idx)
		normalized := "+1" + m[2] + m[3] + m[4]
		if !seen[normalized] {
			phones = append(phones, normalized)
			seen[normalized] = true
		}
		lower = blank(lower, idx[2], idx[3])
	}
	return phones, lower
}

// NormalizePhone converts a NANP number to E.164, returning "" if it is not one.
func NormalizePhone(raw string) string {
	phones, _ := extractPhones(strings.ToLower(raw))
	if len(phones) == 0 {
		return ""
	}
	return phones[0]
}
