package core

import (
	"fmt"
	"regexp"
	"strings"
)

const StatusCrisisDetected = "crisis_detected"

// apostrophes folds the typographic apostrophes that phone keyboards insert
// into the ASCII one used by keywords and patterns.
var apostrophes = strings.NewReplacer("\u2019", "'", "\u2018", "'", "\u02bc", "'", "\uff07", "'")

func normalize(s string) string {
	return apostrophes.Replace(strings.ToLower(s))
}

// CrisisDetector is a lexical gate over keyword substrings and regular
// expressions. It errs toward false positives.
type CrisisDetector struct {
	keywords []string
	patterns []*regexp.Regexp
}

func NewCrisisDetector(keywords, patterns []string) (*CrisisDetector, error) {
	d := &CrisisDetector{keywords: make([]string, 0, len(keywords))}
	for _, k := range keywords {
		k = normalize(strings.TrimSpace(k))
		if k != "" {
			d.keywords = append(d.keywords, k)
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid crisis pattern %q: %w", p, err)
		}
		d.patterns = append(d.patterns, re)
	}
	return d, nil
}

// Detect reports whether message indicates self-harm risk.
func (d *CrisisDetector) Detect(message string) bool {
	text := normalize(message)
	for _, k := range d.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	for _, re := range d.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// crisisMessage renders the fixed referral text from the crisis resources.
func crisisMessage(resources map[string]string) string {
	return "I'm really concerned about what you're sharing. Your safety is the most important thing right now.\n\n" +
		"Please reach out to a crisis counselor immediately:\n" +
		fmt.Sprintf("• Call or text %s (available 24/7)\n", resources["hotline"]) +
		fmt.Sprintf("• %s\n", resources["text"]) +
		fmt.Sprintf("• International resources: %s\n\n", resources["international"]) +
		"These counselors are trained to help and want to support you. You don't have to go through this alone."
}
