package spoil

import (
	"fmt"
	"regexp"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
)

// Rule pairs a reference regular expression with the disposition to apply
// when it matches.
type Rule struct {
	Pattern     string
	CaseSens    bool
	Disposition Disposition

	compiled *regexp.Regexp
}

// RegexPolicy evaluates an ordered list of Rules against the reference;
// the first matching rule's disposition wins. If no rule matches, Resolve
// returns the empty Disposition so the caller's default fallback applies.
type RegexPolicy struct {
	rules []Rule
}

// NewRegexPolicy compiles all rules eagerly, since a policy typically
// holds only a handful.
func NewRegexPolicy(rules []Rule) (*RegexPolicy, error) {
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		flags := "(?s)"
		if !r.CaseSens {
			flags += "(?i)"
		}
		pattern, err := regexp.Compile(flags + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("spoil: compile rule %d (%q): %w", i, r.Pattern, err)
		}
		r.compiled = pattern
		compiled[i] = r
	}
	return &RegexPolicy{rules: compiled}, nil
}

// Resolve implements Policy.
func (p *RegexPolicy) Resolve(reference string, _ crawlstore.State) Disposition {
	for _, r := range p.rules {
		if r.compiled.MatchString(reference) {
			return r.Disposition
		}
	}
	return ""
}
