package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360/rulegate/rulestore"
)

// Matcher decides whether a rule fires against content. A fired rule
// is reported as a violation with an explanation.
type Matcher func(rule rulestore.Rule, content string) (fired bool, explanation string, err error)

// matcherRegistry maps rule categories to matchers. Rules with an
// unknown or empty category use forbidden-phrase semantics, the most
// common matcher in practice.
var matcherRegistry = map[string]Matcher{
	"forbidden_phrase": matchForbiddenPhrase,
	"required_element": matchRequiredElement,
	"regex":            matchRegex,
}

// matcherFor returns the matcher for a rule.
func matcherFor(rule rulestore.Rule) Matcher {
	if m, ok := matcherRegistry[rule.Category]; ok {
		return m
	}
	return matchForbiddenPhrase
}

// matchForbiddenPhrase fires when the content contains the rule text,
// case-insensitively.
func matchForbiddenPhrase(rule rulestore.Rule, content string) (bool, string, error) {
	if rule.Text == "" {
		return false, "", nil
	}
	if strings.Contains(strings.ToLower(content), strings.ToLower(rule.Text)) {
		return true, fmt.Sprintf("content contains forbidden phrase %q", rule.Text), nil
	}
	return false, "", nil
}

// matchRequiredElement fires when the content is missing the rule text.
func matchRequiredElement(rule rulestore.Rule, content string) (bool, string, error) {
	if rule.Text == "" {
		return false, "", nil
	}
	if !strings.Contains(strings.ToLower(content), strings.ToLower(rule.Text)) {
		return true, fmt.Sprintf("content is missing required element %q", rule.Text), nil
	}
	return false, "", nil
}

// matchRegex fires when the rule pattern matches the content. Patterns
// are compiled through the bounded cache with the complexity guard.
func matchRegex(rule rulestore.Rule, content string) (bool, string, error) {
	re, err := compilePattern(rule.Text)
	if err != nil {
		return false, "", fmt.Errorf("rule %s has unusable pattern: %w", rule.ID, err)
	}
	if re.MatchString(content) {
		return true, fmt.Sprintf("content matches pattern %q", rule.Text), nil
	}
	return false, "", nil
}

// validatePatternComplexity rejects patterns that could cause
// exponential backtracking. Heuristic, not exhaustive.
func validatePatternComplexity(pattern string) error {
	if len(pattern) > 500 {
		return fmt.Errorf("pattern too long (max 500 chars): %d chars", len(pattern))
	}

	dangerousFragments := []string{
		`(\w+)*\w`,
		`(\w*)+`,
		`(a+)+`,
		`([a-zA-Z]+)*`,
		`(\d+)*\d`,
		`(.*)*`,
		`(.+)+`,
		`(\s+)*\s`,
	}
	for _, fragment := range dangerousFragments {
		if strings.Contains(pattern, fragment) {
			return fmt.Errorf("pattern contains nested quantifiers that may cause exponential backtracking")
		}
	}

	if strings.Count(pattern, "(") > 20 {
		return fmt.Errorf("pattern has too many groups (max 20)")
	}

	nestLevel, maxNest := 0, 0
	for _, ch := range pattern {
		switch ch {
		case '(':
			nestLevel++
			if nestLevel > maxNest {
				maxNest = nestLevel
			}
		case ')':
			nestLevel--
		}
	}
	if maxNest > 5 {
		return fmt.Errorf("pattern has excessive nesting depth (max 5 levels)")
	}

	return nil
}

// compileAndValidate is the compile path behind the pattern cache.
func compileAndValidate(pattern string) (*regexp.Regexp, error) {
	if err := validatePatternComplexity(pattern); err != nil {
		return nil, err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}
