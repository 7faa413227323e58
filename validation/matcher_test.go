package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulegate/rulestore"
)

func TestMatchForbiddenPhrase(t *testing.T) {
	rule := rulestore.Rule{ID: "r1", Text: "Guaranteed Results", Category: "forbidden_phrase"}

	fired, explanation, err := matchForbiddenPhrase(rule, "we offer guaranteed results today")
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Contains(t, explanation, "Guaranteed Results")

	fired, _, err = matchForbiddenPhrase(rule, "nothing to see here")
	require.NoError(t, err)
	assert.False(t, fired)

	// Empty rule text never fires.
	fired, _, err = matchForbiddenPhrase(rulestore.Rule{}, "anything")
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestMatchRequiredElement(t *testing.T) {
	rule := rulestore.Rule{ID: "r2", Text: "disclaimer", Category: "required_element"}

	fired, explanation, err := matchRequiredElement(rule, "content without the magic word")
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Contains(t, explanation, "disclaimer")

	fired, _, err = matchRequiredElement(rule, "content with a Disclaimer attached")
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestMatchRegex(t *testing.T) {
	rule := rulestore.Rule{ID: "r3", Text: `\b\d{3}-\d{4}\b`, Category: "regex"}

	fired, _, err := matchRegex(rule, "call 555-1234 now")
	require.NoError(t, err)
	assert.True(t, fired)

	fired, _, err = matchRegex(rule, "no phone numbers here")
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestMatchRegex_InvalidPattern(t *testing.T) {
	rule := rulestore.Rule{ID: "r4", Text: `([unclosed`, Category: "regex"}

	_, _, err := matchRegex(rule, "content")
	assert.Error(t, err)
}

func TestMatcherFor_UnknownCategoryDefaults(t *testing.T) {
	rule := rulestore.Rule{ID: "r5", Text: "spam", Category: "tone"}

	fired, _, err := matcherFor(rule)(rule, "this is spam content")
	require.NoError(t, err)
	assert.True(t, fired, "unknown categories fall back to forbidden-phrase semantics")
}

func TestValidatePatternComplexity(t *testing.T) {
	assert.NoError(t, validatePatternComplexity(`\bhello\b`))

	// Classic exponential backtracking patterns are rejected.
	assert.Error(t, validatePatternComplexity(`(a+)+b`))
	assert.Error(t, validatePatternComplexity(`(.*)*x`))
	assert.Error(t, validatePatternComplexity(`(.+)+y`))

	// Oversized patterns are rejected.
	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, validatePatternComplexity(string(long)))

	// Excessive nesting depth is rejected.
	assert.Error(t, validatePatternComplexity(`((((((a))))))`))
}

func TestCompilePattern_Caches(t *testing.T) {
	re1, err := compilePattern(`\bcached\b`)
	require.NoError(t, err)

	re2, err := compilePattern(`\bcached\b`)
	require.NoError(t, err)

	assert.Same(t, re1, re2, "second compile must come from the cache")
}
