package validation

import (
	"fmt"
	"regexp"

	"github.com/c360/rulegate/pkg/cache"
)

// patternCache holds compiled rule patterns. Rule collections are
// small and stable, so a modest LRU bound covers the working set.
var patternCache cache.Cache[*regexp.Regexp]

func init() {
	var err error
	patternCache, err = cache.NewLRU[*regexp.Regexp](100)
	if err != nil {
		// Cannot fail with a positive size, but guard anyway.
		panic(fmt.Sprintf("failed to initialize pattern cache: %v", err))
	}
}

// compilePattern returns a cached compiled pattern, compiling and
// caching on first use. Compilation is guarded against ReDoS patterns.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, found := patternCache.Get(pattern); found {
		return re, nil
	}

	re, err := compileAndValidate(pattern)
	if err != nil {
		return nil, err
	}

	_, _ = patternCache.Set(pattern, re)
	return re, nil
}
