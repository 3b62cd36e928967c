package robots

import (
	"regexp"
	"strings"
	"sync"
)

// isAllowed decides whether a path passes the directive's rules. A path
// matching a Disallow is still allowed when a strictly longer Allow pattern
// also matches (the specificity rule).
func isAllowed(path string, d *Directive) bool {
	longestDisallow := -1
	for _, pattern := range d.Disallowed {
		if matchPattern(pattern, path) && len(pattern) > longestDisallow {
			longestDisallow = len(pattern)
		}
	}
	if longestDisallow < 0 {
		return true
	}
	for _, pattern := range d.Allowed {
		if matchPattern(pattern, path) && len(pattern) > longestDisallow {
			return true
		}
	}
	return false
}

// matchPattern reports whether a robots rule pattern matches the path.
//
//   - "/" matches everything
//   - a trailing "*" makes the preceding portion a prefix match
//   - a "*" elsewhere is matched as an anchored wildcard
//   - anything else is a plain prefix match
func matchPattern(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "/" {
		return true
	}

	if strings.HasSuffix(pattern, "*") && strings.Count(pattern, "*") == 1 {
		return strings.HasPrefix(path, pattern[:len(pattern)-1])
	}

	if strings.Contains(pattern, "*") {
		re, err := wildcardRegexp(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(path)
	}

	return strings.HasPrefix(path, pattern)
}

var (
	wildcardMu    sync.Mutex
	wildcardCache = map[string]*regexp.Regexp{}
)

// wildcardRegexp converts a pattern with embedded "*" into an anchored
// regexp, escaping every other metacharacter. Compiled patterns are cached.
func wildcardRegexp(pattern string) (*regexp.Regexp, error) {
	wildcardMu.Lock()
	defer wildcardMu.Unlock()

	if re, ok := wildcardCache[pattern]; ok {
		return re, nil
	}

	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*"))
	if err != nil {
		return nil, err
	}
	wildcardCache[pattern] = re
	return re, nil
}
