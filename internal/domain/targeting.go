package domain

import (
	"regexp"
	"strings"
	"time"
)

// Targeting predicates. Each is a total function from (rule, context) to
// bool with one shared policy: missing context never blocks. A rule can
// only narrow; when the server lacks the context to evaluate it, the
// notification stays eligible.

// MatchURL evaluates a comma-separated glob list against the request path.
// "*" matches any run of characters, everything else is literal, patterns
// are anchored at both ends. A leading "!" excludes on match. Plain
// patterns OR together; any matching negated pattern wins over them.
func MatchURL(rule, path string) bool {
	rule = strings.TrimSpace(rule)
	if rule == "" || path == "" {
		return true
	}

	var plain, negated []*regexp.Regexp
	for _, raw := range strings.Split(rule, ",") {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		neg := strings.HasPrefix(p, "!")
		if neg {
			p = strings.TrimSpace(strings.TrimPrefix(p, "!"))
			if p == "" {
				continue
			}
		}
		re, err := compileGlob(p)
		if err != nil {
			// Unparseable pattern: skip it rather than block.
			continue
		}
		if neg {
			negated = append(negated, re)
		} else {
			plain = append(plain, re)
		}
	}

	for _, re := range negated {
		if re.MatchString(path) {
			return false
		}
	}
	if len(plain) == 0 {
		// Only negated (or unparseable) patterns: everything else passes.
		return true
	}
	for _, re := range plain {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func compileGlob(pattern string) (*regexp.Regexp, error) {
	expr := strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*")
	return regexp.Compile("^" + expr + "$")
}

// MatchDevice is a case-insensitive membership test of the context device
// against the rule's device tags.
func MatchDevice(rule []string, device string) bool {
	if len(rule) == 0 || device == "" {
		return true
	}
	for _, tag := range rule {
		if strings.EqualFold(strings.TrimSpace(tag), device) {
			return true
		}
	}
	return false
}

// MatchUTM requires every rule key with a non-nil expected value to equal
// the context value (AND). Nil expected values accept anything; absent or
// empty context values pass, since the server cannot tell "not sent" from
// "mismatched".
func MatchUTM(rule map[string]*string, ctx map[string]string) bool {
	for key, expected := range rule {
		if expected == nil {
			continue
		}
		got, ok := ctx[key]
		if !ok || got == "" {
			continue
		}
		if got != *expected {
			return false
		}
	}
	return true
}

// MatchTimeWindows passes when any window covers the given instant (OR).
// A window that cannot be evaluated (bad timezone, malformed HH:MM) fails
// for itself only; when every window errors the predicate is false.
func MatchTimeWindows(windows []TimeWindow, now time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		match, err := windowCovers(w, now)
		if err != nil {
			continue
		}
		if match {
			return true
		}
	}
	return false
}

func windowCovers(w TimeWindow, now time.Time) (bool, error) {
	loc := time.UTC
	if strings.TrimSpace(w.Timezone) != "" {
		var err error
		loc, err = time.LoadLocation(strings.TrimSpace(w.Timezone))
		if err != nil {
			return false, err
		}
	}
	if !isHHMM(w.Start) || !isHHMM(w.End) {
		return false, errBadClock
	}

	local := now.In(loc)
	if len(w.Days) > 0 {
		today := int(local.Weekday())
		found := false
		for _, d := range w.Days {
			if d == today {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	// Lexical compare works for zero-padded HH:MM; bounds inclusive.
	hhmm := local.Format("15:04")
	return w.Start <= hhmm && hhmm <= w.End, nil
}

var errBadClock = errParse("malformed HH:MM")

type errParse string

func (e errParse) Error() string { return string(e) }

func isHHMM(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s[:2] <= "23" && s[3:] <= "59"
}
