// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package ignore

import (
	"bufio"
	"io"
	"path"
	"strings"
)

// Rule is one parsed line of an ignore file.
type Rule struct {
	// Pattern is the glob with the leading "/", trailing "/", and "!"
	// prefix removed.
	Pattern string

	// Negate re-includes paths matched by an earlier rule.
	Negate bool

	// DirectoryOnly rules (written with a trailing "/") match only
	// directories.
	DirectoryOnly bool

	// Anchored rules contain a "/" before their last character and
	// match relative to the directory holding the ignore file. Other
	// rules match the final path segment at any depth.
	Anchored bool
}

// Parse reads gitignore-format lines. Blank lines and comments are
// skipped. A backslash escapes a leading "#" or "!" and trailing
// whitespace is trimmed unless escaped.
func Parse(reader io.Reader) ([]Rule, error) {
	var rules []Rule
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		if rule, ok := parseLine(scanner.Text()); ok {
			rules = append(rules, rule)
		}
	}
	return rules, scanner.Err()
}

func parseLine(line string) (Rule, bool) {
	line = strings.TrimSuffix(line, "\r")
	line = trimTrailingSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Rule{}, false
	}

	var rule Rule
	switch {
	case strings.HasPrefix(line, "!"):
		rule.Negate = true
		line = line[1:]
	case strings.HasPrefix(line, `\!`), strings.HasPrefix(line, `\#`):
		line = line[1:]
	}

	if strings.HasSuffix(line, "/") {
		rule.DirectoryOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.Contains(line, "/") {
		rule.Anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if line == "" {
		return Rule{}, false
	}
	rule.Pattern = negateClasses(line)
	return rule, true
}

// negateClasses rewrites the gitignore class negation "[!...]" to the
// "[^...]" form path.Match understands. Escaped brackets and a "!"
// inside a class are left alone.
func negateClasses(pattern string) string {
	if !strings.Contains(pattern, "[") {
		return pattern
	}
	var builder strings.Builder
	builder.Grow(len(pattern))
	inClass := false
	for index := 0; index < len(pattern); index++ {
		character := pattern[index]
		switch {
		case character == '\\' && index+1 < len(pattern):
			builder.WriteByte(character)
			index++
			builder.WriteByte(pattern[index])
			continue
		case character == '[' && !inClass:
			inClass = true
			builder.WriteByte(character)
			if index+1 < len(pattern) && pattern[index+1] == '!' {
				builder.WriteByte('^')
				index++
			}
			// A "]" right after the opener is a member, not the end;
			// path.Match needs it escaped.
			if index+1 < len(pattern) && pattern[index+1] == ']' {
				index++
				builder.WriteString(`\]`)
			}
			continue
		case character == ']' && inClass:
			inClass = false
		}
		builder.WriteByte(character)
	}
	return builder.String()
}

func trimTrailingSpace(line string) string {
	for strings.HasSuffix(line, " ") && !strings.HasSuffix(line, `\ `) {
		line = line[:len(line)-1]
	}
	return strings.ReplaceAll(line, `\ `, " ")
}

// Matches reports whether the rule selects relative, a slash-separated
// path relative to the directory that holds the rule's ignore file.
func (r Rule) Matches(relative string, isDirectory bool) bool {
	if r.DirectoryOnly && !isDirectory {
		return false
	}
	if r.Anchored {
		return matchSegments(strings.Split(r.Pattern, "/"), strings.Split(relative, "/"))
	}
	return matchGlob(r.Pattern, path.Base(relative))
}

// matchSegments matches pattern segments against path segments. "**"
// consumes zero or more whole segments; every other segment is a
// path.Match glob that never crosses a "/".
func matchSegments(pattern, segments []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return len(segments) > 0
			}
			for skip := 0; skip <= len(segments); skip++ {
				if matchSegments(rest, segments[skip:]) {
					return true
				}
			}
			return false
		}
		if len(segments) == 0 || !matchGlob(pattern[0], segments[0]) {
			return false
		}
		pattern = pattern[1:]
		segments = segments[1:]
	}
	return len(segments) == 0
}

// matchGlob treats malformed patterns as non-matching.
func matchGlob(pattern, name string) bool {
	matched, err := path.Match(pattern, name)
	return err == nil && matched
}
