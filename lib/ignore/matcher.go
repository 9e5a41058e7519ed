// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package ignore decides which paths under a watched root are hidden,
// using the per-directory .gitignore files found in the tree plus
// .git/info/exclude.
//
// A Matcher is owned by the file-system model's writer and is not safe
// for concurrent use. When an ignore file changes, the writer calls
// [Matcher.Reload] for that directory and then re-evaluates the nodes
// it holds.
package ignore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the per-directory ignore file.
const FileName = ".gitignore"

// excludePath is the repository-wide exclude file, relative to root.
var excludePath = filepath.Join(".git", "info", "exclude")

// Matcher evaluates ignore rules for paths under Root.
type Matcher struct {
	root string

	// rules maps a directory, relative to root in slash form with ""
	// for the root itself, to the rules of its ignore file.
	rules map[string][]Rule

	// exclude holds .git/info/exclude, which has lower precedence than
	// any .gitignore.
	exclude []Rule
}

// New returns a Matcher for root with the root .gitignore and the
// exclude file loaded. Missing files are not errors.
func New(root string) (*Matcher, error) {
	matcher := &Matcher{
		root:  filepath.Clean(root),
		rules: make(map[string][]Rule),
	}
	if err := matcher.Reload(matcher.root); err != nil {
		return nil, err
	}
	if err := matcher.reloadExclude(); err != nil {
		return nil, err
	}
	return matcher, nil
}

// Root returns the absolute root the matcher evaluates against.
func (m *Matcher) Root() string { return m.root }

// IsRuleFile reports whether path is an ignore file whose change
// requires reconciliation.
func (m *Matcher) IsRuleFile(path string) bool {
	if filepath.Base(path) == FileName {
		return true
	}
	return filepath.Clean(path) == filepath.Join(m.root, excludePath)
}

// Reload re-reads the ignore file of directory (absolute). A missing
// file clears that directory's rules. For the exclude file's path the
// exclude rules are reloaded instead.
func (m *Matcher) Reload(directory string) error {
	if filepath.Clean(directory) == filepath.Join(m.root, ".git", "info") {
		return m.reloadExclude()
	}
	relative, ok := m.relative(directory)
	if !ok {
		return fmt.Errorf("ignore: %s is outside %s", directory, m.root)
	}
	rules, err := readRules(filepath.Join(directory, FileName))
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		delete(m.rules, relative)
	} else {
		m.rules[relative] = rules
	}
	return nil
}

// Forget drops the rules of directory and every directory below it.
// Called when a directory leaves the tree.
func (m *Matcher) Forget(directory string) {
	relative, ok := m.relative(directory)
	if !ok {
		return
	}
	for key := range m.rules {
		if relative == "" || key == relative || strings.HasPrefix(key, relative+"/") {
			delete(m.rules, key)
		}
	}
}

func (m *Matcher) reloadExclude() error {
	rules, err := readRules(filepath.Join(m.root, excludePath))
	if err != nil {
		return err
	}
	m.exclude = rules
	return nil
}

func readRules(path string) ([]Rule, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ignore: opening %s: %w", path, err)
	}
	defer file.Close()
	rules, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("ignore: reading %s: %w", path, err)
	}
	return rules, nil
}

// Ignored reports whether path (absolute) is hidden. A path is hidden
// when it is inside .git, when the last matching rule for it is not a
// negation, or when any ancestor directory is hidden. Paths outside
// the root are reported as ignored.
func (m *Matcher) Ignored(path string, isDirectory bool) bool {
	relative, ok := m.relative(path)
	if !ok {
		return true
	}
	if relative == "" {
		return false
	}
	segments := strings.Split(relative, "/")
	for index := range segments {
		if segments[index] == ".git" {
			return true
		}
		prefixIsDirectory := index < len(segments)-1 || isDirectory
		if m.decide(segments[:index+1], prefixIsDirectory) {
			return true
		}
	}
	return false
}

// decide applies the exclude rules and then the ignore files from the
// root down to the target's parent. The last matching rule wins.
func (m *Matcher) decide(segments []string, isDirectory bool) bool {
	ignored := false
	full := strings.Join(segments, "/")
	for _, rule := range m.exclude {
		if rule.Matches(full, isDirectory) {
			ignored = !rule.Negate
		}
	}
	for depth := 0; depth < len(segments); depth++ {
		directory := strings.Join(segments[:depth], "/")
		rules := m.rules[directory]
		if len(rules) == 0 {
			continue
		}
		relative := strings.Join(segments[depth:], "/")
		for _, rule := range rules {
			if rule.Matches(relative, isDirectory) {
				ignored = !rule.Negate
			}
		}
	}
	return ignored
}

func (m *Matcher) relative(path string) (string, bool) {
	relative, err := filepath.Rel(m.root, filepath.Clean(path))
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return "", false
	}
	if relative == "." {
		return "", true
	}
	return filepath.ToSlash(relative), true
}
