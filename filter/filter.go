package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/inbox-triage/model"
)

// Options captures which classified messages are handed to the mover.
type Options struct {
	// Categories restricts the selection; empty means every move target.
	Categories     []model.Category
	IncludeSubject []string
	IncludeFrom    []string
	ExcludeSubject []string
	ExcludeFrom    []string
}

// Filter holds compiled regex patterns for filtering messages.
type Filter struct {
	categories     map[model.Category]bool
	includeMode    bool
	excludeMode    bool
	includeSubject []*regexp.Regexp
	includeFrom    []*regexp.Regexp
	excludeSubject []*regexp.Regexp
	excludeFrom    []*regexp.Regexp
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeSubject, err := compilePatterns(opts.IncludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile include-subject pattern: %w", err)
	}
	includeFrom, err := compilePatterns(opts.IncludeFrom)
	if err != nil {
		return nil, fmt.Errorf("compile include-from pattern: %w", err)
	}
	excludeSubject, err := compilePatterns(opts.ExcludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-subject pattern: %w", err)
	}
	excludeFrom, err := compilePatterns(opts.ExcludeFrom)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-from pattern: %w", err)
	}

	includeActive := len(includeSubject) > 0 || len(includeFrom) > 0
	excludeActive := len(excludeSubject) > 0 || len(excludeFrom) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	var categories map[model.Category]bool
	if len(opts.Categories) > 0 {
		categories = make(map[model.Category]bool, len(opts.Categories))
		for _, c := range opts.Categories {
			if !c.Valid() {
				return nil, fmt.Errorf("unknown category %q", c)
			}
			categories[c] = true
		}
	}

	return &Filter{
		categories:     categories,
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeSubject: includeSubject,
		includeFrom:    includeFrom,
		excludeSubject: excludeSubject,
		excludeFrom:    excludeFrom,
	}, nil
}

// Allows reports whether msg should be moved. Uncategorised messages are
// never selected.
func (f *Filter) Allows(msg *model.Message) bool {
	if msg == nil || msg.Category == model.Uncategorised || !msg.Category.Valid() {
		return false
	}
	if f.categories != nil && !f.categories[msg.Category] {
		return false
	}

	if f.includeMode {
		return matchAny(f.includeSubject, msg.Subject) || matchAny(f.includeFrom, msg.From)
	}

	if f.excludeMode {
		if matchAny(f.excludeSubject, msg.Subject) || matchAny(f.excludeFrom, msg.From) {
			return false
		}
	}

	return true
}

// Select returns the UIDs of allowed messages in collection order together
// with their categories, ready for the mover.
func (f *Filter) Select(msgs []*model.Message) ([]uint32, map[uint32]model.Category) {
	uids := make([]uint32, 0, len(msgs))
	categoryByUID := make(map[uint32]model.Category)
	for _, msg := range msgs {
		if !f.Allows(msg) {
			continue
		}
		uids = append(uids, msg.UID)
		categoryByUID[msg.UID] = msg.Category
	}
	return uids, categoryByUID
}

// Select is a shorthand for New(opts) followed by Filter.Select.
func Select(msgs []*model.Message, opts Options) ([]uint32, map[uint32]model.Category, error) {
	f, err := New(opts)
	if err != nil {
		return nil, nil, err
	}
	uids, categories := f.Select(msgs)
	return uids, categories, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
