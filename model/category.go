package model

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Category is one of the closed set of triage buckets.
type Category string

const (
	Action        Category = "Action"
	Read          Category = "Read"
	Events        Category = "Events"
	Information   Category = "Information"
	Uncategorised Category = "Uncategorised"
)

// Categories lists every category in prompt and display order.
var Categories = []Category{Action, Read, Events, Information, Uncategorised}

// Valid reports whether c belongs to the closed category set.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory matches name case-insensitively against the category set.
func ParseCategory(name string) (Category, bool) {
	name = strings.TrimSpace(name)
	for _, known := range Categories {
		if strings.EqualFold(name, string(known)) {
			return known, true
		}
	}
	return Uncategorised, false
}

// Role says what a sweep does with a category.
type Role string

const (
	RoleMove     Role = "move"
	RoleArchive  Role = "archive"
	RoleDisabled Role = "disabled"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleMove:
		return RoleMove, nil
	case RoleArchive:
		return RoleArchive, nil
	case RoleDisabled, "":
		return RoleDisabled, nil
	}
	return "", fmt.Errorf("unknown category role %q", s)
}

// CategoryTable assigns a role to every non-default category. Uncategorised
// never has a role and is never a move target.
type CategoryTable map[Category]Role

// DefaultCategoryTable moves Action, Read and Events and routes Information
// through the separate archive sweep.
func DefaultCategoryTable() CategoryTable {
	return CategoryTable{
		Action:      RoleMove,
		Read:        RoleMove,
		Events:      RoleMove,
		Information: RoleArchive,
	}
}

// Enabled reports whether the category can be assigned at all.
func (t CategoryTable) Enabled(c Category) bool {
	if c == Uncategorised {
		return true
	}
	role, ok := t[c]
	return ok && role != RoleDisabled
}

// Assignable lists the categories a classifier may return, in display
// order. A nil table allows every category.
func (t CategoryTable) Assignable() []Category {
	if t == nil {
		return slices.Clone(Categories)
	}
	var out []Category
	for _, c := range Categories {
		if t.Enabled(c) {
			out = append(out, c)
		}
	}
	return out
}

// Targets returns the categories carrying role, in display order.
func (t CategoryTable) Targets(role Role) []Category {
	var out []Category
	for _, c := range Categories {
		if c == Uncategorised {
			continue
		}
		if t[c] == role {
			out = append(out, c)
		}
	}
	return out
}

// DefaultFolders is the default target folder map.
func DefaultFolders() map[Category]string {
	return map[Category]string{
		Action:      "SmartInbox/Action",
		Read:        "SmartInbox/Read",
		Events:      "SmartInbox/Events",
		Information: "SmartInbox/Information",
	}
}

// ValidateFolders checks that every move or archive category has a folder.
func ValidateFolders(t CategoryTable, folders map[Category]string) error {
	var missing []string
	for c, role := range t {
		if role == RoleDisabled {
			continue
		}
		if strings.TrimSpace(folders[c]) == "" {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("no target folder for categories: %s", strings.Join(missing, ", "))
	}
	if _, ok := folders[Uncategorised]; ok {
		return fmt.Errorf("%s cannot have a target folder", Uncategorised)
	}
	return nil
}
