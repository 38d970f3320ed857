// Package models defines the domain types shared across the service.
package models

import (
	"slices"
	"time"
)

// Rule is a declarative matcher associated with zero or more installed apps.
type Rule struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Company         string    `json:"company,omitempty"`
	IconURL         string    `json:"icon_url,omitempty"`
	Description     string    `json:"description,omitempty"`
	SafeToBlock     bool      `json:"safe_to_block"`
	SideEffect      string    `json:"side_effect,omitempty"`
	Contributors    []string  `json:"contributors,omitempty"`
	Keywords        []string  `json:"keywords"`
	UseRegex        bool      `json:"use_regex"`
	MatchedAppCount int       `json:"matched_app_count"`
	Path            string    `json:"-"`
	Checksum        string    `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}

// Matched reports whether at least one installed app satisfies the rule.
func (r Rule) Matched() bool {
	return r.MatchedAppCount > 0
}

// Equal compares the fields visible to consumers.
func (r Rule) Equal(o Rule) bool {
	return r.ID == o.ID &&
		r.Name == o.Name &&
		r.Company == o.Company &&
		r.IconURL == o.IconURL &&
		r.Description == o.Description &&
		r.SafeToBlock == o.SafeToBlock &&
		r.SideEffect == o.SideEffect &&
		r.UseRegex == o.UseRegex &&
		r.MatchedAppCount == o.MatchedAppCount &&
		slices.Equal(r.Contributors, o.Contributors) &&
		slices.Equal(r.Keywords, o.Keywords)
}

// RulesEqual reports whether two rule lists hold equal rules in the same order.
func RulesEqual(a, b []Rule) bool {
	return slices.EqualFunc(a, b, Rule.Equal)
}

// RuleMetadata is a lightweight representation of a rule document on disk.
type RuleMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
