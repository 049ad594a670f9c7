// Package rules computes the effective rule set for a user: defaults
// minus user-disabled overrides, plus per-user customs, recomputed on
// each processor instantiation; and the heuristic override that
// replaces a model answer with a sender-substring match outside a
// narrow excluded-category list.
package rules

import "strings"

// Category mirrors the EmailRule entity: a single category's mail
// label, the provider-side categories it maps to, and whether it
// should also carry IMPORTANT.
type Category struct {
	Content            string
	MailLabel          string
	ProviderCategories []string
	Important          bool
}

var UnknownCategory = Category{
	Content:            "Unknown",
	MailLabel:          "uncategorized",
	ProviderCategories: nil,
}

// excludedFromHeuristics lists categories the heuristic override must
// never replace, even when a sender substring matches.
var excludedFromHeuristics = map[string]struct{}{
	"Terms of Service Update": {},
	"Verification Code":       {},
	"Security Alert":          {},
}

// Set is the effective rule set for one user: defaults minus disabled
// overrides, plus user customs, plus the heuristic rules that can
// override any of them at classification time.
type Set struct {
	Categories []Category
	Heuristics []Category
}

// EffectiveSet computes the effective rule set given the global default
// categories, the set of default content names a user has disabled,
// and that user's custom category rules.
func EffectiveSet(defaults []Category, disabled map[string]struct{}, customs []Category, heuristics []Category) Set {
	var effective []Category
	for _, c := range defaults {
		if _, isDisabled := disabled[c.Content]; isDisabled {
			continue
		}
		effective = append(effective, c)
	}
	effective = append(effective, customs...)
	return Set{Categories: effective, Heuristics: heuristics}
}

// ContentNames returns the effective category names plus "Unknown",
// the set the classification client's system prompt lists.
func (s Set) ContentNames() []string {
	names := make([]string, 0, len(s.Categories)+1)
	for _, c := range s.Categories {
		names = append(names, c.Content)
	}
	names = append(names, "Unknown")
	return names
}

// MailLabelNames returns the mail label each effective category maps
// to, the set the mail provider adapter must keep labels in sync with.
func (s Set) MailLabelNames() []string {
	names := make([]string, 0, len(s.Categories))
	for _, c := range s.Categories {
		names = append(names, c.MailLabel)
	}
	return names
}

// Lookup finds the category matching modelAnswer, defaulting to
// UnknownCategory when no match exists.
func (s Set) Lookup(modelAnswer string) Category {
	for _, c := range s.Categories {
		if c.Content == modelAnswer {
			return c
		}
	}
	return UnknownCategory
}

// ApplyHeuristics implements the heuristic override: if from contains
// any heuristic content substring and the current category is not in
// the excluded set, the matching heuristic category replaces it. The
// second return value reports whether an override was applied (used to
// set heuristics_used=true on the training record).
func (s Set) ApplyHeuristics(from string, current Category) (Category, bool) {
	if _, excluded := excludedFromHeuristics[current.Content]; excluded {
		return current, false
	}
	if from == "" {
		return current, false
	}
	for _, h := range s.Heuristics {
		if h.Content != "" && strings.Contains(from, h.Content) {
			return h, true
		}
	}
	return current, false
}

// CleanupAction is a user's configured disposition for a category once
// a processed email ages past its threshold.
type CleanupAction int

const (
	Nothing CleanupAction = iota
	Archive
	Delete
)

// InboxSetting is the supplemented CategoryInboxSetting entity: whether
// a category should be kept out of INBOX and/or routed to SPAM.
type InboxSetting struct {
	Category  string
	SkipInbox bool
	MarkSpam  bool
}

// DefaultInboxSettings mirrors the original implementation's defaults:
// promotional/social/political mail skips the inbox; everything
// transactional stays visible.
func DefaultInboxSettings() []InboxSetting {
	return []InboxSetting{
		{Category: "ads", SkipInbox: true},
		{Category: "political", SkipInbox: true},
		{Category: "social_media", SkipInbox: true},
		{Category: "notices", SkipInbox: false},
		{Category: "receipts", SkipInbox: false},
		{Category: "security_alerts", SkipInbox: false},
		{Category: "flights", SkipInbox: false},
		{Category: "finances", SkipInbox: false},
	}
}
