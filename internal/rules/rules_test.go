package rules

import (
	"reflect"
	"testing"
)

func TestEffectiveSetDropsDisabledAndAddsCustoms(t *testing.T) {
	defaults := []Category{
		{Content: "Receipt", MailLabel: "receipts"},
		{Content: "Ads", MailLabel: "ads"},
	}
	disabled := map[string]struct{}{"Ads": {}}
	customs := []Category{{Content: "Team Standup", MailLabel: "work"}}

	set := EffectiveSet(defaults, disabled, customs, nil)

	if len(set.Categories) != 2 {
		t.Fatalf("expected 2 effective categories, got %d: %+v", len(set.Categories), set.Categories)
	}
	if set.Categories[0].Content != "Receipt" || set.Categories[1].Content != "Team Standup" {
		t.Fatalf("unexpected effective categories: %+v", set.Categories)
	}
}

func TestContentNamesAppendsUnknown(t *testing.T) {
	set := Set{Categories: []Category{{Content: "Receipt"}}}
	names := set.ContentNames()
	if len(names) != 2 || names[0] != "Receipt" || names[1] != "Unknown" {
		t.Fatalf("unexpected content names: %v", names)
	}
}

func TestMailLabelNamesUsesLabelNotContent(t *testing.T) {
	set := Set{Categories: []Category{{Content: "Receipt", MailLabel: "receipts"}}}
	names := set.MailLabelNames()
	if len(names) != 1 || names[0] != "receipts" {
		t.Fatalf("expected mail label names to use MailLabel, got %v", names)
	}
}

func TestLookupFallsBackToUnknown(t *testing.T) {
	set := Set{Categories: []Category{{Content: "Receipt"}}}
	if got := set.Lookup("Receipt"); got.Content != "Receipt" {
		t.Fatalf("expected exact match, got %+v", got)
	}
	if got := set.Lookup("Nonexistent"); !reflect.DeepEqual(got, UnknownCategory) {
		t.Fatalf("expected UnknownCategory fallback, got %+v", got)
	}
}

func TestApplyHeuristicsOverridesOnSenderMatch(t *testing.T) {
	set := Set{Heuristics: []Category{{Content: "billing@acme.com", MailLabel: "finances"}}}
	current := Category{Content: "Unknown"}

	override, applied := set.ApplyHeuristics("billing@acme.com", current)
	if !applied || override.MailLabel != "finances" {
		t.Fatalf("expected heuristic override to apply, got override=%+v applied=%v", override, applied)
	}
}

func TestApplyHeuristicsNeverOverridesExcludedCategories(t *testing.T) {
	set := Set{Heuristics: []Category{{Content: "security@acme.com", MailLabel: "finances"}}}
	current := Category{Content: "Security Alert"}

	override, applied := set.ApplyHeuristics("security@acme.com", current)
	if applied || !reflect.DeepEqual(override, current) {
		t.Fatalf("expected excluded category to be left alone, got override=%+v applied=%v", override, applied)
	}
}

func TestApplyHeuristicsNoMatchLeavesCurrent(t *testing.T) {
	set := Set{Heuristics: []Category{{Content: "billing@acme.com"}}}
	current := Category{Content: "Unknown"}

	override, applied := set.ApplyHeuristics("someone@example.com", current)
	if applied || !reflect.DeepEqual(override, current) {
		t.Fatalf("expected no override without a substring match, got override=%+v applied=%v", override, applied)
	}
}
