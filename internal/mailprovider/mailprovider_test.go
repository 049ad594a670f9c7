package mailprovider

import (
	"math/big"
	"testing"
)

func TestMsgIDRoundTrip(t *testing.T) {
	cases := []string{"abc", "0", "ffffffffffffffffffffffffffffffff", "1a2b3c"}
	for _, hex := range cases {
		n, err := ParseMsgID(hex)
		if err != nil {
			t.Fatalf("parse %q: %v", hex, err)
		}
		got := FormatMsgID(n)
		n2, err := ParseMsgID(got)
		if err != nil {
			t.Fatalf("reparse %q: %v", got, err)
		}
		if n.Cmp(n2) != 0 {
			t.Fatalf("round trip mismatch for %q: %v != %v", hex, n, n2)
		}
	}
}

func TestParseMsgIDRejectsOutOfRange(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 129)
	if _, err := ParseMsgID(tooBig.Text(16)); err == nil {
		t.Fatalf("expected error for id exceeding 128 bits")
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	raw := RawMessage{ID: "m1", Snippet: "hello\t\r\nworld   café"}
	first := Sanitize(raw, "a@b.example", "Subject\twith\ttabs", "<p>Big sale https://x.example/y</p>")
	second := Sanitize(RawMessage{ID: first.ID, Snippet: first.Snippet}, first.From, first.Subject, first.Body)

	if second.Subject != first.Subject {
		t.Fatalf("expected idempotent subject sanitisation: %q != %q", first.Subject, second.Subject)
	}
	if second.Snippet != first.Snippet {
		t.Fatalf("expected idempotent snippet sanitisation: %q != %q", first.Snippet, second.Snippet)
	}
}

func TestSanitizeReplacesLinksAndStripsNonASCII(t *testing.T) {
	msg := Sanitize(RawMessage{ID: "m1"}, "", "café", "<p>Visit https://example.com/path now</p>")
	if got := msg.Subject; got != "caf" {
		t.Fatalf("expected non-ascii stripped from subject, got %q", got)
	}
	if containsSubstring(msg.Body, "https://") {
		t.Fatalf("expected link replaced, got %q", msg.Body)
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestBuildLabelUpdateNeverStripsLastCategoryWhenNoNewCategories(t *testing.T) {
	category := EffectiveCategory{MailLabel: "Mailclerk/ads"}
	labelMap := map[string]string{"Mailclerk/ads": "label-10"}

	addIDs, removeIDs, update, ok := BuildLabelUpdate([]string{"INBOX", "CATEGORY_SOCIAL"}, category, labelMap)
	if !ok {
		t.Fatalf("expected label found")
	}
	if len(removeIDs) != 0 {
		t.Fatalf("expected no removals when add set is empty, got %v", removeIDs)
	}
	if len(addIDs) != 1 || addIDs[0] != "label-10" {
		t.Fatalf("unexpected addIDs: %v", addIDs)
	}
	if update.Removed != nil {
		t.Fatalf("expected nil Removed, got %v", update.Removed)
	}
}

func TestBuildLabelUpdatePromotionalEmailScenario(t *testing.T) {
	category := EffectiveCategory{MailLabel: "Mailclerk/ads", ProviderCategories: []string{"CATEGORY_PROMOTIONS"}}
	labelMap := map[string]string{"Mailclerk/ads": "label-10"}

	addIDs, removeIDs, update, ok := BuildLabelUpdate([]string{"INBOX", "CATEGORY_SOCIAL"}, category, labelMap)
	if !ok {
		t.Fatalf("expected label found")
	}
	if len(addIDs) != 2 || addIDs[0] != "CATEGORY_PROMOTIONS" || addIDs[1] != "label-10" {
		t.Fatalf("unexpected addIDs: %v", addIDs)
	}
	if len(removeIDs) != 1 || removeIDs[0] != "CATEGORY_SOCIAL" {
		t.Fatalf("unexpected removeIDs: %v", removeIDs)
	}
	if update.Added == nil || update.Removed == nil {
		t.Fatalf("expected both Added and Removed populated: %+v", update)
	}
}

func TestNamespacedLeavesReservedLabelsAlone(t *testing.T) {
	for _, reserved := range []string{"IMPORTANT", "INBOX", "SPAM", "CATEGORY_SOCIAL"} {
		if got := Namespaced(reserved); got != reserved {
			t.Fatalf("expected %q left unchanged, got %q", reserved, got)
		}
	}
	if got := Namespaced("ads"); got != "Mailclerk/ads" {
		t.Fatalf("expected namespaced label, got %q", got)
	}
}
