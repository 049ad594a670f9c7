package emailaddr

import "testing"

func TestCanonicalizeLowercasesAndNormalizesDomain(t *testing.T) {
	canonical, local, domain, err := Canonicalize("  Alice.Smith@EXAMPLE.com ")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if canonical != "alice.smith@example.com" {
		t.Fatalf("expected lowercased canonical form, got %q", canonical)
	}
	if local != "alice.smith" || domain != "example.com" {
		t.Fatalf("unexpected parts: local=%q domain=%q", local, domain)
	}
}

func TestCanonicalizeConvertsUnicodeDomainToPunycode(t *testing.T) {
	canonical, _, domain, err := Canonicalize("jose@josé.example")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if domain != "xn--jos-dma.example" {
		t.Fatalf("expected unicode domain to be converted to punycode, got %q", domain)
	}
	if canonical != "jose@xn--jos-dma.example" {
		t.Fatalf("unexpected canonical form: %q", canonical)
	}
}

func TestCanonicalizeRejectsMissingAtSign(t *testing.T) {
	if _, _, _, err := Canonicalize("not-an-address"); err == nil {
		t.Fatalf("expected an error for an address without @")
	}
}

func TestCanonicalizeRejectsEmbeddedWhitespace(t *testing.T) {
	if _, _, _, err := Canonicalize("al ice@example.com"); err == nil {
		t.Fatalf("expected an error for an address containing whitespace")
	}
}

func TestCanonicalizeRejectsEmptyAddress(t *testing.T) {
	if _, _, _, err := Canonicalize("   "); err == nil {
		t.Fatalf("expected an error for an empty address")
	}
}

func TestCanonicalizeRejectsQuotedLocalPart(t *testing.T) {
	if _, _, _, err := Canonicalize(`"quoted local"@example.com`); err == nil {
		t.Fatalf("expected an error for a quoted local part")
	}
}
