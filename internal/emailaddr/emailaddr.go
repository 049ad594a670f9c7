package emailaddr

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var localPartRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9._+-]*[a-z0-9])?$`)

// Canonicalize parses and normalizes a user account email address.
//
// We intentionally keep validation conservative (ASCII local part, no
// display name, no quoted local part) to avoid edge cases in downstream
// providers; the domain is punycode-normalized so "José.example" and
// "xn--jos-dma.example" key the same UserAccount row.
func Canonicalize(address string) (canonical string, localPart string, domain string, err error) {
	raw := strings.TrimSpace(address)
	if raw == "" {
		return "", "", "", fmt.Errorf("address is empty")
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return "", "", "", fmt.Errorf("address must not contain spaces")
	}

	raw = strings.ToLower(raw)

	parts := strings.Split(raw, "@")
	if len(parts) != 2 {
		return "", "", "", fmt.Errorf("invalid address: %q", address)
	}
	localPart = strings.TrimSpace(parts[0])
	domain = strings.TrimSpace(parts[1])
	if localPart == "" || domain == "" {
		return "", "", "", fmt.Errorf("invalid address: %q", address)
	}
	if !localPartRE.MatchString(localPart) {
		return "", "", "", fmt.Errorf("invalid local part: %q", localPart)
	}

	canonicalDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid domain %q: %w", domain, err)
	}
	domain = canonicalDomain

	return localPart + "@" + domain, localPart, domain, nil
}
