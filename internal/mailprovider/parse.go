package mailprovider

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// ParseRaw decodes a provider's RAW (RFC 822, base64url) message payload
// into the header/body fields Sanitize expects. It tolerates malformed
// or partially-decodable MIME: missing parts simply come back empty.
func ParseRaw(raw RawMessage) (from, subject, bodyHTML, bodyText string) {
	decoded, err := base64.URLEncoding.DecodeString(raw.RawBase64)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(raw.RawBase64)
		if err != nil {
			return "", "", "", ""
		}
	}

	reader, err := mail.CreateReader(bytes.NewReader(decoded))
	if err != nil {
		return "", "", "", ""
	}

	if addrs, err := reader.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		from = addrs[0].Address
	}
	if s, err := reader.Header.Subject(); err == nil {
		subject = s
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/html") && bodyHTML == "":
			bodyHTML = string(body)
		case strings.HasPrefix(contentType, "text/plain") && bodyText == "":
			bodyText = string(body)
		}
	}

	return from, subject, bodyHTML, bodyText
}
