package mailprovider

import "fmt"

type ErrorKind int

const (
	Unknown ErrorKind = iota
	RateLimited
	Unauthorized
	BadRequest
	NotFound
)

// ProviderError is the typed error every adapter call maps network and
// provider-reported failures into. RateLimited is surfaced to the rate
// limiter for global back-off.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("mail provider: %s (status %d)", e.Message, e.StatusCode)
}

// ClassifyStatus maps an HTTP status code to a ProviderError kind,
// matching the error taxonomy transport classification.
func ClassifyStatus(statusCode int, message string) *ProviderError {
	kind := Unknown
	switch {
	case statusCode == 429:
		kind = RateLimited
	case statusCode == 401 || statusCode == 403:
		kind = Unauthorized
	case statusCode == 400:
		kind = BadRequest
	case statusCode == 404:
		kind = NotFound
	}
	return &ProviderError{Kind: kind, StatusCode: statusCode, Message: message}
}
