// Package mailprovider is the typed contract over a remote mailbox: list,
// fetch, sanitize, label-create/apply, trash, archive, watch. A single
// concrete HTTP adapter implements Provider; the interface exists so
// tests can substitute a fake, mirroring the source's single adapter
// behind a trait-like contract.
package mailprovider

import "time"

// RawMessage is the provider's wire format before sanitisation (RAW).
type RawMessage struct {
	ID          string
	ThreadID    string
	LabelIDs    []string
	Snippet     string
	HistoryID   uint64
	InternalMS  int64
	RawBase64   string
}

// EmailMessage is the sanitized message the classification client and
// processor operate on.
type EmailMessage struct {
	ID          string
	ThreadID    string
	LabelIDs    []string
	HistoryID   uint64
	InternalMS  int64
	From        string
	Subject     string
	Snippet     string
	Body        string
}

type Label struct {
	ID   string
	Name string
}

// ListOptions enumerates list_messages parameters.
type ListOptions struct {
	MoreRecentThan time.Duration // zero means no recency filter
	Categories     []string
	LabelFilter    string
	PageToken      string
	MaxResults     int // default 500
}

type ListResult struct {
	IDs           []string
	NextPageToken string
}

// LabelUpdate reports what a label-update call actually changed.
type LabelUpdate struct {
	Added   []string
	Removed []string
}

const labelNamespace = "Mailclerk"
