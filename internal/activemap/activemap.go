// Package activemap implements the Active Processor Map: the
// process-wide registry from user email to that user's live Processor,
// guarded by a single reader-writer lock so worker-pool lookups (read
// heavy) never contend with the scheduler's once-a-minute enrollment
// pass (the only regular writer), grounded on the salted in-memory
// registry pattern this corpus uses for its connection tracker.
package activemap

import (
	"context"
	"sync"

	"mailclerk/internal/processor"
)

// Map is the singleton registry. Writers are insert and the cleanup
// family; every other method only reads.
type Map struct {
	mu      sync.RWMutex
	entries map[string]*processor.Processor
	spawn   func(ctx context.Context, p *processor.Processor)
}

// New builds an empty map. spawn is called once per inserted processor
// to start its run loop; production wiring passes a function that
// launches p.Run(ctx) in its own goroutine, tests can substitute a
// no-op to keep insert synchronous.
func New(spawn func(ctx context.Context, p *processor.Processor)) *Map {
	return &Map{
		entries: make(map[string]*processor.Processor),
		spawn:   spawn,
	}
}

// Insert implements the spec's reconciliation rule: an existing
// terminal processor is discarded and replaced, a stale token-usage
// view or a rule update newer than the processor's creation time
// triggers a cancel-and-replace, otherwise the existing processor is
// returned untouched. A brand-new email gets a freshly built and
// spawned processor.
func (m *Map) Insert(ctx context.Context, enrollment processor.Enrollment, deps processor.Deps) *processor.Processor {
	email := enrollment.User.Email

	m.mu.Lock()
	existing, ok := m.entries[email]
	var toCancel *processor.Processor
	var fresh *processor.Processor
	switch {
	case !ok:
		fresh = processor.New(enrollment, deps)
		m.entries[email] = fresh
	case existing.Status().Terminal():
		fresh = processor.New(enrollment, deps)
		m.entries[email] = fresh
	case existing.CurrentTokenUsage() != enrollment.TokensConsumedToday:
		toCancel = existing
		fresh = processor.New(enrollment, deps)
		m.entries[email] = fresh
	case existing.CreatedAt().Before(enrollment.User.LastRuleUpdateTime):
		toCancel = existing
		fresh = processor.New(enrollment, deps)
		m.entries[email] = fresh
	default:
		fresh = existing
	}
	m.mu.Unlock()

	if toCancel != nil {
		toCancel.Cancel()
	}
	if fresh != existing && m.spawn != nil {
		m.spawn(ctx, fresh)
	}
	return fresh
}

// CancelProcessor cancels email's processor if one exists. It does not
// remove the entry; the next cleanup pass (or a later Insert) does.
func (m *Map) CancelProcessor(email string) {
	m.mu.RLock()
	p, ok := m.entries[email]
	m.mu.RUnlock()
	if ok {
		p.Cancel()
	}
}

func (m *Map) Get(email string) (*processor.Processor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.entries[email]
	return p, ok
}

func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Entries returns a snapshot slice, safe to range over after the lock
// is released.
func (m *Map) Entries() []*processor.Processor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*processor.Processor, 0, len(m.entries))
	for _, p := range m.entries {
		out = append(out, p)
	}
	return out
}

// CleanupStoppedProcessors removes every entry whose status is
// terminal, whether or not it has stopped queueing.
func (m *Map) CleanupStoppedProcessors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for email, p := range m.entries {
		if p.Status().Terminal() {
			delete(m.entries, email)
			removed++
		}
	}
	return removed
}

// CleanupProcessors removes exactly the named entries, regardless of
// status, for callers that have already decided which ones to drop
// (e.g. a user whose subscription was just cancelled).
func (m *Map) CleanupProcessors(emails map[string]struct{}) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for email := range emails {
		if _, ok := m.entries[email]; ok {
			delete(m.entries, email)
			removed++
		}
	}
	return removed
}

// TotalEmailsProcessed sums ProcessedCount across every live entry.
func (m *Map) TotalEmailsProcessed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, p := range m.entries {
		total += p.ProcessedCount()
	}
	return total
}
