// Package reconcile repairs drift between the daily token-usage
// counters a processor tallies incrementally and the processed_emails
// ledger those counters are supposed to summarize, and purges stale
// counters past the retention window. Grounded on the teacher's
// reconcile.Service: sum the source of truth, overwrite the counter
// only when it disagrees, stop on the first row that errors (matching
// the teacher's own Run).
package reconcile

import (
	"context"
	"time"

	"mailclerk/internal/store"
)

// retentionWindow mirrors Settings.EmailMaxAgeDays's role for
// processed mail: counters older than this no longer feed any
// scheduler decision and are safe to drop.
const retentionWindow = 400 * 24 * time.Hour

type Service struct {
	Store *store.Store
	Now   func() time.Time
}

type Report struct {
	CountersRepaired int
	CountersPurged   int64
}

func NewService(st *store.Store) *Service {
	return &Service{
		Store: st,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Run recomputes every daily counter from processed_emails and
// overwrites it when it disagrees, then purges anything past
// retentionWindow. It returns on the first row that errors rather
// than continuing past it; the caller (cmd/mailclerk-reconcile) logs
// and can simply re-run the job on its next scheduled invocation.
func (s *Service) Run(ctx context.Context) (Report, error) {
	var report Report
	if s == nil || s.Store == nil {
		return report, nil
	}

	counters, err := s.Store.ListTokenUsageCounters(ctx)
	if err != nil {
		return report, err
	}
	for _, counter := range counters {
		expected, err := s.Store.SumTokenCostForDay(ctx, counter.UserID, counter.Date)
		if err != nil {
			return report, err
		}
		if expected != counter.Used {
			if err := s.Store.SetUserTokenUsage(ctx, counter.UserID, counter.Date, expected); err != nil {
				return report, err
			}
			report.CountersRepaired++
		}
	}

	purged, err := s.Store.PurgeTokenUsageOlderThan(ctx, s.Now().Add(-retentionWindow))
	if err != nil {
		return report, err
	}
	report.CountersPurged = purged

	return report, nil
}
