package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailclerk/internal/activemap"
	"mailclerk/internal/mailprovider"
	"mailclerk/internal/processor"
	"mailclerk/internal/promptqueue"
	"mailclerk/internal/ratelimit"
	"mailclerk/internal/store"
)

func TestRecordErrAggregatesAndDrains(t *testing.T) {
	s := New(&Scheduler{})

	s.recordErr("job_a", errors.New("boom"))
	s.recordErr("job_b", nil)
	s.recordErr("job_c", errors.New("bang"))

	err := s.Errs()
	if err == nil {
		t.Fatalf("expected a combined error")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected a non-empty combined message")
	}

	if s.Errs() != nil {
		t.Fatalf("expected Errs to drain the recorded errors")
	}
}

// stubProvider lets a processor's Run get past its start-up label check.
type stubProvider struct{ mailprovider.Provider }

func (stubProvider) EnsureLabels(ctx context.Context, requiredNames []string) (bool, error) {
	return false, nil
}

func TestReapProcessorsRemovesOnlyTerminalAndDrained(t *testing.T) {
	m := activemap.New(func(ctx context.Context, p *processor.Processor) {})
	live := m.Insert(context.Background(), processor.Enrollment{
		User: store.UserAccount{ID: "live@example.com", Email: "live@example.com"},
	}, processor.Deps{Queue: promptqueue.New()})
	dead := m.Insert(context.Background(), processor.Enrollment{
		User: store.UserAccount{ID: "dead@example.com", Email: "dead@example.com"},
	}, processor.Deps{Queue: promptqueue.New(), Mail: stubProvider{}})
	dead.Cancel()
	// Run with an already-cancelled context so the processor stops
	// queueing, as a cancelled processor's loop does once it exits.
	runCtx, cancelRun := context.WithCancel(context.Background())
	cancelRun()
	dead.Run(runCtx)

	s := New(&Scheduler{ActiveMap: m})
	s.reapProcessors(context.Background())

	if _, ok := m.Get(live.Email()); !ok {
		t.Fatalf("expected the live processor to survive reaping")
	}
	if _, ok := m.Get(dead.Email()); ok {
		t.Fatalf("expected the cancelled, drained processor to be reaped")
	}
}

func TestSessionGCNoopsWithoutASessionStore(t *testing.T) {
	s := New(&Scheduler{})
	// Must not panic when SessionStore is nil; the scheduler wires it
	// only when OAuth session stashing is configured.
	s.sessionGC(context.Background())
}

func TestStatusTelemetrySamplesWithoutPanicking(t *testing.T) {
	m := activemap.New(func(ctx context.Context, p *processor.Processor) {})
	m.Insert(context.Background(), processor.Enrollment{
		User: store.UserAccount{ID: "a@example.com", Email: "a@example.com", LastRuleUpdateTime: time.Time{}},
	}, processor.Deps{Queue: promptqueue.New()})

	s := New(&Scheduler{
		ActiveMap: m,
		Queue:     promptqueue.New(),
		Limiters: ratelimit.New(5, 100, 10, time.Second),
	})
	s.statusTelemetry(context.Background())
}

func TestDailyDigestSkipsWhenNoDelivererConfigured(t *testing.T) {
	s := New(&Scheduler{})
	// Digest is nil; this must return immediately without touching Store.
	s.dailyDigest(context.Background())
}
