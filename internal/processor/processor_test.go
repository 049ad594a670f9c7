package processor

import (
	"context"
	"testing"
	"time"

	"mailclerk/internal/mailprovider"
	"mailclerk/internal/promptqueue"
	"mailclerk/internal/store"
)

// noopProvider satisfies mailprovider.Provider with no-op responses,
// enough to let Run's startup EnsureLabels call succeed so the
// cancellation path under test is reached.
type noopProvider struct{}

func (noopProvider) ListMessages(ctx context.Context, opts mailprovider.ListOptions) (mailprovider.ListResult, error) {
	return mailprovider.ListResult{}, nil
}
func (noopProvider) GetMessage(ctx context.Context, id string) (mailprovider.RawMessage, error) {
	return mailprovider.RawMessage{}, nil
}
func (noopProvider) GetLabels(ctx context.Context) ([]mailprovider.Label, error) { return nil, nil }
func (noopProvider) CreateLabel(ctx context.Context, name string) (mailprovider.Label, error) {
	return mailprovider.Label{}, nil
}
func (noopProvider) DeleteLabel(ctx context.Context, id string) error { return nil }
func (noopProvider) ApplyLabelUpdate(ctx context.Context, msgID string, currentLabels []string, category mailprovider.EffectiveCategory) (mailprovider.LabelUpdate, error) {
	return mailprovider.LabelUpdate{}, nil
}
func (noopProvider) EnsureLabels(ctx context.Context, requiredNames []string) (bool, error) {
	return false, nil
}
func (noopProvider) TrashMessage(ctx context.Context, id string) error   { return nil }
func (noopProvider) ArchiveMessage(ctx context.Context, id string) error { return nil }
func (noopProvider) WatchMailbox(ctx context.Context) error              { return nil }

func newCancelledContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx, cancel
}

func newTestProcessor(tokensConsumed, dailyQuota int64) (*Processor, *promptqueue.Queue) {
	queue := promptqueue.New()
	p := New(
		Enrollment{User: store.UserAccount{ID: "u1", Email: "u1@example.com"}, TokensConsumedToday: tokensConsumed},
		Deps{Queue: queue, DailyQuota: dailyQuota},
	)
	return p, queue
}

func TestNewMarksQuotaExceededWhenAlreadyOverQuota(t *testing.T) {
	p, _ := newTestProcessor(50_000, 50_000)
	if p.Status() != QuotaExceeded {
		t.Fatalf("expected QuotaExceeded immediately on enrollment, got %s", p.Status())
	}
}

func TestNewLeavesQuotaUnderLimitIdle(t *testing.T) {
	p, _ := newTestProcessor(10, 50_000)
	if p.Status() != Idle {
		t.Fatalf("expected Idle with headroom remaining, got %s", p.Status())
	}
}

func TestStatusReflectsQueueDepthOverIdle(t *testing.T) {
	p, queue := newTestProcessor(0, 50_000)
	queue.Push(p.Email(), "msg-1", promptqueue.High)
	if p.Status() != ProcessingHP {
		t.Fatalf("expected ProcessingHP with a high-priority item queued, got %s", p.Status())
	}
}

func TestStatusPrefersHighPriorityOverLow(t *testing.T) {
	p, queue := newTestProcessor(0, 50_000)
	queue.Push(p.Email(), "msg-low", promptqueue.Low)
	queue.Push(p.Email(), "msg-high", promptqueue.High)
	if p.Status() != ProcessingHP {
		t.Fatalf("expected ProcessingHP to take priority over a pending low-priority item, got %s", p.Status())
	}
}

func TestCancelIsTerminalRegardlessOfQueueDepth(t *testing.T) {
	p, queue := newTestProcessor(0, 50_000)
	queue.Push(p.Email(), "msg-1", promptqueue.High)
	p.Cancel()
	if p.Status() != Cancelled {
		t.Fatalf("expected Cancelled to override queue depth, got %s", p.Status())
	}
	if !p.Status().Terminal() {
		t.Fatalf("expected Cancelled to be a terminal status")
	}
}

func TestRunStopsImmediatelyWhenContextAlreadyCancelled(t *testing.T) {
	p, _ := newTestProcessor(0, 50_000)
	p.deps.Mail = noopProvider{}

	done := make(chan struct{})
	ctx, cancel := newCancelledContext()
	defer cancel()
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return promptly once the context is cancelled")
	}
	if !p.HasStoppedQueueing() {
		t.Fatalf("expected Run to mark stoppedQueueing on exit")
	}
}
