package worker

import (
	"context"
	"testing"
	"time"

	"mailclerk/internal/activemap"
	"mailclerk/internal/processor"
	"mailclerk/internal/promptqueue"
)

func TestSizeFloorsAtOne(t *testing.T) {
	if got := Size(0.2); got != 1 {
		t.Fatalf("expected floor of 1, got %d", got)
	}
	if got := Size(5); got != 9 {
		t.Fatalf("expected 5*2-1=9, got %d", got)
	}
}

func TestRunDrainsUnknownProcessorEntryWithoutBlocking(t *testing.T) {
	queue := promptqueue.New()
	activeMap := activemap.New(func(ctx context.Context, p *processor.Processor) {})
	queue.Push("nobody@example.com", "msg-1", promptqueue.High)

	pool := &Pool{Queue: queue, Map: activeMap, Size: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for queue.NumInQueue("nobody@example.com") != 0 {
		select {
		case <-deadline:
			t.Fatalf("expected the unowned entry to be popped off the queue")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
