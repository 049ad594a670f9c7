package promptqueue

import "testing"

func TestPushDuplicateInFlightRejected(t *testing.T) {
	q := New()
	if ok := q.Push("u@x", "abc", High); !ok {
		t.Fatalf("expected first push to succeed")
	}
	if ok := q.Push("u@x", "abc", Low); ok {
		t.Fatalf("expected duplicate in-flight push to be rejected")
	}
	if got := q.NumInQueue("u@x"); got != 1 {
		t.Fatalf("expected queue length 1, got %d", got)
	}
}

func TestPopOrdersHighBeforeLow(t *testing.T) {
	q := New()
	q.Push("u@x", "low1", Low)
	q.Push("u@x", "high1", High)

	first := q.Pop()
	if first == nil || first.MsgID != "high1" {
		t.Fatalf("expected high1 popped first, got %+v", first)
	}
	second := q.Pop()
	if second == nil || second.MsgID != "low1" {
		t.Fatalf("expected low1 popped second, got %+v", second)
	}
}

func TestRemoveFromProcessingAllowsRepush(t *testing.T) {
	q := New()
	q.Push("u@x", "abc", High)
	entry := q.Pop()
	if entry == nil {
		t.Fatalf("expected entry")
	}
	if ok := q.Push("u@x", "abc", Low); ok {
		t.Fatalf("expected push to fail while still in-flight")
	}
	q.RemoveFromProcessing("abc")
	if ok := q.Push("u@x", "abc", Low); !ok {
		t.Fatalf("expected push to succeed after removal from processing")
	}
}

func TestPerEmailCountsTrackPriority(t *testing.T) {
	q := New()
	q.Push("u@x", "a", High)
	q.Push("u@x", "b", High)
	q.Push("u@x", "c", Low)

	if got := q.NumHighPriorityInQueue("u@x"); got != 2 {
		t.Fatalf("expected 2 high priority, got %d", got)
	}
	if got := q.NumLowPriorityInQueue("u@x"); got != 1 {
		t.Fatalf("expected 1 low priority, got %d", got)
	}

	q.Pop()
	if got := q.NumHighPriorityInQueue("u@x"); got != 1 {
		t.Fatalf("expected 1 high priority after pop, got %d", got)
	}
}

func TestNumInProcessingTracksOutstandingPops(t *testing.T) {
	q := New()
	q.Push("u@x", "a", High)
	q.Pop()
	if got := q.NumInProcessing(); got != 1 {
		t.Fatalf("expected 1 in processing, got %d", got)
	}
	q.RemoveFromProcessing("a")
	if got := q.NumInProcessing(); got != 0 {
		t.Fatalf("expected 0 in processing, got %d", got)
	}
}
