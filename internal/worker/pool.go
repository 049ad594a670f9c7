// Package worker implements the fixed-size pool that drains the prompt
// priority queue: pop an entry, hand it to the owning processor, free
// the in-flight slot. A supervisor restarts any task that exits
// unexpectedly; a panic escaping a task is fatal to the process, the
// same "dead worker is fatal" discipline the teacher applies to its
// queue consumers.
package worker

import (
	"context"
	"log/slog"
	"time"

	"mailclerk/internal/activemap"
	"mailclerk/internal/promptqueue"
)

const idleSleep = 500 * time.Millisecond

// Pool owns a fixed number of worker tasks draining queue into the
// processors registered in the map.
type Pool struct {
	Queue  *promptqueue.Queue
	Map    *activemap.Map
	Size   int
	Logger *slog.Logger
}

// Size computes the fixed pool size the spec's worker-pool section
// names: rate_limit_per_sec*2-1 tasks.
func Size(ratePerSec float64) int {
	n := int(ratePerSec*2) - 1
	if n < 1 {
		return 1
	}
	return n
}

// Run blocks until ctx is cancelled, keeping Size tasks alive the
// entire time: if a task goroutine returns (it does so only on ctx
// cancellation) the supervisor relaunches it, unless ctx is already
// done. A task that panics is logged and the panic re-raised, which
// ends the process.
func (p *Pool) Run(ctx context.Context) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan int, p.Size)
	launch := func(id int) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("worker task panicked, process must exit", "worker", id, "panic", r)
					panic(r)
				}
				done <- id
			}()
			p.runTask(ctx, id, logger)
		}()
	}

	for i := 0; i < p.Size; i++ {
		launch(i)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-done:
			select {
			case <-ctx.Done():
				return
			default:
				logger.Warn("worker task exited unexpectedly, restarting", "worker", id)
				launch(id)
			}
		}
	}
}

// runTask is the per-task loop from the spec's worker-pool section.
func (p *Pool) runTask(ctx context.Context, id int, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entry := p.Queue.Pop()
		if entry == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}

		proc, ok := p.Map.Get(entry.UserEmail)
		if ok {
			proc.Process(ctx, entry.MsgID, entry.Priority)
		} else {
			logger.Warn("popped entry for unknown processor", "worker", id, "user", entry.UserEmail, "message", entry.MsgID)
		}
		p.Queue.RemoveFromProcessing(entry.MsgID)
	}
}
