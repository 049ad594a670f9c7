package telemetry

import (
	"mailclerk/internal/activemap"
	"mailclerk/internal/processor"
	"mailclerk/internal/promptqueue"
	"mailclerk/internal/ratelimit"
)

// boolFloat renders a bool as a Prometheus-friendly 0/1 gauge value.
func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Report samples the live queue, active map and rate limiters into the
// package's gauges, the body of the scheduler's every-5-seconds status
// tick.
func Report(queue *promptqueue.Queue, procs *activemap.Map, limiters *ratelimit.Limiters) {
	QueueInProcessing.Set(float64(queue.NumInProcessing()))

	entries := procs.Entries()
	ActiveProcessors.Set(float64(len(entries)))
	EmailsProcessedTotal.Set(float64(procs.TotalEmailsProcessed()))

	counts := map[processor.Status]int{}
	var high, low int
	for _, p := range entries {
		counts[p.Status()]++
		high += queueDepthFor(queue, p, promptqueue.High)
		low += queueDepthFor(queue, p, promptqueue.Low)
	}
	QueueDepthHigh.Set(float64(high))
	QueueDepthLow.Set(float64(low))
	for _, status := range []processor.Status{
		processor.Idle, processor.ProcessingHP, processor.ProcessingLP,
		processor.Cancelled, processor.Failed, processor.QuotaExceeded,
	} {
		ProcessorsByStatus.WithLabelValues(status.String()).Set(float64(counts[status]))
	}

	if limiters != nil {
		RateLimiterBalance.WithLabelValues("mail").Set(limiters.Mail.Balance())
		RateLimiterBalance.WithLabelValues("classification").Set(limiters.Classification.Balance())
		RateLimiterBackoffActive.WithLabelValues("mail").Set(boolFloat(limiters.Mail.BackoffActive()))
		RateLimiterBackoffActive.WithLabelValues("classification").Set(boolFloat(limiters.Classification.BackoffActive()))
	}
}

func queueDepthFor(queue *promptqueue.Queue, p *processor.Processor, priority promptqueue.Priority) int {
	if priority == promptqueue.High {
		return queue.NumHighPriorityInQueue(p.Email())
	}
	return queue.NumLowPriorityInQueue(p.Email())
}
