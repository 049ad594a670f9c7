// Package processor implements the per-user state machine that drives
// one mailbox: discover candidate messages, enqueue them by priority,
// classify, label, persist, and tally token usage.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"mailclerk/internal/classify"
	"mailclerk/internal/mailprovider"
	"mailclerk/internal/promptqueue"
	"mailclerk/internal/rules"
	"mailclerk/internal/store"
)

// Status is the processor's observable lifecycle state.
type Status int

const (
	Idle Status = iota
	ProcessingHP
	ProcessingLP
	Cancelled
	Failed
	QuotaExceeded
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case ProcessingHP:
		return "ProcessingHP"
	case ProcessingLP:
		return "ProcessingLP"
	case Cancelled:
		return "Cancelled"
	case Failed:
		return "Failed"
	case QuotaExceeded:
		return "QuotaExceeded"
	default:
		return "Unknown"
	}
}

// Terminal reports whether status can never transition again.
func (s Status) Terminal() bool {
	return s == Cancelled || s == Failed || s == QuotaExceeded
}

// lowPriorityReserve is the quota headroom a Low-priority message must
// leave untouched, reserved for High-priority work.
const lowPriorityReserve = 100_000

const recentMessageWindow = 14 * 24 * time.Hour

const maxUnprocessedCandidates = 500

const tickInterval = 60 * time.Second

// Enrollment is the input to New: the user account plus the token
// tally already consumed today, read once at creation time.
type Enrollment struct {
	User                store.UserAccount
	TokensConsumedToday int64
}

// Deps bundles the collaborators a processor needs to run. All fields
// are required except TrainingMode/Now/Logger which default sensibly.
type Deps struct {
	Mail        mailprovider.Provider
	Classifier  *classify.Client
	Queue       *promptqueue.Queue
	Store       *store.Store
	Rules       rules.Set
	InboxByCategory map[string]store.CategoryInboxSetting
	DailyQuota  int64
	TrainingMode bool
	Now         func() time.Time
	Logger      *slog.Logger
}

// Processor is one user's live mailbox-processing state machine. All
// counters are atomics: multiple workers may call process concurrently
// for different messages belonging to this user.
type Processor struct {
	userID string
	email  string
	deps   Deps

	tokenCount    atomic.Int64
	processedCnt  atomic.Int64
	failedCnt     atomic.Int64
	cancelled     atomic.Bool
	failedFlag    atomic.Bool
	quotaExceeded atomic.Bool
	stoppedQueueing atomic.Bool

	createdAt time.Time
}

func New(enrollment Enrollment, deps Deps) *Processor {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	p := &Processor{
		userID:    enrollment.User.ID,
		email:     enrollment.User.Email,
		deps:      deps,
		createdAt: deps.Now(),
	}
	p.tokenCount.Store(enrollment.TokensConsumedToday)
	if enrollment.TokensConsumedToday >= deps.DailyQuota {
		p.quotaExceeded.Store(true)
	}
	return p
}

func (p *Processor) Email() string            { return p.email }
func (p *Processor) UserID() string           { return p.userID }
func (p *Processor) CreatedAt() time.Time     { return p.createdAt }
func (p *Processor) CurrentTokenUsage() int64 { return p.tokenCount.Load() }
func (p *Processor) ProcessedCount() int64    { return p.processedCnt.Load() }
func (p *Processor) FailedCount() int64       { return p.failedCnt.Load() }
func (p *Processor) HasStoppedQueueing() bool { return p.stoppedQueueing.Load() }

func (p *Processor) Status() Status {
	switch {
	case p.cancelled.Load():
		return Cancelled
	case p.failedFlag.Load():
		return Failed
	case p.quotaExceeded.Load():
		return QuotaExceeded
	case p.deps.Queue.NumHighPriorityInQueue(p.email) > 0:
		return ProcessingHP
	case p.deps.Queue.NumLowPriorityInQueue(p.email) > 0:
		return ProcessingLP
	default:
		return Idle
	}
}

// Cancel requests cooperative shutdown. The processor finishes any
// message a worker currently holds but stops queueing new work on its
// next tick.
func (p *Processor) Cancel() {
	p.cancelled.Store(true)
}

func (p *Processor) setFailed() {
	p.failedFlag.Store(true)
}

// Run is the processor's main loop: ensure labels once, then tick every
// 60s discovering and enqueueing candidate messages until a terminal
// condition is reached. Run returns when the processor stops, whatever
// the reason; it never restarts itself.
func (p *Processor) Run(ctx context.Context) {
	defer p.stoppedQueueing.Store(true)

	requiredNames := mailprovider.RequiredLabelNames(
		p.deps.Rules.MailLabelNames(), heuristicLabelNames(p.deps.Rules), cleanupLabelNames(p.deps.InboxByCategory))
	if _, err := p.deps.Mail.EnsureLabels(ctx, requiredNames); err != nil {
		p.deps.Logger.Error("ensure_labels failed on processor start", "user", p.email, "error", err)
		p.setFailed()
		return
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.cancelled.Load() || p.quotaExceeded.Load() || p.failedFlag.Load() {
				return
			}
			if p.deps.Queue.NumHighPriorityInQueue(p.email) == 0 {
				added, err := p.queueRecentEmails(ctx)
				if err != nil {
					p.deps.Logger.Warn("queue_recent_emails failed", "user", p.email, "error", err)
				}
				if added == 0 && p.tokenCount.Load() < p.deps.DailyQuota/2 {
					if _, err := p.queueOlderEmails(ctx); err != nil {
						p.deps.Logger.Warn("queue_older_emails failed", "user", p.email, "error", err)
					}
				}
			}
		}
	}
}

func (p *Processor) queueRecentEmails(ctx context.Context) (int, error) {
	return p.queueCandidates(ctx, mailprovider.ListOptions{MoreRecentThan: recentMessageWindow}, promptqueue.High)
}

func (p *Processor) queueOlderEmails(ctx context.Context) (int, error) {
	return p.queueCandidates(ctx, mailprovider.ListOptions{}, promptqueue.Low)
}

func (p *Processor) queueCandidates(ctx context.Context, opts mailprovider.ListOptions, priority promptqueue.Priority) (int, error) {
	added := 0
	pageToken := ""
	for {
		opts.PageToken = pageToken
		result, err := p.deps.Mail.ListMessages(ctx, opts)
		if err != nil {
			return added, err
		}
		unprocessed, err := p.deps.Store.UnprocessedMessageIDs(ctx, p.userID, result.IDs)
		if err != nil {
			return added, err
		}
		for _, id := range unprocessed {
			if p.deps.Queue.Push(p.email, id, priority) {
				added++
			}
			if added >= maxUnprocessedCandidates {
				return added, nil
			}
		}
		if result.NextPageToken == "" {
			return added, nil
		}
		pageToken = result.NextPageToken
	}
}

// Process handles one popped queue entry. It is safe to call
// concurrently for distinct message ids belonging to this processor.
func (p *Processor) Process(ctx context.Context, msgID string, priority promptqueue.Priority) {
	if p.cancelled.Load() || p.failedFlag.Load() || p.quotaExceeded.Load() {
		return
	}
	remaining := p.deps.DailyQuota - p.tokenCount.Load()
	if priority == promptqueue.Low && remaining < lowPriorityReserve {
		return
	}

	raw, err := p.deps.Mail.GetMessage(ctx, msgID)
	if err != nil {
		p.deps.Logger.Warn("get_message failed", "user", p.email, "message", msgID, "error", err)
		return
	}
	from, subject, bodyHTML, bodyText := mailprovider.ParseRaw(raw)
	body := bodyHTML
	if body == "" {
		body = bodyText
	}
	msg := mailprovider.Sanitize(raw, from, subject, body)

	result, err := p.deps.Classifier.Classify(ctx, msg, p.deps.Rules.ContentNames())
	if err != nil {
		p.deps.Logger.Warn("classify failed", "user", p.email, "message", msgID, "error", err)
		return
	}

	category := p.deps.Rules.Lookup(result.Category)
	heuristicsUsed := false
	if override, applied := p.deps.Rules.ApplyHeuristics(msg.From, category); applied {
		category = override
		heuristicsUsed = true
	}

	inbox := p.deps.InboxByCategory[category.MailLabel]
	effective := mailprovider.EffectiveCategory{
		MailLabel:          category.MailLabel,
		ProviderCategories: category.ProviderCategories,
		Important:          category.Important,
		SkipInbox:          inbox.SkipInbox,
		MarkSpam:           inbox.MarkSpam,
	}

	labelUpdate, err := p.deps.Mail.ApplyLabelUpdate(ctx, msgID, msg.LabelIDs, effective)
	if err != nil {
		requiredNames := mailprovider.RequiredLabelNames(
			p.deps.Rules.MailLabelNames(), heuristicLabelNames(p.deps.Rules), cleanupLabelNames(p.deps.InboxByCategory))
		if _, repairErr := p.deps.Mail.EnsureLabels(ctx, requiredNames); repairErr != nil {
			p.deps.Logger.Error("label repair failed", "user", p.email, "message", msgID, "error", repairErr)
			p.setFailed()
			return
		}
		p.deps.Logger.Warn("apply_label_update failed, repaired labels, message picked up next tick", "user", p.email, "message", msgID, "error", err)
		return
	}

	if p.deps.TrainingMode {
		if err := p.deps.Store.UpsertEmailTraining(ctx, store.EmailTraining{
			MessageID:      msgID,
			From:           msg.From,
			Subject:        msg.Subject,
			Body:           msg.Body,
			AIAnswer:       category.Content,
			Confidence:     result.Confidence,
			HeuristicsUsed: heuristicsUsed,
		}); err != nil {
			p.deps.Logger.Warn("email training upsert failed", "user", p.email, "message", msgID, "error", err)
		}
	}

	err = p.deps.Store.InsertProcessedEmail(ctx, store.ProcessedEmail{
		MessageID:     msgID,
		UserID:        p.userID,
		Category:      category.MailLabel,
		LabelsApplied: labelUpdate.Added,
		LabelsRemoved: labelUpdate.Removed,
		AIAnswer:      category.Content,
		TokenCost:     result.TokensUsed,
		ProcessedAt:   p.deps.Now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyProcessed) {
			p.deps.Logger.Warn("message already processed", "user", p.email, "message", msgID)
		} else {
			p.deps.Logger.Error("insert processed email failed", "user", p.email, "message", msgID, "error", err)
			p.failedCnt.Add(1)
			p.setFailed()
			return
		}
	}

	p.processedCnt.Add(1)
	p.tokenCount.Add(result.TokensUsed)
	total, err := p.deps.Store.AddUserTokenUsage(ctx, p.userID, p.deps.Now(), result.TokensUsed)
	if err != nil {
		p.deps.Logger.Error("token usage tally failed", "user", p.email, "error", err)
		return
	}
	p.tokenCount.Store(total)
	if total >= p.deps.DailyQuota {
		p.quotaExceeded.Store(true)
	}
}

func heuristicLabelNames(set rules.Set) []string {
	names := make([]string, 0, len(set.Heuristics))
	for _, h := range set.Heuristics {
		names = append(names, h.MailLabel)
	}
	return names
}

func cleanupLabelNames(inboxByCategory map[string]store.CategoryInboxSetting) []string {
	names := make([]string, 0, len(inboxByCategory))
	for category := range inboxByCategory {
		names = append(names, category)
	}
	return names
}
