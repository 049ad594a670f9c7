// Package scheduler runs the cron-like jobs that drive enrollment,
// reaping, auto-cleanup, daily digests, and the two housekeeping
// sweeps (session GC, status telemetry), using robfig/cron/v3 the way
// the rest of this corpus validates and runs cron expressions, plus
// go.uber.org/multierr to aggregate per-job failures without losing
// any of them.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"mailclerk/internal/activemap"
	"mailclerk/internal/mailprovider"
	"mailclerk/internal/processor"
	"mailclerk/internal/promptqueue"
	"mailclerk/internal/ratelimit"
	"mailclerk/internal/sessionstore"
	"mailclerk/internal/store"
	"mailclerk/internal/telemetry"
)

const (
	enrolSchedule        = "0 * * * * *"
	reapSchedule         = "0 */30 * * * *"
	cleanupSchedule      = "0 0 * * * *"
	digestSchedule       = "0 * * * * *" // evaluated every minute, fires per user on its own local hour
	sessionGCSchedule    = "@every 180s"
	telemetrySchedule    = "@every 5s"
	cleanupWorkerCount   = 5
)

// BuildDeps constructs the per-user Deps processor.New needs, closing
// over the collaborators that do not vary per user (classifier, config)
// while building this user's rule set and a mail provider bound to this
// one user's token source.
type BuildDeps func(ctx context.Context, user store.UserAccount, tokensConsumedToday int64) (processor.Deps, error)

// Deliverer sends a user's daily digest; the scheduler only computes
// who is due and what to include (last 24h of processed mail), per the
// spec's "digest content itself is out of scope" note.
type Deliverer interface {
	Deliver(ctx context.Context, user store.UserAccount, processed []store.ProcessedEmail) error
}

type Scheduler struct {
	Store       *store.Store
	ActiveMap   *activemap.Map
	Queue       *promptqueue.Queue
	Limiters    *ratelimit.Limiters
	SessionStore *sessionstore.Store
	BuildDeps   BuildDeps
	Digest      Deliverer
	Logger      *slog.Logger

	cron *cron.Cron
	mu   sync.Mutex
	errs error
}

func New(s *Scheduler) *Scheduler {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	s.cron = cron.New(cron.WithSeconds())
	return s
}

// Start registers every job and starts the underlying cron runner. ctx
// governs job bodies, not the cron runner itself;
// call Stop to halt scheduling.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		schedule string
		run      func(context.Context)
	}{
		{enrolSchedule, s.enrolEligibleUsers},
		{reapSchedule, s.reapProcessors},
		{cleanupSchedule, s.autoCleanup},
		{digestSchedule, s.dailyDigest},
		{sessionGCSchedule, s.sessionGC},
		{telemetrySchedule, s.statusTelemetry},
	}

	for _, job := range jobs {
		run := job.run
		if _, err := s.cron.AddFunc(job.schedule, func() { run(ctx) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}

// recordErr aggregates a job failure without interrupting the
// scheduler: per spec §7, scheduled jobs log but never abort.
func (s *Scheduler) recordErr(job string, err error) {
	if err == nil {
		return
	}
	s.Logger.Error("scheduled job failed", "job", job, "error", err)
	s.mu.Lock()
	s.errs = multierr.Append(s.errs, err)
	s.mu.Unlock()
}

// Errs drains and returns every job error recorded since the last
// call, for a /status endpoint or test assertion to inspect.
func (s *Scheduler) Errs() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := s.errs
	s.errs = nil
	return errs
}

// enrolEligibleUsers is the every-minute job: find users with an
// active subscription and remaining quota, and insert each into the
// active map.
func (s *Scheduler) enrolEligibleUsers(ctx context.Context) {
	now := time.Now().UTC()
	users, err := s.Store.ListEligibleUsers(ctx, now)
	if err != nil {
		s.recordErr("enrol_users", err)
		return
	}
	for _, user := range users {
		used, err := s.Store.GetUserTokenUsage(ctx, user.ID, now)
		if err != nil {
			s.recordErr("enrol_users", err)
			continue
		}
		deps, err := s.BuildDeps(ctx, user, used)
		if err != nil {
			s.recordErr("enrol_users", err)
			continue
		}
		s.ActiveMap.Insert(ctx, processor.Enrollment{User: user, TokensConsumedToday: used}, deps)
	}
}

// reapProcessors is the every-30-minutes job: drop any processor whose
// status is terminal and that has stopped queueing new work.
func (s *Scheduler) reapProcessors(ctx context.Context) {
	stale := make(map[string]struct{})
	for _, p := range s.ActiveMap.Entries() {
		if p.Status().Terminal() && p.HasStoppedQueueing() {
			stale[p.Email()] = struct{}{}
		}
	}
	if len(stale) > 0 {
		s.ActiveMap.CleanupProcessors(stale)
	}
}

// autoCleanup is the hourly job: for every active cleanup rule, find
// candidate processed emails and drain them through a small worker
// pool performing trash/archive.
func (s *Scheduler) autoCleanup(ctx context.Context) {
	settings, err := s.Store.ListActiveCleanupSettings(ctx)
	if err != nil {
		s.recordErr("auto_cleanup", err)
		return
	}

	type task struct {
		userID, msgID string
		action        store.CleanupAction
	}
	tasks := make(chan task, 256)

	var wg sync.WaitGroup
	providers := make(map[string]mailprovider.Provider)
	keepIDs := make(map[string][]string)
	var providersMu sync.Mutex

	for i := 0; i < cleanupWorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				providersMu.Lock()
				provider := providers[t.userID]
				providersMu.Unlock()
				if provider == nil {
					continue
				}
				var err error
				switch t.action {
				case store.CleanupArchive:
					err = provider.ArchiveMessage(ctx, t.msgID)
				case store.CleanupDelete:
					err = provider.TrashMessage(ctx, t.msgID)
				}
				if err != nil {
					s.recordErr("auto_cleanup", err)
				}
			}
		}()
	}

	for _, setting := range settings {
		user, err := s.Store.GetUserByID(ctx, setting.UserID)
		if err != nil {
			s.recordErr("auto_cleanup", err)
			continue
		}
		providersMu.Lock()
		provider, ok := providers[setting.UserID]
		if !ok {
			deps, err := s.BuildDeps(ctx, user, 0)
			if err == nil {
				provider = deps.Mail
				providers[setting.UserID] = provider
				kept, kerr := keepLabeledMessageIDs(ctx, provider)
				if kerr != nil {
					s.recordErr("auto_cleanup", kerr)
				}
				keepIDs[setting.UserID] = kept
			} else {
				s.recordErr("auto_cleanup", err)
			}
		}
		providersMu.Unlock()

		olderThan := time.Now().UTC().Add(-setting.AgeThreshold)
		ids, err := s.Store.CandidatesForCleanup(ctx, setting.UserID, setting.Category, olderThan, keepIDs[setting.UserID])
		if err != nil {
			s.recordErr("auto_cleanup", err)
			continue
		}
		for _, id := range ids {
			tasks <- task{userID: setting.UserID, msgID: id, action: setting.Action}
		}
	}
	close(tasks)
	wg.Wait()
}

// keepLabeledMessageIDs lists every message currently carrying the
// "keep" utility label, so auto-cleanup can exclude them regardless of
// category or age (spec §4.9's "subtract any carrying a user-applied
// 'keep' provider label").
func keepLabeledMessageIDs(ctx context.Context, provider mailprovider.Provider) ([]string, error) {
	labels, err := provider.GetLabels(ctx)
	if err != nil {
		return nil, err
	}
	keepName := mailprovider.Namespaced(mailprovider.KeepLabelName)
	var keepLabelID string
	for _, l := range labels {
		if l.Name == keepName {
			keepLabelID = l.ID
			break
		}
	}
	if keepLabelID == "" {
		return nil, nil
	}

	var ids []string
	pageToken := ""
	for {
		result, err := provider.ListMessages(ctx, mailprovider.ListOptions{LabelFilter: keepLabelID, PageToken: pageToken})
		if err != nil {
			return ids, err
		}
		ids = append(ids, result.IDs...)
		if result.NextPageToken == "" {
			return ids, nil
		}
		pageToken = result.NextPageToken
	}
}

// dailyDigest runs every minute and fires for any user whose local
// digest hour matches the current UTC minute-0 hour, delivering their
// last 24h of processed mail.
func (s *Scheduler) dailyDigest(ctx context.Context) {
	if s.Digest == nil {
		return
	}
	now := time.Now().UTC()
	if now.Minute() != 0 {
		return
	}
	users, err := s.Store.ListAllUsers(ctx)
	if err != nil {
		s.recordErr("daily_digest", err)
		return
	}
	for _, user := range users {
		localHour := (now.Hour() + user.UTCOffsetMinutes/60 + 24) % 24
		if localHour != user.DailySummaryHour {
			continue
		}
		processed, err := s.Store.ListProcessedSince(ctx, user.ID, now.Add(-24*time.Hour))
		if err != nil {
			s.recordErr("daily_digest", err)
			continue
		}
		if err := s.Digest.Deliver(ctx, user, processed); err != nil {
			s.recordErr("daily_digest", err)
		}
	}
}

// sessionGC is the every-180-seconds job: purge expired OAuth session
// stash entries.
func (s *Scheduler) sessionGC(ctx context.Context) {
	if s.SessionStore == nil {
		return
	}
	if _, err := s.SessionStore.GC(ctx); err != nil {
		s.recordErr("session_gc", err)
	}
}

// statusTelemetry is the every-5-seconds job: sample the queue, active
// map and rate limiters into the Prometheus gauges.
func (s *Scheduler) statusTelemetry(ctx context.Context) {
	telemetry.Report(s.Queue, s.ActiveMap, s.Limiters)
}
