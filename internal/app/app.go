// Package app wires every component into one running process: the
// persistence gateway, credential store, rate limiters, classification
// client, priority queue, active processor map, worker pool,
// scheduler, session stash, and the small HTTP surface, grounded on
// the teacher's own App struct/New/Close/Serve shape.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailclerk/internal/activemap"
	"mailclerk/internal/auth"
	"mailclerk/internal/classify"
	"mailclerk/internal/config"
	"mailclerk/internal/credentials"
	"mailclerk/internal/httpapi"
	"mailclerk/internal/mailprovider"
	"mailclerk/internal/processor"
	"mailclerk/internal/promptqueue"
	"mailclerk/internal/ratelimit"
	"mailclerk/internal/rules"
	"mailclerk/internal/scheduler"
	"mailclerk/internal/sessionstore"
	"mailclerk/internal/store"
	"mailclerk/internal/telemetry"
	"mailclerk/internal/worker"
)

type App struct {
	Config       config.Config
	Store        *store.Store
	Limiters     *ratelimit.Limiters
	Queue        *promptqueue.Queue
	ActiveMap    *activemap.Map
	Credentials  *credentials.Service
	Classifier   *classify.Client
	Worker       *worker.Pool
	Scheduler    *scheduler.Scheduler
	SessionStore *sessionstore.Store
	HTTP         *httpapi.Server
	Registry     *prometheus.Registry
	Logger       *slog.Logger
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := slog.Default()

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, st.DB()); err != nil {
		return nil, err
	}

	cipher, err := credentials.NewCipher(cfg.Crypto.KeyBase64)
	if err != nil {
		return nil, err
	}
	refresher := credentials.NewHTTPRefresher(cfg.OAuth.TokenURL, cfg.OAuth.ClientID, cfg.OAuth.ClientSecret)
	credService := credentials.NewService(st, cipher, refresher)

	limiters := ratelimit.New(
		cfg.MailProvider.RateLimitPerSec,
		cfg.Classifier.RateLimitPerMin, cfg.Classifier.RefillAmount, cfg.Classifier.RefillInterval,
	)

	classifier := classify.NewClient(
		cfg.Classifier.BaseURL, cfg.Classifier.APIKey, cfg.Classifier.ModelID,
		float32(cfg.Classifier.Temperature), cfg.Classifier.ConfidenceThresh,
		limiters.Classification,
	)

	queue := promptqueue.New()
	activeMap := activemap.New(func(ctx context.Context, p *processor.Processor) {
		go p.Run(ctx)
	})

	sessionStore, err := sessionstore.New(cfg.Redis.URL, cfg.Redis.SessionTTL)
	if err != nil {
		return nil, err
	}

	authService := auth.NewService(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Audience)

	defaultCategories := configCategories(cfg.Categories)
	heuristicCategories := configCategories(cfg.Heuristics)

	buildDeps := func(ctx context.Context, user store.UserAccount, tokensUsed int64) (processor.Deps, error) {
		set, err := effectiveRuleSet(ctx, st, user.ID, defaultCategories, heuristicCategories)
		if err != nil {
			return processor.Deps{}, err
		}

		inboxByCategory, err := inboxSettings(ctx, st, user.ID)
		if err != nil {
			return processor.Deps{}, err
		}

		mailAdapter, err := mailprovider.NewHTTPAdapter(cfg.MailProvider.BaseURL, user.ID, credService, limiters.Mail)
		if err != nil {
			return processor.Deps{}, err
		}

		return processor.Deps{
			Mail:            mailAdapter,
			Classifier:      classifier,
			Queue:           queue,
			Store:           st,
			Rules:           set,
			InboxByCategory: inboxByCategory,
			DailyQuota:      user.DailyQuota,
			TrainingMode:    cfg.Settings.TrainingMode,
			Logger:          logger,
		}, nil
	}

	sched := scheduler.New(&scheduler.Scheduler{
		Store:        st,
		ActiveMap:    activeMap,
		Queue:        queue,
		Limiters:     limiters,
		SessionStore: sessionStore,
		BuildDeps:    buildDeps,
		Logger:       logger,
	})

	pool := &worker.Pool{
		Queue:  queue,
		Map:    activeMap,
		Size:   worker.Size(cfg.MailProvider.RateLimitPerSec),
		Logger: logger,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(telemetry.All()...)

	httpServer := &httpapi.Server{
		Store:     st,
		ActiveMap: activeMap,
		Queue:     queue,
		Limiters:  limiters,
		Auth:      authService,
	}

	return &App{
		Config:       cfg,
		Store:        st,
		Limiters:     limiters,
		Queue:        queue,
		ActiveMap:    activeMap,
		Credentials:  credService,
		Classifier:   classifier,
		Worker:       pool,
		Scheduler:    sched,
		SessionStore: sessionStore,
		HTTP:         httpServer,
		Registry:     registry,
		Logger:       logger,
	}, nil
}

func (a *App) Close() error {
	if a.SessionStore != nil {
		_ = a.SessionStore.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

// Run starts the scheduler and blocks running the worker pool until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.Scheduler.Stop()
	a.Worker.Run(ctx)
	return ctx.Err()
}

// Serve runs the HTTP surface (health, readiness, status, metrics)
// until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	mux := a.HTTP.Mux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func configCategories(items []config.CategoryConfig) []rules.Category {
	out := make([]rules.Category, 0, len(items))
	for _, c := range items {
		out = append(out, rules.Category{
			Content:            c.Content,
			MailLabel:          c.MailLabel,
			ProviderCategories: c.ProviderCategories,
			Important:          c.Important,
		})
	}
	return out
}

func storeRuleCategories(rows []store.EmailRule) []rules.Category {
	out := make([]rules.Category, 0, len(rows))
	for _, r := range rows {
		out = append(out, rules.Category{
			Content:            r.PromptContent,
			MailLabel:          r.MailLabel,
			ProviderCategories: r.ProviderCategories,
		})
	}
	return out
}

// effectiveRuleSet computes one user's rule set: config defaults minus
// their disabled overrides, plus their DB-stored customs, plus the
// config heuristics.
func effectiveRuleSet(ctx context.Context, st *store.Store, userID string, defaults, heuristics []rules.Category) (rules.Set, error) {
	disabledNames, err := st.ListDisabledDefaultRuleNames(ctx, userID)
	if err != nil {
		return rules.Set{}, err
	}
	disabled := make(map[string]struct{}, len(disabledNames))
	for _, name := range disabledNames {
		disabled[name] = struct{}{}
	}

	customRows, err := st.ListCustomRules(ctx, userID)
	if err != nil {
		return rules.Set{}, err
	}

	return rules.EffectiveSet(defaults, disabled, storeRuleCategories(customRows), heuristics), nil
}

func inboxSettings(ctx context.Context, st *store.Store, userID string) (map[string]store.CategoryInboxSetting, error) {
	rows, err := st.ListInboxSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.CategoryInboxSetting, len(rows))
	for _, r := range rows {
		out[r.Category] = r
	}
	if len(out) == 0 {
		for _, d := range rules.DefaultInboxSettings() {
			out[d.Category] = store.CategoryInboxSetting{UserID: userID, Category: d.Category, SkipInbox: d.SkipInbox, MarkSpam: d.MarkSpam}
		}
	}
	return out, nil
}
