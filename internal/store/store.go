// Package store is the Persistence Gateway: typed queries over users &
// quota, the processed-email idempotency record, training rows,
// token-usage counters, cleanup settings, and rule overrides.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"mailclerk/internal/credentials"
	"mailclerk/internal/emailaddr"
)
type Store struct {
	db *sql.DB
	q  queryer
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("missing database dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db, q: db}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) HealthSummary(ctx context.Context) (map[string]string, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return nil, err
	}
	return map[string]string{"database": "ok"}, nil
}

// UserAccount mirrors the UserAccount entity: created on OAuth
// completion, mutated by subscription webhooks and by the processor's
// last_sync update.
type UserAccount struct {
	ID                 string
	Email              string
	SubscriptionStatus string
	LastSync           sql.NullTime
	LastRuleUpdateTime time.Time
	DailyQuota         int64
	DailySummaryHour   int
	UTCOffsetMinutes   int
}

const (
	SubscriptionActive    = "Active"
	SubscriptionCancelled = "Cancelled"
)

// GetUserByEmail looks up a user by address, canonicalizing it first
// (lowercase, punycode domain) so "Alice@Example.com" and
// "alice@example.com", or a Unicode domain and its punycode form, key
// the same row. Addresses with a non-ASCII local part are rejected.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (UserAccount, error) {
	canonical, _, _, err := emailaddr.Canonicalize(email)
	if err != nil {
		return UserAccount{}, fmt.Errorf("invalid email %q: %w", email, err)
	}

	var u UserAccount
	row := s.q.QueryRowContext(ctx, `
		SELECT id, email, subscription_status, last_sync, last_rule_update_time, daily_quota, daily_summary_hour, utc_offset_minutes
		FROM user_accounts WHERE email = $1`, canonical)
	if err := row.Scan(&u.ID, &u.Email, &u.SubscriptionStatus, &u.LastSync, &u.LastRuleUpdateTime, &u.DailyQuota, &u.DailySummaryHour, &u.UTCOffsetMinutes); err != nil {
		return u, err
	}
	return u, nil
}

// GetUserByID looks up a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (UserAccount, error) {
	var u UserAccount
	row := s.q.QueryRowContext(ctx, `
		SELECT id, email, subscription_status, last_sync, last_rule_update_time, daily_quota, daily_summary_hour, utc_offset_minutes
		FROM user_accounts WHERE id = $1`, id)
	if err := row.Scan(&u.ID, &u.Email, &u.SubscriptionStatus, &u.LastSync, &u.LastRuleUpdateTime, &u.DailyQuota, &u.DailySummaryHour, &u.UTCOffsetMinutes); err != nil {
		return u, err
	}
	return u, nil
}

// ListEligibleUsers returns users with an active subscription and
// remaining quota, the enrollment candidate set for the scheduler's
// every-minute job.
func (s *Store) ListEligibleUsers(ctx context.Context, now time.Time) ([]UserAccount, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT u.id, u.email, u.subscription_status, u.last_sync, u.last_rule_update_time, u.daily_quota, u.daily_summary_hour, u.utc_offset_minutes
		FROM user_accounts u
		LEFT JOIN user_token_usage t ON t.user_id = u.id AND t.date = $1
		WHERE u.subscription_status = $2
		  AND coalesce(t.tokens_consumed, 0) < u.daily_quota
		ORDER BY u.email ASC`, now.UTC().Format("2006-01-02"), SubscriptionActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []UserAccount
	for rows.Next() {
		var u UserAccount
		if err := rows.Scan(&u.ID, &u.Email, &u.SubscriptionStatus, &u.LastSync, &u.LastRuleUpdateTime, &u.DailyQuota, &u.DailySummaryHour, &u.UTCOffsetMinutes); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListAllUsers returns every account regardless of subscription state,
// used by the daily-digest job to find whose local digest hour it is.
func (s *Store) ListAllUsers(ctx context.Context) ([]UserAccount, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, email, subscription_status, last_sync, last_rule_update_time, daily_quota, daily_summary_hour, utc_offset_minutes
		FROM user_accounts ORDER BY email ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []UserAccount
	for rows.Next() {
		var u UserAccount
		if err := rows.Scan(&u.ID, &u.Email, &u.SubscriptionStatus, &u.LastSync, &u.LastRuleUpdateTime, &u.DailyQuota, &u.DailySummaryHour, &u.UTCOffsetMinutes); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateLastSync(ctx context.Context, userID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `UPDATE user_accounts SET last_sync = $2 WHERE id = $1`, userID, at)
	return err
}

// --- AccountAccess: satisfies credentials.Store. ---

func (s *Store) GetAccountAccess(ctx context.Context, userID string) (credentials.AccountAccess, error) {
	var a credentials.AccountAccess
	row := s.q.QueryRowContext(ctx, `
		SELECT user_id, user_email, access_token_enc, refresh_token_enc, expires_at
		FROM account_access WHERE user_id = $1`, userID)
	if err := row.Scan(&a.UserID, &a.UserEmail, &a.AccessTokenEnc, &a.RefreshTokenEnc, &a.ExpiresAt); err != nil {
		return a, err
	}
	return a, nil
}

func (s *Store) UpdateAccessToken(ctx context.Context, userID string, accessTokenEnc string, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE account_access SET access_token_enc = $2, expires_at = $3 WHERE user_id = $1`,
		userID, accessTokenEnc, expiresAt)
	return err
}

// --- ProcessedEmail ---

type ProcessedEmail struct {
	MessageID     string
	UserID        string
	Category      string
	LabelsApplied []string
	LabelsRemoved []string
	AIAnswer      string
	TokenCost     int64
	ProcessedAt   time.Time
}

// ErrAlreadyProcessed is returned (not re-raised) when a unique-key
// violation on ProcessedEmail.message_id is downgraded to a soft
// success, per the idempotency invariant.
var ErrAlreadyProcessed = errors.New("store: message already processed")

const pgUniqueViolation = "23505"

func (s *Store) InsertProcessedEmail(ctx context.Context, row ProcessedEmail) error {
	applied, err := json.Marshal(row.LabelsApplied)
	if err != nil {
		return err
	}
	removed, err := json.Marshal(row.LabelsRemoved)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO processed_emails (message_id, user_id, category, labels_applied, labels_removed, ai_answer, token_cost, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		row.MessageID, row.UserID, row.Category, applied, removed, row.AIAnswer, row.TokenCost, row.ProcessedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrAlreadyProcessed
		}
		return err
	}
	return nil
}

func (s *Store) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	row := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM processed_emails WHERE message_id = $1)`, messageID)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// UnprocessedMessageIDs filters candidateIDs down to those with no
// ProcessedEmail row, preserving input order.
func (s *Store) UnprocessedMessageIDs(ctx context.Context, userID string, candidateIDs []string) ([]string, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}
	placeholders, args := placeholderList(2, candidateIDs)
	query := `SELECT message_id FROM processed_emails WHERE user_id = $1 AND message_id IN (` + placeholders + `)`
	rows, err := s.q.QueryContext(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	processed := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		processed[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var unprocessed []string
	for _, id := range candidateIDs {
		if _, done := processed[id]; !done {
			unprocessed = append(unprocessed, id)
		}
	}
	return unprocessed, nil
}

func (s *Store) ListProcessedSince(ctx context.Context, userID string, since time.Time) ([]ProcessedEmail, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT message_id, user_id, category, labels_applied, labels_removed, ai_answer, token_cost, processed_at
		FROM processed_emails
		WHERE user_id = $1 AND processed_at >= $2
		ORDER BY processed_at DESC`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProcessedEmail
	for rows.Next() {
		var p ProcessedEmail
		var applied, removed []byte
		if err := rows.Scan(&p.MessageID, &p.UserID, &p.Category, &applied, &removed, &p.AIAnswer, &p.TokenCost, &p.ProcessedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(applied, &p.LabelsApplied); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(removed, &p.LabelsRemoved); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// placeholderList builds a "$start,$start+1,..." placeholder clause for
// an IN (...) expression over values, starting numbering at start.
func placeholderList(start int, values []string) (string, []any) {
	placeholders := make([]byte, 0, len(values)*4)
	args := make([]any, len(values))
	for i, v := range values {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, []byte(fmt.Sprintf("$%d", start+i))...)
		args[i] = v
	}
	return string(placeholders), args
}

// --- EmailTraining ---

type EmailTraining struct {
	MessageID      string
	From           string
	Subject        string
	Body           string
	AIAnswer       string
	Confidence     float32
	HeuristicsUsed bool
}

func (s *Store) UpsertEmailTraining(ctx context.Context, row EmailTraining) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO email_training (message_id, "from", subject, body, ai_answer, confidence, heuristics_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO UPDATE SET
			"from" = EXCLUDED."from",
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			ai_answer = EXCLUDED.ai_answer,
			confidence = EXCLUDED.confidence,
			heuristics_used = EXCLUDED.heuristics_used`,
		row.MessageID, row.From, row.Subject, row.Body, row.AIAnswer, row.Confidence, row.HeuristicsUsed)
	return err
}

// --- UserTokenUsage ---

// AddUserTokenUsage atomically increments today's tally and returns the
// post-increment canonical value, which the processor writes back into
// its in-memory atomic counter.
func (s *Store) AddUserTokenUsage(ctx context.Context, userID string, date time.Time, delta int64) (int64, error) {
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO user_token_usage (user_id, date, tokens_consumed)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, date) DO UPDATE SET tokens_consumed = user_token_usage.tokens_consumed + EXCLUDED.tokens_consumed
		RETURNING tokens_consumed`, userID, date.UTC().Format("2006-01-02"), delta)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) GetUserTokenUsage(ctx context.Context, userID string, date time.Time) (int64, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT tokens_consumed FROM user_token_usage WHERE user_id = $1 AND date = $2`,
		userID, date.UTC().Format("2006-01-02"))
	var used int64
	if err := row.Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return used, nil
}

// TokenUsageCounter is one (user, date) row of the running daily
// tally the reconciliation job checks for drift against the
// processed_emails ledger.
type TokenUsageCounter struct {
	UserID string
	Date   time.Time
	Used   int64
}

func (s *Store) ListTokenUsageCounters(ctx context.Context) ([]TokenUsageCounter, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT user_id, date, tokens_consumed FROM user_token_usage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TokenUsageCounter
	for rows.Next() {
		var c TokenUsageCounter
		if err := rows.Scan(&c.UserID, &c.Date, &c.Used); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SumTokenCostForDay is the source of truth a usage counter is checked
// against: the total token_cost actually recorded in processed_emails
// for that user on that UTC day.
func (s *Store) SumTokenCostForDay(ctx context.Context, userID string, date time.Time) (int64, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(token_cost), 0) FROM processed_emails
		WHERE user_id = $1 AND processed_at >= $2 AND processed_at < $2::date + INTERVAL '1 day'`,
		userID, date.UTC().Format("2006-01-02"))
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

// SetUserTokenUsage overwrites a counter to an authoritative value,
// used only by the reconciliation job to repair drift.
func (s *Store) SetUserTokenUsage(ctx context.Context, userID string, date time.Time, used int64) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO user_token_usage (user_id, date, tokens_consumed)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, date) DO UPDATE SET tokens_consumed = EXCLUDED.tokens_consumed`,
		userID, date.UTC().Format("2006-01-02"), used)
	return err
}

// PurgeTokenUsageOlderThan deletes daily counters past the retention
// window and reports how many rows were removed.
func (s *Store) PurgeTokenUsageOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM user_token_usage WHERE date < $1`, cutoff.UTC().Format("2006-01-02"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- CleanupSetting ---

type CleanupAction string

const (
	CleanupNothing CleanupAction = "Nothing"
	CleanupArchive CleanupAction = "Archive"
	CleanupDelete  CleanupAction = "Delete"
)

type CleanupSetting struct {
	UserID       string
	Category     string
	Action       CleanupAction
	AgeThreshold time.Duration
}

func (s *Store) ListActiveCleanupSettings(ctx context.Context) ([]CleanupSetting, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT user_id, category, action, age_threshold_seconds
		FROM cleanup_settings WHERE action != $1`, CleanupNothing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CleanupSetting
	for rows.Next() {
		var c CleanupSetting
		var ageSeconds int64
		if err := rows.Scan(&c.UserID, &c.Category, &c.Action, &ageSeconds); err != nil {
			return nil, err
		}
		c.AgeThreshold = time.Duration(ageSeconds) * time.Second
		out = append(out, c)
	}
	return out, rows.Err()
}

// CandidatesForCleanup returns processed emails in category older than
// olderThan, excluding any message id in keepMessageIDs (a user-applied
// "keep" provider label).
func (s *Store) CandidatesForCleanup(ctx context.Context, userID, category string, olderThan time.Time, keepMessageIDs []string) ([]string, error) {
	base := `SELECT message_id FROM processed_emails WHERE user_id = $1 AND category = $2 AND processed_at < $3`
	args := []any{userID, category, olderThan}
	if len(keepMessageIDs) > 0 {
		placeholders, keepArgs := placeholderList(4, keepMessageIDs)
		base += ` AND message_id NOT IN (` + placeholders + `)`
		args = append(args, keepArgs...)
	}
	rows, err := s.q.QueryContext(ctx, base, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- EmailRule (defaults, disabled overrides, customs) ---

type EmailRule struct {
	ID                 string
	UserID             sql.NullString // NULL for a default rule
	PromptContent      string
	MailLabel          string
	ProviderCategories []string
}

func (s *Store) ListDefaultRules(ctx context.Context) ([]EmailRule, error) {
	return s.listRules(ctx, `SELECT id, user_id, prompt_content, mail_label, provider_categories FROM email_rules WHERE user_id IS NULL`)
}

func (s *Store) ListCustomRules(ctx context.Context, userID string) ([]EmailRule, error) {
	return s.listRules(ctx, `SELECT id, user_id, prompt_content, mail_label, provider_categories FROM email_rules WHERE user_id = $1`, userID)
}

func (s *Store) ListDisabledDefaultRuleNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT prompt_content FROM disabled_default_rules WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) listRules(ctx context.Context, query string, args ...any) ([]EmailRule, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmailRule
	for rows.Next() {
		var r EmailRule
		var categoriesJSON []byte
		if err := rows.Scan(&r.ID, &r.UserID, &r.PromptContent, &r.MailLabel, &categoriesJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(categoriesJSON, &r.ProviderCategories); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- CategoryInboxSetting (supplemented feature) ---

type CategoryInboxSetting struct {
	UserID    string
	Category  string
	SkipInbox bool
	MarkSpam  bool
}

func (s *Store) ListInboxSettings(ctx context.Context, userID string) ([]CategoryInboxSetting, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT user_id, category, skip_inbox, mark_spam
		FROM category_inbox_settings WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CategoryInboxSetting
	for rows.Next() {
		var c CategoryInboxSetting
		if err := rows.Scan(&c.UserID, &c.Category, &c.SkipInbox, &c.MarkSpam); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertInboxSetting(ctx context.Context, setting CategoryInboxSetting) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO category_inbox_settings (user_id, category, skip_inbox, mark_spam)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, category) DO UPDATE SET
			skip_inbox = EXCLUDED.skip_inbox,
			mark_spam = EXCLUDED.mark_spam`,
		setting.UserID, setting.Category, setting.SkipInbox, setting.MarkSpam)
	return err
}

// --- misc ---

func (s *Store) NewID() string { return uuid.NewString() }
