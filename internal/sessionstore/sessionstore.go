// Package sessionstore is the OAuth session stash: a short-lived
// Redis-backed record of state-token -> pending OAuth exchange, TTL'd
// and periodically swept, grounded on the teacher's redis/go-redis
// client wiring in internal/queue.
package sessionstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mailclerk:oauth-session:"

// Session is the pending-exchange record created when a user begins
// the OAuth flow and consumed when the provider redirects back.
type Session struct {
	State        string    `json:"state"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store wraps a redis client with the stash's TTL discipline. Expiry
// is enforced both by Redis's own key TTL and a server-side sweep
// (GC) for client versions that disable keyspace expiry events.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(url string, ttl time.Duration) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Store{client: redis.NewClient(opt), ttl: ttl}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Put stores sess under its state token with the configured TTL.
func (s *Store) Put(ctx context.Context, sess Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+sess.State, payload, s.ttl).Err()
}

// Take atomically reads and deletes the session for state, the
// single-use semantics an OAuth callback needs: a state token is
// redeemed exactly once.
func (s *Store) Take(ctx context.Context, state string) (Session, bool, error) {
	key := keyPrefix + state
	payload, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}

	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

// GC scans for stash keys and removes any whose TTL already lapsed
// (Redis expiry normally handles this; this is the belt-and-suspenders
// sweep the spec's "purge expired OAuth session stash" job runs every
// 180 seconds).
func (s *Store) GC(ctx context.Context) (int, error) {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return removed, err
		}
		for _, key := range keys {
			remaining, err := s.client.TTL(ctx, key).Result()
			if err != nil {
				continue
			}
			if remaining <= 0 {
				if err := s.client.Del(ctx, key).Err(); err == nil {
					removed++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}
