package mailprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"mailclerk/internal/ratelimit"
)

// Provider is the contract the rest of the engine depends on. A single
// concrete HTTP adapter implements it in production; tests substitute a
// fake so the processor's control flow can be exercised without network
// I/O.
type Provider interface {
	ListMessages(ctx context.Context, opts ListOptions) (ListResult, error)
	GetMessage(ctx context.Context, id string) (RawMessage, error)
	GetLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, name string) (Label, error)
	DeleteLabel(ctx context.Context, id string) error
	ApplyLabelUpdate(ctx context.Context, msgID string, currentLabels []string, category EffectiveCategory) (LabelUpdate, error)
	EnsureLabels(ctx context.Context, requiredNames []string) (changed bool, err error)
	TrashMessage(ctx context.Context, id string) error
	ArchiveMessage(ctx context.Context, id string) error
	WatchMailbox(ctx context.Context) error
}

// TokenSource supplies a fresh bearer token for the calling user; bound
// to the Credential Store's get_fresh_access_token operation.
type TokenSource interface {
	GetFreshAccessToken(ctx context.Context, userID string) (string, error)
}

// HTTPAdapter is the production Provider: fronts every call with the
// mail leaky bucket, a circuit breaker, and an LRU label-name-to-id
// cache so apply_label_update does not round-trip get_labels on every
// message.
type HTTPAdapter struct {
	baseURL    string
	userID     string
	tokens     TokenSource
	httpClient *http.Client
	limiter    *ratelimit.Bucket
	breaker    *gobreaker.CircuitBreaker
	labelCache *lru.Cache[string, string]
}

func NewHTTPAdapter(baseURL, userID string, tokens TokenSource, limiter *ratelimit.Bucket) (*HTTPAdapter, error) {
	cache, err := lru.New[string, string](512)
	if err != nil {
		return nil, err
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mail-provider",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
	return &HTTPAdapter{
		baseURL:    baseURL,
		userID:     userID,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		breaker:    breaker,
		labelCache: cache,
	}, nil
}

// do acquires a rate-limit token, then executes req through the circuit
// breaker, surfacing provider errors mapped to the ProviderError
// taxonomy. RateLimited errors trigger the bucket's global back-off.
func (a *HTTPAdapter) do(ctx context.Context, method, path string, body any, out any) error {
	if err := a.limiter.AcquireOne(ctx); err != nil {
		return err
	}

	accessToken, err := a.tokens.GetFreshAccessToken(ctx, a.userID)
	if err != nil {
		return err
	}

	_, err = a.breaker.Execute(func() (any, error) {
		var reader *bytes.Reader
		if body != nil {
			payload, merr := json.Marshal(body)
			if merr != nil {
				return nil, merr
			}
			reader = bytes.NewReader(payload)
		} else {
			reader = bytes.NewReader(nil)
		}

		req, rerr := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, derr := a.httpClient.Do(req)
		if derr != nil {
			return nil, derr
		}
		defer resp.Body.Close()

		if resp.StatusCode == 409 {
			// idempotent create: caller treats this as success.
			return nil, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			provErr := ClassifyStatus(resp.StatusCode, fmt.Sprintf("%s %s failed", method, path))
			if provErr.Kind == RateLimited {
				a.limiter.TriggerBackoff()
			}
			return nil, provErr
		}
		if out != nil {
			if derr := json.NewDecoder(resp.Body).Decode(out); derr != nil {
				return nil, derr
			}
		}
		return nil, nil
	})
	return err
}

func (a *HTTPAdapter) ListMessages(ctx context.Context, opts ListOptions) (ListResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 500
	}
	path := fmt.Sprintf("/messages?maxResults=%d", maxResults)
	if opts.PageToken != "" {
		path += "&pageToken=" + opts.PageToken
	}
	if opts.LabelFilter != "" {
		path += "&labelIds=" + opts.LabelFilter
	}
	if opts.MoreRecentThan > 0 {
		cutoff := time.Now().Add(-opts.MoreRecentThan).Unix()
		path += fmt.Sprintf("&after=%d", cutoff)
	}

	var result ListResult
	if err := a.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return ListResult{}, err
	}
	return result, nil
}

func (a *HTTPAdapter) GetMessage(ctx context.Context, id string) (RawMessage, error) {
	var raw RawMessage
	if err := a.do(ctx, http.MethodGet, "/messages/"+id+"?format=RAW", nil, &raw); err != nil {
		return RawMessage{}, err
	}
	return raw, nil
}

func (a *HTTPAdapter) GetLabels(ctx context.Context) ([]Label, error) {
	var labels []Label
	if err := a.do(ctx, http.MethodGet, "/labels", nil, &labels); err != nil {
		return nil, err
	}
	for _, l := range labels {
		a.labelCache.Add(l.Name, l.ID)
	}
	return labels, nil
}

// CreateLabel is idempotent: a 409 from the provider ("already exists")
// is treated as a no-op success and the request echoed back unchanged.
func (a *HTTPAdapter) CreateLabel(ctx context.Context, name string) (Label, error) {
	full := labelNamespace
	if name != "" {
		full = Namespaced(name)
	}
	label := Label{Name: full}
	if err := a.do(ctx, http.MethodPost, "/labels", map[string]string{"name": full}, &label); err != nil {
		return Label{}, err
	}
	if label.Name == "" {
		label.Name = full
	}
	if label.ID != "" {
		a.labelCache.Add(label.Name, label.ID)
	}
	return label, nil
}

func (a *HTTPAdapter) DeleteLabel(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/labels/"+id, nil, nil)
}

func (a *HTTPAdapter) labelNameToIDMap(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	keys := a.labelCache.Keys()
	if len(keys) == 0 {
		if _, err := a.GetLabels(ctx); err != nil {
			return nil, err
		}
		keys = a.labelCache.Keys()
	}
	for _, k := range keys {
		if id, ok := a.labelCache.Get(k); ok {
			out[k] = id
		}
	}
	return out, nil
}

func (a *HTTPAdapter) ApplyLabelUpdate(ctx context.Context, msgID string, currentLabels []string, category EffectiveCategory) (LabelUpdate, error) {
	namespacedCategory := category
	namespacedCategory.MailLabel = Namespaced(category.MailLabel)

	labelMap, err := a.labelNameToIDMap(ctx)
	if err != nil {
		return LabelUpdate{}, err
	}

	addIDs, removeIDs, update, ok := BuildLabelUpdate(currentLabels, namespacedCategory, labelMap)
	if !ok {
		return LabelUpdate{}, &ProviderError{Kind: NotFound, Message: "label id not found for " + namespacedCategory.MailLabel}
	}

	body := map[string][]string{"addLabelIds": addIDs, "removeLabelIds": removeIDs}
	if err := a.do(ctx, http.MethodPost, "/messages/"+msgID+"/modify", body, nil); err != nil {
		return LabelUpdate{}, err
	}
	return update, nil
}

// EnsureLabels diffs requiredNames against what currently exists,
// creating anything missing. The parent namespace label is created
// first if absent. Returns whether anything changed so upstream callers
// know to refresh caches.
func (a *HTTPAdapter) EnsureLabels(ctx context.Context, requiredNames []string) (bool, error) {
	existing, err := a.labelNameToIDMap(ctx)
	if err != nil {
		return false, err
	}

	changed := false
	if _, ok := existing[labelNamespace]; !ok {
		if _, err := a.CreateLabel(ctx, ""); err == nil {
			changed = true
		}
	}

	for _, name := range requiredNames {
		full := Namespaced(name)
		if _, ok := existing[full]; ok {
			continue
		}
		if _, err := a.CreateLabel(ctx, name); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

func (a *HTTPAdapter) TrashMessage(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodPost, "/messages/"+id+"/trash", nil, nil)
}

func (a *HTTPAdapter) ArchiveMessage(ctx context.Context, id string) error {
	body := map[string][]string{"removeLabelIds": {"INBOX"}}
	return a.do(ctx, http.MethodPost, "/messages/"+id+"/modify", body, nil)
}

func (a *HTTPAdapter) WatchMailbox(ctx context.Context) error {
	return a.do(ctx, http.MethodPost, "/watch", nil, nil)
}
