// Package classify is the Classification Client: sends a structured
// prompt to a remote language model and parses its answer into a
// {category, confidence, tokens_used} triple, falling back to regex
// extraction when the model's content is not strict JSON.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sony/gobreaker"

	"mailclerk/internal/mailprovider"
	"mailclerk/internal/ratelimit"
)

// Result is the Classification Client's output contract.
type Result struct {
	Category    string
	Confidence  float32
	TokensUsed  int64
}

var answerSchema = []byte(`{
	"type": "object",
	"properties": {
		"category": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["category", "confidence"]
}`)

var compiledAnswerSchema = func() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("answer.json", bytes.NewReader(answerSchema)); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("answer.json")
	if err != nil {
		panic(err)
	}
	return schema
}()

var (
	reCategory   = regexp.MustCompile(`"category":\s*"(.*?)"`)
	reConfidence = regexp.MustCompile(`"confidence":\s*([0-9.]+)`)
)

const rateLimitMessage = "Requests rate limit exceeded"

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float32       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
	ResponseFmt responseFmt   `json:"response_format"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type answerJSON struct {
	Category   string  `json:"category"`
	Confidence float32 `json:"confidence"`
}

// Client is the production Classification Client: an HTTP call to a
// chat-completions-shaped endpoint, fronted by the classification
// leaky bucket and a circuit breaker, identical in shape to the mail
// provider adapter's outbound call discipline.
type Client struct {
	baseURL     string
	apiKey      string
	modelID     string
	temperature float32
	threshold   float32

	httpClient *http.Client
	limiter    *ratelimit.Bucket
	breaker    *gobreaker.CircuitBreaker
}

func NewClient(baseURL, apiKey, modelID string, temperature, confidenceThreshold float32, limiter *ratelimit.Bucket) *Client {
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		modelID:     modelID,
		temperature: temperature,
		threshold:   confidenceThreshold,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     limiter,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "classification-client",
			MaxRequests: 5,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
		}),
	}
}

// Classify sends the effective category set as a system prompt and the
// tagged email content as the user message, then applies the confidence
// gate: a confidence strictly below threshold forces category to
// "Unknown".
func (c *Client) Classify(ctx context.Context, msg mailprovider.EmailMessage, effectiveCategories []string) (Result, error) {
	if err := c.limiter.AcquireOne(ctx); err != nil {
		return Result{}, err
	}

	content := fmt.Sprintf("<subject>%s</subject>\n<body>%s</body>", msg.Subject, msg.Body)
	req := chatRequest{
		Model:       c.modelID,
		Temperature: c.temperature,
		ResponseFmt: responseFmt{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(effectiveCategories)},
			{Role: "user", Content: content},
		},
	}

	var resp chatResponse
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.send(ctx, req, &resp)
	})
	if err != nil {
		return Result{}, err
	}

	if resp.Error != nil {
		if resp.Error.Message == rateLimitMessage {
			c.limiter.TriggerBackoff()
		}
		return Result{}, fmt.Errorf("classify: chat api error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("classify: no choices in response")
	}

	answer, err := parseAnswer(resp.Choices[0].Message.Content)
	if err != nil {
		return Result{}, err
	}

	if answer.Confidence < c.threshold {
		answer.Category = "Unknown"
	}

	return Result{
		Category:   answer.Category,
		Confidence: answer.Confidence,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func (c *Client) send(ctx context.Context, req chatRequest, out *chatResponse) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.TriggerBackoff()
		return mailprovider.ClassifyStatus(resp.StatusCode, "classification rate limited")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mailprovider.ClassifyStatus(resp.StatusCode, "classification request failed")
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseAnswer first tries a strict JSON parse (also validated against
// the JSON Schema so malformed-but-well-typed payloads are caught
// early), then falls back to the two regexes.
func parseAnswer(content string) (answerJSON, error) {
	var answer answerJSON
	if err := json.Unmarshal([]byte(content), &answer); err == nil {
		var generic any
		if jerr := json.Unmarshal([]byte(content), &generic); jerr == nil {
			if verr := compiledAnswerSchema.Validate(generic); verr == nil {
				return answer, nil
			}
		}
	}

	catMatch := reCategory.FindStringSubmatch(content)
	if catMatch == nil {
		return answerJSON{}, fmt.Errorf("classify: could not parse category from response: %q", content)
	}
	confMatch := reConfidence.FindStringSubmatch(content)
	if confMatch == nil {
		return answerJSON{}, fmt.Errorf("classify: could not parse confidence from response: %q", content)
	}
	confidence, err := strconv.ParseFloat(confMatch[1], 32)
	if err != nil {
		return answerJSON{}, fmt.Errorf("classify: could not parse confidence: %w", err)
	}
	return answerJSON{Category: catMatch[1], Confidence: float32(confidence)}, nil
}

func systemPrompt(categories []string) string {
	joined := ""
	for i, c := range categories {
		if i > 0 {
			joined += ", "
		}
		joined += c
	}
	return fmt.Sprintf(
		"You are a helpful assistant that can categorize emails such as the categories inside the square brackets below.\n[%s]\nYou should try to choose a single category from the above, along with its confidence score. You will only respond with a JSON object with the keys category and confidence. Do not provide explanations or multiple categories.",
		joined,
	)
}
