package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"meli-tracker-api/internal/matching"
)

const (
	groqAPIBase = "https://api.groq.com/openai/v1/chat/completions"
	groqModel   = "llama-3.1-8b-instant"
)

// ErrAllKeysExhausted is returned when every configured API key is rate
// limited or out of daily quota. The ingestion pipeline schedules a retry.
var ErrAllKeysExhausted = fmt.Errorf("all API keys exhausted")

// GroqClient extracts vehicle fields from listing titles via the Groq API.
// Supports multiple API keys with automatic failover on rate limits.
type GroqClient struct {
	httpClient  *http.Client
	apiKeys     []string
	currentKey  atomic.Int32
	keyMutex    sync.RWMutex
	keyStatus   []keyStatus
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// keyStatus tracks the health of one API key. Per-minute rate limits expire
// after a cooldown; daily exhaustion lasts until midnight UTC.
type keyStatus struct {
	rateLimited      bool
	rateLimitedAt    time.Time
	dailyExhausted   bool
	dailyExhaustedAt time.Time
}

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewGroqClient creates a client with one or more API keys for failover
func NewGroqClient(apiKeys []string, requestsPerMinute float64, logger *slog.Logger) *GroqClient {
	if len(apiKeys) == 0 {
		panic("at least one API key is required")
	}

	client := &GroqClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		apiKeys:     apiKeys,
		keyStatus:   make([]keyStatus, len(apiKeys)),
		rateLimiter: NewRateLimiter(requestsPerMinute / 60.0),
		logger:      logger,
	}

	logger.Info("Groq client initialized",
		"keys_count", len(apiKeys),
		"rpm", requestsPerMinute,
	)
	return client
}

// ExtractVehicle asks the model for the structured fields of a listing title
func (c *GroqClient) ExtractVehicle(ctx context.Context, title string) (matching.TitleExtraction, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return matching.TitleExtraction{}, fmt.Errorf("rate limit wait failed: %w", err)
	}

	reply, err := c.doRequestWithFailover(ctx, "Title: "+title)
	if err != nil {
		return matching.TitleExtraction{}, err
	}
	return parseExtraction(reply)
}

func (c *GroqClient) getCurrentKey() (string, int) {
	idx := int(c.currentKey.Load()) % len(c.apiKeys)
	return c.apiKeys[idx], idx
}

// isDailyLimitError distinguishes daily quota exhaustion from a per-minute
// rate limit; Groq reports both as 429 with different messages
func isDailyLimitError(statusCode int, body []byte) bool {
	if statusCode != http.StatusTooManyRequests {
		return false
	}
	bodyStr := strings.ToLower(string(body))
	for _, pattern := range []string{"tokens per day", "requests per day", "daily", "quota"} {
		if strings.Contains(bodyStr, pattern) {
			return true
		}
	}
	return false
}

// rotateKey marks the failed key and switches to the next usable one.
// Returns false when every key is unusable.
func (c *GroqClient) rotateKey(failedIdx int, isDailyLimit bool) bool {
	c.keyMutex.Lock()
	defer c.keyMutex.Unlock()

	now := time.Now()
	if isDailyLimit {
		c.keyStatus[failedIdx].dailyExhausted = true
		c.keyStatus[failedIdx].dailyExhaustedAt = now
		c.logger.Warn("API key daily limit exhausted", "key_idx", failedIdx)
	} else {
		c.keyStatus[failedIdx].rateLimited = true
		c.keyStatus[failedIdx].rateLimitedAt = now
	}

	startIdx := (failedIdx + 1) % len(c.apiKeys)
	for i := 0; i < len(c.apiKeys); i++ {
		idx := (startIdx + i) % len(c.apiKeys)
		status := &c.keyStatus[idx]

		if status.dailyExhausted {
			if time.Since(status.dailyExhaustedAt) < untilNextMidnight(status.dailyExhaustedAt) {
				continue
			}
			status.dailyExhausted = false
		}
		if status.rateLimited && time.Since(status.rateLimitedAt) > time.Minute {
			status.rateLimited = false
		}
		if !status.rateLimited {
			c.currentKey.Store(int32(idx))
			c.logger.Info("rotated to new API key",
				"from_idx", failedIdx,
				"to_idx", idx,
				"daily_limit", isDailyLimit,
			)
			return true
		}
	}
	return false
}

// untilNextMidnight returns the duration from t to the following midnight
// UTC, when Groq resets daily quotas
func untilNextMidnight(t time.Time) time.Duration {
	utc := t.UTC()
	next := time.Date(utc.Year(), utc.Month(), utc.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(utc)
}

func (c *GroqClient) markKeySuccess(idx int) {
	c.keyMutex.Lock()
	defer c.keyMutex.Unlock()
	c.keyStatus[idx].rateLimited = false
}

// doRequestWithFailover sends the prompt, rotating keys on 429 until one
// succeeds or all are exhausted
func (c *GroqClient) doRequestWithFailover(ctx context.Context, userPrompt string) (string, error) {
	req := groqRequest{
		Model: groqModel,
		Messages: []groqMessage{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.0,
		MaxTokens:   120,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	for tried := 0; tried < len(c.apiKeys); tried++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		apiKey, keyIdx := c.getCurrentKey()

		httpReq, err := http.NewRequestWithContext(ctx, "POST", groqAPIBase, bytes.NewReader(reqBody))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("failed to send request: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger.Warn("rate limit hit, rotating key",
				"key_idx", keyIdx,
				"is_daily_limit", isDailyLimitError(resp.StatusCode, body),
			)
			if c.rotateKey(keyIdx, isDailyLimitError(resp.StatusCode, body)) {
				continue
			}
			return "", ErrAllKeysExhausted
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("Groq API error (status %d): %s", resp.StatusCode, string(body))
		}

		var groqResp groqResponse
		if err := json.Unmarshal(body, &groqResp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if groqResp.Error != nil {
			if strings.Contains(strings.ToLower(groqResp.Error.Message), "daily") ||
				strings.Contains(strings.ToLower(groqResp.Error.Message), "quota") {
				if c.rotateKey(keyIdx, true) {
					continue
				}
				return "", ErrAllKeysExhausted
			}
			return "", fmt.Errorf("Groq API error: %s", groqResp.Error.Message)
		}
		if len(groqResp.Choices) == 0 {
			return "", fmt.Errorf("no choices in response")
		}

		c.markKeySuccess(keyIdx)
		c.logger.Debug("Groq extraction completed",
			"key_idx", keyIdx,
			"tokens_used", groqResp.Usage.TotalTokens,
		)
		return groqResp.Choices[0].Message.Content, nil
	}

	return "", ErrAllKeysExhausted
}

// Close stops the client's rate limiter
func (c *GroqClient) Close() {
	c.rateLimiter.Stop()
}
