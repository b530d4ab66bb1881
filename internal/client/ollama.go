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
	"time"

	"meli-tracker-api/internal/matching"
)

const defaultOllamaModel = "llama3.1:8b"

// OllamaClient extracts vehicle fields from listing titles via a local
// Ollama server, for running the pipeline without a hosted LLM
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *slog.Logger
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	Error           string        `json:"error,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func NewOllamaClient(baseURL, model string, logger *slog.Logger) *OllamaClient {
	if model == "" {
		model = defaultOllamaModel
	}
	baseURL = strings.TrimRight(baseURL, "/")

	client := &OllamaClient{
		httpClient: &http.Client{
			// Local inference is slow on first load
			Timeout: 60 * time.Second,
		},
		baseURL: baseURL,
		model:   model,
		logger:  logger,
	}

	logger.Info("Ollama client initialized", "base_url", baseURL, "model", model)
	return client
}

// ExtractVehicle asks the local model for the structured fields of a listing
// title
func (c *OllamaClient) ExtractVehicle(ctx context.Context, title string) (matching.TitleExtraction, error) {
	reply, err := c.doRequest(ctx, extractionSystemPrompt, "Title: "+title)
	if err != nil {
		return matching.TitleExtraction{}, err
	}
	return parseExtraction(reply)
}

func (c *OllamaClient) doRequest(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream: false,
		Options: ollamaOptions{
			Temperature: 0.0,
			NumPredict:  120,
		},
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var ollamaResp ollamaChatResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if ollamaResp.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", ollamaResp.Error)
	}

	c.logger.Debug("Ollama request completed",
		"latency_ms", time.Since(startTime).Milliseconds(),
		"prompt_tokens", ollamaResp.PromptEvalCount,
		"eval_tokens", ollamaResp.EvalCount,
	)
	return ollamaResp.Message.Content, nil
}

// Ping checks that the Ollama server is reachable and the model is loaded
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Ollama returned status %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), c.model) {
		c.logger.Warn("model may not be loaded", "model", c.model)
	}
	return nil
}
