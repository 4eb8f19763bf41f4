package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/vietddude/triage/internal/core/domain"
)

var (
	// ErrMalformedResponse is returned when the service answers but the
	// assessment cannot be parsed. The gateway treats it like a
	// transport error.
	ErrMalformedResponse = errors.New("malformed classifier response")
)

// assessmentTool is the function-call schema the model is forced to use,
// matching the classifier service contract.
var assessmentTool = map[string]any{
	"type": "function",
	"function": map[string]any{
		"name":        "return_failure_assessment",
		"description": "Return failure category and retryability for a single failed test.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category": map[string]any{
					"type": "string",
					"enum": []string{
						"CodeDefect", "InfrastructureIssue", "FlakyTest",
						"DataIssue", "Unknown",
					},
				},
				"retryable": map[string]any{
					"type":        "boolean",
					"description": "True if the failure is transient and might pass on a retry.",
				},
				"confidence": map[string]any{
					"type":        "number",
					"description": "Confidence score (0.0 to 1.0) for the assessment.",
				},
				"signals": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Keywords from the failure detail that justify the category.",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "A brief, one-sentence explanation for the decision.",
				},
			},
			"required": []string{"category", "retryable", "confidence", "reason", "signals"},
		},
	},
}

// OpenAIConfig holds settings for the OpenAI-compatible endpoint.
type OpenAIConfig struct {
	Endpoint string
	APIKey   string
	Model    string
}

// OpenAIClassifier implements Classifier against any OpenAI-compatible
// chat-completions API.
type OpenAIClassifier struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIClassifier creates a classifier client. The per-call deadline
// comes from the context, so the underlying http.Client has no timeout of
// its own.
func NewOpenAIClassifier(cfg OpenAIConfig) *OpenAIClassifier {
	return &OpenAIClassifier{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []any         `json:"tools"`
	ToolChoice  any           `json:"tool_choice"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			ToolCalls []struct {
				Function struct {
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

type assessment struct {
	Category   string   `json:"category"`
	Retryable  bool     `json:"retryable"`
	Confidence float64  `json:"confidence"`
	Signals    []string `json:"signals"`
	Reason     string   `json:"reason"`
}

// Classify sends one failed attempt to the service.
func (c *OpenAIClassifier) Classify(ctx context.Context, req Request) (*domain.Classification, error) {
	body := chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: buildPrompt(req)}},
		Tools:    []any{assessmentTool},
		ToolChoice: map[string]any{
			"type":     "function",
			"function": map[string]any{"name": "return_failure_assessment"},
		},
		Temperature: 0,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.Endpoint, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Choices) == 0 || len(parsed.Choices[0].Message.ToolCalls) == 0 {
		return nil, fmt.Errorf("%w: no tool call in response", ErrMalformedResponse)
	}

	return parseAssessment(parsed.Choices[0].Message.ToolCalls[0].Function.Arguments)
}

var trailingCommaRe = regexp.MustCompile(`,\s*([\}\]])`)

// parseAssessment extracts the assessment from the raw tool-call
// arguments. Models occasionally wrap the JSON in prose or leave a
// trailing comma, so extract the outermost object and clean it up before
// decoding.
func parseAssessment(raw string) (*domain.Classification, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in arguments", ErrMalformedResponse)
	}

	cleaned := trailingCommaRe.ReplaceAllString(raw[start:end+1], "$1")

	var a assessment
	if err := json.Unmarshal([]byte(cleaned), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	category, ok := domain.ParseCategory(a.Category)
	if !ok {
		return nil, fmt.Errorf("%w: unparseable category %q", ErrMalformedResponse, a.Category)
	}

	confidence := a.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &domain.Classification{
		Category:   category,
		Retryable:  a.Retryable,
		Confidence: confidence,
		Rationale:  a.Reason,
		Signals:    a.Signals,
	}, nil
}
