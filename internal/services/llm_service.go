package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
	"unicode/utf8"

	"apexwatch/internal/models"
)

// ModelBackend is one OpenAI-compatible chat completion endpoint with
// its own credentials.
type ModelBackend struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
}

// Generation is the result of one successful model invocation.
type Generation struct {
	Content    string
	Model      string
	TokensUsed int
	Duration   time.Duration
}

// LLMService invokes the language-model backends. The primary is tried
// with bounded exponential backoff; when it is exhausted the secondary
// gets the same treatment. Only when both are exhausted does the call
// fail, with a ModelUnavailable classification the processing loop
// treats as a retryable event failure.
type LLMService struct {
	primary    ModelBackend
	secondary  ModelBackend
	client     *http.Client
	maxRetries int
	backoff    *BackoffCalculator

	// sleep is swapped in tests to avoid real delays.
	sleep func(time.Duration)
}

// NewLLMService creates the invoker.
func NewLLMService(primary, secondary ModelBackend, timeout time.Duration, maxRetries int, backoff *BackoffCalculator) *LLMService {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff == nil {
		backoff = NewBackoffCalculator(2*time.Second, 30*time.Second, 2.0, 20)
	}
	return &LLMService{
		primary:    primary,
		secondary:  secondary,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		backoff:    backoff,
		sleep:      time.Sleep,
	}
}

// Invoke generates a thought for the prompt.
func (s *LLMService) Invoke(ctx context.Context, promptText string) (*Generation, error) {
	start := time.Now()

	gen, primaryErr := s.tryBackend(ctx, s.primary, promptText)
	if primaryErr != nil {
		log.Printf("⚠️ [LLM] Primary backend %s exhausted: %v. Trying fallback...", s.primary.Name, primaryErr)
		recordInvocation(s.primary.Name, "exhausted")

		var secondaryErr error
		gen, secondaryErr = s.tryBackend(ctx, s.secondary, promptText)
		if secondaryErr != nil {
			recordInvocation(s.secondary.Name, "exhausted")
			return nil, models.NewModelUnavailableError(
				fmt.Sprintf("primary %s and secondary %s both exhausted (primary: %v)",
					s.primary.Name, s.secondary.Name, primaryErr),
				secondaryErr)
		}
		recordInvocation(s.secondary.Name, "success")
	} else {
		recordInvocation(s.primary.Name, "success")
	}

	gen.Duration = time.Since(start)
	return gen, nil
}

// tryBackend calls one backend with bounded retries and backoff.
// Non-retryable responses (auth failures, bad requests) abort the
// backend immediately instead of burning attempts.
func (s *LLMService) tryBackend(ctx context.Context, backend ModelBackend, promptText string) (*Generation, error) {
	if backend.BaseURL == "" {
		return nil, fmt.Errorf("backend %s not configured", backend.Name)
	}

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.backoff.NextDelay(attempt - 1)
			log.Printf("🔄 [LLM] Retrying %s in %s (attempt %d/%d)", backend.Name, delay.Round(time.Millisecond), attempt+1, s.maxRetries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			s.sleep(delay)
		}

		gen, retryable, err := s.call(ctx, backend, promptText)
		if err == nil {
			return gen, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("backend %s failed after %d attempts: %w", backend.Name, s.maxRetries, lastErr)
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// call issues a single chat completion request. The bool result reports
// whether the failure is worth retrying on this backend.
func (s *LLMService) call(ctx context.Context, backend ModelBackend, promptText string) (*Generation, bool, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:    backend.Model,
		Messages: []chatMessage{{Role: "user", Content: promptText}},
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, backend.BaseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if backend.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+backend.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, models.TransientNetworkError(err), fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, models.RetryableStatus(resp.StatusCode),
			fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, true, fmt.Errorf("malformed response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, true, fmt.Errorf("no choices in response")
	}

	return &Generation{
		Content:    parsed.Choices[0].Message.Content,
		Model:      fmt.Sprintf("%s/%s", backend.Name, backend.Model),
		TokensUsed: parsed.Usage.TotalTokens,
	}, false, nil
}

func recordInvocation(backend, outcome string) {
	if m := GetMetrics(); m != nil {
		m.RecordModelInvocation(backend, outcome)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
