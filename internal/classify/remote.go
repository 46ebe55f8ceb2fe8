package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"signalwatch/internal/config"
	"signalwatch/internal/logging"
	"signalwatch/internal/model"
)

// ErrClassification wraps every remote classifier failure.
var ErrClassification = errors.New("classification failed")

const (
	defaultBaseURL   = "https://api.openai.com"
	completionsPath  = "/v1/chat/completions"
	maxResponseBytes = 1 << 20
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Remote asks an OpenAI-compatible chat completions endpoint for an
// analysis. It makes exactly one attempt per call.
type Remote struct {
	apiKey      string
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[model.Analysis]
	logger      *slog.Logger
}

func NewRemote(cfg config.ClassifierConfig, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = logging.Discard()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	threshold := cfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	r := &Remote{
		apiKey:      cfg.APIKey,
		endpoint:    base + completionsPath,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		httpClient:  &http.Client{},
		logger:      logger,
	}
	r.breaker = gobreaker.NewCircuitBreaker[model.Analysis](gobreaker.Settings{
		Name:        "remote-classifier",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("classifier breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return r
}

// BreakerState reports closed, half-open or open.
func (r *Remote) BreakerState() string {
	return r.breaker.State().String()
}

func (r *Remote) Classify(ctx context.Context, content model.EventContent, terms []string, correlationID string) (model.Analysis, error) {
	analysis, err := r.breaker.Execute(func() (model.Analysis, error) {
		return r.complete(ctx, content, terms, correlationID)
	})
	if err != nil {
		if errors.Is(err, ErrClassification) {
			return model.Analysis{}, err
		}
		return model.Analysis{}, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	return analysis, nil
}

func (r *Remote) complete(ctx context.Context, content model.EventContent, terms []string, correlationID string) (model.Analysis, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	body, err := json.Marshal(chatRequest{
		Model:       r.model,
		Messages:    []chatMessage{{Role: "user", Content: buildPrompt(content, terms)}},
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	})
	if err != nil {
		return model.Analysis{}, fmt.Errorf("%w: encode request: %v", ErrClassification, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return model.Analysis{}, fmt.Errorf("%w: build request: %v", ErrClassification, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.Analysis{}, fmt.Errorf("%w: read response: %v", ErrClassification, err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return model.Analysis{}, fmt.Errorf("%w: status %d: %s", ErrClassification, resp.StatusCode, apiErr.Error.Message)
		}
		return model.Analysis{}, fmt.Errorf("%w: status %d", ErrClassification, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return model.Analysis{}, fmt.Errorf("%w: decode response: %v", ErrClassification, err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return model.Analysis{}, fmt.Errorf("%w: empty response", ErrClassification)
	}
	analysis, err := ParseAnalysis(parsed.Choices[0].Message.Content)
	if err != nil {
		return model.Analysis{}, err
	}
	r.logger.Info("remote analysis completed",
		"correlation_id", correlationID,
		"severity", string(analysis.Severity),
	)
	return analysis, nil
}

func buildPrompt(content model.EventContent, terms []string) string {
	return fmt.Sprintf(`Analyze this security event and provide:
1. A concise summary in natural language
2. Severity level (LOW/MED/HIGH/CRITICAL)
3. Suggested next action for the analyst

Event Data: %s
Watch Terms: %s

Respond with a single JSON object and nothing else:
{
  "summary": "Brief description of the event",
  "severity": "LOW|MED|HIGH|CRITICAL",
  "suggestedAction": "Specific action recommendation"
}`, content.Canonical(), strings.Join(terms, ", "))
}

// ParseAnalysis decodes a model reply, tolerating a surrounding code fence.
// All three fields are required and the severity must be a known tier.
func ParseAnalysis(reply string) (model.Analysis, error) {
	text := stripFence(strings.TrimSpace(reply))
	var fields struct {
		Summary         *string `json:"summary"`
		Severity        *string `json:"severity"`
		SuggestedAction *string `json:"suggestedAction"`
	}
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return model.Analysis{}, fmt.Errorf("%w: reply is not JSON: %v", ErrClassification, err)
	}
	if fields.Summary == nil || strings.TrimSpace(*fields.Summary) == "" {
		return model.Analysis{}, fmt.Errorf("%w: reply has no summary", ErrClassification)
	}
	if fields.SuggestedAction == nil || strings.TrimSpace(*fields.SuggestedAction) == "" {
		return model.Analysis{}, fmt.Errorf("%w: reply has no suggestedAction", ErrClassification)
	}
	if fields.Severity == nil {
		return model.Analysis{}, fmt.Errorf("%w: reply has no severity", ErrClassification)
	}
	sev, err := model.ParseSeverity(*fields.Severity)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	return model.Analysis{
		Summary:         strings.TrimSpace(*fields.Summary),
		Severity:        sev,
		SuggestedAction: strings.TrimSpace(*fields.SuggestedAction),
	}, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop an info string such as "json".
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
