package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/conveyor/internal/config"
	"github.com/timmy/conveyor/internal/domain"
	"github.com/timmy/conveyor/internal/logger"
	"github.com/timmy/conveyor/internal/prompts"
)

// ErrorLister returns products currently in the error state, most recent first.
type ErrorLister interface {
	ListErrors(ctx context.Context, limit int) ([]domain.Product, error)
}

// Advice is the advisor's answer.
type Advice struct {
	Text      string    `json:"text"`
	Source    string    `json:"source"` // "model" or "digest"
	Model     string    `json:"model,omitempty"`
	Errors    int       `json:"errors"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	AdviceSourceModel  = "model"
	AdviceSourceDigest = "digest"

	adviceErrorLimit = 50
	adviceLogLines   = 40
)

// AdvisorService explains recent failures using an OpenAI-compatible chat model.
// Without a configured model, or when the call fails, it returns a digest of errors grouped by reason.
type AdvisorService struct {
	client   *resty.Client
	model    string
	endpoint string
	enabled  bool
	errors   ErrorLister
	logs     *LogBuffer
}

// NewAdvisorService creates a new advisor.
// Parameters:
//   - cfg: model, API key, base URL and timeout.
//   - lister: source of products in the error state.
//   - logs: run log buffer; may be nil.
//
// Returns:
//   - *AdvisorService: advisor, using the digest fallback when cfg is not enabled.
func NewAdvisorService(cfg *config.AdvisorConfig, lister ErrorLister, logs *LogBuffer) *AdvisorService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &AdvisorService{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
		enabled:  cfg.Enabled(),
		errors:   lister,
		logs:     logs,
	}
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
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
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// IsEnabled reports whether a chat model is configured.
func (s *AdvisorService) IsEnabled() bool {
	return s.enabled
}

// Advise reads the current error backlog and recent log lines and returns advice.
// The only error returned is a failure to read the error backlog.
func (s *AdvisorService) Advise(ctx context.Context) (*Advice, error) {
	failed, err := s.errors.ListErrors(ctx, adviceErrorLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: list errors: %w", ErrStoreRead, err)
	}

	var lines []string
	if s.logs != nil {
		lines = s.logs.Lines()
		if len(lines) > adviceLogLines {
			lines = lines[len(lines)-adviceLogLines:]
		}
	}

	if len(failed) > 0 && s.enabled {
		text, err := s.complete(ctx, failed, lines)
		if err == nil {
			return &Advice{
				Text:      text,
				Source:    AdviceSourceModel,
				Model:     s.model,
				Errors:    len(failed),
				CreatedAt: time.Now(),
			}, nil
		}
		logger.CtxWarn(ctx, "Advisor model call failed, using digest: %v", err)
	}

	return &Advice{
		Text:      Digest(failed),
		Source:    AdviceSourceDigest,
		Errors:    len(failed),
		CreatedAt: time.Now(),
	}, nil
}

func (s *AdvisorService) complete(ctx context.Context, failed []domain.Product, lines []string) (string, error) {
	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompts.AdvisorSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(prompts.AdvisorUserPrompt, renderErrors(failed), renderLines(lines))},
		},
		MaxTokens: 600,
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to call advisor API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return "", fmt.Errorf("advisor API returned HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return "", fmt.Errorf("advisor API returned HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
	}
	if resp.Error != nil {
		return "", fmt.Errorf("advisor API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("no response from advisor API (status: %d)", httpResp.StatusCode())
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func renderErrors(failed []domain.Product) string {
	if len(failed) == 0 {
		return prompts.AdvisorEmptyInput
	}
	var b strings.Builder
	for _, p := range failed {
		fmt.Fprintf(&b, "- %s (%s): %s\n", p.ID, p.Name, p.LogText())
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderLines(lines []string) string {
	if len(lines) == 0 {
		return prompts.AdvisorEmptyInput
	}
	return strings.Join(lines, "\n")
}

// Digest groups failed products by their diagnostic and lists the largest groups first.
func Digest(failed []domain.Product) string {
	if len(failed) == 0 {
		return "No products are in the error state."
	}

	type group struct {
		reason string
		ids    []string
	}
	byReason := make(map[string]*group)
	var groups []*group
	for _, p := range failed {
		reason := p.LogText()
		if reason == "" {
			reason = "unknown"
		}
		g, ok := byReason[reason]
		if !ok {
			g = &group{reason: reason}
			byReason[reason] = g
			groups = append(groups, g)
		}
		g.ids = append(g.ids, p.ID)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i].ids) > len(groups[j].ids)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%d product(s) in error, %d distinct reason(s):\n", len(failed), len(groups))
	for _, g := range groups {
		ids := g.ids
		more := ""
		if len(ids) > 5 {
			more = fmt.Sprintf(" and %d more", len(ids)-5)
			ids = ids[:5]
		}
		fmt.Fprintf(&b, "- %dx %s [%s%s]\n", len(g.ids), g.reason, strings.Join(ids, ", "), more)
	}
	return strings.TrimRight(b.String(), "\n")
}
