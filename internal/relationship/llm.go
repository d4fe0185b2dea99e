package relationship

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const llmSystemPrompt = "You are a strict prediction-market analyst. Decide whether two binary markets hedge each other so that holding one unit of the first market's YES and the stated quantity of the second market's opposite outcome always pays at least one unit. Respond only with JSON."

// Completer sends a single-shot prompt and returns the response text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAIConfig holds chat completion client settings.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float32
	MaxTokens   int
}

// OpenAICompleter wraps an OpenAI-compatible chat completion API.
type OpenAICompleter struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// NewOpenAICompleter creates a completer from config.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("llm: API key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.GPT4oMini
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 400
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	temp := cfg.Temperature
	if temp < 0 {
		temp = 0
	}

	openaiCfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		openaiCfg.BaseURL = base
	}

	return &OpenAICompleter{
		api:         openai.NewClientWithConfig(openaiCfg),
		model:       model,
		temperature: temp,
		maxTokens:   maxTokens,
		timeout:     timeout,
	}, nil
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctxWithTimeout, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// LLMClassifier scores market pairs with a language model.
type LLMClassifier struct {
	completer Completer
	limiter   *rate.Limiter
}

// NewLLMClassifier creates an LLM classifier allowing ratePerSec calls per second.
func NewLLMClassifier(completer Completer, ratePerSec float64, burst int) *LLMClassifier {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &LLMClassifier{
		completer: completer,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

type llmMarket struct {
	Venue    string `json:"venue"`
	MarketID string `json:"market_id"`
	EventID  string `json:"event_id,omitempty"`
	Question string `json:"question"`
	Category string `json:"category,omitempty"`
	ClosesAt string `json:"closes_at,omitempty"`
}

type llmVerdict struct {
	Related    bool    `json:"related"`
	Kind       Kind    `json:"kind"`
	Score      float64 `json:"score"`
	HedgeRatio float64 `json:"hedge_ratio"`
	Inverse    bool    `json:"inverse"`
}

// Classify implements Classifier.
func (l *LLMClassifier) Classify(ctx context.Context, a, b types.Market) (*Candidate, error) {
	if !a.Active() || !b.Active() || a.Key() == b.Key() {
		return nil, nil
	}

	err := l.limiter.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("llm rate limit: %w", err)
	}

	input, err := json.MarshalIndent(map[string]llmMarket{
		"first":  toLLMMarket(a),
		"second": toLLMMarket(b),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal prompt input: %w", err)
	}

	userPrompt := strings.Join([]string{
		"Compare the following two binary prediction markets.",
		"Set related=true only if buying YES on the first market and the hedging outcome on the second guarantees a payout in every resolution.",
		"kind is \"complementary\" when the markets describe the same event, otherwise \"correlated\".",
		"inverse is true when YES on the first market means YES on the second must be the hedge.",
		"score is your confidence between 0 and 1. hedge_ratio is units of the second market per unit of the first.",
		"Return EXACTLY this JSON format:\n{\"related\": true|false, \"kind\": \"complementary\"|\"correlated\", \"score\": 0.0, \"hedge_ratio\": 1.0, \"inverse\": false}\n\nInput JSON:\n" + string(input),
	}, "\n")

	raw, err := l.completer.Complete(ctx, llmSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		return nil, fmt.Errorf("parse llm response: %w", err)
	}
	if !verdict.Related {
		return nil, nil
	}

	kind := verdict.Kind
	if kind != KindComplementary {
		kind = KindCorrelated
	}
	ratio := verdict.HedgeRatio
	if ratio <= 0 {
		ratio = 1.0
	}
	legB := b.Outcome(types.SideNo)
	if verdict.Inverse {
		legB = b.Outcome(types.SideYes)
	}

	c := NewCandidate(a.Outcome(types.SideYes), legB, verdict.Score, ratio, kind, "llm")
	if c == nil {
		return nil, nil
	}
	c.RevisionA = a.Revision
	c.RevisionB = b.Revision
	return c, nil
}

func toLLMMarket(m types.Market) llmMarket {
	out := llmMarket{
		Venue:    m.Venue,
		MarketID: m.ID,
		EventID:  m.EventID,
		Question: m.Question,
		Category: m.Category,
	}
	if !m.ClosesAt.IsZero() {
		out.ClosesAt = m.ClosesAt.UTC().Format(time.RFC3339)
	}
	return out
}

func parseVerdict(raw string) (*llmVerdict, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty llm response")
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	var v llmVerdict
	err := json.Unmarshal([]byte(raw), &v)
	if err != nil {
		return nil, err
	}
	if v.Score < 0 || v.Score > 1 {
		return nil, fmt.Errorf("score %f out of range", v.Score)
	}
	return &v, nil
}
