// Package llm implements the narrative explainer on top of an
// OpenAI-compatible chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/murmur3"

	"github.com/labopti/labopti/internal/domain/guideline"
	"github.com/labopti/labopti/internal/domain/recommendation"
	"github.com/labopti/labopti/internal/platform/cache"
	"github.com/labopti/labopti/pkg/sets"
)

const (
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultTemperature = 0.3

	maxTokensRecommend = 500
	maxTokensSkip      = 300
	maxTokensInterpret = 600
)

// Guidelines is the part of the knowledge base used to ground prompts.
type Guidelines interface {
	TestInfo(name string) (guideline.TestInfo, bool)
	TestsForSymptom(symptom string) sets.Set[string]
	SymptomReasoning(symptom string) string
	AgeBracketTests(age int) sets.Set[string]
	AgeBracketReasoning(age int) string
}

// Config configures a Client.
type Config struct {
	URL         string
	Model       string
	APIKey      string
	Temperature float64
	HTTPClient  *http.Client
	Cache       cache.Store
	CacheTTL    time.Duration
	Logger      zerolog.Logger
}

// Client explains decisions and results using a chat model.
type Client struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	http        *http.Client
	cache       cache.Store
	cacheTTL    time.Duration
	guidelines  Guidelines
	log         zerolog.Logger
}

var _ recommendation.Explainer = (*Client)(nil)

func NewClient(cfg Config, g Guidelines) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("llm url is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		endpoint:    strings.TrimSuffix(cfg.URL, "/") + "/v1/chat/completions",
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		http:        cfg.HTTPClient,
		cache:       cfg.Cache,
		cacheTTL:    cfg.CacheTTL,
		guidelines:  g,
		log:         cfg.Logger.With().Str("component", "llm").Logger(),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) ExplainRecommendation(ctx context.Context, req recommendation.RecommendRequest) recommendation.Narrative {
	text, err := c.complete(ctx, systemRecommend, recommendPrompt(c.guidelines, req), maxTokensRecommend)
	if err != nil {
		return recommendation.Degraded(recommendation.RecommendFallback(req.TestName), err)
	}
	return recommendation.Success(text)
}

func (c *Client) ExplainSkip(ctx context.Context, testName string, lastDate time.Time, validityDays int) recommendation.Narrative {
	text, err := c.complete(ctx, systemSkip, skipPrompt(c.guidelines, testName, lastDate, validityDays), maxTokensSkip)
	if err != nil {
		return recommendation.Degraded(recommendation.SkipFallback(lastDate, validityDays), err)
	}
	return recommendation.Success(text)
}

// ExplainInterpretation asks for the patient and clinician narratives in
// turn. If either call fails both are reported degraded.
func (c *Client) ExplainInterpretation(ctx context.Context, testName string, abnormal []recommendation.Parameter) (recommendation.Narrative, recommendation.Narrative) {
	ref := interpretationContext(c.guidelines, testName, abnormal)

	patient, err := c.complete(ctx, systemPatient, patientPrompt(ref), maxTokensInterpret)
	if err != nil {
		return degradedPair(err)
	}
	clinician, err := c.complete(ctx, systemClinician, clinicianPrompt(ref), maxTokensInterpret)
	if err != nil {
		return degradedPair(err)
	}
	return recommendation.Success(patient), recommendation.Success(clinician)
}

func degradedPair(err error) (recommendation.Narrative, recommendation.Narrative) {
	in := recommendation.DegradedInterpretation(err)
	return recommendation.Degraded(in.PatientFriendly, err), recommendation.Degraded(in.ClinicianSummary, err)
}

// complete sends one non-streaming chat completion, consulting the cache
// first when one is configured.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	key := cacheKey(c.model, system, user)
	if c.cache != nil {
		if v, ok, err := c.cache.Get(ctx, key); err != nil {
			c.log.Warn().Err(err).Msg("narrative cache read failed")
		} else if ok {
			return v, nil
		}
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call chat completions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat completions returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("chat completions error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat completions returned no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("chat completions returned empty content")
	}

	c.log.Debug().Dur("latency", time.Since(start)).Int("max_tokens", maxTokens).Msg("narrative generated")

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, text, c.cacheTTL); err != nil {
			c.log.Warn().Err(err).Msg("narrative cache write failed")
		}
	}
	return text, nil
}

func cacheKey(model, system, user string) string {
	h := murmur3.New128()
	for _, part := range []string{model, system, user} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	hi, lo := h.Sum128()
	return fmt.Sprintf("%016x%016x", hi, lo)
}
