// Package summarizer implements the ingestion pipeline's summarize step: given a
// venue's name, category, and long description, it produces a guest-facing
// summary, a canonical tag list, and the editorial signals document.
package summarizer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"entertainment-planner/internal/constants"
	"entertainment-planner/internal/models"
	"entertainment-planner/internal/prompts"
	"entertainment-planner/pkg/circuit"
	apperrors "entertainment-planner/pkg/errors"
)

// Result is the Summarizer's output for one venue.
type Result struct {
	Summary string
	Tags    []string
	Signals models.Signals
}

// CostTracker accumulates token usage and an estimated USD cost across
// Summarizer calls; AIScorer.CostStats exposes the totals.
type CostTracker struct {
	mu               sync.Mutex
	totalTokens      int
	totalRequests    int
	estimatedCostUSD float64
	startTime        time.Time
}

func NewCostTracker() *CostTracker {
	return &CostTracker{startTime: time.Now()}
}

// AddUsage folds one OpenAI call's token usage into the running totals.
// Pricing mirrors gpt-4o-mini's per-1K-token rate.
func (c *CostTracker) AddUsage(promptTokens, completionTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalTokens += promptTokens + completionTokens
	c.totalRequests++
	c.estimatedCostUSD += float64(promptTokens)/1000*0.00015 + float64(completionTokens)/1000*0.0006
}

type CostStats struct {
	TotalTokens      int
	TotalRequests    int
	EstimatedCostUSD float64
	Uptime           time.Duration
}

func (c *CostTracker) GetStats() CostStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CostStats{
		TotalTokens:      c.totalTokens,
		TotalRequests:    c.totalRequests,
		EstimatedCostUSD: c.estimatedCostUSD,
		Uptime:           time.Since(c.startTime),
	}
}

// CachedResult is one VenueCache entry.
type CachedResult struct {
	Result    Result
	CreatedAt time.Time
}

// VenueCache memoizes Summarizer results by venue content hash, since the
// same scrape payload is often re-ingested (retries, re-runs) without
// changing.
type VenueCache struct {
	mu       sync.RWMutex
	entries  map[string]CachedResult
	ttl      time.Duration
	maxSize  int
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewVenueCache(ttl time.Duration, maxSize int) *VenueCache {
	c := &VenueCache{
		entries: make(map[string]CachedResult),
		ttl:     ttl,
		maxSize: maxSize,
		stopCh:  make(chan struct{}),
	}
	go c.startCleanup()
	return c
}

func (c *VenueCache) startCleanup() {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *VenueCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, v := range c.entries {
		if now.Sub(v.CreatedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
}

func (c *VenueCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *VenueCache) GetSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *VenueCache) Get(key string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || time.Since(entry.CreatedAt) > c.ttl {
		return Result{}, false
	}
	return entry.Result, true
}

func (c *VenueCache) Set(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = CachedResult{Result: result, CreatedAt: time.Now()}
}

func (c *VenueCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for k, v := range c.entries {
		if oldestKey == "" || v.CreatedAt.Before(oldestTime) {
			oldestKey, oldestTime = k, v.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *VenueCache) generateKey(name, category, description string) string {
	sum := md5.Sum([]byte(name + "|" + category + "|" + description))
	return hex.EncodeToString(sum[:])
}

// AIScorer implements the Summarizer capability over the OpenAI chat API.
type AIScorer struct {
	client      *openai.Client
	costTracker *CostTracker
	cache       *VenueCache
	cb          *circuit.Breaker
	limiter     *rate.Limiter
	pm          *prompts.Manager
}

// NewAIScorer builds a Summarizer bound to the given OpenAI API key. pm may
// be nil, in which case an inline fallback prompt is rendered instead.
func NewAIScorer(apiKey string, pm *prompts.Manager) *AIScorer {
	cb := circuit.New(circuit.Config{
		Name:              "openai",
		OperationTimeout:  constants.SummarizerOperationTimeout,
		OpenFor:           constants.SummarizerOpenFor,
		MaxConsecFailures: 3,
		WindowSize:        20,
		FailureRate:       constants.OpenAICircuitFailureRate,
		SlowCallThreshold: constants.SummarizerSlowCallThreshold,
		SlowCallRate:      constants.OpenAICircuitSlowCallRate,
	}, nil)
	return &AIScorer{
		client:      openai.NewClient(apiKey),
		costTracker: NewCostTracker(),
		cache:       NewVenueCache(24*time.Hour, 1000),
		cb:          cb,
		limiter:     rate.NewLimiter(rate.Limit(constants.SummarizerRateLimitPerSec), constants.SummarizerRateLimitPerSec),
		pm:          pm,
	}
}

func (a *AIScorer) Close() {
	a.cache.Stop()
}

func (a *AIScorer) CostStats() CostStats {
	return a.costTracker.GetStats()
}

func (a *AIScorer) CacheSize() int {
	return a.cache.GetSize()
}

// Summarize runs the Summarizer contract for one venue: cache check, OpenAI
// call through the circuit breaker, structured-then-fallback parsing. A
// NO_SUMMARY BizError is returned when no usable summary can be produced;
// the caller is responsible for the attempts.summarizer counter.
func (a *AIScorer) Summarize(ctx context.Context, name, category, description string) (Result, error) {
	key := a.cache.generateKey(name, category, description)
	if cached, ok := a.cache.Get(key); ok {
		return cached, nil
	}

	if strings.TrimSpace(description) == "" && strings.TrimSpace(name) == "" {
		return Result{}, apperrors.NewBizCode("scorer.Summarize", "NO_SUMMARY", "venue has no name or description to summarize", nil)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return Result{}, apperrors.NewTransient("scorer.Summarize", "openai", "PROVIDER_ERROR", "rate limiter wait failed", err)
	}

	result, err := a.scoreUnified(ctx, name, category, description)
	if err != nil {
		return Result{}, err
	}

	a.cache.Set(key, result)
	return result, nil
}

func (a *AIScorer) scoreUnified(ctx context.Context, name, category, description string) (Result, error) {
	systemPrompt := a.getSystemPrompt()
	userPrompt := a.buildUserPrompt(name, category, description)

	var resp openai.ChatCompletionResponse
	err := a.cb.Do(ctx, func(ctx context.Context) error {
		r, e := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: openai.GPT4oMini,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
			Temperature:    0.3,
		})
		if e != nil {
			return e
		}
		resp = r
		return nil
	}, nil)
	if err != nil {
		return Result{}, apperrors.NewTransient("scorer.scoreUnified", "openai", "NO_SUMMARY", "summarize call failed", err)
	}
	a.costTracker.AddUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return Result{}, apperrors.NewBizCode("scorer.scoreUnified", "NO_SUMMARY", "model returned no choices", nil)
	}
	content := resp.Choices[0].Message.Content

	result, err := parseStructuredResponse(content)
	if err != nil {
		result, err = parseResponseFallback(content)
		if err != nil {
			return Result{}, apperrors.NewBizCode("scorer.scoreUnified", "NO_SUMMARY", "could not parse model response", err)
		}
	}
	if strings.TrimSpace(result.Summary) == "" {
		return Result{}, apperrors.NewBizCode("scorer.scoreUnified", "NO_SUMMARY", "model produced an empty summary", nil)
	}
	return result, nil
}

func (a *AIScorer) getSystemPrompt() string {
	if a.pm != nil {
		if rendered, err := a.pm.Render("system", nil); err == nil && strings.TrimSpace(rendered) != "" {
			return rendered
		}
	}
	return fallbackSystemPrompt
}

func (a *AIScorer) buildUserPrompt(name, category, description string) string {
	if a.pm != nil {
		rendered, err := a.pm.Render("unified_user", struct {
			Name        string
			Category    string
			Description string
		}{Name: name, Category: category, Description: description})
		if err == nil && strings.TrimSpace(rendered) != "" {
			return rendered
		}
	}
	return fmt.Sprintf("Venue name: %s\nCategory: %s\nDescription:\n%s\n\nProduce the JSON object described in the system prompt for this venue.", name, category, description)
}

type structuredResponse struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
	Signals struct {
		HQExperience  bool    `json:"hq_experience"`
		QualityScore  float64 `json:"quality_score"`
		LocalGem      bool    `json:"local_gem"`
		EditorPick    bool    `json:"editor_pick"`
		Extraordinary bool    `json:"extraordinary"`
		Dateworthy    bool    `json:"dateworthy"`
	} `json:"signals"`
}

func parseStructuredResponse(content string) (Result, error) {
	var parsed structuredResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return Result{}, err
	}
	return Result{
		Summary: strings.TrimSpace(parsed.Summary),
		Tags:    normalizeTags(parsed.Tags),
		Signals: models.Signals{
			HQExperience:  parsed.Signals.HQExperience,
			QualityScore:  parsed.Signals.QualityScore,
			LocalGem:      parsed.Signals.LocalGem,
			EditorPick:    parsed.Signals.EditorPick,
			Extraordinary: parsed.Signals.Extraordinary,
			Dateworthy:    parsed.Signals.Dateworthy,
		},
	}, nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseResponseFallback salvages a JSON object embedded in prose the model
// may have wrapped the structured payload in despite the JSON-mode request.
func parseResponseFallback(content string) (Result, error) {
	match := jsonObjectPattern.FindString(content)
	if match == "" {
		return Result{}, fmt.Errorf("no JSON object found in response")
	}
	return parseStructuredResponse(match)
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		t = strings.ReplaceAll(t, " ", "_")
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

const fallbackSystemPrompt = `You are an editorial assistant for a metropolitan venue guide. Given a venue's
name, category, and long description, produce a concise guest-facing summary
and a small set of canonical tags describing its cuisine, dishes, drinks,
and experience. Respond with a single JSON object and no other text:

{"summary": "...", "tags": ["cuisine:thai"], "signals": {"hq_experience": false, "quality_score": 0.0, "local_gem": false, "editor_pick": false, "extraordinary": false, "dateworthy": false}}`

// BatchSummarize runs Summarize concurrently over a batch of venues, bounded
// by a five-slot worker semaphore. A venue whose Summarize call fails gets a
// zero Result.
func (a *AIScorer) BatchSummarize(ctx context.Context, venues []models.Venue) []Result {
	results := make([]Result, len(venues))
	sem := make(chan struct{}, 5)
	var wg sync.WaitGroup
	for i, v := range venues {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, v models.Venue) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := a.Summarize(ctx, v.Name, v.Category, v.Description)
			if err != nil {
				return
			}
			results[i] = res
		}(i, v)
	}
	wg.Wait()
	return results
}
