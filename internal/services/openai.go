package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/wissel/internal/shared"
	"golang.org/x/time/rate"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultTemperature     = 0.8
	defaultMaxTokens       = 2000
	defaultRequestTimeout  = 60 * time.Second
	maxExcludedArtistsText = 20

	// DefaultRationale is used when a suggestion carries no reason.
	DefaultRationale = "AI suggested track"

	curatorSystemPrompt = "You are a professional music curator with deep knowledge of music across all genres and decades."
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// OpenAIService implements [SuggestionGenerator] against an OpenAI-compatible chat completions endpoint.
type OpenAIService struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewOpenAIService creates a generator from config. The API key may come from OPENAI_API_KEY.
func NewOpenAIService(config shared.OpenAIConfig) (*OpenAIService, error) {
	apiKey := config.Key()
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api_key or OPENAI_API_KEY", shared.ErrMissingCredentials)
	}

	svc := &OpenAIService{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		httpClient:  &http.Client{Timeout: defaultRequestTimeout},
		limiter:     rate.NewLimiter(rate.Every(time.Second), 2),
	}
	if svc.baseURL == "" {
		svc.baseURL = defaultOpenAIBaseURL
	}
	if svc.model == "" {
		svc.model = defaultOpenAIModel
	}
	if svc.temperature == 0 {
		svc.temperature = defaultTemperature
	}
	if svc.maxTokens == 0 {
		svc.maxTokens = defaultMaxTokens
	}
	return svc, nil
}

// Suggest implements [SuggestionGenerator].
//
// Transport and HTTP failures wrap [shared.ErrSuggestionsUnavailable]; unparseable content wraps
// [shared.ErrMalformedSuggestionData]. Both send the selector into fallback sourcing.
func (s *OpenAIService) Suggest(ctx context.Context, req SuggestRequest) ([]Suggestion, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSuggestionsUnavailable, err)
	}

	body, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: curatorSystemPrompt},
			{Role: "user", Content: BuildPrompt(req)},
		},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSuggestionsUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: openai status %d: %s", shared.ErrSuggestionsUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrMalformedSuggestionData, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices in response", shared.ErrMalformedSuggestionData)
	}

	return ParseSuggestions(chat.Choices[0].Message.Content)
}

// BuildPrompt renders the curator prompt for req.
func BuildPrompt(req SuggestRequest) string {
	rules := req.RuleSummary
	if strings.TrimSpace(rules) == "" {
		rules = "No specific rules"
	}

	exclude := "None"
	if len(req.ExcludeArtists) > 0 {
		artists := req.ExcludeArtists
		if len(artists) > maxExcludedArtistsText {
			artists = artists[:maxExcludedArtistsText]
		}
		exclude = strings.Join(artists, ", ")
	}

	var b strings.Builder
	b.WriteString("You are a music curator helping to select tracks for a playlist.\n\n")
	fmt.Fprintf(&b, "PLAYLIST VIBE:\n%s\n\n", req.Vibe)
	fmt.Fprintf(&b, "RULES:\n%s\n\n", rules)
	fmt.Fprintf(&b, "CURRENT ARTISTS IN PLAYLIST (avoid these):\n%s\n\n", exclude)
	fmt.Fprintf(&b, "TASK:\nSuggest exactly %d tracks that match the vibe and follow the rules.\n\n", req.Count)
	b.WriteString("REQUIREMENTS:\n")
	b.WriteString("1. Provide diverse tracks that fit the vibe\n")
	b.WriteString("2. DO NOT suggest artists that are already in the playlist\n")
	b.WriteString("3. Follow ALL the rules specified above (decade distribution, language policy, etc.)\n")
	b.WriteString("4. Provide well-known, verifiable tracks (must exist on Spotify)\n")
	b.WriteString("5. Include a brief reason why each track fits\n\n")
	b.WriteString("OUTPUT FORMAT (valid JSON array):\n")
	b.WriteString("[\n  {\"artist\": \"Artist Name\", \"title\": \"Track Title\", \"reason\": \"Brief explanation why this fits\"}\n]\n\n")
	b.WriteString("IMPORTANT: Output ONLY the JSON array, no additional text.")
	return b.String()
}

// ParseSuggestions extracts suggestions from model output, tolerating a markdown code fence around the JSON.
//
// Entries without artist or title are dropped. A missing reason becomes [DefaultRationale].
func ParseSuggestions(content string) ([]Suggestion, error) {
	text := stripFence(content)

	var raw []map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrMalformedSuggestionData, err)
	}

	suggestions := make([]Suggestion, 0, len(raw))
	for _, entry := range raw {
		artist := stringField(entry, "artist")
		title := stringField(entry, "title")
		if artist == "" || title == "" {
			continue
		}
		reason := stringField(entry, "reason")
		if reason == "" {
			reason = DefaultRationale
		}
		suggestions = append(suggestions, Suggestion{Artist: artist, Title: title, Rationale: reason})
	}
	return suggestions, nil
}

func stripFence(s string) string {
	if start := strings.Index(s, "```json"); start >= 0 {
		s = s[start+len("```json"):]
	} else if start := strings.Index(s, "```"); start >= 0 {
		s = s[start+3:]
	} else {
		return strings.TrimSpace(s)
	}
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}
