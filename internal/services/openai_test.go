package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/wissel/internal/shared"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIService {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	svc, err := NewOpenAIService(shared.OpenAIConfig{APIKey: "sk-test", BaseURL: ts.URL + "/"})
	if err != nil {
		t.Fatalf("NewOpenAIService() error = %v", err)
	}
	return svc
}

func chatBody(content string) map[string]any {
	return map[string]any{"choices": []map[string]any{{"message": map[string]any{"content": content}}}}
}

func TestNewOpenAIService(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		svc, err := NewOpenAIService(shared.OpenAIConfig{APIKey: "sk-test"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if svc.model != "gpt-4o-mini" || svc.temperature != 0.8 || svc.maxTokens != 2000 {
			t.Errorf("unexpected defaults: %s %v %d", svc.model, svc.temperature, svc.maxTokens)
		}
		if svc.baseURL != "https://api.openai.com/v1" {
			t.Errorf("unexpected base url %s", svc.baseURL)
		}
	})

	t.Run("Environment key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		svc, err := NewOpenAIService(shared.OpenAIConfig{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if svc.apiKey != "sk-env" {
			t.Errorf("expected key from environment, got %s", svc.apiKey)
		}
	})

	t.Run("Missing key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		if _, err := NewOpenAIService(shared.OpenAIConfig{}); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})
}

func TestOpenAISuggest(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var got chatRequest
		svc := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer sk-test" {
				t.Errorf("missing bearer key")
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			writeJSON(t, w, chatBody("```json\n[{\"artist\":\"Stef Bos\",\"title\":\"Papa\",\"reason\":\"warm\"}]\n```"))
		})

		suggestions, err := svc.Suggest(context.Background(), SuggestRequest{
			Vibe:           "Sunday morning",
			RuleSummary:    "Max 1 track(s) per artist in the active playlist.",
			ExcludeArtists: []string{"De Dijk"},
			Count:          15,
		})
		if err != nil {
			t.Fatalf("Suggest() error = %v", err)
		}
		if len(suggestions) != 1 || suggestions[0].Artist != "Stef Bos" || suggestions[0].Rationale != "warm" {
			t.Errorf("unexpected suggestions %+v", suggestions)
		}

		if got.Model != "gpt-4o-mini" || len(got.Messages) != 2 {
			t.Fatalf("unexpected request %+v", got)
		}
		prompt := got.Messages[1].Content
		for _, want := range []string{"Sunday morning", "Max 1 track(s)", "De Dijk", "exactly 15 tracks"} {
			if !strings.Contains(prompt, want) {
				t.Errorf("prompt missing %q", want)
			}
		}
	})

	t.Run("Server error", func(t *testing.T) {
		svc := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		})
		_, err := svc.Suggest(context.Background(), SuggestRequest{Count: 3})
		if !errors.Is(err, shared.ErrSuggestionsUnavailable) {
			t.Errorf("expected ErrSuggestionsUnavailable, got %v", err)
		}
	})

	t.Run("Empty choices", func(t *testing.T) {
		svc := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"choices": []any{}})
		})
		_, err := svc.Suggest(context.Background(), SuggestRequest{Count: 3})
		if !errors.Is(err, shared.ErrMalformedSuggestionData) {
			t.Errorf("expected ErrMalformedSuggestionData, got %v", err)
		}
	})
}

func TestParseSuggestions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []Suggestion
		wantErr bool
	}{
		{
			name:    "Plain array",
			content: `[{"artist":"Bente","title":"Niemand","reason":"fits"}]`,
			want:    []Suggestion{{Artist: "Bente", Title: "Niemand", Rationale: "fits"}},
		},
		{
			name:    "Fenced without language",
			content: "Here you go:\n```\n[{\"artist\":\"Bente\",\"title\":\"Niemand\"}]\n```",
			want:    []Suggestion{{Artist: "Bente", Title: "Niemand", Rationale: DefaultRationale}},
		},
		{
			name:    "Drops incomplete entries",
			content: `[{"artist":"Bente"},{"title":"Only title"},{"artist":" ","title":"x"},{"artist":"Volumia!","title":"Hou me vast"}]`,
			want:    []Suggestion{{Artist: "Volumia!", Title: "Hou me vast", Rationale: DefaultRationale}},
		},
		{
			name:    "Not an array",
			content: `{"artist":"Bente","title":"Niemand"}`,
			wantErr: true,
		},
		{
			name:    "Not JSON",
			content: "I cannot help with that.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSuggestions(tt.content)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrMalformedSuggestionData) {
					t.Errorf("expected ErrMalformedSuggestionData, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSuggestions() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d suggestions, got %+v", len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("suggestion %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	artists := make([]string, 25)
	for i := range artists {
		artists[i] = "artist" + string(rune('a'+i))
	}

	prompt := BuildPrompt(SuggestRequest{Vibe: "late night", ExcludeArtists: artists, Count: 5})
	if !strings.Contains(prompt, "No specific rules") {
		t.Error("expected empty rule summary placeholder")
	}
	if !strings.Contains(prompt, "artistt") || strings.Contains(prompt, "artistu") {
		t.Error("expected exclusion list truncated to 20 artists")
	}

	if !strings.Contains(BuildPrompt(SuggestRequest{Count: 1}), "(avoid these):\nNone") {
		t.Error("expected None when no artists are excluded")
	}
}
