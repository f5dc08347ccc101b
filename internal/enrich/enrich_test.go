package enrich

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/services"
	tu "github.com/desertthunder/wissel/internal/testing"
)

func TestParseYear(t *testing.T) {
	tc := []struct {
		in   string
		want int
		ok   bool
	}{
		{"1985", 1985, true},
		{"1985-06", 1985, true},
		{"1985-06-01", 1985, true},
		{"  2003-01-01", 2003, true},
		{"0000", 0, false},
		{"", 0, false},
		{"85", 0, false},
		{"unknown", 0, false},
	}

	for _, tt := range tc {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseYear(tt.in)
			if (got != nil) != tt.ok {
				t.Fatalf("ParseYear(%q) = %v, want ok=%v", tt.in, got, tt.ok)
			}
			if got != nil && *got != tt.want {
				t.Errorf("ParseYear(%q) = %d, want %d", tt.in, *got, tt.want)
			}
		})
	}

	if d := DecadeOf(models.IntPtr(1989)); d == nil || *d != 1980 {
		t.Errorf("DecadeOf(1989) = %v, want 1980", d)
	}
	if DecadeOf(nil) != nil {
		t.Error("DecadeOf(nil) should be nil")
	}
}

func TestHeuristicLanguage(t *testing.T) {
	h := NewHeuristic(models.LanguageDutch)

	tc := []struct {
		name string
		in   LanguageInput
		want models.Language
	}{
		{
			name: "Home region only markets",
			in:   LanguageInput{Title: "Anything", Artist: "Someone", Markets: []string{"NL", "BE"}, HomeMarket: "NL"},
			want: models.LanguageDutch,
		},
		{
			name: "Dutch function words",
			in:   LanguageInput{Title: "Het is een nacht", Artist: "Guus Meeuwis", HomeMarket: "NL"},
			want: models.LanguageDutch,
		},
		{
			name: "English function words",
			in:   LanguageInput{Title: "The Way You Make Me Feel", Artist: "Michael Jackson", HomeMarket: "NL"},
			want: models.LanguageEnglish,
		},
		{
			name: "Known artist",
			in:   LanguageInput{Title: "Laura", Artist: "Bente", HomeMarket: "NL"},
			want: models.LanguageDutch,
		},
		{
			name: "Home market missing rules out target",
			in:   LanguageInput{Title: "Laura", Artist: "Bente", Markets: []string{"US", "GB"}, HomeMarket: "NL"},
			want: models.LanguageOther,
		},
		{
			name: "Bracketed suffix ignored",
			in:   LanguageInput{Title: "Zoutelande (feat. de band van het jaar)", Artist: "Unknown"},
			want: models.LanguageOther,
		},
		{
			name: "No signal",
			in:   LanguageInput{Title: "Zoutelande", Artist: "Unknown", Markets: []string{"NL", "US"}, HomeMarket: "NL"},
			want: models.LanguageOther,
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.Language(tt.in); got != tt.want {
				t.Errorf("Language() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHeuristicGenres(t *testing.T) {
	h := NewHeuristic("")

	tc := []struct {
		name string
		raw  []string
		want []models.Genre
	}{
		{"Empty", nil, nil},
		{"Dutch pop is regional", []string{"dutch pop"}, []models.Genre{models.GenreRegionalLanguage}},
		{"Keyword order", []string{"indie rock", "dance pop", "classic rock"}, []models.Genre{models.GenreIndie, models.GenrePop, models.GenreRock}},
		{"Deduplicated", []string{"pop", "dance pop", "europop"}, []models.Genre{models.GenrePop}},
		{"Unknown dropped", []string{"polka", "deep house"}, []models.Genre{models.GenreElectronic}},
		{"Hip hop before pop", []string{"pop rap"}, []models.Genre{models.GenreHipHop}},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.Genres(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Genres(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEnrichBatch(t *testing.T) {
	catalog := []services.Track{
		{ID: "t1", Title: "Billie Jean", Artist: "Michael Jackson", ReleaseDate: "1982-11-30", Genres: []string{"pop", "soul"}},
		{ID: "t2", Title: "Zoutelande", Artist: "BLØF", ReleaseDate: "2017", Markets: []string{"NL", "BE"}, Genres: []string{"dutch pop"}},
		{ID: "t3", Title: "Mystery", Artist: "Nobody", ReleaseDate: ""},
	}

	t.Run("Metadata merged in order", func(t *testing.T) {
		src := tu.NewMockSource(catalog...)
		src.Batch = 2
		e := New(src, nil, nil)

		in := []services.Track{{ID: "t2", Title: "Zoutelande", Artist: "BLØF"}, {ID: "t1", Title: "Billie Jean", Artist: "Michael Jackson"}, {ID: "t3", Title: "Mystery", Artist: "Nobody"}}
		got, err := e.EnrichBatch(context.Background(), "NL", in)
		if err != nil {
			t.Fatalf("EnrichBatch() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 results, got %d", len(got))
		}
		if src.CallCount("TrackMetadata") != 2 {
			t.Errorf("expected 2 metadata batches, got %d", src.CallCount("TrackMetadata"))
		}

		if got[0].Language != models.LanguageDutch || *got[0].Decade != 2010 {
			t.Errorf("t2 = %+v", got[0])
		}
		if *got[1].Year != 1982 || !got[1].HasGenre(models.GenreSoul) {
			t.Errorf("t1 = %+v", got[1])
		}
		if got[2].Year != nil || got[2].Decade != nil {
			t.Errorf("t3 should have no year, got %+v", got[2])
		}
	})

	t.Run("Lookup failure falls back to track fields", func(t *testing.T) {
		src := tu.NewMockSource(catalog...)
		src.MetadataErr = errors.New("boom")
		e := New(src, nil, nil)

		got, err := e.EnrichBatch(context.Background(), "NL", catalog[:1])
		if err != nil {
			t.Fatalf("EnrichBatch() error = %v", err)
		}
		if got[0].Year == nil || *got[0].Year != 1982 {
			t.Errorf("expected fallback year 1982, got %+v", got[0])
		}
	})

	t.Run("Cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		e := New(tu.NewMockSource(catalog...), nil, nil)
		if _, err := e.EnrichBatch(ctx, "NL", catalog); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
