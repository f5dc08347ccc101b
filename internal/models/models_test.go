package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRunStatus(t *testing.T) {
	tc := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunPreview, RunCommitting, true},
		{RunPreview, RunCancelled, true},
		{RunPreview, RunCommitted, false},
		{RunCommitting, RunCommitted, true},
		{RunCommitting, RunPreview, true},
		{RunCommitting, RunCancelled, false},
		{RunCommitted, RunPreview, false},
		{RunCancelled, RunCommitting, false},
	}

	for _, tt := range tc {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}

	if !RunCommitted.Terminal() || !RunCancelled.Terminal() || RunPreview.Terminal() || RunCommitting.Terminal() {
		t.Error("only committed and cancelled are terminal")
	}
}

func TestDecadeKeys(t *testing.T) {
	t.Run("ParseDecadeKey", func(t *testing.T) {
		tc := []struct {
			key  string
			want int
			ok   bool
		}{
			{"1980s", 1980, true},
			{"2020", 2020, true},
			{" 1990s ", 1990, true},
			{"1985s", 0, false},
			{"eighties", 0, false},
		}
		for _, tt := range tc {
			got, ok := ParseDecadeKey(tt.key)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseDecadeKey(%q) = %d, %v; want %d, %v", tt.key, got, ok, tt.want, tt.ok)
			}
		}
	})

	t.Run("Keys sorted chronologically", func(t *testing.T) {
		d := DecadeDistribution{"2010s": 1, "1980s": 2, "bogus": 1, "2000s": 1}
		want := []string{"1980s", "2000s", "2010s", "bogus"}
		if got := d.Keys(); !reflect.DeepEqual(got, want) {
			t.Errorf("Keys() = %v, want %v", got, want)
		}
		if d.Total() != 5 {
			t.Errorf("Total() = %d, want 5", d.Total())
		}
	})
}

func TestCandidatePoliciesJSON(t *testing.T) {
	t.Run("Shorthand dutch keys", func(t *testing.T) {
		doc := `{"decade_distribution": {"1980s": 1}, "max_dutch_per_block": 1, "allow_dutch": false}`

		var p CandidatePolicies
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		if p.DecadeDistribution["1980s"] != 1 {
			t.Errorf("decade distribution not decoded: %v", p.DecadeDistribution)
		}
		if p.Language == nil || p.Language.MaxPerBlock == nil || *p.Language.MaxPerBlock != 1 {
			t.Fatalf("expected language cap of 1, got %+v", p.Language)
		}
		if p.Language.CappedLanguage() != LanguageDutch {
			t.Errorf("expected cap on nl, got %s", p.Language.CappedLanguage())
		}
		if !p.Language.Forbids(LanguageDutch) {
			t.Error("allow_dutch=false should forbid nl")
		}
	})

	t.Run("Explicit language policy wins", func(t *testing.T) {
		doc := `{"language": {"cap_language": "en", "max_of_language_per_block": 3}, "max_dutch_per_block": 1}`

		var p CandidatePolicies
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if p.Language.CappedLanguage() != LanguageEnglish || *p.Language.MaxPerBlock != 3 {
			t.Errorf("explicit policy overwritten: %+v", p.Language)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		var p CandidatePolicies
		if err := json.Unmarshal([]byte(`{}`), &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !p.Empty() {
			t.Errorf("expected empty policies, got %+v", p)
		}
	})
}

func TestRuleSet(t *testing.T) {
	r := RuleSet{}.Normalize()
	if r.BlockSize != DefaultBlockSize || r.BlockCount != DefaultBlockCount || r.MaxTracksPerArtist != 1 {
		t.Errorf("Normalize() did not apply defaults: %+v", r)
	}

	bad := RuleSet{Policies: CandidatePolicies{HistoryWindowMonths: IntPtr(-1)}}
	if err := bad.Validate(); err == nil {
		t.Error("expected negative history window to be rejected")
	}
}

func TestGenresRoundTrip(t *testing.T) {
	in := []Genre{GenreSoul, GenreRnB, GenreHipHop}
	if got := SplitGenres(JoinGenres(in)); !reflect.DeepEqual(got, in) {
		t.Errorf("SplitGenres(JoinGenres()) = %v, want %v", got, in)
	}
	if SplitGenres("") != nil {
		t.Error("empty column should decode to nil")
	}
}
