package ontology

import (
	"testing"

	"entertainment-planner/internal/models"
)

func TestLoadIsHealthy(t *testing.T) {
	d, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	hs := d.Health()
	if !hs.Healthy {
		t.Fatalf("expected healthy ontology, got %+v", hs)
	}
	if hs.EntryCount == 0 || hs.SynonymCount == 0 {
		t.Fatalf("expected non-zero counts, got %+v", hs)
	}
}

// TestAliasMapRoundTrip: for every canonical c and every synonym s of c,
// aliasMap[normalize(s)] == c.
func TestAliasMapRoundTrip(t *testing.T) {
	d, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for id := range d.entries {
		e := d.entries[id]
		for _, syn := range e.Synonyms {
			got, ok := d.aliasIdx[normalize(syn)]
			if !ok {
				t.Fatalf("synonym %q of %s not indexed", syn, id)
			}
			if got.Canonical != id {
				t.Fatalf("synonym %q resolves to %s, want %s", syn, got.Canonical, id)
			}
		}
	}
}

func TestKnownSynonymsResolve(t *testing.T) {
	d, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cases := map[string]string{
		"tom yum":  "dish:tom_yum",
		"rooftop":  "experience:rooftop",
		"romantic": "vibe:romantic",
		"chill":    "vibe:chill",
	}
	for surface, want := range cases {
		e, ok := d.aliasIdx[normalize(surface)]
		if !ok {
			t.Fatalf("expected %q to resolve", surface)
		}
		if e.Canonical != want {
			t.Fatalf("surface %q resolved to %s, want %s", surface, e.Canonical, want)
		}
	}
}

// TestDuplicateSynonymDegradesHealth: the same surface claimed by two
// distinct canonicals must fail validation, even though the alias index
// itself (last-write-wins) no longer shows it.
func TestDuplicateSynonymDegradesHealth(t *testing.T) {
	doc := models.OntologyDocument{
		Vibes: []models.OntologyItem{
			{ID: "vibe:chill", Label: "Chill", Aliases: []string{"chill", "mellow"}, BoostDefault: 1.0},
			{ID: "vibe:lively", Label: "Lively", Aliases: []string{"mellow", "buzzing"}, BoostDefault: 1.0},
		},
	}
	d := FromDocument(doc)
	hs := d.Health()
	if hs.Healthy {
		t.Fatalf("expected unhealthy dictionary on duplicate synonym, got %+v", hs)
	}
	if hs.LastError != "DUPLICATE_SYNONYMS" {
		t.Fatalf("expected DUPLICATE_SYNONYMS, got %q", hs.LastError)
	}
}
