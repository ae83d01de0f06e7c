package registry

import (
	"path/filepath"
	"testing"

	"github.com/openrecords/gridscout/models"
)

func TestOpenMissingFile(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Open on missing file: %v", err)
	}
	if _, ok := r.Get("anything"); ok {
		t.Error("empty registry returned an entry")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "registry.json")

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := Entry{
		Selectors: models.SelectorSet{Input: "#SearchOnName", Submit: "#btnSearch", Grid: "#grid"},
	}
	if err := r.Put("county_example_gov", want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Reopen from disk to prove persistence.
	r2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := r2.Get("county_example_gov")
	if !ok {
		t.Fatal("entry lost after reopen")
	}
	if got.Selectors != want.Selectors {
		t.Errorf("selectors = %+v, want %+v", got.Selectors, want.Selectors)
	}
}

func TestSiteName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.countyrecords.example.gov/search", "countyrecords_example_gov"},
		{"http://host:8080/path", "host"},
		{"https://sub.domain.co.us", "sub_domain_co_us"},
		{"not a url at all!!", "not_a_url_at_all"},
	}
	for _, tt := range tests {
		if got := SiteName(tt.in); got != tt.want {
			t.Errorf("SiteName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
