// Package registry persists discovered selector sets per site so repeat
// runs against a known site can skip exploration.
package registry

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openrecords/gridscout/models"
)

// Entry is what the registry remembers about one site.
type Entry struct {
	Selectors models.SelectorSet `json:"selectors"`
	Grid      *models.GridSchema `json:"grid,omitempty"`
	UpdatedAt string             `json:"updated_at,omitempty"`
}

// Registry is a JSON-file-backed map of site name to discovered selectors.
// Safe for concurrent use.
type Registry struct {
	path string

	mu    sync.Mutex
	sites map[string]Entry
}

// Open loads the registry, tolerating a missing or empty file.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, sites: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r.sites); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the stored entry for a site.
func (r *Registry) Get(site string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sites[site]
	return e, ok
}

// Put stores an entry for a site and writes the file through.
func (r *Registry) Put(site string, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[site] = e
	return r.save()
}

// save writes the registry file, creating parent directories as needed.
// Callers hold r.mu.
func (r *Registry) save() error {
	if dir := filepath.Dir(r.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(r.sites, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o644)
}

// SiteName derives a filesystem-safe site identifier from a URL: the host
// without "www.", port, or punctuation.
func SiteName(rawURL string) string {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.TrimPrefix(host, "www.")
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}

	var b strings.Builder
	for _, r := range strings.ToLower(host) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "site"
	}
	return name
}
