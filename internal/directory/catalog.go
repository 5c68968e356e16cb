package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Source loads one directory URL's JSON array of AppDirectoryEntry.
// spec.md §1 scopes the concrete HTTP loader for remote app-directory
// JSON out as an external collaborator ("consumed through the
// contracts in §6"); HTTPSource below is the thin net/http
// implementation of that contract.
type Source interface {
	// Load fetches and decodes this source's entries, returning the
	// host label used to re-key appIds (§4.5).
	Load(ctx context.Context) (entries []Entry, sourceHost string, err error)
}

// HTTPSource fetches one directory URL over HTTP.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPSource builds a Source for rawURL, using a default client
// with a bounded timeout if client is nil.
func NewHTTPSource(rawURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{URL: rawURL, Client: client}
}

func (s *HTTPSource) Load(ctx context.Context) ([]Entry, string, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, "", fmt.Errorf("parse directory url %q: %w", s.URL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, u.Host, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, u.Host, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, u.Host, fmt.Errorf("directory url %q returned status %d", s.URL, resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, u.Host, fmt.Errorf("decode directory url %q: %w", s.URL, err)
	}
	return entries, u.Host, nil
}
