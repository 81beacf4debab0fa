package links

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Lookup returns the outgoing links of an article.
type Lookup interface {
	Links(ctx context.Context, title string) ([]string, error)
}

// HTTPClient talks to the article-link service.
type HTTPClient struct {
	base   string
	client *http.Client
}

func NewHTTPClient(base string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Links(ctx context.Context, title string) ([]string, error) {
	u := fmt.Sprintf("%s/links?title=%s", c.base, url.QueryEscape(title))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("link lookup: bad status: %s", resp.Status)
	}

	var payload struct {
		Links []string `json:"links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Links, nil
}

// Filter trims a candidate set per the race rules: image/file links are
// dropped unless enabled, and the list is capped at maxLinks (0 = all).
func Filter(all []string, maxLinks int, includeImages bool) []string {
	out := make([]string, 0, len(all))
	for _, l := range all {
		if !includeImages && isImageLink(l) {
			continue
		}
		out = append(out, l)
		if maxLinks > 0 && len(out) == maxLinks {
			break
		}
	}
	return out
}

func isImageLink(title string) bool {
	lower := strings.ToLower(title)
	return strings.HasPrefix(lower, "file:") || strings.HasPrefix(lower, "image:")
}

// Contains reports whether the candidate set includes the article,
// compared loosely the same way destinations are.
func Contains(all []string, article string, norm func(string) string) bool {
	want := norm(article)
	for _, l := range all {
		if norm(l) == want {
			return true
		}
	}
	return false
}
