// Package scryfall is the card reference database client. It implements
// the resolver's CardService boundary against a Scryfall-compatible search
// API.
package scryfall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/deckhaven/import-service/pkg/resolve"
)

// DefaultBaseURL is the public Scryfall API.
const DefaultBaseURL = "https://api.scryfall.com"

// Client searches a Scryfall-compatible card API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client. An empty baseURL uses the public API.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// card is the subset of the API's card object the resolver needs.
type card struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Set        string `json:"set"`
	ReleasedAt string `json:"released_at"`
}

type searchPage struct {
	Data     []card `json:"data"`
	HasMore  bool   `json:"has_more"`
	NextPage string `json:"next_page"`
}

// Search returns candidate printings for a name query. A query with no
// matches is an empty result, not an error; the resolver decides what a
// miss means.
func (c *Client) Search(ctx context.Context, name string) ([]resolve.Printing, error) {
	q := url.Values{}
	q.Set("q", name)
	q.Set("unique", "prints")
	q.Set("order", "released")
	endpoint := c.baseURL + "/cards/search?" + q.Encode()

	var printings []resolve.Printing
	for endpoint != "" {
		page, err := c.fetchPage(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		if page == nil {
			break
		}
		for _, cd := range page.Data {
			p := resolve.Printing{
				CardID:  cd.ID,
				Name:    cd.Name,
				SetCode: cd.Set,
			}
			if t, err := time.Parse("2006-01-02", cd.ReleasedAt); err == nil {
				p.ReleasedAt = t
			}
			printings = append(printings, p)
		}
		endpoint = ""
		if page.HasMore {
			endpoint = page.NextPage
		}
	}
	return printings, nil
}

// fetchPage returns nil for a not-found result page.
func (c *Client) fetchPage(ctx context.Context, endpoint string) (*searchPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build card search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("card search request: %w", err)
	}
	defer resp.Body.Close()

	// The API answers an empty result set with 404.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("card search returned %d: %s", resp.StatusCode, string(body))
	}

	var page searchPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode card search response: %w", err)
	}
	return &page, nil
}
