package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"card-reward-advisor/internal/models"
)

const redditSearchURL = "https://www.reddit.com/search.json"

// Scanner collects public community mentions of a merchant's card offers.
// It is cosmetic enrichment only: every failure degrades to an empty result
// rather than an error, so a recommendation never fails on a flaky scan.
type Scanner struct {
	httpClient *http.Client
	userAgent  string
	searchURL  string
}

// NewScanner creates a scanner with the given request timeout.
func NewScanner(timeout time.Duration) *Scanner {
	return &Scanner{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "card-reward-advisor/1.0",
		searchURL:  redditSearchURL,
	}
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title     string `json:"title"`
				Selftext  string `json:"selftext"`
				Permalink string `json:"permalink"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Scan gathers recent community posts mentioning the merchant.
func (s *Scanner) Scan(ctx context.Context, merchant string) models.InsightResult {
	query := merchant
	if query == "" {
		query = "credit card offers"
	}

	var items []models.InsightItem
	var sources []models.InsightSource

	redditItems := s.scanReddit(ctx, query)
	if len(redditItems) > 0 {
		items = append(items, redditItems...)
		sources = append(sources, models.InsightSource{
			Name: "Reddit",
			URL:  "https://www.reddit.com/search/?q=" + url.QueryEscape(query),
		})
	}

	summary := fmt.Sprintf(
		"Collected %d community mentions for %q at %s",
		len(items), query, time.Now().UTC().Format("2006-01-02 15:04 UTC"),
	)
	return models.InsightResult{Summary: summary, Sources: sources, Items: items}
}

func (s *Scanner) scanReddit(ctx context.Context, query string) []models.InsightItem {
	params := url.Values{}
	params.Set("q", query+" credit card offer")
	params.Set("limit", "5")
	params.Set("sort", "new")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil
	}

	var items []models.InsightItem
	for _, child := range listing.Data.Children {
		post := child.Data
		postURL := "https://www.reddit.com"
		if post.Permalink != "" {
			postURL += post.Permalink
		}
		snippet := post.Selftext
		if len(snippet) > 220 {
			snippet = snippet[:220]
		}
		title := post.Title
		if title == "" {
			title = "Untitled Reddit post"
		}
		items = append(items, models.InsightItem{
			Source:  "reddit",
			Title:   title,
			Snippet: snippet,
			URL:     postURL,
		})
	}
	return items
}
