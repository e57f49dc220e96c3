package rapidpro

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/BTreeMap/RunPipe/internal/models"
)

// RunPage is one page of runs.json. Results are left raw; Next is empty on
// the last page.
type RunPage struct {
	Results []json.RawMessage `json:"results"`
	Next    string            `json:"next"`
}

// RunsURL returns the first page URL for the configured flow.
func RunsURL(cfg models.ConnectionConfig) string {
	return cfg.BaseURL() + RunsPath + "?flow=" + url.QueryEscape(cfg.FlowUUID)
}

// FetchRunsPage fetches a single page of runs from pageURL.
func (c *Client) FetchRunsPage(ctx context.Context, cfg models.ConnectionConfig, pageURL string) (*RunPage, error) {
	var page RunPage
	if err := c.getJSON(ctx, cfg, pageURL, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// WalkRuns fetches the first runs page for the configured flow and then
// follows each server supplied next URL until a page has none, calling visit
// for every page in fetch order. Pages are fetched one at a time. It returns
// the number of pages fetched; the first fetch or visit error stops the walk.
func (c *Client) WalkRuns(ctx context.Context, cfg models.ConnectionConfig, visit func(page *RunPage) error) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	pageURL := RunsURL(cfg)
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		page, err := c.FetchRunsPage(ctx, cfg, pageURL)
		if err != nil {
			slog.Error("RapidPro.WalkRuns page fetch failed", "page", pages+1, "error", err)
			return pages, fmt.Errorf("failed to fetch runs page %d: %w", pages+1, err)
		}
		pages++
		slog.Debug("RapidPro.WalkRuns page fetched", "page", pages, "runs", len(page.Results), "has_next", page.Next != "")
		if err := visit(page); err != nil {
			return pages, err
		}
		if page.Next == "" {
			return pages, nil
		}
		pageURL = page.Next
	}
}
