package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// CreateScout starts a scout for a free-text prompt.
func (c *Client) CreateScout(ctx context.Context, prompt string) (*ScoutSummary, error) {
	resp, err := c.Do(ctx, Call{
		Method: http.MethodPost,
		Path:   "/api/workplace/scouts",
		Body:   map[string]string{"prompt": prompt},
	})
	if err != nil {
		return nil, err
	}
	var out ScoutSummary
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScout fetches a scout and its results.
func (c *Client) GetScout(ctx context.Context, id string) (*ScoutDetail, error) {
	resp, err := c.Do(ctx, Call{
		Method: http.MethodGet,
		Path:   "/api/workplace/scouts/" + url.PathEscape(id),
	})
	if err != nil {
		return nil, err
	}
	var out ScoutDetail
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListScouts returns one page of scouts, newest first.
func (c *Client) ListScouts(ctx context.Context, limit, offset int) ([]ScoutSummary, error) {
	resp, err := c.Do(ctx, Call{
		Method: http.MethodGet,
		Path:   "/api/workplace/scouts",
		Query:  pageQuery(limit, offset),
	})
	if err != nil {
		return nil, err
	}
	var out []ScoutSummary
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return out, nil
}

const defaultPageSize = 20

func pageQuery(limit, offset int) url.Values {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
}
