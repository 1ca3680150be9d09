package apiclient

import (
	"context"
	"net/http"
	"net/url"
)

// CreateReport generates a report for a finished scout.
func (c *Client) CreateReport(ctx context.Context, scoutID string) (*Report, error) {
	resp, err := c.Do(ctx, Call{
		Method: http.MethodPost,
		Path:   "/api/workplace/scouts/" + url.PathEscape(scoutID) + "/reports",
	})
	if err != nil {
		return nil, err
	}
	var out Report
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListReports returns one page of reports.
func (c *Client) ListReports(ctx context.Context, limit, offset int) ([]Report, error) {
	resp, err := c.Do(ctx, Call{
		Method: http.MethodGet,
		Path:   "/api/workplace/reports",
		Query:  pageQuery(limit, offset),
	})
	if err != nil {
		return nil, err
	}
	var out []Report
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadReportPDF returns the rendered PDF of a report.
func (c *Client) DownloadReportPDF(ctx context.Context, reportID string) ([]byte, error) {
	resp, err := c.Do(ctx, Call{
		Method: http.MethodGet,
		Path:   "/api/workplace/reports/" + url.PathEscape(reportID) + "/pdf",
		Header: http.Header{"Accept": {"application/pdf"}},
	})
	if err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}
