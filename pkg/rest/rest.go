// Package rest wraps the HTTP client used for venue snapshot endpoints,
// mapping response classes onto the shared error taxonomy.
package rest

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/atrimo/torrent/internal/errs"
)

// Client is a thin venue REST client. One per venue adapter.
type Client struct {
	http *resty.Client
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: http}
}

// Get issues a GET with query params and decodes the JSON body into out.
// 4xx maps to BadRequest, 5xx to BadStatus, transport failures to
// BadConnection and decode failures to BadParse.
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		Get(endpoint)
	if err != nil {
		// A body that fails to decode comes back as an error on a response
		// that did arrive; transport failures carry no status.
		if resp != nil && resp.IsSuccess() {
			return errs.BadParse(err, "GET %s: undecodable body", endpoint)
		}
		return errs.BadConnection(err, "GET %s", endpoint)
	}
	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		if out != nil && resp.Result() == nil {
			return errs.BadParse(nil, "GET %s: undecodable body", endpoint)
		}
		return nil
	case status >= 400 && status < 500:
		return errs.BadRequest(nil, "GET %s: %s", endpoint, resp.Status())
	default:
		return errs.BadStatus(nil, "GET %s: %s", endpoint, resp.Status())
	}
}
