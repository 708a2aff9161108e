package apiclient

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"path"
)

const defaultFilename = "download"

// Download streams GET response body of rawURL into w. Default headers are sent.
// Downloads are never de-duplicated: each one owns its writer
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	c.mu.RLock()
	target := c.resolve(c.baseURL, rawURL)
	headers := maps.Clone(c.headers)
	c.mu.RUnlock()

	wrap := func(err error) error {
		return &TransportError{Method: http.MethodGet, URL: target, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, wrap(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, wrap(fmt.Errorf("read error body: %w", err))
		}
		httpErr, parseErr := newHTTPError(resp, body)
		if parseErr != nil {
			c.log.Warn("malformed error body", "url", target, "status", resp.StatusCode, "error", parseErr)
		}
		return 0, httpErr
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, wrap(fmt.Errorf("copy body: %w", err))
	}

	c.log.Debug("file downloaded", "url", target, "bytes", n)
	return n, nil
}

// FilenameFromURL returns last path segment of rawURL or "download"
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultFilename
	}

	name := path.Base(u.Path)
	switch name {
	case "", ".", "/":
		return defaultFilename
	}
	return name
}
