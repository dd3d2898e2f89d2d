package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/roach88/weft/internal/domain"
)

// HTTPClient speaks the replication wire protocol over HTTP:
//
//	GET  {base}/api/v1/repl/{kind}?modifiedAfter={ts}&size={n}
//	GET  {base}/api/v1/repl/{kind}/cursor?origin={origin}
//	POST {base}/api/v1/repl/{kind}
//
// Payloads are plain JSON entity lists; the cursor endpoint returns a
// single JSON timestamp.
type HTTPClient struct {
	base string
	hc   *http.Client
}

// NewHTTPClient creates a transport for the origin's base URL.
func NewHTTPClient(base string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{base: base, hc: hc}
}

// NewHTTPClientFactory adapts NewHTTPClient to the ClientFactory port.
func NewHTTPClientFactory(hc *http.Client) ClientFactory {
	return func(origin *domain.Origin) Client {
		return NewHTTPClient(origin.URL, hc)
	}
}

// Pull implements Client.
func (c *HTTPClient) Pull(ctx context.Context, kind string, after time.Time, limit int, out any) error {
	endpoint := fmt.Sprintf("%s/api/v1/repl/%s?modifiedAfter=%s&size=%s",
		c.base, kind,
		url.QueryEscape(after.UTC().Format(time.RFC3339Nano)),
		strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull %s: unexpected status %d", kind, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Cursor implements Client.
func (c *HTTPClient) Cursor(ctx context.Context, kind, origin string) (time.Time, error) {
	endpoint := fmt.Sprintf("%s/api/v1/repl/%s/cursor?origin=%s",
		c.base, kind, url.QueryEscape(origin))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return time.Time{}, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("cursor %s: unexpected status %d", kind, resp.StatusCode)
	}
	var cursor time.Time
	if err := json.NewDecoder(resp.Body).Decode(&cursor); err != nil {
		return time.Time{}, err
	}
	return cursor, nil
}

// Push implements Client.
func (c *HTTPClient) Push(ctx context.Context, kind string, batch any) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/v1/repl/%s", c.base, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("push %s: unexpected status %d", kind, resp.StatusCode)
	}
	return nil
}
