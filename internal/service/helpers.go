package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

func GetExpiresAt(expiresIn int) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}

// apiClient performs JSON calls against one platform API and turns transport
// failures and non-2xx statuses into *PublishError.
type apiClient struct {
	provider models.Provider
	http     *http.Client
}

func newAPIClient(provider models.Provider, client *http.Client) apiClient {
	if client == nil {
		client = http.DefaultClient
	}
	return apiClient{provider: provider, http: client}
}

func (c apiClient) doJSON(ctx context.Context, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return NewPublishError(c.provider, models.ErrorKindInternal, fmt.Errorf("error marshalling payload: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return NewPublishError(c.provider, models.ErrorKindInternal, fmt.Errorf("error creating request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return NewPublishError(c.provider, models.ErrorKindTransientNetwork, fmt.Errorf("HTTP request error: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewPublishError(c.provider, models.ErrorKindTransientNetwork, fmt.Errorf("error reading response body: %w", err))
	}

	if kind := ClassifyHTTPStatus(resp.StatusCode); kind != models.ErrorKindNone {
		return NewPublishError(c.provider, kind,
			fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, truncate(respBody, 512)))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return NewPublishError(c.provider, models.ErrorKindInternal, fmt.Errorf("error parsing response: %w", err))
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
