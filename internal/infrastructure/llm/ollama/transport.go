package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

func (c *Client) postJSON(ctx context.Context, path string, request any, response any, apiName string) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", apiName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", apiName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", apiName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", apiName, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return &HTTPStatusError{
			Operation:  apiName,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncateBody(body),
		}
	}

	if response == nil {
		return nil
	}
	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("%s: decode response: %w", apiName, err)
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit])
}
