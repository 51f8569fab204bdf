package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
)

const maxErrorBody = 4 << 10

// postJSON sends body to endpoint and decodes a 200 response into out.
// Every failure is an EXTERNAL_SERVICE_ERROR.
func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.Internal("marshal embedding request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperr.Internal("create embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return apperr.External("embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apperr.External(
			fmt.Sprintf("embedding API returned %d", resp.StatusCode),
			fmt.Errorf("%s", bytes.TrimSpace(snippet)),
		)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.External("decode embedding response", err)
	}
	return nil
}
