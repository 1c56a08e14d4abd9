package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPParticipant reaches a remote participant over JSON HTTP. Each
// operation becomes POST {baseURL}/invoke/{operation} with the payload
// as the request body.
type HTTPParticipant struct {
	baseURL string
	client  *http.Client
}

func NewHTTPParticipant(baseURL string) *HTTPParticipant {
	return &HTTPParticipant{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			// The gateway strategy owns the deadline; this is the
			// absolute ceiling for a single exchange.
			Timeout: 30 * time.Second,
		},
	}
}

func (p *HTTPParticipant) Invoke(ctx context.Context, operation string, payload any) (any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", operation, err)
	}

	url := p.baseURL + "/invoke/" + operation
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("invoke %s: status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode %s response: %w", operation, err)
	}
	return result, nil
}

// LocalParticipant accepts every write and answers reads with an empty
// result. It backs standalone deployments where no remote authority is
// configured and this service owns its ledger outright.
type LocalParticipant struct{}

func (LocalParticipant) Invoke(ctx context.Context, operation string, payload any) (any, error) {
	return nil, nil
}
