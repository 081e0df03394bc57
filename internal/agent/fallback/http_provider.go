package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPProvider calls a GenAI gateway at {baseURL}/api/ai/generate.
type HTTPProvider struct {
	id          string
	baseURL     string
	apiKey      string
	client      *http.Client
	maxTokens   int
	temperature float64
}

// NewHTTPProvider builds a provider without a client-level timeout; the
// chain bounds every call through the request context.
func NewHTTPProvider(id, baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		id:          id,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		client:      &http.Client{},
		maxTokens:   300,
		temperature: 0.2,
	}
}

func (p *HTTPProvider) ID() string { return p.id }

func (p *HTTPProvider) Generate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"prompt": buildPrompt(req),
		"context": map[string]interface{}{
			"companyId": req.CompanyID,
			"snippets":  req.Context,
		},
		"model":       req.Model,
		"max_tokens":  p.maxTokens,
		"temperature": p.temperature,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/ai/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var apiResponse struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return "", fmt.Errorf("decode error: %w", err)
	}
	return apiResponse.Text, nil
}
