package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ineyio/creditgate"
)

// Generator is an adapter for OpenAI-compatible image generation APIs.
// Works with OpenAI, Together, xAI and other hosts of /images/generations.
// Reference images are not supported by that endpoint.
type Generator struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

var _ creditgate.Generator = (*Generator)(nil)

// Option configures the generator.
type Option func(*Generator)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) { g.httpClient = c }
}

// New creates a new OpenAI-compatible generator.
func New(name, baseURL string, opts ...Option) *Generator {
	g := &Generator{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewOpenAI creates a generator for OpenAI.
func NewOpenAI(opts ...Option) *Generator {
	return New("openai", "https://api.openai.com/v1", opts...)
}

// NewGrok creates a generator for Grok/xAI.
func NewGrok(opts ...Option) *Generator {
	return New("grok", "https://api.x.ai/v1", opts...)
}

func (g *Generator) Name() string { return g.name }

// sizes maps aspect ratios to the closest supported output size.
var sizes = map[string]string{
	"1:1":  "1024x1024",
	"16:9": "1792x1024",
	"9:16": "1024x1792",
}

// apiRequest is the OpenAI image generation request format.
type apiRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

// apiResponse is the OpenAI image generation response format.
type apiResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

// Generate requests one image.
func (g *Generator) Generate(ctx context.Context, req creditgate.ProviderRequest) (creditgate.ProviderResponse, error) {
	var text []string
	for _, seg := range req.Prompt {
		if seg.IsMedia() {
			return creditgate.ProviderResponse{}, fmt.Errorf("%w: %s does not accept reference images",
				creditgate.ErrInvalidRequest, g.name)
		}
		text = append(text, seg.Text)
	}

	body := apiRequest{
		Model:          req.Model,
		Prompt:         strings.Join(text, "\n"),
		N:              1,
		Size:           sizes[req.AspectRatio],
		ResponseFormat: "b64_json",
	}

	httpResp, err := g.doRequest(ctx, req.Credential, body)
	if err != nil {
		return creditgate.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return creditgate.ProviderResponse{}, err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return creditgate.ProviderResponse{}, fmt.Errorf("creditgate: decode %s response: %w", g.name, err)
	}
	if len(resp.Data) == 0 {
		return creditgate.ProviderResponse{}, fmt.Errorf("creditgate: empty data in %s response", g.name)
	}

	d := resp.Data[0]
	out := creditgate.ProviderResponse{Text: d.RevisedPrompt}
	switch {
	case d.B64JSON != "":
		out.Media = creditgate.Media{URL: "data:image/png;base64," + d.B64JSON, ContentType: "image/png"}
	case d.URL != "":
		out.Media = creditgate.Media{URL: d.URL}
	default:
		return creditgate.ProviderResponse{}, fmt.Errorf("creditgate: %s returned no image", g.name)
	}
	return out, nil
}

func (g *Generator) doRequest(ctx context.Context, apiKey string, body apiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("creditgate: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/images/generations", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creditgate: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, creditgate.ErrProviderUnavailable
	}

	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return creditgate.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return creditgate.ErrAuthFailed
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", creditgate.ErrInvalidRequest, string(body))
	default:
		return creditgate.ErrProviderUnavailable
	}
}
