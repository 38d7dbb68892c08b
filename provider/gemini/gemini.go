package gemini

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Generator is the Gemini image generation adapter.
type Generator struct {
	baseURL    string
	httpClient *http.Client
}

var _ creditgate.Generator = (*Generator)(nil)

// Option configures the generator.
type Option func(*Generator)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(g *Generator) { g.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) { g.httpClient = c }
}

// New creates a new Gemini generator.
func New(opts ...Option) *Generator {
	g := &Generator{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Name() string { return "gemini" }

// Gemini API types.
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Generate requests one image. The prompt segments are sent as parts in order.
func (g *Generator) Generate(ctx context.Context, req creditgate.ProviderRequest) (creditgate.ProviderResponse, error) {
	body, err := buildRequest(req)
	if err != nil {
		return creditgate.ProviderResponse{}, err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, req.Model, req.Credential)

	httpResp, err := g.doRequest(ctx, url, body)
	if err != nil {
		return creditgate.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return creditgate.ProviderResponse{}, err
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return creditgate.ProviderResponse{}, fmt.Errorf("creditgate: decode gemini response: %w", err)
	}

	if resp.PromptFeedback.BlockReason != "" {
		return creditgate.ProviderResponse{}, fmt.Errorf("%w: prompt blocked: %s",
			creditgate.ErrInvalidRequest, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return creditgate.ProviderResponse{}, fmt.Errorf("creditgate: empty candidates in gemini response")
	}

	var out creditgate.ProviderResponse
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.InlineData != nil && out.Media.URL == "":
			out.Media = creditgate.Media{
				URL:         "data:" + part.InlineData.MimeType + ";base64," + part.InlineData.Data,
				ContentType: part.InlineData.MimeType,
			}
		case part.Text != "":
			out.Text += part.Text
		}
	}
	if out.Media.URL == "" {
		return creditgate.ProviderResponse{}, fmt.Errorf("creditgate: gemini returned no image (finish reason %q)",
			resp.Candidates[0].FinishReason)
	}
	return out, nil
}

func buildRequest(req creditgate.ProviderRequest) (geminiRequest, error) {
	parts := make([]geminiPart, 0, len(req.Prompt))
	for _, seg := range req.Prompt {
		if !seg.IsMedia() {
			parts = append(parts, geminiPart{Text: seg.Text})
			continue
		}
		part, err := mediaPart(seg.MediaURL)
		if err != nil {
			return geminiRequest{}, err
		}
		parts = append(parts, part)
	}

	gr := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}
	if req.AspectRatio != "" {
		gr.GenerationConfig.ImageConfig = &geminiImageConfig{AspectRatio: req.AspectRatio}
	}
	return gr, nil
}

// mediaPart sends data URIs inline and anything else by reference.
func mediaPart(ref string) (geminiPart, error) {
	if !strings.HasPrefix(ref, "data:") {
		return geminiPart{FileData: &geminiFileData{FileURI: ref}}, nil
	}

	header, data, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return geminiPart{}, fmt.Errorf("%w: reference image must be a base64 data URI", creditgate.ErrInvalidRequest)
	}
	return geminiPart{InlineData: &geminiInlineData{
		MimeType: strings.TrimSuffix(header, ";base64"),
		Data:     data,
	}}, nil
}

func (g *Generator) doRequest(ctx context.Context, url string, body geminiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("creditgate: marshal gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creditgate: create gemini request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

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
