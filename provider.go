package creditgate

import "context"

// Generator is the interface that image-generation adapters must implement.
type Generator interface {
	// Name returns the adapter identifier (e.g. "gemini", "openai").
	Name() string

	// Generate produces one image. It is treated as all-or-nothing.
	Generate(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// Segment is one element of an ordered prompt: either text or a media reference.
type Segment struct {
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
}

// IsMedia reports whether the segment references media.
func (s Segment) IsMedia() bool { return s.MediaURL != "" }

// ProviderRequest is the request sent to a generator.
type ProviderRequest struct {
	Credential  string
	Model       string
	Prompt      []Segment
	AspectRatio string
}

// ProviderResponse is the response from a generator.
type ProviderResponse struct {
	Media Media
	// Text is any accompanying text the model returned.
	Text string
}

// Media is a generated image, usually a data URI.
type Media struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}
