package creditgate

import (
	"fmt"
	"strings"
)

// DefaultMaxImages caps the images produced by one request.
const DefaultMaxImages = 4

// referenceOnlyInstruction is sent when a request carries reference images but no text.
const referenceOnlyInstruction = "Generate an image based on the reference image."

// GenerateRequest is a user's image generation request.
type GenerateRequest struct {
	Prompt          string   `json:"prompt"`
	Style           string   `json:"style,omitempty"`
	AspectRatio     string   `json:"aspectRatio,omitempty"`
	NumberOfImages  int      `json:"numberOfImages,omitempty"`
	ReferenceImages []string `json:"referenceImages,omitempty"`
}

// Style is a preset appended to the user's prompt.
type Style struct {
	Value  string
	Label  string
	Prompt string
}

// Styles lists the style presets.
var Styles = []Style{
	{Value: "none", Label: "None", Prompt: ""},
	{Value: "cinematic", Label: "Cinematic", Prompt: "cinematic, dramatic, detailed, high quality"},
	{Value: "photorealistic", Label: "Photorealistic", Prompt: "photorealistic, realistic, detailed, high quality"},
	{Value: "anime", Label: "Anime", Prompt: "anime style, manga style, vibrant, Japanese animation"},
	{Value: "3d-model", Label: "3D Model", Prompt: "3d model, rendered in blender, unreal engine, cgi"},
	{Value: "ghibli", Label: "Ghibli Style", Prompt: "Studio Ghibli style, hand-drawn, whimsical, detailed background"},
	{Value: "pixel-art", Label: "Pixel Art", Prompt: "pixel art, 16-bit, retro, classic video game style"},
	{Value: "fantasy", Label: "Fantasy Art", Prompt: "fantasy art, detailed, epic, mythical, D&D style"},
	{Value: "vaporwave", Label: "Vaporwave", Prompt: "vaporwave aesthetic, neon, retro-futuristic, 80s style"},
	{Value: "sticker", Label: "Sticker", Prompt: "die-cut sticker, vector, cute, flat design"},
}

// AspectRatios lists the accepted aspect ratios. The first is the default.
var AspectRatios = []string{"1:1", "16:9", "9:16"}

// StyleByValue looks up a style preset.
func StyleByValue(value string) (Style, bool) {
	for _, s := range Styles {
		if s.Value == value {
			return s, true
		}
	}
	return Style{}, false
}

// normalizeRequest applies defaults and validates limits.
func normalizeRequest(req GenerateRequest, maxImages int) (GenerateRequest, error) {
	if req.NumberOfImages == 0 {
		req.NumberOfImages = 1
	}
	if req.NumberOfImages < 1 || req.NumberOfImages > maxImages {
		return req, fmt.Errorf("%w: number of images must be between 1 and %d", ErrInvalidRequest, maxImages)
	}

	if req.AspectRatio == "" {
		req.AspectRatio = AspectRatios[0]
	}
	valid := false
	for _, r := range AspectRatios {
		if r == req.AspectRatio {
			valid = true
			break
		}
	}
	if !valid {
		return req, fmt.Errorf("%w: unsupported aspect ratio %q", ErrInvalidRequest, req.AspectRatio)
	}
	return req, nil
}

// BuildPrompt assembles the ordered prompt payload. Reference images come
// first, followed by the text instruction. Unknown styles add nothing.
func BuildPrompt(req GenerateRequest) ([]Segment, error) {
	var parts []string
	if s, ok := StyleByValue(req.Style); ok && s.Prompt != "" {
		parts = append(parts, s.Prompt)
	}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		parts = append(parts, p)
	}

	var refs []string
	for _, r := range req.ReferenceImages {
		if r = strings.TrimSpace(r); r != "" {
			refs = append(refs, r)
		}
	}

	if strings.TrimSpace(req.Prompt) == "" && len(refs) == 0 {
		return nil, fmt.Errorf("%w: a prompt or reference image is required", ErrInvalidRequest)
	}

	segments := make([]Segment, 0, len(refs)+1)
	for _, r := range refs {
		segments = append(segments, Segment{MediaURL: r})
	}

	text := strings.Join(parts, ", ")
	if text == "" {
		text = referenceOnlyInstruction
	}
	segments = append(segments, Segment{Text: text})
	return segments, nil
}
