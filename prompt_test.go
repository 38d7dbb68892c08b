package creditgate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cg "github.com/ineyio/creditgate"
)

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name string
		req  cg.GenerateRequest
		want []cg.Segment
	}{
		{
			name: "text only",
			req:  cg.GenerateRequest{Prompt: "  a cat  "},
			want: []cg.Segment{{Text: "a cat"}},
		},
		{
			name: "style prepended",
			req:  cg.GenerateRequest{Prompt: "a cat", Style: "anime"},
			want: []cg.Segment{{Text: "anime style, manga style, vibrant, Japanese animation, a cat"}},
		},
		{
			name: "none style adds nothing",
			req:  cg.GenerateRequest{Prompt: "a cat", Style: "none"},
			want: []cg.Segment{{Text: "a cat"}},
		},
		{
			name: "unknown style ignored",
			req:  cg.GenerateRequest{Prompt: "a cat", Style: "watercolor"},
			want: []cg.Segment{{Text: "a cat"}},
		},
		{
			name: "references first",
			req:  cg.GenerateRequest{Prompt: "a cat", ReferenceImages: []string{"r1", " ", "r2"}},
			want: []cg.Segment{{MediaURL: "r1"}, {MediaURL: "r2"}, {Text: "a cat"}},
		},
		{
			name: "reference only",
			req:  cg.GenerateRequest{ReferenceImages: []string{"r1"}},
			want: []cg.Segment{{MediaURL: "r1"}, {Text: "Generate an image based on the reference image."}},
		},
		{
			name: "reference with style only",
			req:  cg.GenerateRequest{Style: "sticker", ReferenceImages: []string{"r1"}},
			want: []cg.Segment{{MediaURL: "r1"}, {Text: "die-cut sticker, vector, cute, flat design"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cg.BuildPrompt(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.False(t, got[len(got)-1].IsMedia(), "text is always last")
		})
	}
}

func TestBuildPrompt_Empty(t *testing.T) {
	for _, req := range []cg.GenerateRequest{
		{},
		{Prompt: "   "},
		{Style: "anime"},
		{ReferenceImages: []string{"", " "}},
	} {
		_, err := cg.BuildPrompt(req)
		assert.ErrorIs(t, err, cg.ErrInvalidRequest)
	}
}

func TestStyleByValue(t *testing.T) {
	s, ok := cg.StyleByValue("ghibli")
	require.True(t, ok)
	assert.Equal(t, "Ghibli Style", s.Label)

	_, ok = cg.StyleByValue("Ghibli")
	assert.False(t, ok)
}
