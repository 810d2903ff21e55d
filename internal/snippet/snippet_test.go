package snippet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/JakeFAU/pixelpage/internal/artifact"
	"github.com/JakeFAU/pixelpage/internal/inject"
)

func TestRenderExpandsPixelID(t *testing.T) {
	t.Parallel()

	r, err := New(Config{})
	require.NoError(t, err)

	out, err := r.Render("  C4ABCDEF1234567890XY ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "<script>"))
	assert.True(t, strings.HasSuffix(out, "</script>"))
	assert.Equal(t, 1, strings.Count(out, "C4ABCDEF1234567890XY"))
	assert.Contains(t, out, "ttq.load('C4ABCDEF1234567890XY');")
}

func TestRenderPassesMarkupThrough(t *testing.T) {
	t.Parallel()

	r, err := New(Config{})
	require.NoError(t, err)

	for _, payload := range []string{
		"<script>x</script>",
		`<img src="https://t.example/p.gif?id=1">`,
		"two words",
		"ttq",
		"window",
		"c4abcdef1234567890xy",
		strings.Repeat("A", 21),
	} {
		out, err := r.Render(payload)
		require.NoError(t, err)
		assert.Equal(t, payload, out)
	}
}

func TestRenderRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	r, err := New(Config{})
	require.NoError(t, err)

	_, err = r.Render(" \n\t")
	require.ErrorIs(t, err, artifact.ErrInvalidPayload)
}

func TestRenderCustomTemplate(t *testing.T) {
	t.Parallel()

	r, err := New(Config{
		IDPattern: `^G-[A-Z0-9]+$`,
		Template:  `<script async src="https://tags.example/js?id={{.PixelID}}"></script>`,
	})
	require.NoError(t, err)

	out, err := r.Render("G-ABC123")
	require.NoError(t, err)
	assert.Equal(t, `<script async src="https://tags.example/js?id=G-ABC123"></script>`, out)

	out, err = r.Render("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", out)
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{IDPattern: "("})
	require.Error(t, err)

	_, err = New(Config{Template: "{{.PixelID"})
	require.Error(t, err)

	r, err := New(Config{Template: "{{.Missing}}"})
	require.NoError(t, err)
	_, err = r.Render("abc")
	require.Error(t, err)
}

func TestRenderedPayloadAppearsOnceProperty(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)
	injector := inject.New(inject.Config{})
	page := artifact.Markup{Body: []byte("<html><head><title>t</title></head><body>hi</body></html>")}

	rapid.Check(t, func(rt *rapid.T) {
		payload := rapid.OneOf(
			rapid.StringMatching(`[A-Z0-9]{20}`),
			rapid.StringMatching(`[qwxzjkv]{1,12}`),
			rapid.SampledFrom([]string{"ttq", "track", "window", "page", "script", "load", "w", "n"}),
		).Draw(rt, "payload")

		markup, err := r.Render(payload)
		if err != nil {
			rt.Fatalf("render: %v", err)
		}
		out, err := injector.Inject(page, markup)
		if err != nil {
			rt.Fatalf("inject: %v", err)
		}
		if n := strings.Count(string(out), payload); n != 1 {
			rt.Fatalf("payload %q appears %d times", payload, n)
		}
	})
}
