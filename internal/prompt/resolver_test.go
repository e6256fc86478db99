package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	r, err := NewResolver(path)
	require.NoError(t, err)
	return r, path
}

func TestRenderExactTemplate(t *testing.T) {
	r, _ := newTestResolver(t)

	out := r.Render("formatting_clean", map[string]string{"content": "hello world"})
	assert.True(t, strings.HasSuffix(out, "Text to format:\nhello world"))
	assert.NotContains(t, out, "{content}")
}

func TestRenderFallsBackByCategory(t *testing.T) {
	r, _ := newTestResolver(t)

	cases := map[string]string{
		"vlm_notes":        DefaultVLM,
		"vlm_clean":        DefaultVLM,
		"htr_notes":        DefaultHTR,
		"formatting_forms": DefaultFormatting,
		"mystery":          "",
	}
	for name, want := range cases {
		assert.Equal(t, want, r.Resolve(name), name)
	}

	out := r.Render("formatting_forms", map[string]string{"content": "abc"})
	assert.True(t, strings.HasSuffix(out, "abc"))
	assert.Equal(t, GenericPrompt, r.Render("mystery", nil))
}

func TestRenderLeavesMissingPlaceholders(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Set(Template{Name: "vlm_custom", Content: "Page {page_number} of {total_pages} in {filename}"})
	require.NoError(t, err)

	out := r.Render("vlm_custom", map[string]string{"page_number": "2", "filename": "a.pdf"})
	assert.Equal(t, "Page 2 of {total_pages} in a.pdf", out)
}

func TestBuiltinsAreImmutable(t *testing.T) {
	r, _ := newTestResolver(t)

	_, err := r.Set(Template{Name: "vlm_direct", Content: "override"})
	assert.True(t, errors.Is(err, ErrBuiltinTemplate))

	err = r.Delete("formatting_clean")
	assert.True(t, errors.Is(err, ErrBuiltinTemplate))

	tmpl, ok := r.Get("vlm_direct")
	require.True(t, ok)
	assert.True(t, tmpl.Builtin)
	assert.NotEqual(t, "override", tmpl.Content)
}

func TestCustomTemplatesPersist(t *testing.T) {
	r, path := newTestResolver(t)

	saved, err := r.Set(Template{Name: "formatting_invoice", Content: "Tidy this invoice:\n{content}"})
	require.NoError(t, err)
	assert.Equal(t, "formatting", saved.Category)
	assert.Equal(t, []string{"content"}, saved.Variables)
	assert.False(t, saved.CreatedAt.IsZero())

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := NewResolver(path)
	require.NoError(t, err)
	tmpl, ok := reloaded.Get("formatting_invoice")
	require.True(t, ok)
	assert.Equal(t, "Tidy this invoice:\n{content}", tmpl.Content)
	assert.Equal(t, "formatting_invoice", reloaded.Resolve("formatting_invoice"))

	require.NoError(t, reloaded.Delete("formatting_invoice"))
	assert.True(t, errors.Is(reloaded.Delete("formatting_invoice"), ErrTemplateNotFound))
}

func TestListAndCategories(t *testing.T) {
	r, _ := newTestResolver(t)

	vlm := r.List("vlm")
	require.Len(t, vlm, 3)
	assert.Equal(t, "vlm_academic", vlm[0].Name)

	assert.Len(t, r.List(""), 10)
	assert.Equal(t, []string{"formatting", "htr", "vlm"}, r.Categories())
}

func TestValidate(t *testing.T) {
	res := Validate("Hello {name}, see {name} and {other}")
	assert.True(t, res.Valid)
	assert.Equal(t, []string{"name", "other"}, res.Variables)

	assert.False(t, Validate("  ").Valid)
	assert.False(t, Validate("broken {name").Valid)
	assert.False(t, Validate("broken } {").Valid)

	r, _ := newTestResolver(t)
	_, err := r.Set(Template{Name: "Bad Name", Content: "x"})
	assert.True(t, errors.Is(err, ErrInvalidTemplate))
	_, err = r.Set(Template{Name: "htr_empty", Content: ""})
	assert.True(t, errors.Is(err, ErrInvalidTemplate))
}

func TestEveryFormattingBuiltinTakesContent(t *testing.T) {
	r, _ := newTestResolver(t)
	for _, tmpl := range r.List("formatting") {
		assert.Contains(t, tmpl.Variables, "content", tmpl.Name)
	}
}
