package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/yfeed/internal/models"
)

func TestFilterEmptyAdmitsAll(t *testing.T) {
	f, err := CompileFilter("  ")
	require.NoError(t, err)
	assert.False(t, f.Enabled())
	assert.True(t, f.Match(post("a", 1)))

	posts := []models.Post{post("a", 1), post("b", 2)}
	assert.Equal(t, posts, f.Apply(posts))
}

func TestFilterMatch(t *testing.T) {
	tagged := post("t", 1)
	tagged.Tags = []string{"go", "feeds"}
	tagged.Owner = "yev"

	tests := []struct {
		name string
		expr string
		post models.Post
		want bool
	}{
		{"owner match", `owner == "yev"`, tagged, true},
		{"owner mismatch", `owner == "someone"`, tagged, false},
		{"tag membership", `"go" in tags`, tagged, true},
		{"no tags", `"go" in tags`, post("plain", 1), false},
		{"note contains", `note.contains("plain")`, post("plain", 1), true},
		{"timestamp compare", `created_at < now`, tagged, true},
		{"size", `size(tags) == 2 && id == "t"`, tagged, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := CompileFilter(tt.expr)
			require.NoError(t, err)
			assert.True(t, f.Enabled())
			assert.Equal(t, tt.want, f.Match(tt.post))
		})
	}
}

func TestFilterCompileErrors(t *testing.T) {
	for _, expr := range []string{
		`owner ==`,
		`unknown_var == 1`,
		`owner`,
	} {
		_, err := CompileFilter(expr)
		assert.Error(t, err, expr)
	}
}

func TestFilterApplyKeepsOrder(t *testing.T) {
	f, err := CompileFilter(`id != "b"`)
	require.NoError(t, err)

	got := f.Apply([]models.Post{post("c", 3), post("b", 2), post("a", 1)})
	assert.Equal(t, []string{"c", "a"}, ids(got))
}
