package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/tOgg1/yfeed/internal/models"
)

// Filter decides which posts are admitted to the window. The zero value
// admits everything.
type Filter struct {
	expr string
	prog cel.Program
}

// CompileFilter compiles a CEL expression over a post. The expression sees
// id, owner, handle, title, note, tags, urls, created_at and now, and must
// evaluate to a bool. An empty expression admits every post.
func CompileFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("owner", cel.StringType),
		cel.Variable("handle", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("note", cel.StringType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("urls", cel.ListType(cel.StringType)),
		cel.Variable("created_at", cel.TimestampType),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, fmt.Errorf("parse filter: %w", iss.Err())
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return Filter{}, fmt.Errorf("check filter: %w", iss.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return Filter{}, fmt.Errorf("filter must evaluate to bool, got %s", checked.OutputType())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{expr: expr, prog: prog}, nil
}

// Enabled reports whether an expression was compiled.
func (f Filter) Enabled() bool { return f.prog != nil }

func (f Filter) String() string { return f.expr }

// Match evaluates the filter against post. Evaluation errors reject the post.
func (f Filter) Match(post models.Post) bool {
	if f.prog == nil {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":         post.ID,
		"owner":      post.Owner,
		"handle":     post.Handle,
		"title":      post.Title,
		"note":       post.Note,
		"tags":       nonNil(post.Tags),
		"urls":       nonNil(post.URLs),
		"created_at": post.CreatedAt,
		"now":        time.Now(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Apply returns the posts that match, preserving order.
func (f Filter) Apply(posts []models.Post) []models.Post {
	if f.prog == nil {
		return posts
	}
	out := make([]models.Post, 0, len(posts))
	for _, post := range posts {
		if f.Match(post) {
			out = append(out, post)
		}
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
