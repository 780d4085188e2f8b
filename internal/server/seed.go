package server

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tOgg1/yfeed/internal/db"
	"github.com/tOgg1/yfeed/internal/models"
)

// SeedFile is the YAML document accepted by ynotd --seed.
type SeedFile struct {
	Posts []SeedPost `yaml:"posts"`
}

// SeedPost is one post in a seed file. ID and CreatedAt are optional.
type SeedPost struct {
	ID        string   `yaml:"id"`
	Owner     string   `yaml:"owner"`
	Handle    string   `yaml:"handle"`
	Title     string   `yaml:"title"`
	Note      string   `yaml:"note"`
	Tags      []string `yaml:"tags"`
	URLs      []string `yaml:"urls"`
	FileKeys  []string `yaml:"file_keys"`
	CreatedAt string   `yaml:"created_at"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) ([]*models.Post, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML into posts ready for insertion.
func ParseSeed(data []byte) ([]*models.Post, error) {
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	validation := &models.ValidationErrors{}
	posts := make([]*models.Post, 0, len(file.Posts))
	for i, sp := range file.Posts {
		field := fmt.Sprintf("posts[%d]", i)
		post := &models.Post{
			ID:             strings.TrimSpace(sp.ID),
			Owner:          strings.TrimSpace(sp.Owner),
			Handle:         strings.TrimSpace(sp.Handle),
			Title:          strings.TrimSpace(sp.Title),
			Note:           sp.Note,
			Tags:           sp.Tags,
			URLs:           sp.URLs,
			AttachmentRefs: sp.FileKeys,
		}
		if post.Owner == "" {
			validation.AddMessage(field+".owner", "owner is required")
		}
		if strings.TrimSpace(post.Note) == "" {
			validation.Add(field+".note", models.ErrMissingPostNote)
		}
		if sp.CreatedAt != "" {
			ts, err := models.ParseTimestamp(sp.CreatedAt)
			if err != nil {
				validation.Add(field+".created_at", err)
			}
			post.CreatedAt = ts
		}
		posts = append(posts, post)
	}
	if err := validation.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}

// Seed inserts posts in one transaction.
func Seed(ctx context.Context, repo *db.PostRepository, posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	if err := repo.CreateMany(ctx, posts); err != nil {
		return fmt.Errorf("seed posts: %w", err)
	}
	return nil
}
