package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/yfeed/internal/models"
)

// Post repository errors.
var (
	ErrPostNotFound  = errors.New("post not found")
	ErrDuplicatePost = errors.New("post already exists")
)

// timestampLayout sorts lexicographically for UTC values.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MaxRecentLimit caps Recent.
const MaxRecentLimit = 100

type postExecer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// PostRepository persists posts.
type PostRepository struct {
	db  *DB
	now func() time.Time
}

// NewPostRepository creates a new PostRepository.
func NewPostRepository(db *DB) *PostRepository {
	return &PostRepository{db: db, now: time.Now}
}

// Create stores post, assigning an id and created_at when they are empty.
func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	return r.createWithExecutor(ctx, r.db, post)
}

// CreateMany stores posts in one transaction; either all are stored or none.
func (r *PostRepository) CreateMany(ctx context.Context, posts []*models.Post) error {
	return r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		for _, post := range posts {
			if err := r.createWithExecutor(ctx, tx, post); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostRepository) createWithExecutor(ctx context.Context, execer postExecer, post *models.Post) error {
	if post == nil {
		return fmt.Errorf("post is required")
	}
	if strings.TrimSpace(post.Note) == "" {
		return models.ErrMissingPostNote
	}
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = r.now().UTC()
	} else {
		post.CreatedAt = post.CreatedAt.UTC()
	}
	if err := post.Validate(); err != nil {
		return err
	}

	tags, err := marshalList(post.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	urls, err := marshalList(post.URLs)
	if err != nil {
		return fmt.Errorf("failed to marshal urls: %w", err)
	}
	fileKeys, err := marshalList(post.AttachmentRefs)
	if err != nil {
		return fmt.Errorf("failed to marshal file keys: %w", err)
	}

	_, err = execer.ExecContext(ctx, `
		INSERT INTO posts (
			id, owner, owner_id, handle, title, note, tags_json, urls_json, file_keys_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		post.ID,
		post.Owner,
		nullString(post.OwnerID),
		nullString(post.Handle),
		nullString(post.Title),
		post.Note,
		tags,
		urls,
		fileKeys,
		post.CreatedAt.Format(timestampLayout),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return fmt.Errorf("%w: %s", ErrDuplicatePost, post.ID)
		}
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// Get retrieves a post by id.
func (r *PostRepository) Get(ctx context.Context, id string) (*models.Post, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner, owner_id, handle, title, note, tags_json, urls_json, file_keys_json, created_at
		FROM posts WHERE id = ?
	`, id)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	return post, err
}

// Recent returns up to limit posts, newest first. Posts created at the same
// instant come back in reverse insertion order.
func (r *PostRepository) Recent(ctx context.Context, limit int) ([]models.Post, error) {
	if limit <= 0 {
		return []models.Post{}, nil
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner, owner_id, handle, title, note, tags_json, urls_json, file_keys_json, created_at
		FROM posts
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	posts := make([]models.Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	return posts, nil
}

// Count returns the number of stored posts.
func (r *PostRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var post models.Post
	var ownerID, handle, title, tags, urls, fileKeys sql.NullString
	var createdAt string

	err := row.Scan(
		&post.ID,
		&post.Owner,
		&ownerID,
		&handle,
		&title,
		&post.Note,
		&tags,
		&urls,
		&fileKeys,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}

	post.OwnerID = ownerID.String
	post.Handle = handle.String
	post.Title = title.String

	if post.Tags, err = unmarshalList(tags); err != nil {
		return nil, fmt.Errorf("post %s tags: %w", post.ID, err)
	}
	if post.URLs, err = unmarshalList(urls); err != nil {
		return nil, fmt.Errorf("post %s urls: %w", post.ID, err)
	}
	if post.AttachmentRefs, err = unmarshalList(fileKeys); err != nil {
		return nil, fmt.Errorf("post %s file keys: %w", post.ID, err)
	}

	ts, err := time.Parse(timestampLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("post %s created_at: %w", post.ID, err)
	}
	post.CreatedAt = ts.UTC()
	return &post, nil
}

func marshalList(values []string) (*string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func unmarshalList(value sql.NullString) ([]string, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(value.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
