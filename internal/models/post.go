package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Post validation errors.
var (
	ErrMissingPostID        = errors.New("post id is required")
	ErrMissingPostCreatedAt = errors.New("post created_at is required")
	ErrMissingPostNote      = errors.New("post note is required")
)

// createdAtLayouts are tried in order when decoding created_at. Naive
// timestamps (no zone) are treated as UTC.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Post is the unit of feed content.
type Post struct {
	// ID is stable across backfill and live delivery of the same post.
	ID string `json:"id"`

	// Owner identifies the authoring account.
	Owner string `json:"owner"`

	// OwnerID is the numeric owner key some servers send alongside Owner.
	OwnerID string `json:"owner_id,omitempty"`

	// Handle is the display handle of the owner, when known.
	Handle string `json:"handle,omitempty"`

	// Title is optional.
	Title string `json:"title,omitempty"`

	// Note is the free-form body.
	Note string `json:"note"`

	Tags           []string `json:"tags,omitempty"`
	URLs           []string `json:"urls,omitempty"`
	AttachmentRefs []string `json:"file_keys,omitempty"`

	// CreatedAt orders the feed.
	CreatedAt time.Time `json:"created_at"`
}

// wirePost mirrors Post with the loosely typed fields servers actually send.
type wirePost struct {
	ID             json.RawMessage `json:"id"`
	Owner          string          `json:"owner"`
	OwnerID        json.RawMessage `json:"owner_id"`
	Handle         string          `json:"handle"`
	Title          *string         `json:"title"`
	Note           string          `json:"note"`
	Tags           []wireTag       `json:"tags"`
	URLs           []string        `json:"urls"`
	AttachmentRefs []string        `json:"file_keys"`
	CreatedAt      string          `json:"created_at"`
}

// wireTag accepts either "name" or {"id": 1, "name": "name"}.
type wireTag string

func (t *wireTag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*t = wireTag(obj.Name)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = wireTag(s)
	return nil
}

// UnmarshalJSON decodes a post, normalizing numeric ids and the tag and
// timestamp variants seen on the wire.
func (p *Post) UnmarshalJSON(data []byte) error {
	var w wirePost
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	id, err := decodeID(w.ID)
	if err != nil {
		return fmt.Errorf("id: %w", err)
	}
	ownerID, err := decodeID(w.OwnerID)
	if err != nil {
		return fmt.Errorf("owner_id: %w", err)
	}

	var createdAt time.Time
	if strings.TrimSpace(w.CreatedAt) != "" {
		createdAt, err = ParseTimestamp(w.CreatedAt)
		if err != nil {
			return fmt.Errorf("created_at: %w", err)
		}
	}

	*p = Post{
		ID:             id,
		Owner:          w.Owner,
		OwnerID:        ownerID,
		Handle:         w.Handle,
		Note:           w.Note,
		URLs:           w.URLs,
		AttachmentRefs: w.AttachmentRefs,
		CreatedAt:      createdAt,
	}
	if w.Title != nil {
		p.Title = *w.Title
	}
	if len(w.Tags) > 0 {
		p.Tags = make([]string, 0, len(w.Tags))
		for _, tag := range w.Tags {
			if name := strings.TrimSpace(string(tag)); name != "" {
				p.Tags = append(p.Tags, name)
			}
		}
	}
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("must be a string or number")
	}
	return n.String(), nil
}

// ParseTimestamp parses the created_at formats accepted on the wire.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range createdAtLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// Validate checks the fields the feed relies on.
func (p *Post) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(p.ID) == "" {
		validation.Add("id", ErrMissingPostID)
	}
	if p.CreatedAt.IsZero() {
		validation.Add("created_at", ErrMissingPostCreatedAt)
	}
	return validation.Err()
}

// Clone returns a deep copy so callers can't alias slices held by a window.
func (p Post) Clone() Post {
	p.Tags = cloneStrings(p.Tags)
	p.URLs = cloneStrings(p.URLs)
	p.AttachmentRefs = cloneStrings(p.AttachmentRefs)
	return p
}

// DisplayName prefers the handle and falls back to the owner.
func (p Post) DisplayName() string {
	if h := strings.TrimSpace(p.Handle); h != "" {
		return h
	}
	return strings.TrimSpace(p.Owner)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
