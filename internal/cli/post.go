package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/yfeed/internal/logging"
	"github.com/tOgg1/yfeed/internal/models"
)

const postTimeout = 10 * time.Second

type postRequest struct {
	Owner  string   `json:"owner"`
	Handle string   `json:"handle,omitempty"`
	Title  string   `json:"title,omitempty"`
	Note   string   `json:"note"`
	Tags   []string `json:"tags,omitempty"`
	URLs   []string `json:"urls,omitempty"`
}

func newPostCmd() *cobra.Command {
	var (
		req     postRequest
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "post [note]",
		Short: "Publish a post",
		Long:  "Publish a post to the feed server. The note is read from stdin when it is omitted or \"-\".",
		Example: `  yfeed post --owner yev "shipping today"
  echo "long form" | yfeed post --owner yev --title Notes --tag go`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			closer, err := initLogging(cfg, false)
			if err != nil {
				return err
			}
			defer closer.Close()

			note, err := readNote(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			req.Note = note
			if req.Owner == "" {
				req.Owner = os.Getenv("USER")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), postTimeout)
			defer cancel()
			post, err := publishPost(ctx, http.DefaultClient, cfg.Feed.BaseURL, req)
			if err != nil {
				return err
			}
			logger := logging.Component("post")
			logger.Debug().Str("post_id", post.ID).Msg("post published")

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(post)
			}
			_, err = fmt.Fprintln(out, post.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&req.Owner, "owner", "", "author name (default $USER)")
	cmd.Flags().StringVar(&req.Handle, "handle", "", "author handle")
	cmd.Flags().StringVar(&req.Title, "title", "", "post title")
	cmd.Flags().StringSliceVar(&req.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringSliceVar(&req.URLs, "url", nil, "link (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the created post as JSON")
	return cmd
}

func readNote(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		note := strings.TrimSpace(args[0])
		if note == "" {
			return "", models.ErrMissingPostNote
		}
		return note, nil
	}
	data, err := io.ReadAll(io.LimitReader(in, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read note: %w", err)
	}
	note := strings.TrimSpace(string(data))
	if note == "" {
		return "", models.ErrMissingPostNote
	}
	return note, nil
}

// publishPost sends req to baseURL/posts and returns the stored post.
func publishPost(ctx context.Context, client *http.Client, baseURL string, req postRequest) (*models.Post, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode post: %w", err)
	}
	url := strings.TrimRight(baseURL, "/") + "/posts"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post to %s: %w", logging.RedactURL(url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var problem struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&problem)
		if problem.Detail == "" {
			problem.Detail = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("server rejected post (%d): %s", resp.StatusCode, problem.Detail)
	}

	var post models.Post
	if err := json.NewDecoder(resp.Body).Decode(&post); err != nil {
		return nil, fmt.Errorf("decode created post: %w", err)
	}
	return &post, nil
}
