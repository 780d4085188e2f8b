package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tOgg1/yfeed/internal/config"
	"github.com/tOgg1/yfeed/internal/db"
	"github.com/tOgg1/yfeed/internal/feed"
	"github.com/tOgg1/yfeed/internal/logging"
	"github.com/tOgg1/yfeed/internal/models"
)

const (
	defaultRecentLimit = 10
	maxPostBody        = 64 << 10
	shutdownTimeout    = 5 * time.Second
)

// Server serves the feed endpoints.
type Server struct {
	addr    string
	posts   *db.PostRepository
	hub     *Hub
	fanout  Fanout
	limiter *rate.Limiter
	logger  zerolog.Logger

	redis redisClient
}

// Option customizes New.
type Option func(*Server)

// WithFanout replaces the in-process fanout.
func WithFanout(f Fanout) Option {
	return func(s *Server) { s.fanout = f }
}

// WithRedis relays posts through redis pub/sub so every ynotd instance
// sharing the server sees them.
func WithRedis(client redisClient) Option {
	return func(s *Server) { s.redis = client }
}

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New wires a server around an already migrated post repository.
func New(cfg config.ServerConfig, posts *db.PostRepository, opts ...Option) (*Server, error) {
	if posts == nil {
		return nil, fmt.Errorf("post repository is required")
	}
	protocol, err := feed.ParseProtocol(cfg.FrameFormat)
	if err != nil {
		return nil, fmt.Errorf("server.frame_format: %w", err)
	}

	limit := rate.Inf
	burst := 0
	if cfg.PostRate > 0 {
		limit = rate.Limit(cfg.PostRate)
		burst = max(1, int(2*cfg.PostRate))
	}

	s := &Server{
		addr:    cfg.Addr,
		posts:   posts,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logging.Component("ynotd"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(protocol, s.logger.With().Str("component", "hub").Logger())
	if s.fanout == nil && s.redis != nil {
		s.fanout, err = NewRedisFanout(s.redis, s.hub, s.logger)
		if err != nil {
			return nil, err
		}
	}
	if s.fanout == nil {
		s.fanout = NewLocalFanout(s.hub)
	}
	return s, nil
}

// Hub exposes the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET "+feed.RecentPostsPath, s.handleRecentPosts)
	mux.HandleFunc("POST /posts", s.handleCreatePost)
	mux.HandleFunc("GET "+config.LiveFeedPath, s.hub.ServeWS)
	return mux
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server and the fanout on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("ynotd listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.fanout.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http server shutdown failed")
			return err
		}
		s.logger.Info().Msg("ynotd stopped")
		return nil
	})
	return g.Wait()
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

func (s *Server) handleRecentPosts(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, db.MaxRecentLimit)
	}

	posts, err := s.posts.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load recent posts")
		writeError(w, http.StatusInternalServerError, "failed to load posts")
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// createPostRequest is the body of POST /posts. Ids and timestamps are
// always assigned by the server.
type createPostRequest struct {
	Owner    string   `json:"owner"`
	OwnerID  string   `json:"owner_id"`
	Handle   string   `json:"handle"`
	Title    string   `json:"title"`
	Note     string   `json:"note"`
	Tags     []string `json:"tags"`
	URLs     []string `json:"urls"`
	FileKeys []string `json:"file_keys"`
}

func (req createPostRequest) validate() error {
	validation := &models.ValidationErrors{}
	if strings.TrimSpace(req.Owner) == "" {
		validation.AddMessage("owner", "owner is required")
	}
	if strings.TrimSpace(req.Note) == "" {
		validation.Add("note", models.ErrMissingPostNote)
	}
	return validation.Err()
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "too many posts")
		return
	}

	var req createPostRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPostBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	post := &models.Post{
		Owner:          strings.TrimSpace(req.Owner),
		OwnerID:        strings.TrimSpace(req.OwnerID),
		Handle:         strings.TrimSpace(req.Handle),
		Title:          strings.TrimSpace(req.Title),
		Note:           req.Note,
		Tags:           req.Tags,
		URLs:           req.URLs,
		AttachmentRefs: req.FileKeys,
	}
	if err := s.posts.Create(r.Context(), post); err != nil {
		s.logger.Error().Err(err).Msg("failed to store post")
		writeError(w, http.StatusInternalServerError, "failed to store post")
		return
	}

	// The post is stored either way; a failed broadcast only delays it until
	// the next backfill.
	if err := s.fanout.Publish(r.Context(), *post); err != nil {
		s.logger.Warn().Err(err).Str("post_id", post.ID).Msg("failed to broadcast post")
	}
	s.logger.Info().Str("post_id", post.ID).Str("owner", post.Owner).Msg("post created")
	writeJSON(w, http.StatusCreated, post)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
