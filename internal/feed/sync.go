// Package feed keeps a bounded, newest-first window of posts in sync with a
// backfill endpoint and a live push channel.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/yfeed/internal/config"
	"github.com/tOgg1/yfeed/internal/logging"
	"github.com/tOgg1/yfeed/internal/models"
)

const inboxSize = 64

// Sync owns one subscription: a window, its store, a live channel and a
// backfill fetcher. Every completion is applied on a single loop goroutine.
type Sync struct {
	capacity    int
	resyncAfter time.Duration
	filter      Filter
	fetcher     Fetcher
	conn        *ConnManager
	window      *Window
	store       *Store
	logger      zerolog.Logger
	now         func() time.Time

	inbox chan any
	done  chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	gen     uint64

	// Loop-owned.
	downSince time.Time
}

type liveMsg struct{ post models.Post }

type stateMsg struct{ state State }

type backfillMsg struct {
	gen   uint64
	posts []models.Post
	err   error
}

type refreshMsg struct{}

type options struct {
	fetcher Fetcher
	dialer  Dialer
	backoff Backoff
	logger  *zerolog.Logger
	now     func() time.Time
}

// Option customizes New.
type Option func(*options)

// WithFetcher replaces the HTTP backfill fetcher.
func WithFetcher(f Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithLiveDialer replaces the websocket dialer of the live channel.
func WithLiveDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithReconnectBackoff overrides the configured reconnect policy.
func WithReconnectBackoff(b Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// WithLogger sets the base logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithClock sets the time source used for downtime accounting.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New validates cfg and builds an idle synchronizer. Call Start to begin.
func New(cfg *config.Config, opts ...Option) (*Sync, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.Component("feed")
	if o.logger != nil {
		logger = *o.logger
	}

	protocol, err := ParseProtocol(cfg.Feed.Protocol)
	if err != nil {
		return nil, err
	}
	filter, err := CompileFilter(cfg.Feed.Filter)
	if err != nil {
		return nil, fmt.Errorf("feed.filter: %w", err)
	}
	liveURL, err := cfg.LiveURL()
	if err != nil {
		return nil, err
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher, err = NewHTTPFetcher(cfg.Feed.BaseURL,
			WithFetchTimeout(cfg.Backfill.Timeout),
			WithFetchLogger(logger.With().Str("component", "backfill").Logger()),
		)
		if err != nil {
			return nil, err
		}
	}

	backoff := o.backoff
	if backoff == nil {
		backoff = BackoffFromConfig(cfg.Reconnect)
	}

	s := &Sync{
		capacity:    cfg.Feed.Capacity,
		resyncAfter: cfg.Backfill.ResyncAfter,
		filter:      filter,
		fetcher:     fetcher,
		window:      NewWindow(cfg.Feed.Capacity),
		store:       NewStore(),
		logger:      logger,
		now:         o.now,
		inbox:       make(chan any, inboxSize),
		done:        make(chan struct{}),
	}

	connOpts := []ConnOption{
		WithProtocol(protocol),
		WithBackoff(backoff),
		WithConnLogger(logger.With().Str("component", "live").Logger()),
	}
	if o.dialer != nil {
		connOpts = append(connOpts, WithDialer(o.dialer))
	}
	s.conn = NewConnManager(liveURL, syncHandler{s}, connOpts...)
	s.conn.now = o.now
	return s, nil
}

// BackoffFromConfig maps the reconnect section onto a Backoff.
func BackoffFromConfig(cfg config.ReconnectConfig) Backoff {
	if cfg.Policy == config.PolicyFixed {
		return FixedBackoff{Interval: cfg.MinDelay}
	}
	return ExponentialBackoff{Min: cfg.MinDelay, Max: cfg.MaxDelay}
}

// Store returns the observer-facing store.
func (s *Sync) Store() *Store { return s.store }

// Start launches the backfill and the live channel concurrently and returns
// without waiting for either. Starting twice is a no-op.
func (s *Sync) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	go s.loop(runCtx)
	s.conn.Open(runCtx)
	s.startBackfill(runCtx)
	return nil
}

// Refresh asks for a new backfill. It is ignored before Start or after Close.
func (s *Sync) Refresh() {
	s.mu.Lock()
	ctx := s.ctx
	active := s.started && !s.closed
	s.mu.Unlock()
	if active {
		s.send(ctx, refreshMsg{})
	}
}

// Close tears the subscription down. Completions that resolve afterwards are
// discarded and observers are not notified again. Close is idempotent.
func (s *Sync) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.conn.Close()
	s.store.Close()
	if !started {
		close(s.done)
	}
}

// Done is closed when the loop goroutine has exited.
func (s *Sync) Done() <-chan struct{} { return s.done }

func (s *Sync) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.inbox:
			switch m := msg.(type) {
			case liveMsg:
				s.handleLive(m.post)
			case stateMsg:
				s.handleState(ctx, m.state)
			case backfillMsg:
				s.handleBackfill(m)
			case refreshMsg:
				s.startBackfill(ctx)
			}
		}
	}
}

func (s *Sync) handleLive(post models.Post) {
	if !s.filter.Match(post) {
		s.logger.Debug().Str("post_id", post.ID).Msg("live post filtered out")
		return
	}
	s.apply(0, false, func(w *Window) bool { return w.ApplyLive(post) })
}

func (s *Sync) handleBackfill(m backfillMsg) {
	if m.err != nil {
		if s.isCurrent(m.gen) {
			s.logger.Warn().Err(m.err).Msg("backfill failed; keeping current window")
		}
		return
	}
	posts := s.filter.Apply(m.posts)
	applied := s.apply(m.gen, true, func(w *Window) bool { return w.ApplyBackfill(posts) })
	if applied {
		s.logger.Debug().Int("fetched", len(m.posts)).Int("kept", len(posts)).Msg("backfill applied")
	}
}

func (s *Sync) handleState(ctx context.Context, state State) {
	switch state.Kind {
	case StateClosed:
		if s.downSince.IsZero() {
			s.downSince = state.At
		}
	case StateOpen:
		down := s.downSince
		s.downSince = time.Time{}
		if !down.IsZero() && s.resyncAfter > 0 && state.At.Sub(down) >= s.resyncAfter {
			s.logger.Info().Dur("downtime", state.At.Sub(down)).Msg("resyncing after long disconnect")
			s.startBackfill(ctx)
		}
	}
	s.store.publishState(state)
}

// apply runs fn against the window unless the subscription was torn down or,
// for backfill, superseded. It publishes once when fn reports a change and
// returns whether fn ran.
func (s *Sync) apply(gen uint64, checkGen bool, fn func(*Window) bool) bool {
	s.mu.Lock()
	if s.closed || (checkGen && gen != s.gen) {
		s.mu.Unlock()
		s.logger.Debug().Err(ErrStaleCompletion).Msg("discarding completion")
		return false
	}
	changed := fn(s.window)
	var snapshot []models.Post
	if changed {
		snapshot = s.window.Posts()
	}
	s.mu.Unlock()

	if changed {
		s.store.publish(snapshot)
	}
	return true
}

func (s *Sync) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.gen
}

// startBackfill supersedes any backfill still in flight.
func (s *Sync) startBackfill(ctx context.Context) {
	if s.capacity == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go func() {
		posts, err := s.fetcher.FetchRecent(ctx, s.capacity)
		if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		s.send(ctx, backfillMsg{gen: gen, posts: posts, err: err})
	}()
}

func (s *Sync) send(ctx context.Context, msg any) {
	select {
	case s.inbox <- msg:
	case <-ctx.Done():
	}
}

// syncHandler forwards connection manager callbacks into the loop.
type syncHandler struct{ s *Sync }

func (h syncHandler) OnEvent(post models.Post) {
	h.s.send(h.s.ctx, liveMsg{post: post})
}

func (h syncHandler) OnStateChange(state State) {
	h.s.send(h.s.ctx, stateMsg{state: state})
}
