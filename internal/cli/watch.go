package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/yfeed/internal/config"
	"github.com/tOgg1/yfeed/internal/feed"
	"github.com/tOgg1/yfeed/internal/feedtui"
	"github.com/tOgg1/yfeed/internal/logging"
)

type watchOptions struct {
	json  bool
	plain bool
	once  bool
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"tail"},
		Short:   "Show the newest posts and follow the live feed",
		Long: `Show the newest posts and keep them current.

On a terminal this opens a full-screen viewer. When stdout is not a terminal,
or with --plain, every change prints the whole window as text. --json prints
one JSON object per line for window and connection state changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "write JSON lines instead of the viewer")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "write plain text instead of the viewer")
	cmd.Flags().BoolVar(&opts.once, "once", false, "print the current posts once and exit")
	cmd.Flags().Int("capacity", 0, "number of posts to keep (default from config)")
	cmd.Flags().String("ws-url", "", "live channel URL (derived from --base-url when empty)")
	cmd.Flags().String("protocol", "", "live frame format: auto, tagged, untagged")
	cmd.Flags().String("filter", "", "CEL expression posts must match, e.g. 'owner == \"yev\"'")
	cmd.Flags().String("theme", "", "viewer theme: default, high-contrast")
	cmd.Flags().String("log-file", "", "write logs to this file")
	return cmd
}

func (o *watchOptions) format(out io.Writer) outputFormat {
	switch {
	case o.json:
		return outputJSON
	case o.plain || !isTerminal(out):
		return outputPlain
	default:
		return outputTUI
	}
}

func runWatch(cmd *cobra.Command, opts *watchOptions) error {
	if opts.json && opts.plain {
		return fmt.Errorf("--json and --plain are mutually exclusive")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	format := opts.format(out)
	closer, err := initLogging(cfg, format == outputTUI)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.once {
		return printOnce(ctx, cfg, out, format)
	}

	logger := logging.Component("watch")
	syncer, err := feed.New(cfg, feed.WithLogger(logging.Component("feed")))
	if err != nil {
		return err
	}
	if err := syncer.Start(ctx); err != nil {
		return err
	}
	defer syncer.Close()
	logger.Debug().Str("base_url", logging.RedactURL(cfg.Feed.BaseURL)).Int("capacity", cfg.Feed.Capacity).Msg("watching feed")

	if format == outputTUI {
		theme, err := feedtui.ThemeByName(cfg.TUI.Theme)
		if err != nil {
			return err
		}
		return feedtui.Run(ctx, feedtui.Config{
			Source:   syncer.Store(),
			Theme:    theme,
			Capacity: cfg.Feed.Capacity,
			Refresh:  syncer.Refresh,
		})
	}

	s := &streamer{out: out, format: format, width: terminalWidth(out), now: time.Now}
	return s.run(ctx, syncer.Store(), syncer.Done())
}

// printOnce fetches a single backfill and prints it.
func printOnce(ctx context.Context, cfg *config.Config, out io.Writer, format outputFormat) error {
	filter, err := feed.CompileFilter(cfg.Feed.Filter)
	if err != nil {
		return err
	}
	fetcher, err := feed.NewHTTPFetcher(cfg.Feed.BaseURL,
		feed.WithFetchTimeout(cfg.Backfill.Timeout),
		feed.WithFetchLogger(logging.Component("backfill")),
	)
	if err != nil {
		return err
	}
	posts, err := fetcher.FetchRecent(ctx, cfg.Feed.Capacity)
	if err != nil {
		return err
	}
	window := feed.NewWindow(cfg.Feed.Capacity)
	window.ApplyBackfill(filter.Apply(posts))

	s := &streamer{out: out, format: format, width: terminalWidth(out), now: time.Now}
	if format == outputJSON {
		return s.writeWindow(window.Posts())
	}
	return feedtui.RenderPlain(out, window.Posts(), s.now(), s.width)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
