// Package cli implements the yfeed and ynotd command trees.
package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tOgg1/yfeed/internal/config"
	"github.com/tOgg1/yfeed/internal/logging"
)

// flagKeys maps command-line flags onto config keys. A flag is only bound
// when the running command defines it.
var flagKeys = map[string]string{
	"base-url":     "feed.base_url",
	"ws-url":       "feed.ws_url",
	"capacity":     "feed.capacity",
	"protocol":     "feed.protocol",
	"filter":       "feed.filter",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"log-file":     "logging.file",
	"theme":        "tui.theme",
	"addr":         "server.addr",
	"db":           "server.db_path",
	"frame-format": "server.frame_format",
	"post-rate":    "server.post_rate",
	"redis-addr":   "server.redis_addr",
}

// Execute runs the yfeed client.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "yfeed",
		Short:         "Follow a live post feed",
		Long:          "yfeed keeps a bounded window of the newest posts in sync with a feed server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	addGlobalFlags(cmd)
	cmd.PersistentFlags().String("base-url", "", "feed server base URL")

	cmd.AddCommand(
		newWatchCmd(),
		newPostCmd(),
	)
	return cmd
}

func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "config file (default is $HOME/.config/yfeed/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "override logging level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "override logging format (json, console)")
}

// loadConfig resolves configuration for cmd: defaults < file < env < flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loader.SetConfigFile(path)
	}
	for name, key := range flagKeys {
		if flag := cmd.Flag(name); flag != nil {
			loader.BindFlag(key, flag)
		}
	}
	return loader.Load()
}

// initLogging configures the global logger. When quiet is set and no log file
// is configured, logs are discarded so they don't draw over the TUI.
func initLogging(cfg *config.Config, quiet bool) (io.Closer, error) {
	logCfg := logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       os.Stderr,
		EnableCaller: cfg.Logging.EnableCaller,
	}

	var closer io.Closer = nopCloser{}
	switch {
	case cfg.Logging.File != "":
		f, err := logging.OpenFile(cfg.Logging.File)
		if err != nil {
			return nil, err
		}
		logCfg.Output = f
		logCfg.Format = "json"
		closer = f
	case quiet:
		logCfg.Output = io.Discard
	}

	logging.Init(logCfg)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
