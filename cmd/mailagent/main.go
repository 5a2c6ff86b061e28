package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"mailagent/internal/config"
	"mailagent/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	logCloser  io.Closer
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "mailagent",
		Short:         "mailagent: automated replies for a support mailbox",
		Long:          "mailagent answers incoming Gmail messages with an LLM agent grounded in a knowledge base.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.mailagent/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(renewWatchCmd())
	root.AddCommand(authCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(knowledgeCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	err := root.Execute()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config and replaces the bootstrap logger with one
// built from the general section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	l, closer, err := newLogger(cfg.General, os.Stderr)
	if err != nil {
		return nil, err
	}
	logger, logCloser = l, closer
	return cfg, nil
}

func newLogger(gc config.GeneralConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(gc.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	out := stderr
	var closer io.Closer
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(stderr, f)
		closer = f
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(gc.LogFormat, "json") {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h), closer, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Println("Next steps:")
			fmt.Println("  1. set mailbox.address, mailbox.topic and the provider credentials")
			fmt.Println("  2. run 'mailagent auth' to authorize the mailbox")
			fmt.Println("  3. run 'mailagent renew-watch' once to store the initial cursor")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mailagent", version)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored cursor and schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openState(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			cursor, found, err := st.LoadCursor(ctx)
			if err != nil {
				return err
			}
			if !found {
				cursor = "(none, run 'mailagent renew-watch')"
			}
			schema := "n/a"
			if s, ok := st.(*store.SQLiteStore); ok {
				if v, err := store.GetSchemaVersion(s.DB()); err == nil {
					schema = fmt.Sprint(v)
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "config:\t%s\n", resolveConfigPath())
			fmt.Fprintf(w, "mailbox:\t%s\n", cfg.Mailbox.Address)
			fmt.Fprintf(w, "state:\t%s\n", config.Sanitize(cfg).State.DSN)
			fmt.Fprintf(w, "cursor:\t%s\n", cursor)
			fmt.Fprintf(w, "schema version:\t%s\n", schema)
			return w.Flush()
		},
	}
}
