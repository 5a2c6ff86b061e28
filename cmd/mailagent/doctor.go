package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"mailagent/internal/agent"
	"mailagent/internal/config"
	"mailagent/internal/gmail"

	"github.com/spf13/cobra"
)

// report tallies doctor results.
type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies the configuration, state store, knowledge index, mailbox token
and providers. Reports pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("mailagent doctor v%s\n\n", version)

			var r report
			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'mailagent init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			checkState(ctx, &r, cfg)
			checkKnowledge(ctx, &r, cfg)
			checkMailbox(ctx, &r, cfg)
			checkProviders(&r, cfg)

			if cfg.Agent.PromptsFile != "" {
				if _, err := agent.LoadPrompts(cfg.Agent.PromptsFile); err != nil {
					r.fail("Prompts", err.Error())
				} else {
					r.pass("Prompts", cfg.Agent.PromptsFile)
				}
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				r.warn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

func checkState(ctx context.Context, r *report, cfg *config.Config) {
	dsn := config.Sanitize(cfg).State.DSN
	st, err := openState(ctx, cfg)
	if err != nil {
		r.fail("State store", err.Error())
		return
	}
	defer st.Close()

	_, found, err := st.LoadCursor(ctx)
	switch {
	case err != nil:
		r.fail("State store", fmt.Sprintf("%s: %v", dsn, err))
	case !found:
		r.warn("State store", fmt.Sprintf("%s: no cursor yet, run 'mailagent renew-watch'", dsn))
	default:
		r.pass("State store", dsn)
	}
}

func checkKnowledge(ctx context.Context, r *report, cfg *config.Config) {
	kb, err := openKnowledge(cfg)
	if err != nil {
		r.fail("Knowledge index", err.Error())
		return
	}
	defer kb.Close()

	docs, err := kb.ListDocuments(ctx)
	switch {
	case err != nil:
		r.fail("Knowledge index", err.Error())
	case len(docs) == 0:
		r.warn("Knowledge index", "empty; replies will not be grounded")
	default:
		r.pass("Knowledge index", fmt.Sprintf("%s (%d documents)", cfg.Knowledge.DBPath, len(docs)))
	}
}

func checkMailbox(ctx context.Context, r *report, cfg *config.Config) {
	if cfg.Mailbox.TokenFile == "" {
		r.warn("Mailbox token", "tokenFile not set, using application default credentials")
	} else if info, err := os.Stat(cfg.Mailbox.TokenFile); err != nil {
		r.fail("Mailbox token", fmt.Sprintf("not found: %s (run 'mailagent auth')", cfg.Mailbox.TokenFile))
		return
	} else if info.Mode().Perm()&0o077 != 0 {
		r.warn("Mailbox token", fmt.Sprintf("%s is readable by others (%v)", cfg.Mailbox.TokenFile, info.Mode().Perm()))
	}

	ts, err := gmail.TokenSource(ctx, cfg.Mailbox.TokenFile)
	if err != nil {
		r.fail("Mailbox token", err.Error())
		return
	}
	if _, err := ts.Token(); err != nil {
		r.fail("Mailbox token", fmt.Sprintf("refresh failed: %v", err))
		return
	}
	r.pass("Mailbox token", cfg.Mailbox.Address)
}

func checkProviders(r *report, cfg *config.Config) {
	enabled := 0
	for name, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		enabled++
		switch {
		case p.APIKey == "" && p.APIBase == "" && p.Project == "":
			r.warn("Provider: "+name, "enabled but no API key, base or project configured")
		default:
			r.pass("Provider: "+name, p.Kind)
		}
	}
	if enabled == 0 {
		r.fail("Providers", "no providers enabled")
		return
	}
	if p, ok := cfg.Providers[cfg.Agent.Provider]; !ok || !p.Enabled {
		r.fail("Agent provider", fmt.Sprintf("%q is not an enabled provider", cfg.Agent.Provider))
	}
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}
