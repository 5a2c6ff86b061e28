package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"mailagent/internal/config"
)

// configCmd edits the config file in place. It loads without replacing the
// process logger, so a broken logging section can still be fixed.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	load := func() (*config.Config, error) {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}

	get := &cobra.Command{
		Use:   "get <path>",
		Short: "Print one value, e.g. agent.provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(val)
		},
	}

	set := &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Change one value and save, e.g. agent.maxSteps 30",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			path := resolveConfigPath()
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "key", args[0], "file", path)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print every path with its value, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			flat := config.ListPaths(config.Sanitize(cfg))
			for _, k := range slices.Sorted(maps.Keys(flat)) {
				v, _ := json.Marshal(flat[k])
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, v)
			}
			return nil
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	}

	cmd.AddCommand(get, set, list, path)
	return cmd
}
