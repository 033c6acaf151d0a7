package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/usersync/internal/canon"
	"github.com/roach88/usersync/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and inspect engine configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a config file against the schema",
		Long: `Check a .cue, .yaml or .yml config file against the embedded schema and
the cross-field rules.

Exit codes:
  0 - Config is valid
  1 - Config is invalid`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			out.VerboseLog("validating %s", args[0])
			if _, err := config.Load(args[0]); err != nil {
				return out.Fail(ExitFailure, CodeConfig, "invalid config "+args[0], err)
			}
			if out.JSON() {
				return out.Success(map[string]any{"file": args[0], "valid": true})
			}
			return out.Success(fmt.Sprintf("✓ %s is valid", args[0]))
		},
	}
}

func newConfigShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [file]",
		Short: "Print the effective configuration",
		Long: `Print the effective configuration, defaults filled in, with durations in
milliseconds. Without a file argument, --config is used; without either,
the defaults are printed.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			if len(args) == 1 {
				opts.Config = args[0]
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return out.Fail(ExitFailure, CodeConfig, "failed to load config", err)
			}

			m := cfg.Map()
			if out.JSON() {
				return out.Success(m)
			}
			w := cmd.OutOrStdout()
			for _, k := range canon.SortedKeys(m) {
				fmt.Fprintf(w, "%-26s %v\n", k, m[k])
			}
			return nil
		},
	}
}
