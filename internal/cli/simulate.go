package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/usersync/internal/harness"
)

// SimulateResult is the JSON payload of the simulate command.
type SimulateResult struct {
	Name   string               `json:"name"`
	Pass   bool                 `json:"pass"`
	Errors []string             `json:"errors,omitempty"`
	Trace  []harness.TraceEvent `json:"trace"`
	State  map[string]any       `json:"state,omitempty"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run one scenario and print its trace",
		Long: `Run a single scenario on a fake clock and print every step, delivery,
transition and indicator update in the order they happened.

Exit codes:
  0 - Scenario passed
  1 - A step expectation or assertion failed
  2 - Command error (scenario cannot be loaded or run)

Example:
  usersync simulate ./scenarios/login.yaml
  usersync simulate ./scenarios/login.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSimulate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return out.Fail(ExitCommandError, CodeScenario, "failed to load scenario", err)
	}
	out.VerboseLog("loaded %s: %d steps, %d assertions", path, len(scenario.Steps), len(scenario.Assertions))

	var runOpts []harness.Option
	if opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(opts.logger(cmd.ErrOrStderr())))
	}
	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		return out.Fail(ExitCommandError, CodeScenario, "failed to run scenario", err)
	}

	if out.JSON() {
		if err := out.Success(SimulateResult{
			Name:   scenario.Name,
			Pass:   result.Pass,
			Errors: result.Errors,
			Trace:  result.Trace,
			State:  result.State,
		}); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Scenario: %s\n", scenario.Name)
		for _, ev := range result.Trace {
			writeTraceLine(w, ev)
		}
		if result.Pass {
			fmt.Fprintln(w, "PASS")
		} else {
			fmt.Fprintln(w, "FAIL")
			for _, e := range result.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

// writeTraceLine prints one event as
//
//	[seq] +at_ms type op @subscriber -> outcome key=value ...
func writeTraceLine(w io.Writer, ev harness.TraceEvent) {
	var b strings.Builder
	fmt.Fprintf(&b, "  [%d] +%dms %-10s", ev.Seq, ev.AtMS, ev.Type)
	if ev.Op != "" {
		fmt.Fprintf(&b, " %s", ev.Op)
	}
	if ev.Subscriber != "" {
		fmt.Fprintf(&b, " @%s", ev.Subscriber)
	}
	if ev.Outcome != "" {
		fmt.Fprintf(&b, " -> %s", ev.Outcome)
	}
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, ev.Data[k])
	}
	fmt.Fprintln(w, b.String())
}
