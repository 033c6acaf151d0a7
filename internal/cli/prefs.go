package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/usersync/internal/store"
	"github.com/roach88/usersync/internal/usercontext"
)

// PrefsOptions holds flags shared by the prefs subcommands.
type PrefsOptions struct {
	*RootOptions
	Database string
}

// errNoPreferences marks a lookup of a user without a stored record.
var errNoPreferences = errors.New("no stored preferences")

// NewPrefsCommand creates the prefs command group.
func NewPrefsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PrefsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read and edit stored user preferences",
		Long: `Read and edit the preference records the engine persists in its SQLite
database. Records written here are what the engine loads on the next login
of that user.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newPrefsGetCommand(opts))
	cmd.AddCommand(newPrefsSetCommand(opts))
	cmd.AddCommand(newPrefsListCommand(opts))
	return cmd
}

func newPrefsGetCommand(opts *PrefsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <user-id>",
		Short:         "Print the stored preferences of a user",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			return opts.withStore(out, func(st *store.Store) error {
				prefs, ok, err := st.LoadPreferences(cmd.Context(), args[0])
				if err != nil {
					return out.Fail(ExitCommandError, CodeStore, "failed to load preferences", err)
				}
				if !ok {
					return out.Fail(ExitFailure, CodeNotFound, "no preferences for "+args[0], errNoPreferences)
				}
				return writePreferences(out, cmd.OutOrStdout(), args[0], prefs)
			})
		},
	}
}

func newPrefsSetCommand(opts *PrefsOptions) *cobra.Command {
	var lang, theme string
	var highContrast, largeText, reducedMotion, screenReader bool

	cmd := &cobra.Command{
		Use:   "set <user-id>",
		Short: "Change stored preferences of a user",
		Long: `Change stored preferences of a user. Only the flags given are changed;
a user without a record starts from the defaults.

Example:
  usersync prefs set u-1 --db ./usersync.db --theme dark --language de-CH
  usersync prefs set u-1 --db ./usersync.db --high-contrast=false`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			flags := cmd.Flags()

			var patch usercontext.PreferencesPatch
			if flags.Changed("language") {
				patch.Language = &lang
			}
			if flags.Changed("theme") {
				t := usercontext.Theme(theme)
				patch.Theme = &t
			}
			boolFlags := []struct {
				name   string
				value  *bool
				target **bool
			}{
				{"high-contrast", &highContrast, &patch.HighContrast},
				{"large-text", &largeText, &patch.LargeText},
				{"reduced-motion", &reducedMotion, &patch.ReducedMotion},
				{"screen-reader", &screenReader, &patch.ScreenReader},
			}
			for _, f := range boolFlags {
				if flags.Changed(f.name) {
					*f.target = f.value
				}
			}
			if patch.Empty() {
				return out.Fail(ExitCommandError, CodeInput, "nothing to change: pass at least one preference flag", nil)
			}

			return opts.withStore(out, func(st *store.Store) error {
				prefs, err := setPreferences(cmd.Context(), st, args[0], patch)
				if err != nil {
					if usercontext.IsValidationError(err) {
						return out.Fail(ExitFailure, CodeInput, "invalid preferences", err)
					}
					return out.Fail(ExitCommandError, CodeStore, "failed to save preferences", err)
				}
				return writePreferences(out, cmd.OutOrStdout(), args[0], prefs)
			})
		},
	}

	cmd.Flags().StringVar(&lang, "language", "", "BCP 47 language tag")
	cmd.Flags().StringVar(&theme, "theme", "", "theme (system|light|dark)")
	cmd.Flags().BoolVar(&highContrast, "high-contrast", false, "high contrast")
	cmd.Flags().BoolVar(&largeText, "large-text", false, "large text")
	cmd.Flags().BoolVar(&reducedMotion, "reduced-motion", false, "reduced motion")
	cmd.Flags().BoolVar(&screenReader, "screen-reader", false, "screen reader")
	return cmd
}

func newPrefsListCommand(opts *PrefsOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List every stored preference record",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			return opts.withStore(out, func(st *store.Store) error {
				records, err := st.ListPreferences(cmd.Context())
				if err != nil {
					return out.Fail(ExitCommandError, CodeStore, "failed to list preferences", err)
				}
				if out.JSON() {
					if records == nil {
						records = []store.StoredPreferences{}
					}
					return out.Success(records)
				}
				w := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(w, "No stored preferences.")
					return nil
				}
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.UserID, r.Preferences.Language,
						r.Preferences.Theme, r.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
				}
				return nil
			})
		},
	}
}

// setPreferences applies patch to the stored record of userID, or to the
// defaults, and saves the normalised result.
func setPreferences(ctx context.Context, st *store.Store, userID string, patch usercontext.PreferencesPatch) (usercontext.Preferences, error) {
	base, ok, err := st.LoadPreferences(ctx, userID)
	if err != nil {
		return usercontext.Preferences{}, err
	}
	if !ok {
		base = usercontext.DefaultPreferences()
	}

	prefs, err := patch.Apply(base).Normalize()
	if err != nil {
		return usercontext.Preferences{}, err
	}
	if err := prefs.Validate(); err != nil {
		return usercontext.Preferences{}, err
	}
	if err := st.SavePreferences(ctx, userID, prefs); err != nil {
		return usercontext.Preferences{}, err
	}
	return prefs, nil
}

func (o *PrefsOptions) withStore(out *OutputFormatter, fn func(*store.Store) error) error {
	out.VerboseLog("opening %s", o.Database)
	st, err := store.Open(o.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer st.Close()
	return fn(st)
}

func writePreferences(out *OutputFormatter, w io.Writer, userID string, p usercontext.Preferences) error {
	if out.JSON() {
		return out.Success(map[string]any{"user_id": userID, "preferences": p})
	}
	a := p.Accessibility
	fmt.Fprintf(w, "user:           %s\n", userID)
	fmt.Fprintf(w, "language:       %s\n", p.Language)
	fmt.Fprintf(w, "theme:          %s\n", p.Theme)
	fmt.Fprintf(w, "high_contrast:  %t\n", a.HighContrast)
	fmt.Fprintf(w, "large_text:     %t\n", a.LargeText)
	fmt.Fprintf(w, "reduced_motion: %t\n", a.ReducedMotion)
	fmt.Fprintf(w, "screen_reader:  %t\n", a.ScreenReader)
	return nil
}
