package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/usersync/internal/codec"
	"github.com/roach88/usersync/internal/store"
)

// SnapshotOptions holds flags for the snapshot command.
type SnapshotOptions struct {
	*RootOptions
	Database string
	Slot     string
	Raw      bool
}

// SnapshotInfo is the JSON payload of the snapshot command.
type SnapshotInfo struct {
	Slot       string    `json:"slot"`
	Version    int       `json:"version"`
	SavedAt    time.Time `json:"saved_at"`
	UserID     string    `json:"user_id,omitempty"`
	Role       string    `json:"role,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Diagnostic string    `json:"diagnostic"`
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect the local context snapshot",
		Long: `Print the context snapshot the engine restores on start, as a summary
and in CBOR diagnostic notation.

With --raw only the diagnostic notation is printed and the body is not
decoded, which also works for snapshots written by a newer version.

Example:
  usersync snapshot --db ./usersync.db
  usersync snapshot --db ./usersync.db --raw`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Slot, "slot", store.CurrentSlot, "snapshot slot")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "print the diagnostic notation only")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSnapshot(opts *SnapshotOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	st, err := store.Open(opts.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer st.Close()

	body, ok, err := st.SnapshotBody(ctx, opts.Slot)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read snapshot", err)
	}
	if !ok {
		return out.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("no snapshot in slot %q", opts.Slot), nil)
	}
	diag, err := codec.Diagnose(body)
	if err != nil {
		return out.Fail(ExitFailure, CodeStore, "snapshot body is not valid CBOR", err)
	}

	if opts.Raw {
		if out.JSON() {
			return out.Success(map[string]any{"slot": opts.Slot, "diagnostic": diag})
		}
		fmt.Fprintln(cmd.OutOrStdout(), diag)
		return nil
	}

	snap, _, err := st.LoadSnapshotSlot(ctx, opts.Slot)
	if err != nil {
		return out.Fail(ExitFailure, CodeStore, "failed to decode snapshot", err)
	}
	info := SnapshotInfo{
		Slot:       opts.Slot,
		Version:    snap.Version,
		SavedAt:    snap.SavedAt,
		UserID:     snap.Context.UserID(),
		Role:       string(snap.Context.Role),
		SessionID:  snap.Context.Session.ID,
		Diagnostic: diag,
	}
	if out.JSON() {
		return out.Success(info)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "slot:     %s (version %d)\n", info.Slot, info.Version)
	fmt.Fprintf(w, "saved at: %s\n", info.SavedAt.UTC().Format(time.RFC3339Nano))
	if info.UserID == "" {
		fmt.Fprintln(w, "user:     (anonymous)")
	} else {
		fmt.Fprintf(w, "user:     %s (%s)\n", info.UserID, info.Role)
	}
	if info.SessionID != "" {
		fmt.Fprintf(w, "session:  %s\n", info.SessionID)
	}
	fmt.Fprintf(w, "body:     %s\n", info.Diagnostic)
	return nil
}
