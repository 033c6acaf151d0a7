package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/usersync/internal/auth"
	"github.com/roach88/usersync/internal/engine"
	"github.com/roach88/usersync/internal/metrics"
	"github.com/roach88/usersync/internal/store"
	"github.com/roach88/usersync/internal/transition"
	"github.com/roach88/usersync/internal/usercontext"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database     string
	IdentityFile string
	MetricsAddr  string
	Duration     time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine in the foreground",
		Long: `Run the synchronization engine against an identity file.

The identity file is re-read on every provider refresh, so editing it
simulates sign-in, role changes and sign-out. A missing or empty file means
nobody is signed in. Preferences and the local snapshot live in the SQLite
database (created if it doesn't exist). Deliveries and transitions are
logged to stderr.

Example:
  usersync run --db ./usersync.db --identity ./identity.yaml
  usersync run --db ./usersync.db --metrics-addr :9090 --verbose
  usersync run --db /tmp/test.db --duration 30s --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: database from config)")
	cmd.Flags().StringVar(&opts.IdentityFile, "identity", "", "YAML identity file read on every refresh")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}
	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Database
	}
	if dbPath == "" {
		return out.Fail(ExitCommandError, CodeInput, "no database: pass --db or set database in the config", nil)
	}

	logger.Info("opening database", "path", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()
	if v, err := st.SchemaVersion(); err == nil {
		logger.Debug("database ready", "schema_version", v)
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)

	var provider auth.Provider = auth.NewStatic(nil)
	if opts.IdentityFile != "" {
		provider = identityFileProvider(opts.IdentityFile)
	}

	eng, err := engine.New(cfg, provider,
		engine.WithLogger(logger),
		engine.WithMetrics(recorder),
		engine.WithPreferenceStore(st),
		engine.WithSnapshotStore(st),
	)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "failed to create engine", err)
	}
	defer eng.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	if opts.MetricsAddr != "" {
		shutdown, err := serveMetrics(opts.MetricsAddr, reg, logger)
		if err != nil {
			return out.Fail(ExitCommandError, CodeInput, "failed to serve metrics", err)
		}
		defer shutdown()
	}

	eng.Subscribe("cli", func(c usercontext.UserContext) {
		logger.Info("context delivered",
			"event", "delivery",
			"user_id", c.UserID(),
			"role", string(c.Role),
			"authenticated", c.Authenticated)
	})
	eng.SubscribeToTransitions("cli", func(tr transition.Transition) {
		logger.Info("context transition",
			"event", "transition",
			"type", string(tr.Type),
			"duration", tr.Duration,
			"smooth", tr.Smooth)
	})

	if err := eng.Start(ctx); err != nil {
		if engine.IsClosed(err) {
			return WrapExitError(ExitFailure, "engine error", err)
		}
		// Contained by the engine: it serves the fallback and recovers.
		logger.Warn("engine started degraded", "error", err)
	}

	if !out.JSON() {
		fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Watching identity changes...")
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	}

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	stats := eng.Stats()
	logger.Info("engine stopped gracefully")
	if out.JSON() {
		return out.Success(stats)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped: user=%q seq=%d transitions=%d breaker=%s mode=%s\n",
		stats.UserID, stats.Seq, stats.Transitions, stats.Breaker, stats.Mode)
	return nil
}

// identityFileProvider answers CurrentUser from a YAML identity file:
//
//	id: u-1
//	role: agent
//	email: agent@example.com
func identityFileProvider(path string) auth.Provider {
	return auth.ProviderFunc(func(ctx context.Context) (*auth.Identity, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", auth.ErrUnavailable, err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}

		var id auth.Identity
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&id); err != nil {
			return nil, fmt.Errorf("parse identity file %s: %w", path, err)
		}
		return &id, nil
	})
}

// serveMetrics exposes reg on addr under /metrics and returns a shutdown
// func.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
