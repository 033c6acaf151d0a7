package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Format is a configuration file format.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported config format %q (want .cue, .yaml or .yml)", filepath.Ext(path))
	}
}

// Load reads, schema-checks and validates the file at path.
func Load(path string) (Config, error) {
	format, err := FormatFor(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, format, path)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// fileConfig mirrors #Config.
type fileConfig struct {
	DebounceWindowMS       int64  `json:"debounce_window_ms"`
	MaxUpdateIntervalMS    int64  `json:"max_update_interval_ms"`
	BatchSize              int    `json:"batch_size"`
	BatchDelayMS           int64  `json:"batch_delay_ms"`
	CacheTTLMS             int64  `json:"cache_ttl_ms"`
	CacheMaxEntries        int    `json:"cache_max_entries"`
	CacheMaxBytes          int64  `json:"cache_max_bytes"`
	ContextScopedCache     bool   `json:"context_scoped_cache"`
	SessionDurationMS      int64  `json:"session_duration_ms"`
	ActivityTimeoutMS      int64  `json:"activity_timeout_ms"`
	SessionCheckIntervalMS int64  `json:"session_check_interval_ms"`
	ErrorThreshold         int    `json:"error_threshold"`
	ErrorWindowMS          int64  `json:"error_window_ms"`
	CircuitCooldownMS      int64  `json:"circuit_cooldown_ms"`
	RecoveryDwellMS        int64  `json:"recovery_dwell_ms"`
	RollbackTimeoutMS      int64  `json:"rollback_timeout_ms"`
	RecoveryMaxAttempts    int    `json:"recovery_max_attempts"`
	RecoveryCooldownMS     int64  `json:"recovery_cooldown_ms"`
	SubscriberFailureLimit int    `json:"subscriber_failure_limit"`
	TransitionHistory      int    `json:"transition_history"`
	SmoothThresholdMS      int64  `json:"smooth_threshold_ms"`
	RefreshTimeoutMS       int64  `json:"refresh_timeout_ms"`
	Database               string `json:"database"`
}

func (f fileConfig) config() Config {
	ms := func(n int64) time.Duration { return time.Duration(n) * time.Millisecond }
	return Config{
		DebounceWindow:         ms(f.DebounceWindowMS),
		MaxUpdateInterval:      ms(f.MaxUpdateIntervalMS),
		BatchSize:              f.BatchSize,
		BatchDelay:             ms(f.BatchDelayMS),
		CacheTTL:               ms(f.CacheTTLMS),
		CacheMaxEntries:        f.CacheMaxEntries,
		CacheMaxBytes:          f.CacheMaxBytes,
		ContextScopedCache:     f.ContextScopedCache,
		SessionDuration:        ms(f.SessionDurationMS),
		ActivityTimeout:        ms(f.ActivityTimeoutMS),
		SessionCheckInterval:   ms(f.SessionCheckIntervalMS),
		ErrorThreshold:         f.ErrorThreshold,
		ErrorWindow:            ms(f.ErrorWindowMS),
		CircuitCooldown:        ms(f.CircuitCooldownMS),
		RecoveryDwell:          ms(f.RecoveryDwellMS),
		RollbackTimeout:        ms(f.RollbackTimeoutMS),
		RecoveryMaxAttempts:    f.RecoveryMaxAttempts,
		RecoveryCooldown:       ms(f.RecoveryCooldownMS),
		SubscriberFailureLimit: f.SubscriberFailureLimit,
		TransitionHistory:      f.TransitionHistory,
		SmoothThreshold:        ms(f.SmoothThresholdMS),
		RefreshTimeout:         ms(f.RefreshTimeoutMS),
		Database:               f.Database,
	}
}

// Parse schema-checks data in the given format and returns the validated
// configuration. filename is used in CUE error positions only.
func Parse(data []byte, format Format, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("config schema: %w", err)
	}

	var value cue.Value
	switch format {
	case FormatCUE:
		value = ctx.CompileBytes(data, cue.Filename(filename))
	case FormatYAML:
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		value = ctx.Encode(raw)
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", format)
	}
	if err := value.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var f fileConfig
	if err := unified.Decode(&f); err != nil {
		return Config{}, formatCUEError(err)
	}

	cfg := f.config()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// formatCUEError flattens a CUE error list into one error, one line per
// problem.
func formatCUEError(err error) error {
	var lines []string
	for _, e := range cueerrors.Errors(err) {
		lines = append(lines, e.Error())
	}
	if len(lines) == 0 {
		return err
	}
	return errors.New(strings.Join(lines, "\n"))
}
