package flow

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dshills/edgeflow-go/flow/emit"
)

// DefaultLoopBound caps loop re-entries per loop instance when no bound
// is configured.
const DefaultLoopBound = 10000

// Environment variables consulted by OptionsFromEnv.
const (
	// EnvLoopBound overrides the per-loop re-entry cap.
	EnvLoopBound = "ENGINE_LOOP_BOUND"

	// EnvRunTimeoutMS sets the default per-run wall-clock budget in
	// milliseconds.
	EnvRunTimeoutMS = "ENGINE_RUN_TIMEOUT_MS"
)

// Options configures Engine execution behaviour. Zero values are valid;
// the engine substitutes defaults where it matters.
type Options struct {
	// LoopBound caps re-entries per loop node instance. 0 means
	// DefaultLoopBound.
	LoopBound int

	// RunTimeout is the per-run wall-clock budget. 0 disables it.
	RunTimeout time.Duration

	// Services is the collection injected under the reserved services
	// state key before the run begins. Nodes retrieve entries by
	// well-known sub-keys.
	Services map[string]any
}

// Option is a functional option for configuring an Engine.
type Option func(*engineConfig) error

type engineConfig struct {
	opts    Options
	emitter emit.Emitter
	metrics *Metrics
}

// WithLoopBound caps loop re-entries per loop node instance. Exceeding
// the bound fails the run with CauseLoopBound.
func WithLoopBound(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return fmt.Errorf("loop bound must be non-negative, got %d", n)
		}
		cfg.opts.LoopBound = n
		return nil
	}
}

// WithRunTimeout sets the per-run wall-clock budget. Exceeding it fails
// the run with CauseTimeout.
func WithRunTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return fmt.Errorf("run timeout must be non-negative, got %v", d)
		}
		cfg.opts.RunTimeout = d
		return nil
	}
}

// WithEmitter directs observability events to the given emitter. Nil is
// valid and disables emission.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.emitter = e
		return nil
	}
}

// WithMetrics records run and step metrics on the given collector.
func WithMetrics(m *Metrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithServices injects the service collection nodes retrieve through
// Context.Service. The map is placed under a reserved state key; its
// entries never appear in the public final state.
func WithServices(services map[string]any) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Services = services
		return nil
	}
}

// WithOptions applies a whole Options struct at once. Later options
// override its fields.
func WithOptions(opts Options) Option {
	return func(cfg *engineConfig) error {
		cfg.opts = opts
		return nil
	}
}

// OptionsFromEnv builds Options from ENGINE_LOOP_BOUND and
// ENGINE_RUN_TIMEOUT_MS. Unset or malformed variables fall back to
// defaults; malformed values are reported in the returned error while
// the Options remain usable.
func OptionsFromEnv() (Options, error) {
	opts := Options{}
	var firstErr error

	if raw := os.Getenv(EnvLoopBound); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			firstErr = fmt.Errorf("invalid %s=%q", EnvLoopBound, raw)
		} else {
			opts.LoopBound = n
		}
	}

	if raw := os.Getenv(EnvRunTimeoutMS); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s=%q", EnvRunTimeoutMS, raw)
			}
		} else {
			opts.RunTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	return opts, firstErr
}
