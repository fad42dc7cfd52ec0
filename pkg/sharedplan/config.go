package sharedplan

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PlancacheThreshold is the upper bound on Threshold and the fixed
// constant the cost-bias formula scales against. The matching
// decay/dealloc-percent constants live in internal/usage, which owns
// the eviction sweep.
const PlancacheThreshold = 5

// Config holds every tunable of a Cache. Values are set via functional
// Options at construction time rather than a struct literal or an
// env/flags loader.
type Config struct {
	Enabled bool

	// Max is the maximum number of entries the store may hold.
	// Immutable after New.
	Max int

	MinPlanTime time.Duration

	// ReadOnly suppresses new caching when true. A caller can toggle
	// this at any time, including mid-DDL during a LOCK window — see
	// DESIGN.md open question 3; this is a known, intentionally
	// unresolved hazard carried over from the source.
	ReadOnly bool

	Threshold int

	RdependMax int

	DisablePlanCache bool

	// CPUOperatorCost is the host planner's per-operator cost unit used
	// by the cost-bias formula. PostgreSQL's own default is 0.0025; this
	// module does not own planner cost constants so it is supplied by
	// the host.
	CPUOperatorCost float64

	ExplainCosts   bool
	ExplainFormat  string
	ExplainVerbose bool

	logger *zap.Logger
	reg    *prometheus.Registry
}

var (
	errInvalidMax        = errors.New("sharedplan: Max must be >= 5")
	errInvalidThreshold  = errors.New("sharedplan: Threshold must be in 1..5")
	errInvalidRdependMax = errors.New("sharedplan: RdependMax must be > 0")
	errInvalidCPUCost    = errors.New("sharedplan: CPUOperatorCost must be > 0")
)

// Option configures a Cache at construction time.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Max:             100,
		MinPlanTime:     10 * time.Millisecond,
		Threshold:       4,
		RdependMax:      50,
		CPUOperatorCost: 0.0025,
		logger:          zap.NewNop(),
	}
}

// WithEnabled sets the master switch (default true). When false, Lookup
// always plans custom and never caches.
func WithEnabled(b bool) Option { return func(c *Config) { c.Enabled = b } }

// WithMax overrides the maximum entry count (default 100, bound 5..∞).
func WithMax(n int) Option { return func(c *Config) { c.Max = n } }

// WithMinPlanTime overrides the minimum measured planning time below
// which a plan is never cached (default 10ms).
func WithMinPlanTime(d time.Duration) Option { return func(c *Config) { c.MinPlanTime = d } }

// WithReadOnly sets the initial ReadOnly state.
func WithReadOnly(ro bool) Option { return func(c *Config) { c.ReadOnly = ro } }

// WithThreshold overrides the arbitration sample threshold (default 4,
// bound 1..5).
func WithThreshold(n int) Option { return func(c *Config) { c.Threshold = n } }

// WithRdependMax overrides the per-object reverse-dependency fanout cap
// (default 50).
func WithRdependMax(n int) Option { return func(c *Config) { c.RdependMax = n } }

// WithDisablePlanCache enables the aggressive cost-bias branch that
// forces generic plans by driving the reported cost of the returned
// cached plan below zero, with no 0.001 floor.
func WithDisablePlanCache(b bool) Option { return func(c *Config) { c.DisablePlanCache = b } }

// WithCPUOperatorCost overrides the planner cost unit used by the
// cost-bias formula (default 0.0025, PostgreSQL's own default).
func WithCPUOperatorCost(v float64) Option { return func(c *Config) { c.CPUOperatorCost = v } }

// WithExplain sets the three introspection-only explain flags.
func WithExplain(costs bool, format string, verbose bool) Option {
	return func(c *Config) {
		c.ExplainCosts = costs
		c.ExplainFormat = format
		c.ExplainVerbose = verbose
	}
}

// WithLogger overrides the zap logger used for warn/debug trace. Default
// is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus-backed counters/gauges registered
// against reg. Without this option, metrics calls are no-ops.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *Config) { c.reg = reg }
}

func applyOptions(cfg *Config, opts []Option) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Max < 5 {
		return errInvalidMax
	}
	if cfg.Threshold < 1 || cfg.Threshold > PlancacheThreshold {
		return errInvalidThreshold
	}
	if cfg.RdependMax <= 0 {
		return errInvalidRdependMax
	}
	if cfg.CPUOperatorCost <= 0 {
		return errInvalidCPUCost
	}
	return nil
}
