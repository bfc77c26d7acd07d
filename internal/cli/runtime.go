package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/resgraph/internal/clock"
	"github.com/roach88/resgraph/internal/config"
	"github.com/roach88/resgraph/internal/executor"
	"github.com/roach88/resgraph/internal/graph"
	"github.com/roach88/resgraph/internal/pattern"
	"github.com/roach88/resgraph/internal/security"
	"github.com/roach88/resgraph/internal/store"
	"github.com/roach88/resgraph/internal/timer"
	"github.com/roach88/resgraph/internal/tracing"
)

// Runtime is a graph together with the services configured around it.
type Runtime struct {
	Graph    *graph.Graph
	Patterns *pattern.Manager
	Timers   *timer.Scheduler
	Clock    clock.Clock

	store   *store.Store
	policy  *security.PolicyOracle
	pool    *executor.Pool
	tracing *tracing.Provider
}

// OpenRuntime wires a graph from cfg. types may be nil.
func OpenRuntime(cfg config.Config, types *graph.TypeTable) (_ *Runtime, err error) {
	rt := &Runtime{}
	defer func() {
		if err != nil {
			rt.Close(context.Background())
		}
	}()

	if rt.tracing, err = tracing.NewProvider(cfg.Tracing); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	tracer := rt.tracing.Tracer()

	var exec executor.Executor = executor.Goroutine{}
	if cfg.Executor.Workers > 0 {
		rt.pool = executor.NewPool(cfg.Executor.Workers)
		exec = rt.pool
	}

	oracle, err := rt.openOracle(cfg.Security)
	if err != nil {
		return nil, err
	}

	if types == nil {
		types = graph.NewTypeTable()
	}
	opts := []graph.Option{
		graph.WithTypes(types),
		graph.WithOracle(oracle),
		graph.WithExecutor(exec),
		graph.WithTracer(tracer),
	}
	if cfg.Database != "" {
		if rt.store, err = store.Open(cfg.Database); err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		opts = append(opts, graph.WithPersistence(rt.store))
	}
	if rt.Graph, err = graph.Open(opts...); err != nil {
		return nil, err
	}

	if rt.Clock, err = openClock(cfg.Clock); err != nil {
		return nil, err
	}
	rt.Patterns = pattern.NewManager(rt.Graph)
	rt.Timers = timer.NewScheduler(rt.Clock, exec, timer.WithTracer(tracer))

	slog.Info("runtime ready",
		"database", cfg.Database,
		"workers", cfg.Executor.Workers,
		"policy", cfg.Security.Policy,
		"clock_rate", rt.Clock.Rate(),
		"tracing", rt.tracing.Enabled(),
	)
	return rt, nil
}

func (rt *Runtime) openOracle(cfg config.SecurityConfig) (graph.Oracle, error) {
	if cfg.Policy == "" {
		return security.AllowAll{}, nil
	}
	po, err := security.NewPolicyOracle(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	rt.policy = po
	if cfg.Watch {
		if err := po.Watch(); err != nil {
			return nil, fmt.Errorf("watch policy: %w", err)
		}
	}
	if cfg.CacheTTL <= 0 {
		return po, nil
	}
	cached := security.NewCachingOracle(po, cfg.CacheTTL)
	po.OnReload(cached.Flush)
	return cached, nil
}

func openClock(cfg config.ClockConfig) (clock.Clock, error) {
	start, ok := config.Config{Clock: cfg}.ClockStart()
	if !ok && cfg.Rate == 1 {
		return clock.System{}, nil
	}
	if !ok {
		start = time.Now()
	}
	sim, err := clock.NewSimulated(start, cfg.Rate)
	if err != nil {
		return nil, fmt.Errorf("clock: %w", err)
	}
	return sim, nil
}

// Close stops every service in reverse start order.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Timers != nil {
		rt.Timers.Close()
	}
	if rt.Patterns != nil {
		rt.Patterns.Close()
	}
	if rt.Graph != nil {
		errs = append(errs, rt.Graph.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.policy != nil {
		errs = append(errs, rt.policy.Close())
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.tracing != nil {
		errs = append(errs, rt.tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
