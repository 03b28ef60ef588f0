package scripts

import (
	"context"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/sitewright/internal/build"
	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/errors"
	"github.com/conneroisu/sitewright/internal/glob"
	"github.com/conneroisu/sitewright/internal/logging"
)

// Rebuilder is the part of an esbuild build context the watch loop uses.
type Rebuilder interface {
	Rebuild() api.BuildResult
	Dispose()
}

// ContextFactory creates the long-lived build context.
type ContextFactory func(opts api.BuildOptions) (Rebuilder, error)

func esbuildContext(opts api.BuildOptions) (Rebuilder, error) {
	ctx, cerr := api.Context(opts)
	if cerr != nil {
		return nil, errors.NewBuildFailure(build.TaskScripts, nil, diagnostics(cerr.Errors)...)
	}
	return ctx, nil
}

// Incremental keeps one esbuild context alive for a watch session so that
// rebuilds reuse its parsed module cache.
type Incremental struct {
	cfg        *config.Config
	logger     logging.Logger
	newContext ContextFactory

	mu     sync.Mutex
	ctx    Rebuilder
	inputs map[string]struct{}
}

// NewIncremental creates an incremental bundler. The esbuild context is
// created lazily on the first Run.
func NewIncremental(cfg *config.Config, logger logging.Logger) *Incremental {
	return NewIncrementalWith(cfg, logger, esbuildContext)
}

// NewIncrementalWith is NewIncremental with a custom context factory.
func NewIncrementalWith(cfg *config.Config, logger logging.Logger, factory ContextFactory) *Incremental {
	return &Incremental{
		cfg:        cfg,
		logger:     logger.WithComponent(build.TaskScripts),
		newContext: factory,
		inputs:     make(map[string]struct{}),
	}
}

func (i *Incremental) Name() string { return build.TaskScripts }

// Run rebuilds the bundle and writes it.
func (i *Incremental) Run(ctx context.Context) build.Result {
	i.mu.Lock()
	defer i.mu.Unlock()

	start := time.Now()
	perf := logging.StartOperation(i.logger, "Rebundling script bundle")

	if i.ctx == nil {
		opts, err := buildOptions(i.cfg)
		if err != nil {
			perf.EndWithError(ctx, err)
			return build.Failure(i.Name(), start, err)
		}
		rc, err := i.newContext(opts)
		if err != nil {
			perf.EndWithError(ctx, err)
			return build.Failure(i.Name(), start, err)
		}
		i.ctx = rc
	}

	res := i.ctx.Rebuild()
	if len(res.Errors) == 0 {
		i.inputs = metafileInputs(res.Metafile)
	}

	result := finish(i.Name(), start, res)
	result.Reload = build.ReloadFull
	if result.Failed() {
		result.Reload = build.ReloadNone
		perf.EndWithError(ctx, result.Err)
		return result
	}
	result.Duration = perf.End(ctx)
	return result
}

// Matches reports whether a change to path should trigger a rebuild: it
// matches the scripts watch glob or was an input of the last bundle.
func (i *Incremental) Matches(path string) bool {
	rel := i.cfg.Rel(path)
	if glob.Match(i.cfg.Scripts.Watch, rel) {
		return true
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.inputs[rel]
	return ok
}

// Close disposes of the esbuild context.
func (i *Incremental) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ctx != nil {
		i.ctx.Dispose()
		i.ctx = nil
	}
	return nil
}

var _ build.Resident = (*Incremental)(nil)
