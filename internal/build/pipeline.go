package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/errors"
	"github.com/conneroisu/sitewright/internal/logging"
	"github.com/conneroisu/sitewright/internal/watcher"
)

// Factory creates the producers for a configuration.
type Factory func(cfg *config.Config) []Producer

// Publisher uploads a finished output tree.
type Publisher interface {
	Publish(ctx context.Context, dir string) error
}

// ChangeSource delivers debounced batches of changed files.
type ChangeSource interface {
	AddHandler(handler watcher.ChangeHandler)
	Start(ctx context.Context) error
	Stop() error
}

// Pipeline sequences the producers for the build, deploy, push and watch
// tasks.
type Pipeline struct {
	cfg       *config.Config
	factory   Factory
	publisher Publisher
	reporter  *Reporter
	logger    logging.Logger
}

// NewPipeline creates a pipeline. publisher may be nil when deploy and push
// are not used.
func NewPipeline(cfg *config.Config, factory Factory, publisher Publisher, reporter *Reporter, logger logging.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		factory:   factory,
		publisher: publisher,
		reporter:  reporter,
		logger:    logger.WithComponent("pipeline"),
	}
}

// Run runs producers concurrently and returns once every one has finished.
// Results are in the order of producers.
func (p *Pipeline) Run(ctx context.Context, producers []Producer) []Result {
	results := make([]Result, len(producers))

	var g errgroup.Group
	for i, prod := range producers {
		g.Go(func() error {
			res := prod.Run(ctx)
			if res.Task == "" {
				res.Task = prod.Name()
			}
			results[i] = res
			if p.reporter != nil {
				p.reporter.Report(ctx, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Build clears the output root and runs every producer to completion.
func (p *Pipeline) Build(ctx context.Context) ([]Result, error) {
	return p.build(ctx, p.cfg)
}

func (p *Pipeline) build(ctx context.Context, cfg *config.Config) ([]Result, error) {
	perf := logging.StartOperation(p.logger, "build")
	if err := Clean(cfg); err != nil {
		return nil, err
	}
	results := p.Run(ctx, p.factory(cfg))
	perf.End(ctx)
	return results, nil
}

// Deploy builds a production copy of the configuration and publishes it. The
// publisher only runs after every producer has finished and none failed.
func (p *Pipeline) Deploy(ctx context.Context) ([]Result, error) {
	if p.publisher == nil {
		return nil, errors.NewConfigError(errors.CodePushFailed, "no publisher configured", nil)
	}

	prod := p.cfg.WithMode(config.ModeProduction)
	results, err := p.build(ctx, prod)
	if err != nil {
		return results, err
	}

	var failed []string
	for _, res := range results {
		if res.Failed() {
			failed = append(failed, res.Task)
		}
	}
	if len(failed) > 0 {
		return results, errors.NewBuildError(errors.CodeProducerFailed,
			fmt.Sprintf("not publishing, failed tasks: %s", strings.Join(failed, ", ")), nil)
	}

	return results, p.publisher.Publish(ctx, prod.OutputDir())
}

// Push publishes the current output root as is.
func (p *Pipeline) Push(ctx context.Context) error {
	if p.publisher == nil {
		return errors.NewConfigError(errors.CodePushFailed, "no publisher configured", nil)
	}
	return p.publisher.Publish(ctx, p.cfg.OutputDir())
}

// Watch runs producers whenever source reports a change they match. Resident
// producers run once immediately and are closed when ctx is cancelled.
func (p *Pipeline) Watch(ctx context.Context, source ChangeSource, producers []Producer) error {
	var residents []Producer
	for _, prod := range producers {
		if r, ok := prod.(Resident); ok {
			residents = append(residents, r)
			defer func() {
				if err := r.Close(); err != nil {
					p.logger.Warn(ctx, err, "closing "+r.Name())
				}
			}()
		}
	}
	p.Run(ctx, residents)

	source.AddHandler(func(events []watcher.ChangeEvent) error {
		matched := Route(watcher.Paths(events), producers)
		if len(matched) == 0 {
			return nil
		}
		p.logger.Debug(ctx, "changes routed", "changes", len(events), "tasks", names(matched))
		p.Run(ctx, matched)
		return nil
	})

	if err := source.Start(ctx); err != nil {
		return err
	}
	p.logger.Info(ctx, "watching for changes", "root", p.cfg.Root)

	<-ctx.Done()

	if p.reporter != nil {
		stats := p.reporter.Stats()
		p.logger.Info(ctx, "watch stopped",
			"runs", stats.Runs,
			"failures", stats.Failures,
			"average", stats.AverageDuration())
	}
	return source.Stop()
}

// Route returns, in order, the producers that match at least one path.
func Route(paths []string, producers []Producer) []Producer {
	var matched []Producer
	for _, prod := range producers {
		m, ok := prod.(Matcher)
		if !ok {
			continue
		}
		for _, path := range paths {
			if m.Matches(path) {
				matched = append(matched, prod)
				break
			}
		}
	}
	return matched
}

// Clean removes the output root. It refuses to remove the project root or
// anything above it.
func Clean(cfg *config.Config) error {
	out, err := filepath.Abs(cfg.OutputDir())
	if err != nil {
		return errors.NewIOError(errors.CodeCleanFailed, "resolving output directory", err)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return errors.NewIOError(errors.CodeCleanFailed, "resolving project root", err)
	}
	if rel, err := filepath.Rel(root, out); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return errors.NewConfigError(errors.CodeCleanFailed, "refusing to remove "+out+": not inside the project", nil)
	}

	if err := os.RemoveAll(out); err != nil {
		return errors.NewIOError(errors.CodeCleanFailed, "removing "+out, err)
	}
	return nil
}

func names(producers []Producer) []string {
	out := make([]string, 0, len(producers))
	for _, p := range producers {
		out = append(out, p.Name())
	}
	return out
}
