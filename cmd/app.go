package cmd

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/sitewright/internal/assets"
	"github.com/conneroisu/sitewright/internal/build"
	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/logging"
	"github.com/conneroisu/sitewright/internal/publish"
	"github.com/conneroisu/sitewright/internal/scripts"
	"github.com/conneroisu/sitewright/internal/server"
	"github.com/conneroisu/sitewright/internal/styles"
	"github.com/conneroisu/sitewright/internal/templates"
	"github.com/conneroisu/sitewright/internal/watcher"
	"github.com/conneroisu/sitewright/internal/websocket"
)

// app holds what every task command shares: the resolved configuration and
// the pipeline that reports into the live reload hub.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	hub      *websocket.Hub
	reporter *build.Reporter
	pipeline *build.Pipeline
}

// newApp loads the configuration and wires the pipeline. notifier defaults
// to desktop notifications.
func newApp(cmd *cobra.Command, notifier build.Notifier) (*app, error) {
	bindFlags(cmd.Flags(), flagKeys)

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(viper.GetString("log_level"))
	if err != nil {
		return nil, err
	}

	if notifier == nil {
		notifier = build.DesktopNotifier{}
	}

	hub := websocket.NewHub(websocket.LocalOriginValidator{Addr: cfg.Addr()}, logger)
	reporter := build.NewReporter(logger, notifier, hub, stylesheetHref(cfg))
	pipeline := build.NewPipeline(cfg, factory(logger), publish.New(cfg, logger), reporter, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		hub:      hub,
		reporter: reporter,
		pipeline: pipeline,
	}, nil
}

func newLogger(level string) (logging.Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     lvl,
		Format:    "text",
		Output:    os.Stderr,
		Component: "sitewright",
	}), nil
}

// factory creates the one-shot producers for the build and deploy tasks.
// Deploy calls it with a production copy of the configuration.
func factory(logger logging.Logger) build.Factory {
	return func(cfg *config.Config) []build.Producer {
		return []build.Producer{
			templates.NewRenderer(cfg, logger),
			styles.NewCompiler(cfg, logger),
			scripts.NewBundler(cfg, logger),
			assets.NewCopier(cfg, logger),
		}
	}
}

// watchProducers are the producers the watch task keeps alive. Scripts are
// rebundled incrementally.
func (a *app) watchProducers() []build.Producer {
	return []build.Producer{
		templates.NewRenderer(a.cfg, a.logger),
		styles.NewCompiler(a.cfg, a.logger),
		scripts.NewIncremental(a.cfg, a.logger),
		assets.NewCopier(a.cfg, a.logger),
	}
}

// task returns the one-shot producer called name.
func (a *app) task(name string) (build.Producer, error) {
	for _, p := range factory(a.logger)(a.cfg) {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown task %q", name)
}

// serve runs the dev server until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	srv := server.New(a.cfg, a.hub, a.logger)
	srv.BuildStats = a.reporter.Stats
	if err := srv.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// watch runs the watch task until ctx is cancelled.
func (a *app) watch(ctx context.Context) error {
	fw, err := watcher.NewFileWatcher(a.cfg.Root, a.cfg.Watch.Debounce, a.logger)
	if err != nil {
		return err
	}
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoNodeModulesFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddFilter(watcher.ExcludeDirFilter(a.cfg.OutputDir()))

	if err := fw.AddRecursive(a.cfg.Root); err != nil {
		return err
	}
	return a.pipeline.Watch(ctx, fw, a.watchProducers())
}

// stylesheetHref is the URL the dev server exposes the stylesheet under.
func stylesheetHref(cfg *config.Config) string {
	rel, err := filepath.Rel(cfg.OutputDir(), styles.OutputPath(cfg))
	if err != nil {
		rel = filepath.Base(styles.OutputPath(cfg))
	}
	return path.Join(cfg.BasePath(), filepath.ToSlash(rel))
}
