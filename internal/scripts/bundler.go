// Package scripts bundles the client script entry point with esbuild.
package scripts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/sitewright/internal/build"
	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/errors"
	"github.com/conneroisu/sitewright/internal/logging"
)

var targets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// Bundler runs one-shot builds of the script bundle.
type Bundler struct {
	cfg    *config.Config
	logger logging.Logger
}

// NewBundler creates a bundler for cfg.
func NewBundler(cfg *config.Config, logger logging.Logger) *Bundler {
	return &Bundler{cfg: cfg, logger: logger.WithComponent(build.TaskScripts)}
}

func (b *Bundler) Name() string { return build.TaskScripts }

// Run bundles the entry point and writes the output. Nothing is written when
// esbuild reports errors.
func (b *Bundler) Run(ctx context.Context) build.Result {
	start := time.Now()
	opts, err := buildOptions(b.cfg)
	if err != nil {
		return build.Failure(b.Name(), start, err)
	}
	result := finish(b.Name(), start, api.Build(opts))
	if !result.Failed() {
		b.logger.Debug(ctx, "bundle written", "files", result.Files, "production", b.cfg.Mode.IsProduction())
	}
	return result
}

// OutputPath is where the bundle is written.
func OutputPath(cfg *config.Config) string {
	return filepath.Join(cfg.Path(cfg.Scripts.Destination), cfg.Scripts.Filename)
}

func buildOptions(cfg *config.Config) (api.BuildOptions, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return api.BuildOptions{}, errors.NewIOError(errors.CodeBundleFailed, "resolving project root", err)
	}

	target, ok := targets[strings.ToLower(cfg.Scripts.Target)]
	if !ok {
		return api.BuildOptions{}, errors.NewConfigError(errors.CodeBundleFailed,
			fmt.Sprintf("unknown script target %q", cfg.Scripts.Target), nil)
	}

	opts := api.BuildOptions{
		AbsWorkingDir: root,
		EntryPoints:   []string{filepath.Join(root, filepath.FromSlash(cfg.Scripts.Source))},
		Outfile:       absOutput(root, cfg),
		Bundle:        true,
		Format:        api.FormatIIFE,
		Platform:      api.PlatformBrowser,
		Target:        target,
		Metafile:      true,
		Write:         false,
		LogLevel:      api.LogLevelSilent,
	}

	if cfg.Mode.IsProduction() {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
		opts.Sourcemap = api.SourceMapNone
	} else {
		opts.Sourcemap = api.SourceMapInline
	}

	return opts, nil
}

func absOutput(root string, cfg *config.Config) string {
	out := OutputPath(cfg)
	if filepath.IsAbs(out) {
		return out
	}
	return filepath.Join(root, filepath.FromSlash(cfg.Scripts.Destination), cfg.Scripts.Filename)
}

// finish turns an esbuild result into a Result, writing the output files on
// success.
func finish(task string, start time.Time, res api.BuildResult) build.Result {
	if len(res.Errors) > 0 {
		return build.Failure(task, start, errors.NewBuildFailure(task, nil, diagnostics(res.Errors)...))
	}

	files := make([]string, 0, len(res.OutputFiles))
	for _, out := range res.OutputFiles {
		if err := os.MkdirAll(filepath.Dir(out.Path), 0o755); err != nil {
			return build.Failure(task, start, errors.NewIOError(errors.CodeWriteFailed, "creating script directory", err))
		}
		if err := os.WriteFile(out.Path, out.Contents, 0o644); err != nil {
			return build.Failure(task, start, errors.NewIOError(errors.CodeWriteFailed, "writing bundle", err))
		}
		files = append(files, out.Path)
	}

	return build.Result{Task: task, Files: files, Duration: time.Since(start)}
}

func diagnostics(msgs []api.Message) []errors.Diagnostic {
	diags := make([]errors.Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		d := errors.Diagnostic{Message: m.Text}
		if m.Location != nil {
			d.File = m.Location.File
			d.Line = m.Location.Line
			d.Column = m.Location.Column
			d.Snippet = m.Location.LineText
		}
		diags = append(diags, d)
	}
	return diags
}

type metafile struct {
	Inputs map[string]json.RawMessage `json:"inputs"`
}

// metafileInputs lists the bundle's source files, relative to the working
// directory esbuild ran in.
func metafileInputs(raw string) map[string]struct{} {
	inputs := make(map[string]struct{})
	if raw == "" {
		return inputs
	}
	var m metafile
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return inputs
	}
	for in := range m.Inputs {
		inputs[filepath.ToSlash(in)] = struct{}{}
	}
	return inputs
}
