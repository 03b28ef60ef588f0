// Package styles compiles the Sass entry point with libsass and runs the
// result through esbuild's CSS printer for vendor prefixing.
package styles

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	libsass "github.com/wellington/go-libsass"

	"github.com/conneroisu/sitewright/internal/build"
	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/errors"
	"github.com/conneroisu/sitewright/internal/glob"
	"github.com/conneroisu/sitewright/internal/logging"
)

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

var browserPattern = regexp.MustCompile(`^([a-z]+)\s*(\d+(?:\.\d+)*)$`)

// ParseBrowsers turns targets like "chrome34" or "iOS 7" into esbuild engines.
func ParseBrowsers(browsers []string) ([]api.Engine, error) {
	engines := make([]api.Engine, 0, len(browsers))
	for _, b := range browsers {
		m := browserPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(b)))
		if m == nil {
			return nil, fmt.Errorf("invalid browser target %q", b)
		}
		name, ok := engineNames[m[1]]
		if !ok {
			return nil, fmt.Errorf("unknown browser %q", m[1])
		}
		engines = append(engines, api.Engine{Name: name, Version: m[2]})
	}
	return engines, nil
}

// Compiler builds the stylesheet.
type Compiler struct {
	cfg    *config.Config
	logger logging.Logger
}

// NewCompiler creates a stylesheet compiler for cfg.
func NewCompiler(cfg *config.Config, logger logging.Logger) *Compiler {
	return &Compiler{cfg: cfg, logger: logger.WithComponent(build.TaskStyles)}
}

func (c *Compiler) Name() string { return build.TaskStyles }

// Matches reports whether a change to path concerns the stylesheet.
func (c *Compiler) Matches(path string) bool {
	return glob.Match(c.cfg.Styles.Watch, c.cfg.Rel(path))
}

// OutputPath is where the compiled stylesheet is written.
func OutputPath(cfg *config.Config) string {
	name := filepath.Base(cfg.Styles.Source)
	name = strings.TrimSuffix(name, filepath.Ext(name)) + ".css"
	return filepath.Join(cfg.Path(cfg.Styles.Destination), name)
}

// Run compiles, prefixes and writes the stylesheet. In development the
// libsass source map is chained through the prefixing pass and written next
// to it, so the map points at the Sass sources.
func (c *Compiler) Run(ctx context.Context) build.Result {
	start := time.Now()

	engines, err := ParseBrowsers(c.cfg.Styles.Browsers)
	if err != nil {
		return build.Failure(c.Name(), start, errors.NewConfigError(errors.CodeCompileFailed, "styles.browsers", err))
	}

	var files []string
	if c.cfg.Mode.IsProduction() {
		files, err = c.compileProduction(engines)
	} else {
		files, err = c.compileDevelopment(engines)
	}
	if err != nil {
		return build.Failure(c.Name(), start, err)
	}

	c.logger.Debug(ctx, "stylesheet written", "path", OutputPath(c.cfg), "files", len(files))

	result := build.Result{Task: c.Name(), Files: files, Duration: time.Since(start)}
	if !c.cfg.Mode.IsProduction() {
		result.Reload = build.ReloadCSS
	}
	return result
}

func (c *Compiler) compileProduction(engines []api.Engine) ([]string, error) {
	compiled, err := c.compileSass("")
	if err != nil {
		return nil, errors.NewBuildFailure(c.Name(), err)
	}

	res := api.Transform(string(compiled), api.TransformOptions{
		Loader:     api.LoaderCSS,
		Engines:    engines,
		Sourcefile: filepath.ToSlash(c.cfg.Styles.Source),
		LogLevel:   api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return nil, errors.NewBuildFailure(c.Name(), nil, toDiagnostics(res.Errors)...)
	}

	out := OutputPath(c.cfg)
	if err := writeFile(out, res.Code); err != nil {
		return nil, errors.NewIOError(errors.CodeWriteFailed, "writing stylesheet", err)
	}
	return []string{out}, nil
}

// compileDevelopment stages the libsass output and its map in a scratch
// directory, then prefixes the staged file with esbuild. esbuild follows the
// sourceMappingURL comment and reads the Sass sources back from disk.
func (c *Compiler) compileDevelopment(engines []api.Engine) ([]string, error) {
	scratch, err := os.MkdirTemp("", "sitewright-styles-")
	if err != nil {
		return nil, errors.NewIOError(errors.CodeWriteFailed, "creating scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	out := OutputPath(c.cfg)
	name := filepath.Base(out)
	intermediate := filepath.Join(scratch, name)
	sassMap := intermediate + ".map"

	compiled, err := c.compileSass(sassMap)
	if err != nil {
		return nil, errors.NewBuildFailure(c.Name(), err)
	}
	compiled = append(sourceMapComment.ReplaceAll(compiled, nil), linkComment(name+".map")...)
	if err := os.WriteFile(intermediate, compiled, 0o644); err != nil {
		return nil, errors.NewIOError(errors.CodeWriteFailed, "writing intermediate stylesheet", err)
	}

	root, err := filepath.Abs(c.cfg.Root)
	if err != nil {
		return nil, errors.NewIOError(errors.CodeCompileFailed, "resolving project root", err)
	}
	absOut, err := filepath.Abs(out)
	if err != nil {
		return nil, errors.NewIOError(errors.CodeCompileFailed, "resolving output path", err)
	}

	res := api.Build(api.BuildOptions{
		EntryPoints:    []string{intermediate},
		AbsWorkingDir:  root,
		Outfile:        absOut,
		Engines:        engines,
		Sourcemap:      api.SourceMapLinked,
		SourcesContent: api.SourcesContentInclude,
		LogLevel:       api.LogLevelSilent,
		Write:          false,
	})
	if len(res.Errors) > 0 {
		return nil, errors.NewBuildFailure(c.Name(), nil, toDiagnostics(res.Errors)...)
	}

	files := make([]string, 0, len(res.OutputFiles))
	for _, f := range res.OutputFiles {
		if err := writeFile(f.Path, f.Contents); err != nil {
			return nil, errors.NewIOError(errors.CodeWriteFailed, "writing "+filepath.Base(f.Path), err)
		}
		files = append(files, f.Path)
	}
	return files, nil
}

var sourceMapComment = regexp.MustCompile(`/\*# sourceMappingURL=[^*]*\*/\n?`)

func linkComment(target string) []byte {
	return []byte(fmt.Sprintf("\n/*# sourceMappingURL=%s */\n", target))
}

// compileSass compiles the entry file. When mapPath is set libsass writes its
// source map there.
func (c *Compiler) compileSass(mapPath string) ([]byte, error) {
	entry, err := filepath.Abs(c.cfg.Path(c.cfg.Styles.Source))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(entry); err != nil {
		return nil, err
	}

	includes := []string{filepath.Dir(entry)}
	for _, p := range c.cfg.Styles.IncludePaths {
		abs, err := filepath.Abs(c.cfg.Path(p))
		if err != nil {
			return nil, err
		}
		includes = append(includes, abs)
	}

	var buf bytes.Buffer
	comp, err := libsass.New(&buf, nil,
		libsass.Path(entry),
		libsass.IncludePaths(includes),
		libsass.OutputStyle(libsass.EXPANDED_STYLE),
	)
	if err != nil {
		return nil, err
	}
	if mapPath != "" {
		if err := comp.Option(libsass.SourceMap(true, mapPath, "")); err != nil {
			return nil, err
		}
	}
	if err := comp.Run(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toDiagnostics(msgs []api.Message) []errors.Diagnostic {
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

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}
