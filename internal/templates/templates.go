// Package templates renders the site's HTML pages with html/template.
//
// Every file matched by the templates glob is a page unless its base name
// starts with the partial prefix. Partials are parsed into each page's
// template set under their path relative to the glob base, so a page can
// include one with {{template "_layout.html" .}}.
package templates

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"

	"github.com/conneroisu/sitewright/internal/build"
	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/errors"
	"github.com/conneroisu/sitewright/internal/glob"
	"github.com/conneroisu/sitewright/internal/logging"
)

// Data is passed to every page.
type Data struct {
	Base       string
	Production bool
}

// Renderer renders the template glob into the destination directory.
type Renderer struct {
	cfg      *config.Config
	logger   logging.Logger
	minifier *minify.M
}

// NewRenderer creates a renderer for cfg.
func NewRenderer(cfg *config.Config, logger logging.Logger) *Renderer {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.Add("text/html", &html.Minifier{KeepDocumentTags: true, KeepEndTags: true, KeepQuotes: true})
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)

	return &Renderer{
		cfg:      cfg,
		logger:   logger.WithComponent(build.TaskTemplates),
		minifier: m,
	}
}

func (r *Renderer) Name() string { return build.TaskTemplates }

// Matches reports whether a change to path concerns the templates.
func (r *Renderer) Matches(path string) bool {
	return glob.Match(r.cfg.Templates.Watch, r.cfg.Rel(path))
}

// Run renders every page. Pages that fail are reported together; the others
// are still written.
func (r *Renderer) Run(ctx context.Context) build.Result {
	start := time.Now()

	files, err := glob.Expand(r.cfg.Glob(r.cfg.Templates.Source))
	if err != nil {
		return build.Failure(r.Name(), start, errors.NewConfigError(errors.CodeRenderFailed, "expanding templates glob", err))
	}

	var pages []glob.File
	partials := template.New("")
	for _, f := range files {
		if !r.isPartial(f.Rel) {
			pages = append(pages, f)
			continue
		}
		if err := parseInto(partials, f); err != nil {
			return build.Failure(r.Name(), start, errors.NewBuildFailure(r.Name(), err))
		}
	}

	data := Data{Base: r.cfg.BasePath(), Production: r.cfg.Mode.IsProduction()}
	dest := r.cfg.Path(r.cfg.Templates.Destination)

	var (
		written []string
		diags   []errors.Diagnostic
		first   error
	)
	for _, page := range pages {
		out, err := r.render(partials, page, data)
		if err == nil {
			target := filepath.Join(dest, outputName(page.Rel))
			err = writeFile(target, out)
			if err == nil {
				written = append(written, target)
				continue
			}
		}
		if first == nil {
			first = err
		}
		diags = append(diags, errors.ParseDiagnostics(err.Error())...)
	}

	if first != nil {
		result := build.Failure(r.Name(), start, errors.NewBuildFailure(r.Name(), first, diags...))
		result.Files = written
		return result
	}

	r.logger.Debug(ctx, "templates rendered", "pages", len(written), "base", data.Base)

	result := build.Result{Task: r.Name(), Files: written, Duration: time.Since(start)}
	if !r.cfg.Mode.IsProduction() {
		result.Reload = build.ReloadFull
	}
	return result
}

func (r *Renderer) isPartial(rel string) bool {
	prefix := r.cfg.Templates.PartialPrefix
	return prefix != "" && strings.HasPrefix(filepath.Base(rel), prefix)
}

func (r *Renderer) render(partials *template.Template, page glob.File, data Data) ([]byte, error) {
	set, err := partials.Clone()
	if err != nil {
		return nil, err
	}
	if err := parseInto(set, page); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, templateName(page.Rel), data); err != nil {
		return nil, err
	}

	if !data.Production {
		return buf.Bytes(), nil
	}
	out, err := r.minifier.Bytes("text/html", buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("minifying %s: %w", page.Rel, err)
	}
	return out, nil
}

func parseInto(set *template.Template, f glob.File) error {
	src, err := os.ReadFile(f.Path)
	if err != nil {
		return err
	}
	_, err = set.New(templateName(f.Rel)).Parse(string(src))
	return err
}

func templateName(rel string) string {
	return filepath.ToSlash(rel)
}

func outputName(rel string) string {
	return strings.TrimSuffix(rel, filepath.Ext(rel)) + ".html"
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}
