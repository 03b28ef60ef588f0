// Package assets copies static files into the output tree unchanged.
package assets

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/sitewright/internal/build"
	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/errors"
	"github.com/conneroisu/sitewright/internal/glob"
	"github.com/conneroisu/sitewright/internal/logging"
)

// Copier copies every file matched by the assets glob.
type Copier struct {
	cfg    *config.Config
	logger logging.Logger
}

func NewCopier(cfg *config.Config, logger logging.Logger) *Copier {
	return &Copier{cfg: cfg, logger: logger.WithComponent(build.TaskAssets)}
}

func (c *Copier) Name() string { return build.TaskAssets }

func (c *Copier) Matches(path string) bool {
	return glob.Match(c.cfg.Assets.Watch, c.cfg.Rel(path))
}

// Run copies the assets, preserving their paths below the glob base.
func (c *Copier) Run(ctx context.Context) build.Result {
	start := time.Now()

	files, err := glob.Expand(c.cfg.Glob(c.cfg.Assets.Source))
	if err != nil {
		return build.Failure(c.Name(), start, errors.NewConfigError(errors.CodeCopyFailed, "expanding assets glob", err))
	}

	dest := c.cfg.Path(c.cfg.Assets.Destination)
	copied := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return build.Failure(c.Name(), start, err)
		}
		target := filepath.Join(dest, f.Rel)
		if err := CopyFile(f.Path, target); err != nil {
			result := build.Failure(c.Name(), start,
				errors.NewIOError(errors.CodeCopyFailed, "copying asset", err).WithLocation(f.Path, 0, 0))
			result.Files = copied
			return result
		}
		copied = append(copied, target)
	}

	c.logger.Debug(ctx, "assets copied", "count", len(copied))
	return build.Result{Task: c.Name(), Files: copied, Duration: time.Since(start)}
}

// CopyFile copies src to dst, keeping the source file mode. Missing parent
// directories of dst are created.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
