// Package build sequences the site producers: the aggregate build, the
// production deploy and the watch loop.
package build

import (
	"context"
	"time"

	"github.com/conneroisu/sitewright/internal/errors"
)

// Task names.
const (
	TaskScripts   = "scripts"
	TaskTemplates = "templates"
	TaskStyles    = "styles"
	TaskAssets    = "assets"
)

// Reload is the live reload signal a producer asks for after a run.
type Reload int

const (
	ReloadNone Reload = iota
	ReloadFull
	ReloadCSS
)

func (r Reload) String() string {
	switch r {
	case ReloadFull:
		return "full"
	case ReloadCSS:
		return "css"
	default:
		return "none"
	}
}

// Result is the outcome of one producer run.
type Result struct {
	Task     string
	Files    []string
	Duration time.Duration
	Reload   Reload
	// Err is set when the run failed. Compiler errors are carried as
	// *errors.BuildFailure and never abort sibling producers.
	Err error
}

// Failed reports whether the run produced an error.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Diagnostics returns the located compiler messages of a failed run.
func (r Result) Diagnostics() []errors.Diagnostic {
	if f, ok := errors.AsBuildFailure(r.Err); ok {
		return f.Diagnostics
	}
	if r.Err != nil {
		return []errors.Diagnostic{{Message: r.Err.Error()}}
	}
	return nil
}

// Producer writes one part of the output tree.
type Producer interface {
	Name() string
	Run(ctx context.Context) Result
}

// Matcher is implemented by producers that know which source changes
// concern them.
type Matcher interface {
	Matches(path string) bool
}

// Resident producers keep state across runs for a whole watch session. They
// run once when watching starts and are closed when it ends.
type Resident interface {
	Producer
	Matcher
	Close() error
}

// Failure builds a failed Result for task from err.
func Failure(task string, start time.Time, err error) Result {
	return Result{Task: task, Duration: time.Since(start), Err: err}
}
