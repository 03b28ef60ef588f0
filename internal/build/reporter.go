package build

import (
	"context"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/sitewright/internal/errors"
	"github.com/conneroisu/sitewright/internal/logging"
	"github.com/conneroisu/sitewright/internal/websocket"
)

// Notifier alerts the developer about a failed task.
type Notifier interface {
	Notify(title, message string) error
	Beep() error
}

// Broadcaster pushes live reload messages to connected browsers.
type Broadcaster interface {
	Broadcast(msg websocket.UpdateMessage)
}

// DesktopNotifier uses the platform's notification center and terminal bell.
type DesktopNotifier struct{}

func (DesktopNotifier) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}

func (DesktopNotifier) Beep() error {
	return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
}

// Stats tracks task outcomes over the process lifetime.
type Stats struct {
	Runs          int64
	Failures      int64
	TotalDuration time.Duration
}

// AverageDuration is the mean duration of all runs.
func (s Stats) AverageDuration() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Runs)
}

// Reporter is told about every Result. It logs it, alerts on failures and
// forwards reload signals to the browser.
type Reporter struct {
	logger      logging.Logger
	notifier    Notifier
	broadcaster Broadcaster
	cssHref     string

	mu    sync.Mutex
	stats Stats
}

// NewReporter creates a reporter. notifier and broadcaster may be nil.
// cssHref is the stylesheet URL sent with stylesheet reloads.
func NewReporter(logger logging.Logger, notifier Notifier, broadcaster Broadcaster, cssHref string) *Reporter {
	return &Reporter{
		logger:      logger,
		notifier:    notifier,
		broadcaster: broadcaster,
		cssHref:     cssHref,
	}
}

// Report handles one finished run. It is safe for concurrent use.
func (r *Reporter) Report(ctx context.Context, res Result) {
	r.mu.Lock()
	r.stats.Runs++
	r.stats.TotalDuration += res.Duration
	if res.Failed() {
		r.stats.Failures++
	}
	r.mu.Unlock()

	if res.Failed() {
		r.reportFailure(ctx, res)
		return
	}

	r.logger.Info(ctx, "finished "+res.Task,
		"task", res.Task, "files", len(res.Files), "duration", res.Duration.Round(time.Millisecond))

	if r.broadcaster == nil {
		return
	}
	r.broadcaster.Broadcast(websocket.BuildSuccess(res.Task))
	switch res.Reload {
	case ReloadFull:
		r.broadcaster.Broadcast(websocket.FullReload())
	case ReloadCSS:
		r.broadcaster.Broadcast(websocket.CSSUpdate(r.cssHref))
	}
}

func (r *Reporter) reportFailure(ctx context.Context, res Result) {
	r.logger.Error(ctx, res.Err, "compile error", "task", res.Task)

	if r.notifier != nil {
		if err := r.notifier.Beep(); err != nil {
			r.logger.Debug(ctx, "beep failed", "error", err)
		}
		summary := res.Err.Error()
		if f, ok := errors.AsBuildFailure(res.Err); ok {
			summary = f.Summary()
		}
		if err := r.notifier.Notify(failureTitle(res), summary); err != nil {
			r.logger.Debug(ctx, "desktop notification failed", "error", err)
		}
	}

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(websocket.BuildError(res.Task, errors.FormatForBrowser(res.Task, res.Diagnostics())))
	}
}

// Stats returns a snapshot of the counters.
func (r *Reporter) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// failureTitle names compile errors as such; anything that editing sources
// cannot fix is reported as a plain task failure.
func failureTitle(res Result) string {
	if errors.IsRecoverable(res.Err) {
		return taskTitle(res.Task) + " compile error"
	}
	return taskTitle(res.Task) + " failed"
}

// taskTitle capitalises a task name for notification titles. A Caser keeps
// state, so one is made per call.
func taskTitle(task string) string {
	return cases.Title(language.English).String(task)
}
