package build

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/errors"
	"github.com/conneroisu/sitewright/internal/logging"
	"github.com/conneroisu/sitewright/internal/watcher"
)

// eventLog records the order in which things happen across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeProducer struct {
	name    string
	cfg     *config.Config
	delay   time.Duration
	err     error
	pattern string
	log     *eventLog
	runs    atomic.Int32
}

func (f *fakeProducer) Name() string { return f.name }

func (f *fakeProducer) Run(ctx context.Context) Result {
	f.runs.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		f.log.add("fail:" + f.name)
		return Result{Task: f.name, Err: f.err}
	}
	out := filepath.Join(f.cfg.OutputDir(), f.name+".out")
	_ = os.MkdirAll(filepath.Dir(out), 0o755)
	_ = os.WriteFile(out, []byte(f.cfg.Mode.String()), 0o644)
	f.log.add("done:" + f.name)
	return Result{Task: f.name, Files: []string{out}, Duration: f.delay}
}

func (f *fakeProducer) Matches(path string) bool {
	return f.pattern != "" && filepath.Base(path) == f.pattern
}

type fakeResident struct {
	fakeProducer
	closed atomic.Bool
}

func (f *fakeResident) Close() error {
	f.closed.Store(true)
	return nil
}

type fakePublisher struct {
	log *eventLog
	dir string
	err error
}

func (f *fakePublisher) Publish(_ context.Context, dir string) error {
	f.log.add("publish")
	f.dir = dir
	return f.err
}

type fixture struct {
	cfg       *config.Config
	log       *eventLog
	publisher *fakePublisher
	modes     []config.Mode
	failing   string
	mu        sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	log := &eventLog{}
	return &fixture{cfg: cfg, log: log, publisher: &fakePublisher{log: log}}
}

func (f *fixture) factory(cfg *config.Config) []Producer {
	f.mu.Lock()
	f.modes = append(f.modes, cfg.Mode)
	f.mu.Unlock()

	var producers []Producer
	for i, name := range []string{TaskTemplates, TaskStyles, TaskScripts, TaskAssets} {
		p := &fakeProducer{name: name, cfg: cfg, delay: time.Duration(4-i) * 15 * time.Millisecond, log: f.log}
		if name == f.failing {
			p.err = errors.NewBuildFailure(name, stderrors.New("Error > src/sass/style.scss:3\nbad"))
		}
		producers = append(producers, p)
	}
	return producers
}

func (f *fixture) pipeline() *Pipeline {
	return NewPipeline(f.cfg, f.factory, f.publisher, NewReporter(logging.Discard(), nil, nil, ""), logging.Discard())
}

func TestBuildRemovesStrayFilesAndJoins(t *testing.T) {
	f := newFixture(t)
	stray := filepath.Join(f.cfg.OutputDir(), "old", "stray.html")
	require.NoError(t, os.MkdirAll(filepath.Dir(stray), 0o755))
	require.NoError(t, os.WriteFile(stray, []byte("stale"), 0o644))

	results, err := f.pipeline().Build(context.Background())

	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.NoFileExists(t, stray)
	for _, res := range results {
		assert.False(t, res.Failed())
		assert.FileExists(t, res.Files[0])
	}
	assert.Len(t, f.log.all(), 4)
	assert.Equal(t, TaskTemplates, results[0].Task)
	assert.Equal(t, TaskAssets, results[3].Task)
	assert.Equal(t, []config.Mode{config.ModeDevelopment}, f.modes)
}

func TestDeployPublishesAfterAllProducers(t *testing.T) {
	f := newFixture(t)

	results, err := f.pipeline().Deploy(context.Background())

	require.NoError(t, err)
	require.Len(t, results, 4)
	events := f.log.all()
	require.Len(t, events, 5)
	assert.Equal(t, "publish", events[4])
	assert.ElementsMatch(t, []string{"done:templates", "done:styles", "done:scripts", "done:assets"}, events[:4])

	assert.Equal(t, []config.Mode{config.ModeProduction}, f.modes)
	assert.Equal(t, config.ModeDevelopment, f.cfg.Mode)
	assert.Equal(t, f.cfg.OutputDir(), f.publisher.dir)

	written, err := os.ReadFile(filepath.Join(f.cfg.OutputDir(), "styles.out"))
	require.NoError(t, err)
	assert.Equal(t, "production", string(written))
}

func TestDeployAbortsOnFailure(t *testing.T) {
	f := newFixture(t)
	f.failing = TaskStyles

	results, err := f.pipeline().Deploy(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "styles")
	assert.True(t, errors.IsBuildError(err))
	assert.Len(t, results, 4)
	assert.NotContains(t, f.log.all(), "publish")
	assert.Len(t, f.log.all(), 4)
}

func TestDeployPublishError(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = stderrors.New("remote rejected")

	_, err := f.pipeline().Deploy(context.Background())

	assert.EqualError(t, err, "remote rejected")
}

func TestPushWithoutPublisher(t *testing.T) {
	f := newFixture(t)
	p := NewPipeline(f.cfg, f.factory, nil, nil, logging.Discard())

	assert.Error(t, p.Push(context.Background()))
	_, err := p.Deploy(context.Background())
	assert.Error(t, err)
}

func TestCleanRefusesProjectRoot(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.Destination = "."

	err := Clean(cfg)

	require.Error(t, err)
	assert.DirExists(t, cfg.Root)
}

func TestRoute(t *testing.T) {
	log := &eventLog{}
	styles := &fakeProducer{name: TaskStyles, pattern: "style.scss", log: log}
	templates := &fakeProducer{name: TaskTemplates, pattern: "index.html", log: log}
	plain := &fakeProducer{name: "plain", log: log}
	producers := []Producer{templates, styles, plain}

	assert.Equal(t, []Producer{styles}, Route([]string{"/s/style.scss"}, producers))
	assert.Equal(t, []Producer{templates, styles}, Route([]string{"/s/style.scss", "/s/index.html", "/s/index.html"}, producers))
	assert.Empty(t, Route([]string{"/s/README.md"}, producers))
}

type fakeSource struct {
	mu      sync.Mutex
	handler watcher.ChangeHandler
	started chan struct{}
	stopped atomic.Bool
}

func (s *fakeSource) AddHandler(h watcher.ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *fakeSource) Start(context.Context) error {
	close(s.started)
	return nil
}

func (s *fakeSource) Stop() error {
	s.stopped.Store(true)
	return nil
}

func (s *fakeSource) emit(paths ...string) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	events := make([]watcher.ChangeEvent, 0, len(paths))
	for _, p := range paths {
		events = append(events, watcher.ChangeEvent{Type: watcher.EventTypeModified, Path: p})
	}
	return h(events)
}

func TestWatchRoutesChanges(t *testing.T) {
	f := newFixture(t)
	bundler := &fakeResident{fakeProducer: fakeProducer{name: TaskScripts, cfg: f.cfg, pattern: "main.js", log: f.log}}
	styles := &fakeProducer{name: TaskStyles, cfg: f.cfg, pattern: "style.scss", log: f.log}
	assets := &fakeProducer{name: TaskAssets, cfg: f.cfg, pattern: "logo.png", log: f.log}
	source := &fakeSource{started: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.pipeline().Watch(ctx, source, []Producer{bundler, styles, assets})
	}()

	select {
	case <-source.started:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not start the change source")
	}
	assert.Equal(t, int32(1), bundler.runs.Load())

	require.NoError(t, source.emit("/site/src/sass/style.scss"))
	assert.Equal(t, int32(1), styles.runs.Load())
	assert.Equal(t, int32(0), assets.runs.Load())
	assert.Equal(t, int32(1), bundler.runs.Load())

	require.NoError(t, source.emit("/site/src/js/main.js", "/site/src/assets/logo.png"))
	assert.Equal(t, int32(2), bundler.runs.Load())
	assert.Equal(t, int32(1), assets.runs.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
	assert.True(t, bundler.closed.Load())
	assert.True(t, source.stopped.Load())
}
