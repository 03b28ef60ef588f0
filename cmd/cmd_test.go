package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sitewright/internal/build"
	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/logging"
	"github.com/conneroisu/sitewright/internal/version"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
	beeps  int
}

func (n *recordingNotifier) Notify(title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

func (n *recordingNotifier) Beep() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.beeps++
	return nil
}

// setupProject resets viper, points the root at a fresh directory and
// returns it.
func setupProject(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("SITEWRIGHT_ENV", "")
	t.Setenv("NODE_ENV", "")

	dir := t.TempDir()
	viper.Set("root", dir)
	viper.Set("log_level", "error")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	return cmd, out
}

func TestFactoryOrder(t *testing.T) {
	producers := factory(logging.Discard())(config.Default())

	var names []string
	for _, p := range producers {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"templates", "styles", "scripts", "assets"}, names)
}

func TestTaskLookup(t *testing.T) {
	a := &app{cfg: config.Default(), logger: logging.Discard()}

	p, err := a.task("assets")
	require.NoError(t, err)
	assert.Equal(t, "assets", p.Name())

	_, err = a.task("fonts")
	assert.ErrorContains(t, err, `unknown task "fonts"`)
}

func TestStylesheetHref(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "/css/style.css", stylesheetHref(cfg))
	assert.Equal(t, "/static-boilerplate/css/style.css", stylesheetHref(cfg.WithMode(config.ModeProduction)))
}

func TestFailed(t *testing.T) {
	assert.NoError(t, failed([]build.Result{{Task: "assets"}}))

	err := failed([]build.Result{
		{Task: "templates", Err: assert.AnError},
		{Task: "assets"},
		{Task: "styles", Err: assert.AnError},
	})
	assert.EqualError(t, err, "failed tasks: templates, styles")
}

func TestAssetsTask(t *testing.T) {
	dir := setupProject(t)
	writeFile(t, filepath.Join(dir, "src", "assets", "img", "logo.svg"), "<svg/>")

	cmd, _ := testCommand()
	require.NoError(t, runTask(cmd, "assets"))

	data, err := os.ReadFile(filepath.Join(dir, "public", "img", "logo.svg"))
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(data))
}

func TestTemplateFailureNotifies(t *testing.T) {
	dir := setupProject(t)
	writeFile(t, filepath.Join(dir, "src", "templates", "index.html"), `<p>{{ nope }}</p>`)
	writeFile(t, filepath.Join(dir, "src", "templates", "about.html"), `<a href="{{ .Base }}">home</a>`)

	notifier := &recordingNotifier{}
	cmd, _ := testCommand()
	a, err := newApp(cmd, notifier)
	require.NoError(t, err)

	p, err := a.task("templates")
	require.NoError(t, err)

	err = failed(a.pipeline.Run(cmd.Context(), []build.Producer{p}))
	assert.EqualError(t, err, "failed tasks: templates")
	assert.Equal(t, []string{"Templates compile error"}, notifier.titles)
	assert.Equal(t, 1, notifier.beeps)

	about, err := os.ReadFile(filepath.Join(dir, "public", "about.html"))
	require.NoError(t, err)
	assert.Contains(t, string(about), `href="/"`)
}

func TestScriptFailureNotifies(t *testing.T) {
	dir := setupProject(t)
	writeFile(t, filepath.Join(dir, "src", "js", "main.js"), "let x = ;\n")

	notifier := &recordingNotifier{}
	cmd, _ := testCommand()
	a, err := newApp(cmd, notifier)
	require.NoError(t, err)

	p, err := a.task("scripts")
	require.NoError(t, err)

	results := a.pipeline.Run(cmd.Context(), []build.Producer{p})
	assert.EqualError(t, failed(results), "failed tasks: scripts")
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0].Diagnostics())
	assert.Contains(t, results[0].Diagnostics()[0].File, "main.js")

	assert.Equal(t, []string{"Scripts compile error"}, notifier.titles)
	assert.Equal(t, 1, notifier.beeps)
	assert.NoFileExists(t, filepath.Join(dir, "public", "js", "bundle.js"))
}

func TestConfigCommand(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		setupProject(t)
		configFormat = "yaml"

		cmd, out := testCommand()
		require.NoError(t, runConfig(cmd, nil))

		var got map[string]any
		require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
		assert.Equal(t, "public", got["destination"])
		assert.Equal(t, "development", got["mode"])
	})

	t.Run("json production", func(t *testing.T) {
		setupProject(t)
		viper.Set("production", true)
		configFormat = "json"
		t.Cleanup(func() { configFormat = "yaml" })

		cmd, out := testCommand()
		require.NoError(t, runConfig(cmd, nil))

		var got map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &got))
		assert.Equal(t, "production", got["mode"])
	})

	t.Run("unknown format", func(t *testing.T) {
		setupProject(t)
		configFormat = "toml"
		t.Cleanup(func() { configFormat = "yaml" })

		cmd, _ := testCommand()
		assert.ErrorContains(t, runConfig(cmd, nil), "unsupported format: toml")
	})
}

func TestVersionCommand(t *testing.T) {
	reset := func() {
		versionFormat = "text"
		versionShort = false
		versionDetailed = false
	}
	t.Cleanup(reset)
	info := version.Get()

	t.Run("short", func(t *testing.T) {
		reset()
		versionShort = true
		cmd, out := testCommand()
		require.NoError(t, runVersionCommand(cmd, nil))
		assert.Equal(t, info.Version+"\n", out.String())
	})

	t.Run("default", func(t *testing.T) {
		reset()
		cmd, out := testCommand()
		require.NoError(t, runVersionCommand(cmd, nil))
		assert.True(t, strings.HasPrefix(out.String(), "sitewright "+info.Short()))
	})

	t.Run("detailed", func(t *testing.T) {
		reset()
		versionDetailed = true
		cmd, out := testCommand()
		require.NoError(t, runVersionCommand(cmd, nil))
		assert.Contains(t, out.String(), "Go: "+info.GoVersion)
	})

	t.Run("json", func(t *testing.T) {
		reset()
		versionFormat = "json"
		cmd, out := testCommand()
		require.NoError(t, runVersionCommand(cmd, nil))

		var got version.Info
		require.NoError(t, json.Unmarshal(out.Bytes(), &got))
		assert.Equal(t, info.Platform, got.Platform)
	})

	t.Run("unknown format", func(t *testing.T) {
		reset()
		versionFormat = "xml"
		cmd, _ := testCommand()
		assert.Error(t, runVersionCommand(cmd, nil))
	})
}

func TestCommandTree(t *testing.T) {
	want := []string{"assets", "build", "config", "deploy", "push", "scripts", "server", "styles", "templates", "version", "watch"}
	for _, name := range want {
		sub, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	for _, name := range []string{"config", "log-level", "production", "dir"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
	assert.NotNil(t, serverCmd.Flags().Lookup("port"))
	assert.NotNil(t, rootCmd.Flags().Lookup("port"))
}
