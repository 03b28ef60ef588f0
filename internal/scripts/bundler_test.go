package scripts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitewright/internal/build"
	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/logging"
)

const (
	mainJS = `import { greet } from "./util.js";

greet("world");
`
	utilJS = `export function greet(name) {
  const message = "hello " + name;
  console.log(message);
}
`
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func newProject(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "src/js/main.js", mainJS)
	writeFile(t, root, "src/js/util.js", utilJS)

	cfg := config.Default()
	cfg.Root = root
	return cfg
}

func TestBundleMinifiedOnlyInProduction(t *testing.T) {
	cfg := newProject(t)
	ctx := context.Background()

	dev := NewBundler(cfg, logging.Discard()).Run(ctx)
	require.NoError(t, dev.Err)
	devOut, err := os.ReadFile(OutputPath(cfg))
	require.NoError(t, err)
	assert.Contains(t, string(devOut), "sourceMappingURL=data:application/json")
	assert.Contains(t, string(devOut), "message")

	prodCfg := cfg.WithMode(config.ModeProduction)
	prod := NewBundler(prodCfg, logging.Discard()).Run(ctx)
	require.NoError(t, prod.Err)
	prodOut, err := os.ReadFile(OutputPath(prodCfg))
	require.NoError(t, err)

	assert.Less(t, len(prodOut), len(devOut))
	assert.NotContains(t, string(prodOut), "sourceMappingURL")

	reparsed := api.Transform(string(prodOut), api.TransformOptions{Loader: api.LoaderJS})
	assert.Empty(t, reparsed.Errors)
	assert.Equal(t, build.TaskScripts, prod.Task)
	assert.Equal(t, []string{OutputPath(prodCfg)}, prod.Files)
	assert.Equal(t, build.ReloadNone, prod.Reload)
}

func TestBundleSyntaxErrorWritesNothing(t *testing.T) {
	cfg := newProject(t)
	writeFile(t, cfg.Root, "src/js/main.js", "import { greet } from './util.js'\ngreet(;\n")

	result := NewBundler(cfg, logging.Discard()).Run(context.Background())

	require.True(t, result.Failed())
	diags := result.Diagnostics()
	require.NotEmpty(t, diags)
	assert.Contains(t, diags[0].File, "main.js")
	assert.Equal(t, 2, diags[0].Line)
	assert.NoFileExists(t, OutputPath(cfg))
}

func TestBundleMissingImport(t *testing.T) {
	cfg := newProject(t)
	writeFile(t, cfg.Root, "src/js/main.js", "import './missing.js'\n")

	result := NewBundler(cfg, logging.Discard()).Run(context.Background())

	require.True(t, result.Failed())
	assert.Contains(t, result.Err.Error(), "missing.js")
	assert.NoFileExists(t, OutputPath(cfg))
}

func TestUnknownTarget(t *testing.T) {
	cfg := newProject(t)
	cfg.Scripts.Target = "es1999"

	result := NewBundler(cfg, logging.Discard()).Run(context.Background())

	require.True(t, result.Failed())
	assert.Contains(t, result.Err.Error(), "es1999")
}

func TestMetafileInputs(t *testing.T) {
	inputs := metafileInputs(`{"inputs":{"src/js/main.js":{"bytes":10},"node_modules/x/index.js":{"bytes":3}},"outputs":{}}`)
	assert.Len(t, inputs, 2)
	assert.Contains(t, inputs, "node_modules/x/index.js")

	assert.Empty(t, metafileInputs(""))
	assert.Empty(t, metafileInputs("{not json"))
}
