package styles

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitewright/internal/build"
	"github.com/conneroisu/sitewright/internal/config"
	"github.com/conneroisu/sitewright/internal/logging"
)

const styleSCSS = `@import "variables";

.card {
  color: $brand;
  user-select: none;

  .title {
    font-weight: bold;
  }
}
`

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func newProject(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "src/sass/style.scss", styleSCSS)
	writeFile(t, root, "vendor/_variables.scss", "$brand: #336699;\n")

	cfg := config.Default()
	cfg.Root = root
	cfg.Styles.IncludePaths = []string{"vendor"}
	return cfg
}

func TestParseBrowsers(t *testing.T) {
	engines, err := ParseBrowsers([]string{"chrome34", "Firefox 28", "iOS 7", "safari7.1"})
	require.NoError(t, err)
	assert.Equal(t, []api.Engine{
		{Name: api.EngineChrome, Version: "34"},
		{Name: api.EngineFirefox, Version: "28"},
		{Name: api.EngineIOS, Version: "7"},
		{Name: api.EngineSafari, Version: "7.1"},
	}, engines)

	_, err = ParseBrowsers([]string{"netscape4"})
	assert.Error(t, err)
	_, err = ParseBrowsers([]string{"last 2 versions"})
	assert.Error(t, err)
}

func TestCompileDevelopment(t *testing.T) {
	cfg := newProject(t)

	result := NewCompiler(cfg, logging.Discard()).Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, build.ReloadCSS, result.Reload)
	out := OutputPath(cfg)
	assert.ElementsMatch(t, []string{out + ".map", out}, result.Files)

	css, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(css), ".card .title")
	assert.Contains(t, string(css), "#336699")
	assert.Contains(t, string(css), "-webkit-user-select: none")
	assert.Contains(t, string(css), "/*# sourceMappingURL=style.css.map */")

	sourceMap, err := os.ReadFile(out + ".map")
	require.NoError(t, err)
	assert.Contains(t, string(sourceMap), `"mappings"`)
}

func TestDevelopmentMapPointsAtSass(t *testing.T) {
	cfg := newProject(t)

	require.NoError(t, NewCompiler(cfg, logging.Discard()).Run(context.Background()).Err)

	out := OutputPath(cfg)
	raw, err := os.ReadFile(out + ".map")
	require.NoError(t, err)

	var sourceMap struct {
		Sources        []string `json:"sources"`
		SourcesContent []string `json:"sourcesContent"`
	}
	require.NoError(t, json.Unmarshal(raw, &sourceMap))
	require.Len(t, sourceMap.SourcesContent, len(sourceMap.Sources))

	entry := -1
	for i, src := range sourceMap.Sources {
		if strings.HasSuffix(src, "src/sass/style.scss") {
			entry = i
		}
		assert.NotContains(t, src, "sitewright-styles-", "scratch directory leaked into the map")
	}
	require.NotEqual(t, -1, entry, "sources: %v", sourceMap.Sources)

	resolved := filepath.Join(filepath.Dir(out), filepath.FromSlash(sourceMap.Sources[entry]))
	assert.FileExists(t, resolved)
	assert.Contains(t, sourceMap.SourcesContent[entry], "color: $brand;")
}

func TestCompileProduction(t *testing.T) {
	cfg := newProject(t).WithMode(config.ModeProduction)

	result := NewCompiler(cfg, logging.Discard()).Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, build.ReloadNone, result.Reload)
	css, err := os.ReadFile(OutputPath(cfg))
	require.NoError(t, err)
	assert.NotContains(t, string(css), "sourceMappingURL")
	assert.NoFileExists(t, OutputPath(cfg)+".map")
}

func TestCompileIsDeterministic(t *testing.T) {
	for _, mode := range []config.Mode{config.ModeDevelopment, config.ModeProduction} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := newProject(t).WithMode(mode)
			compiler := NewCompiler(cfg, logging.Discard())

			require.NoError(t, compiler.Run(context.Background()).Err)
			first, err := os.ReadFile(OutputPath(cfg))
			require.NoError(t, err)

			require.NoError(t, compiler.Run(context.Background()).Err)
			second, err := os.ReadFile(OutputPath(cfg))
			require.NoError(t, err)

			assert.Equal(t, first, second)
		})
	}
}

func TestCompileErrorIsSoft(t *testing.T) {
	cfg := newProject(t)
	writeFile(t, cfg.Root, "src/sass/style.scss", ".card {\n  color: $undefined;\n}\n")

	result := NewCompiler(cfg, logging.Discard()).Run(context.Background())

	require.True(t, result.Failed())
	assert.NotEmpty(t, result.Diagnostics())
	assert.Contains(t, result.Err.Error(), "undefined")
	assert.NoFileExists(t, OutputPath(cfg))
}

func TestMatches(t *testing.T) {
	cfg := newProject(t)
	c := NewCompiler(cfg, logging.Discard())

	assert.True(t, c.Matches(filepath.Join(cfg.Root, "src", "sass", "components", "_card.scss")))
	assert.False(t, c.Matches(filepath.Join(cfg.Root, "src", "js", "main.js")))
}
