// Package config provides configuration management for sitewright using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration maps every build task to its source glob, destination
// directory and auxiliary settings, selects the build mode, and carries the
// dev server and publish settings. A loaded Config is treated as immutable;
// callers that need a different mode derive a copy with WithMode.
package config

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects between development and production behaviour.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// ModeFromEnv maps an environment value onto a Mode. Only the exact literal
// "production" selects production.
func ModeFromEnv(value string) Mode {
	if value == string(ModeProduction) {
		return ModeProduction
	}
	return ModeDevelopment
}

// IsProduction reports whether m is the production mode.
func (m Mode) IsProduction() bool {
	return m == ModeProduction
}

func (m Mode) String() string {
	if m == "" {
		return string(ModeDevelopment)
	}
	return string(m)
}

type Config struct {
	Root        string          `mapstructure:"root" yaml:"root" json:"root"`
	Destination string          `mapstructure:"destination" yaml:"destination" json:"destination"`
	Mode        Mode            `mapstructure:"-" yaml:"mode" json:"mode"`
	Base        BaseConfig      `mapstructure:"base" yaml:"base" json:"base"`
	Scripts     ScriptsConfig   `mapstructure:"scripts" yaml:"scripts" json:"scripts"`
	Templates   TemplatesConfig `mapstructure:"templates" yaml:"templates" json:"templates"`
	Styles      StylesConfig    `mapstructure:"styles" yaml:"styles" json:"styles"`
	Assets      AssetsConfig    `mapstructure:"assets" yaml:"assets" json:"assets"`
	Server      ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Watch       WatchConfig     `mapstructure:"watch" yaml:"watch" json:"watch"`
	Publish     PublishConfig   `mapstructure:"publish" yaml:"publish" json:"publish"`
}

type BaseConfig struct {
	Development string `mapstructure:"development" yaml:"development" json:"development"`
	Production  string `mapstructure:"production" yaml:"production" json:"production"`
}

type ScriptsConfig struct {
	Source      string `mapstructure:"source" yaml:"source" json:"source"`
	Watch       string `mapstructure:"watch" yaml:"watch" json:"watch"`
	Destination string `mapstructure:"destination" yaml:"destination" json:"destination"`
	Filename    string `mapstructure:"filename" yaml:"filename" json:"filename"`
	Target      string `mapstructure:"target" yaml:"target" json:"target"`
}

type TemplatesConfig struct {
	Source        string `mapstructure:"source" yaml:"source" json:"source"`
	Watch         string `mapstructure:"watch" yaml:"watch" json:"watch"`
	Destination   string `mapstructure:"destination" yaml:"destination" json:"destination"`
	PartialPrefix string `mapstructure:"partial_prefix" yaml:"partial_prefix" json:"partial_prefix"`
}

type StylesConfig struct {
	Source       string   `mapstructure:"source" yaml:"source" json:"source"`
	Watch        string   `mapstructure:"watch" yaml:"watch" json:"watch"`
	Destination  string   `mapstructure:"destination" yaml:"destination" json:"destination"`
	IncludePaths []string `mapstructure:"include_paths" yaml:"include_paths" json:"include_paths"`
	Browsers     []string `mapstructure:"browsers" yaml:"browsers" json:"browsers"`
}

type AssetsConfig struct {
	Source      string `mapstructure:"source" yaml:"source" json:"source"`
	Watch       string `mapstructure:"watch" yaml:"watch" json:"watch"`
	Destination string `mapstructure:"destination" yaml:"destination" json:"destination"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host" json:"host"`
	Port int    `mapstructure:"port" yaml:"port" json:"port"`
	Open bool   `mapstructure:"open" yaml:"open" json:"open"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
}

type PublishConfig struct {
	Remote      string `mapstructure:"remote" yaml:"remote" json:"remote"`
	Branch      string `mapstructure:"branch" yaml:"branch" json:"branch"`
	Message     string `mapstructure:"message" yaml:"message" json:"message"`
	AuthorName  string `mapstructure:"author_name" yaml:"author_name" json:"author_name"`
	AuthorEmail string `mapstructure:"author_email" yaml:"author_email" json:"author_email"`
}

// Default returns the configuration used when no file or override is present.
func Default() *Config {
	return &Config{
		Root:        ".",
		Destination: "public",
		Mode:        ModeDevelopment,
		Base: BaseConfig{
			Development: "/",
			Production:  "/static-boilerplate/",
		},
		Scripts: ScriptsConfig{
			Source:      "src/js/main.js",
			Watch:       "src/js/**/*.js",
			Destination: "public/js",
			Filename:    "bundle.js",
			Target:      "es2017",
		},
		Templates: TemplatesConfig{
			Source:        "src/templates/**/*.html",
			Watch:         "src/templates/**/*.html",
			Destination:   "public",
			PartialPrefix: "_",
		},
		Styles: StylesConfig{
			Source:       "src/sass/style.scss",
			Watch:        "src/sass/**/*.scss",
			Destination:  "public/css",
			IncludePaths: []string{"node_modules/bootstrap-sass/assets/stylesheets"},
			Browsers:     []string{"chrome34", "firefox28", "ios7", "safari7", "edge12"},
		},
		Assets: AssetsConfig{
			Source:      "src/assets/**/*.*",
			Watch:       "src/assets/**/*.*",
			Destination: "public",
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 9001,
		},
		Watch: WatchConfig{
			Debounce: 100 * time.Millisecond,
		},
		Publish: PublishConfig{
			Remote:      "origin",
			Branch:      "gh-pages",
			Message:     "Update {{timestamp}}",
			AuthorName:  "sitewright",
			AuthorEmail: "sitewright@localhost",
		},
	}
}

// SetDefaults registers Default() with v so that partial config files and
// environment overrides merge onto it.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("root", d.Root)
	v.SetDefault("destination", d.Destination)
	v.SetDefault("base.development", d.Base.Development)
	v.SetDefault("base.production", d.Base.Production)
	v.SetDefault("scripts.source", d.Scripts.Source)
	v.SetDefault("scripts.watch", d.Scripts.Watch)
	v.SetDefault("scripts.destination", d.Scripts.Destination)
	v.SetDefault("scripts.filename", d.Scripts.Filename)
	v.SetDefault("scripts.target", d.Scripts.Target)
	v.SetDefault("templates.source", d.Templates.Source)
	v.SetDefault("templates.watch", d.Templates.Watch)
	v.SetDefault("templates.destination", d.Templates.Destination)
	v.SetDefault("templates.partial_prefix", d.Templates.PartialPrefix)
	v.SetDefault("styles.source", d.Styles.Source)
	v.SetDefault("styles.watch", d.Styles.Watch)
	v.SetDefault("styles.destination", d.Styles.Destination)
	v.SetDefault("styles.include_paths", d.Styles.IncludePaths)
	v.SetDefault("styles.browsers", d.Styles.Browsers)
	v.SetDefault("assets.source", d.Assets.Source)
	v.SetDefault("assets.watch", d.Assets.Watch)
	v.SetDefault("assets.destination", d.Assets.Destination)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.open", d.Server.Open)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("publish.remote", d.Publish.Remote)
	v.SetDefault("publish.branch", d.Publish.Branch)
	v.SetDefault("publish.message", d.Publish.Message)
	v.SetDefault("publish.author_name", d.Publish.AuthorName)
	v.SetDefault("publish.author_email", d.Publish.AuthorEmail)
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v. The mode comes from the "env" key
// (bound to SITEWRIGHT_ENV, then NODE_ENV) unless the "production" key is
// set, which forces production.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	if err := v.BindEnv("env", "SITEWRIGHT_ENV", "NODE_ENV"); err != nil {
		return nil, fmt.Errorf("binding mode environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Mode = ModeFromEnv(v.GetString("env"))
	if v.GetBool("production") {
		cfg.Mode = ModeProduction
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// WithMode returns a copy of c using mode m. The receiver is not modified.
func (c *Config) WithMode(m Mode) *Config {
	cp := *c
	cp.Styles.IncludePaths = append([]string(nil), c.Styles.IncludePaths...)
	cp.Styles.Browsers = append([]string(nil), c.Styles.Browsers...)
	cp.Mode = m
	return &cp
}

// BasePath returns the base path injected into templates for the current mode.
func (c *Config) BasePath() string {
	if c.Mode.IsProduction() {
		return c.Base.Production
	}
	return c.Base.Development
}

// Path resolves a configured path or glob against the project root.
func (c *Config) Path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Root, filepath.FromSlash(p))
}

// Glob resolves a configured glob against the project root, keeping forward
// slashes so it can be handed to doublestar.
func (c *Config) Glob(pattern string) string {
	root := filepath.ToSlash(c.Root)
	if path.IsAbs(pattern) || root == "" || root == "." {
		return path.Clean(pattern)
	}
	return path.Join(root, pattern)
}

// OutputDir is the resolved output root.
func (c *Config) OutputDir() string {
	return c.Path(c.Destination)
}

// Rel turns a filesystem path into a slash-separated path relative to the
// project root, the form watch globs are written in. Paths outside the root
// are returned in slash form unchanged.
func (c *Config) Rel(p string) string {
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return filepath.ToSlash(p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// Addr is the host:port the dev server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if config.Destination == "" {
		return fmt.Errorf("destination: empty path")
	}
	if err := validatePath(config.Destination); err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	paths := map[string]string{
		"scripts.source":        config.Scripts.Source,
		"scripts.destination":   config.Scripts.Destination,
		"templates.source":      config.Templates.Source,
		"templates.destination": config.Templates.Destination,
		"styles.source":         config.Styles.Source,
		"styles.destination":    config.Styles.Destination,
		"assets.source":         config.Assets.Source,
		"assets.destination":    config.Assets.Destination,
	}
	for key, p := range paths {
		if err := validatePath(p); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if config.Scripts.Filename == "" || strings.ContainsAny(config.Scripts.Filename, `/\`) {
		return fmt.Errorf("scripts.filename must be a plain file name: %q", config.Scripts.Filename)
	}

	if !strings.HasPrefix(config.Base.Development, "/") || !strings.HasPrefix(config.Base.Production, "/") {
		return fmt.Errorf("base paths must be absolute URL paths")
	}

	if config.Publish.Branch == "" {
		return fmt.Errorf("publish.branch: empty branch name")
	}

	if config.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

// validatePath validates a file path or glob for security
func validatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(p)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", p)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
