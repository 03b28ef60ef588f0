package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sitewright",
	Short: "Build, serve and publish a static site",
	Long: `sitewright compiles a static site from templates, Sass, JavaScript and
static assets into a single output directory.

Running sitewright without a subcommand cleans the output directory, builds
every task, then serves the result with live reload while watching the
sources for changes.

Examples:
  sitewright                    # Build, serve and watch
  sitewright build --production # Clean production build
  sitewright deploy             # Production build, then publish`,
	SilenceUsage: true,
	RunE:         runDefault,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .sitewright.yml)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("production", false, "build in production mode")
	rootCmd.PersistentFlags().StringP("dir", "C", "", "project root (default is the working directory)")

	addServerFlags(rootCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfig := os.Getenv("SITEWRIGHT_CONFIG_FILE"); envConfig != "" {
		viper.SetConfigFile(envConfig)
	} else {
		dir, _ := rootCmd.PersistentFlags().GetString("dir")
		if dir == "" {
			dir = "."
		}
		viper.AddConfigPath(dir)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sitewright")
	}

	viper.SetEnvPrefix("SITEWRIGHT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runDefault(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}

	if _, err := a.pipeline.Build(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.serve(gctx)
	})
	g.Go(func() error {
		return a.watch(gctx)
	})
	return g.Wait()
}
