package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sitewright/internal/build"
)

var taskDescriptions = map[string]string{
	build.TaskScripts:   "Bundle the JavaScript entry point",
	build.TaskTemplates: "Render the HTML templates",
	build.TaskStyles:    "Compile and prefix the stylesheet",
	build.TaskAssets:    "Copy static assets into the output directory",
}

// newTaskCmd creates the command running the single producer called name.
func newTaskCmd(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: taskDescriptions[name],
		Long: fmt.Sprintf(`%s.

Runs the %s task once without cleaning the output directory. Compile
errors are logged and raised as a desktop notification.

Examples:
  sitewright %s
  sitewright %s --production`, taskDescriptions[name], name, name, name),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, name)
		},
	}
}

func runTask(cmd *cobra.Command, name string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	producer, err := a.task(name)
	if err != nil {
		return err
	}
	return failed(a.pipeline.Run(cmd.Context(), []build.Producer{producer}))
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Clean the output directory and run every task",
	Long: `Remove the output directory, then run the templates, styles, scripts
and assets tasks concurrently and wait for all of them.

The command fails if any task fails; the other tasks still finish.

Examples:
  sitewright build
  sitewright build --production`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	results, err := a.pipeline.Build(cmd.Context())
	if err != nil {
		return err
	}
	return failed(results)
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish the output directory to the hosting branch",
	Long: `Commit the current output directory to the configured branch of the
configured remote (gh-pages on origin by default) and push it.

The output directory is published as it is; run build first.

Examples:
  sitewright push`,
	Args: cobra.NoArgs,
	RunE: runPush,
}

func runPush(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	return a.pipeline.Push(cmd.Context())
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Build in production mode and publish",
	Long: `Switch to production mode, clean the output directory, run every task
to completion, then publish the output directory.

Nothing is published when a task fails.

Examples:
  sitewright deploy`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	_, err = a.pipeline.Deploy(cmd.Context())
	return err
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the output directory with live reload",
	Long: `Serve the output directory over HTTP. HTML pages get a small client
that reloads the page, swaps the stylesheet or shows compile errors when the
watch task reports through the same process.

Examples:
  sitewright server
  sitewright server --port 8080 --open`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	return a.serve(ctx)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild on source changes",
	Long: `Watch the project and rerun the tasks whose sources changed. The script
bundle is built once at start and then rebuilt incrementally.

Examples:
  sitewright watch
  sitewright watch --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	return a.watch(ctx)
}

// failed turns failed results into a command error.
func failed(results []build.Result) error {
	var tasks []string
	for _, res := range results {
		if res.Failed() {
			tasks = append(tasks, res.Task)
		}
	}
	if len(tasks) == 0 {
		return nil
	}
	return fmt.Errorf("failed tasks: %s", strings.Join(tasks, ", "))
}

func init() {
	for _, name := range []string{build.TaskScripts, build.TaskTemplates, build.TaskStyles, build.TaskAssets} {
		rootCmd.AddCommand(newTaskCmd(name))
	}

	addServerFlags(serverCmd)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(watchCmd)
}
