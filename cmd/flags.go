package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps flag names to the viper keys they override.
var flagKeys = map[string]string{
	"dir":        "root",
	"log-level":  "log_level",
	"production": "production",
	"port":       "server.port",
	"host":       "server.host",
	"open":       "server.open",
}

// bindFlags binds each named flag in fs to its viper key so that flags
// override the config file and the environment.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := fs.Lookup(name); f != nil && f.Changed {
			_ = viper.BindPFlag(key, f)
		}
	}
}

// addServerFlags adds the dev server overrides to cmd.
func addServerFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntP("port", "p", 9001, "Port to serve on")
	fs.String("host", "localhost", "Host to bind to")
	fs.Bool("open", false, "Open the site in a browser once serving")
}

// addOutputFlags adds the --format flag used by the reporting commands.
func addOutputFlags(cmd *cobra.Command, format *string, value, usage string) {
	cmd.Flags().StringVarP(format, "format", "f", value, usage)
}
