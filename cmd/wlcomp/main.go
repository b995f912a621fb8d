// wlcomp is a Wayland compositor.
//
// Running it with no arguments starts the compositor on the backend
// chosen by the configuration. The other subcommands talk to a running
// instance over its control socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "0.1.0-dev"

var (
	configPath string
	v          = viper.New()

	rootCmd = &cobra.Command{
		Use:   "wlcomp",
		Short: "A Wayland compositor",
		Long: `wlcomp is a Wayland compositor. It can drive a display directly, run in a
window on another Wayland or X11 server, or run headless.

With no subcommand, wlcomp runs the compositor.`,
		SilenceUsage: true,
		RunE:         runCompositor,
	}
)

// persistentKeys maps the flags shared by every subcommand to their
// configuration keys.
var persistentKeys = map[string]string{
	"log-level":  "debug.log_level",
	"ipc-socket": "debug.ipc_socket",
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "configuration file")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("ipc-socket", "", "path of the control socket")
	bindFlags(flags, persistentKeys)

	addRunFlags(rootCmd.Flags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(outputsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

// bindFlags binds each flag to its configuration key so that a flag
// given on the command line overrides the file and the environment.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		err := v.BindPFlag(key, flags.Lookup(name))
		if err != nil {
			panic(fmt.Errorf("bind flag %v: %w", name, err))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
