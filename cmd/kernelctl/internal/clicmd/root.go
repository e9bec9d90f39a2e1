// Package clicmd holds kernelctl's cobra command tree: persistent flags
// bound into viper, a silent-usage root command, color-coded output.
package clicmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nmxmxh/adc/internal/bootstrap"
	"github.com/nmxmxh/adc/internal/logging"
)

var bridge *logging.Bridge

var rootCmd = &cobra.Command{
	Use:           "kernelctl",
	Short:         "Operate a polyglot module kernel",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().String("module-root", "./modules", "root directory module versions are resolved under")
	rootCmd.PersistentFlags().String("log-level", "", "log level recorded in the bootstrap config; the log bridge keeps the level it was built with (NODE_ENV, ADC_LOG_LEVEL)")
	viper.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(runCmd, validateCmd)
}

// Execute parses os.Args and runs the matched command, using bridge as
// the kernel's Logger Bridge for the duration of the process.
func Execute(b *logging.Bridge) error {
	bridge = b
	return rootCmd.Execute()
}

func cfg() bootstrap.Config {
	return bootstrap.Load(rootCmd.PersistentFlags())
}

func warnf(format string, args ...interface{}) {
	color.New(color.FgYellow).Printf(format+"\n", args...)
}

func errorf(format string, args ...interface{}) {
	color.New(color.FgRed).Printf(format+"\n", args...)
}

func okf(format string, args ...interface{}) {
	color.New(color.FgGreen).Printf(format+"\n", args...)
}
