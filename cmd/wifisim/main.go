// Command wifisim runs WiFi roaming simulations and summarises their traces.
package main

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/logging"
)

func main() {
	code := 0
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		code = 1
	}
	atexit.Exit(code)
}

type rootOptions struct {
	envFile   string
	logLevel  string
	logFormat string
	stderr    io.Writer

	log logging.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stderr: stderr}
	root := &cobra.Command{
		Use:   "wifisim",
		Short: "Discrete-event simulator for WiFi station roaming between access points.",
		Long: `wifisim simulates stations moving between access points, the ` +
			`RSSI-driven association and handover decisions they make, and the ` +
			`application traffic that follows them. Traces are written as CSV ` +
			`(and optionally SQLite) for later analysis.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading LOG_* and WIFISIM_* variables")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (text or json); overrides LOG_FORMAT")

	root.AddCommand(newRunCmd(opts), newReportCmd(opts), newConfigCmd(opts))
	return root
}

// init loads the env file, which is optional, and builds the logger.
func (o *rootOptions) init() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	level := o.logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	format := o.logFormat
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	o.log = logging.New(logging.Config{Level: level, Format: format, Output: o.stderr})
	return nil
}

func (o *rootOptions) logger() logging.Logger {
	if o.log == nil {
		return logging.NewFromEnv()
	}
	return o.log
}
