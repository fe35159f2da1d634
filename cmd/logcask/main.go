// Command logcask compresses log files into columnar archives, decompresses
// them back to JSON lines, and searches their encoded form.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/logcask/logcask/kit/errors"
	"github.com/logcask/logcask/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// Surface the error kind and the operation it originated from.
		if op := errors.ErrorOp(err); op != "" {
			fmt.Fprintf(os.Stderr, "logcask: %s: %s\n", errors.ErrorCode(err), err)
		} else {
			fmt.Fprintf(os.Stderr, "logcask: %s\n", err)
		}
		os.Exit(1)
	}
}

type globalFlags struct {
	logLevel  string
	logFormat string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "logcask",
		Short:         "Compressed columnar archives for log events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "auto", "log format (auto, console, logfmt, json)")

	v := viper.New()
	v.SetEnvPrefix("LOGCASK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// Let LOGCASK_* environment variables stand in for unset flags.
		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if bindErr != nil || f.Changed || !v.IsSet(f.Name) {
				return
			}
			if err := f.Value.Set(v.GetString(f.Name)); err != nil {
				bindErr = err
			}
		})
		return bindErr
	}

	cmd.AddCommand(newCompressCommand(flags))
	cmd.AddCommand(newDecompressCommand(flags))
	cmd.AddCommand(newSearchCommand(flags))
	cmd.AddCommand(newStatsCommand())
	return cmd
}

func (f *globalFlags) newLogger() (*zap.Logger, error) {
	config := logger.NewConfig()
	config.Format = f.logFormat
	if err := config.Level.Set(f.logLevel); err != nil {
		return nil, errors.Wrap(err, errors.EBadParam, "main.newLogger")
	}
	return config.New(os.Stderr)
}
