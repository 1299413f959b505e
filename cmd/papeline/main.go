// Command papeline drives the metadata ingestion pipeline: fetch stages,
// the join stage, and the content-addressable store they commit into.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papeline/papeline/cmn/nlog"
)

var rootCmd = &cobra.Command{
	Use:     "papeline",
	Short:   "Scholarly metadata ingestion pipeline",
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().String("base-dir", "./.papeline", "store root directory")
	rootCmd.PersistentFlags().String("log-dir", "", "log file directory (defaults to <base-dir>/logs)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (info, warn, error); not applied: every severity is logged")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd, listCmd, gcCmd, verifyCmd, coverageCmd)
}

func initLogging() {
	logDir, _ := rootCmd.PersistentFlags().GetString("log-dir")
	baseDir, _ := rootCmd.PersistentFlags().GetString("base-dir")
	if logDir == "" {
		logDir = baseDir + "/logs"
	}
	nlog.SetLogDirRole(logDir, "papeline")
	nlog.SetTitle("papeline")
}

// exitCode classifies an error returned by a subcommand's RunE into the
// process exit status: 2 for usage/configuration problems (flagged by
// wrapping with usageError), 1 for everything else.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := err.(*usageError); ok {
		return 2
	}
	return 1
}

// usageError marks an error as a usage/configuration problem (missing
// required flag, unreadable config file) rather than a runtime failure, so
// main can map it to exit code 2 instead of 1.
type usageError struct{ err error }

func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func main() {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "papeline: %v\n", err)
	}
	// os.Exit skips deferred calls, so flush explicitly first.
	nlog.Flush(true)
	os.Exit(exitCode(err))
}
