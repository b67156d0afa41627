// Package cli implements depotdl's command-line surface: a cobra root
// command with global flags shared by the app and depot subcommands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"depotdl/internal/log"
)

// Version is replaced by Execute with the version string main.go passes in.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "depotdl",
	Short: "Download Steam depot content directly from the CDN",
	Long: `depotdl fetches a depot's files chunk by chunk straight from Steam's
content delivery network, decoding and decrypting each chunk locally and
resuming any previously interrupted run from its on-disk ledger.`,
	Version: Version,
}

// Global flags shared by both subcommands.
var (
	flagThreadNum      int
	flagSavePath       string
	flagLoginAnonymous bool
	flagServers        []string
	flagLevel          string
	flagRetryNum       int
	flagQuiet          bool
)

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().IntVar(&flagThreadNum, "thread-num", 32, "number of concurrent chunk downloads")
	rootCmd.PersistentFlags().StringVar(&flagSavePath, "save-path", "", "destination directory (default depends on subcommand)")
	rootCmd.PersistentFlags().BoolVar(&flagLoginAnonymous, "login-anonymous", false, "log in to Steam anonymously to fetch CDN auth tokens")
	rootCmd.PersistentFlags().StringSliceVar(&flagServers, "server", nil, "explicit CDN server address(es); repeatable or comma-separated")
	rootCmd.PersistentFlags().StringVar(&flagLevel, "level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	rootCmd.PersistentFlags().IntVar(&flagRetryNum, "retry-num", 3, "per-chunk retry attempts before giving up")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress progress bar output")
}

// Execute runs the CLI and returns the process exit code: 0 on full
// success, non-zero on any unrecoverable engine failure.
func Execute(version string) int {
	Version = version
	rootCmd.Version = version

	// Logging is configured once flags are parsed, so --level takes effect.
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) { setupLogging() }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\ncancelling, finishing in-flight chunks...")
		cancel()
	}()
	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func setupLogging() {
	level, err := log.ParseLevel(flagLevel)
	if err != nil {
		level = log.LevelInfo
	}
	log.EnableStderrLogging(level)
}
