package cli

import (
	"fmt"
	"os"

	"depotdl/internal/progress"
)

// newReporter builds the progress.Reporter a run uses: a rendered byte
// progress bar, or a silent NullReporter under --quiet.
func newReporter(quiet bool, description string) progress.Reporter {
	if quiet {
		return progress.NullReporter{}
	}
	return progress.NewBarReporter(0, description)
}

// printSuccess prints a one-line success message to stderr.
func printSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
