package main

import (
	"fmt"
	"os"

	"github.com/spboyer/kinetic/internal/models"
)

// Exit codes for different failure modes
const (
	ExitSuccess       = 0 // Command completed
	ExitDomainFailure = 1 // Unknown solution, nothing to rank, duplicate content
	ExitError         = 2 // Configuration or runtime error
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status. Failures the caller can
// act on by changing its input exit 1; everything else exits 2.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch models.Kind(err) {
	case "not_found", "insufficient_candidates", "duplicate":
		return ExitDomainFailure
	}
	return ExitError
}
