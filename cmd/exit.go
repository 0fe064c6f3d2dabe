package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/JakeFAU/eprints-archiver/internal/app"
	"github.com/JakeFAU/eprints-archiver/internal/config"
	"github.com/JakeFAU/eprints-archiver/internal/destination"
	"github.com/JakeFAU/eprints-archiver/internal/filter"
	"github.com/JakeFAU/eprints-archiver/internal/urlcheck"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitNoNetwork = 1
	ExitBadOption = 2
	ExitFile      = 3
	ExitInterrupt = 4
	ExitFatal     = 5
)

// ExitError carries the exit code chosen for err.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitCode maps err to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		exitErr   *ExitError
		filterErr *filter.InvalidFilterError
		destErr   *destination.UnknownDestinationError
		pathErr   *fs.PathError
	)
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, context.Canceled):
		return ExitInterrupt
	case errors.Is(err, app.ErrNoNetwork):
		return ExitNoNetwork
	case errors.As(err, &pathErr):
		return ExitFile
	case errors.As(err, &filterErr),
		errors.As(err, &destErr),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, urlcheck.ErrInvalidURL):
		return ExitBadOption
	default:
		return ExitFatal
	}
}
