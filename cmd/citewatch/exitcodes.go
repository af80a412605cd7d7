package main

import (
	"errors"

	"github.com/matsen/citewatch/internal/classify"
	"github.com/matsen/citewatch/internal/config"
	"github.com/matsen/citewatch/internal/dataset"
	"github.com/matsen/citewatch/internal/overrides"
	"github.com/matsen/citewatch/internal/pipeline"
)

// Exit codes
const (
	ExitSuccess         = 0 // Success
	ExitError           = 1 // General error (invalid arguments, runtime failure, interrupted)
	ExitConfigError     = 2 // Configuration error (unreadable file, invalid setting)
	ExitDataError       = 3 // Data error (malformed overrides or tag rules, missing dataset)
	ExitResolutionError = 4 // Target DOI could not be resolved
	ExitFetchError      = 5 // Citation listing failed after retries
	ExitPersistError    = 6 // Dataset could not be written; previous files untouched
)

// errNoDataset indicates a command needs a dataset that has not been produced yet.
var errNoDataset = errors.New("no dataset found; run 'citewatch run' first")

// exitCodeFor maps an error to the exit code of its class.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, config.ErrInvalid):
		return ExitConfigError
	case errors.Is(err, overrides.ErrParse),
		errors.Is(err, classify.ErrInvalidRules),
		errors.Is(err, pipeline.ErrNoRawSnapshot),
		errors.Is(err, errNoDataset):
		return ExitDataError
	case errors.Is(err, pipeline.ErrResolution):
		return ExitResolutionError
	case errors.Is(err, pipeline.ErrFetch):
		return ExitFetchError
	case errors.Is(err, dataset.ErrPersist):
		return ExitPersistError
	default:
		return ExitError
	}
}
