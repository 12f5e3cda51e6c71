package dispatch

import (
	"errors"

	"github.com/kilianp07/emsdispatch/core/store"
)

var (
	// ErrConflict reports a precondition violated at commit time. Callers
	// should reload state before deciding to retry.
	ErrConflict = errors.New("conflict")
	// ErrNotFound reports an unknown incident or vehicle.
	ErrNotFound = store.ErrNotFound
	// ErrNoCandidate reports that no vehicle could be selected.
	ErrNoCandidate = errors.New("no candidate vehicle")
	// ErrInvalidStatus reports an unknown status value.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidInput reports a malformed record submitted for intake.
	ErrInvalidInput = errors.New("invalid input")
)
