package scraper

import (
	"errors"
	"fmt"
)

var (
	ErrSessionStart  = errors.New("browser session could not be started")
	ErrPageNotLoaded = errors.New("review page did not load")
	ErrCancelled     = errors.New("harvest cancelled")
	ErrInternal      = errors.New("internal harvest failure")
)

// Harvest stages reported on HarvestError.
const (
	StageLaunch   = "launch"
	StageNavigate = "navigate"
	StageWait     = "wait"
	StageLoad     = "load"
	StageExtract  = "extract"
)

// HarvestError is the only error Harvest returns. Err wraps one of the
// sentinel errors above together with the underlying cause.
type HarvestError struct {
	Stage string
	Err   error
}

func (e *HarvestError) Error() string {
	return fmt.Sprintf("harvest %s: %v", e.Stage, e.Err)
}

func (e *HarvestError) Unwrap() error {
	return e.Err
}

func newHarvestError(stage string, kind, cause error) *HarvestError {
	if cause == nil {
		return &HarvestError{Stage: stage, Err: kind}
	}
	return &HarvestError{Stage: stage, Err: fmt.Errorf("%w: %w", kind, cause)}
}
