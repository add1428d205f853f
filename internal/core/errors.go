package core

import "errors"

var (
	// ErrNoImage means the slot is empty: nothing was uploaded yet or the sweep reclaimed it.
	ErrNoImage = errors.New("no image stored")
	// ErrNoPrediction means no prediction was ingested since the process started.
	ErrNoPrediction = errors.New("no prediction stored")
	ErrEmptyImage   = errors.New("image payload is empty")
	ErrUnknownLabel = errors.New("unknown prediction label")
)
