package mutation

import "errors"

var (
	ErrNotFound        = errors.New("mutation not found")
	ErrInvalidMutation = errors.New("invalid mutation")
	ErrNotFailed       = errors.New("mutation is not in failed state")
)
