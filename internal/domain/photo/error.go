package photo

import "errors"

var (
	ErrNotFound     = errors.New("photo not found")
	ErrInvalidPhoto = errors.New("invalid photo")
	ErrTooLarge     = errors.New("photo exceeds size limit")
	ErrNotFailed    = errors.New("photo is not in failed state")
)
