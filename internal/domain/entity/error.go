package entity

import "errors"

var (
	ErrNotFound      = errors.New("cached entity not found")
	ErrInvalidEntity = errors.New("invalid cached entity")
)
