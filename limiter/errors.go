package limiter

import "errors"

var (
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyRegistered    = errors.New("entity already registered")
	ErrInvalidConfiguration = errors.New("invalid limiter configuration")
)
