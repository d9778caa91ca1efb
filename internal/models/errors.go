package models

import "errors"

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrInvalidMessage = errors.New("invalid message")
	ErrStore          = errors.New("store failure")
	ErrStoreTimeout   = errors.New("store timeout")
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
)
