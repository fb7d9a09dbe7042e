package domain

import "errors"

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyExists    = errors.New("batch already exists")
	ErrBatchNotFound    = errors.New("batch not found")
	ErrLockBusy         = errors.New("batch lock busy")
	ErrStoreUnavailable = errors.New("session store unavailable")
	ErrTriggerFailure   = errors.New("completion trigger failure")
)
