package dberrors

import "errors"

var (
	ErrNotFound        = errors.New("lsmkv: not found")
	ErrInvalidInput    = errors.New("lsmkv: invalid input")
	ErrActionForbidden = errors.New("lsmkv: action forbidden")
	ErrNoNext          = errors.New("lsmkv: no next")
	ErrClosed          = errors.New("lsmkv: closed")
	ErrIOFailure       = errors.New("lsmkv: io failure")
)
