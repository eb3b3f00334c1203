package sessionbuffer

import "errors"

var (
	ErrSessionExists   = errors.New("sessionbuffer: session already started")
	ErrSessionNotFound = errors.New("sessionbuffer: no such session")
	ErrMalformedFile   = errors.New("sessionbuffer: file shorter than the 8-byte header")
)
