package core

import "errors"

var (
	ErrNotRunning     = errors.New("session is not running")
	ErrPlaybackActive = errors.New("playback already in progress")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrUnknownBackend = errors.New("unknown audio backend")
)
