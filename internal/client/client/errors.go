package client

import "errors"

var (
	ErrUnavailable = errors.New("server unavailable")
	ErrNotFound    = errors.New("not found on server")
	ErrRejected    = errors.New("request rejected by server")
)
