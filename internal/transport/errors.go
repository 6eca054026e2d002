package transport

import "errors"

var (
	ErrChannelClosed = errors.New("transport channel is closed")
	ErrWriteTimeout  = errors.New("transport write timed out")
)
