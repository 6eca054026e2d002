package session

import "errors"

var (
	ErrAlreadyConnected  = errors.New("session is already connected or joining")
	ErrNotConnected      = errors.New("session is not connected")
	ErrJoinRejected      = errors.New("join rejected by server")
	ErrRepliesNotAllowed = errors.New("teacher is not accepting student messages")
	ErrTransportClosed   = errors.New("transport closed before join completed")
)
