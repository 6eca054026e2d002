package roster

import "errors"

var (
	ErrNoRecipients     = errors.New("no resolvable recipients")
	ErrInvalidSelection = errors.New("invalid recipient selection")
)
