package exception

import "errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInternal        = errors.New("internal error")
	ErrConfig          = errors.New("config: invalid configuration")
	ErrStorage         = errors.New("storage: key material unavailable")
	ErrSignature       = errors.New("signature: malformed key or signature")
)
