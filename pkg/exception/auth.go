package exception

import "errors"

var (
	ErrChallengeFailed = errors.New("auth: signin challenge failed")
	ErrLoginRejected   = errors.New("auth: login rejected")
	ErrTokenExpired    = errors.New("auth: token expired or missing")
	ErrAuthRejected    = errors.New("auth: request rejected by server")
)
