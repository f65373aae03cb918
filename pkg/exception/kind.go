package exception

import "github.com/yanun0323/errors"

// ErrorKind is the coarse classification callers use to decide whether to
// retry, re-authenticate, or give up.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindConfig
	KindNetwork
	KindTimeout
	KindSignature
	KindAuth
	KindStorage
	KindJournal
	KindState
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindSignature:
		return "signature"
	case KindAuth:
		return "auth"
	case KindStorage:
		return "storage"
	case KindJournal:
		return "journal"
	case KindState:
		return "state"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

var kinds = []struct {
	target error
	kind   ErrorKind
}{
	{ErrTimeout, KindTimeout},
	{ErrNetwork, KindNetwork},
	{ErrConnectionClose, KindNetwork},
	{ErrNotConnected, KindNetwork},
	{ErrConfig, KindConfig},
	{ErrTaskInvalidConfig, KindConfig},
	{ErrUnknownAccount, KindConfig},
	{ErrSignature, KindSignature},
	{ErrTokenExpired, KindAuth},
	{ErrAuthRejected, KindAuth},
	{ErrLoginRejected, KindAuth},
	{ErrChallengeFailed, KindAuth},
	{ErrStorage, KindStorage},
	{ErrJournal, KindJournal},
	{ErrInvalidTransition, KindState},
	{ErrInternal, KindInternal},
	{ErrOrderDecodeResponse, KindInternal},
	{ErrOrderEmptyResponseID, KindInternal},
}

// Kind classifies err by the first sentinel it wraps.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the caller may retry err with backoff.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindNetwork, KindTimeout:
		return true
	default:
		return false
	}
}

// Fatal reports whether err cannot be resolved without operator action or a
// fresh login.
func Fatal(err error) bool {
	switch Kind(err) {
	case KindConfig, KindSignature, KindAuth, KindStorage:
		return true
	default:
		return false
	}
}
