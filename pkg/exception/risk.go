package exception

import "errors"

var (
	ErrRiskRejected     = errors.New("risk: order rejected")
	ErrUnknownRiskLevel = errors.New("risk: unknown risk level")
)
