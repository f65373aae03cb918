package task

import (
	"strings"

	"perpbot/pkg/exception"

	"github.com/yanun0323/errors"
)

// Status is the lifecycle state of a task. Only Running submits orders.
type Status uint8

const (
	_status_beg Status = iota
	StatusDraft
	StatusPending
	StatusRunning
	StatusPaused
	StatusStopped
	StatusFailed
	_status_end
)

func (s Status) IsAvailable() bool {
	return s > _status_beg && s < _status_end
}

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return ""
	}
}

// IsActive reports whether the task may still run without being edited.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused:
		return true
	default:
		return false
	}
}

func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "draft":
		return StatusDraft, nil
	case "pending":
		return StatusPending, nil
	case "running":
		return StatusRunning, nil
	case "paused":
		return StatusPaused, nil
	case "stopped":
		return StatusStopped, nil
	case "failed":
		return StatusFailed, nil
	default:
		return 0, errors.Wrapf(exception.ErrInvalidArgument, "task status: %q", s)
	}
}

// transitions lists the legal moves besides "anything to Draft".
var transitions = map[Status][]Status{
	StatusDraft:   {StatusPending},
	StatusPending: {StatusRunning, StatusStopped},
	StatusRunning: {StatusPaused, StatusStopped, StatusFailed},
	StatusPaused:  {StatusRunning, StatusStopped},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	if !from.IsAvailable() || !to.IsAvailable() {
		return false
	}
	if to == StatusDraft {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return errors.Wrapf(exception.ErrInvalidTransition, "%s -> %s", from, to)
}
