package execution

import (
	"strings"

	"github.com/odpf/datajobs/internal/errors"
)

type Status string

const (
	StatusSubmitted     Status = "SUBMITTED"
	StatusRunning       Status = "RUNNING"
	StatusSucceeded     Status = "SUCCEEDED"
	StatusUserError     Status = "USER_ERROR"
	StatusPlatformError Status = "PLATFORM_ERROR"
	StatusSkipped       Status = "SKIPPED"
	StatusCancelled     Status = "CANCELLED"
)

// ActiveStatuses are the statuses of executions which may still have a live instance
var ActiveStatuses = []Status{StatusSubmitted, StatusRunning}

func StatusFromString(status string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(status))) {
	case StatusSubmitted:
		return StatusSubmitted, nil
	case StatusRunning:
		return StatusRunning, nil
	case StatusSucceeded:
		return StatusSucceeded, nil
	case StatusUserError:
		return StatusUserError, nil
	case StatusPlatformError:
		return StatusPlatformError, nil
	case StatusSkipped:
		return StatusSkipped, nil
	case StatusCancelled:
		return StatusCancelled, nil
	default:
		return "", errors.InvalidArgument(EntityExecution, "invalid execution status "+status)
	}
}

func (s Status) String() string {
	return string(s)
}

func (s Status) IsTerminal() bool {
	return s != StatusSubmitted && s != StatusRunning
}

func (s Status) IsFailed() bool {
	return s == StatusUserError || s == StatusPlatformError
}

func (s Status) IsCancellable() bool {
	return s == StatusSubmitted || s == StatusRunning
}

// IsFinal reports the statuses which no observation can change anymore.
// Failed executions are terminal too but may still be refined between the two failure kinds.
func (s Status) IsFinal() bool {
	switch s {
	case StatusSucceeded, StatusSkipped, StatusCancelled:
		return true
	default:
		return false
	}
}

type TerminationStatus string

const (
	TerminationSuccess       TerminationStatus = "SUCCESS"
	TerminationSkipped       TerminationStatus = "SKIPPED"
	TerminationUserError     TerminationStatus = "USER_ERROR"
	TerminationPlatformError TerminationStatus = "PLATFORM_ERROR"
	TerminationNone          TerminationStatus = "NONE"
)

// TerminationStatusFromString matches the token exactly, anything unknown is NONE
func TerminationStatusFromString(token string) TerminationStatus {
	switch TerminationStatus(token) {
	case TerminationSuccess:
		return TerminationSuccess
	case TerminationSkipped:
		return TerminationSkipped
	case TerminationUserError:
		return TerminationUserError
	case TerminationPlatformError:
		return TerminationPlatformError
	default:
		return TerminationNone
	}
}

func (t TerminationStatus) String() string {
	return string(t)
}
