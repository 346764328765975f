package execution

import (
	"encoding/json"
	"strings"
)

const (
	MessageSkipped       = "Skipping job execution due to another parallel running execution."
	MessageOutOfMemory   = "Execution was terminated because the data job ran out of memory. Increase the memory limits of the deployment."
	MessageRunning       = "Execution is running."
	MessageSucceeded     = "Execution has completed successfully."
	MessageUserError     = "Execution has failed due to an error in the data job. Check the execution logs for details."
	MessagePlatformError = "Execution has failed due to a platform error. Please retry or contact the operator."

	reasonDeadlineExceeded = "DeadlineExceeded"
	reasonOOMKilled        = "OOMKilled"
)

// Result is derived from a single cluster observation and never stored on its own
type Result struct {
	Status            Status
	TerminationStatus TerminationStatus
	ToolVersion       string
	Message           string
}

type terminationPayload struct {
	Status      string `json:"status"`
	ToolVersion string `json:"toolVersion"`
}

// ResolveResult computes the canonical status of an instance from the cluster completion
// flag (nil while unknown), the termination message written by the data job and the
// failure reason reported by the cluster. Malformed input degrades to NONE.
func ResolveResult(succeeded *bool, terminationMessage, reason string) Result {
	status := StatusRunning
	if succeeded != nil {
		if *succeeded {
			status = StatusSucceeded
		} else {
			status = StatusPlatformError
		}
	}

	payload := strings.TrimSpace(terminationMessage)
	token, toolVersion := parseTerminationMessage(payload)
	termination := TerminationStatusFromString(token)

	if payload == "" && succeeded != nil {
		switch {
		case status == StatusSucceeded:
			termination = TerminationSuccess
		case strings.Contains(reason, reasonDeadlineExceeded):
			termination = TerminationUserError
		default:
			termination = TerminationPlatformError
		}
	}

	switch termination {
	case TerminationSkipped:
		status = StatusSkipped
	case TerminationUserError:
		status = StatusUserError
	case TerminationSuccess, TerminationPlatformError, TerminationNone:
	}

	return Result{
		Status:            status,
		TerminationStatus: termination,
		ToolVersion:       toolVersion,
		Message:           resultMessage(status, reason),
	}
}

func parseTerminationMessage(payload string) (string, string) {
	if payload == "" {
		return "", ""
	}

	var p terminationPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return payload, ""
	}
	return strings.TrimSpace(p.Status), strings.TrimSpace(p.ToolVersion)
}

func resultMessage(status Status, reason string) string {
	switch status {
	case StatusSkipped:
		return MessageSkipped
	case StatusUserError:
		if strings.Contains(reason, reasonOOMKilled) {
			return MessageOutOfMemory
		}
		return MessageUserError
	case StatusPlatformError:
		return MessagePlatformError
	case StatusSucceeded:
		return MessageSucceeded
	case StatusCancelled:
		return MessageCancelled
	case StatusSubmitted:
		return MessageSubmitted
	default:
		return MessageRunning
	}
}
