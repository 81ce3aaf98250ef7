package provider

import (
	"strconv"
	"strings"

	"github.com/byoiap/byoiap/internal/backend"
)

// ResolveStatus is the outcome of a resolve attempt.
type ResolveStatus int

const (
	Succeeded ResolveStatus = iota + 1
	Pending
	Failed
	LimitReached
	UnknownFailure
)

func (s ResolveStatus) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	case LimitReached:
		return "limit_reached"
	case UnknownFailure:
		return "unknown_failure"
	default:
		return "unknown"
	}
}

// ResolveResult is produced once per resolve attempt. URL is set for
// Succeeded, Payload optionally for Pending.
type ResolveResult struct {
	Status  ResolveStatus
	URL     string
	Payload string
}

// PendingPayload identifies a provider submission and optionally one file in
// it. A zero SubmissionID is the empty payload; file ids may be zero.
type PendingPayload struct {
	SubmissionID int64
	FileID       int64
	HasFile      bool
}

// String serializes p as "<submission>" or "<submission>:<file>".
func (p PendingPayload) String() string {
	if p.SubmissionID == 0 {
		return ""
	}
	s := strconv.FormatInt(p.SubmissionID, 10)
	if p.HasFile {
		s += ":" + strconv.FormatInt(p.FileID, 10)
	}
	return s
}

// ParsePendingPayload reverses PendingPayload.String. An empty string is the
// zero payload.
func ParsePendingPayload(s string) (PendingPayload, error) {
	if s == "" {
		return PendingPayload{}, nil
	}
	sub, file, hasFile := strings.Cut(s, ":")

	var p PendingPayload
	var err error
	if p.SubmissionID, err = strconv.ParseInt(sub, 10, 64); err != nil || p.SubmissionID <= 0 {
		return PendingPayload{}, backend.NewValidationError("invalid pending payload " + s)
	}
	if hasFile {
		if p.FileID, err = strconv.ParseInt(file, 10, 64); err != nil || p.FileID < 0 {
			return PendingPayload{}, backend.NewValidationError("invalid pending payload " + s)
		}
		p.HasFile = true
	}
	return p, nil
}
