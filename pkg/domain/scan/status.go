// Package scan tracks individual detector runs against a pull request or pushed commit.
package scan

// Status is the lifecycle state of a scan row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// pending -> processing -> completed|failed; pending may also fail directly
// when the pipeline cannot start (workspace or detector setup error).
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Type is the kind of detector a scan runs.
type Type string

const (
	TypeSecret        Type = "SECRET"
	TypeVulnerability Type = "VULNERABILITY"
)

// IsValid checks if the scan type is known.
func (t Type) IsValid() bool {
	return t == TypeSecret || t == TypeVulnerability
}

// Target is what a scan is attached to.
type Target string

const (
	TargetPR         Target = "pr"
	TargetLiveCommit Target = "live_commit"
)
