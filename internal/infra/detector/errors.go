package detector

import (
	"errors"
	"fmt"
	"strings"
)

// ExecutionError is a detector that could not run, exited abnormally or produced
// output that does not parse. A scan that hits one is failed with no findings.
type ExecutionError struct {
	Detector string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "detector %s failed", e.Detector)
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Stderr != "" {
		b.WriteString(": ")
		b.WriteString(truncate(e.Stderr, 512))
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsExecutionError reports whether err is or wraps an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

func execError(detector string, res *Result, err error) *ExecutionError {
	ee := &ExecutionError{Detector: detector, Err: err}
	if res != nil {
		ee.ExitCode = res.ExitCode
		ee.Stderr = strings.TrimSpace(string(res.Stderr))
	}
	return ee
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
