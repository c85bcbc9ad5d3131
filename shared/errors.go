// shared/errors.go
package shared

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports bad caller input (missing/short description,
// malformed request). Always fatal for the run that received it.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// PlanningError reports a malformed or incomplete plan from the plan
// provider. There is no sensible fallback for a missing plan, so this is
// fatal for the whole run.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
	}
	return "planning failed: " + e.Reason
}

func (e *PlanningError) Unwrap() error { return e.Err }

// RefusalError marks a content-policy refusal from a model provider, as
// opposed to a transport or server error. Refusals are absorbed at
// section/page granularity with fallback content.
type RefusalError struct {
	Provider string
	Detail   string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("%s refused content: %s", e.Provider, e.Detail)
}

// StorageError reports a filesystem failure while persisting a site.
// Non-fatal to the overall run: generation succeeded, persistence did not.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsContentPolicy reports whether err is a content-policy refusal, either a
// typed RefusalError or a provider error whose message carries the usual
// refusal markers.
func IsContentPolicy(err error) bool {
	if err == nil {
		return false
	}
	var refusal *RefusalError
	if errors.As(err, &refusal) {
		return true
	}
	msg := strings.ToLower(err.Error())
	markers := []string{
		"content policy",
		"content_policy",
		"contentpolicyviolation",
		"content_filter",
		"content management policy",
		"filtered",
		"safety system",
	}
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
