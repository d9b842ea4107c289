package models

import "strconv"

// RecoverableError is implemented by enriched errors that carry structured
// context and remediation hints. internal/ipc and internal/cli both depend
// on this interface rather than concrete error types to avoid import cycles.
type RecoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}

// StepAlreadyActiveError is returned when the runtime tries to start a step
// on a job that already has a non-terminal, non-pending step running —
// a job has at most one active step at a time.
type StepAlreadyActiveError struct {
	JobID       string
	ActiveStep  string
	RequestedOn string
}

func (e *StepAlreadyActiveError) Error() string {
	return "job already has a non-terminal step running"
}
func (e *StepAlreadyActiveError) ErrorCode() string { return "STEP_ALREADY_ACTIVE" }
func (e *StepAlreadyActiveError) Context() map[string]string {
	return map[string]string{
		"job_id":       e.JobID,
		"active_step":  e.ActiveStep,
		"requested_on": e.RequestedOn,
	}
}
func (e *StepAlreadyActiveError) SuggestedAction() string {
	return "wait for the active step to leave Running, or cancel the job"
}

// DecisionUnresolvedError is returned when a second decision is requested
// for a step that already has an unresolved one.
type DecisionUnresolvedError struct {
	StepKey    string
	DecisionID string
}

func (e *DecisionUnresolvedError) Error() string { return "step already has an unresolved decision" }
func (e *DecisionUnresolvedError) ErrorCode() string { return "DECISION_UNRESOLVED" }
func (e *DecisionUnresolvedError) Context() map[string]string {
	return map[string]string{"step_key": e.StepKey, "decision_id": e.DecisionID}
}
func (e *DecisionUnresolvedError) SuggestedAction() string {
	return "resolve the existing decision before requesting another"
}

// QueueCapacityError is returned when a worker has no spare in-flight slot.
type QueueCapacityError struct {
	Worker      string
	Concurrency int
}

func (e *QueueCapacityError) Error() string { return "worker is at capacity" }
func (e *QueueCapacityError) ErrorCode() string { return "QUEUE_CAPACITY" }
func (e *QueueCapacityError) Context() map[string]string {
	return map[string]string{"worker": e.Worker, "concurrency": strconv.Itoa(e.Concurrency)}
}
func (e *QueueCapacityError) SuggestedAction() string {
	return "retry once an in-flight job completes, or raise concurrency"
}

// LockHeldError is returned when another daemon process already holds the
// state-directory lock file.
type LockHeldError struct {
	Path string
	PID  int
}

func (e *LockHeldError) Error() string { return "state directory is locked by another daemon" }
func (e *LockHeldError) ErrorCode() string { return "LOCK_HELD" }
func (e *LockHeldError) Context() map[string]string {
	return map[string]string{"path": e.Path, "pid": strconv.Itoa(e.PID)}
}
func (e *LockHeldError) SuggestedAction() string {
	return "stop the other daemon, or point --state-dir elsewhere"
}

// NotFoundError is returned for unknown ids across all entity kinds.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return e.Entity + " not found: " + e.ID }
func (e *NotFoundError) ErrorCode() string { return "NOT_FOUND" }
func (e *NotFoundError) Context() map[string]string {
	return map[string]string{"entity": e.Entity, "id": e.ID}
}
func (e *NotFoundError) SuggestedAction() string {
	return "check the id with a list request; ids may be given as unambiguous prefixes"
}

// ValidationError wraps a bad request that never reaches the event log.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Field + ": " + e.Reason }
func (e *ValidationError) ErrorCode() string { return "VALIDATION" }
func (e *ValidationError) Context() map[string]string {
	return map[string]string{"field": e.Field, "reason": e.Reason}
}
func (e *ValidationError) SuggestedAction() string { return "fix the request and retry" }
