package msg

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusFinished     Status = "finished"
	StatusError        Status = "error"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusError, StatusCancelled:
		return true
	}
	return false
}

// SimStatus is the status push sent to clients on every lifecycle
// transition, and by workers reporting execution progress.
type SimStatus struct {
	JobID       string `json:"jobId"`
	Status      Status `json:"status"`
	Description string `json:"description,omitempty"`
}
