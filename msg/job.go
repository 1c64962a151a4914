package msg

import "encoding/json"

// RunSimulation is the client request that creates a job. Config is opaque
// to the broker and forwarded verbatim to the worker that runs the job.
type RunSimulation struct {
	ModelID string          `json:"modelId,omitempty"`
	Config  json.RawMessage `json:"config"`
}

// CancelSimulation asks the broker to cancel a job. Unknown job ids are a
// no-op.
type CancelSimulation struct {
	JobID string `json:"jobId"`
}

// DeleteSimulation cancels a job if it is still active and removes its
// archived logs and traces.
type DeleteSimulation struct {
	JobID string `json:"jobId"`
}

// GetSimulations lists the requesting user's archived simulations for a
// model.
type GetSimulations struct {
	ModelID string `json:"modelId"`
}

// StartJob is the broker's start instruction to a worker.
type StartJob struct {
	JobID  string          `json:"jobId"`
	Config json.RawMessage `json:"config"`
}

// StopJob is the broker's stop instruction to a worker. The worker is
// expected to report a terminal status for the job afterwards, but the
// broker does not wait for it.
type StopJob struct {
	JobID string `json:"jobId"`
}

// JobRef carries just a job id; used by the correlated get_log/get_trace
// requests relayed to the bound worker.
type JobRef struct {
	JobID string `json:"jobId"`
}
