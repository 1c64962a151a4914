package msg

// SimLog is one log line produced by a running simulation.
type SimLog struct {
	JobID   string `json:"jobId,omitempty"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

// TmpLog is the worker's correlated reply to getTmpLog: the log accumulated
// in memory so far for a job that has not been archived yet.
type TmpLog struct {
	JobID   string   `json:"jobId"`
	Entries []SimLog `json:"entries"`
}
