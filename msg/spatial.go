package msg

import "encoding/json"

// SimSpatialStepTrace is a spatial snapshot for one step. Data is opaque to
// the broker; it is relayed and archived verbatim.
type SimSpatialStepTrace struct {
	JobID   string          `json:"jobId,omitempty"`
	StepIdx int             `json:"stepIdx"`
	Data    json.RawMessage `json:"data"`
}

// GetSpatialStepTrace requests one archived spatial snapshot.
type GetSpatialStepTrace struct {
	JobID   string `json:"jobId"`
	StepIdx int    `json:"stepIdx"`
}

// LastSpatialStepTraceIdx is the reply to get_last_spatial_step_trace_idx.
// Idx is -1 when no spatial frame has been recorded for the job.
type LastSpatialStepTraceIdx struct {
	JobID string `json:"jobId"`
	Idx   int    `json:"idx"`
}
