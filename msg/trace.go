package msg

// Trace target kinds.
const (
	TraceTargetObservable = "observable"
	TraceTargetSpecies    = "species"
	TraceTargetTet        = "tet"
)

// SimTrace is a complete scalar trace: one row of values per recorded step.
type SimTrace struct {
	JobID       string      `json:"jobId,omitempty"`
	TraceTarget string      `json:"traceTarget"`
	NSteps      int         `json:"nSteps"`
	Times       []float64   `json:"times"`
	Values      [][]float64 `json:"values"`
	Observables []string    `json:"observables,omitempty"`
	Species     []string    `json:"species,omitempty"`
	Structures  []string    `json:"structures,omitempty"`
}

// SimStepTrace is an incremental scalar trace frame for a single step.
type SimStepTrace struct {
	JobID   string    `json:"jobId,omitempty"`
	T       float64   `json:"t"`
	StepIdx int       `json:"stepIdx"`
	Values  []float64 `json:"values"`
}

// TmpTrace is the worker's correlated reply to getTmpTrace.
type TmpTrace struct {
	JobID string   `json:"jobId"`
	Trace SimTrace `json:"trace"`
}
