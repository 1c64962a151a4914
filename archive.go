package simbroker

import (
	"golang.org/x/net/context"

	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/msg"
)

// SimulationRecord is the archived view of a job.
type SimulationRecord struct {
	JobID       string     `json:"jobId"`
	OwnerID     string     `json:"ownerId"`
	ModelID     string     `json:"modelId,omitempty"`
	Status      msg.Status `json:"status"`
	Description string     `json:"description,omitempty"`
}

// Archive is the external persistent store for job statuses, logs and
// traces. The broker answers from the live worker for jobs in its active
// table and falls back to the archive for everything else. Implementations
// must be safe for concurrent use; the hub calls them from short-lived
// goroutines so that archive latency never stalls unrelated connections.
type Archive interface {
	PersistStatus(ctx context.Context, rec SimulationRecord) error
	AppendLog(ctx context.Context, jobID string, entry msg.SimLog) error
	AppendTrace(ctx context.Context, jobID string, trace msg.SimTrace) error
	AppendSpatialStepTrace(ctx context.Context, jobID string, trace msg.SimSpatialStepTrace) error

	GetLog(ctx context.Context, jobID string) ([]msg.SimLog, error)
	GetTraces(ctx context.Context, jobID string) ([]msg.SimTrace, error)
	// GetSpatialStepTrace returns nil when no frame is stored for stepIdx.
	GetSpatialStepTrace(ctx context.Context, jobID string, stepIdx int) (*msg.SimSpatialStepTrace, error)
	// GetLastSpatialStepTraceIdx returns -1 when the job has no spatial
	// frames.
	GetLastSpatialStepTraceIdx(ctx context.Context, jobID string) (int, error)

	GetSimulations(ctx context.Context, ownerID, modelID string) ([]SimulationRecord, error)
	DeleteSimulation(ctx context.Context, jobID string) error
}
