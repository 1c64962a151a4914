package simbroker

import (
	"encoding/json"

	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/msg"
)

// Job is the broker's authoritative record of one simulation run. Jobs are
// created on submission, mutated only inside the hub loop and evicted from
// the active table once their terminal status has been durably archived.
type Job struct {
	ID          string
	OwnerID     string
	ModelID     string
	Config      json.RawMessage
	Status      msg.Status
	Description string

	// boundWorker is the worker connection executing this job, nil while
	// queued and after reaching a terminal status.
	boundWorker *Conn
}

func (j *Job) active() bool {
	return j.Status == msg.StatusInitializing || j.Status == msg.StatusRunning
}

// validTransition reports whether the lifecycle state machine allows moving
// from one status to another. Terminal states allow nothing; error and
// cancelled are reachable from any non-terminal state. finished is accepted
// from initializing as well as running: the worker's running push travels
// best-effort and a terminal report from the bound worker is authoritative.
func validTransition(from, to msg.Status) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case msg.StatusInitializing:
		return from == msg.StatusQueued
	case msg.StatusRunning:
		return from == msg.StatusInitializing
	case msg.StatusFinished:
		return from == msg.StatusRunning || from == msg.StatusInitializing
	case msg.StatusError, msg.StatusCancelled:
		return true
	}
	return false
}
