package msg

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeStartJob(t *testing.T) {
	config := json.RawMessage(`{"solver":"tetexact","tEnd":10}`)
	frame, err := Encode(CmdStartJob, 0, &StartJob{JobID: "job-1", Config: config})
	if err != nil {
		t.Fatal(err)
	}

	m, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if m.Cmd != CmdStartJob {
		t.Errorf("unexpected cmd. got=%s, want=%s", m.Cmd, CmdStartJob)
	}
	if m.CmdID != 0 {
		t.Errorf("unexpected cmdid. got=%d, want=0", m.CmdID)
	}

	var job StartJob
	if err := m.DecodeData(&job); err != nil {
		t.Fatal(err)
	}
	if job.JobID != "job-1" {
		t.Errorf("unexpected jobId. got=%s, want=%s", job.JobID, "job-1")
	}
	if string(job.Config) != string(config) {
		t.Errorf("unexpected config. got=%s, want=%s", job.Config, config)
	}
}

func TestEncodeCarriesCorrelationID(t *testing.T) {
	frame, err := Encode(CmdGetLog, 42, &JobRef{JobID: "job-1"})
	if err != nil {
		t.Fatal(err)
	}
	m, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if m.CmdID != 42 {
		t.Errorf("unexpected cmdid. got=%d, want=%d", m.CmdID, 42)
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Error("expected error for invalid json")
	}
	m, err := Decode([]byte(`{"cmdid":5}`))
	if err != ErrEmptyCommand {
		t.Errorf("expected ErrEmptyCommand, got %v", err)
	}
	if m.CmdID != 5 {
		t.Errorf("correlation id lost on validation error. got=%d, want=5", m.CmdID)
	}
}

func TestDecodeDataWithoutPayload(t *testing.T) {
	m, err := Decode([]byte(`{"cmd":"get_log","cmdid":3}`))
	if err != nil {
		t.Fatal(err)
	}
	var ref JobRef
	if err := m.DecodeData(&ref); err != ErrNoData {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}
