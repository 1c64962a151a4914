// Package archive implements the broker's external archive on sqlite.
// Statuses are stored as rows; log, trace and spatial step trace frames are
// stored as msgpack blobs so dense numeric traces stay compact.
package archive

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/vmihailenco/msgpack.v2"

	simbroker "github.com/bbpgithubaudit/BlueNaaS-Subcellular"
	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/msg"
)

// SQLite is an Archive backed by a single sqlite database file.
type SQLite struct {
	db *sql.DB
}

var _ simbroker.Archive = (*SQLite)(nil)

// Open opens or creates the archive database at path.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, err
	}

	a := &SQLite{db: db}
	if err := a.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLite) Close() error {
	return a.db.Close()
}

func (a *SQLite) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS simulations (
		job_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		model_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
	);
	CREATE INDEX IF NOT EXISTS idx_simulations_owner_model ON simulations(owner_id, model_id);
	CREATE TABLE IF NOT EXISTS sim_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		frame BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sim_logs_job ON sim_logs(job_id);
	CREATE TABLE IF NOT EXISTS sim_traces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		frame BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sim_traces_job ON sim_traces(job_id);
	CREATE TABLE IF NOT EXISTS sim_spatial_traces (
		job_id TEXT NOT NULL,
		step_idx INTEGER NOT NULL,
		frame BLOB NOT NULL,
		PRIMARY KEY (job_id, step_idx)
	);
	`
	_, err := a.db.ExecContext(ctx, schema)
	return err
}

func (a *SQLite) PersistStatus(ctx context.Context, rec simbroker.SimulationRecord) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO simulations (job_id, owner_id, model_id, status, description, updated_at)
		VALUES (?, ?, ?, ?, ?, strftime('%s','now'))
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		rec.JobID, rec.OwnerID, rec.ModelID, string(rec.Status), rec.Description)
	return err
}

func (a *SQLite) AppendLog(ctx context.Context, jobID string, entry msg.SimLog) error {
	frame, err := msgpack.Marshal(&entry)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO sim_logs (job_id, frame) VALUES (?, ?)`, jobID, frame)
	return err
}

func (a *SQLite) AppendTrace(ctx context.Context, jobID string, trace msg.SimTrace) error {
	frame, err := msgpack.Marshal(&trace)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO sim_traces (job_id, frame) VALUES (?, ?)`, jobID, frame)
	return err
}

func (a *SQLite) AppendSpatialStepTrace(ctx context.Context, jobID string, trace msg.SimSpatialStepTrace) error {
	frame, err := msgpack.Marshal(&trace)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO sim_spatial_traces (job_id, step_idx, frame) VALUES (?, ?, ?)
		ON CONFLICT(job_id, step_idx) DO UPDATE SET frame = excluded.frame`,
		jobID, trace.StepIdx, frame)
	return err
}

func (a *SQLite) GetLog(ctx context.Context, jobID string) ([]msg.SimLog, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT frame FROM sim_logs WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []msg.SimLog
	for rows.Next() {
		var frame []byte
		if err := rows.Scan(&frame); err != nil {
			return nil, err
		}
		var entry msg.SimLog
		if err := msgpack.Unmarshal(frame, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (a *SQLite) GetTraces(ctx context.Context, jobID string) ([]msg.SimTrace, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT frame FROM sim_traces WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traces []msg.SimTrace
	for rows.Next() {
		var frame []byte
		if err := rows.Scan(&frame); err != nil {
			return nil, err
		}
		var trace msg.SimTrace
		if err := msgpack.Unmarshal(frame, &trace); err != nil {
			return nil, err
		}
		traces = append(traces, trace)
	}
	return traces, rows.Err()
}

func (a *SQLite) GetSpatialStepTrace(ctx context.Context, jobID string, stepIdx int) (*msg.SimSpatialStepTrace, error) {
	var frame []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT frame FROM sim_spatial_traces WHERE job_id = ? AND step_idx = ?`,
		jobID, stepIdx).Scan(&frame)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var trace msg.SimSpatialStepTrace
	if err := msgpack.Unmarshal(frame, &trace); err != nil {
		return nil, err
	}
	return &trace, nil
}

func (a *SQLite) GetLastSpatialStepTraceIdx(ctx context.Context, jobID string) (int, error) {
	var idx int
	err := a.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(step_idx), -1) FROM sim_spatial_traces WHERE job_id = ?`,
		jobID).Scan(&idx)
	return idx, err
}

func (a *SQLite) GetSimulations(ctx context.Context, ownerID, modelID string) ([]simbroker.SimulationRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT job_id, owner_id, model_id, status, description
		FROM simulations WHERE owner_id = ? AND model_id = ?
		ORDER BY updated_at, job_id`, ownerID, modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []simbroker.SimulationRecord
	for rows.Next() {
		var rec simbroker.SimulationRecord
		var status string
		if err := rows.Scan(&rec.JobID, &rec.OwnerID, &rec.ModelID, &status, &rec.Description); err != nil {
			return nil, err
		}
		rec.Status = msg.Status(status)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (a *SQLite) DeleteSimulation(ctx context.Context, jobID string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM simulations WHERE job_id = ?`,
		`DELETE FROM sim_logs WHERE job_id = ?`,
		`DELETE FROM sim_traces WHERE job_id = ?`,
		`DELETE FROM sim_spatial_traces WHERE job_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, jobID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
