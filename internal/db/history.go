package db

import (
	"fmt"
	"time"

	"github.com/banshee-data/camera.control/internal/control"
)

// SetpointEntry is one logged convergence.
type SetpointEntry struct {
	ID        int64         `json:"id"`
	Kind      string        `json:"kind"`
	Target    float64       `json:"target"`
	Reached   float64       `json:"reached"`
	Converged bool          `json:"converged"`
	Reason    string        `json:"reason,omitempty"`
	Polls     int           `json:"polls"`
	Elapsed   time.Duration `json:"elapsed"`
	BatchID   string        `json:"batch_id,omitempty"`
	Recorded  time.Time     `json:"recorded"`
}

// BatchRun is one logged batch with its per-item results.
type BatchRun struct {
	ID           string        `json:"id"`
	Kind         string        `json:"kind"`
	Total        int           `json:"total"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Started      time.Time     `json:"started"`
	Elapsed      time.Duration `json:"elapsed"`
	MeanAbsError float64       `json:"mean_abs_error"`
	MaxAbsError  float64       `json:"max_abs_error"`
	Items        []BatchItem   `json:"items,omitempty"`
}

type BatchItem struct {
	Index     int     `json:"index"`
	Target    float64 `json:"target"`
	Reached   float64 `json:"reached"`
	Converged bool    `json:"converged"`
	Reason    string  `json:"reason,omitempty"`
}

const insertSetpoint = `INSERT INTO setpoint_log
	(kind, target, reached, converged, reason, polls, elapsed_ns, recorded_unix_nanos, batch_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordOutcome logs a single setpoint convergence.
func (db *DB) RecordOutcome(o control.Outcome, at time.Time) error {
	_, err := db.Exec(insertSetpoint,
		o.Kind.String(), o.Target, o.Reached, o.Converged, o.ReasonText(),
		o.Polls, int64(o.Elapsed), at.UnixNano(), "")
	if err != nil {
		return fmt.Errorf("record %s outcome: %w", o.Kind, err)
	}
	return nil
}

// RecordBatch logs a batch, its items, and each item's convergence, in one
// transaction.
func (db *DB) RecordBatch(res control.BatchResult) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sum := control.Summarize(res)
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	_, err = tx.Exec(`INSERT INTO batch_runs
		(batch_id, kind, total, success, error, started_unix_nanos, elapsed_ns, mean_abs_error, max_abs_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.Kind.String(), len(res.Targets), res.Success, errText,
		res.StartedAt.UnixNano(), int64(res.Elapsed), sum.MeanError, sum.MaxError)
	if err != nil {
		return fmt.Errorf("record batch %s: %w", res.ID, err)
	}

	// items ran back to back; each is stamped when its convergence began
	at := res.StartedAt
	for i, it := range res.Items {
		if _, err := tx.Exec(`INSERT INTO batch_items
			(batch_id, item_index, target, reached, converged, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			res.ID, i, it.Target, it.Reached, it.Converged, it.ReasonText()); err != nil {
			return fmt.Errorf("record batch %s item %d: %w", res.ID, i, err)
		}
		if _, err := tx.Exec(insertSetpoint,
			it.Kind.String(), it.Target, it.Reached, it.Converged, it.ReasonText(),
			it.Polls, int64(it.Elapsed), at.UnixNano(), res.ID); err != nil {
			return fmt.Errorf("record batch %s item %d: %w", res.ID, i, err)
		}
		at = at.Add(it.Elapsed)
	}
	return tx.Commit()
}

// Setpoints returns the most recent convergences, newest first. kind may be
// empty to include every kind.
func (db *DB) Setpoints(kind string, limit int) ([]SetpointEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT log_id, kind, target, reached, converged, reason, polls,
		elapsed_ns, recorded_unix_nanos, batch_id
		FROM setpoint_log
		WHERE ? = '' OR kind = ?
		ORDER BY recorded_unix_nanos DESC, log_id DESC
		LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []SetpointEntry{}
	for rows.Next() {
		var e SetpointEntry
		var elapsed, recorded int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Target, &e.Reached, &e.Converged, &e.Reason,
			&e.Polls, &elapsed, &recorded, &e.BatchID); err != nil {
			return nil, err
		}
		e.Elapsed = time.Duration(elapsed)
		e.Recorded = time.Unix(0, recorded).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Batches returns the most recent batches, newest first, without items.
func (db *DB) Batches(limit int) ([]BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT batch_id, kind, total, success, error, started_unix_nanos,
		elapsed_ns, mean_abs_error, max_abs_error
		FROM batch_runs
		ORDER BY started_unix_nanos DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []BatchRun{}
	for rows.Next() {
		var r BatchRun
		var started, elapsed int64
		if err := rows.Scan(&r.ID, &r.Kind, &r.Total, &r.Success, &r.Error, &started,
			&elapsed, &r.MeanAbsError, &r.MaxAbsError); err != nil {
			return nil, err
		}
		r.Started = time.Unix(0, started).UTC()
		r.Elapsed = time.Duration(elapsed)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Batch returns one batch with its items.
func (db *DB) Batch(id string) (*BatchRun, error) {
	var r BatchRun
	var started, elapsed int64
	err := db.QueryRow(`SELECT batch_id, kind, total, success, error, started_unix_nanos,
		elapsed_ns, mean_abs_error, max_abs_error
		FROM batch_runs WHERE batch_id = ?`, id).
		Scan(&r.ID, &r.Kind, &r.Total, &r.Success, &r.Error, &started,
			&elapsed, &r.MeanAbsError, &r.MaxAbsError)
	if err != nil {
		return nil, err
	}
	r.Started = time.Unix(0, started).UTC()
	r.Elapsed = time.Duration(elapsed)

	rows, err := db.Query(`SELECT item_index, target, reached, converged, reason
		FROM batch_items WHERE batch_id = ? ORDER BY item_index`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	r.Items = []BatchItem{}
	for rows.Next() {
		var it BatchItem
		if err := rows.Scan(&it.Index, &it.Target, &it.Reached, &it.Converged, &it.Reason); err != nil {
			return nil, err
		}
		r.Items = append(r.Items, it)
	}
	return &r, rows.Err()
}
