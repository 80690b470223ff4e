package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/standoff/internal/pipeline"
)

// RunInfo describes the controller configuration a run was flown with.
type RunInfo struct {
	StartedAt time.Time
	RateHz    float64
	StandoffM float64
	Version   string
	// Config is stored as JSON alongside the run.
	Config interface{}
}

// Run is one row of the runs table.
type Run struct {
	ID         string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	RateHz     float64    `json:"rate_hz"`
	StandoffM  float64    `json:"standoff_m"`
	Version    string     `json:"version"`
	ConfigJSON string     `json:"config"`
	Ticks      int        `json:"ticks"`
}

// StartRun creates a run and returns its ID.
func (db *DB) StartRun(ctx context.Context, info RunInfo) (string, error) {
	cfg := []byte("{}")
	if info.Config != nil {
		var err error
		if cfg, err = json.Marshal(info.Config); err != nil {
			return "", fmt.Errorf("failed to encode run config: %w", err)
		}
	}
	started := info.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_unix, rate_hz, standoff_m, version, config_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, unixSeconds(started), info.RateHz, info.StandoffM, info.Version, string(cfg))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// EndRun stamps the end time of a run.
func (db *DB) EndRun(ctx context.Context, runID string, at time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE runs SET ended_unix = ? WHERE run_id = ?`, unixSeconds(at), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// Runs lists runs, newest first, with their tick counts.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.run_id, r.started_unix, r.ended_unix, r.rate_hz, r.standoff_m,
		       r.version, r.config_json, COUNT(t.seq)
		FROM runs r LEFT JOIN ticks t ON t.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_unix DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started float64
			ended   sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &started, &ended, &r.RateHz, &r.StandoffM, &r.Version, &r.ConfigJSON, &r.Ticks); err != nil {
			return nil, err
		}
		r.StartedAt = fromUnixSeconds(started)
		if ended.Valid {
			t := fromUnixSeconds(ended.Float64)
			r.EndedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// InsertTicks writes reports for runID in one transaction.
func (db *DB) InsertTicks(ctx context.Context, runID string, reports []pipeline.TickReport) error {
	if len(reports) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ticks (
			run_id, seq, tick_unix, mode,
			cmd_forward, cmd_top, cmd_bottom, cmd_vertical,
			vel_forward, vel_lateral, vel_vertical, yaw_rate, yaw,
			range_m, bearing_h, bearing_v, target_x, target_y, target_z,
			tracking_error, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range reports {
		c, s, p := r.Command, r.State, r.TargetPosition
		if _, err := stmt.ExecContext(ctx,
			runID, r.Seq, unixSeconds(r.Time), r.Mode.String(),
			c.Forward, c.Top, c.Bottom, c.Vertical,
			finite(s.Forward), finite(s.Lateral), finite(s.Vertical), finite(s.YawRate), finite(r.Yaw),
			finite(r.Range), finite(r.BearingHorizontal), finite(r.BearingVertical),
			finite(p.X), finite(p.Y), finite(p.Z),
			finite(r.TrackingError), r.Err,
		); err != nil {
			return fmt.Errorf("failed to insert tick %d: %w", r.Seq, err)
		}
	}
	return tx.Commit()
}

// TrackingErrors returns the tracking-error samples of a run in tick order.
// Samples stored as NULL (non-finite) are returned as +Inf.
func (db *DB) TrackingErrors(ctx context.Context, runID string) ([]float64, error) {
	rows, err := db.QueryContext(ctx, `SELECT tracking_error FROM ticks WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			out = append(out, v.Float64)
		} else {
			out = append(out, math.Inf(1))
		}
	}
	return out, rows.Err()
}

func finite(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
