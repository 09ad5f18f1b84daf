package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/face-resolver/internal/database"
)

// StartRun inserts a run record in the running state.
func (s *Store) StartRun(ctx context.Context, revision int64) (int64, error) {
	return s.insertID(ctx, s.db, "start run",
		s.sb.Insert("resolution_runs").
			Columns("revision", "started_at", "status").
			Values(revision, now(), string(database.RunRunning)))
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, run database.RunRecord) error {
	finished := now()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	res, err := s.exec(ctx, s.db, "finish run",
		s.sb.Update("resolution_runs").
			SetMap(map[string]any{
				"finished_at":  finished,
				"status":       string(run.Status),
				"considered":   run.Considered,
				"suggested":    run.Suggested,
				"clustered":    run.Clustered,
				"new_clusters": run.NewClusters,
				"merged":       run.Merged,
				"unresolved":   run.Unresolved,
				"failed":       run.Failed,
			}).
			Where(sq.Eq{"id": run.ID}))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %d: %w", run.ID, database.ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]database.RunRecord, error) {
	q := s.sb.Select("id", "revision", "started_at", "finished_at", "status",
		"considered", "suggested", "clustered", "new_clusters", "merged", "unresolved", "failed").
		From("resolution_runs").
		OrderBy("id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, s.db, "list runs", q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []database.RunRecord{}
	for rows.Next() {
		var r database.RunRecord
		var finished sql.NullTime
		var status string
		if err := rows.Scan(&r.ID, &r.Revision, &r.StartedAt, &finished, &status,
			&r.Considered, &r.Suggested, &r.Clustered, &r.NewClusters, &r.Merged,
			&r.Unresolved, &r.Failed); err != nil {
			return nil, database.Unavailable("scan run", err)
		}
		r.Status = database.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable("iterate runs", err)
	}
	return runs, nil
}
