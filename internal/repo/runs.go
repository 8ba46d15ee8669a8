package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"crewjob/internal/domain"
)

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, res domain.JobResult, actorID string, automated bool) error {
	members, err := json.Marshal(res.MemberIDs)
	if err != nil {
		return err
	}
	auto := 0
	if automated {
		auto = 1
	}
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO job_runs(id,job_id,party_id,actor_id,member_ids_json,automated,completed_at) VALUES (?,?,?,?,?,?,?)`),
		res.RunID, res.JobID, nullable(res.PartyID), actorID, string(members), auto, formatTime(res.CompletedAt))
	return err
}

// CountRuns returns how many runs jobID has recorded.
func (r Repo) CountRuns(ctx context.Context, jobID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM job_runs WHERE job_id=?`), jobID).Scan(&n)
	return n, err
}

func (r Repo) UpsertAutoJob(ctx context.Context, tx *sql.Tx, playerID string, category domain.Category, jobID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO auto_jobs(player_id,category,job_id,updated_at) VALUES (?,?,?,?)
ON CONFLICT(player_id,category) DO UPDATE SET job_id=excluded.job_id, updated_at=excluded.updated_at`),
		playerID, string(category), jobID, formatTime(now))
	return err
}

// AutoJobs returns the player's automated job per category.
func (r Repo) AutoJobs(ctx context.Context, playerID string) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT category,job_id FROM auto_jobs WHERE player_id=?`), playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var cat, job string
		if err := rows.Scan(&cat, &job); err != nil {
			return nil, err
		}
		out[cat] = job
	}
	return out, rows.Err()
}
