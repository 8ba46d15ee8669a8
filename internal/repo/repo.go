package repo

import (
	"context"
	"database/sql"
	"time"

	"crewjob/internal/db"
	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

func New(h db.Handle) Repo {
	return Repo{DB: h.DB, Dialect: h.Dialect}
}

var ErrNotFound = cjerrors.ErrNotFound

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

// Player is the stored player record.
type Player struct {
	domain.PlayerStats
	RestrictedUntil *time.Time
	CreatedAt       time.Time
}

// RestrictedFor returns the restriction time left at now, zero when unrestricted.
func (p Player) RestrictedFor(now time.Time) time.Duration {
	if p.RestrictedUntil == nil || !p.RestrictedUntil.After(now) {
		return 0
	}
	return p.RestrictedUntil.Sub(now)
}

// InsertPlayerIfMissing registers a player and reports whether a row was created.
func (r Repo) InsertPlayerIfMissing(ctx context.Context, tx *sql.Tx, p Player) (bool, error) {
	res, err := tx.ExecContext(ctx, r.q(`INSERT INTO players(id,name,level,energy,created_at) VALUES (?,?,?,?,?) ON CONFLICT(id) DO NOTHING`),
		p.ID, p.Name, p.Level, p.Energy, formatTime(p.CreatedAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetPlayer(ctx context.Context, id string) (Player, error) {
	return r.getPlayer(ctx, r.DB, id)
}

func (r Repo) GetPlayerTx(ctx context.Context, tx *sql.Tx, id string) (Player, error) {
	return r.getPlayer(ctx, tx, id)
}

func (r Repo) getPlayer(ctx context.Context, q querier, id string) (Player, error) {
	var (
		p          Player
		restricted sql.NullString
		created    string
	)
	err := q.QueryRowContext(ctx, r.q(`SELECT id,name,level,energy,restricted_until,created_at FROM players WHERE id=?`), id).
		Scan(&p.ID, &p.Name, &p.Level, &p.Energy, &restricted, &created)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.CreatedAt = parseTime(created)
	if restricted.Valid && restricted.String != "" {
		t := parseTime(restricted.String)
		p.RestrictedUntil = &t
	}
	return p, nil
}

// SpendEnergy deducts amount from every listed player. It fails without changes when any
// of them cannot afford it.
func (r Repo) SpendEnergy(ctx context.Context, tx *sql.Tx, amount int, playerIDs ...string) error {
	for _, id := range playerIDs {
		res, err := tx.ExecContext(ctx, r.q(`UPDATE players SET energy=energy-? WHERE id=? AND energy>=?`), amount, id, amount)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return cjerrors.Newf(cjerrors.CodeInsufficientEnergy, "player %s has not enough energy", id)
		}
	}
	return nil
}

func (r Repo) SetRestrictedUntil(ctx context.Context, tx *sql.Tx, playerID string, until time.Time) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE players SET restricted_until=? WHERE id=?`), formatTime(until), playerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertJob seeds or updates a catalog entry.
func (r Repo) UpsertJob(ctx context.Context, tx *sql.Tx, j domain.JobDefinition) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO jobs(id,name,required_crew,required_level,required_energy) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, required_crew=excluded.required_crew, required_level=excluded.required_level, required_energy=excluded.required_energy`),
		j.ID, j.Name, j.RequiredCrew, j.RequiredLevel, j.RequiredEnergy)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.JobDefinition, error) {
	return r.getJob(ctx, r.DB, id)
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.JobDefinition, error) {
	return r.getJob(ctx, tx, id)
}

func (r Repo) getJob(ctx context.Context, q querier, id string) (domain.JobDefinition, error) {
	var j domain.JobDefinition
	err := q.QueryRowContext(ctx, r.q(`SELECT id,name,required_crew,required_level,required_energy FROM jobs WHERE id=?`), id).
		Scan(&j.ID, &j.Name, &j.RequiredCrew, &j.RequiredLevel, &j.RequiredEnergy)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) ListJobs(ctx context.Context) ([]domain.JobDefinition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,required_crew,required_level,required_energy FROM jobs ORDER BY required_crew, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JobDefinition
	for rows.Next() {
		var j domain.JobDefinition
		if err := rows.Scan(&j.ID, &j.Name, &j.RequiredCrew, &j.RequiredLevel, &j.RequiredEnergy); err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
