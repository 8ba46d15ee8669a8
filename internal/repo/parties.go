package repo

import (
	"context"
	"database/sql"
	"time"

	"crewjob/internal/domain"
)

func (r Repo) InsertParty(ctx context.Context, tx *sql.Tx, p domain.Party) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO parties(id,job_id,owner_id,required_crew,created_at) VALUES (?,?,?,?,?)`),
		p.ID, p.JobID, p.OwnerID, p.RequiredCrew, formatTime(p.CreatedAt))
	return err
}

func (r Repo) DeleteParty(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM party_members WHERE party_id=?`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM parties WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertMember(ctx context.Context, tx *sql.Tx, partyID, playerID string, joinedAt time.Time) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO party_members(party_id,player_id,joined_at) VALUES (?,?,?)`),
		partyID, playerID, formatTime(joinedAt))
	return err
}

// DeleteMember removes playerID from partyID and reports whether a row was removed.
func (r Repo) DeleteMember(ctx context.Context, tx *sql.Tx, partyID, playerID string) (bool, error) {
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM party_members WHERE party_id=? AND player_id=?`), partyID, playerID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PartyIDForMember returns the party playerID belongs to, or ErrNotFound.
func (r Repo) PartyIDForMember(ctx context.Context, tx *sql.Tx, playerID string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, r.q(`SELECT party_id FROM party_members WHERE player_id=?`), playerID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

// MyParty returns the party playerID belongs to, or ErrNotFound.
func (r Repo) MyParty(ctx context.Context, playerID string) (domain.Party, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT party_id FROM party_members WHERE player_id=?`), playerID).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Party{}, ErrNotFound
	}
	if err != nil {
		return domain.Party{}, err
	}
	return r.getParty(ctx, r.DB, id, false)
}

func (r Repo) GetParty(ctx context.Context, id string) (domain.Party, error) {
	return r.getParty(ctx, r.DB, id, false)
}

// GetPartyForUpdate loads the party and locks its row for the rest of tx.
func (r Repo) GetPartyForUpdate(ctx context.Context, tx *sql.Tx, id string) (domain.Party, error) {
	return r.getParty(ctx, tx, id, true)
}

func (r Repo) getParty(ctx context.Context, q querier, id string, lock bool) (domain.Party, error) {
	query := `SELECT id,job_id,owner_id,required_crew,created_at FROM parties WHERE id=?`
	if lock {
		query += r.Dialect.ForUpdate()
	}
	var (
		p       domain.Party
		created string
	)
	err := q.QueryRowContext(ctx, r.q(query), id).Scan(&p.ID, &p.JobID, &p.OwnerID, &p.RequiredCrew, &created)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.CreatedAt = parseTime(created)
	crew, err := r.listCrew(ctx, q, []string{p.ID})
	if err != nil {
		return p, err
	}
	p.Crew = crew[p.ID]
	if p.Crew == nil {
		p.Crew = []domain.CrewMember{}
	}
	return p, nil
}

// ListPartiesForJob returns the parties formed for jobID, newest first.
func (r Repo) ListPartiesForJob(ctx context.Context, jobID string) ([]domain.Party, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,job_id,owner_id,required_crew,created_at FROM parties WHERE job_id=? ORDER BY created_at DESC, id DESC`), jobID)
	if err != nil {
		return nil, err
	}
	var (
		res []domain.Party
		ids []string
	)
	for rows.Next() {
		var (
			p       domain.Party
			created string
		)
		if err := rows.Scan(&p.ID, &p.JobID, &p.OwnerID, &p.RequiredCrew, &created); err != nil {
			rows.Close()
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		res = append(res, p)
		ids = append(ids, p.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	crew, err := r.listCrew(ctx, r.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Crew = crew[res[i].ID]
		if res[i].Crew == nil {
			res[i].Crew = []domain.CrewMember{}
		}
	}
	return res, nil
}

func (r Repo) listCrew(ctx context.Context, q querier, partyIDs []string) (map[string][]domain.CrewMember, error) {
	out := map[string][]domain.CrewMember{}
	for _, id := range partyIDs {
		rows, err := q.QueryContext(ctx, r.q(`SELECT m.player_id, COALESCE(p.name,''), COALESCE(p.level,0), m.joined_at
FROM party_members m LEFT JOIN players p ON p.id = m.player_id WHERE m.party_id=?`), id)
		if err != nil {
			return nil, err
		}
		var crew []domain.CrewMember
		for rows.Next() {
			var (
				m      domain.CrewMember
				joined string
			)
			if err := rows.Scan(&m.ID, &m.Name, &m.Level, &joined); err != nil {
				rows.Close()
				return nil, err
			}
			m.JoinedAt = parseTime(joined)
			crew = append(crew, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		domain.SortCrew(crew)
		out[id] = crew
	}
	return out, nil
}
