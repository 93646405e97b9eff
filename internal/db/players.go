package db

import (
	"context"
	"fmt"
	"time"
)

// PlayerRecord is the stored history of one player identity.
type PlayerRecord struct {
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	LastIP    string    `json:"last_ip"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Joins     int       `json:"joins"`
}

// PlayerLog records which players have joined and when.
type PlayerLog struct {
	db *Database
}

// NewPlayerLog creates a player log backed by database.
func NewPlayerLog(database *Database) *PlayerLog {
	return &PlayerLog{db: database}
}

// RecordJoin upserts the player and bumps its join count.
func (p *PlayerLog) RecordJoin(ctx context.Context, uuid, name, ip string, at time.Time) error {
	at = at.UTC().Truncate(time.Second)
	_, err := p.db.Exec(ctx, `
		INSERT INTO players (uuid, name, last_ip, first_seen, last_seen, joins)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			last_ip = excluded.last_ip,
			last_seen = excluded.last_seen,
			joins = players.joins + 1`,
		uuid, name, ip, at, at)
	if err != nil {
		return fmt.Errorf("failed to record join for %s: %w", name, err)
	}
	return nil
}

// RecordLeave updates the last-seen time of a player.
func (p *PlayerLog) RecordLeave(ctx context.Context, uuid string, at time.Time) error {
	_, err := p.db.Exec(ctx, "UPDATE players SET last_seen = ? WHERE uuid = ?",
		at.UTC().Truncate(time.Second), uuid)
	return err
}

// Recent returns up to limit players ordered by most recently seen.
func (p *PlayerLog) Recent(ctx context.Context, limit int) ([]PlayerRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(ctx, `
		SELECT uuid, name, last_ip, first_seen, last_seen, joins
		FROM players ORDER BY last_seen DESC, name LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query players: %w", err)
	}
	defer rows.Close()

	var out []PlayerRecord
	for rows.Next() {
		var r PlayerRecord
		if err := rows.Scan(&r.UUID, &r.Name, &r.LastIP, &r.FirstSeen, &r.LastSeen, &r.Joins); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of distinct players ever seen.
func (p *PlayerLog) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRow(ctx, "SELECT COUNT(*) FROM players").Scan(&n)
	return n, err
}

// Prune removes players last seen before cutoff and returns how many went.
func (p *PlayerLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.Exec(ctx, "DELETE FROM players WHERE last_seen < ?", cutoff.UTC().Truncate(time.Second))
	if err != nil {
		return 0, fmt.Errorf("failed to prune players: %w", err)
	}
	return res.RowsAffected()
}
