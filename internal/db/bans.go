package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// BanKind selects what a ban matches against.
type BanKind string

const (
	BanName BanKind = "name"
	BanIP   BanKind = "ip"
)

// ParseBanKind validates a ban kind string.
func ParseBanKind(s string) (BanKind, error) {
	switch BanKind(strings.ToLower(s)) {
	case BanName:
		return BanName, nil
	case BanIP:
		return BanIP, nil
	}
	return "", fmt.Errorf("unknown ban kind %q (want name or ip)", s)
}

// Ban is one entry of the ban list.
type Ban struct {
	ID        int64      `json:"id"`
	Kind      BanKind    `json:"kind"`
	Target    string     `json:"target"`
	Reason    string     `json:"reason"`
	Source    string     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the ban has lapsed at now.
func (b *Ban) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

// Message is the disconnect text shown to a banned player.
func (b *Ban) Message() string {
	msg := "You are banned from this server."
	if b.Reason != "" {
		msg += "\nReason: " + b.Reason
	}
	if b.ExpiresAt != nil {
		msg += "\nExpires: " + b.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")
	}
	return msg
}

// ErrBanNotFound is returned by Unban when no matching ban exists.
var ErrBanNotFound = errors.New("ban not found")

// BanList stores name and IP bans.
type BanList struct {
	db  *Database
	now func() time.Time
}

// NewBanList creates a ban list backed by database.
func NewBanList(database *Database) *BanList {
	return &BanList{db: database, now: time.Now}
}

// Ban adds or replaces a ban. A zero duration never expires.
func (l *BanList) Ban(ctx context.Context, kind BanKind, target, reason, source string, duration time.Duration) (*Ban, error) {
	target, err := normalizeTarget(kind, target)
	if err != nil {
		return nil, err
	}

	ban := &Ban{
		Kind:      kind,
		Target:    target,
		Reason:    reason,
		Source:    source,
		CreatedAt: l.now().UTC().Truncate(time.Second),
	}
	if duration > 0 {
		expires := ban.CreatedAt.Add(duration)
		ban.ExpiresAt = &expires
	}

	err = l.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM bans WHERE kind = ? AND target = ?", kind, target); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO bans (kind, target, reason, source, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			kind, target, reason, source, ban.CreatedAt, ban.ExpiresAt)
		if err != nil {
			return err
		}
		ban.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ban %s %s: %w", kind, target, err)
	}
	return ban, nil
}

// Unban removes the ban on target.
func (l *BanList) Unban(ctx context.Context, kind BanKind, target string) error {
	target, err := normalizeTarget(kind, target)
	if err != nil {
		return err
	}
	res, err := l.db.Exec(ctx, "DELETE FROM bans WHERE kind = ? AND target = ?", kind, target)
	if err != nil {
		return fmt.Errorf("failed to unban %s %s: %w", kind, target, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBanNotFound
	}
	return nil
}

// Lookup returns the active ban on target, or nil.
func (l *BanList) Lookup(ctx context.Context, kind BanKind, target string) (*Ban, error) {
	target, err := normalizeTarget(kind, target)
	if err != nil {
		return nil, err
	}
	row := l.db.QueryRow(ctx,
		`SELECT id, kind, target, reason, source, created_at, expires_at
		 FROM bans WHERE kind = ? AND target = ?`, kind, target)
	ban, err := scanBan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up ban: %w", err)
	}
	if ban.Expired(l.now()) {
		return nil, nil
	}
	return ban, nil
}

// Check returns the first active ban matching either the player name or
// the remote IP, or nil when the player may join.
func (l *BanList) Check(ctx context.Context, name, ip string) (*Ban, error) {
	if name != "" {
		ban, err := l.Lookup(ctx, BanName, name)
		if err != nil || ban != nil {
			return ban, err
		}
	}
	if ip != "" {
		return l.Lookup(ctx, BanIP, ip)
	}
	return nil, nil
}

// List returns all active bans, oldest first.
func (l *BanList) List(ctx context.Context) ([]Ban, error) {
	rows, err := l.db.Query(ctx,
		`SELECT id, kind, target, reason, source, created_at, expires_at
		 FROM bans ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}
	defer rows.Close()

	now := l.now()
	var bans []Ban
	for rows.Next() {
		ban, err := scanBan(rows)
		if err != nil {
			return nil, err
		}
		if !ban.Expired(now) {
			bans = append(bans, *ban)
		}
	}
	return bans, rows.Err()
}

// Prune deletes expired bans and returns how many were removed.
func (l *BanList) Prune(ctx context.Context) (int64, error) {
	res, err := l.db.Exec(ctx,
		"DELETE FROM bans WHERE expires_at IS NOT NULL AND expires_at <= ?", l.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBan(row rowScanner) (*Ban, error) {
	var (
		ban     Ban
		expires sql.NullTime
	)
	if err := row.Scan(&ban.ID, &ban.Kind, &ban.Target, &ban.Reason, &ban.Source,
		&ban.CreatedAt, &expires); err != nil {
		return nil, err
	}
	if expires.Valid {
		ban.ExpiresAt = &expires.Time
	}
	return &ban, nil
}

func normalizeTarget(kind BanKind, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", errors.New("ban target is empty")
	}
	switch kind {
	case BanName:
		return target, nil
	case BanIP:
		ip := net.ParseIP(target)
		if ip == nil {
			return "", fmt.Errorf("invalid IP address %q", target)
		}
		return ip.String(), nil
	}
	return "", fmt.Errorf("unknown ban kind %q", kind)
}
