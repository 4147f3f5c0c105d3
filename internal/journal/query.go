package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Fault is a journaled fault.
type Fault struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Time      time.Time `json:"time"`
}

// SessionRecord is a journaled session. EndedAt is nil while it is open.
type SessionRecord struct {
	ID        string     `json:"id"`
	Sensor    string     `json:"sensor"`
	Channel   int        `json:"channel"`
	Transport string     `json:"transport"`
	Version   string     `json:"version"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

// RecentFaults returns up to limit faults, newest first.
func (db *DB) RecentFaults(ctx context.Context, limit int) ([]Fault, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT fault_id, session_id, kind, detail, unix_nanos FROM faults ORDER BY fault_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query faults: %w", err)
	}
	defer rows.Close()

	faults := []Fault{}
	for rows.Next() {
		var f Fault
		var ns int64
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Kind, &f.Detail, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan fault: %w", err)
		}
		f.Time = time.Unix(0, ns).UTC()
		faults = append(faults, f)
	}
	return faults, rows.Err()
}

// Sessions returns up to limit sessions, newest first.
func (db *DB) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, sensor, channel, transport, version, started_unix_nanos, ended_unix_nanos, end_reason
		FROM sessions ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionRecord{}
	for rows.Next() {
		var s SessionRecord
		var started int64
		var ended sql.NullInt64
		var reason sql.NullString
		if err := rows.Scan(&s.ID, &s.Sensor, &s.Channel, &s.Transport, &s.Version, &started, &ended, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.StartedAt = time.Unix(0, started).UTC()
		if ended.Valid {
			t := time.Unix(0, ended.Int64).UTC()
			s.EndedAt = &t
		}
		s.EndReason = reason.String
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
