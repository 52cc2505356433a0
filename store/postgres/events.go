package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/goGuard/store"
)

const eventColumns = `id::text, type, severity, user_id, ip, user_agent, device_id, metadata,
	occurred_at, resolved, resolved_at, resolved_by`

func (s *Store) AppendEvent(ctx context.Context, e store.SecurityEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO security_events
			(id, type, severity, user_id, ip, user_agent, device_id, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID,
		e.Type,
		int16(e.Severity),
		e.UserID,
		e.IP,
		e.UserAgent,
		e.DeviceID,
		raw,
		e.OccurredAt,
	)
	return err
}

func (s *Store) ResolveEvent(ctx context.Context, id, resolvedBy string, now time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrNotFound
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE security_events
		SET resolved = true, resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND NOT resolved`,
		id, now, resolvedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UnresolvedEvents(ctx context.Context, minSeverity store.Severity, limit int) ([]store.SecurityEvent, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM security_events
		WHERE NOT resolved AND severity >= $1
		ORDER BY occurred_at DESC
		LIMIT $2`,
		int16(minSeverity), limitOrAll(limit))
}

func (s *Store) EventsBySubject(ctx context.Context, userID string, since time.Time, limit int) ([]store.SecurityEvent, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM security_events
		WHERE user_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at DESC
		LIMIT $3`,
		userID, since, limitOrAll(limit))
}

func (s *Store) EventsByIP(ctx context.Context, ip string, since time.Time, limit int) ([]store.SecurityEvent, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM security_events
		WHERE ip = $1 AND occurred_at >= $2
		ORDER BY occurred_at DESC
		LIMIT $3`,
		ip, since, limitOrAll(limit))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]store.SecurityEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []store.SecurityEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func scanEvent(row pgx.Row) (store.SecurityEvent, error) {
	var (
		e          store.SecurityEvent
		severity   int16
		raw        []byte
		resolvedAt *time.Time
	)
	err := row.Scan(
		&e.ID,
		&e.Type,
		&severity,
		&e.UserID,
		&e.IP,
		&e.UserAgent,
		&e.DeviceID,
		&raw,
		&e.OccurredAt,
		&e.Resolved,
		&resolvedAt,
		&e.ResolvedBy,
	)
	if err != nil {
		return store.SecurityEvent{}, err
	}
	e.Severity = store.Severity(severity)
	e.ResolvedAt = fromNullTime(resolvedAt)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Metadata); err != nil {
			return store.SecurityEvent{}, fmt.Errorf("decode event metadata: %w", err)
		}
		if len(e.Metadata) == 0 {
			e.Metadata = nil
		}
	}
	return e, nil
}

func (s *Store) EventStats(ctx context.Context, since time.Time, topN int) (store.EventStats, error) {
	stats := store.EventStats{
		Since:      since,
		ByType:     make(map[string]int64),
		BySeverity: make(map[string]int64),
		TopIPs:     []store.IPCount{},
	}

	err := s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE NOT resolved)
		FROM security_events
		WHERE occurred_at >= $1`, since).Scan(&stats.Total, &stats.Unresolved)
	if err != nil {
		return store.EventStats{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT type, severity, count(*)
		FROM security_events
		WHERE occurred_at >= $1
		GROUP BY type, severity`, since)
	if err != nil {
		return store.EventStats{}, err
	}
	for rows.Next() {
		var (
			typ      string
			severity int16
			n        int64
		)
		if err := rows.Scan(&typ, &severity, &n); err != nil {
			rows.Close()
			return store.EventStats{}, err
		}
		stats.ByType[typ] += n
		stats.BySeverity[store.Severity(severity).String()] += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return store.EventStats{}, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT ip, count(*) AS n
		FROM security_events
		WHERE occurred_at >= $1 AND ip <> ''
		GROUP BY ip
		ORDER BY n DESC, ip ASC
		LIMIT $2`, since, limitOrAll(topN))
	if err != nil {
		return store.EventStats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c store.IPCount
		if err := rows.Scan(&c.IP, &c.Count); err != nil {
			return store.EventStats{}, err
		}
		stats.TopIPs = append(stats.TopIPs, c)
	}
	return stats, rows.Err()
}

func (s *Store) DeleteResolvedEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM security_events WHERE resolved AND occurred_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// limitOrAll maps a non-positive limit to NULL, which LIMIT treats as no
// limit.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
