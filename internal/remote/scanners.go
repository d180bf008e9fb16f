package remote

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// sqlTimestamp scans TIMESTAMP columns whether the driver hands back a
// time.Time or the raw text SQLite stored
type sqlTimestamp struct {
	Time time.Time
}

func (t *sqlTimestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v.UTC()
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

func (t *sqlTimestamp) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range []string{sqliteTimestampLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

// scanRow scans id, handle, score, recorded_at. A NULL score reads as 0,
// matching the REST adapter.
func scanRow(s scanner) (Row, error) {
	var row Row
	var handle sql.NullString
	var score sql.NullInt64
	var recordedAt sqlTimestamp
	if err := s.Scan(&row.ID, &handle, &score, &recordedAt); err != nil {
		return Row{}, err
	}
	row.Handle = handle.String
	row.Score = score.Int64
	row.RecordedAt = recordedAt.Time
	return row, nil
}

// scanRows drains rows into a slice
func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
